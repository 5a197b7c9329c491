package signature_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/hybridledger/dlt/foundation/blockchain/signature"
)

const (
	pkHexKey = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"
	from     = "0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4"
	otherKey = "9f332e3700d8fc2446eaf6d15034cf96e0c2745e40353deef032a5dbf1dfed93"
)

// =============================================================================

func Test_Signing(t *testing.T) {
	checksum := signature.Checksum([]byte("block 101"))

	pk, err := crypto.HexToECDSA(pkHexKey)
	if err != nil {
		t.Fatalf("Should be able to generate a private key: %s", err)
	}

	sig, err := signature.Sign(checksum, pk)
	if err != nil {
		t.Fatalf("Should be able to sign data: %s", err)
	}

	if !signature.Verify(checksum, signature.PublicKey(pk), sig) {
		t.Fatalf("Should be able to verify the signature.")
	}

	addr, err := signature.FromAddress(checksum, sig)
	if err != nil {
		t.Fatalf("Should be able to generate from address: %s", err)
	}

	if from != addr {
		t.Logf("got: %s", addr)
		t.Logf("exp: %s", from)
		t.Fatalf("Should get back the right address.")
	}

	addr, err = signature.AddressFromPublicKey(signature.PublicKey(pk))
	if err != nil {
		t.Fatalf("Should be able to convert the public key: %s", err)
	}

	if from != addr {
		t.Logf("got: %s", addr)
		t.Logf("exp: %s", from)
		t.Fatalf("Should get back the right address from the public key.")
	}
}

func Test_VerifyWrongKey(t *testing.T) {
	checksum := signature.Checksum([]byte("block 101"))

	pk, err := crypto.HexToECDSA(pkHexKey)
	if err != nil {
		t.Fatalf("Should be able to generate a private key: %s", err)
	}

	other, err := crypto.HexToECDSA(otherKey)
	if err != nil {
		t.Fatalf("Should be able to generate a private key: %s", err)
	}

	sig, err := signature.Sign(checksum, pk)
	if err != nil {
		t.Fatalf("Should be able to sign data: %s", err)
	}

	if signature.Verify(checksum, signature.PublicKey(other), sig) {
		t.Fatalf("Should not verify against another public key.")
	}

	if signature.Verify(signature.Checksum([]byte("block 102")), signature.PublicKey(pk), sig) {
		t.Fatalf("Should not verify against another checksum.")
	}
}

func Test_Hash(t *testing.T) {
	value := struct {
		Name string
	}{
		Name: "Bill",
	}
	hash := "0x0f6887ac85101d6d6425a617edf35bd721b5f619fb92c36c3d2224e3bdb0ee5a"

	h := signature.Hash(value)
	if h != hash {
		t.Logf("got: %s", h)
		t.Logf("exp: %s", hash)
		t.Fatalf("Should get back the right hash: %s", h[:6])
	}

	if signature.Checksum([]byte("a"), []byte("b")) == signature.Checksum([]byte("ab")) {
		t.Fatalf("Should keep the parts apart when hashing.")
	}
	if signature.Checksum([]byte("ab"), []byte("c")) == signature.Checksum([]byte("a"), []byte("bc")) {
		t.Fatalf("Should keep the part boundaries when hashing.")
	}
}
