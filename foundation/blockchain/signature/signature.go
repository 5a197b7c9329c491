// Package signature provides helper functions for handling the blockchain
// hashing and signature needs.
package signature

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ZeroHash represents a hash code of zeros.
const ZeroHash string = "0x0000000000000000000000000000000000000000000000000000000000000000"

// ZeroAddress is the sentinel address used as the sender of minted value.
const ZeroAddress string = "0x0000000000000000000000000000000000000000"

// =============================================================================

// Hash returns a unique string for the value.
func Hash(value any) string {
	data, err := json.Marshal(value)
	if err != nil {
		return ZeroHash
	}

	hash := sha256.Sum256(data)
	return hexutil.Encode(hash[:])
}

// Checksum hashes the provided parts. Each part is preceded by its length
// so the same bytes split differently never produce the same checksum.
func Checksum(parts ...[]byte) string {
	h := sha256.New()

	size := make([]byte, 8)
	for _, p := range parts {
		binary.BigEndian.PutUint64(size, uint64(len(p)))
		h.Write(size)
		h.Write(p)
	}

	return hexutil.Encode(h.Sum(nil))
}

// Sign uses the specified private key to sign the checksum. The checksum
// is stamped before signing so signatures produced here can't be replayed
// as signatures over other kinds of messages.
func Sign(checksum string, privateKey *ecdsa.PrivateKey) (string, error) {
	data := stamp(checksum)

	sig, err := crypto.Sign(data, privateKey)
	if err != nil {
		return "", err
	}

	// Check the public key extracted from the data and signature.
	publicKey, err := crypto.SigToPub(data, sig)
	if err != nil {
		return "", err
	}

	rs := sig[:crypto.RecoveryIDOffset]
	if !crypto.VerifySignature(crypto.FromECDSAPub(publicKey), data, rs) {
		return "", errors.New("invalid signature")
	}

	return hexutil.Encode(sig), nil
}

// Verify checks the signature was produced over the checksum by the owner
// of the specified public key.
func Verify(checksum string, publicKey string, sig string) bool {
	pub, err := hexutil.Decode(publicKey)
	if err != nil {
		return false
	}

	sigBytes, err := hexutil.Decode(sig)
	if err != nil || len(sigBytes) != crypto.SignatureLength {
		return false
	}

	// Check the recovery id is either 0 or 1.
	if v := sigBytes[crypto.RecoveryIDOffset]; v != 0 && v != 1 {
		return false
	}

	return crypto.VerifySignature(pub, stamp(checksum), sigBytes[:crypto.RecoveryIDOffset])
}

// FromAddress extracts the address for the account that signed the checksum.
func FromAddress(checksum string, sig string) (string, error) {
	sigBytes, err := hexutil.Decode(sig)
	if err != nil {
		return "", err
	}

	publicKey, err := crypto.SigToPub(stamp(checksum), sigBytes)
	if err != nil {
		return "", err
	}

	return crypto.PubkeyToAddress(*publicKey).String(), nil
}

// PublicKey returns the uncompressed public key for the private key as hex.
func PublicKey(privateKey *ecdsa.PrivateKey) string {
	return hexutil.Encode(crypto.FromECDSAPub(&privateKey.PublicKey))
}

// Address returns the account address for the private key.
func Address(privateKey *ecdsa.PrivateKey) string {
	return crypto.PubkeyToAddress(privateKey.PublicKey).String()
}

// AddressFromPublicKey converts a hex encoded public key into its address.
func AddressFromPublicKey(publicKey string) (string, error) {
	pub, err := hexutil.Decode(publicKey)
	if err != nil {
		return "", err
	}

	pk, err := crypto.UnmarshalPubkey(pub)
	if err != nil {
		return "", err
	}

	return crypto.PubkeyToAddress(*pk).String(), nil
}

// =============================================================================

// stamp returns a hash of 32 bytes that represents the checksum with
// the ledger stamp embedded into the final hash.
func stamp(checksum string) []byte {
	hash := crypto.Keccak256([]byte(checksum))

	stamp := []byte("\x19Hybrid Ledger Signed Message:\n32")

	return crypto.Keccak256(stamp, hash)
}
