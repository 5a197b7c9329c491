package database

import (
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/hybridledger/dlt/foundation/blockchain/signature"
)

// BlockVersion is the current version of the block layout.
const BlockVersion = 1

// FreezeOffset is how many heights back a block's signature freeze reaches.
const FreezeOffset = 5

// BlockSignature is a single node's signature over a block checksum.
type BlockSignature struct {
	PublicKey string `json:"public_key"`
	Signature string `json:"signature"`
}

// Block represents a ledger transition agreed on by the network.
type Block struct {
	Number                  uint64           `json:"number"`
	Version                 int              `json:"version"`
	TimeStamp               uint64           `json:"timestamp"`
	TransactionIDs          []string         `json:"transaction_ids"`
	Signatures              []BlockSignature `json:"signatures"`
	PrevBlockChecksum       string           `json:"prev_block_checksum"`
	BlockChecksum           string           `json:"block_checksum"`
	WalletStateChecksum     string           `json:"wallet_state_checksum"`
	SignatureFreezeChecksum string           `json:"signature_freeze_checksum"`
	Difficulty              uint64           `json:"difficulty"`
	PowField                string           `json:"pow_field,omitempty"`
}

// CalculateChecksum returns the hash over the header fields and the
// transaction set. Signatures are not part of it so peers can keep adding
// signatures to the same block.
func (b Block) CalculateChecksum() string {
	num := make([]byte, 8)
	binary.BigEndian.PutUint64(num, b.Number)

	diff := make([]byte, 8)
	binary.BigEndian.PutUint64(diff, b.Difficulty)

	ts := make([]byte, 8)
	binary.BigEndian.PutUint64(ts, b.TimeStamp)

	ver := make([]byte, 8)
	binary.BigEndian.PutUint64(ver, uint64(b.Version))

	parts := [][]byte{num, ver, ts}
	for _, id := range b.TransactionIDs {
		parts = append(parts, []byte(id))
	}
	parts = append(parts,
		[]byte(b.PrevBlockChecksum),
		[]byte(b.WalletStateChecksum),
		[]byte(b.SignatureFreezeChecksum),
		diff,
	)

	return signature.Checksum(parts...)
}

// SignatureChecksum returns the hash of the signature set. The set is
// sorted first so the order signatures arrived in doesn't matter.
func (b Block) SignatureChecksum() string {
	sigs := slices.Clone(b.Signatures)
	sort.Slice(sigs, func(i, j int) bool {
		return sigs[i].PublicKey < sigs[j].PublicKey
	})

	parts := make([][]byte, 0, 2*len(sigs))
	for _, sig := range sigs {
		parts = append(parts, []byte(sig.PublicKey), []byte(sig.Signature))
	}

	return signature.Checksum(parts...)
}

// =============================================================================

// ApplySignature signs the block with the private key. It returns false if
// the key already signed this block.
func (b *Block) ApplySignature(privateKey *ecdsa.PrivateKey) (bool, error) {
	pub := signature.PublicKey(privateKey)
	if b.hasPublicKey(pub) {
		return false, nil
	}

	sig, err := signature.Sign(b.BlockChecksum, privateKey)
	if err != nil {
		return false, err
	}

	b.Signatures = append(b.Signatures, BlockSignature{PublicKey: pub, Signature: sig})
	return true, nil
}

// AddSignaturesFrom folds the valid signatures of another copy of the same
// block into this one. Signatures are merged by signer, so the number
// returned is the count of new signers.
func (b *Block) AddSignaturesFrom(other Block) int {
	if other.BlockChecksum != b.BlockChecksum {
		return 0
	}

	signers := make(map[string]struct{})
	for _, addr := range b.SignerAddresses() {
		signers[addr] = struct{}{}
	}

	var added int
	for _, sig := range other.Signatures {
		if b.hasPublicKey(sig.PublicKey) {
			continue
		}

		if !signature.Verify(b.BlockChecksum, sig.PublicKey, sig.Signature) {
			continue
		}

		addr, err := signature.AddressFromPublicKey(sig.PublicKey)
		if err != nil {
			continue
		}
		if _, exists := signers[addr]; exists {
			continue
		}
		signers[addr] = struct{}{}

		b.Signatures = append(b.Signatures, sig)
		added++
	}

	return added
}

// HasSignatureFrom reports whether the address has a valid signature on
// the block.
func (b Block) HasSignatureFrom(address string) bool {
	return slices.Contains(b.SignerAddresses(), address)
}

// UniqueSignatureCount returns the number of distinct signers with a valid
// signature on the block.
func (b Block) UniqueSignatureCount() int {
	return len(b.SignerAddresses())
}

// SignerAddresses returns the sorted addresses of the distinct signers with
// a valid signature on the block.
func (b Block) SignerAddresses() []string {
	seen := make(map[string]struct{}, len(b.Signatures))
	for _, sig := range b.Signatures {
		if !signature.Verify(b.BlockChecksum, sig.PublicKey, sig.Signature) {
			continue
		}

		addr, err := signature.AddressFromPublicKey(sig.PublicKey)
		if err != nil {
			continue
		}
		seen[addr] = struct{}{}
	}

	addrs := make([]string, 0, len(seen))
	for addr := range seen {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	return addrs
}

// VerifySignatures reports whether every signature on the block is valid.
func (b Block) VerifySignatures() bool {
	for _, sig := range b.Signatures {
		if !signature.Verify(b.BlockChecksum, sig.PublicKey, sig.Signature) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the block.
func (b Block) Clone() Block {
	b.TransactionIDs = slices.Clone(b.TransactionIDs)
	b.Signatures = slices.Clone(b.Signatures)
	return b
}

// String implements the fmt.Stringer interface for logging.
func (b Block) String() string {
	cs := b.BlockChecksum
	if len(cs) > 10 {
		cs = cs[:10]
	}
	return fmt.Sprintf("blk[%d]:%s", b.Number, cs)
}

// ValidSignatures returns a copy of the block keeping only the valid
// signatures, one per signer.
func (b Block) ValidSignatures() Block {
	nb := b.Clone()
	nb.Signatures = nil

	seen := make(map[string]struct{}, len(b.Signatures))
	for _, sig := range b.Signatures {
		if !signature.Verify(b.BlockChecksum, sig.PublicKey, sig.Signature) {
			continue
		}

		addr, err := signature.AddressFromPublicKey(sig.PublicKey)
		if err != nil {
			continue
		}

		if _, exists := seen[addr]; exists {
			continue
		}
		seen[addr] = struct{}{}

		nb.Signatures = append(nb.Signatures, sig)
	}

	return nb
}

func (b Block) hasPublicKey(pub string) bool {
	for _, sig := range b.Signatures {
		if strings.EqualFold(sig.PublicKey, pub) {
			return true
		}
	}
	return false
}

// =============================================================================

// BlockData represents what is written to storage and sent over the network:
// the block along with the transactions it references.
type BlockData struct {
	Block        Block         `json:"block"`
	Transactions []Transaction `json:"transactions"`
}
