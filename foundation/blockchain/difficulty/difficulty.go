// Package difficulty maintains the PoW difficulty of the network and the
// hash ceiling a solution digest must stay under.
package difficulty

import (
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Bounds for the difficulty value.
const (
	Min uint64 = 14
	Max uint64 = 256
)

// Next returns the difficulty for the block after prev. The difficulty
// climbs by one when more than half of the blocks in the window were
// solved and drops by one otherwise.
func Next(prev uint64, solved int, window int) uint64 {
	next := prev
	switch {
	case solved > window/2:
		next++
	case next > 0:
		next--
	}

	return Clamp(next)
}

// Clamp keeps the difficulty within its bounds.
func Clamp(d uint64) uint64 {
	switch {
	case d < Min:
		return Min
	case d > Max:
		return Max
	}
	return d
}

// HashCeiling returns the maximum digest value that solves a block of the
// specified difficulty as a 32 byte big endian number. At the minimum
// difficulty the two most significant bytes are zero and every other bit
// is set. Each step of difficulty halves the ceiling.
func HashCeiling(d uint64) [32]byte {
	d = Clamp(d)

	ceiling := new(uint256.Int).Lsh(uint256.NewInt(1), 240)
	ceiling.SubUint64(ceiling, 1)
	ceiling.Rsh(ceiling, uint(d-Min))

	return ceiling.Bytes32()
}

// Verify reports whether the digest is at or below the ceiling.
func Verify(digest []byte, ceiling [32]byte) bool {
	if len(digest) != 32 {
		return false
	}

	v := new(uint256.Int).SetBytes32(digest)
	c := new(uint256.Int).SetBytes32(ceiling[:])

	return !v.Gt(c)
}

// =============================================================================

// Oracle computes the PoW digest for a solution. The search for a nonce
// happens outside the node, the node only checks the result.
type Oracle func(blockChecksum string, solver string, nonce string) []byte

// Keccak is the default oracle.
func Keccak(blockChecksum string, solver string, nonce string) []byte {
	return crypto.Keccak256([]byte(blockChecksum), []byte(solver), []byte(nonce))
}
