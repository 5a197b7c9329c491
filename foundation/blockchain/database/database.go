// Package database handles all the lower level support for maintaining the
// canonical chain of finalized blocks in storage.
package database

import (
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/hybridledger/dlt/foundation/blockchain/signature"
)

// Set of error variables for chain access.
var (
	ErrNotFound   = errors.New("block not found")
	ErrOutOfOrder = errors.New("block is out of order")
)

// defaultCacheSize is the number of recent blocks kept in memory.
const defaultCacheSize = 256

// Storage interface represents the behavior required to be implemented by any
// package providing support for storing and reading the blockchain.
type Storage interface {
	Write(blockData BlockData) error
	Rewrite(blockData BlockData) error
	GetBlock(num uint64) (BlockData, error)
	ForEach() Iterator
	Close() error
	Reset() error
}

// Iterator interface represents the behavior required to be implemented by any
// package providing support to iterate over the blocks.
type Iterator interface {
	Next() (BlockData, error)
	Done() bool
}

// =============================================================================

// Chain manages the append only chain of finalized blocks. Blocks are
// numbered from 1 and the chain never has gaps.
type Chain struct {
	mu      sync.RWMutex
	storage Storage
	cache   *lru.Cache
	latest  Block

	solvedMu sync.RWMutex
	solved   map[uint64]struct{}
}

// New constructs a chain over the storage and finds the latest block.
func New(storage Storage, cacheSize int) (*Chain, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}

	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("constructing block cache: %w", err)
	}

	c := Chain{
		storage: storage,
		cache:   cache,
		solved:  make(map[uint64]struct{}),
	}

	iter := storage.ForEach()
	for blockData, err := iter.Next(); !iter.Done(); blockData, err = iter.Next() {
		if err != nil {
			return nil, err
		}
		c.latest = blockData.Block
	}

	return &c, nil
}

// Close closes the underlying storage.
func (c *Chain) Close() error {
	return c.storage.Close()
}

// Reset clears the chain back to empty.
func (c *Chain) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.storage.Reset(); err != nil {
		return err
	}

	c.cache.Purge()
	c.latest = Block{}

	c.solvedMu.Lock()
	c.solved = make(map[uint64]struct{})
	c.solvedMu.Unlock()

	return nil
}

// Tip returns the latest block. The zero block is returned for an empty
// chain.
func (c *Chain) Tip() Block {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.latest.Clone()
}

// Height returns the number of the latest block.
func (c *Chain) Height() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.latest.Number
}

// TipChecksum returns the checksum the next block must link to.
func (c *Chain) TipChecksum() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.latest.Number == 0 {
		return signature.ZeroHash
	}
	return c.latest.BlockChecksum
}

// GetBlock returns the block at the specified height.
func (c *Chain) GetBlock(num uint64) (Block, error) {
	blockData, err := c.GetBlockData(num)
	if err != nil {
		return Block{}, err
	}
	return blockData.Block, nil
}

// GetBlockData returns the block and its transactions at the specified
// height.
func (c *Chain) GetBlockData(num uint64) (BlockData, error) {
	if num == 0 || num > c.Height() {
		return BlockData{}, ErrNotFound
	}

	if v, exists := c.cache.Get(num); exists {
		bd := v.(BlockData)
		bd.Block = bd.Block.Clone()
		return bd, nil
	}

	blockData, err := c.storage.GetBlock(num)
	if err != nil {
		return BlockData{}, fmt.Errorf("block %d: %w", num, err)
	}

	c.cache.Add(num, blockData)

	return blockData, nil
}

// Append writes the block as the new tip. The block must be the next
// number and link to the current tip.
func (c *Chain) Append(blockData BlockData) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	block := blockData.Block

	if block.Number != c.latest.Number+1 {
		return fmt.Errorf("%w: got %d, exp %d", ErrOutOfOrder, block.Number, c.latest.Number+1)
	}

	prev := signature.ZeroHash
	if c.latest.Number > 0 {
		prev = c.latest.BlockChecksum
	}
	if block.PrevBlockChecksum != prev {
		return fmt.Errorf("%w: block %d does not link to the tip", ErrOutOfOrder, block.Number)
	}

	if err := c.storage.Write(blockData); err != nil {
		return err
	}

	c.cache.Add(block.Number, blockData)
	c.latest = block.Clone()

	return nil
}

// ReplaceSignatures swaps the signature set of a finalized block. The
// signature freeze of later blocks is what decides which set is canonical.
func (c *Chain) ReplaceSignatures(num uint64, sigs []BlockSignature) error {
	blockData, err := c.GetBlockData(num)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	blockData.Block = blockData.Block.Clone()
	blockData.Block.Signatures = append([]BlockSignature(nil), sigs...)

	if err := c.storage.Rewrite(blockData); err != nil {
		return err
	}

	c.cache.Add(num, blockData)
	if c.latest.Number == num {
		c.latest = blockData.Block.Clone()
	}

	return nil
}

// ForEach returns an iterator to walk through all the blocks
// starting with block number 1.
func (c *Chain) ForEach() Iterator {
	return c.storage.ForEach()
}

// =============================================================================

// MarkSolved records that the PoW for the block at the height was solved.
func (c *Chain) MarkSolved(num uint64) {
	c.solvedMu.Lock()
	defer c.solvedMu.Unlock()

	c.solved[num] = struct{}{}
}

// IsSolved reports whether the PoW for the block at the height was solved.
func (c *Chain) IsSolved(num uint64) bool {
	c.solvedMu.RLock()
	defer c.solvedMu.RUnlock()

	_, exists := c.solved[num]
	return exists
}

// SolvedInWindow counts the solved blocks in the window ending at the
// specified height, and drops bookkeeping older than the window.
func (c *Chain) SolvedInWindow(upTo uint64, window int) int {
	c.solvedMu.Lock()
	defer c.solvedMu.Unlock()

	var from uint64 = 1
	if upTo > uint64(window) {
		from = upTo - uint64(window) + 1
	}

	var count int
	for num := range c.solved {
		switch {
		case num < from:
			delete(c.solved, num)
		case num <= upTo:
			count++
		}
	}

	return count
}
