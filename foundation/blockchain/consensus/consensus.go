// Package consensus is the core API for the blockchain and implements all the
// business rules for proposing, verifying, signing and finalizing blocks.
// The engine owns a single candidate block slot and the ledger dry run
// cycle, both protected by the same lock.
package consensus

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hybridledger/dlt/foundation/blockchain/amount"
	"github.com/hybridledger/dlt/foundation/blockchain/database"
	"github.com/hybridledger/dlt/foundation/blockchain/difficulty"
	"github.com/hybridledger/dlt/foundation/blockchain/genesis"
	"github.com/hybridledger/dlt/foundation/blockchain/ledger"
	"github.com/hybridledger/dlt/foundation/blockchain/reward"
	"github.com/hybridledger/dlt/foundation/blockchain/signature"
	"github.com/prometheus/client_golang/prometheus"
)

// Set of error variables for engine operations.
var (
	ErrHalted           = errors.New("consensus engine halted")
	ErrSynchronizing    = errors.New("node is synchronizing")
	ErrCandidatePending = errors.New("candidate block already pending")
)

// Default timings used when the config leaves them unset.
const (
	defaultFetchTimeout        = 10 * time.Second
	defaultRebroadcastInterval = 5 * time.Second
	maxParkedBlocks            = 64
	bulkFetchThreshold         = 10
)

// EventHandler defines a function that is called when events
// occur in the processing of blocks.
type EventHandler func(v string, args ...any)

// =============================================================================

// Verdict is the outcome of verifying a block.
type Verdict int

// Set of verdicts.
const (
	Valid Verdict = iota
	Invalid
	Indeterminate
)

// String implements the fmt.Stringer interface for logging.
func (v Verdict) String() string {
	switch v {
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	case Indeterminate:
		return "indeterminate"
	}
	return "unknown"
}

// FatalError is reported when the ledger could not be restored to its last
// known good checksum. Block processing stops for good once it happens.
type FatalError struct {
	Height uint64
	Err    error
}

// Error implements the error interface.
func (fe *FatalError) Error() string {
	return fmt.Sprintf("fatal ledger failure at block %d: %s", fe.Height, fe.Err)
}

// Unwrap returns the underlying error.
func (fe *FatalError) Unwrap() error {
	return fe.Err
}

// =============================================================================

// TransactionSource is the transaction subsystem the engine consumes.
type TransactionSource interface {
	Lookup(id string) (database.Transaction, bool)
	Verify(tx database.Transaction) bool
	RequestFromNetwork(id string)
	RequestBulkForBlock(height uint64)
	AddPending(txs []database.Transaction)
	StoreAudit(txs []database.Transaction)
	Remove(ids []string)
	PickForBlock(n int) []database.Transaction
}

// Broadcaster shares blocks with the network and asks it for data the
// node is missing.
type Broadcaster interface {
	BroadcastNewBlock(block database.Block)
	BroadcastGetBlock(height uint64)
	BroadcastGetBlockTransactions(height uint64)
}

// Config represents the configuration required to start the engine. Halt
// is called with the engine locked and must not call back into it.
type Config struct {
	PrivateKey          *ecdsa.PrivateKey
	Genesis             genesis.Genesis
	Chain               *database.Chain
	Ledger              *ledger.Ledger
	Source              TransactionSource
	Broadcaster         Broadcaster
	Oracle              difficulty.Oracle
	Registerer          prometheus.Registerer
	FetchTimeout        time.Duration
	RebroadcastInterval time.Duration
	Now                 func() time.Time
	Halt                func(err error)
	OnBlockAccepted     func(block database.Block)
	EvHandler           EventHandler
}

// Engine manages the candidate block and drives it to finalization.
type Engine struct {
	key         *ecdsa.PrivateKey
	address     string
	genesis     genesis.Genesis
	chain       *database.Chain
	ledger      *ledger.Ledger
	source      TransactionSource
	broadcaster Broadcaster
	distributor *reward.Distributor
	oracle      difficulty.Oracle
	metrics     *metrics
	now         func() time.Time
	halt        func(err error)
	onAccepted  func(block database.Block)
	evHandler   EventHandler

	fetchTimeout        time.Duration
	rebroadcastInterval time.Duration

	mu              sync.Mutex
	candidate       *database.Block
	lastAdoption    time.Time
	lastRebroadcast time.Time
	parked          map[uint64]database.Block
	syncMode        bool
	syncTarget      uint64
	firstAfterSync  bool
	haltErr         error

	fetchMu      sync.Mutex
	txFetches    map[uint64]time.Time
	blockFetches map[uint64]time.Time
	freezeWant   map[uint64]string
}

// New constructs the engine and replays the chain in storage against the
// genesis balances to rebuild the ledger.
func New(cfg Config) (*Engine, error) {
	if cfg.PrivateKey == nil || cfg.Chain == nil || cfg.Ledger == nil || cfg.Source == nil || cfg.Broadcaster == nil {
		return nil, errors.New("consensus config is missing a required value")
	}

	ev := cfg.EvHandler
	if ev == nil {
		ev = func(v string, args ...any) {}
	}

	oracle := cfg.Oracle
	if oracle == nil {
		oracle = difficulty.Keccak
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	halt := cfg.Halt
	if halt == nil {
		halt = func(error) {}
	}

	onAccepted := cfg.OnBlockAccepted
	if onAccepted == nil {
		onAccepted = func(database.Block) {}
	}

	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeout
	}

	rebroadcastInterval := cfg.RebroadcastInterval
	if rebroadcastInterval <= 0 {
		rebroadcastInterval = defaultRebroadcastInterval
	}

	m, err := newMetrics(cfg.Registerer)
	if err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	e := Engine{
		key:                 cfg.PrivateKey,
		address:             signature.Address(cfg.PrivateKey),
		genesis:             cfg.Genesis,
		chain:               cfg.Chain,
		ledger:              cfg.Ledger,
		source:              cfg.Source,
		broadcaster:         cfg.Broadcaster,
		distributor:         reward.New(reward.ConfigFromGenesis(cfg.Genesis)),
		oracle:              oracle,
		metrics:             m,
		now:                 now,
		halt:                halt,
		onAccepted:          onAccepted,
		evHandler:           ev,
		fetchTimeout:        fetchTimeout,
		rebroadcastInterval: rebroadcastInterval,
		parked:              make(map[uint64]database.Block),
		txFetches:           make(map[uint64]time.Time),
		blockFetches:        make(map[uint64]time.Time),
		freezeWant:          make(map[uint64]string),
	}

	if err := e.replay(); err != nil {
		return nil, err
	}

	e.metrics.height.Set(float64(e.chain.Height()))
	e.metrics.difficulty.Set(float64(e.nextDifficulty()))

	return &e, nil
}

// replay resets the ledger to the genesis balances and applies every block
// in storage, checking each block's wallet state checksum along the way.
func (e *Engine) replay() error {
	e.evHandler("consensus: replay: started")
	defer e.evHandler("consensus: replay: completed")

	if err := e.ledger.Reset(e.genesis.Balances); err != nil {
		return fmt.Errorf("applying genesis balances: %w", err)
	}

	iter := e.chain.ForEach()
	for blockData, err := iter.Next(); !iter.Done(); blockData, err = iter.Next() {
		if err != nil {
			return err
		}

		block := blockData.Block

		txs := make(map[string]database.Transaction, len(blockData.Transactions))
		for _, tx := range blockData.Transactions {
			txs[tx.ID] = tx
		}

		var ordered []database.Transaction
		for _, id := range block.TransactionIDs {
			if database.IsStakingID(id) {
				continue
			}

			tx, exists := txs[id]
			if !exists {
				return fmt.Errorf("replay: block %d: missing transaction %s", block.Number, id)
			}
			ordered = append(ordered, tx)
		}

		res, err := e.applyBlock(block, ordered, ModeReplay)
		if err != nil {
			return fmt.Errorf("replay: block %d: %w", block.Number, err)
		}

		if cs := e.ledger.Checksum(false); cs != block.WalletStateChecksum {
			return fmt.Errorf("replay: block %d: wallet state checksum mismatch, got %s, exp %s", block.Number, cs, block.WalletStateChecksum)
		}

		for _, num := range res.Solved {
			e.chain.MarkSolved(num)
		}

		e.evHandler("consensus: replay: applied %s", block)
	}

	return nil
}

// =============================================================================

// Address returns the account address of this node.
func (e *Engine) Address() string {
	return e.address
}

// Genesis returns a copy of the genesis information.
func (e *Engine) Genesis() genesis.Genesis {
	return e.genesis
}

// Chain returns the canonical chain.
func (e *Engine) Chain() *database.Chain {
	return e.chain
}

// HasPendingCandidate reports whether a candidate block is held.
func (e *Engine) HasPendingCandidate() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.candidate != nil
}

// PendingCandidate returns a copy of the candidate block if one is held.
func (e *Engine) PendingCandidate() (database.Block, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.candidate == nil {
		return database.Block{}, false
	}
	return e.candidate.Clone(), true
}

// LastAdoption returns the time the current candidate was adopted or
// produced. The proposer uses it to pace its own proposals.
func (e *Engine) LastAdoption() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.lastAdoption
}

// CurrentDifficulty returns the difficulty required of the next block.
func (e *Engine) CurrentDifficulty() uint64 {
	return e.nextDifficulty()
}

// LedgerChecksum returns the checksum of the committed wallet state.
func (e *Engine) LedgerChecksum() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.ledger.Checksum(false)
}

// Balance returns the committed balance for the address.
func (e *Engine) Balance(address string) amount.Amount {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.ledger.Balance(address)
}

// Wallet returns the committed wallet for the address.
func (e *Engine) Wallet(address string) (ledger.Wallet, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.ledger.Wallet(address)
}

// Wallets returns every committed wallet.
func (e *Engine) Wallets() []ledger.Wallet {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.ledger.Wallets()
}

// TotalSupply returns the sum of every committed balance.
func (e *Engine) TotalSupply() (amount.Amount, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.ledger.TotalSupply()
}

// Halted returns the fatal error that stopped the engine, nil if it's
// still running.
func (e *Engine) Halted() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.haltErr
}

// Status describes the engine for diagnostics.
type Status struct {
	Height            uint64 `json:"height"`
	TipChecksum       string `json:"tip_checksum"`
	LedgerChecksum    string `json:"ledger_checksum"`
	Difficulty        uint64 `json:"difficulty"`
	RequiredConsensus int    `json:"required_consensus"`
	CandidateNumber   uint64 `json:"candidate_number,omitempty"`
	CandidateSigners  int    `json:"candidate_signers,omitempty"`
	Synchronizing     bool   `json:"synchronizing"`
	Halted            bool   `json:"halted"`
}

// Status returns the current status of the engine.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{
		Height:            e.chain.Height(),
		TipChecksum:       e.chain.TipChecksum(),
		LedgerChecksum:    e.ledger.Checksum(false),
		Difficulty:        e.nextDifficulty(),
		RequiredConsensus: e.requiredConsensus(),
		Synchronizing:     e.syncMode,
		Halted:            e.haltErr != nil,
	}

	if e.candidate != nil {
		st.CandidateNumber = e.candidate.Number
		st.CandidateSigners = e.candidate.UniqueSignatureCount()
	}

	return st
}

// =============================================================================

// nextDifficulty computes the difficulty the block after the tip must carry.
func (e *Engine) nextDifficulty() uint64 {
	tip := e.chain.Tip()
	if tip.Number == 0 {
		return difficulty.Clamp(e.genesis.Difficulty)
	}

	solved := e.chain.SolvedInWindow(tip.Number, e.genesis.RedactedWindowSize)
	return difficulty.Next(tip.Difficulty, solved, e.genesis.RedactedWindowSize)
}

// signatureFreeze returns the freeze value a block at the height must carry.
func (e *Engine) signatureFreeze(height uint64) (string, error) {
	if height <= database.FreezeOffset {
		return "", nil
	}

	target, err := e.chain.GetBlock(height - database.FreezeOffset)
	if err != nil {
		return "", err
	}

	return target.SignatureChecksum(), nil
}
