// Package txpool maintains the pool of transactions waiting to be included
// in a block. It also keeps recently finalized transactions and the staking
// reward audit trail around so blocks referencing them can be verified.
package txpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/hybridledger/dlt/foundation/blockchain/amount"
	"github.com/hybridledger/dlt/foundation/blockchain/database"
	"github.com/hybridledger/dlt/foundation/blockchain/txpool/selector"
)

// Set of error variables for pool operations.
var (
	ErrWrongChain        = errors.New("transaction is for a different chain")
	ErrNonceTooLow       = errors.New("transaction nonce is not above the account nonce")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNotAccepted       = errors.New("transaction type is not accepted from users")
)

// Default sizes and timings used when the config leaves them unset.
const (
	defaultRecentSize   = 10_000
	defaultAuditSize    = 10_000
	defaultFetchTimeout = 10 * time.Second
)

// EventHandler defines a function that is called when events
// occur in the processing of transactions.
type EventHandler func(v string, args ...any)

// LedgerReader is the view of the wallet state the pool validates against.
type LedgerReader interface {
	Nonce(address string) uint64
	Balance(address string) amount.Amount
}

// Fetcher retrieves transactions from the network.
type Fetcher interface {
	FetchTransaction(ctx context.Context, id string) (database.Transaction, error)
	FetchBlockTransactions(ctx context.Context, height uint64) ([]database.Transaction, error)
}

// Config represents the configuration required to start the pool.
type Config struct {
	ChainID      uint16
	Ledger       LedgerReader
	Fetcher      Fetcher
	Strategy     string
	RecentSize   int
	AuditSize    int
	FetchTimeout time.Duration
	EvHandler    EventHandler
}

// Pool represents a cache of pending transactions keyed by id with a second
// key on the sender and nonce.
type Pool struct {
	chainID      uint16
	ledger       LedgerReader
	fetcher      Fetcher
	selectFn     selector.Func
	fetchTimeout time.Duration
	evHandler    EventHandler

	mu        sync.RWMutex
	pending   map[string]database.Transaction
	fromNonce map[string]string
	staking   map[string]database.Transaction

	recent *lru.Cache
	audit  *lru.Cache

	fetchMu  sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// New constructs a new pool using the configured select strategy.
func New(cfg Config) (*Pool, error) {
	strategy := cfg.Strategy
	if strategy == "" {
		strategy = selector.StrategyFee
	}

	selectFn, err := selector.Retrieve(strategy)
	if err != nil {
		return nil, err
	}

	recentSize := cfg.RecentSize
	if recentSize <= 0 {
		recentSize = defaultRecentSize
	}

	auditSize := cfg.AuditSize
	if auditSize <= 0 {
		auditSize = defaultAuditSize
	}

	recent, err := lru.New(recentSize)
	if err != nil {
		return nil, err
	}

	audit, err := lru.New(auditSize)
	if err != nil {
		return nil, err
	}

	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeout
	}

	ev := cfg.EvHandler
	if ev == nil {
		ev = func(v string, args ...any) {}
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := Pool{
		chainID:      cfg.ChainID,
		ledger:       cfg.Ledger,
		fetcher:      cfg.Fetcher,
		selectFn:     selectFn,
		fetchTimeout: fetchTimeout,
		evHandler:    ev,
		pending:      make(map[string]database.Transaction),
		fromNonce:    make(map[string]string),
		staking:      make(map[string]database.Transaction),
		recent:       recent,
		audit:        audit,
		inflight:     make(map[string]struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}

	return &p, nil
}

// SetFetcher sets the network fetcher after construction. The network
// layer is usually built after the pool.
func (p *Pool) SetFetcher(fetcher Fetcher) {
	p.fetchMu.Lock()
	defer p.fetchMu.Unlock()

	p.fetcher = fetcher
}

// Shutdown cancels the outstanding network fetches and waits for them.
func (p *Pool) Shutdown() {
	p.cancel()
	p.wg.Wait()
}

// Count returns the current number of pending transactions.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.pending)
}

// Upsert validates a user transaction and adds it to the pool. A pending
// transaction from the same sender with the same nonce is replaced.
func (p *Pool) Upsert(tx database.Transaction) (int, error) {
	switch tx.Type {
	case database.TxNormal, database.TxPoWSolution:
	default:
		return 0, fmt.Errorf("%w: %s", ErrNotAccepted, tx.Type)
	}

	if err := p.check(tx); err != nil {
		return 0, err
	}

	if tx.Type == database.TxNormal {
		total, err := tx.Amount.Add(tx.Fee)
		if err != nil {
			return 0, err
		}
		if bal := p.ledger.Balance(tx.From); bal.Cmp(total) < 0 {
			return 0, fmt.Errorf("%w: balance %s, needed %s", ErrInsufficientFunds, bal, total)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.upsert(tx)

	return len(p.pending), nil
}

// upsert stores the transaction. The caller must hold the lock.
func (p *Pool) upsert(tx database.Transaction) {
	key := mapKey(tx)
	if old, exists := p.fromNonce[key]; exists && old != tx.ID {
		delete(p.pending, old)
	}

	p.pending[tx.ID] = tx
	p.fromNonce[key] = tx.ID
}

// delete moves a pending transaction to the recent cache. The caller must
// hold the lock.
func (p *Pool) delete(id string) {
	if tx, exists := p.pending[id]; exists {
		delete(p.pending, id)
		if p.fromNonce[mapKey(tx)] == id {
			delete(p.fromNonce, mapKey(tx))
		}
		p.recent.Add(id, tx)
		return
	}

	if tx, exists := p.staking[id]; exists {
		delete(p.staking, id)
		p.recent.Add(id, tx)
	}
}

// Pending returns a copy of the pending user transactions.
func (p *Pool) Pending() []database.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()

	txs := make([]database.Transaction, 0, len(p.pending))
	for _, tx := range p.pending {
		txs = append(txs, tx)
	}
	return txs
}

// PickBest uses the configured select strategy to return the next set of
// transactions for a block. Pass -1 for all the transactions.
func (p *Pool) PickBest(howMany int) []database.Transaction {
	m := make(map[string][]database.Transaction)

	p.mu.RLock()
	{
		for _, tx := range p.pending {
			m[tx.From] = append(m[tx.From], tx)
		}
	}
	p.mu.RUnlock()

	return p.selectFn(m, howMany)
}

// Audit returns the staking reward transaction kept in the audit trail.
func (p *Pool) Audit(id string) (database.Transaction, bool) {
	v, exists := p.audit.Get(id)
	if !exists {
		return database.Transaction{}, false
	}
	return v.(database.Transaction), true
}

// =============================================================================

// Lookup finds a transaction by id in the pending set, the staking set,
// the recently finalized cache and the audit trail.
func (p *Pool) Lookup(id string) (database.Transaction, bool) {
	p.mu.RLock()
	tx, exists := p.pending[id]
	if !exists {
		tx, exists = p.staking[id]
	}
	p.mu.RUnlock()

	if exists {
		return tx, true
	}

	if v, exists := p.recent.Get(id); exists {
		return v.(database.Transaction), true
	}

	return p.Audit(id)
}

// Verify reports whether the transaction can be applied on top of the
// committed wallet state.
func (p *Pool) Verify(tx database.Transaction) bool {
	if tx.Type == database.TxStakingReward {
		return database.IsStakingID(tx.ID) && tx.Validate() == nil
	}

	return p.check(tx) == nil
}

// check validates the transaction and its nonce.
func (p *Pool) check(tx database.Transaction) error {
	if tx.ChainID != p.chainID {
		return fmt.Errorf("%w: got %d, exp %d", ErrWrongChain, tx.ChainID, p.chainID)
	}

	if err := tx.Validate(); err != nil {
		return err
	}

	if nonce := p.ledger.Nonce(tx.From); tx.Nonce <= nonce {
		return fmt.Errorf("%w: got %d, account %d", ErrNonceTooLow, tx.Nonce, nonce)
	}

	return nil
}

// AddPending adds generated staking reward transactions so blocks carrying
// them can be resolved before they are finalized. Any other transaction is
// checked like one fetched from the network.
func (p *Pool) AddPending(txs []database.Transaction) {
	for _, tx := range txs {
		if tx.Type != database.TxStakingReward {
			p.store(tx)
			continue
		}

		p.mu.Lock()
		p.staking[tx.ID] = tx
		p.mu.Unlock()
	}
}

// Prune drops the pending transactions whose nonce the committed ledger has
// already passed. They were replaced by a transaction in a finalized block
// and can never be applied.
func (p *Pool) Prune() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	var dropped int
	for id, tx := range p.pending {
		if tx.Nonce <= p.ledger.Nonce(tx.From) {
			p.delete(id)
			dropped++
		}
	}

	if dropped > 0 {
		p.evHandler("txpool: Prune: dropped %d stale transactions", dropped)
	}

	return dropped
}

// StoreAudit records the staking rewards of a finalized block.
func (p *Pool) StoreAudit(txs []database.Transaction) {
	for _, tx := range txs {
		p.audit.Add(tx.ID, tx)
	}
}

// Remove drops the transactions of a finalized block from the pool.
func (p *Pool) Remove(ids []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, id := range ids {
		p.delete(id)
	}
}

// PickForBlock returns the transactions for the next proposed block.
func (p *Pool) PickForBlock(n int) []database.Transaction {
	return p.PickBest(n)
}

// =============================================================================

// RequestFromNetwork fetches a transaction from the network in the
// background. Only one fetch per id is outstanding at a time.
func (p *Pool) RequestFromNetwork(id string) {
	if !p.startFetch(id) {
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.endFetch(id)

		ctx, cancel := context.WithTimeout(p.ctx, p.fetchTimeout)
		defer cancel()

		tx, err := p.currentFetcher().FetchTransaction(ctx, id)
		if err != nil {
			p.evHandler("txpool: RequestFromNetwork: tx[%s]: ERROR: %s", id, err)
			return
		}

		p.store(tx)
	}()
}

// RequestBulkForBlock fetches every transaction of the block at the height
// from the network in the background.
func (p *Pool) RequestBulkForBlock(height uint64) {
	key := fmt.Sprintf("blk:%d", height)
	if !p.startFetch(key) {
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.endFetch(key)

		ctx, cancel := context.WithTimeout(p.ctx, p.fetchTimeout)
		defer cancel()

		txs, err := p.currentFetcher().FetchBlockTransactions(ctx, height)
		if err != nil {
			p.evHandler("txpool: RequestBulkForBlock: blk[%d]: ERROR: %s", height, err)
			return
		}

		for _, tx := range txs {
			p.store(tx)
		}
	}()
}

// StoreFetched keeps transactions delivered by the network. Each one goes
// through the same checks as a fetch made by the pool, so anything with a
// forged id or an invalid signature is dropped.
func (p *Pool) StoreFetched(txs []database.Transaction) {
	for _, tx := range txs {
		p.store(tx)
	}
}

// store keeps a transaction fetched from the network. Anything that can
// still be applied goes to the pending set, the rest is only kept for
// lookups.
func (p *Pool) store(tx database.Transaction) {
	if tx.ID != tx.CalculateID() {
		p.evHandler("txpool: store: tx[%s]: id does not match contents", tx.ID)
		return
	}

	switch {
	case tx.Type == database.TxStakingReward:
		p.audit.Add(tx.ID, tx)

	case p.check(tx) == nil:
		p.mu.Lock()
		p.upsert(tx)
		p.mu.Unlock()

	case tx.Validate() == nil:
		p.recent.Add(tx.ID, tx)

	default:
		p.evHandler("txpool: store: tx[%s]: invalid, dropped", tx.ID)
		return
	}

	p.evHandler("txpool: store: tx[%s]: fetched", tx.ID)
}

func (p *Pool) startFetch(key string) bool {
	p.fetchMu.Lock()
	defer p.fetchMu.Unlock()

	if p.fetcher == nil || p.ctx.Err() != nil {
		return false
	}

	if _, exists := p.inflight[key]; exists {
		return false
	}
	p.inflight[key] = struct{}{}

	return true
}

func (p *Pool) endFetch(key string) {
	p.fetchMu.Lock()
	defer p.fetchMu.Unlock()

	delete(p.inflight, key)
}

func (p *Pool) currentFetcher() Fetcher {
	p.fetchMu.Lock()
	defer p.fetchMu.Unlock()

	return p.fetcher
}

// =============================================================================

// mapKey is used to generate the sender and nonce key.
func mapKey(tx database.Transaction) string {
	return fmt.Sprintf("%s:%d", tx.From, tx.Nonce)
}
