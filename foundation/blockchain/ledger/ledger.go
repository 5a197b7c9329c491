// Package ledger maintains the wallet state of the blockchain. Every balance
// and nonce on the network lives here, ordered by address so the state can
// be checksummed the same way on every node.
package ledger

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/btree"
	"github.com/hybridledger/dlt/foundation/blockchain/amount"
)

// Set of error variables for snapshot handling and balance updates.
var (
	ErrSnapshotOutstanding = errors.New("snapshot already outstanding")
	ErrNoSnapshot          = errors.New("no snapshot outstanding")
	ErrInsufficientFunds   = errors.New("insufficient funds")
)

// checksumSeed starts the checksum chain so an empty ledger still has a
// well known, non zero checksum.
const checksumSeed = "HYBRID-DLT-LEDGER"

// degree of the b-tree holding the wallets.
const degree = 32

// =============================================================================

// Wallet represents the consensus state for a single address.
type Wallet struct {
	Address   string        `json:"address"`
	Balance   amount.Amount `json:"balance"`
	Nonce     uint64        `json:"nonce"`
	PublicKey []byte        `json:"public_key,omitempty"`
	Data      []byte        `json:"data,omitempty"`
}

// Checksum returns the hash of the consensus relevant fields.
func (w Wallet) Checksum() []byte {
	var b bytes.Buffer
	b.WriteString(w.Address)
	b.WriteByte('|')
	b.WriteString(w.Balance.RawString())
	b.WriteByte('|')
	b.WriteString(strconv.FormatUint(w.Nonce, 10))
	b.WriteByte('|')
	b.Write(w.Data)

	sum := sha256.Sum256(b.Bytes())
	return sum[:]
}

func (w Wallet) clone() Wallet {
	w.PublicKey = bytes.Clone(w.PublicKey)
	w.Data = bytes.Clone(w.Data)
	return w
}

func less(a, b Wallet) bool {
	return a.Address < b.Address
}

// =============================================================================

// Ledger manages the set of wallets. It supports exactly one outstanding
// snapshot at a time which the consensus engine uses to dry run blocks.
type Ledger struct {
	mu       sync.RWMutex
	wallets  *btree.BTreeG[Wallet]
	snapshot *btree.BTreeG[Wallet]
}

// New constructs an empty ledger.
func New() *Ledger {
	return &Ledger{
		wallets: btree.NewG(degree, less),
	}
}

// NewFromBalances constructs a ledger with the specified starting balances
// expressed as decimal strings.
func NewFromBalances(balances map[string]string) (*Ledger, error) {
	l := New()
	if err := l.Reset(balances); err != nil {
		return nil, err
	}
	return l, nil
}

// Reset replaces the ledger contents with the starting balances and drops
// any outstanding snapshot.
func (l *Ledger) Reset(balances map[string]string) error {
	wallets := btree.NewG(degree, less)
	for addr, bal := range balances {
		a, err := amount.ParseStrict(bal)
		if err != nil {
			return fmt.Errorf("balance for %s: %w", addr, err)
		}
		wallets.ReplaceOrInsert(Wallet{Address: addr, Balance: a})
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.wallets = wallets
	l.snapshot = nil

	return nil
}

// =============================================================================

// Balance returns the balance for the address, zero if it's unknown.
func (l *Ledger) Balance(address string) amount.Amount {
	l.mu.RLock()
	defer l.mu.RUnlock()

	w, exists := l.wallets.Get(Wallet{Address: address})
	if !exists {
		return amount.Zero()
	}
	return w.Balance
}

// Nonce returns the last nonce applied for the address.
func (l *Ledger) Nonce(address string) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	w, _ := l.wallets.Get(Wallet{Address: address})
	return w.Nonce
}

// Wallet returns a copy of the wallet for the address.
func (l *Ledger) Wallet(address string) (Wallet, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	w, exists := l.wallets.Get(Wallet{Address: address})
	if !exists {
		return Wallet{}, false
	}
	return w.clone(), true
}

// SetBalance upserts the balance and nonce for the address.
func (l *Ledger) SetBalance(address string, balance amount.Amount, nonce uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, _ := l.wallets.Get(Wallet{Address: address})
	w.Address = address
	w.Balance = balance
	w.Nonce = nonce

	l.wallets.ReplaceOrInsert(w)
}

// SetWallet upserts the full wallet.
func (l *Ledger) SetWallet(w Wallet) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.wallets.ReplaceOrInsert(w.clone())
}

// SetNonce updates the nonce for the address.
func (l *Ledger) SetNonce(address string, nonce uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, _ := l.wallets.Get(Wallet{Address: address})
	w.Address = address
	w.Nonce = nonce

	l.wallets.ReplaceOrInsert(w)
}

// Credit adds the value to the balance of the address.
func (l *Ledger) Credit(address string, value amount.Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, _ := l.wallets.Get(Wallet{Address: address})

	bal, err := w.Balance.Add(value)
	if err != nil {
		return fmt.Errorf("credit %s: %w", address, err)
	}

	w.Address = address
	w.Balance = bal
	l.wallets.ReplaceOrInsert(w)

	return nil
}

// Debit removes the value from the balance of the address. A debit that
// would take the balance below zero is refused.
func (l *Ledger) Debit(address string, value amount.Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, _ := l.wallets.Get(Wallet{Address: address})

	bal, err := w.Balance.Sub(value)
	if err != nil {
		return fmt.Errorf("debit %s: %w", address, err)
	}

	if bal.Sign() < 0 {
		return fmt.Errorf("debit %s: %w: bal %s, needed %s", address, ErrInsufficientFunds, w.Balance, value)
	}

	w.Address = address
	w.Balance = bal
	l.wallets.ReplaceOrInsert(w)

	return nil
}

// =============================================================================

// Snapshot captures the current state so it can be restored with Revert.
func (l *Ledger) Snapshot() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.snapshot != nil {
		return ErrSnapshotOutstanding
	}

	l.snapshot = l.wallets.Clone()
	return nil
}

// Revert restores the state captured by Snapshot and discards the snapshot.
func (l *Ledger) Revert() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.snapshot == nil {
		return ErrNoSnapshot
	}

	l.wallets = l.snapshot
	l.snapshot = nil
	return nil
}

// Commit discards the snapshot and keeps the current state.
func (l *Ledger) Commit() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.snapshot == nil {
		return ErrNoSnapshot
	}

	l.snapshot = nil
	return nil
}

// HasSnapshot reports whether a snapshot is outstanding.
func (l *Ledger) HasSnapshot() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.snapshot != nil
}

// =============================================================================

// Checksum returns the deterministic hash of the wallet state. When
// useSnapshot is true and a snapshot is outstanding, the snapshot is hashed
// instead of the live state.
func (l *Ledger) Checksum(useSnapshot bool) string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	tree := l.wallets
	if useSnapshot && l.snapshot != nil {
		tree = l.snapshot
	}

	sum := sha256.Sum256([]byte(checksumSeed))
	tree.Ascend(func(w Wallet) bool {
		sum = sha256.Sum256(append(sum[:], w.Checksum()...))
		return true
	})

	return hexutil.Encode(sum[:])
}

// TotalSupply returns the sum of every balance. A sum that can't be
// represented returns amount.ErrOverflow.
func (l *Ledger) TotalSupply() (amount.Amount, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := amount.Zero()
	var err error
	l.wallets.Ascend(func(w Wallet) bool {
		total, err = total.Add(w.Balance)
		return err == nil
	})

	if err != nil {
		return amount.Zero(), fmt.Errorf("total supply: %w", err)
	}
	return total, nil
}

// Wallets returns a copy of every wallet ordered by address.
func (l *Ledger) Wallets() []Wallet {
	l.mu.RLock()
	defer l.mu.RUnlock()

	wallets := make([]Wallet, 0, l.wallets.Len())
	l.wallets.Ascend(func(w Wallet) bool {
		wallets = append(wallets, w.clone())
		return true
	})

	return wallets
}

// Count returns the number of wallets.
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.wallets.Len()
}

// =============================================================================

// Committed is a read only view of the ledger that ignores the changes made
// since an outstanding snapshot. Readers outside the consensus engine use it
// so they never see a block that is still being applied.
type Committed struct {
	l *Ledger
}

// Committed returns the committed view of the ledger.
func (l *Ledger) Committed() Committed {
	return Committed{l: l}
}

// Balance returns the committed balance for the address.
func (c Committed) Balance(address string) amount.Amount {
	w, exists := c.wallet(address)
	if !exists {
		return amount.Zero()
	}
	return w.Balance
}

// Nonce returns the committed nonce for the address.
func (c Committed) Nonce(address string) uint64 {
	w, _ := c.wallet(address)
	return w.Nonce
}

func (c Committed) wallet(address string) (Wallet, bool) {
	c.l.mu.RLock()
	defer c.l.mu.RUnlock()

	tree := c.l.wallets
	if c.l.snapshot != nil {
		tree = c.l.snapshot
	}

	return tree.Get(Wallet{Address: address})
}
