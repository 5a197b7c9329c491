package txpool_test

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/hybridledger/dlt/foundation/blockchain/amount"
	"github.com/hybridledger/dlt/foundation/blockchain/database"
	"github.com/hybridledger/dlt/foundation/blockchain/ledger"
	"github.com/hybridledger/dlt/foundation/blockchain/signature"
	"github.com/hybridledger/dlt/foundation/blockchain/txpool"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func key(t *testing.T, i int) *ecdsa.PrivateKey {
	pk, err := crypto.HexToECDSA(fmt.Sprintf("%064x", i))
	if err != nil {
		t.Fatalf("Should be able to generate a private key: %s", err)
	}
	return pk
}

func transfer(t *testing.T, from *ecdsa.PrivateKey, nonce uint64, value string, fee string) database.Transaction {
	tx := database.Transaction{
		Type:    database.TxNormal,
		ChainID: 1,
		To:      "0xbEE6ACE826eC3DE1B6349888B9151B92522F7F76",
		Amount:  amount.Parse(value),
		Fee:     amount.Parse(fee),
		Nonce:   nonce,
	}

	signed, err := tx.Sign(from)
	if err != nil {
		t.Fatalf("Should be able to sign the transaction: %s", err)
	}
	return signed
}

type fetcher struct {
	mu    sync.Mutex
	txs   map[string]database.Transaction
	calls int
	done  chan struct{}
}

func (f *fetcher) FetchTransaction(ctx context.Context, id string) (database.Transaction, error) {
	f.mu.Lock()
	f.calls++
	tx, exists := f.txs[id]
	f.mu.Unlock()

	defer func() { f.done <- struct{}{} }()

	if !exists {
		return database.Transaction{}, errors.New("not found")
	}
	return tx, nil
}

func (f *fetcher) FetchBlockTransactions(ctx context.Context, height uint64) ([]database.Transaction, error) {
	return nil, errors.New("not supported")
}

func newPool(t *testing.T, l *ledger.Ledger) *txpool.Pool {
	pool, err := txpool.New(txpool.Config{ChainID: 1, Ledger: l})
	if err != nil {
		t.Fatalf("Should be able to construct the pool: %s", err)
	}
	return pool
}

// =============================================================================

func TestUpsert(t *testing.T) {
	pk := key(t, 1)
	from := signature.Address(pk)

	l := ledger.New()
	l.SetBalance(from, amount.New(100), 3)

	type table struct {
		name  string
		tx    database.Transaction
		exp   error
		count int
	}

	tt := []table{
		{name: "valid", tx: transfer(t, pk, 4, "10", "1"), count: 1},
		{name: "replace", tx: transfer(t, pk, 4, "10", "2"), count: 1},
		{name: "next", tx: transfer(t, pk, 5, "10", "1"), count: 2},
		{name: "stale-nonce", tx: transfer(t, pk, 3, "10", "1"), exp: txpool.ErrNonceTooLow},
		{name: "overdraft", tx: transfer(t, pk, 6, "100", "1"), exp: txpool.ErrInsufficientFunds},
		{name: "staking", tx: database.NewStakingReward(1, from, amount.New(1), 20, 14, 0), exp: txpool.ErrNotAccepted},
	}

	pool := newPool(t, l)

	t.Log("Given the need to validate transactions entering the pool.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				t.Logf("\tTest %d:\tWhen adding a %s transaction.", testID, tst.name)
				{
					count, err := pool.Upsert(tst.tx)

					if tst.exp != nil {
						if !errors.Is(err, tst.exp) {
							t.Fatalf("\t%s\tTest %d:\tShould get %v, got %v", failed, testID, tst.exp, err)
						}
						t.Logf("\t%s\tTest %d:\tShould refuse the transaction.", success, testID)
						return
					}

					if err != nil {
						t.Fatalf("\t%s\tTest %d:\tShould accept the transaction: %s", failed, testID, err)
					}
					if count != tst.count {
						t.Fatalf("\t%s\tTest %d:\tShould hold %d transactions, got %d", failed, testID, tst.count, count)
					}
					t.Logf("\t%s\tTest %d:\tShould accept the transaction.", success, testID)
				}
			}

			t.Run(tst.name, f)
		}
	}
}

func TestLifecycle(t *testing.T) {
	pk := key(t, 1)
	from := signature.Address(pk)

	l := ledger.New()
	l.SetBalance(from, amount.New(100), 0)

	pool := newPool(t, l)

	t.Log("Given the need to track transactions through finalization.")
	{
		t.Logf("\tTest 0:\tWhen a block finalizes pending and staking transactions.")
		{
			tx := transfer(t, pk, 1, "10", "1")
			if _, err := pool.Upsert(tx); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould accept the transaction: %s", failed, err)
			}

			stake := database.NewStakingReward(1, from, amount.New(1), 20, 14, 0)
			pool.AddPending([]database.Transaction{stake})

			if picked := pool.PickForBlock(10); len(picked) != 1 || picked[0].ID != tx.ID {
				t.Fatalf("\t%s\tTest 0:\tShould only pick user transactions.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould only pick user transactions.", success)

			if !pool.Verify(stake) || !pool.Verify(tx) {
				t.Fatalf("\t%s\tTest 0:\tShould verify both transactions.", failed)
			}

			pool.Remove([]string{tx.ID, stake.ID})
			pool.StoreAudit([]database.Transaction{stake})

			if pool.Count() != 0 {
				t.Fatalf("\t%s\tTest 0:\tShould drop finalized transactions.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould drop finalized transactions.", success)

			if _, exists := pool.Lookup(tx.ID); !exists {
				t.Fatalf("\t%s\tTest 0:\tShould still find the finalized transaction.", failed)
			}
			if _, exists := pool.Audit(stake.ID); !exists {
				t.Fatalf("\t%s\tTest 0:\tShould keep the staking reward in the audit trail.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould keep finalized transactions for lookups.", success)
		}
	}
}

func TestRequestFromNetwork(t *testing.T) {
	pk := key(t, 1)
	from := signature.Address(pk)

	l := ledger.New()
	l.SetBalance(from, amount.New(100), 0)

	tx := transfer(t, pk, 1, "10", "1")

	f := fetcher{
		txs:  map[string]database.Transaction{tx.ID: tx},
		done: make(chan struct{}, 1),
	}

	pool, err := txpool.New(txpool.Config{ChainID: 1, Ledger: l, Fetcher: &f})
	if err != nil {
		t.Fatalf("Should be able to construct the pool: %s", err)
	}
	defer pool.Shutdown()

	t.Log("Given the need to fetch a transaction a block references.")
	{
		t.Logf("\tTest 0:\tWhen the transaction is known to a peer.")
		{
			pool.RequestFromNetwork(tx.ID)

			select {
			case <-f.done:
			case <-time.After(5 * time.Second):
				t.Fatalf("\t%s\tTest 0:\tShould call the fetcher.", failed)
			}

			deadline := time.Now().Add(5 * time.Second)
			for {
				if _, exists := pool.Lookup(tx.ID); exists {
					break
				}
				if time.Now().After(deadline) {
					t.Fatalf("\t%s\tTest 0:\tShould store the fetched transaction.", failed)
				}
				time.Sleep(10 * time.Millisecond)
			}
			t.Logf("\t%s\tTest 0:\tShould store the fetched transaction.", success)
		}
	}
}

func TestStoreFetched(t *testing.T) {
	pk := key(t, 1)
	from := signature.Address(pk)

	l := ledger.New()
	l.SetBalance(from, amount.New(100), 0)

	pool := newPool(t, l)

	good := transfer(t, pk, 1, "10", "1")

	forged := transfer(t, pk, 2, "10", "1")
	forged.Amount = amount.New(90)
	forged.ID = forged.CalculateID()

	mismatched := transfer(t, pk, 3, "10", "1")
	mismatched.Fee = amount.New(0)

	t.Log("Given the need to keep only valid transactions delivered by peers.")
	{
		t.Logf("\tTest 0:\tWhen a peer returns valid and tampered transactions.")
		{
			pool.StoreFetched([]database.Transaction{good, forged, mismatched})

			if _, exists := pool.Lookup(good.ID); !exists {
				t.Fatalf("\t%s\tTest 0:\tShould keep the valid transaction.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould keep the valid transaction.", success)

			if _, exists := pool.Lookup(forged.ID); exists {
				t.Fatalf("\t%s\tTest 0:\tShould drop the transaction with a bad signature.", failed)
			}
			if _, exists := pool.Lookup(mismatched.ID); exists {
				t.Fatalf("\t%s\tTest 0:\tShould drop the transaction with a stale id.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould drop the tampered transactions.", success)

			if pool.Count() != 1 {
				t.Fatalf("\t%s\tTest 0:\tShould hold 1 pending transaction, got %d", failed, pool.Count())
			}
			t.Logf("\t%s\tTest 0:\tShould hold 1 pending transaction.", success)
		}

		t.Logf("\tTest 1:\tWhen a forged user transaction is added with the staking rewards.")
		{
			pool.AddPending([]database.Transaction{forged})

			if _, exists := pool.Lookup(forged.ID); exists {
				t.Fatalf("\t%s\tTest 1:\tShould drop the forged transaction.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould drop the forged transaction.", success)
		}
	}
}

func TestCommittedView(t *testing.T) {
	pk := key(t, 1)
	from := signature.Address(pk)

	l := ledger.New()
	l.SetBalance(from, amount.New(100), 3)

	pool, err := txpool.New(txpool.Config{ChainID: 1, Ledger: l.Committed()})
	if err != nil {
		t.Fatalf("Should be able to construct the pool: %s", err)
	}

	t.Log("Given the need to validate against finalized state while a block is applied.")
	{
		t.Logf("\tTest 0:\tWhen the ledger holds speculative changes.")
		{
			if err := l.Snapshot(); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould take a snapshot: %s", failed, err)
			}
			if err := l.Debit(from, amount.New(95)); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould debit the wallet: %s", failed, err)
			}
			l.SetNonce(from, 4)

			if _, err := pool.Upsert(transfer(t, pk, 4, "50", "1")); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould accept the transaction: %s", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould accept a transaction the committed wallet covers.", success)

			if err := l.Revert(); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould revert: %s", failed, err)
			}

			if _, err := pool.Upsert(transfer(t, pk, 4, "50", "2")); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould accept the replacement: %s", failed, err)
			}
			if pool.Count() != 1 {
				t.Fatalf("\t%s\tTest 0:\tShould hold 1 transaction, got %d", failed, pool.Count())
			}
			t.Logf("\t%s\tTest 0:\tShould keep accepting after the block is reverted.", success)
		}
	}
}

func TestPrune(t *testing.T) {
	pk := key(t, 1)
	from := signature.Address(pk)

	l := ledger.New()
	l.SetBalance(from, amount.New(100), 0)

	pool := newPool(t, l)

	stale := transfer(t, pk, 1, "10", "1")
	next := transfer(t, pk, 2, "10", "1")

	for _, tx := range []database.Transaction{stale, next} {
		if _, err := pool.Upsert(tx); err != nil {
			t.Fatalf("Should be able to add the transaction: %s", err)
		}
	}

	t.Log("Given the need to drop transactions a finalized block made stale.")
	{
		t.Logf("\tTest 0:\tWhen the committed nonce passes a pending transaction.")
		{
			l.SetNonce(from, 1)

			if got := pool.Prune(); got != 1 {
				t.Fatalf("\t%s\tTest 0:\tShould drop 1 transaction, got %d", failed, got)
			}

			pending := pool.Pending()
			if len(pending) != 1 || pending[0].ID != next.ID {
				t.Fatalf("\t%s\tTest 0:\tShould keep the next transaction pending.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould drop only the stale transaction.", success)

			if _, exists := pool.Lookup(stale.ID); !exists {
				t.Fatalf("\t%s\tTest 0:\tShould still find the stale transaction.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould still find the stale transaction.", success)
		}
	}
}
