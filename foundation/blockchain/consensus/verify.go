package consensus

import (
	"errors"
	"fmt"
	"slices"

	"github.com/hybridledger/dlt/foundation/blockchain/amount"
	"github.com/hybridledger/dlt/foundation/blockchain/database"
)

// Verify checks the block against the chain and the ledger and returns the
// verdict. An Indeterminate verdict means data is missing and has been
// requested from the network.
func (e *Engine) Verify(block database.Block) (Verdict, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.haltErr != nil {
		return Indeterminate, ErrHalted
	}

	v, err := e.verify(block)
	e.metrics.verdicts.WithLabelValues(v.String()).Inc()

	return v, err
}

// verify performs the block verification. The caller must hold the lock.
func (e *Engine) verify(block database.Block) (Verdict, error) {
	if block.Number == 0 {
		return Invalid, errors.New("block number zero")
	}

	if block.BlockChecksum != block.CalculateChecksum() {
		return Invalid, errors.New("block checksum does not match its contents")
	}

	tip := e.chain.Height()
	next := block.Number == tip+1

	if next {
		if block.PrevBlockChecksum != e.chain.TipChecksum() {
			return Invalid, fmt.Errorf("block does not link to tip %d", tip)
		}

		if exp := e.nextDifficulty(); block.Difficulty != exp {
			return Invalid, fmt.Errorf("difficulty %d, exp %d", block.Difficulty, exp)
		}

		freeze, err := e.signatureFreeze(block.Number)
		if err != nil {
			return Indeterminate, err
		}
		if block.SignatureFreezeChecksum != freeze {
			e.wantFreeze(block.Number-database.FreezeOffset, block.SignatureFreezeChecksum)
		}
	}

	// Resolve the transactions. Staking rewards are regenerated locally,
	// so outside of sync mode they're only matched by id after the dry run.
	txs, missing, err := e.resolve(block, next)
	if err != nil {
		return Invalid, err
	}

	if len(missing) > 0 {
		e.requestTransactions(block.Number, missing)
		return Indeterminate, fmt.Errorf("missing %d transactions", len(missing))
	}

	if next {
		if err := e.checkSpending(txs); err != nil {
			return Invalid, err
		}
	}

	switch {
	case block.Number < tip:
		return Valid, nil

	case block.Number == tip:
		if cs := e.ledger.Checksum(false); cs != block.WalletStateChecksum {
			return Invalid, fmt.Errorf("wallet state checksum %s, exp %s", block.WalletStateChecksum, cs)
		}
		return Valid, nil

	case next:
		return e.dryRun(block, txs)
	}

	return Valid, nil
}

// resolve looks up every transaction of the block in order.
func (e *Engine) resolve(block database.Block, next bool) ([]database.Transaction, []string, error) {
	var txs []database.Transaction
	var missing []string

	for _, id := range block.TransactionIDs {
		if database.IsStakingID(id) && !e.syncMode {
			continue
		}

		tx, exists := e.source.Lookup(id)
		if !exists {
			missing = append(missing, id)
			continue
		}

		if tx.Type == database.TxStakingReward {
			continue
		}

		if next && !e.source.Verify(tx) {
			return nil, nil, fmt.Errorf("tx[%s] failed verification", id)
		}

		txs = append(txs, tx)
	}

	return txs, missing, nil
}

// checkSpending sums what each sender moves out in the block and compares
// it to the sender's committed balance.
func (e *Engine) checkSpending(txs []database.Transaction) error {
	spend := make(map[string]amount.Amount)

	for _, tx := range txs {
		if tx.Type != database.TxNormal {
			continue
		}

		total, err := tx.Amount.Add(tx.Fee)
		if err != nil {
			return fmt.Errorf("tx[%s]: %w", tx.ID, err)
		}

		if spend[tx.From], err = spend[tx.From].Add(total); err != nil {
			return fmt.Errorf("sender %s: %w", tx.From, err)
		}
	}

	for from, total := range spend {
		if bal := e.ledger.Balance(from); bal.Cmp(total) < 0 {
			return fmt.Errorf("sender %s spends %s with balance %s", from, total, bal)
		}
	}

	return nil
}

// dryRun applies the block on a snapshot of the ledger and compares the
// result with the checksum and staking set the block carries.
func (e *Engine) dryRun(block database.Block, txs []database.Transaction) (Verdict, error) {
	if err := e.ledger.Snapshot(); err != nil {
		return Indeterminate, err
	}

	res, applyErr := e.applyBlock(block, txs, ModeDryRun)
	cs := e.ledger.Checksum(false)

	if err := e.revert(block.Number); err != nil {
		return Indeterminate, err
	}

	if applyErr != nil {
		return Invalid, applyErr
	}

	if cs != block.WalletStateChecksum {
		return Invalid, fmt.Errorf("wallet state checksum %s, exp %s", block.WalletStateChecksum, cs)
	}

	var carried []string
	for _, id := range block.TransactionIDs {
		if database.IsStakingID(id) {
			carried = append(carried, id)
		}
	}

	generated := res.StakingIDs()
	slices.Sort(carried)
	slices.Sort(generated)
	if !slices.Equal(carried, generated) {
		return Invalid, errors.New("staking reward transactions do not match")
	}

	return Valid, nil
}

// revert restores the ledger snapshot and makes sure the ledger is back at
// the checksum it had before. A ledger that can't be restored halts the
// engine.
func (e *Engine) revert(height uint64) error {
	before := e.ledger.Checksum(true)

	if err := e.ledger.Revert(); err != nil {
		return e.fatal(height, err)
	}

	if after := e.ledger.Checksum(false); after != before {
		return e.fatal(height, fmt.Errorf("ledger checksum after revert %s, exp %s", after, before))
	}

	return nil
}

// fatal stops block processing for good and reports the failure.
func (e *Engine) fatal(height uint64, err error) error {
	fe := &FatalError{Height: height, Err: err}

	if e.haltErr == nil {
		e.haltErr = fe
		e.candidate = nil
		e.metrics.halted.Set(1)
		e.evHandler("consensus: fatal: %s", fe)
		e.halt(fe)
	}

	return fe
}

// =============================================================================

// requestTransactions asks the network for the missing transactions of the
// block at the height. Requests for the same height are coalesced until the
// fetch timeout passes. While synchronizing, large misses are asked of every
// peer through the broadcaster. The caller must hold the lock.
func (e *Engine) requestTransactions(height uint64, ids []string) {
	e.fetchMu.Lock()
	defer e.fetchMu.Unlock()

	now := e.now()
	if last, exists := e.txFetches[height]; exists && now.Sub(last) < e.fetchTimeout {
		return
	}
	e.txFetches[height] = now

	e.evHandler("consensus: requestTransactions: blk[%d]: missing %d", height, len(ids))

	if len(ids) > bulkFetchThreshold {
		if e.syncMode {
			e.broadcaster.BroadcastGetBlockTransactions(height)
			return
		}
		e.source.RequestBulkForBlock(height)
		return
	}

	for _, id := range ids {
		e.source.RequestFromNetwork(id)
	}
}

// requestBlock asks the network for the block at the height, at most once
// per fetch timeout.
func (e *Engine) requestBlock(height uint64) {
	e.fetchMu.Lock()
	defer e.fetchMu.Unlock()

	now := e.now()
	if last, exists := e.blockFetches[height]; exists && now.Sub(last) < e.fetchTimeout {
		return
	}
	e.blockFetches[height] = now

	e.evHandler("consensus: requestBlock: blk[%d]", height)
	e.metrics.blockRequests.Inc()

	e.broadcaster.BroadcastGetBlock(height)
}

// wantFreeze records the signature set a later block froze for the height
// so a copy of that block carrying it can replace the local signatures.
func (e *Engine) wantFreeze(height uint64, freeze string) {
	e.fetchMu.Lock()
	e.freezeWant[height] = freeze
	e.fetchMu.Unlock()
}

// wantedFreeze returns the frozen signature checksum wanted for the height.
func (e *Engine) wantedFreeze(height uint64) (string, bool) {
	e.fetchMu.Lock()
	defer e.fetchMu.Unlock()

	freeze, exists := e.freezeWant[height]
	return freeze, exists
}

// forgetFetches drops the fetch bookkeeping at and below the height.
func (e *Engine) forgetFetches(height uint64) {
	e.fetchMu.Lock()
	defer e.fetchMu.Unlock()

	for h := range e.txFetches {
		if h <= height {
			delete(e.txFetches, h)
		}
	}

	for h := range e.blockFetches {
		if h <= height {
			delete(e.blockFetches, h)
		}
	}

	for h := range e.freezeWant {
		if h+database.FreezeOffset <= height {
			delete(e.freezeWant, h)
		}
	}
}
