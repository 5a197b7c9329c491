package consensus

import (
	"errors"
	"fmt"

	"github.com/hybridledger/dlt/foundation/blockchain/database"
)

// AcceptanceTick drives the candidate towards finalization. It's called
// periodically by the node and does nothing when no candidate is held.
func (e *Engine) AcceptanceTick() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.haltErr != nil {
		return ErrHalted
	}

	defer e.unpark()

	if e.candidate == nil {
		return nil
	}

	block := e.candidate.Clone()
	tip := e.chain.Height()

	if block.Number <= tip {
		e.candidate = nil
		return nil
	}

	v, err := e.verify(block)
	e.metrics.verdicts.WithLabelValues(v.String()).Inc()

	switch v {
	case Invalid:
		e.evHandler("consensus: AcceptanceTick: dropping %s: %s", block, err)
		e.candidate = nil
		e.requestBlock(block.Number)
		return nil

	case Indeterminate:
		if e.haltErr != nil {
			return e.haltErr
		}
		e.evHandler("consensus: AcceptanceTick: pending %s: %v", block, err)
		return nil
	}

	// Gather signatures until the threshold is met, sharing the candidate
	// again every rebroadcast interval.
	if required := e.requiredConsensus(); block.UniqueSignatureCount() < required {
		if now := e.now(); now.Sub(e.lastRebroadcast) >= e.rebroadcastInterval {
			e.lastRebroadcast = now
			e.evHandler("consensus: AcceptanceTick: rebroadcast %s: signers[%d] required[%d]", block, block.UniqueSignatureCount(), required)
			e.broadcaster.BroadcastNewBlock(block)
		}
		return nil
	}

	if !e.checkFreeze(block) {
		return nil
	}

	if block.Number != tip+1 {
		e.evHandler("consensus: AcceptanceTick: %s is out of order, tip[%d]", block, tip)
		e.candidate = nil
		e.park(block)
		return nil
	}

	if err := e.accept(block); err != nil {
		var fe *FatalError
		if errors.As(err, &fe) {
			return err
		}

		e.evHandler("consensus: AcceptanceTick: rejecting %s: %s", block, err)
		e.candidate = nil
		e.requestBlock(block.Number)
		return nil
	}

	return nil
}

// checkFreeze verifies the signature set of the block FreezeOffset heights
// back matches what the block froze for it. A missing or mismatched block
// is requested from the network, once per fetch timeout.
func (e *Engine) checkFreeze(block database.Block) bool {
	if block.Number <= database.FreezeOffset {
		return true
	}

	height := block.Number - database.FreezeOffset

	target, err := e.chain.GetBlock(height)
	if err != nil {
		e.evHandler("consensus: checkFreeze: %s: freeze target blk[%d] unknown", block, height)
		e.wantFreeze(height, block.SignatureFreezeChecksum)
		e.requestBlock(height)
		return false
	}

	if target.SignatureChecksum() != block.SignatureFreezeChecksum {
		e.evHandler("consensus: checkFreeze: %s: signatures of blk[%d] differ from the freeze", block, height)
		e.wantFreeze(height, block.SignatureFreezeChecksum)
		e.requestBlock(height)
		return false
	}

	return true
}

// accept applies the block to the ledger and appends it to the chain. The
// ledger is restored when anything fails before the block is stored.
func (e *Engine) accept(block database.Block) error {
	txs, missing, err := e.resolve(block, false)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %d transactions", len(missing))
	}

	if err := e.ledger.Snapshot(); err != nil {
		return err
	}

	res, err := e.applyBlock(block, txs, ModeAccept)
	if err == nil {
		if cs := e.ledger.Checksum(false); cs != block.WalletStateChecksum {
			err = fmt.Errorf("wallet state checksum %s, exp %s", block.WalletStateChecksum, cs)
		}
	}

	if err == nil {
		all := append(append([]database.Transaction(nil), txs...), res.StakingTxs...)
		err = e.chain.Append(database.BlockData{Block: block, Transactions: all})
	}

	if err != nil {
		e.metrics.rollbacks.Inc()
		if rerr := e.revert(block.Number); rerr != nil {
			return rerr
		}
		return err
	}

	if err := e.ledger.Commit(); err != nil {
		return e.fatal(block.Number, err)
	}

	for _, num := range res.Solved {
		e.chain.MarkSolved(num)
	}

	e.source.Remove(block.TransactionIDs)
	e.source.StoreAudit(res.StakingTxs)

	e.candidate = nil
	e.forgetFetches(block.Number)

	e.metrics.accepted.Inc()
	e.metrics.height.Set(float64(block.Number))
	e.metrics.difficulty.Set(float64(e.nextDifficulty()))
	e.metrics.candidateSignatures.Set(0)

	e.evHandler("consensus: accept: %s: txs[%d] staking[%d] signers[%d]", block, len(txs), len(res.StakingTxs), block.UniqueSignatureCount())

	if e.syncMode && block.Number >= e.syncTarget {
		e.exitSyncMode()
	}

	e.onAccepted(block)

	return nil
}
