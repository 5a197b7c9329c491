package consensus

import (
	"encoding/hex"

	"github.com/hybridledger/dlt/foundation/blockchain/database"
	"github.com/hybridledger/dlt/foundation/blockchain/difficulty"
)

// ProduceNextBlock builds, signs and shares a block for the height after
// the tip from the transactions waiting in the pool. Transactions that
// can't be applied to the ledger are left out of the block.
func (e *Engine) ProduceNextBlock() (database.Block, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.haltErr != nil {
		return database.Block{}, ErrHalted
	}

	if e.syncMode {
		return database.Block{}, ErrSynchronizing
	}

	tip := e.chain.Tip()
	num := tip.Number + 1

	if e.candidate != nil && e.candidate.Number == num {
		return database.Block{}, ErrCandidatePending
	}

	freeze, err := e.signatureFreeze(num)
	if err != nil {
		return database.Block{}, err
	}

	d := e.nextDifficulty()
	ceiling := difficulty.HashCeiling(d)

	block := database.Block{
		Number:                  num,
		Version:                 database.BlockVersion,
		TimeStamp:               uint64(e.now().UTC().UnixMilli()),
		PrevBlockChecksum:       e.chain.TipChecksum(),
		SignatureFreezeChecksum: freeze,
		Difficulty:              d,
		PowField:                "0x" + hex.EncodeToString(ceiling[:]),
	}

	var txs []database.Transaction
	for _, tx := range e.source.PickForBlock(e.genesis.TransPerBlock) {
		if tx.Type == database.TxStakingReward {
			continue
		}
		if !e.source.Verify(tx) {
			continue
		}
		txs = append(txs, tx)
	}

	if err := e.ledger.Snapshot(); err != nil {
		return database.Block{}, err
	}

	res, applyErr := e.applyBlock(block, txs, ModePropose)
	cs := e.ledger.Checksum(false)

	if err := e.revert(num); err != nil {
		return database.Block{}, err
	}

	if applyErr != nil {
		return database.Block{}, applyErr
	}

	if len(res.Skipped) > 0 {
		ids := make([]string, len(res.Skipped))
		for i, tx := range res.Skipped {
			ids[i] = tx.ID
		}
		e.source.Remove(ids)
	}

	for _, tx := range res.Applied {
		block.TransactionIDs = append(block.TransactionIDs, tx.ID)
	}
	block.TransactionIDs = append(block.TransactionIDs, res.StakingIDs()...)
	block.WalletStateChecksum = cs
	block.BlockChecksum = block.CalculateChecksum()

	if _, err := block.ApplySignature(e.key); err != nil {
		return database.Block{}, err
	}

	e.source.AddPending(res.StakingTxs)

	e.adopt(block)
	e.metrics.proposed.Inc()
	e.metrics.candidateSignatures.Set(float64(block.UniqueSignatureCount()))

	e.evHandler("consensus: ProduceNextBlock: %s: txs[%d] staking[%d] skipped[%d] difficulty[%d]", block, len(res.Applied), len(res.StakingTxs), len(res.Skipped), d)

	e.broadcaster.BroadcastNewBlock(block.Clone())

	return block, nil
}
