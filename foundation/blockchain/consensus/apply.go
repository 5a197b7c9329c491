package consensus

import (
	"errors"
	"fmt"

	"github.com/hybridledger/dlt/foundation/blockchain/database"
	"github.com/hybridledger/dlt/foundation/blockchain/difficulty"
	"github.com/hybridledger/dlt/foundation/blockchain/reward"
	"github.com/hybridledger/dlt/foundation/blockchain/signature"
)

// ApplyMode tells applyBlock why the block is being applied.
type ApplyMode int

// Set of apply modes.
const (
	ModeDryRun ApplyMode = iota
	ModePropose
	ModeAccept
	ModeReplay
)

// String implements the fmt.Stringer interface for logging.
func (m ApplyMode) String() string {
	switch m {
	case ModeDryRun:
		return "dry-run"
	case ModePropose:
		return "propose"
	case ModeAccept:
		return "accept"
	case ModeReplay:
		return "replay"
	}
	return "unknown"
}

// ApplyResult carries what applying a block produced besides the ledger
// changes themselves.
type ApplyResult struct {
	Applied    []database.Transaction
	Skipped    []database.Transaction
	StakingTxs []database.Transaction
	Fees       reward.FeeSummary
	Solved     []uint64
}

// StakingIDs returns the ids of the generated staking transactions.
func (ar ApplyResult) StakingIDs() []string {
	ids := make([]string, len(ar.StakingTxs))
	for i, tx := range ar.StakingTxs {
		ids[i] = tx.ID
	}
	return ids
}

// applyBlock applies the transactions and the rewards of the block to the
// ledger. It is the single path used to propose, dry run, accept and replay
// a block so every node derives the same wallet state. The caller owns the
// snapshot around it. When proposing, transactions that can't be applied
// are skipped and reported instead of failing the block.
func (e *Engine) applyBlock(block database.Block, txs []database.Transaction, mode ApplyMode) (ApplyResult, error) {
	var res ApplyResult
	solving := make(map[uint64]struct{})

	for _, tx := range txs {
		err := e.applyTx(block, tx, solving)

		switch {
		case err == nil:
			res.Applied = append(res.Applied, tx)

		case mode == ModePropose:
			e.evHandler("consensus: applyBlock: %s: skipping tx[%s]: %s", mode, tx, err)
			res.Skipped = append(res.Skipped, tx)

		default:
			return ApplyResult{}, fmt.Errorf("tx[%s]: %w", tx.ID, err)
		}
	}

	for num := range solving {
		res.Solved = append(res.Solved, num)
	}

	if !reward.Eligible(block.Number) {
		return res, nil
	}

	fees, stakingTxs, err := e.applyRewards(block)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("rewards: %w", err)
	}
	res.Fees = fees
	res.StakingTxs = stakingTxs

	return res, nil
}

// applyTx applies a single transaction to the ledger.
func (e *Engine) applyTx(block database.Block, tx database.Transaction, solving map[uint64]struct{}) error {
	switch tx.Type {
	case database.TxNormal:
		if nonce := e.ledger.Nonce(tx.From); tx.Nonce <= nonce {
			return fmt.Errorf("nonce %d is not above the account nonce %d", tx.Nonce, nonce)
		}

		total, err := tx.Amount.Add(tx.Fee)
		if err != nil {
			return err
		}

		if err := e.ledger.Debit(tx.From, total); err != nil {
			return err
		}

		if err := e.ledger.Credit(tx.To, tx.Amount); err != nil {
			if rerr := e.ledger.Credit(tx.From, total); rerr != nil {
				return errors.Join(err, rerr)
			}
			return err
		}

		e.ledger.SetNonce(tx.From, tx.Nonce)
		return nil

	case database.TxPoWSolution:
		if nonce := e.ledger.Nonce(tx.From); tx.Nonce <= nonce {
			return fmt.Errorf("nonce %d is not above the account nonce %d", tx.Nonce, nonce)
		}

		sol, err := e.checkSolution(block, tx, solving)
		if err != nil {
			return err
		}

		if err := e.ledger.Credit(tx.From, e.genesis.PowReward); err != nil {
			return err
		}

		e.ledger.SetNonce(tx.From, tx.Nonce)
		solving[sol.BlockNum] = struct{}{}
		return nil

	case database.TxGenesis:
		if block.Number != 1 {
			return errors.New("genesis transaction outside the first block")
		}
		return e.ledger.Credit(tx.To, tx.Amount)

	case database.TxStakingReward:
		return errors.New("staking rewards are generated, not applied")
	}

	return fmt.Errorf("unknown transaction type %s", tx.Type)
}

// checkSolution validates a PoW solution against the block it solves. Only
// blocks inside the redacted window can be solved, which keeps the solved
// bookkeeping the chain prunes in step with what can still be paid.
func (e *Engine) checkSolution(block database.Block, tx database.Transaction, solving map[uint64]struct{}) (database.PoWSolution, error) {
	sol, err := tx.PoWSolution()
	if err != nil {
		return database.PoWSolution{}, err
	}

	if sol.BlockNum >= block.Number {
		return database.PoWSolution{}, fmt.Errorf("solution for block %d is not behind block %d", sol.BlockNum, block.Number)
	}

	if window := uint64(e.genesis.RedactedWindowSize); block.Number > window && sol.BlockNum < block.Number-window {
		return database.PoWSolution{}, fmt.Errorf("solution for block %d is outside the redacted window of block %d", sol.BlockNum, block.Number)
	}

	if _, exists := solving[sol.BlockNum]; exists {
		return database.PoWSolution{}, fmt.Errorf("block %d solved twice in the same block", sol.BlockNum)
	}

	if e.chain.IsSolved(sol.BlockNum) {
		return database.PoWSolution{}, fmt.Errorf("block %d already solved", sol.BlockNum)
	}

	solved, err := e.chain.GetBlock(sol.BlockNum)
	if err != nil {
		return database.PoWSolution{}, fmt.Errorf("solved block %d: %w", sol.BlockNum, err)
	}

	digest := e.oracle(solved.BlockChecksum, tx.From, sol.Nonce)
	if !difficulty.Verify(digest, difficulty.HashCeiling(solved.Difficulty)) {
		return database.PoWSolution{}, fmt.Errorf("digest for block %d is above the hash ceiling", sol.BlockNum)
	}

	return sol, nil
}

// applyRewards pays the fee and staking rewards for the block that sits
// TargetOffset heights back. Fees are only paid when the signature set of
// the target still matches what the chain froze for it.
func (e *Engine) applyRewards(block database.Block) (reward.FeeSummary, []database.Transaction, error) {
	targetNum := reward.TargetHeight(block.Number)

	target, err := e.chain.GetBlockData(targetNum)
	if err != nil {
		return reward.FeeSummary{}, nil, fmt.Errorf("target block %d: %w", targetNum, err)
	}

	var fees reward.FeeSummary

	freezer, err := e.chain.GetBlock(targetNum + database.FreezeOffset)
	if err != nil {
		return reward.FeeSummary{}, nil, fmt.Errorf("freeze block %d: %w", targetNum+database.FreezeOffset, err)
	}

	switch {
	case freezer.SignatureFreezeChecksum != target.Block.SignatureChecksum():
		e.evHandler("consensus: applyRewards: blk[%d]: target signatures not frozen, skipping fees", block.Number)

	default:
		credits, summary, err := e.distributor.FeeRewards(target.Block, target.Transactions)
		if err != nil {
			return reward.FeeSummary{}, nil, err
		}

		for _, c := range credits {
			if err := e.ledger.Credit(c.Address, c.Amount); err != nil {
				return reward.FeeSummary{}, nil, err
			}
		}
		fees = summary
	}

	var stakers []reward.Stake
	for _, addr := range target.Block.SignerAddresses() {
		if addr == signature.ZeroAddress {
			continue
		}

		bal := e.ledger.Balance(addr)
		if bal.Sign() <= 0 {
			continue
		}
		stakers = append(stakers, reward.Stake{Address: addr, Balance: bal})
	}

	supply, err := e.ledger.TotalSupply()
	if err != nil {
		return reward.FeeSummary{}, nil, err
	}

	mint, err := e.distributor.Mint(supply)
	if err != nil {
		return reward.FeeSummary{}, nil, err
	}

	credits, err := e.distributor.StakingRewards(mint, stakers)
	if err != nil {
		return reward.FeeSummary{}, nil, err
	}

	for _, c := range credits {
		if err := e.ledger.Credit(c.Address, c.Amount); err != nil {
			return reward.FeeSummary{}, nil, err
		}
	}

	return fees, e.distributor.StakingTransactions(credits, block.Number, block.TimeStamp), nil
}
