// Package reward computes the transaction fee and staking payouts made when
// a block is applied. Every payout references the block TargetOffset
// heights back so the signer set it pays has been frozen by then.
package reward

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/hybridledger/dlt/foundation/blockchain/amount"
	"github.com/hybridledger/dlt/foundation/blockchain/database"
	"github.com/hybridledger/dlt/foundation/blockchain/genesis"
)

// Payouts only start once the chain is deeper than MinimumDepth.
const (
	MinimumDepth = 10
	TargetOffset = 6
)

// Eligible reports whether applying the block at the height pays rewards.
func Eligible(height uint64) bool {
	return height > MinimumDepth
}

// TargetHeight returns the height of the block whose signers are paid when
// the block at the height is applied.
func TargetHeight(height uint64) uint64 {
	return height - TargetOffset
}

// =============================================================================

// Config represents the parameters needed to compute payouts.
type Config struct {
	ChainID              uint16
	FoundationAddress    string
	FoundationFeePercent int
	BlocksPerYear        int64
	InflationHigh        int64
	InflationLow         int64
	InflationThreshold   amount.Amount
}

// ConfigFromGenesis pulls the reward parameters from the genesis.
func ConfigFromGenesis(g genesis.Genesis) Config {
	return Config{
		ChainID:              g.ChainID,
		FoundationAddress:    g.FoundationAddress,
		FoundationFeePercent: g.FoundationFeePercent,
		BlocksPerYear:        g.BlocksPerYear,
		InflationHigh:        g.InflationHigh,
		InflationLow:         g.InflationLow,
		InflationThreshold:   g.InflationThreshold,
	}
}

// Credit is a single payout.
type Credit struct {
	Address string
	Amount  amount.Amount
}

// FeeSummary describes how a fee pool was split.
type FeeSummary struct {
	Total      amount.Amount
	Foundation amount.Amount
	PerSigner  amount.Amount
	Remainder  amount.Amount
	Signers    int
}

// Stake is a staker's balance at the time the payout is computed.
type Stake struct {
	Address string
	Balance amount.Amount
}

// Distributor computes payouts.
type Distributor struct {
	cfg Config
}

// New constructs a distributor.
func New(cfg Config) *Distributor {
	return &Distributor{cfg: cfg}
}

// =============================================================================

// FeeRewards splits the fees of the normal transactions in the target
// block. The foundation takes its percentage first, the rest is divided
// evenly across the signers of the target block and whatever doesn't
// divide evenly goes to the foundation. No credits are returned when the
// block carried no fees.
func (d *Distributor) FeeRewards(target database.Block, txs []database.Transaction) ([]Credit, FeeSummary, error) {
	total := amount.Zero()
	for _, tx := range txs {
		if tx.Type != database.TxNormal {
			continue
		}

		var err error
		if total, err = total.Add(tx.Fee); err != nil {
			return nil, FeeSummary{}, fmt.Errorf("summing fees: %w", err)
		}
	}

	if total.Sign() <= 0 {
		return nil, FeeSummary{}, nil
	}

	foundation, err := total.MulInt(int64(d.cfg.FoundationFeePercent))
	if err != nil {
		return nil, FeeSummary{}, err
	}
	if foundation, err = foundation.DivInt(100); err != nil {
		return nil, FeeSummary{}, err
	}

	pool, err := total.Sub(foundation)
	if err != nil {
		return nil, FeeSummary{}, err
	}

	summary := FeeSummary{
		Total:      total,
		Foundation: foundation,
		PerSigner:  amount.Zero(),
		Remainder:  amount.Zero(),
	}

	signers := target.SignerAddresses()
	summary.Signers = len(signers)

	var credits []Credit

	switch len(signers) {
	case 0:
		summary.Remainder = pool

	default:
		perSigner, rem, err := pool.DivRem(amount.New(int64(len(signers))))
		if err != nil {
			return nil, FeeSummary{}, err
		}
		summary.PerSigner = perSigner
		summary.Remainder = rem

		if perSigner.Sign() > 0 {
			for _, addr := range signers {
				credits = append(credits, Credit{Address: addr, Amount: perSigner})
			}
		}
	}

	foundationTotal, err := foundation.Add(summary.Remainder)
	if err != nil {
		return nil, FeeSummary{}, err
	}

	if foundationTotal.Sign() > 0 {
		credits = append(credits, Credit{Address: d.cfg.FoundationAddress, Amount: foundationTotal})
	}

	return credits, summary, nil
}

// =============================================================================

// Mint returns the new supply created for a single block. The annual rate
// steps down once the total supply reaches the threshold.
func (d *Distributor) Mint(totalSupply amount.Amount) (amount.Amount, error) {
	if d.cfg.BlocksPerYear <= 0 {
		return amount.Zero(), errors.New("blocks per year must be positive")
	}

	rate := d.cfg.InflationHigh
	if totalSupply.Cmp(d.cfg.InflationThreshold) >= 0 {
		rate = d.cfg.InflationLow
	}

	raw := new(big.Int).Mul(totalSupply.Raw(), big.NewInt(rate))
	raw.Quo(raw, new(big.Int).Mul(big.NewInt(d.cfg.BlocksPerYear), big.NewInt(100)))

	if raw.Sign() < 0 {
		return amount.Zero(), nil
	}

	return amount.NewFromRaw(raw), nil
}

// StakingRewards splits the mint across the stakers in proportion to their
// balance. Each share is computed in raw units with two extra digits of
// precision. Integer parts are paid first, then the units lost to rounding
// are handed out one at a time to the largest remainders, ties broken by
// address, so the awards always sum exactly to the mint.
func (d *Distributor) StakingRewards(mint amount.Amount, stakers []Stake) ([]Credit, error) {
	if mint.Sign() <= 0 {
		return nil, nil
	}

	type share struct {
		address string
		award   *big.Int
		rem     *big.Int
	}

	totalStaked := new(big.Int)
	var shares []share
	for _, s := range stakers {
		if s.Balance.Sign() <= 0 {
			continue
		}
		totalStaked.Add(totalStaked, s.Balance.Raw())
		shares = append(shares, share{address: s.Address})
	}

	if len(shares) == 0 {
		return nil, nil
	}

	mintRaw := mint.Raw()
	hundred := big.NewInt(100)

	distributed := new(big.Int)
	i := 0
	for _, s := range stakers {
		if s.Balance.Sign() <= 0 {
			continue
		}

		p := new(big.Int).Mul(mintRaw, s.Balance.Raw())
		p.Mul(p, hundred)
		p.Quo(p, totalStaked)

		award, rem := new(big.Int).QuoRem(p, hundred, new(big.Int))
		shares[i].award = award
		shares[i].rem = rem
		distributed.Add(distributed, award)
		i++
	}

	sort.SliceStable(shares, func(i, j int) bool {
		if c := shares[i].rem.Cmp(shares[j].rem); c != 0 {
			return c > 0
		}
		return shares[i].address < shares[j].address
	})

	diff := new(big.Int).Sub(mintRaw, distributed)
	one := big.NewInt(1)
	for idx := 0; diff.Sign() > 0; idx = (idx + 1) % len(shares) {
		shares[idx].award.Add(shares[idx].award, one)
		diff.Sub(diff, one)
	}

	sort.Slice(shares, func(i, j int) bool {
		return shares[i].address < shares[j].address
	})

	credits := make([]Credit, 0, len(shares))
	for _, s := range shares {
		if s.award.Sign() == 0 {
			continue
		}
		credits = append(credits, Credit{Address: s.address, Amount: amount.NewFromRaw(s.award)})
	}

	return credits, nil
}

// StakingTransactions turns staking credits into the synthetic transactions
// recorded for the block at the height.
func (d *Distributor) StakingTransactions(credits []Credit, height uint64, timeStamp uint64) []database.Transaction {
	txs := make([]database.Transaction, 0, len(credits))
	for _, c := range credits {
		txs = append(txs, database.NewStakingReward(d.cfg.ChainID, c.Address, c.Amount, height, TargetHeight(height), timeStamp))
	}
	return txs
}
