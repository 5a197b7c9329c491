// Package genesis maintains access to the genesis file and the consensus
// parameters every node on the network must agree on.
package genesis

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hybridledger/dlt/foundation/blockchain/amount"
)

// Set of default consensus parameters.
const (
	DefaultConsensusPercent     = 75
	DefaultMinimumSignatures    = 1
	DefaultDifficulty           = 14
	DefaultRedactedWindowSize   = 3000
	DefaultFoundationFeePercent = 3
	DefaultBlocksPerYear        = 1_051_200
	DefaultTransPerBlock        = 500
)

// Genesis represents the genesis file.
type Genesis struct {
	Date                 time.Time         `json:"date"`
	ChainID              uint16            `json:"chain_id"`                // Unique id for this running network.
	MinimumSignatures    int               `json:"minimum_signatures"`      // Consensus floor regardless of signer count.
	ConsensusPercent     int               `json:"consensus_percent"`       // Share of the previous block's signers required.
	Difficulty           uint64            `json:"difficulty"`              // Starting PoW difficulty.
	RedactedWindowSize   int               `json:"redacted_window_size"`    // Trailing window used for difficulty statistics.
	TransPerBlock        int               `json:"trans_per_block"`         // Maximum number of transactions in a block.
	FoundationAddress    string            `json:"foundation_address"`      // Receives the foundation fee cut and remainders.
	FoundationFeePercent int               `json:"foundation_fee_percent"`  // Share of the fee pool paid to the foundation.
	PowReward            amount.Amount     `json:"pow_reward"`              // Paid to the solver of a block's PoW.
	BlocksPerYear        int64             `json:"blocks_per_year"`         // Used to spread annual inflation per block.
	InflationHigh        int64             `json:"inflation_high_percent"`  // Annual rate below the supply threshold.
	InflationLow         int64             `json:"inflation_low_percent"`   // Annual rate at or above the supply threshold.
	InflationThreshold   amount.Amount     `json:"inflation_threshold"`     // Supply at which the inflation rate steps down.
	Balances             map[string]string `json:"balances"`                // Starting balances as decimal strings.
}

// Default returns a genesis with every consensus parameter set to its default.
func Default() Genesis {
	return Genesis{
		Date:                 time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
		ChainID:              1,
		MinimumSignatures:    DefaultMinimumSignatures,
		ConsensusPercent:     DefaultConsensusPercent,
		Difficulty:           DefaultDifficulty,
		RedactedWindowSize:   DefaultRedactedWindowSize,
		TransPerBlock:        DefaultTransPerBlock,
		FoundationAddress:    "0xF0F0F0F0F0F0F0F0F0F0F0F0F0F0F0F0F0F0F0F0",
		FoundationFeePercent: DefaultFoundationFeePercent,
		PowReward:            amount.Parse("12.5"),
		BlocksPerYear:        DefaultBlocksPerYear,
		InflationHigh:        5,
		InflationLow:         2,
		InflationThreshold:   amount.New(50_000_000_000),
		Balances:             map[string]string{},
	}
}

// =============================================================================

// Load opens and consumes the genesis file. Fields left out of the file
// keep their default values.
func Load(path string) (Genesis, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, err
	}

	genesis := Default()
	if err := json.Unmarshal(content, &genesis); err != nil {
		return Genesis{}, err
	}

	if err := genesis.Validate(); err != nil {
		return Genesis{}, fmt.Errorf("genesis %s: %w", path, err)
	}

	return genesis, nil
}

// Validate checks the consensus parameters are usable.
func (g Genesis) Validate() error {
	switch {
	case g.MinimumSignatures < 1:
		return fmt.Errorf("minimum signatures must be positive, got %d", g.MinimumSignatures)
	case g.ConsensusPercent < 1 || g.ConsensusPercent > 100:
		return fmt.Errorf("consensus percent out of range, got %d", g.ConsensusPercent)
	case g.FoundationFeePercent < 0 || g.FoundationFeePercent > 100:
		return fmt.Errorf("foundation fee percent out of range, got %d", g.FoundationFeePercent)
	case g.RedactedWindowSize < 1:
		return fmt.Errorf("redacted window size must be positive, got %d", g.RedactedWindowSize)
	case g.BlocksPerYear < 1:
		return fmt.Errorf("blocks per year must be positive, got %d", g.BlocksPerYear)
	case g.FoundationAddress == "":
		return fmt.Errorf("foundation address is required")
	}

	for addr, bal := range g.Balances {
		if _, err := amount.ParseStrict(bal); err != nil {
			return fmt.Errorf("balance for %s: %w", addr, err)
		}
	}

	return nil
}
