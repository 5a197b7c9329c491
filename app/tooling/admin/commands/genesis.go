// Package commands contains the functionality for the set of commands
// currently supported by the admin tool.
package commands

import (
	"fmt"

	"github.com/hybridledger/dlt/foundation/blockchain/genesis"
	"github.com/hybridledger/dlt/foundation/blockchain/ledger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Genesis returns the command that validates a genesis file and prints the
// checksum of the ledger it starts from. Every node on a network must
// report the same checksum.
func Genesis(log *zap.SugaredLogger) *cobra.Command {
	var path string

	cmd := cobra.Command{
		Use:   "genesis",
		Short: "Validate a genesis file and print its ledger checksum",
		RunE: func(cmd *cobra.Command, args []string) error {
			gen, err := genesis.Load(path)
			if err != nil {
				return fmt.Errorf("loading genesis: %w", err)
			}

			l, err := ledger.NewFromBalances(gen.Balances)
			if err != nil {
				return fmt.Errorf("building ledger: %w", err)
			}

			supply, err := l.TotalSupply()
			if err != nil {
				return err
			}

			log.Infow("genesis", "path", path, "chain_id", gen.ChainID, "wallets", len(gen.Balances))

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Chain ID:     %d\n", gen.ChainID)
			fmt.Fprintf(out, "Difficulty:   %d\n", gen.Difficulty)
			fmt.Fprintf(out, "Wallets:      %d\n", len(gen.Balances))
			fmt.Fprintf(out, "Total Supply: %s\n", supply)
			fmt.Fprintf(out, "Checksum:     %s\n", l.Checksum(false))

			return nil
		},
	}

	cmd.Flags().StringVarP(&path, "genesis", "g", "zblock/genesis.json", "Path to the genesis file.")

	return &cmd
}
