package commands

import (
	"fmt"

	"github.com/hybridledger/dlt/foundation/blockchain/amount"
	"github.com/spf13/cobra"
)

// Amount returns the command that does fixed point arithmetic the same way
// the ledger does. Useful to check rewards and fee splits by hand.
func Amount() *cobra.Command {
	cmd := cobra.Command{
		Use:   "amount <add|sub|mul|div> <a> <b>",
		Short: "Fixed point arithmetic on amounts",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := amount.ParseStrict(args[1])
			if err != nil {
				return fmt.Errorf("first operand: %w", err)
			}
			b, err := amount.ParseStrict(args[2])
			if err != nil {
				return fmt.Errorf("second operand: %w", err)
			}

			var res amount.Amount
			switch args[0] {
			case "add":
				res, err = a.Add(b)
			case "sub":
				res, err = a.Sub(b)
			case "mul":
				res, err = a.Mul(b)
			case "div":
				res, err = a.Div(b)
			default:
				return fmt.Errorf("unknown operation %q", args[0])
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s (raw %s)\n", res, res.RawString())
			return nil
		},
	}

	return &cmd
}
