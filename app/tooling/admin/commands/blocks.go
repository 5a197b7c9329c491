package commands

import (
	"fmt"
	"io"
	"strconv"

	"github.com/hybridledger/dlt/foundation/blockchain/database"
	"github.com/hybridledger/dlt/foundation/blockchain/database/storage/disk"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Blocks returns the command that walks the chain stored on disk and prints
// a line per block.
func Blocks(log *zap.SugaredLogger) *cobra.Command {
	var dbPath string

	cmd := cobra.Command{
		Use:   "blocks",
		Short: "Print the blocks stored on disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			storage, err := disk.New(dbPath)
			if err != nil {
				return err
			}
			defer storage.Close()

			out := cmd.OutOrStdout()
			var count int

			iter := storage.ForEach()
			for blockData, err := iter.Next(); !iter.Done(); blockData, err = iter.Next() {
				if err != nil {
					return fmt.Errorf("reading block: %w", err)
				}

				b := blockData.Block
				fmt.Fprintf(out, "%6d  %s  txs[%d] signers[%d] diff[%d]\n", b.Number, b.BlockChecksum, len(blockData.Transactions), b.UniqueSignatureCount(), b.Difficulty)
				count++
			}

			log.Infow("blocks", "path", dbPath, "count", count)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dbPath, "db-path", "d", "zblock/blocks/", "Path to the block storage.")

	return &cmd
}

// Transactions returns the command that prints the transactions of a block
// stored on disk.
func Transactions(log *zap.SugaredLogger) *cobra.Command {
	var dbPath string

	cmd := cobra.Command{
		Use:   "txs <block>",
		Short: "Print the transactions of a stored block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			num, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid block number %q", args[0])
			}

			storage, err := disk.New(dbPath)
			if err != nil {
				return err
			}
			defer storage.Close()

			blockData, err := storage.GetBlock(num)
			if err != nil {
				return fmt.Errorf("block %d: %w", num, err)
			}

			out := cmd.OutOrStdout()
			for _, tx := range blockData.Transactions {
				printTx(out, tx)
			}

			log.Infow("txs", "block", num, "count", len(blockData.Transactions))
			return nil
		},
	}

	cmd.Flags().StringVarP(&dbPath, "db-path", "d", "zblock/blocks/", "Path to the block storage.")

	return &cmd
}

func printTx(out io.Writer, tx database.Transaction) {
	fmt.Fprintf(out, "%s  %-8s %s -> %s  amount[%s] fee[%s] nonce[%d]\n", tx.ID, tx.Type, tx.From, tx.To, tx.Amount, tx.Fee, tx.Nonce)
}
