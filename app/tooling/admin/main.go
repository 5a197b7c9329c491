// This program performs administrative tasks for the ledger node.
package main

import (
	"fmt"
	"os"

	"github.com/hybridledger/dlt/app/tooling/admin/commands"
	"github.com/hybridledger/dlt/foundation/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("ADMIN")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {
	rootCmd := &cobra.Command{
		Use:           "admin",
		Short:         "Administrative tasks for the ledger node",
		Version:       build,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		commands.Genesis(log),
		commands.Blocks(log),
		commands.Transactions(log),
		commands.Amount(),
	)

	return rootCmd.Execute()
}
