// This program is a simple wallet for the ledger: it manages keys, reads
// balances and signs transfers.
package main

import "github.com/hybridledger/dlt/app/wallet/cli/cmd"

func main() {
	cmd.Execute()
}
