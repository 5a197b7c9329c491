package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/hybridledger/dlt/foundation/blockchain/amount"
	"github.com/hybridledger/dlt/foundation/blockchain/signature"
	"github.com/spf13/cobra"
)

type wallet struct {
	Address string        `json:"address"`
	Name    string        `json:"name"`
	Balance amount.Amount `json:"balance"`
	Nonce   uint64        `json:"nonce"`
}

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Print your balance.",
	RunE:  balanceRun,
}

func init() {
	rootCmd.AddCommand(balanceCmd)
}

func balanceRun(cmd *cobra.Command, args []string) error {
	privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
	if err != nil {
		return err
	}

	w, err := fetchWallet(signature.Address(privateKey))
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Address: %s\nBalance: %s\nNonce:   %d\n", w.Address, w.Balance, w.Nonce)
	return nil
}

// fetchWallet reads the committed state of the address from the node. An
// address the node never saw has a zero balance and nonce.
func fetchWallet(address string) (wallet, error) {
	resp, err := http.Get(fmt.Sprintf("%s/v1/wallet/%s", url, address))
	if err != nil {
		return wallet{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return wallet{Address: address, Balance: amount.Zero()}, nil
	default:
		return wallet{}, fmt.Errorf("node responded with status %d", resp.StatusCode)
	}

	var w wallet
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		return wallet{}, err
	}

	return w, nil
}
