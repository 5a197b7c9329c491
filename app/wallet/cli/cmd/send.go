package cmd

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/hybridledger/dlt/foundation/blockchain/amount"
	"github.com/hybridledger/dlt/foundation/blockchain/database"
	"github.com/hybridledger/dlt/foundation/blockchain/signature"
	"github.com/spf13/cobra"
)

var (
	chainID uint16
	nonce   uint64
	to      string
	value   string
	fee     string
	data    []byte
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send transaction",
	RunE: func(cmd *cobra.Command, args []string) error {
		privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
		if err != nil {
			return err
		}

		return sendWithDetails(cmd, privateKey)
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().Uint16VarP(&chainID, "chain", "c", 1, "Chain id of the network.")
	sendCmd.Flags().Uint64VarP(&nonce, "nonce", "n", 0, "Nonce for the transaction, the next one when left out.")
	sendCmd.Flags().StringVarP(&to, "to", "t", "", "Address of the receiver.")
	sendCmd.Flags().StringVarP(&value, "value", "v", "0", "Amount to send.")
	sendCmd.Flags().StringVarP(&fee, "fee", "f", "0", "Fee paid to the signers.")
	sendCmd.Flags().BytesHexVarP(&data, "data", "d", nil, "Data to send.")
	sendCmd.MarkFlagRequired("to")
}

func sendWithDetails(cmd *cobra.Command, privateKey *ecdsa.PrivateKey) error {
	amt, err := amount.ParseStrict(value)
	if err != nil {
		return fmt.Errorf("value: %w", err)
	}
	f, err := amount.ParseStrict(fee)
	if err != nil {
		return fmt.Errorf("fee: %w", err)
	}

	if nonce == 0 {
		w, err := fetchWallet(signature.Address(privateKey))
		if err != nil {
			return err
		}
		nonce = w.Nonce + 1
	}

	tx := database.Transaction{
		Type:      database.TxNormal,
		ChainID:   chainID,
		To:        to,
		Amount:    amt,
		Fee:       f,
		Nonce:     nonce,
		TimeStamp: uint64(time.Now().UTC().UnixMilli()),
		Data:      data,
	}

	signed, err := tx.Sign(privateKey)
	if err != nil {
		return err
	}

	body, err := json.Marshal(signed)
	if err != nil {
		return err
	}

	resp, err := http.Post(fmt.Sprintf("%s/v1/tx/submit", url), "application/json", bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	msg, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("node responded with status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(bytes.TrimSpace(msg)))
	return nil
}
