package public

import (
	"github.com/hybridledger/dlt/business/sys/validate"
	"github.com/hybridledger/dlt/foundation/blockchain/amount"
	"github.com/hybridledger/dlt/foundation/blockchain/database"
)

type wallet struct {
	Address string        `json:"address"`
	Name    string        `json:"name"`
	Balance amount.Amount `json:"balance"`
	Nonce   uint64        `json:"nonce"`
}

type wallets struct {
	LatestBlock uint64        `json:"latest_block"`
	TotalSupply amount.Amount `json:"total_supply"`
	Uncommitted int           `json:"uncommitted"`
	Wallets     []wallet      `json:"wallets"`
}

type candidate struct {
	Block             database.Block `json:"block"`
	Signers           int            `json:"signers"`
	RequiredConsensus int            `json:"required_consensus"`
	ElectedProposer   string         `json:"elected_proposer,omitempty"`
}

// submitTx is a signed transaction sent by a wallet.
type submitTx struct {
	ID          string          `json:"id" validate:"required"`
	Type        database.TxType `json:"type" validate:"oneof=0 2"`
	ChainID     uint16          `json:"chain_id" validate:"required"`
	From        string          `json:"from" validate:"required,address"`
	To          string          `json:"to" validate:"omitempty,address"`
	Amount      string          `json:"amount" validate:"required,amount"`
	Fee         string          `json:"fee" validate:"required,amount"`
	Nonce       uint64          `json:"nonce" validate:"required"`
	BlockHeight uint64          `json:"block_height"`
	TimeStamp   uint64          `json:"timestamp"`
	Data        []byte          `json:"data"`
	PublicKey   string          `json:"public_key" validate:"required"`
	Signature   string          `json:"signature" validate:"required"`
}

// Validate checks the fields of the transaction.
func (stx submitTx) Validate() error {
	return validate.Check(stx)
}

func (stx submitTx) toTransaction() database.Transaction {
	return database.Transaction{
		ID:          stx.ID,
		Type:        stx.Type,
		ChainID:     stx.ChainID,
		From:        stx.From,
		To:          stx.To,
		Amount:      amount.Parse(stx.Amount),
		Fee:         amount.Parse(stx.Fee),
		Nonce:       stx.Nonce,
		BlockHeight: stx.BlockHeight,
		TimeStamp:   stx.TimeStamp,
		Data:        stx.Data,
		PublicKey:   stx.PublicKey,
		Signature:   stx.Signature,
	}
}
