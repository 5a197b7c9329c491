package database

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hybridledger/dlt/foundation/blockchain/amount"
	"github.com/hybridledger/dlt/foundation/blockchain/signature"
)

// TxType identifies how a transaction is applied to the ledger.
type TxType uint8

// Set of transaction types.
const (
	TxNormal TxType = iota
	TxGenesis
	TxPoWSolution
	TxStakingReward
)

// String implements the fmt.Stringer interface for logging.
func (t TxType) String() string {
	switch t {
	case TxNormal:
		return "normal"
	case TxGenesis:
		return "genesis"
	case TxPoWSolution:
		return "pow-solution"
	case TxStakingReward:
		return "staking-reward"
	}
	return fmt.Sprintf("unknown(%d)", t)
}

// StakingIDPrefix marks the ids of synthetic staking reward transactions so
// they can be recognized without a lookup.
const StakingIDPrefix = "stk-"

// IsStakingID reports whether the id belongs to a staking reward.
func IsStakingID(id string) bool {
	return strings.HasPrefix(id, StakingIDPrefix)
}

// =============================================================================

// Transaction is the transactional information between two parties as it
// is recorded by the blockchain.
type Transaction struct {
	ID          string        `json:"id"`
	Type        TxType        `json:"type"`
	ChainID     uint16        `json:"chain_id"`
	From        string        `json:"from"`
	To          string        `json:"to"`
	Amount      amount.Amount `json:"amount"`
	Fee         amount.Amount `json:"fee"`
	Nonce       uint64        `json:"nonce"`
	BlockHeight uint64        `json:"block_height"` // Height the transaction was created for.
	TimeStamp   uint64        `json:"timestamp"`
	Data        []byte        `json:"data,omitempty"`
	PublicKey   string        `json:"public_key,omitempty"`
	Signature   string        `json:"signature,omitempty"`
}

// txPayload is the portion of the transaction covered by the id.
type txPayload struct {
	Type        TxType        `json:"type"`
	ChainID     uint16        `json:"chain_id"`
	From        string        `json:"from"`
	To          string        `json:"to"`
	Amount      amount.Amount `json:"amount"`
	Fee         amount.Amount `json:"fee"`
	Nonce       uint64        `json:"nonce"`
	BlockHeight uint64        `json:"block_height"`
	TimeStamp   uint64        `json:"timestamp"`
	Data        []byte        `json:"data,omitempty"`
	PublicKey   string        `json:"public_key,omitempty"`
}

// CalculateID returns the id for the transaction based on its contents.
func (tx Transaction) CalculateID() string {
	id := signature.Hash(txPayload{
		Type:        tx.Type,
		ChainID:     tx.ChainID,
		From:        tx.From,
		To:          tx.To,
		Amount:      tx.Amount,
		Fee:         tx.Fee,
		Nonce:       tx.Nonce,
		BlockHeight: tx.BlockHeight,
		TimeStamp:   tx.TimeStamp,
		Data:        tx.Data,
		PublicKey:   tx.PublicKey,
	})

	if tx.Type == TxStakingReward {
		return StakingIDPrefix + id
	}
	return id
}

// Sign uses the specified private key to sign the transaction. The from
// address and public key are taken from the key.
func (tx Transaction) Sign(privateKey *ecdsa.PrivateKey) (Transaction, error) {
	tx.From = signature.Address(privateKey)
	tx.PublicKey = signature.PublicKey(privateKey)
	tx.ID = tx.CalculateID()

	sig, err := signature.Sign(tx.ID, privateKey)
	if err != nil {
		return Transaction{}, err
	}
	tx.Signature = sig

	return tx, nil
}

// Validate verifies the transaction is well formed and carries a proper
// signature from the from address. Staking rewards are minted by the
// protocol and carry no signature.
func (tx Transaction) Validate() error {
	if tx.ID != tx.CalculateID() {
		return errors.New("transaction id does not match contents")
	}

	if tx.Amount.Sign() < 0 || tx.Fee.Sign() < 0 {
		return errors.New("transaction has a negative value")
	}

	switch tx.Type {
	case TxStakingReward, TxGenesis:
		if tx.From != signature.ZeroAddress {
			return fmt.Errorf("%s transaction must come from the zero address", tx.Type)
		}
		return nil

	case TxNormal:
		if !IsAddress(tx.To) {
			return errors.New("invalid to address")
		}
		if tx.From == tx.To {
			return fmt.Errorf("sending money to yourself, from %s, to %s", tx.From, tx.To)
		}

	case TxPoWSolution:
		if _, err := tx.PoWSolution(); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unknown transaction type %d", tx.Type)
	}

	if !IsAddress(tx.From) {
		return errors.New("invalid from address")
	}

	addr, err := signature.AddressFromPublicKey(tx.PublicKey)
	if err != nil {
		return fmt.Errorf("invalid public key: %w", err)
	}
	if addr != tx.From {
		return fmt.Errorf("public key does not belong to %s", tx.From)
	}

	if !signature.Verify(tx.ID, tx.PublicKey, tx.Signature) {
		return errors.New("invalid signature")
	}

	return nil
}

// String implements the fmt.Stringer interface for logging.
func (tx Transaction) String() string {
	return fmt.Sprintf("%s:%s:%d", tx.Type, tx.From, tx.Nonce)
}

// =============================================================================

// PoWSolution is carried in the data field of a PoW solution transaction.
type PoWSolution struct {
	BlockNum uint64 `json:"block_num"`
	Nonce    string `json:"nonce"`
}

// NewPoWSolution constructs an unsigned solution transaction.
func NewPoWSolution(chainID uint16, nonce uint64, height uint64, timeStamp uint64, sol PoWSolution) (Transaction, error) {
	data, err := json.Marshal(sol)
	if err != nil {
		return Transaction{}, err
	}

	tx := Transaction{
		Type:        TxPoWSolution,
		ChainID:     chainID,
		To:          signature.ZeroAddress,
		Amount:      amount.Zero(),
		Fee:         amount.Zero(),
		Nonce:       nonce,
		BlockHeight: height,
		TimeStamp:   timeStamp,
		Data:        data,
	}

	return tx, nil
}

// PoWSolution decodes the solution carried by the transaction.
func (tx Transaction) PoWSolution() (PoWSolution, error) {
	if tx.Type != TxPoWSolution {
		return PoWSolution{}, errors.New("not a pow solution")
	}

	var sol PoWSolution
	if err := json.Unmarshal(tx.Data, &sol); err != nil {
		return PoWSolution{}, fmt.Errorf("decoding pow solution: %w", err)
	}

	if sol.BlockNum == 0 || sol.Nonce == "" {
		return PoWSolution{}, errors.New("incomplete pow solution")
	}

	return sol, nil
}

// NewStakingReward constructs the synthetic transaction that mints a
// staking award. Everything in it derives from the block being applied so
// every node produces the same id.
func NewStakingReward(chainID uint16, to string, award amount.Amount, height uint64, targetHeight uint64, timeStamp uint64) Transaction {
	tx := Transaction{
		Type:        TxStakingReward,
		ChainID:     chainID,
		From:        signature.ZeroAddress,
		To:          to,
		Amount:      award,
		Fee:         amount.Zero(),
		Nonce:       targetHeight,
		BlockHeight: height,
		TimeStamp:   timeStamp,
	}
	tx.ID = tx.CalculateID()

	return tx
}

// =============================================================================

// IsAddress verifies whether the string represents a valid hex-encoded
// account address.
func IsAddress(a string) bool {
	const addressLength = 20

	if len(a) >= 2 && a[0] == '0' && (a[1] == 'x' || a[1] == 'X') {
		a = a[2:]
	}

	if len(a) != 2*addressLength {
		return false
	}

	for _, c := range []byte(a) {
		switch {
		case '0' <= c && c <= '9':
		case 'a' <= c && c <= 'f':
		case 'A' <= c && c <= 'F':
		default:
			return false
		}
	}

	return true
}
