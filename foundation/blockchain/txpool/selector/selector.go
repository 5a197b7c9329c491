// Package selector provides different transaction selecting algorithms.
package selector

import (
	"fmt"

	"github.com/hybridledger/dlt/foundation/blockchain/database"
)

// List of different select strategies.
const (
	StrategyFee = "fee"
)

// Map of different select strategies with functions.
var strategies = map[string]Func{
	StrategyFee: feeSelect,
}

// Func defines a function that takes a pool of transactions grouped by
// sender address and selects howMany of them in an order based on the
// functions strategy. All selector functions MUST respect nonce ordering.
// Receiving -1 for howMany must return all the transactions in the
// strategies ordering.
type Func func(transactions map[string][]database.Transaction, howMany int) []database.Transaction

// Retrieve returns the specified select strategy function.
func Retrieve(strategy string) (Func, error) {
	fn, exists := strategies[strategy]
	if !exists {
		return nil, fmt.Errorf("strategy %q does not exist", strategy)
	}
	return fn, nil
}

// =============================================================================

// byNonce provides sorting support by the transaction nonce value.
type byNonce []database.Transaction

// Len returns the number of transactions in the list.
func (bn byNonce) Len() int {
	return len(bn)
}

// Less helps to sort the list by nonce in ascending order to keep the
// transactions in the right order of processing.
func (bn byNonce) Less(i, j int) bool {
	return bn[i].Nonce < bn[j].Nonce
}

// Swap moves transactions in the order of the nonce value.
func (bn byNonce) Swap(i, j int) {
	bn[i], bn[j] = bn[j], bn[i]
}

// =============================================================================

// byFee provides sorting support by the transaction fee value.
type byFee []database.Transaction

// Len returns the number of transactions in the list.
func (bf byFee) Len() int {
	return len(bf)
}

// Less helps to sort the list by fee in descending order to pick the
// transactions that provide the best reward. Equal fees fall back to the
// sender address so every run picks the same transactions.
func (bf byFee) Less(i, j int) bool {
	if c := bf[i].Fee.Cmp(bf[j].Fee); c != 0 {
		return c > 0
	}
	return bf[i].From < bf[j].From
}

// Swap moves transactions in the order of the fee value.
func (bf byFee) Swap(i, j int) {
	bf[i], bf[j] = bf[j], bf[i]
}
