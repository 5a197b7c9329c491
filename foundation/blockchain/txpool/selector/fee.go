package selector

import (
	"sort"

	"github.com/hybridledger/dlt/foundation/blockchain/database"
)

// feeSelect returns transactions with the best fee while respecting the
// nonce for each sender.
var feeSelect = func(m map[string][]database.Transaction, howMany int) []database.Transaction {
	if howMany == -1 {
		for _, txs := range m {
			howMany += len(txs)
		}
		howMany++
	}

	// Sort the transactions per sender by nonce, and the senders themselves
	// so the rows come out the same on every call.
	senders := make([]string, 0, len(m))
	for from := range m {
		if len(m[from]) > 1 {
			sort.Sort(byNonce(m[from]))
		}
		senders = append(senders, from)
	}
	sort.Strings(senders)

	// Pick the first transaction in the slice for each sender. Each
	// iteration represents a new row of selections. Keep doing that until
	// all the transactions have been selected.
	var rows [][]database.Transaction
	for {
		var row []database.Transaction
		for _, from := range senders {
			if len(m[from]) > 0 {
				row = append(row, m[from][0])
				m[from] = m[from][1:]
			}
		}
		if row == nil {
			break
		}
		rows = append(rows, row)
	}

	// Sort each row by fee unless we will take all transactions from that
	// row anyway. Keep pulling transactions from each row until the amount
	// is fulfilled or there are no more transactions.
	final := []database.Transaction{}
done:
	for _, row := range rows {
		need := howMany - len(final)
		if len(row) > need {
			sort.Sort(byFee(row))
			final = append(final, row[:need]...)
			break done
		}
		final = append(final, row...)
	}

	return final
}
