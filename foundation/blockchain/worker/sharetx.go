package worker

import (
	"context"
	"time"

	"github.com/hybridledger/dlt/foundation/blockchain/database"
)

// maxTxShareRequests represents the max number of pending tx network share
// requests that can be outstanding before share requests are dropped. To keep
// this simple, a buffered channel of this arbitrary number is being used. If
// the channel does become full, requests for new transactions to be shared
// will not be accepted.
const maxTxShareRequests = 100

// shareTimeout bounds the time spent sharing a single transaction.
const shareTimeout = 10 * time.Second

// =============================================================================

// shareTxOperations handles sharing new transactions.
func (w *Worker) shareTxOperations() {
	w.evHandler("worker: shareTxOperations: G started")
	defer w.evHandler("worker: shareTxOperations: G completed")

	for {
		select {
		case tx := <-w.txSharing:
			if !w.isShutdown() {
				w.runShareTxOperation(tx)
			}
		case <-w.shut:
			w.evHandler("worker: shareTxOperations: received shut signal")
			return
		}
	}
}

// runShareTxOperation shares a new transaction with the known peers.
func (w *Worker) runShareTxOperation(tx database.Transaction) {
	w.evHandler("worker: runShareTxOperation: started: %s", tx.ID)
	defer w.evHandler("worker: runShareTxOperation: completed: %s", tx.ID)

	ctx, cancel := context.WithTimeout(context.Background(), shareTimeout)
	defer cancel()

	if err := w.client.SendTransaction(ctx, tx); err != nil {
		w.evHandler("worker: runShareTxOperation: WARNING: %s", err)
	}
}
