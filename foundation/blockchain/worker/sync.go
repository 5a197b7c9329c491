package worker

import (
	"context"
	"time"
)

// maxSyncBatch is the number of blocks requested from the network in one
// sync pass. The engine parks blocks above the next height, so the batch
// stays below the parking capacity.
const maxSyncBatch = 32

// syncTimeout bounds one sync pass.
const syncTimeout = 30 * time.Second

// Sync updates the peer list and catches the chain up with the tallest
// peer.
func (w *Worker) Sync() {
	w.evHandler("worker: sync: started")
	defer w.evHandler("worker: sync: completed")

	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()

	w.runPeersOperation(ctx)
	w.runSyncOperation(ctx)
}

// runSyncOperation compares the tip with the tallest peer. A node more than
// one block behind enters sync mode and pulls the next batch of blocks.
func (w *Worker) runSyncOperation(ctx context.Context) {
	pr, status, ok := w.peers.Highest()
	if !ok {
		return
	}

	tip := w.engine.Chain().Height()
	if status.LatestBlockNumber <= tip+1 {
		return
	}

	w.evHandler("worker: runSyncOperation: %s: latest-blknum[%d] tip[%d]", pr.Host, status.LatestBlockNumber, tip)
	w.engine.EnterSyncMode(status.LatestBlockNumber)

	last := min(status.LatestBlockNumber, tip+maxSyncBatch)
	for num := tip + 1; num <= last; num++ {
		if w.isShutdown() {
			return
		}

		block, err := w.client.RequestBlock(ctx, num)
		if err != nil {
			w.evHandler("worker: runSyncOperation: blk[%d]: ERROR: %s", num, err)
			return
		}

		if err := w.engine.ReceiveBlock(block); err != nil {
			w.evHandler("worker: runSyncOperation: blk[%d]: ERROR: %s", num, err)
			return
		}
	}
}
