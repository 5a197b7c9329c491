package worker

import (
	"errors"
	"time"

	"github.com/hybridledger/dlt/foundation/blockchain/consensus"
)

// acceptanceOperations drives the candidate block towards finalization on
// every consensus tick.
func (w *Worker) acceptanceOperations() {
	w.evHandler("worker: acceptanceOperations: G started")
	defer w.evHandler("worker: acceptanceOperations: G completed")

	ticker := time.NewTicker(w.consensusTick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !w.isShutdown() {
				if !w.runAcceptanceOperation() {
					return
				}
			}
		case <-w.shut:
			w.evHandler("worker: acceptanceOperations: received shut signal")
			return
		}
	}
}

// runAcceptanceOperation runs one acceptance tick. It reports false once the
// engine has halted and there is nothing left to drive.
func (w *Worker) runAcceptanceOperation() bool {
	height := w.engine.Chain().Height()

	err := w.engine.AcceptanceTick()
	if err != nil {
		var fe *consensus.FatalError
		switch {
		case errors.Is(err, consensus.ErrHalted), errors.As(err, &fe):
			w.evHandler("worker: runAcceptanceOperation: engine halted: %s", err)
			return false
		default:
			w.evHandler("worker: runAcceptanceOperation: ERROR: %s", err)
		}
		return true
	}

	// A new block moves the proposal schedule forward right away.
	if w.engine.Chain().Height() > height {
		w.SignalStartProposal()
	}

	return true
}
