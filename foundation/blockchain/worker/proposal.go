package worker

import (
	"errors"
	"time"

	"github.com/hybridledger/dlt/foundation/blockchain/consensus"
)

// proposalOperations checks on every cycle whether this node should produce
// the next block. The cycle is aligned to the proposal interval so the nodes
// on the network run their check at roughly the same moment.
func (w *Worker) proposalOperations() {
	w.evHandler("worker: proposalOperations: G started")
	defer w.evHandler("worker: proposalOperations: G completed")

	ticker := time.NewTicker(w.proposalInterval)
	defer ticker.Stop()

	// Start this on a proposal interval mark.
	resetTicker(ticker, w.proposalInterval, w.proposalInterval)

	for {
		select {
		case <-ticker.C:
			if !w.isShutdown() {
				w.runProposalOperation()
			}
		case <-w.startProposal:
			if !w.isShutdown() {
				w.runProposalOperation()
			}
		case <-w.shut:
			w.evHandler("worker: proposalOperations: received shut signal")
			return
		}

		// Reset the ticker for the next cycle.
		resetTicker(ticker, w.proposalInterval, 0)
	}
}

// runProposalOperation produces a block when this node is the elected
// proposer for the next height, when no proposer can be elected, or when
// the network has not adopted a block for longer than the adoption timeout.
func (w *Worker) runProposalOperation() {
	if w.engine.IsSynchronizing() || w.engine.HasPendingCandidate() {
		return
	}

	next := w.engine.Chain().Height() + 1
	elected := w.engine.ElectedProposer(next)
	idle := time.Since(w.engine.LastAdoption())

	switch {
	case elected == "":
		w.evHandler("worker: runProposalOperation: blk[%d]: no elected proposer", next)

	case elected == w.engine.Address():
		w.evHandler("worker: runProposalOperation: blk[%d]: SELECTED", next)

	case idle > w.adoptionTimeout:
		w.evHandler("worker: runProposalOperation: blk[%d]: proposer %s idle for %v", next, elected, idle.Round(time.Second))

	default:
		return
	}

	block, err := w.engine.ProduceNextBlock()
	if err != nil {
		switch {
		case errors.Is(err, consensus.ErrCandidatePending), errors.Is(err, consensus.ErrSynchronizing):
			w.evHandler("worker: runProposalOperation: blk[%d]: skipped: %s", next, err)
		default:
			w.evHandler("worker: runProposalOperation: blk[%d]: ERROR: %s", next, err)
		}
		return
	}

	w.evHandler("worker: runProposalOperation: proposed %s", block)
}

// =============================================================================

// resetTicker makes sure the next tick happens on the described cadence.
func resetTicker(ticker *time.Ticker, interval time.Duration, waitOn time.Duration) {
	nextTick := time.Now().Add(interval).Round(waitOn)
	diff := time.Until(nextTick)
	if diff <= 0 {
		diff = interval
	}
	ticker.Reset(diff)
}
