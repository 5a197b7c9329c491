package worker

import (
	"context"
	"time"

	"github.com/hybridledger/dlt/foundation/blockchain/peer"
)

// peerOperations handles finding new peers and catching up with them.
func (w *Worker) peerOperations() {
	w.evHandler("worker: peerOperations: G started")
	defer w.evHandler("worker: peerOperations: G completed")

	ticker := time.NewTicker(w.peerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !w.isShutdown() {
				w.Sync()
			}
		case <-w.shut:
			w.evHandler("worker: peerOperations: received shut signal")
			return
		}
	}
}

// runPeersOperation updates the peer list and the status of every peer.
func (w *Worker) runPeersOperation(ctx context.Context) {
	w.evHandler("worker: runPeersOperation: started")
	defer w.evHandler("worker: runPeersOperation: completed")

	for _, pr := range w.client.KnownPeers() {

		// Retrieve the status of this peer.
		peerStatus, err := w.client.RequestPeerStatus(ctx, pr)
		if err != nil {
			w.evHandler("worker: runPeersOperation: queryPeerStatus: %s: ERROR: %s", pr.Host, err)
			w.peers.Remove(pr)
			continue
		}
		w.peers.SetStatus(pr, peerStatus)

		// Add new peers to this nodes list.
		w.addNewPeers(peerStatus.KnownPeers)
	}

	// Get the latest peers and let them know this node is available to chat.
	for _, pr := range w.client.KnownPeers() {
		if err := w.client.RequestAddPeer(ctx, pr); err != nil {
			w.evHandler("worker: runPeersOperation: addPeer: %s: ERROR: %s", pr.Host, err)
		}
	}
}

// addNewPeers takes the list of known peers and makes sure they are included
// in the nodes list of know peers.
func (w *Worker) addNewPeers(knownPeers []peer.Peer) {
	for _, pr := range knownPeers {

		// Don't add this running node to the known peer list.
		if pr.Match(w.client.Host()) {
			continue
		}

		if w.peers.Add(pr) {
			w.evHandler("worker: addNewPeers: adding peer-node %s", pr.Host)
		}
	}
}
