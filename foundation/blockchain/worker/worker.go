// Package worker runs the background operations of a node: driving the
// candidate block to acceptance, proposing blocks, updating peers and
// sharing transactions.
package worker

import (
	"errors"
	"sync"
	"time"

	"github.com/hybridledger/dlt/foundation/blockchain/consensus"
	"github.com/hybridledger/dlt/foundation/blockchain/database"
	"github.com/hybridledger/dlt/foundation/blockchain/network"
	"github.com/hybridledger/dlt/foundation/blockchain/peer"
)

// Default intervals used when the config leaves them unset.
const (
	defaultConsensusTick    = time.Second
	defaultProposalInterval = 12 * time.Second
	defaultAdoptionTimeout  = 30 * time.Second
	defaultPeerInterval     = time.Minute
)

// EventHandler defines a function that is called when events
// occur in the background operations.
type EventHandler func(v string, args ...any)

// Config represents the configuration required to start the worker.
type Config struct {
	Engine           *consensus.Engine
	Client           *network.Client
	KnownPeers       *peer.PeerSet
	ConsensusTick    time.Duration
	ProposalInterval time.Duration
	AdoptionTimeout  time.Duration
	PeerInterval     time.Duration
	EvHandler        EventHandler
}

// Worker manages the background operations of the node.
type Worker struct {
	engine           *consensus.Engine
	client           *network.Client
	peers            *peer.PeerSet
	consensusTick    time.Duration
	proposalInterval time.Duration
	adoptionTimeout  time.Duration
	peerInterval     time.Duration
	wg               sync.WaitGroup
	shut             chan struct{}
	shutOnce         sync.Once
	startProposal    chan bool
	txSharing        chan database.Transaction
	evHandler        EventHandler
}

// Run creates a worker and starts up all the background processes.
func Run(cfg Config) (*Worker, error) {
	if cfg.Engine == nil || cfg.Client == nil || cfg.KnownPeers == nil {
		return nil, errors.New("worker config is missing a required value")
	}

	ev := cfg.EvHandler
	if ev == nil {
		ev = func(v string, args ...any) {}
	}

	w := Worker{
		engine:           cfg.Engine,
		client:           cfg.Client,
		peers:            cfg.KnownPeers,
		consensusTick:    orDefault(cfg.ConsensusTick, defaultConsensusTick),
		proposalInterval: orDefault(cfg.ProposalInterval, defaultProposalInterval),
		adoptionTimeout:  orDefault(cfg.AdoptionTimeout, defaultAdoptionTimeout),
		peerInterval:     orDefault(cfg.PeerInterval, defaultPeerInterval),
		shut:             make(chan struct{}),
		startProposal:    make(chan bool, 1),
		txSharing:        make(chan database.Transaction, maxTxShareRequests),
		evHandler:        ev,
	}

	// Update this node before starting any support G's.
	w.Sync()

	// Load the set of operations we need to run.
	operations := []func(){
		w.acceptanceOperations,
		w.proposalOperations,
		w.peerOperations,
		w.shareTxOperations,
	}

	// Set waitgroup to match the number of G's we need for the set
	// of operations we have.
	g := len(operations)
	w.wg.Add(g)

	// We don't want to return until we know all the G's are up and running.
	hasStarted := make(chan bool)

	// Start all the operational G's.
	for _, op := range operations {
		go func(op func()) {
			defer w.wg.Done()
			hasStarted <- true
			op()
		}(op)
	}

	// Wait for the G's to report they are running.
	for i := 0; i < g; i++ {
		<-hasStarted
	}

	return &w, nil
}

// Shutdown terminates the goroutines performing work.
func (w *Worker) Shutdown() {
	w.evHandler("worker: shutdown: started")
	defer w.evHandler("worker: shutdown: completed")

	w.evHandler("worker: shutdown: terminate goroutines")
	w.shutOnce.Do(func() { close(w.shut) })
	w.wg.Wait()
}

// SignalStartProposal asks for a proposal cycle to run now instead of
// waiting for the next tick. If there is already a signal pending in the
// channel, just return since a cycle will run.
func (w *Worker) SignalStartProposal() {
	select {
	case w.startProposal <- true:
	default:
	}
	w.evHandler("worker: SignalStartProposal: proposal signaled")
}

// SignalShareTx signals a share transaction operation. If
// maxTxShareRequests signals exist in the channel, we won't send these.
func (w *Worker) SignalShareTx(tx database.Transaction) {
	select {
	case w.txSharing <- tx:
		w.evHandler("worker: SignalShareTx: share Tx signaled")
	default:
		w.evHandler("worker: SignalShareTx: queue full, transactions won't be shared.")
	}
}

// =============================================================================

// isShutdown is used to test if a shutdown has been signaled.
func (w *Worker) isShutdown() bool {
	select {
	case <-w.shut:
		return true
	default:
		return false
	}
}

func orDefault(d time.Duration, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
