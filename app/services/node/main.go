package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/hybridledger/dlt/app/services/node/handlers"
	"github.com/hybridledger/dlt/foundation/blockchain/consensus"
	"github.com/hybridledger/dlt/foundation/blockchain/database"
	"github.com/hybridledger/dlt/foundation/blockchain/database/storage/disk"
	"github.com/hybridledger/dlt/foundation/blockchain/genesis"
	"github.com/hybridledger/dlt/foundation/blockchain/ledger"
	"github.com/hybridledger/dlt/foundation/blockchain/network"
	"github.com/hybridledger/dlt/foundation/blockchain/peer"
	"github.com/hybridledger/dlt/foundation/blockchain/signature"
	"github.com/hybridledger/dlt/foundation/blockchain/txpool"
	"github.com/hybridledger/dlt/foundation/blockchain/worker"
	"github.com/hybridledger/dlt/foundation/events"
	"github.com/hybridledger/dlt/foundation/logger"
	"github.com/hybridledger/dlt/foundation/nameservice"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("NODE")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
			PublicHost      string        `conf:"default:0.0.0.0:8080"`
			PrivateHost     string        `conf:"default:0.0.0.0:9080"`
		}
		State struct {
			NodeName            string        `conf:"default:node1"`
			KeysFolder          string        `conf:"default:zblock/keys/"`
			GenesisPath         string        `conf:"default:zblock/genesis.json"`
			DBPath              string        `conf:"default:zblock/blocks/"`
			PeersPath           string        `conf:"default:zblock/peers.json"`
			SelectStrategy      string        `conf:"default:fee"`
			KnownPeers          []string      `conf:"default:0.0.0.0:9080;0.0.0.0:9180"`
			ConsensusTick       time.Duration `conf:"default:1s"`
			ProposalInterval    time.Duration `conf:"default:12s"`
			AdoptionTimeout     time.Duration `conf:"default:30s"`
			RebroadcastInterval time.Duration `conf:"default:5s"`
			FetchTimeout        time.Duration `conf:"default:10s"`
			PeerInterval        time.Duration `conf:"default:1m"`
			CacheSize           int           `conf:"default:256"`
		}
		Metrics struct {
			Enabled bool `conf:"default:true"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "hybrid proof of work and proof of stake ledger node",
		},
	}

	// Parse will set the defaults and then look for any overriding values
	// in environment variables and command line flags.
	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	// Display the current configuration to the logs.
	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Name Service Support

	// The nameservice package provides name resolution for addresses. The
	// names come from the file names in the keys folder.
	ns, err := nameservice.New(cfg.State.KeysFolder)
	if err != nil {
		return fmt.Errorf("unable to load name service: %w", err)
	}

	// Logging the addresses for documentation in the logs.
	for address, name := range ns.Copy() {
		log.Infow("startup", "status", "nameservice", "name", name, "address", address)
	}

	// =========================================================================
	// Blockchain Support

	// The node key signs the blocks this node proposes and endorses. Staking
	// rewards are paid to its address.
	privateKey, err := nameservice.LoadKey(cfg.State.KeysFolder, cfg.State.NodeName)
	if err != nil {
		return fmt.Errorf("unable to load private key for node: %w", err)
	}
	log.Infow("startup", "status", "node key loaded", "address", signature.Address(privateKey))

	gen, err := genesis.Load(cfg.State.GenesisPath)
	if err != nil {
		return fmt.Errorf("unable to load genesis: %w", err)
	}

	// A peer set is a collection of known nodes in the network so transactions
	// and blocks can be shared.
	peerSet := peer.NewPeerSet()
	for _, host := range cfg.State.KnownPeers {
		if host != cfg.Web.PrivateHost {
			peerSet.Add(peer.New(host))
		}
	}

	// Peers learned on a previous run are saved on every accepted block.
	saved, err := peer.Load(cfg.State.PeersPath)
	if err != nil {
		return fmt.Errorf("unable to load saved peers: %w", err)
	}
	for _, pr := range saved {
		if pr.Host != cfg.Web.PrivateHost {
			peerSet.Add(pr)
		}
	}

	// The blockchain packages accept a function of this signature to allow the
	// application to log. These raw messages are also sent to any websocket
	// client that is connected into the system through the events package.
	evts := events.New()
	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s, "traceid", "00000000-0000-0000-0000-000000000000")
		evts.Send("%s", s)
	}

	storage, err := disk.New(cfg.State.DBPath)
	if err != nil {
		return fmt.Errorf("unable to open block storage: %w", err)
	}

	chain, err := database.New(storage, cfg.State.CacheSize)
	if err != nil {
		return fmt.Errorf("unable to open chain: %w", err)
	}
	defer chain.Close()

	ldg := ledger.New()

	pool, err := txpool.New(txpool.Config{
		ChainID:      gen.ChainID,
		Ledger:       ldg.Committed(),
		Strategy:     cfg.State.SelectStrategy,
		FetchTimeout: cfg.State.FetchTimeout,
		EvHandler:    ev,
	})
	if err != nil {
		return fmt.Errorf("unable to construct the transaction pool: %w", err)
	}
	defer pool.Shutdown()

	client, err := network.New(network.Config{
		Host:       cfg.Web.PrivateHost,
		KnownPeers: peerSet,
		Timeout:    cfg.State.FetchTimeout,
		EvHandler:  ev,
	})
	if err != nil {
		return fmt.Errorf("unable to construct the network client: %w", err)
	}
	pool.SetFetcher(client)

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// The engine metrics live on their own registry next to the process
	// and go runtime collectors.
	registry := prometheus.NewRegistry()
	if cfg.Metrics.Enabled {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	engine, err := consensus.New(consensus.Config{
		PrivateKey:          privateKey,
		Genesis:             gen,
		Chain:               chain,
		Ledger:              ldg,
		Source:              pool,
		Broadcaster:         client,
		Registerer:          registry,
		FetchTimeout:        cfg.State.FetchTimeout,
		RebroadcastInterval: cfg.State.RebroadcastInterval,
		EvHandler:           ev,

		// After every finalized block the known peers are saved and the
		// pool drops transactions whose nonce the block used.
		OnBlockAccepted: func(block database.Block) {
			pool.Prune()
			if err := peer.Save(cfg.State.PeersPath, peerSet.Copy(cfg.Web.PrivateHost)); err != nil {
				ev("node: OnBlockAccepted: %s: saving peers: ERROR: %s", block, err)
			}
		},

		// A ledger that can't be restored stops the node for good. There
		// is no automatic restart.
		Halt: func(err error) {
			log.Errorw("consensus", "status", "engine halted", "ERROR", err)
			select {
			case shutdown <- syscall.SIGTERM:
			default:
			}
		},
	})
	if err != nil {
		return fmt.Errorf("unable to construct the consensus engine: %w", err)
	}

	// Blocks and transactions fetched from peers flow back into the engine
	// and the pool.
	client.SetHandlers(network.Handlers{
		OnBlock: func(block database.Block) {
			if err := engine.ReceiveBlock(block); err != nil {
				ev("network: OnBlock: %s: %s", block, err)
			}
		},
		OnTransactions: func(txs []database.Transaction) {
			pool.StoreFetched(txs)
		},
	})

	// The worker package drives acceptance, proposals, peer updates and
	// transaction sharing.
	wrk, err := worker.Run(worker.Config{
		Engine:           engine,
		Client:           client,
		KnownPeers:       peerSet,
		ConsensusTick:    cfg.State.ConsensusTick,
		ProposalInterval: cfg.State.ProposalInterval,
		AdoptionTimeout:  cfg.State.AdoptionTimeout,
		PeerInterval:     cfg.State.PeerInterval,
		EvHandler:        ev,
	})
	if err != nil {
		return fmt.Errorf("unable to start the worker: %w", err)
	}
	defer wrk.Shutdown()

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug v1 router started", "host", cfg.Web.DebugHost)

	// Construct the mux for the debug calls.
	debugMux := handlers.DebugMux(build, log, engine, registry)

	// Start the service listening for debug requests.
	// Not concerned with shutting this down with load shedding.
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug v1 router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Service Start/Stop Support

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	muxCfg := handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		Engine:   engine,
		Pool:     pool,
		Peers:    peerSet,
		NS:       ns,
		Evts:     evts,
		ShareTx:  wrk.SignalShareTx,
	}

	// =========================================================================
	// Start Public Service

	log.Infow("startup", "status", "initializing V1 public API support")

	// Construct a server to service the requests against the mux.
	public := http.Server{
		Addr:         cfg.Web.PublicHost,
		Handler:      handlers.PublicMux(muxCfg),
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "public api router started", "host", public.Addr)
		serverErrors <- public.ListenAndServe()
	}()

	// =========================================================================
	// Start Private Service

	log.Infow("startup", "status", "initializing V1 private API support")

	// Construct a server to service the requests against the mux.
	private := http.Server{
		Addr:         cfg.Web.PrivateHost,
		Handler:      handlers.PrivateMux(muxCfg),
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "private api router started", "host", private.Addr)
		serverErrors <- private.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	// Blocking main and waiting for shutdown.
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		// Release any web sockets that are currently active.
		log.Infow("shutdown", "status", "shutdown web socket channels")
		evts.Shutdown()

		// Give outstanding requests a deadline for completion.
		ctx, cancelPri := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPri()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown private API started")
		if err := private.Shutdown(ctx); err != nil {
			private.Close()
			return fmt.Errorf("could not stop private service gracefully: %w", err)
		}

		// Give outstanding requests a deadline for completion.
		ctx, cancelPub := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPub()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown public API started")
		if err := public.Shutdown(ctx); err != nil {
			public.Close()
			return fmt.Errorf("could not stop public service gracefully: %w", err)
		}

		if err := engine.Halted(); err != nil {
			return fmt.Errorf("consensus engine halted: %w", err)
		}
	}

	return nil
}
