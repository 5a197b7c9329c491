// Package v1 contains the full set of handler functions and routes
// supported by the v1 web api.
package v1

import (
	"net/http"

	"github.com/hybridledger/dlt/app/services/node/handlers/v1/private"
	"github.com/hybridledger/dlt/app/services/node/handlers/v1/public"
	"github.com/hybridledger/dlt/foundation/blockchain/consensus"
	"github.com/hybridledger/dlt/foundation/blockchain/database"
	"github.com/hybridledger/dlt/foundation/blockchain/peer"
	"github.com/hybridledger/dlt/foundation/blockchain/txpool"
	"github.com/hybridledger/dlt/foundation/events"
	"github.com/hybridledger/dlt/foundation/nameservice"
	"github.com/hybridledger/dlt/foundation/web"
	"go.uber.org/zap"
)

const version = "v1"

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log     *zap.SugaredLogger
	Engine  *consensus.Engine
	Pool    *txpool.Pool
	Peers   *peer.PeerSet
	NS      *nameservice.NameService
	Evts    *events.Events
	ShareTx func(tx database.Transaction)
}

// PublicRoutes binds all the version 1 public routes.
func PublicRoutes(app *web.App, cfg Config) {
	pbl := public.Handlers{
		Log:     cfg.Log,
		Engine:  cfg.Engine,
		Pool:    cfg.Pool,
		NS:      cfg.NS,
		Evts:    cfg.Evts,
		ShareTx: cfg.ShareTx,
	}

	app.Handle(http.MethodGet, version, "/events", pbl.Events)
	app.Handle(http.MethodGet, version, "/status", pbl.Status)
	app.Handle(http.MethodGet, version, "/ledger/checksum", pbl.LedgerChecksum)
	app.Handle(http.MethodGet, version, "/wallet/:address", pbl.Wallet)
	app.Handle(http.MethodGet, version, "/wallets", pbl.Wallets)
	app.Handle(http.MethodGet, version, "/candidate", pbl.Candidate)
	app.Handle(http.MethodGet, version, "/difficulty", pbl.Difficulty)
	app.Handle(http.MethodGet, version, "/block/:num", pbl.Block)
	app.Handle(http.MethodGet, version, "/tx/uncommitted", pbl.Uncommitted)
	app.Handle(http.MethodPost, version, "/tx/submit", pbl.SubmitWalletTransaction)
}

// PrivateRoutes binds all the version 1 private routes.
func PrivateRoutes(app *web.App, cfg Config) {
	prv := private.Handlers{
		Log:    cfg.Log,
		Engine: cfg.Engine,
		Pool:   cfg.Pool,
		Peers:  cfg.Peers,
	}

	app.Handle(http.MethodPost, version, "/node/peers", prv.SubmitPeer)
	app.Handle(http.MethodGet, version, "/node/status", prv.Status)
	app.Handle(http.MethodPost, version, "/node/block/new", prv.SubmitNewBlock)
	app.Handle(http.MethodGet, version, "/node/block/:num", prv.Block)
	app.Handle(http.MethodGet, version, "/node/block/:num/txs", prv.BlockTransactions)
	app.Handle(http.MethodGet, version, "/node/tx/:id", prv.Transaction)
	app.Handle(http.MethodPost, version, "/node/tx/submit", prv.SubmitNodeTransaction)
}
