// Package private maintains the group of handlers for node to node access.
package private

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/hybridledger/dlt/business/web/errs"
	"github.com/hybridledger/dlt/foundation/blockchain/consensus"
	"github.com/hybridledger/dlt/foundation/blockchain/database"
	"github.com/hybridledger/dlt/foundation/blockchain/peer"
	"github.com/hybridledger/dlt/foundation/blockchain/txpool"
	"github.com/hybridledger/dlt/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of node to node endpoints.
type Handlers struct {
	Log    *zap.SugaredLogger
	Engine *consensus.Engine
	Pool   *txpool.Pool
	Peers  *peer.PeerSet
}

// SubmitNewBlock takes a block shared by a peer and hands it to the
// consensus engine. The engine decides whether to adopt, merge, park or
// ignore it.
func (h Handlers) SubmitNewBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var block database.Block
	if err := web.Decode(r, &block); err != nil {
		return errs.BadRequest(err)
	}

	if err := h.Engine.ReceiveBlock(block); err != nil {
		return errs.NewTrusted(fmt.Errorf("block not received: %w", err), http.StatusNotAcceptable)
	}

	return web.Respond(ctx, w, nil, http.StatusNoContent)
}

// Block returns the block stored at the specified height.
func (h Handlers) Block(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	num, err := blockNumber(r)
	if err != nil {
		return err
	}

	block, err := h.Engine.Chain().GetBlock(num)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return errs.NotFound(err)
		}
		return err
	}

	return web.Respond(ctx, w, block, http.StatusOK)
}

// BlockTransactions returns every transaction recorded with the block at
// the specified height, staking rewards included.
func (h Handlers) BlockTransactions(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	num, err := blockNumber(r)
	if err != nil {
		return err
	}

	blockData, err := h.Engine.Chain().GetBlockData(num)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return errs.NotFound(err)
		}
		return err
	}

	return web.Respond(ctx, w, blockData.Transactions, http.StatusOK)
}

// Transaction returns a transaction known to this node.
func (h Handlers) Transaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	id := web.Param(r, "id")

	tx, exists := h.Pool.Lookup(id)
	if !exists {
		return errs.NotFound(fmt.Errorf("transaction %q not found", id))
	}

	return web.Respond(ctx, w, tx, http.StatusOK)
}

// SubmitNodeTransaction adds a transaction shared by a peer to the pool.
func (h Handlers) SubmitNodeTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var tx database.Transaction
	if err := web.Decode(r, &tx); err != nil {
		return errs.BadRequest(err)
	}

	h.Log.Infow("add node tran", "traceid", v.TraceID, "tx", tx)
	if _, err := h.Pool.Upsert(tx); err != nil {
		return errs.BadRequest(err)
	}

	return web.Respond(ctx, w, nil, http.StatusNoContent)
}

// Status returns the current status of the node.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	st := h.Engine.Status()

	status := peer.PeerStatus{
		LatestBlockChecksum: st.TipChecksum,
		LatestBlockNumber:   st.Height,
		LedgerChecksum:      st.LedgerChecksum,
		KnownPeers:          h.Peers.Copy(""),
	}

	return web.Respond(ctx, w, status, http.StatusOK)
}

// SubmitPeer is called by a node so they can be added to the known peer list.
func (h Handlers) SubmitPeer(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var pr peer.Peer
	if err := web.Decode(r, &pr); err != nil {
		return errs.BadRequest(err)
	}
	if pr.Host == "" {
		return errs.BadRequest(errors.New("peer host is required"))
	}

	if h.Peers.Add(pr) {
		h.Log.Infow("adding peer", "traceid", v.TraceID, "host", pr.Host)
	}

	return web.Respond(ctx, w, nil, http.StatusNoContent)
}

// =============================================================================

func blockNumber(r *http.Request) (uint64, error) {
	num, err := strconv.ParseUint(web.Param(r, "num"), 10, 64)
	if err != nil {
		return 0, errs.BadRequest(fmt.Errorf("invalid block number: %w", err))
	}
	return num, nil
}
