// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hybridledger/dlt/business/web/errs"
	"github.com/hybridledger/dlt/foundation/blockchain/consensus"
	"github.com/hybridledger/dlt/foundation/blockchain/database"
	"github.com/hybridledger/dlt/foundation/blockchain/txpool"
	"github.com/hybridledger/dlt/foundation/events"
	"github.com/hybridledger/dlt/foundation/nameservice"
	"github.com/hybridledger/dlt/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of public endpoints.
type Handlers struct {
	Log     *zap.SugaredLogger
	Engine  *consensus.Engine
	Pool    *txpool.Pool
	NS      *nameservice.NameService
	WS      websocket.Upgrader
	Evts    *events.Events
	ShareTx func(tx database.Transaction)
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case e, wd := <-ch:
			if !wd {
				return nil
			}

			msg, err := json.Marshal(e)
			if err != nil {
				return err
			}

			if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
				return nil
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// SubmitWalletTransaction adds a new user transaction to the pool and
// shares it with the known peers.
func (h Handlers) SubmitWalletTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var stx submitTx
	if err := web.Decode(r, &stx); err != nil {
		return err
	}
	tx := stx.toTransaction()

	h.Log.Infow("add user tran", "traceid", v.TraceID, "tx", tx)
	count, err := h.Pool.Upsert(tx)
	if err != nil {
		return errs.BadRequest(err)
	}

	if h.ShareTx != nil {
		h.ShareTx(tx)
	}

	resp := struct {
		Status  string `json:"status"`
		ID      string `json:"id"`
		Pending int    `json:"pending"`
	}{
		Status:  "transaction added to the pool",
		ID:      tx.ID,
		Pending: count,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// LedgerChecksum returns the checksum of the committed wallet state.
func (h Handlers) LedgerChecksum(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	st := h.Engine.Status()

	resp := struct {
		Height   uint64 `json:"height"`
		Checksum string `json:"checksum"`
	}{
		Height:   st.Height,
		Checksum: st.LedgerChecksum,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Wallet returns the committed state of a single address.
func (h Handlers) Wallet(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	address := web.Param(r, "address")
	if !database.IsAddress(address) {
		return errs.BadRequest(fmt.Errorf("invalid address %q", address))
	}

	wlt, exists := h.Engine.Wallet(address)
	if !exists {
		return errs.NotFound(fmt.Errorf("wallet %q not found", address))
	}

	resp := wallet{
		Address: wlt.Address,
		Name:    h.NS.Lookup(wlt.Address),
		Balance: wlt.Balance,
		Nonce:   wlt.Nonce,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Wallets returns the committed state of every address.
func (h Handlers) Wallets(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	wlts := h.Engine.Wallets()

	supply, err := h.Engine.TotalSupply()
	if err != nil {
		return err
	}

	resp := wallets{
		LatestBlock: h.Engine.Chain().Height(),
		TotalSupply: supply,
		Uncommitted: h.Pool.Count(),
		Wallets:     make([]wallet, len(wlts)),
	}

	for i, wlt := range wlts {
		resp.Wallets[i] = wallet{
			Address: wlt.Address,
			Name:    h.NS.Lookup(wlt.Address),
			Balance: wlt.Balance,
			Nonce:   wlt.Nonce,
		}
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Candidate returns the block currently gathering signatures.
func (h Handlers) Candidate(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	block, exists := h.Engine.PendingCandidate()
	if !exists {
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}

	resp := candidate{
		Block:             block,
		Signers:           block.UniqueSignatureCount(),
		RequiredConsensus: h.Engine.RequiredConsensus(),
		ElectedProposer:   h.Engine.ElectedProposer(block.Number),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Uncommitted returns the user transactions waiting for a block, ordered by
// sender and nonce.
func (h Handlers) Uncommitted(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	txs := h.Pool.Pending()
	sort.Slice(txs, func(i, j int) bool {
		if txs[i].From != txs[j].From {
			return txs[i].From < txs[j].From
		}
		return txs[i].Nonce < txs[j].Nonce
	})

	return web.Respond(ctx, w, txs, http.StatusOK)
}

// Difficulty returns the difficulty required of the next block.
func (h Handlers) Difficulty(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	resp := struct {
		Height     uint64 `json:"height"`
		Difficulty uint64 `json:"difficulty"`
	}{
		Height:     h.Engine.Chain().Height() + 1,
		Difficulty: h.Engine.CurrentDifficulty(),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Block returns the block stored at the specified height.
func (h Handlers) Block(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	num, err := strconv.ParseUint(web.Param(r, "num"), 10, 64)
	if err != nil {
		return errs.BadRequest(fmt.Errorf("invalid block number: %w", err))
	}

	blockData, err := h.Engine.Chain().GetBlockData(num)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return errs.NotFound(err)
		}
		return err
	}

	return web.Respond(ctx, w, blockData, http.StatusOK)
}

// Status returns the consensus status of the node.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.Engine.Status(), http.StatusOK)
}
