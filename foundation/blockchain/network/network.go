// Package network implements the node to node communication over HTTP. It
// shares blocks and transactions with the known peers and asks them for
// data this node is missing.
package network

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hybridledger/dlt/foundation/blockchain/database"
	"github.com/hybridledger/dlt/foundation/blockchain/peer"
	"golang.org/x/sync/errgroup"
)

const baseURL = "http://%s/v1/node"

// Defaults used when the config leaves them unset.
const (
	defaultTimeout     = 10 * time.Second
	defaultConcurrency = 8
)

// ErrNotFound is returned when no peer could provide the requested data.
var ErrNotFound = errors.New("not found on any peer")

// EventHandler defines a function that is called when events
// occur in the processing of network requests.
type EventHandler func(v string, args ...any)

// Handlers receive the data peers return for the broadcast requests.
type Handlers struct {
	OnBlock        func(block database.Block)
	OnTransactions func(txs []database.Transaction)
}

// Config represents the configuration required to construct a client.
type Config struct {
	Host        string
	KnownPeers  *peer.PeerSet
	Timeout     time.Duration
	Concurrency int
	Client      *http.Client
	EvHandler   EventHandler
}

// Client talks to the known peers.
type Client struct {
	host        string
	peers       *peer.PeerSet
	timeout     time.Duration
	concurrency int
	client      *http.Client
	evHandler   EventHandler

	mu       sync.RWMutex
	handlers Handlers
}

// New constructs a client for the specified peer set.
func New(cfg Config) (*Client, error) {
	if cfg.KnownPeers == nil {
		return nil, errors.New("network config requires a peer set")
	}

	ev := cfg.EvHandler
	if ev == nil {
		ev = func(v string, args ...any) {}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	c := Client{
		host:        cfg.Host,
		peers:       cfg.KnownPeers,
		timeout:     timeout,
		concurrency: concurrency,
		client:      client,
		evHandler:   ev,
	}

	return &c, nil
}

// SetHandlers installs the callbacks that receive fetched data. The engine
// and the client reference each other so they are connected after both are
// constructed.
func (c *Client) SetHandlers(h Handlers) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlers = h
}

// Host returns the host this node is reachable on.
func (c *Client) Host() string {
	return c.host
}

// KnownPeers returns the peers other than this node.
func (c *Client) KnownPeers() []peer.Peer {
	return c.peers.Copy(c.host)
}

// =============================================================================
// These methods implement the consensus.Broadcaster interface.

// BroadcastNewBlock shares the block and its current signatures with every
// known peer. It doesn't wait for the peers to answer.
func (c *Client) BroadcastNewBlock(block database.Block) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		err := c.fanOut(ctx, func(ctx context.Context, pr peer.Peer) error {
			url := fmt.Sprintf("%s/block/new", fmt.Sprintf(baseURL, pr.Host))
			return c.send(ctx, http.MethodPost, url, block, nil)
		})

		if err != nil {
			c.evHandler("network: BroadcastNewBlock: %s: WARNING: %s", block, err)
		}
	}()
}

// BroadcastGetBlock asks the peers for the block at the specified height.
// The first block returned is delivered to the OnBlock handler.
func (c *Client) BroadcastGetBlock(height uint64) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		block, err := c.RequestBlock(ctx, height)
		if err != nil {
			c.evHandler("network: BroadcastGetBlock: blk[%d]: WARNING: %s", height, err)
			return
		}

		c.mu.RLock()
		onBlock := c.handlers.OnBlock
		c.mu.RUnlock()

		if onBlock != nil {
			onBlock(block)
		}
	}()
}

// BroadcastGetBlockTransactions asks the peers for every transaction of the
// block at the specified height. The result is delivered to the
// OnTransactions handler.
func (c *Client) BroadcastGetBlockTransactions(height uint64) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		txs, err := c.FetchBlockTransactions(ctx, height)
		if err != nil {
			c.evHandler("network: BroadcastGetBlockTransactions: blk[%d]: WARNING: %s", height, err)
			return
		}

		c.mu.RLock()
		onTxs := c.handlers.OnTransactions
		c.mu.RUnlock()

		if onTxs != nil {
			onTxs(txs)
		}
	}()
}

// =============================================================================
// These methods implement the txpool.Fetcher interface.

// FetchTransaction asks the peers for the transaction with the specified id
// and returns the first answer.
func (c *Client) FetchTransaction(ctx context.Context, id string) (database.Transaction, error) {
	tx, err := first(ctx, c, func(ctx context.Context, pr peer.Peer) (database.Transaction, error) {
		url := fmt.Sprintf("%s/tx/%s", fmt.Sprintf(baseURL, pr.Host), id)

		var tx database.Transaction
		err := c.send(ctx, http.MethodGet, url, nil, &tx)
		return tx, err
	})

	if err != nil {
		return database.Transaction{}, fmt.Errorf("tx[%s]: %w", id, err)
	}

	return tx, nil
}

// FetchBlockTransactions asks the peers for the transactions of the block at
// the specified height and returns the first answer.
func (c *Client) FetchBlockTransactions(ctx context.Context, height uint64) ([]database.Transaction, error) {
	txs, err := first(ctx, c, func(ctx context.Context, pr peer.Peer) ([]database.Transaction, error) {
		url := fmt.Sprintf("%s/block/%d/txs", fmt.Sprintf(baseURL, pr.Host), height)

		var txs []database.Transaction
		err := c.send(ctx, http.MethodGet, url, nil, &txs)
		return txs, err
	})

	if err != nil {
		return nil, fmt.Errorf("blk[%d] txs: %w", height, err)
	}

	return txs, nil
}

// =============================================================================

// RequestBlock asks the peers for the block at the specified height and
// returns the first answer.
func (c *Client) RequestBlock(ctx context.Context, height uint64) (database.Block, error) {
	block, err := first(ctx, c, func(ctx context.Context, pr peer.Peer) (database.Block, error) {
		url := fmt.Sprintf("%s/block/%d", fmt.Sprintf(baseURL, pr.Host), height)

		var block database.Block
		err := c.send(ctx, http.MethodGet, url, nil, &block)
		return block, err
	})

	if err != nil {
		return database.Block{}, fmt.Errorf("blk[%d]: %w", height, err)
	}

	return block, nil
}

// SendTransaction shares a transaction with every known peer.
func (c *Client) SendTransaction(ctx context.Context, tx database.Transaction) error {
	return c.fanOut(ctx, func(ctx context.Context, pr peer.Peer) error {
		url := fmt.Sprintf("%s/tx/submit", fmt.Sprintf(baseURL, pr.Host))
		return c.send(ctx, http.MethodPost, url, tx, nil)
	})
}

// RequestPeerStatus asks a peer for its chain status and known peers.
func (c *Client) RequestPeerStatus(ctx context.Context, pr peer.Peer) (peer.PeerStatus, error) {
	url := fmt.Sprintf("%s/status", fmt.Sprintf(baseURL, pr.Host))

	var ps peer.PeerStatus
	if err := c.send(ctx, http.MethodGet, url, nil, &ps); err != nil {
		return peer.PeerStatus{}, err
	}

	c.evHandler("network: RequestPeerStatus: peer-node[%s]: latest-blknum[%d]: peer-list[%s]", pr.Host, ps.LatestBlockNumber, ps.KnownPeers)

	return ps, nil
}

// RequestAddPeer lets a peer know this node is available.
func (c *Client) RequestAddPeer(ctx context.Context, pr peer.Peer) error {
	url := fmt.Sprintf("%s/peers", fmt.Sprintf(baseURL, pr.Host))
	return c.send(ctx, http.MethodPost, url, peer.New(c.host), nil)
}

// =============================================================================

// fanOut runs the request against every known peer with bounded
// concurrency. Failures are collected, not short circuited, so one dead
// peer doesn't stop the others from being reached.
func (c *Client) fanOut(ctx context.Context, request func(ctx context.Context, pr peer.Peer) error) error {
	peers := c.KnownPeers()
	if len(peers) == 0 {
		return nil
	}

	var mu sync.Mutex
	var errs []error

	var g errgroup.Group
	g.SetLimit(c.concurrency)

	for _, pr := range peers {
		g.Go(func() error {
			if err := request(ctx, pr); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", pr.Host, err))
				mu.Unlock()
			}
			return nil
		})
	}

	g.Wait()

	return errors.Join(errs...)
}

// first runs the request against the known peers in parallel and returns
// the first successful answer. The remaining requests are cancelled.
func first[T any](ctx context.Context, c *Client, request func(ctx context.Context, pr peer.Peer) (T, error)) (T, error) {
	var zero T

	peers := c.KnownPeers()
	if len(peers) == 0 {
		return zero, ErrNotFound
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	var result T
	found := false

	var g errgroup.Group
	g.SetLimit(c.concurrency)

	for _, pr := range peers {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}

			v, err := request(ctx, pr)
			if err != nil {
				if ctx.Err() == nil {
					c.evHandler("network: first: %s: %s", pr.Host, err)
				}
				return nil
			}

			mu.Lock()
			defer mu.Unlock()

			if !found {
				found = true
				result = v
				cancel()
			}
			return nil
		})
	}

	g.Wait()

	if !found {
		return zero, ErrNotFound
	}

	return result, nil
}

// send is a helper function to send an HTTP request to a node.
func (c *Client) send(ctx context.Context, method string, url string, dataSend any, dataRecv any) error {
	var body io.Reader
	if dataSend != nil {
		data, err := json.Marshal(dataSend)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if dataSend != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if resp.StatusCode != http.StatusOK {
		msg, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	if dataRecv != nil {
		if err := json.NewDecoder(resp.Body).Decode(dataRecv); err != nil {
			return err
		}
	}

	return nil
}
