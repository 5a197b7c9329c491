package network_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hybridledger/dlt/foundation/blockchain/database"
	"github.com/hybridledger/dlt/foundation/blockchain/network"
	"github.com/hybridledger/dlt/foundation/blockchain/peer"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

// node fakes the private API of a peer.
type node struct {
	srv    *httptest.Server
	txs    map[string]database.Transaction
	blocks map[string]database.Block
	newBlk chan database.Block
}

func newNode(t *testing.T) *node {
	n := node{
		txs:    make(map[string]database.Transaction),
		blocks: make(map[string]database.Block),
		newBlk: make(chan database.Block, 10),
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/node/tx/{id}", func(w http.ResponseWriter, r *http.Request) {
		tx, exists := n.txs[r.PathValue("id")]
		if !exists {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(tx)
	})

	mux.HandleFunc("GET /v1/node/block/{num}", func(w http.ResponseWriter, r *http.Request) {
		block, exists := n.blocks[r.PathValue("num")]
		if !exists {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(block)
	})

	mux.HandleFunc("POST /v1/node/block/new", func(w http.ResponseWriter, r *http.Request) {
		var block database.Block
		if err := json.NewDecoder(r.Body).Decode(&block); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		n.newBlk <- block
		w.WriteHeader(http.StatusNoContent)
	})

	n.srv = httptest.NewServer(mux)
	t.Cleanup(n.srv.Close)

	return &n
}

func (n *node) host() string {
	return strings.TrimPrefix(n.srv.URL, "http://")
}

func newClient(t *testing.T, nodes ...*node) *network.Client {
	ps := peer.NewPeerSet()
	ps.Add(peer.New("self:9080"))
	for _, n := range nodes {
		ps.Add(peer.New(n.host()))
	}

	client, err := network.New(network.Config{
		Host:       "self:9080",
		KnownPeers: ps,
		Timeout:    5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Should be able to construct the client: %s", err)
	}

	return client
}

// =============================================================================

func Test_FetchTransaction(t *testing.T) {
	empty := newNode(t)
	holder := newNode(t)

	tx := database.Transaction{ID: "0xabc", Nonce: 7}
	holder.txs[tx.ID] = tx

	client := newClient(t, empty, holder)

	t.Log("Given the need to fetch a transaction from the peers.")
	{
		t.Logf("\tTest 0:\tWhen only one peer knows the transaction.")
		{
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			got, err := client.FetchTransaction(ctx, tx.ID)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould get the transaction: %s", failed, err)
			}
			if got.ID != tx.ID || got.Nonce != tx.Nonce {
				t.Logf("\t\tTest 0:\tgot: %+v", got)
				t.Logf("\t\tTest 0:\texp: %+v", tx)
				t.Fatalf("\t%s\tTest 0:\tShould get the transaction.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould get the transaction.", success)
		}

		t.Logf("\tTest 1:\tWhen no peer knows the transaction.")
		{
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if _, err := client.FetchTransaction(ctx, "0xdef"); err == nil {
				t.Fatalf("\t%s\tTest 1:\tShould get an error.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould get an error.", success)
		}
	}
}

func Test_Broadcast(t *testing.T) {
	n1 := newNode(t)
	n2 := newNode(t)

	block := database.Block{Number: 3, BlockChecksum: "0x01"}
	n2.blocks["3"] = block

	client := newClient(t, n1, n2)

	t.Log("Given the need to share blocks with the peers.")
	{
		t.Logf("\tTest 0:\tWhen broadcasting a new block.")
		{
			client.BroadcastNewBlock(block)

			for _, n := range []*node{n1, n2} {
				select {
				case got := <-n.newBlk:
					if got.Number != block.Number {
						t.Fatalf("\t%s\tTest 0:\tShould receive blk[%d], got blk[%d].", failed, block.Number, got.Number)
					}
				case <-time.After(5 * time.Second):
					t.Fatalf("\t%s\tTest 0:\tShould reach every peer.", failed)
				}
			}
			t.Logf("\t%s\tTest 0:\tShould reach every peer.", success)
		}

		t.Logf("\tTest 1:\tWhen asking the peers for a block.")
		{
			got := make(chan database.Block, 1)
			client.SetHandlers(network.Handlers{
				OnBlock: func(block database.Block) { got <- block },
			})

			client.BroadcastGetBlock(3)

			select {
			case b := <-got:
				if b.BlockChecksum != block.BlockChecksum {
					t.Fatalf("\t%s\tTest 1:\tShould deliver the block, got %s.", failed, b.BlockChecksum)
				}
			case <-time.After(5 * time.Second):
				t.Fatalf("\t%s\tTest 1:\tShould deliver the block.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould deliver the block.", success)
		}
	}
}
