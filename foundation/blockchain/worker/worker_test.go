package worker_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/hybridledger/dlt/foundation/blockchain/amount"
	"github.com/hybridledger/dlt/foundation/blockchain/consensus"
	"github.com/hybridledger/dlt/foundation/blockchain/database"
	"github.com/hybridledger/dlt/foundation/blockchain/database/storage/memory"
	"github.com/hybridledger/dlt/foundation/blockchain/genesis"
	"github.com/hybridledger/dlt/foundation/blockchain/ledger"
	"github.com/hybridledger/dlt/foundation/blockchain/network"
	"github.com/hybridledger/dlt/foundation/blockchain/peer"
	"github.com/hybridledger/dlt/foundation/blockchain/signature"
	"github.com/hybridledger/dlt/foundation/blockchain/txpool"
	"github.com/hybridledger/dlt/foundation/blockchain/worker"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_SingleNode(t *testing.T) {
	pk, err := crypto.HexToECDSA(fmt.Sprintf("%064x", 1))
	if err != nil {
		t.Fatalf("Should be able to generate a private key: %s", err)
	}
	to, err := crypto.HexToECDSA(fmt.Sprintf("%064x", 2))
	if err != nil {
		t.Fatalf("Should be able to generate a private key: %s", err)
	}

	gen := genesis.Default()
	gen.Balances = map[string]string{signature.Address(pk): "100"}

	storage, err := memory.New()
	if err != nil {
		t.Fatalf("Should be able to open memory storage: %s", err)
	}

	chain, err := database.New(storage, 0)
	if err != nil {
		t.Fatalf("Should be able to construct the chain: %s", err)
	}

	l := ledger.New()

	pool, err := txpool.New(txpool.Config{ChainID: gen.ChainID, Ledger: l})
	if err != nil {
		t.Fatalf("Should be able to construct the pool: %s", err)
	}
	defer pool.Shutdown()

	peers := peer.NewPeerSet()
	client, err := network.New(network.Config{Host: "localhost:9080", KnownPeers: peers})
	if err != nil {
		t.Fatalf("Should be able to construct the client: %s", err)
	}

	engine, err := consensus.New(consensus.Config{
		PrivateKey:  pk,
		Genesis:     gen,
		Chain:       chain,
		Ledger:      l,
		Source:      pool,
		Broadcaster: client,
		Halt:        func(err error) { t.Errorf("Should not halt the engine: %s", err) },
	})
	if err != nil {
		t.Fatalf("Should be able to construct the engine: %s", err)
	}

	tx := database.Transaction{
		Type:    database.TxNormal,
		ChainID: gen.ChainID,
		To:      signature.Address(to),
		Amount:  amount.New(10),
		Fee:     amount.New(1),
		Nonce:   1,
	}
	tx, err = tx.Sign(pk)
	if err != nil {
		t.Fatalf("Should be able to sign the transaction: %s", err)
	}
	if _, err := pool.Upsert(tx); err != nil {
		t.Fatalf("Should be able to add the transaction: %s", err)
	}

	w, err := worker.Run(worker.Config{
		Engine:           engine,
		Client:           client,
		KnownPeers:       peers,
		ConsensusTick:    10 * time.Millisecond,
		ProposalInterval: 50 * time.Millisecond,
		PeerInterval:     time.Hour,
	})
	if err != nil {
		t.Fatalf("Should be able to start the worker: %s", err)
	}
	defer w.Shutdown()

	t.Log("Given the need to run a network of one node.")
	{
		t.Logf("\tTest 0:\tWhen the node is the only signer.")
		{
			deadline := time.Now().Add(10 * time.Second)
			for chain.Height() < 3 {
				if time.Now().After(deadline) {
					t.Fatalf("\t%s\tTest 0:\tShould grow the chain, tip is %d.", failed, chain.Height())
				}
				time.Sleep(20 * time.Millisecond)
			}
			t.Logf("\t%s\tTest 0:\tShould grow the chain.", success)

			if got := engine.Balance(signature.Address(to)); !got.Equal(amount.New(10)) {
				t.Logf("\t\tTest 0:\tgot: %s", got)
				t.Logf("\t\tTest 0:\texp: %s", amount.New(10))
				t.Fatalf("\t%s\tTest 0:\tShould apply the pooled transaction.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould apply the pooled transaction.", success)
		}
	}
}
