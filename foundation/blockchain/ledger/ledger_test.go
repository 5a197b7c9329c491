package ledger_test

import (
	"errors"
	"testing"

	"github.com/hybridledger/dlt/foundation/blockchain/amount"
	"github.com/hybridledger/dlt/foundation/blockchain/ledger"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_ChecksumOrderIndependent(t *testing.T) {
	type wallet struct {
		addr  string
		bal   string
		nonce uint64
	}

	wallets := []wallet{
		{addr: "0xA", bal: "50", nonce: 1},
		{addr: "0xB", bal: "12.5", nonce: 0},
		{addr: "0xC", bal: "0.00000001", nonce: 7},
	}

	t.Log("Given the need to checksum the wallet state the same way on every node.")
	{
		t.Logf("\tTest 0:\tWhen inserting the same wallets in a different order.")
		{
			l1 := ledger.New()
			for _, w := range wallets {
				l1.SetBalance(w.addr, amount.Parse(w.bal), w.nonce)
			}

			l2 := ledger.New()
			for i := len(wallets) - 1; i >= 0; i-- {
				l2.SetBalance(wallets[i].addr, amount.Parse(wallets[i].bal), wallets[i].nonce)
			}

			if l1.Checksum(false) != l2.Checksum(false) {
				t.Logf("\t\tTest 0:\tgot: %s", l1.Checksum(false))
				t.Logf("\t\tTest 0:\texp: %s", l2.Checksum(false))
				t.Fatalf("\t%s\tTest 0:\tShould get the same checksum.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould get the same checksum.", success)

			before := l1.Checksum(false)

			l1.SetBalance("0xB", amount.Parse("12.50000001"), 0)
			if l1.Checksum(false) == before {
				t.Fatalf("\t%s\tTest 0:\tShould change the checksum when a balance changes.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould change the checksum when a balance changes.", success)

			l1.SetBalance("0xB", amount.Parse("12.5"), 0)
			if l1.Checksum(false) != before {
				t.Fatalf("\t%s\tTest 0:\tShould restore the checksum when the balance is restored.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould restore the checksum when the balance is restored.", success)

			l1.SetNonce("0xB", 1)
			if l1.Checksum(false) == before {
				t.Fatalf("\t%s\tTest 0:\tShould change the checksum when a nonce changes.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould change the checksum when a nonce changes.", success)

			w, _ := l2.Wallet("0xC")
			w.Data = []byte("memo")
			l2.SetWallet(w)
			if l2.Checksum(false) == before {
				t.Fatalf("\t%s\tTest 0:\tShould change the checksum when data changes.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould change the checksum when data changes.", success)
		}
	}
}

func Test_SnapshotRevert(t *testing.T) {
	t.Log("Given the need to dry run changes against the wallet state.")
	{
		t.Logf("\tTest 0:\tWhen snapshotting, applying and reverting.")
		{
			l, err := ledger.NewFromBalances(map[string]string{"0xA": "50", "0xB": "10"})
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to construct the ledger: %s", failed, err)
			}

			before := l.Checksum(false)

			if err := l.Snapshot(); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to snapshot: %s", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould be able to snapshot.", success)

			if err := l.Snapshot(); !errors.Is(err, ledger.ErrSnapshotOutstanding) {
				t.Fatalf("\t%s\tTest 0:\tShould refuse a second snapshot: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould refuse a second snapshot.", success)

			if err := l.Debit("0xA", amount.New(20)); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to debit: %s", failed, err)
			}
			if err := l.Credit("0xC", amount.New(20)); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to credit: %s", failed, err)
			}

			if l.Checksum(true) != before {
				t.Fatalf("\t%s\tTest 0:\tShould checksum the snapshot when asked.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould checksum the snapshot when asked.", success)

			if l.Checksum(false) == before {
				t.Fatalf("\t%s\tTest 0:\tShould see the applied changes.", failed)
			}

			if err := l.Revert(); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to revert: %s", failed, err)
			}

			if l.Checksum(false) != before || l.Count() != 2 || l.Balance("0xA").CmpUnits(50) != 0 {
				t.Fatalf("\t%s\tTest 0:\tShould restore the original state.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould restore the original state.", success)

			if err := l.Revert(); !errors.Is(err, ledger.ErrNoSnapshot) {
				t.Fatalf("\t%s\tTest 0:\tShould refuse to revert twice: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould refuse to revert twice.", success)
		}

		t.Logf("\tTest 1:\tWhen committing applied changes.")
		{
			l, err := ledger.NewFromBalances(map[string]string{"0xA": "50"})
			if err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould be able to construct the ledger: %s", failed, err)
			}

			if err := l.Snapshot(); err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould be able to snapshot: %s", failed, err)
			}

			if err := l.Debit("0xA", amount.New(60)); !errors.Is(err, ledger.ErrInsufficientFunds) {
				t.Fatalf("\t%s\tTest 1:\tShould refuse to overdraw: %v", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould refuse to overdraw.", success)

			if err := l.Debit("0xA", amount.New(5)); err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould be able to debit: %s", failed, err)
			}

			if err := l.Commit(); err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould be able to commit: %s", failed, err)
			}

			if l.HasSnapshot() || l.Balance("0xA").CmpUnits(45) != 0 {
				t.Fatalf("\t%s\tTest 1:\tShould keep the committed state.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould keep the committed state.", success)
		}
	}
}

func Test_TotalSupply(t *testing.T) {
	l, err := ledger.NewFromBalances(map[string]string{"0xA": "50", "0xB": "0.5", "0xC": "49.5"})
	if err != nil {
		t.Fatalf("Should be able to construct the ledger: %s", err)
	}

	supply, err := l.TotalSupply()
	if err != nil {
		t.Fatalf("Should be able to sum the supply: %s", err)
	}

	if supply.CmpUnits(100) != 0 {
		t.Logf("got: %s", supply)
		t.Logf("exp: %s", amount.New(100))
		t.Fatalf("Should sum every balance.")
	}

	if l.Balance("0xZ").Sign() != 0 {
		t.Fatalf("Should get zero for an unknown address.")
	}

	ws := l.Wallets()
	if len(ws) != 3 || ws[0].Address != "0xA" || ws[2].Address != "0xC" {
		t.Fatalf("Should get the wallets ordered by address.")
	}
}

func Test_TotalSupplyOverflow(t *testing.T) {
	l := ledger.New()
	l.SetBalance("0xA", amount.Max(), 0)
	l.SetBalance("0xB", amount.New(1), 0)

	t.Log("Given the need to sum balances that can't be represented.")
	{
		t.Logf("\tTest 0:\tWhen the sum overflows.")
		{
			if _, err := l.TotalSupply(); !errors.Is(err, amount.ErrOverflow) {
				t.Fatalf("\t%s\tTest 0:\tShould get an overflow error, got %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould get an overflow error.", success)
		}
	}
}

func Test_Committed(t *testing.T) {
	l := ledger.New()
	l.SetBalance("0xA", amount.New(100), 3)

	view := l.Committed()

	t.Log("Given the need to read the committed state while a block is applied.")
	{
		t.Logf("\tTest 0:\tWhen a snapshot is outstanding.")
		{
			if err := l.Snapshot(); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould take a snapshot: %s", failed, err)
			}

			if err := l.Debit("0xA", amount.New(40)); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould debit the wallet: %s", failed, err)
			}
			l.SetNonce("0xA", 4)

			if view.Balance("0xA").CmpUnits(100) != 0 || view.Nonce("0xA") != 3 {
				t.Fatalf("\t%s\tTest 0:\tShould read the committed wallet, got %s/%d", failed, view.Balance("0xA"), view.Nonce("0xA"))
			}
			if l.Balance("0xA").CmpUnits(60) != 0 {
				t.Fatalf("\t%s\tTest 0:\tShould leave the live wallet debited.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould read the committed wallet.", success)
		}

		t.Logf("\tTest 1:\tWhen the snapshot is committed.")
		{
			if err := l.Commit(); err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould commit: %s", failed, err)
			}

			if view.Balance("0xA").CmpUnits(60) != 0 || view.Nonce("0xA") != 4 {
				t.Fatalf("\t%s\tTest 1:\tShould read the new state, got %s/%d", failed, view.Balance("0xA"), view.Nonce("0xA"))
			}
			t.Logf("\t%s\tTest 1:\tShould read the new state.", success)
		}
	}
}
