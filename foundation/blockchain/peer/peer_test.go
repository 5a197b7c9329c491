package peer_test

import (
	"path/filepath"
	"testing"

	"github.com/hybridledger/dlt/foundation/blockchain/peer"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_CRUD(t *testing.T) {
	type table struct {
		name  string
		peers []peer.Peer
	}

	tt := []table{
		{
			name:  "basic",
			peers: []peer.Peer{{Host: "host1"}, {Host: "host2"}, {Host: "host3"}},
		},
	}

	t.Log("Given the need to manage the set of known peers.")
	{
		for testID, tst := range tt {
			f := func(t *testing.T) {
				t.Logf("\tTest %d:\tWhen handling a %s set.", testID, tst.name)
				{
					ps := peer.NewPeerSet()

					for _, peer := range tst.peers {
						ps.Add(peer)
					}

					if ps.Add(tst.peers[0]) {
						t.Fatalf("\t%s\tTest %d:\tShould not add a known peer twice.", failed, testID)
					}

					peers := ps.Copy("")
					if len(peers) != len(tst.peers) {
						t.Logf("\t\tTest %d:\tgot: %d", testID, len(peers))
						t.Logf("\t\tTest %d:\texp: %d", testID, len(tst.peers))
						t.Fatalf("\t%s\tTest %d:\tShould get back the right peers.", failed, testID)
					}

					peers = ps.Copy("host2")
					if len(peers) != len(tst.peers)-1 {
						t.Logf("\t\tTest %d:\tgot: %d", testID, len(peers))
						t.Logf("\t\tTest %d:\texp: %d", testID, len(tst.peers)-1)
						t.Fatalf("\t%s\tTest %d:\tShould get back the right peers.", failed, testID)
					}
					t.Logf("\t%s\tTest %d:\tShould get back the right peers.", success, testID)

					ps.Remove(tst.peers[0])
					if ps.Len() != len(tst.peers)-1 {
						t.Fatalf("\t%s\tTest %d:\tShould remove the peer.", failed, testID)
					}
					t.Logf("\t%s\tTest %d:\tShould remove the peer.", success, testID)
				}
			}

			t.Run(tst.name, f)
		}
	}
}

func Test_Highest(t *testing.T) {
	t.Log("Given the need to find the peer with the tallest chain.")
	{
		t.Logf("\tTest 0:\tWhen peers report different heights.")
		{
			ps := peer.NewPeerSet()
			ps.Add(peer.New("host1"))

			if _, _, ok := ps.Highest(); ok {
				t.Fatalf("\t%s\tTest 0:\tShould not pick a peer without a status.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould not pick a peer without a status.", success)

			ps.SetStatus(peer.New("host1"), peer.PeerStatus{LatestBlockNumber: 4})
			ps.SetStatus(peer.New("host3"), peer.PeerStatus{LatestBlockNumber: 9})
			ps.SetStatus(peer.New("host2"), peer.PeerStatus{LatestBlockNumber: 9})

			best, status, ok := ps.Highest()
			if !ok || best.Host != "host2" || status.LatestBlockNumber != 9 {
				t.Logf("\t\tTest 0:\tgot: %s %d", best.Host, status.LatestBlockNumber)
				t.Logf("\t\tTest 0:\texp: host2 9")
				t.Fatalf("\t%s\tTest 0:\tShould pick the lowest host of the tallest chains.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould pick the lowest host of the tallest chains.", success)

			if ps.Len() != 3 {
				t.Fatalf("\t%s\tTest 0:\tShould add peers reporting a status.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould add peers reporting a status.", success)
		}
	}
}

func Test_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.json")

	t.Log("Given the need to remember the known peers across restarts.")
	{
		t.Logf("\tTest 0:\tWhen nothing was saved yet.")
		{
			peers, err := peer.Load(path)
			if err != nil || len(peers) != 0 {
				t.Fatalf("\t%s\tTest 0:\tShould get an empty list, got %v: %v", failed, peers, err)
			}
			t.Logf("\t%s\tTest 0:\tShould get an empty list.", success)
		}

		t.Logf("\tTest 1:\tWhen the peer set is saved and saved again.")
		{
			ps := peer.NewPeerSet()
			ps.Add(peer.New("host2"))
			ps.Add(peer.New("host1"))

			if err := peer.Save(path, ps.Copy("")); err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould save the peers: %s", failed, err)
			}

			ps.Add(peer.New("host3"))
			if err := peer.Save(path, ps.Copy("")); err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould replace the saved peers: %s", failed, err)
			}

			peers, err := peer.Load(path)
			if err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould load the peers: %s", failed, err)
			}

			exp := []peer.Peer{{Host: "host1"}, {Host: "host2"}, {Host: "host3"}}
			if len(peers) != len(exp) {
				t.Fatalf("\t%s\tTest 1:\tShould load %d peers, got %d", failed, len(exp), len(peers))
			}
			for i := range exp {
				if peers[i] != exp[i] {
					t.Fatalf("\t%s\tTest 1:\tShould load %s at %d, got %s", failed, exp[i].Host, i, peers[i].Host)
				}
			}
			t.Logf("\t%s\tTest 1:\tShould load the latest peers.", success)

			matches, _ := filepath.Glob(path + ".*")
			if len(matches) != 0 {
				t.Fatalf("\t%s\tTest 1:\tShould not leave temporary files, got %v", failed, matches)
			}
			t.Logf("\t%s\tTest 1:\tShould not leave temporary files.", success)
		}
	}
}
