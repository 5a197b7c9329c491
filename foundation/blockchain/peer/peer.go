// Package peer maintains the set of known nodes and the last status each
// of them reported.
package peer

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Peer represents information about a Node in the network.
type Peer struct {
	Host string
}

// New contructs a new info value.
func New(host string) Peer {
	return Peer{
		Host: host,
	}
}

// Match validates if the specified host matches this node.
func (p Peer) Match(host string) bool {
	return p.Host == host
}

// =============================================================================

// PeerStatus represents what a peer reports about its chain.
type PeerStatus struct {
	LatestBlockChecksum string `json:"latest_block_checksum"`
	LatestBlockNumber   uint64 `json:"latest_block_number"`
	LedgerChecksum      string `json:"ledger_checksum"`
	KnownPeers          []Peer `json:"known_peers"`
}

// =============================================================================

// PeerSet represents the data representation to maintain a set of known
// peers and the latest status received from each.
type PeerSet struct {
	mu  sync.RWMutex
	set map[Peer]*PeerStatus
}

// NewPeerSet constructs a new info set to manage node peer information.
func NewPeerSet() *PeerSet {
	return &PeerSet{
		set: make(map[Peer]*PeerStatus),
	}
}

// Add adds a new node to the set.
func (ps *PeerSet) Add(peer Peer) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if _, exists := ps.set[peer]; exists {
		return false
	}

	ps.set[peer] = nil
	return true
}

// Remove removes a node from the set.
func (ps *PeerSet) Remove(peer Peer) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	delete(ps.set, peer)
}

// Len returns the number of known peers.
func (ps *PeerSet) Len() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	return len(ps.set)
}

// Copy returns a list of the known peers, excluding the specified host,
// sorted by host.
func (ps *PeerSet) Copy(host string) []Peer {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	var peers []Peer
	for peer := range ps.set {
		if !peer.Match(host) {
			peers = append(peers, peer)
		}
	}

	sort.Slice(peers, func(i, j int) bool {
		return peers[i].Host < peers[j].Host
	})

	return peers
}

// SetStatus records the status a peer reported. The peer is added to the
// set if it's not known yet.
func (ps *PeerSet) SetStatus(peer Peer, status PeerStatus) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.set[peer] = &status
}

// Status returns the last status recorded for the peer.
func (ps *PeerSet) Status(peer Peer) (PeerStatus, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	status, exists := ps.set[peer]
	if !exists || status == nil {
		return PeerStatus{}, false
	}

	return *status, true
}

// Highest returns the peer reporting the tallest chain. Ties go to the
// lowest host so every call with the same state returns the same peer.
func (ps *PeerSet) Highest() (Peer, PeerStatus, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	var best Peer
	var status *PeerStatus

	for peer, st := range ps.set {
		if st == nil {
			continue
		}

		switch {
		case status == nil,
			st.LatestBlockNumber > status.LatestBlockNumber,
			st.LatestBlockNumber == status.LatestBlockNumber && peer.Host < best.Host:
			best = peer
			status = st
		}
	}

	if status == nil {
		return Peer{}, PeerStatus{}, false
	}

	return best, *status, true
}

// =============================================================================

// Save writes the hosts of the peers to the file at the path. The file is
// replaced in one step so a crash never leaves half a list behind.
func Save(path string, peers []Peer) error {
	hosts := make([]string, len(peers))
	for i, peer := range peers {
		hosts[i] = peer.Host
	}

	data, err := json.MarshalIndent(hosts, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}

// Load reads the peers saved at the path. A missing file is an empty list.
func Load(path string) ([]Peer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var hosts []string
	if err := json.Unmarshal(data, &hosts); err != nil {
		return nil, err
	}

	peers := make([]Peer, len(hosts))
	for i, host := range hosts {
		peers[i] = New(host)
	}

	return peers, nil
}
