package peer

import "sync"

// VirtualConnectionKind names the kind of logical channel a virtual
// connection represents. LocalGroupPeer is the only variant this
// system forges today (two sessions on the same server, per spec.md
// 4.D).
type VirtualConnectionKind int

const (
	VirtualConnLocalGroupPeer VirtualConnectionKind = iota
)

// VirtualConnection is a logical bidirectional channel between two
// CIDs, multiplexed over the server's two physical sessions (spec.md
// 3). The UDP sender is optional: absent in TCP-only mode.
type VirtualConnection struct {
	Kind      VirtualConnectionKind
	OwnerCID  CID
	PeerCID   CID
	TCPSender Sender
	UDPSender Sender // nil when UdpMode is disabled
}

// StateContainer owns a session's virtual-connection table, keyed by
// peer CID. Exclusive-locked for mutation (spec.md 5: "Virtual-
// connection entries are inserted atomically under each state
// container's exclusive lock").
type StateContainer struct {
	mu    sync.RWMutex
	conns map[CID]*VirtualConnection
}

// NewStateContainer builds an empty state container.
func NewStateContainer() *StateContainer {
	return &StateContainer{conns: make(map[CID]*VirtualConnection)}
}

// Insert installs a virtual connection entry keyed by its peer CID.
func (sc *StateContainer) Insert(vc *VirtualConnection) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.conns[vc.PeerCID] = vc
}

// InsertPair installs firstVC into first and secondVC into second as a
// single atomic step: both containers' locks are held for the whole
// operation, so no observer can ever see one half of a forged pair
// without the other (spec.md 5's atomicity guarantee extended across
// both sides of the pair, not just within one container).
//
// Callers must always present the pair of containers in the same
// global order (forgeVirtualConnectionPair does this by ascending
// CID) so that concurrently forging (a, b) and (b, a) can never
// deadlock by acquiring the two locks in opposite order.
func InsertPair(first, second *StateContainer, firstVC, secondVC *VirtualConnection) {
	if first == second {
		// Degenerate case (a session forging a pair with itself); still
		// correct under a single lock acquisition.
		first.mu.Lock()
		defer first.mu.Unlock()
		first.conns[firstVC.PeerCID] = firstVC
		first.conns[secondVC.PeerCID] = secondVC
		return
	}

	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	first.conns[firstVC.PeerCID] = firstVC
	second.conns[secondVC.PeerCID] = secondVC
}

// Get returns the virtual connection to peerCID, if any.
func (sc *StateContainer) Get(peerCID CID) (*VirtualConnection, bool) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	vc, ok := sc.conns[peerCID]
	return vc, ok
}

// RemovePeer removes the entry for peerCID, if present, returning
// whether anything was removed. Called from Session.Close and from
// the disconnect signal path so both sides of a forged pair are torn
// down together (spec.md 9: disconnect cleanup).
func (sc *StateContainer) RemovePeer(peerCID CID) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if _, ok := sc.conns[peerCID]; !ok {
		return false
	}
	delete(sc.conns, peerCID)
	return true
}

// Peers returns every peer CID with a live virtual connection.
func (sc *StateContainer) Peers() []CID {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	peers := make([]CID, 0, len(sc.conns))
	for cid := range sc.conns {
		peers = append(peers, cid)
	}
	return peers
}
