package peer

import (
	"fmt"
	"sync"

	"citadel/pkg/logger"
	"citadel/pkg/types"
)

// Router owns every live Session on a server and routes PeerSignals
// between them, forging virtual connections on a successful
// PostConnect exchange (spec.md 4.C/4.D).
type Router struct {
	mu       sync.RWMutex
	sessions map[CID]*Session
	log      logger.Logger
}

// NewRouter builds an empty Router.
func NewRouter(log logger.Logger) *Router {
	return &Router{sessions: make(map[CID]*Session), log: log.WithComponent("router")}
}

// RegisterSession installs a session, replacing any prior session for
// the same CID.
func (r *Router) RegisterSession(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.CID] = s
}

// Unregister removes a session from the routing table.
func (r *Router) Unregister(cid CID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, cid)
}

// GetSession returns the live session for a CID, if any.
func (r *Router) GetSession(cid CID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[cid]
	return s, ok
}

// notifyPeer is passed to Session.Close so it can deliver a Disconnect
// signal through this router rather than holding a direct reference
// to every other session. It also removes the peer's mirrored entry
// for the closing session (sig.ConnType.PeerCID).
func (r *Router) notifyPeer(peerCID CID, sig PeerSignal) error {
	peer, ok := r.GetSession(peerCID)
	if !ok {
		return nil // peer already gone, nothing to notify
	}
	peer.State.RemovePeer(sig.ConnType.PeerCID)
	return peer.Send(sig)
}

// CloseSession tears down a session's virtual connections and
// unregisters it.
func (r *Router) CloseSession(cid CID) error {
	s, ok := r.GetSession(cid)
	if !ok {
		return nil
	}
	err := s.Close(r.notifyPeer)
	r.Unregister(cid)
	return err
}

// RoutePostRegister forwards a PostRegister signal from fromCID to the
// session named by its ConnType.PeerCID; requests and responses are
// both routed that way, and no ticket is tracked here. The
// account-manager registration itself runs detached: a registration
// failure is only logged, never propagated to the router's caller.
func (r *Router) RoutePostRegister(accounts AccountManager, fromCID CID, sig PeerSignal) error {
	from, ok := r.GetSession(fromCID)
	if !ok {
		return fmt.Errorf("peer: unknown session %d", fromCID)
	}
	toCID := sig.ConnType.PeerCID
	to, ok := r.GetSession(toCID)
	if !ok {
		return fmt.Errorf("peer: unknown peer session %d", toCID)
	}

	if sig.IsResponse() {
		return r.completePostRegister(accounts, from, to, sig)
	}

	if err := to.Send(sig); err != nil {
		return fmt.Errorf("peer: deliver post-register to %d: %w", toCID, err)
	}
	return nil
}

// completePostRegister runs once the receiving side has answered a
// PostRegister request: on acceptance, it persists the relationship
// via the account manager (off the caller's goroutine, matching the
// original's detached-task error policy) and forwards the response to
// the original requester.
func (r *Router) completePostRegister(accounts AccountManager, from, to *Session, response PeerSignal) error {
	if !response.Declined() && accounts != nil {
		a, b := from.CID, to.CID
		go func() {
			if err := accounts.RegisterHyperlanP2PAsServer(a, b); err != nil {
				r.log.Error("post-register persistence failed", logger.Any("a", a), logger.Any("b", b), logger.Error(err))
			}
		}()
	}
	if err := to.Send(response); err != nil {
		return fmt.Errorf("peer: deliver post-register response to %d: %w", to.CID, err)
	}
	return nil
}

// RoutePostConnect forwards a PostConnect exchange. On an accepting
// response it forges a symmetric pair of VirtualConnection entries —
// one in each session's StateContainer — cross-wiring their sender
// handles, and locks both state containers in CID order to avoid the
// classic two-lock deadlock (grounded on post_connect.rs's ordering of
// the two sessions' internal state mutexes by ascending CID).
func (r *Router) RoutePostConnect(fromCID CID, sig PeerSignal) error {
	from, ok := r.GetSession(fromCID)
	if !ok {
		return fmt.Errorf("peer: unknown session %d", fromCID)
	}
	toCID := sig.ConnType.PeerCID
	to, ok := r.GetSession(toCID)
	if !ok {
		return fmt.Errorf("peer: unknown peer session %d", toCID)
	}

	if sig.IsResponse() {
		if !sig.Declined() {
			forgeVirtualConnectionPair(from, to, sig.Security, sig.UdpMode)
		}
		if err := to.Send(sig); err != nil {
			return fmt.Errorf("peer: deliver post-connect response to %d: %w", to.CID, err)
		}
		return nil
	}

	if err := to.Send(sig); err != nil {
		return fmt.Errorf("peer: deliver post-connect to %d: %w", toCID, err)
	}
	return nil
}

// forgeVirtualConnectionPair installs both halves of a bidirectional
// virtual connection in one atomic step, locking the two sessions'
// state containers in ascending CID order (InsertPair) so neither half
// is ever observable without the other.
func forgeVirtualConnectionPair(a, b *Session, security SecuritySettings, udpMode types.UdpMode) {
	first, second := a, b
	if first.CID > second.CID {
		first, second = second, first
	}
	_ = security // negotiated parameters are opaque to the router; passed through to the crypto collaborator elsewhere

	firstVC := &VirtualConnection{
		Kind:      VirtualConnLocalGroupPeer,
		OwnerCID:  first.CID,
		PeerCID:   second.CID,
		TCPSender: second.ToPrimaryStream,
		UDPSender: udpSenderOrNil(udpMode, second.UDPPrimaryOutboundTx),
	}
	secondVC := &VirtualConnection{
		Kind:      VirtualConnLocalGroupPeer,
		OwnerCID:  second.CID,
		PeerCID:   first.CID,
		TCPSender: first.ToPrimaryStream,
		UDPSender: udpSenderOrNil(udpMode, first.UDPPrimaryOutboundTx),
	}

	InsertPair(first.State, second.State, firstVC, secondVC)
}

func udpSenderOrNil(mode types.UdpMode, s Sender) Sender {
	if mode == types.UdpDisabled {
		return nil
	}
	return s
}

// RouteDisconnect forwards a Disconnect signal and removes both sides'
// virtual connection entries.
func (r *Router) RouteDisconnect(fromCID CID, sig PeerSignal) error {
	from, ok := r.GetSession(fromCID)
	if ok {
		from.State.RemovePeer(sig.ConnType.PeerCID)
	}
	to, ok := r.GetSession(sig.ConnType.PeerCID)
	if !ok {
		return nil
	}
	to.State.RemovePeer(fromCID)
	if err := to.Send(sig); err != nil {
		return fmt.Errorf("peer: deliver disconnect to %d: %w", to.CID, err)
	}
	return nil
}
