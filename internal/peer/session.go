package peer

import (
	"fmt"
	"sync"
	"time"

	"citadel/pkg/logger"
)

// AccountManager is the external collaborator a Session consults to
// persist peer registrations (spec.md 6). It is an interface only —
// persistence itself is out of scope for this module.
type AccountManager interface {
	RegisterHyperlanP2PAsServer(a, b CID) error
}

// trackedPosting remembers a signal this session is waiting on a
// response for, so the response can be routed back to whoever issued
// the original request.
type trackedPosting struct {
	conn      ConnectionType
	createdAt time.Time
	onComplete func(PeerSignal)
}

// Session is one authenticated endpoint's live server-side state: its
// outbound handles, its virtual-connection table, and the tickets it
// has in flight.
type Session struct {
	CID CID

	ToPrimaryStream      Sender
	UDPPrimaryOutboundTx Sender // nil when UdpMode is disabled

	State *StateContainer

	accounts AccountManager
	log      logger.Logger

	mu       sync.Mutex
	pending  map[Ticket]*trackedPosting
	nextTick uint64
	closed   bool
}

// NewSession builds a Session for an authenticated CID.
func NewSession(cid CID, toPrimary Sender, udpOutbound Sender, accounts AccountManager, log logger.Logger) *Session {
	return &Session{
		CID:                  cid,
		ToPrimaryStream:      toPrimary,
		UDPPrimaryOutboundTx: udpOutbound,
		State:                NewStateContainer(),
		accounts:             accounts,
		log:                  log.WithComponent("session").WithFields(logger.Any("cid", cid)),
		pending:              make(map[Ticket]*trackedPosting),
	}
}

// NextTicket mints a fresh, never-zero ticket for a new outbound request.
func (s *Session) NextTicket() Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTick++
	return Ticket(s.nextTick)
}

// TrackPosting records an in-flight request awaiting a response, keyed
// by ticket, so a later response can find its completion callback via
// ResolvePosting.
func (s *Session) TrackPosting(ticket Ticket, conn ConnectionType, onComplete func(PeerSignal)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[ticket] = &trackedPosting{conn: conn, createdAt: time.Now(), onComplete: onComplete}
}

// ResolvePosting removes and returns the tracked posting for a ticket,
// if one exists.
func (s *Session) ResolvePosting(ticket Ticket) (*trackedPosting, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[ticket]
	if ok {
		delete(s.pending, ticket)
	}
	return p, ok
}

// Send writes a signal out over this session's primary stream.
func (s *Session) Send(sig PeerSignal) error {
	data, err := EncodePeerSignal(sig)
	if err != nil {
		return err
	}
	return s.ToPrimaryStream.Send(data)
}

// Close tears down the session: every forged virtual connection this
// session holds is removed, and a Disconnect signal is sent to each
// peer so its mirrored half is removed too (spec.md 9, reference-
// counted removal — each side clears only its own entry, so a peer
// with connections to multiple other sessions is unaffected by one of
// them closing).
func (s *Session) Close(notifyPeer func(peerCID CID, sig PeerSignal) error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var firstErr error
	for _, peerCID := range s.State.Peers() {
		s.State.RemovePeer(peerCID)
		if notifyPeer == nil {
			continue
		}
		sig := NewDisconnect(ConnectionType{OwnerCID: peerCID, PeerCID: s.CID}, "peer session closed")
		if err := notifyPeer(peerCID, sig); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("peer: notify %d of disconnect: %w", peerCID, err)
			s.log.Warn("failed to notify peer of disconnect", logger.Error(err))
		}
	}
	return firstErr
}
