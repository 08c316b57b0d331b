package peer

import (
	"sync"
	"testing"

	"citadel/pkg/logger"
	"citadel/pkg/types"
)

type recordingSender struct {
	mu  sync.Mutex
	out [][]byte
}

func (r *recordingSender) Send(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = append(r.out, append([]byte(nil), data...))
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.out)
}

func TestPeerSignalRoundTrip(t *testing.T) {
	ticket := Ticket(42)
	sig := NewPostConnectRequest(
		ConnectionType{OwnerCID: 1, PeerCID: 2},
		ticket,
		SecuritySettings{Level: types.SecurityHigh, Mode: types.SecrecyPerfect},
		types.UdpEnabled,
	)

	data, err := EncodePeerSignal(sig)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodePeerSignal(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if decoded.Kind != SignalPostConnect {
		t.Fatalf("kind mismatch: got %v", decoded.Kind)
	}
	if decoded.ConnType != sig.ConnType {
		t.Fatalf("conn type mismatch: got %+v", decoded.ConnType)
	}
	if decoded.Ticket == nil || *decoded.Ticket != ticket {
		t.Fatalf("ticket mismatch: got %v", decoded.Ticket)
	}
	if !decoded.IsRequest() {
		t.Fatalf("expected request, got response")
	}
}

func TestVirtualConnectionSymmetry(t *testing.T) {
	log := logger.NewDefaultLogger()
	accounts := &stubAccountManager{}

	aTCP, bTCP := &recordingSender{}, &recordingSender{}
	a := NewSession(1, aTCP, nil, accounts, log)
	b := NewSession(2, bTCP, nil, accounts, log)

	router := NewRouter(log)
	router.RegisterSession(a)
	router.RegisterSession(b)

	security := SecuritySettings{Level: types.SecurityMedium, Mode: types.SecrecyBestEffort}
	forgeVirtualConnectionPair(a, b, security, types.UdpEnabled)

	aSide, ok := a.State.Get(2)
	if !ok {
		t.Fatalf("expected a to have a virtual connection to 2")
	}
	bSide, ok := b.State.Get(1)
	if !ok {
		t.Fatalf("expected b to have a virtual connection to 1")
	}

	if aSide.OwnerCID != 1 || aSide.PeerCID != 2 {
		t.Fatalf("a's entry has wrong CIDs: %+v", aSide)
	}
	if bSide.OwnerCID != 2 || bSide.PeerCID != 1 {
		t.Fatalf("b's entry has wrong CIDs: %+v", bSide)
	}
	if aSide.TCPSender != bTCP {
		t.Fatalf("a's TCP sender should cross-wire to b's primary stream")
	}
	if bSide.TCPSender != aTCP {
		t.Fatalf("b's TCP sender should cross-wire to a's primary stream")
	}
}

func TestTicketsAreMonotonicAndNeverZero(t *testing.T) {
	log := logger.NewDefaultLogger()
	s := NewSession(1, &recordingSender{}, nil, &stubAccountManager{}, log)

	seen := make(map[Ticket]bool)
	var prev Ticket
	for i := 0; i < 100; i++ {
		ticket := s.NextTicket()
		if ticket == ReservedTicket {
			t.Fatalf("ticket 0 must never be minted")
		}
		if seen[ticket] {
			t.Fatalf("ticket %d minted twice", ticket)
		}
		if ticket <= prev {
			t.Fatalf("tickets must be strictly increasing: got %d after %d", ticket, prev)
		}
		seen[ticket] = true
		prev = ticket
	}
}

func TestSessionCloseNotifiesPeerAndClearsState(t *testing.T) {
	log := logger.NewDefaultLogger()
	accounts := &stubAccountManager{}

	aTCP, bTCP := &recordingSender{}, &recordingSender{}
	a := NewSession(1, aTCP, nil, accounts, log)
	b := NewSession(2, bTCP, nil, accounts, log)

	router := NewRouter(log)
	router.RegisterSession(a)
	router.RegisterSession(b)

	forgeVirtualConnectionPair(a, b, SecuritySettings{}, types.UdpDisabled)

	if err := router.CloseSession(1); err != nil {
		t.Fatalf("close session: %v", err)
	}

	if _, ok := b.State.Get(1); ok {
		t.Fatalf("b's entry for 1 should have been removed on close")
	}
	if bTCP.count() != 1 {
		t.Fatalf("expected exactly one disconnect signal delivered to b, got %d", bTCP.count())
	}
	if _, ok := router.GetSession(1); ok {
		t.Fatalf("session 1 should be unregistered after close")
	}
}

type stubAccountManager struct {
	mu    sync.Mutex
	calls int
}

func (s *stubAccountManager) RegisterHyperlanP2PAsServer(a, b CID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return nil
}
