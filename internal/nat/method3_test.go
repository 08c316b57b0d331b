package nat

import (
	"context"
	"net"
	"testing"
	"time"

	"golang.org/x/net/ipv4"

	"citadel/internal/cryptoconfig"
	"citadel/internal/wire"
	"citadel/pkg/logger"
)

func connTTL(conn *net.UDPConn) (int, error) {
	return ipv4.NewConn(conn).TTL()
}

func loopbackConn(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func testContainer(t *testing.T) *cryptoconfig.Container {
	t.Helper()
	key, err := cryptoconfig.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	c, err := cryptoconfig.NewContainer(key)
	if err != nil {
		t.Fatalf("new container: %v", err)
	}
	return c
}

func TestExecuteEither_LoopbackSuccess(t *testing.T) {
	log := logger.NewDefaultLogger()
	container := testContainer(t)

	connA := loopbackConn(t)
	connB := loopbackConn(t)

	addrA := connA.LocalAddr().(*net.UDPAddr)
	addrB := connB.LocalAddr().(*net.UDPAddr)

	puncherA := NewSingleHolePuncher(wire.HolePunchID("a"), container, log)
	puncherB := NewSingleHolePuncher(wire.HolePunchID("b"), container, log)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	type outcome struct {
		sock *HolePunchedSocket
		err  error
	}
	resultsA := make(chan outcome, 1)
	resultsB := make(chan outcome, 1)

	go func() {
		sock, err := puncherA.ExecuteEither(ctx, connA, RoleInitiator, []*net.UDPAddr{addrB})
		resultsA <- outcome{sock, err}
	}()
	go func() {
		sock, err := puncherB.ExecuteEither(ctx, connB, RoleReceiver, []*net.UDPAddr{addrA})
		resultsB <- outcome{sock, err}
	}()

	outA := <-resultsA
	outB := <-resultsB

	if outA.err != nil {
		t.Fatalf("puncher A failed: %v", outA.err)
	}
	if outB.err != nil {
		t.Fatalf("puncher B failed: %v", outB.err)
	}

	if outA.sock.ObservedNatAddr.String() != addrB.String() {
		t.Fatalf("A observed wrong nat addr: got %s want %s", outA.sock.ObservedNatAddr, addrB)
	}
	if outB.sock.ObservedNatAddr.String() != addrA.String() {
		t.Fatalf("B observed wrong nat addr: got %s want %s", outB.sock.ObservedNatAddr, addrA)
	}
	if outA.sock.PeerID != wire.HolePunchID("b") {
		t.Fatalf("A recorded wrong peer id: got %q want %q", outA.sock.PeerID, "b")
	}
	if outB.sock.PeerID != wire.HolePunchID("a") {
		t.Fatalf("B recorded wrong peer id: got %q want %q", outB.sock.PeerID, "a")
	}
}

func TestExecuteEither_NoPeerTimesOut(t *testing.T) {
	log := logger.NewDefaultLogger()
	container := testContainer(t)
	conn := loopbackConn(t)

	// Unreachable candidate: nothing listens here, so no SynAck ever
	// arrives and the engine must fail after the receive deadline.
	unreachable := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1}

	puncher := NewSingleHolePuncher(wire.HolePunchID("solo"), container, log)

	ctx, cancel := context.WithTimeout(context.Background(), ReceiveDeadline+500*time.Millisecond)
	defer cancel()

	_, err := puncher.ExecuteEither(ctx, conn, RoleInitiator, []*net.UDPAddr{unreachable})
	if err == nil {
		t.Fatalf("expected hole punch error, got nil")
	}
	if _, ok := err.(*HolePunchError); !ok {
		t.Fatalf("expected *HolePunchError, got %T: %v", err, err)
	}
}

func TestExecuteEither_RestoresTTL(t *testing.T) {
	log := logger.NewDefaultLogger()
	container := testContainer(t)
	conn := loopbackConn(t)

	before, err := connTTL(conn)
	if err != nil {
		t.Fatalf("read ttl: %v", err)
	}

	puncher := NewSingleHolePuncher(wire.HolePunchID("ttl-check"), container, log)
	ctx, cancel := context.WithTimeout(context.Background(), ReceiveDeadline+200*time.Millisecond)
	defer cancel()

	unreachable := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1}
	_, _ = puncher.ExecuteEither(ctx, conn, RoleInitiator, []*net.UDPAddr{unreachable})

	after, err := connTTL(conn)
	if err != nil {
		t.Fatalf("read ttl: %v", err)
	}
	if before != after {
		t.Fatalf("TTL not restored: before=%d after=%d", before, after)
	}
}
