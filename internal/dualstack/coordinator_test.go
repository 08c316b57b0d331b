package dualstack

import (
	"context"
	"net"
	"testing"
	"time"

	"citadel/internal/cryptoconfig"
	"citadel/internal/nat"
	"citadel/internal/netbeam"
	"citadel/pkg/logger"
)

func udpSockets(t *testing.T, n int) []*net.UDPConn {
	t.Helper()
	socks := make([]*net.UDPConn, n)
	for i := range socks {
		conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
		if err != nil {
			t.Fatalf("listen udp: %v", err)
		}
		t.Cleanup(func() { conn.Close() })
		socks[i] = conn
	}
	return socks
}

func addrsOf(socks []*net.UDPConn) []*net.UDPAddr {
	addrs := make([]*net.UDPAddr, len(socks))
	for i, s := range socks {
		addrs[i] = s.LocalAddr().(*net.UDPAddr)
	}
	return addrs
}

func TestCoordinator_SingleWinner(t *testing.T) {
	log := logger.NewDefaultLogger()
	key, err := cryptoconfig.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	container, err := cryptoconfig.NewContainer(key)
	if err != nil {
		t.Fatalf("new container: %v", err)
	}

	initiatorSocks := udpSockets(t, 2)
	receiverSocks := udpSockets(t, 2)

	initiatorAddrs := addrsOf(initiatorSocks)
	receiverAddrs := addrsOf(receiverSocks)

	controlA, controlB := net.Pipe()
	initiatorChannel := netbeam.NewCandidateChannel(controlA)
	receiverChannel := netbeam.NewCandidateChannel(controlB)

	initiator := NewCoordinator(nat.RoleInitiator, initiatorChannel, container, log)
	receiver := NewCoordinator(nat.RoleReceiver, receiverChannel, container, log)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type outcome struct {
		sock *nat.HolePunchedSocket
		err  error
	}
	initiatorCh := make(chan outcome, 1)
	receiverCh := make(chan outcome, 1)

	go func() {
		sock, err := initiator.Run(ctx, initiatorSocks, receiverAddrs)
		initiatorCh <- outcome{sock, err}
	}()
	go func() {
		sock, err := receiver.Run(ctx, receiverSocks, initiatorAddrs)
		receiverCh <- outcome{sock, err}
	}()

	initOut := <-initiatorCh
	recvOut := <-receiverCh

	if initOut.err != nil {
		t.Fatalf("initiator coordinator failed: %v", initOut.err)
	}
	if recvOut.err != nil {
		t.Fatalf("receiver coordinator failed: %v", recvOut.err)
	}

	if initOut.sock.ObservedNatAddr.String() != recvOut.sock.Conn.LocalAddr().String() {
		t.Fatalf("mismatched winning pair: initiator observed %s, receiver bound %s",
			initOut.sock.ObservedNatAddr, recvOut.sock.Conn.LocalAddr())
	}
	if initOut.sock.LocalID != recvOut.sock.PeerID {
		t.Fatalf("initiator's winning id %q does not match what the receiver recorded as peer %q",
			initOut.sock.LocalID, recvOut.sock.PeerID)
	}
	if recvOut.sock.LocalID != initOut.sock.PeerID {
		t.Fatalf("receiver's winning id %q does not match what the initiator recorded as peer %q",
			recvOut.sock.LocalID, initOut.sock.PeerID)
	}
}
