package nat

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/ipv4"

	"citadel/internal/cryptoconfig"
	"citadel/internal/wire"
	"citadel/pkg/logger"
)

// Role is informational only: both roles execute the identical
// algorithm (spec.md 4.A — "the symmetric design eliminates role-based
// deadlocks").
type Role int

const (
	RoleInitiator Role = iota
	RoleReceiver
)

// Method3 timing constants, fixed from
// hyxe_nat/src/udp_traversal/linear/method3.rs.
const (
	ReceiveDeadline   = 2000 * time.Millisecond
	SenderHeadStart   = 10 * time.Millisecond
	RoundsPerBarrage  = 5
	RoundInterval     = 20 * time.Millisecond
	ReceiveBufferSize = 4096
)

// BarrageTTLs is the fixed (low, then high) TTL sequence: low-TTL
// packets are expected to die in intermediate routers but still open
// NAT bindings; the high-TTL barrage completes full traversal.
var BarrageTTLs = []int{2, 120}

// HolePunchedSocket is the result of a successful Method3 exchange: a
// UDP socket that has completed the Syn/SynAck handshake with a peer.
type HolePunchedSocket struct {
	Conn            *net.UDPConn
	InitialEndpoint *net.UDPAddr
	ObservedNatAddr *net.UDPAddr
	PeerBindAddr    *net.UDPAddr
	LocalID         wire.HolePunchID
	PeerID          wire.HolePunchID
}

// HolePunchError is returned for any traversal failure (spec.md 7).
type HolePunchError struct {
	Reason string
}

func (e *HolePunchError) Error() string { return fmt.Sprintf("hole punch failed: %s", e.Reason) }

func holePunchErrf(format string, args ...interface{}) error {
	return &HolePunchError{Reason: fmt.Sprintf(format, args...)}
}

// SingleHolePuncher drives one Method3 exchange over one bound UDP
// socket.
type SingleHolePuncher struct {
	LocalID   wire.HolePunchID
	Container *cryptoconfig.Container
	log       logger.Logger
}

// NewSingleHolePuncher builds a puncher bound to localID, sealing
// traffic with container.
func NewSingleHolePuncher(localID wire.HolePunchID, container *cryptoconfig.Container, log logger.Logger) *SingleHolePuncher {
	return &SingleHolePuncher{LocalID: localID, Container: container, log: log.WithComponent("nat.method3")}
}

// ExecuteEither runs the Method3 exchange over conn against the given
// candidate endpoints, for either role (the role parameter is
// informational only). It restores the socket's original TTL on every
// exit path.
func (h *SingleHolePuncher) ExecuteEither(ctx context.Context, conn *net.UDPConn, role Role, endpoints []*net.UDPAddr) (*HolePunchedSocket, error) {
	if len(endpoints) == 0 {
		return nil, holePunchErrf("no candidate endpoints supplied")
	}

	pconn := ipv4.NewConn(conn)
	defaultTTL, ttlErr := pconn.TTL()
	if ttlErr != nil {
		h.log.Warn("failed to read default TTL, restoration disabled", logger.Error(ttlErr))
	}
	restoreTTL := func() {
		if ttlErr == nil {
			if err := pconn.SetTTL(defaultTTL); err != nil {
				h.log.Warn("failed to restore TTL", logger.Error(err))
			}
		}
	}
	defer restoreTTL()

	var isDone int32
	ctx, cancel := context.WithTimeout(ctx, ReceiveDeadline)
	defer cancel()

	var result *HolePunchedSocket
	var resultErr error
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		result, resultErr = h.recvUntil(ctx, conn, endpoints, &isDone)
	}()

	go func() {
		defer wg.Done()
		h.sendBarrages(ctx, pconn, conn, endpoints, &isDone)
	}()

	wg.Wait()

	if resultErr != nil {
		return nil, resultErr
	}
	if result == nil {
		return nil, holePunchErrf("no UDP penetration detected")
	}
	result.InitialEndpoint = endpoints[0]
	result.LocalID = h.LocalID
	return result, nil
}

func (h *SingleHolePuncher) sendBarrages(ctx context.Context, pconn *ipv4.Conn, conn *net.UDPConn, endpoints []*net.UDPAddr, isDone *int32) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(SenderHeadStart):
	}

	for _, ttl := range BarrageTTLs {
		if atomic.LoadInt32(isDone) != 0 {
			return
		}
		h.sendSynBarrage(ctx, pconn, conn, ttl, endpoints, isDone)
	}
}

func (h *SingleHolePuncher) sendSynBarrage(ctx context.Context, pconn *ipv4.Conn, conn *net.UDPConn, ttl int, endpoints []*net.UDPAddr, isDone *int32) {
	if err := pconn.SetTTL(ttl); err != nil {
		h.log.Warn("failed to set TTL, continuing anyway", logger.Int("ttl", ttl), logger.Error(err))
	}

	packet, err := wire.EncodeNatPacket(wire.NewSyn(uint32(ttl), h.LocalID))
	if err != nil {
		h.log.Error("failed to encode syn packet", logger.Error(err))
		return
	}
	sealed, err := h.Container.GeneratePacket(packet)
	if err != nil {
		h.log.Error("failed to seal syn packet", logger.Error(err))
		return
	}

	ticker := time.NewTicker(RoundInterval)
	defer ticker.Stop()

	for round := 0; round < RoundsPerBarrage; round++ {
		if atomic.LoadInt32(isDone) != 0 {
			return
		}
		for _, endpoint := range endpoints {
			if _, err := conn.WriteToUDP(sealed, endpoint); err != nil {
				h.log.Warn("syn send failed, continuing", logger.Error(err))
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *SingleHolePuncher) recvUntil(ctx context.Context, conn *net.UDPConn, endpoints []*net.UDPAddr, isDone *int32) (*HolePunchedSocket, error) {
	buf := make([]byte, ReceiveBufferSize)
	var requiredNatAddr *net.UDPAddr
	var peerID wire.HolePunchID

	for {
		deadline, ok := ctx.Deadline()
		if !ok {
			deadline = time.Now().Add(ReceiveDeadline)
		}
		if err := conn.SetReadDeadline(deadline); err != nil {
			return nil, holePunchErrf("set read deadline: %v", err)
		}

		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil, holePunchErrf("no UDP penetration detected")
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil, holePunchErrf("no UDP penetration detected")
			}
			return nil, holePunchErrf("socket read: %v", err)
		}

		plaintext, ok := h.Container.DecryptPacket(buf[:n])
		if !ok {
			h.log.Debug("dropped undecryptable datagram", logger.String("from", from.String()))
			continue
		}

		packet, err := wire.DecodeNatPacket(plaintext)
		if err != nil {
			return nil, holePunchErrf("decode packet: %v", err)
		}

		switch {
		case packet.IsSyn():
			requiredNatAddr = from
			peerID = packet.ID()
			if err := h.replySynAck(conn, from); err != nil {
				h.log.Warn("synack reply failed", logger.Error(err))
			}
		case packet.IsSynAck():
			if requiredNatAddr == nil || from.String() != requiredNatAddr.String() {
				h.log.Warn("synack from unexpected address, ignoring", logger.String("from", from.String()))
				continue
			}
			peerBind, err := packet.BindAddr()
			if err != nil {
				return nil, holePunchErrf("parse peer bind addr: %v", err)
			}
			peerID = packet.ID()
			atomic.StoreInt32(isDone, 1)
			return &HolePunchedSocket{
				Conn:            conn,
				ObservedNatAddr: requiredNatAddr,
				PeerBindAddr:    peerBind,
				PeerID:          peerID,
			}, nil
		}
	}
}

func (h *SingleHolePuncher) replySynAck(conn *net.UDPConn, to *net.UDPAddr) error {
	localAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return fmt.Errorf("nat: local addr is not a UDPAddr")
	}
	packet, err := wire.EncodeNatPacket(wire.NewSynAck(localAddr, h.LocalID))
	if err != nil {
		return err
	}
	sealed, err := h.Container.GeneratePacket(packet)
	if err != nil {
		return err
	}
	for i := 0; i < 3; i++ {
		if _, err := conn.WriteToUDP(sealed, to); err != nil {
			return err
		}
	}
	return nil
}
