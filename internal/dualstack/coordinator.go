package dualstack

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"citadel/internal/cryptoconfig"
	"citadel/internal/nat"
	"citadel/internal/netbeam"
	"citadel/internal/wire"
	"citadel/pkg/logger"
)

// engineResult is what a running single-socket engine reports back to
// the coordinator's dispatch loop.
type engineResult struct {
	localID wire.HolePunchID
	sock    *nat.HolePunchedSocket
	err     error
}

// resultTable records every engine outcome seen so far and lets a
// waiter block until a specific engine's outcome is known — this
// backs both the rebuild procedure and the race-free fast path (spec.md
// 4.B).
type resultTable struct {
	mu        sync.Mutex
	completed map[wire.HolePunchID]*engineResult
	waiters   map[wire.HolePunchID][]chan *engineResult
}

func newResultTable() *resultTable {
	return &resultTable{
		completed: make(map[wire.HolePunchID]*engineResult),
		waiters:   make(map[wire.HolePunchID][]chan *engineResult),
	}
}

func (t *resultTable) record(res engineResult) {
	t.mu.Lock()
	t.completed[res.localID] = &res
	waiting := t.waiters[res.localID]
	delete(t.waiters, res.localID)
	t.mu.Unlock()
	for _, w := range waiting {
		w <- &res
		close(w)
	}
}

func (t *resultTable) await(ctx context.Context, id wire.HolePunchID) (*engineResult, bool) {
	t.mu.Lock()
	if res, ok := t.completed[id]; ok {
		t.mu.Unlock()
		return res, true
	}
	ch := make(chan *engineResult, 1)
	t.waiters[id] = append(t.waiters[id], ch)
	t.mu.Unlock()

	select {
	case res := <-ch:
		return res, true
	case <-ctx.Done():
		return nil, false
	}
}

// Coordinator runs one Method3 engine per locally bound socket and
// resolves a single agreed-upon winner with the peer over a
// CandidateChannel control connection.
//
// Arbitration is genuinely distributed per spec.md 9: the Initiator
// hosts the DistributedMutex and races two candidate sources against
// it — its own first successful local socket, and the first
// ClaimRequest the Receiver proposes over the wire — so either side's
// success can win. The Receiver proposes every local success it sees
// (not just its first), so a fast Initiator loss doesn't strand the
// protocol waiting on a Receiver socket that never pairs with it.
// Whichever candidate actually acquires the mutex is published back to
// the Receiver as MutexSet; exactly one ever crosses the channel, and
// both sides agree on the same (local_id, peer_id) pair.
type Coordinator struct {
	role      nat.Role
	channel   *netbeam.CandidateChannel
	container *cryptoconfig.Container
	log       logger.Logger
}

// NewCoordinator builds a Coordinator.
func NewCoordinator(role nat.Role, channel *netbeam.CandidateChannel, container *cryptoconfig.Container, log logger.Logger) *Coordinator {
	return &Coordinator{role: role, channel: channel, container: container, log: log.WithComponent("dualstack")}
}

// Run drives the coordination protocol to completion, returning the
// single HolePunchedSocket agreed upon by both sides.
func (c *Coordinator) Run(ctx context.Context, sockets []*net.UDPConn, peerEndpoints []*net.UDPAddr) (*nat.HolePunchedSocket, error) {
	if len(sockets) == 0 {
		return nil, fmt.Errorf("dualstack: no local sockets configured")
	}

	table := newResultTable()
	punchers := make(map[wire.HolePunchID]*nat.SingleHolePuncher, len(sockets))
	conns := make(map[wire.HolePunchID]*net.UDPConn, len(sockets))
	ids := make([]wire.HolePunchID, len(sockets))

	engineCtx, cancelEngines := context.WithCancel(ctx)
	defer cancelEngines()

	resultsCh := make(chan engineResult, len(sockets))
	for i, sock := range sockets {
		id := wire.HolePunchID(fmt.Sprintf("sock-%d", i))
		ids[i] = id
		puncher := nat.NewSingleHolePuncher(id, c.container, c.log)
		punchers[id] = puncher
		conns[id] = sock

		go func(puncher *nat.SingleHolePuncher, conn *net.UDPConn, id wire.HolePunchID) {
			sock, err := puncher.ExecuteEither(engineCtx, conn, c.role, peerEndpoints)
			resultsCh <- engineResult{localID: id, sock: sock, err: err}
		}(puncher, sock, id)
	}

	go func() {
		for i := 0; i < len(sockets); i++ {
			select {
			case res := <-resultsCh:
				table.record(res)
			case <-engineCtx.Done():
				return
			}
		}
	}()

	if c.role == nat.RoleInitiator {
		return c.runAsAuthority(ctx, engineCtx, cancelEngines, table, ids, punchers, conns, peerEndpoints)
	}
	return c.runAsProposer(ctx, engineCtx, cancelEngines, table, ids, punchers, conns, peerEndpoints)
}

// authorityWinner is the outcome of racing the Authority's own
// firstSuccess against an incoming ClaimRequest from the Proposer.
// authoritySock is non-nil only when the local race won (the claim
// path hasn't necessarily waited for its named socket to finish).
type authorityWinner struct {
	authorityID   wire.HolePunchID
	authoritySock *nat.HolePunchedSocket
	proposerID    wire.HolePunchID
}

// runAsAuthority hosts the DistributedMutex and races two independent
// candidate sources against it: this side's own first successful local
// socket, and the first ClaimRequest the peer proposes. Whichever
// Acquires first is the genuine winner — this side's local sockets
// carry no structural advantage, so a Receiver whose sockets all
// succeed while every Initiator socket fails still wins the race.
func (c *Coordinator) runAsAuthority(
	ctx, engineCtx context.Context,
	cancelEngines context.CancelFunc,
	table *resultTable,
	ids []wire.HolePunchID,
	punchers map[wire.HolePunchID]*nat.SingleHolePuncher,
	conns map[wire.HolePunchID]*net.UDPConn,
	peerEndpoints []*net.UDPAddr,
) (*nat.HolePunchedSocket, error) {
	mutex := NewDistributedMutex()
	decided := make(chan authorityWinner, 1)

	claimCtx, stopClaimReader := context.WithCancel(ctx)
	defer stopClaimReader()

	go func() {
		id, sock, err := c.firstSuccess(ctx, table, ids, punchers, conns, peerEndpoints)
		if err != nil {
			c.log.Warn("authority: no local socket succeeded", logger.Error(err))
			return
		}
		guard, ok := mutex.Acquire()
		if !ok {
			return
		}
		guard.Set(id)
		decided <- authorityWinner{authorityID: id, authoritySock: sock, proposerID: sock.PeerID}
	}()

	go func() {
		for {
			candidate, err := c.recvCandidate(claimCtx)
			if err != nil {
				return
			}
			if !candidate.IsClaimRequest() {
				continue
			}
			guard, ok := mutex.Acquire()
			if !ok {
				return
			}
			guard.Set(candidate.PeerRemoteID)
			decided <- authorityWinner{authorityID: candidate.PeerRemoteID, proposerID: candidate.PeerLocalID}
			return
		}
	}()

	var winner authorityWinner
	select {
	case winner = <-decided:
	case <-ctx.Done():
		return nil, fmt.Errorf("dualstack: cancelled before any candidate won the race")
	}

	stopClaimReader()

	sock := winner.authoritySock
	if sock == nil {
		var err error
		sock, err = c.resolveSelected(ctx, winner.authorityID, table, punchers[winner.authorityID], conns[winner.authorityID], peerEndpoints)
		if err != nil {
			cancelEngines()
			return nil, err
		}
	}
	cancelEngines()
	cleanse(sock)

	if err := c.channel.Send(wire.NewMutexSet(winner.proposerID, winner.authorityID)); err != nil {
		return nil, fmt.Errorf("dualstack: publish mutex set: %w", err)
	}

	if err := c.awaitWinnerCanEnd(ctx); err != nil {
		return nil, err
	}
	return sock, nil
}

// runAsProposer streams a ClaimRequest for every local socket that
// succeeds (not just the first, since the Authority's own sockets may
// win the race against this side's first candidate) while waiting for
// the Authority's final MutexSet, then resolves the agreed socket (via
// the race-free fast path or rebuild) and acknowledges with
// WinnerCanEnd.
func (c *Coordinator) runAsProposer(
	ctx, engineCtx context.Context,
	cancelEngines context.CancelFunc,
	table *resultTable,
	ids []wire.HolePunchID,
	punchers map[wire.HolePunchID]*nat.SingleHolePuncher,
	conns map[wire.HolePunchID]*net.UDPConn,
	peerEndpoints []*net.UDPAddr,
) (*nat.HolePunchedSocket, error) {
	claimCtx, stopClaims := context.WithCancel(ctx)
	defer stopClaims()
	go c.streamClaims(claimCtx, table, ids)

	for {
		candidate, err := c.channel.Recv()
		if err != nil {
			return nil, fmt.Errorf("dualstack: control channel recv: %w", err)
		}
		if !candidate.IsMutexSet() {
			continue
		}
		stopClaims()

		selected := candidate.PeerLocalID
		sock, err := c.resolveSelected(ctx, selected, table, punchers[selected], conns[selected], peerEndpoints)
		cancelEngines()
		if err != nil {
			return nil, err
		}

		cleanse(sock)
		if sendErr := c.channel.Send(wire.NewWinnerCanEnd()); sendErr != nil {
			return nil, fmt.Errorf("dualstack: send winner-can-end: %w", sendErr)
		}
		return sock, nil
	}
}

// streamClaims sends a ClaimRequest for every local engine that
// succeeds, until every engine has reported in or ctx is cancelled
// (the Authority has already decided and no longer needs more
// candidates). Engines are awaited one at a time in map iteration
// order, so claims follow that order rather than completion order: a
// slow engine delays the claims of engines awaited after it.
func (c *Coordinator) streamClaims(ctx context.Context, table *resultTable, ids []wire.HolePunchID) {
	remaining := make(map[wire.HolePunchID]bool, len(ids))
	for _, id := range ids {
		remaining[id] = true
	}

	for len(remaining) > 0 {
		for id := range remaining {
			res, ok := table.await(ctx, id)
			if !ok {
				return
			}
			delete(remaining, id)
			if res.err != nil {
				c.log.Warn("local engine failed, not claimable", logger.String("local_id", string(id)), logger.Error(res.err))
				continue
			}
			if err := c.channel.Send(wire.NewClaimRequest(id, res.sock.PeerID)); err != nil {
				c.log.Warn("failed to send claim request", logger.Error(err))
			}
		}
	}
}

// recvCandidate wraps the control channel's blocking Recv with context
// cancellation.
func (c *Coordinator) recvCandidate(ctx context.Context) (wire.DualStackCandidate, error) {
	type result struct {
		cand wire.DualStackCandidate
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		cand, err := c.channel.Recv()
		ch <- result{cand, err}
	}()
	select {
	case r := <-ch:
		return r.cand, r.err
	case <-ctx.Done():
		return wire.DualStackCandidate{}, ctx.Err()
	}
}

// firstSuccess returns a successful engine, or a failure once every
// engine has reported in without success. Engines are awaited one at a
// time in map iteration order, so the engine returned is the first
// success in that order, not necessarily the earliest to complete.
func (c *Coordinator) firstSuccess(
	ctx context.Context,
	table *resultTable,
	ids []wire.HolePunchID,
	punchers map[wire.HolePunchID]*nat.SingleHolePuncher,
	conns map[wire.HolePunchID]*net.UDPConn,
	peerEndpoints []*net.UDPAddr,
) (wire.HolePunchID, *nat.HolePunchedSocket, error) {
	remaining := make(map[wire.HolePunchID]bool, len(ids))
	for _, id := range ids {
		remaining[id] = true
	}

	for len(remaining) > 0 {
		for id := range remaining {
			res, ok := table.await(ctx, id)
			if !ok {
				return "", nil, fmt.Errorf("dualstack: cancelled waiting for %s", id)
			}
			delete(remaining, id)
			if res.err == nil {
				return id, res.sock, nil
			}
			c.log.Warn("local engine failed, filed for possible rebuild", logger.String("local_id", string(id)), logger.Error(res.err))
		}
	}
	return "", nil, fmt.Errorf("dualstack: all local sockets failed to hole-punch")
}

// resolveSelected obtains a HolePunchedSocket for the selected id: the
// race-free fast path returns immediately if that engine already
// succeeded; otherwise it waits for the in-flight engine, and failing
// that, retries the engine once against the peer's full candidate
// list (the "rebuild" procedure, simplified from spec.md 4.B's
// kill-switch broadcast since each coordinator already runs exactly
// one engine per local id rather than a pool to rebroadcast to).
func (c *Coordinator) resolveSelected(
	ctx context.Context,
	id wire.HolePunchID,
	table *resultTable,
	puncher *nat.SingleHolePuncher,
	conn *net.UDPConn,
	peerEndpoints []*net.UDPAddr,
) (*nat.HolePunchedSocket, error) {
	res, ok := table.await(ctx, id)
	if !ok {
		return nil, fmt.Errorf("dualstack: cancelled waiting for selected socket %s", id)
	}
	if res.err == nil {
		return res.sock, nil
	}

	c.log.Warn("rebuilding selected socket after prior failure", logger.String("local_id", string(id)))
	retryCtx, cancel := context.WithTimeout(ctx, nat.ReceiveDeadline+time.Second)
	defer cancel()
	sock, err := puncher.ExecuteEither(retryCtx, conn, c.role, peerEndpoints)
	if err != nil {
		return nil, fmt.Errorf("dualstack: rebuild failed for %s: %w", id, err)
	}
	return sock, nil
}

func (c *Coordinator) awaitWinnerCanEnd(ctx context.Context) error {
	for {
		candidate, err := c.channel.Recv()
		if err != nil {
			return fmt.Errorf("dualstack: control channel recv: %w", err)
		}
		if candidate.IsWinnerCanEnd() {
			return nil
		}
	}
}

// cleanse drains any datagrams that arrived on the winning socket
// after the handshake completed but before the socket was handed off,
// so the caller starts with an empty receive queue. This is the
// "cleanse" operation spec.md 9 leaves underspecified; here it is a
// bounded non-blocking drain.
func cleanse(sock *nat.HolePunchedSocket) {
	if sock == nil || sock.Conn == nil {
		return
	}
	buf := make([]byte, nat.ReceiveBufferSize)
	_ = sock.Conn.SetReadDeadline(time.Now().Add(5 * time.Millisecond))
	for {
		if _, _, err := sock.Conn.ReadFromUDP(buf); err != nil {
			break
		}
	}
	_ = sock.Conn.SetReadDeadline(time.Time{})
}
