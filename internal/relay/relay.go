// Package relay pipes a local application socket through a forged
// virtual connection's sender handles, the same bidirectional-copy
// shape the teacher used to forward a local port to a remote one, now
// wired to a session's outbound handles instead of a second dialed
// socket.
package relay

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"citadel/pkg/logger"
)

const (
	// TCPBufferSize is the chunk size used when copying from the local
	// application socket toward the virtual connection's TCP sender.
	TCPBufferSize = 32 * 1024
	// UDPBufferSize is a single-datagram read size. RunLocalToRemote
	// does not use it: it reads in TCPBufferSize chunks whichever
	// sender it feeds.
	UDPBufferSize = 2048
)

// Sender is the subset of internal/peer.Sender this package depends
// on; declared locally so relay has no import of internal/peer.
type Sender interface {
	Send(data []byte) error
}

// Relay copies bytes in both directions between a local net.Conn and
// a virtual connection's sender handles. Local->remote runs as a
// goroutine reading from the conn and calling Sender.Send; remote->
// local is driven by the caller invoking Deliver whenever the
// session's router hands it inbound bytes for this connection.
type Relay struct {
	local  net.Conn
	sender Sender
	log    logger.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewRelay builds a Relay over a local connection and an outbound
// sender (TCP or UDP — the same shape serves both).
func NewRelay(local net.Conn, sender Sender, log logger.Logger) *Relay {
	return &Relay{
		local:  local,
		sender: sender,
		log:    log.WithComponent("relay"),
		done:   make(chan struct{}),
	}
}

// RunLocalToRemote copies bytes read off the local connection to the
// sender until the connection closes, an error occurs, or ctx is
// cancelled. It blocks and should be run in its own goroutine.
func (r *Relay) RunLocalToRemote(ctx context.Context) error {
	buf := make([]byte, TCPBufferSize)
	errCh := make(chan error, 1)

	go func() {
		for {
			n, err := r.local.Read(buf)
			if n > 0 {
				if sendErr := r.sender.Send(buf[:n]); sendErr != nil {
					errCh <- fmt.Errorf("relay: send to peer: %w", sendErr)
					return
				}
			}
			if err != nil {
				if err == io.EOF {
					errCh <- nil
				} else {
					errCh <- fmt.Errorf("relay: read local: %w", err)
				}
				return
			}
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		r.local.Close()
		return ctx.Err()
	case <-r.done:
		return nil
	}
}

// Deliver writes inbound bytes received from the peer onto the local
// connection. Called by whatever owns the session's inbound dispatch
// loop once it has decoded a datagram/frame addressed to this
// connection.
func (r *Relay) Deliver(data []byte) error {
	_, err := r.local.Write(data)
	if err != nil {
		return fmt.Errorf("relay: write local: %w", err)
	}
	return nil
}

// Close shuts down the relay's local side and unblocks any in-flight
// RunLocalToRemote call.
func (r *Relay) Close() error {
	r.closeOnce.Do(func() { close(r.done) })
	return r.local.Close()
}
