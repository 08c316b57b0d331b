// Package peer implements the server-side peer-routing and
// virtual-connection state machine: sessions, state containers,
// tagged-union peer signals, and the signal router that forges
// bidirectional virtual connections between two sessions.
package peer

// CID is a client identifier, uniquely naming an authenticated session
// endpoint across the fleet.
type CID uint64

// Ticket correlates an in-flight asynchronous request with its
// eventual response. Ticket 0 is reserved and never minted at runtime.
type Ticket uint64

const ReservedTicket Ticket = 0

// Sender is an outbound, cheaply-cloneable handle used to push raw
// bytes toward a session's peer (TCP always present, UDP present only
// when UdpMode is enabled). Cloning a Sender does not confer mutation
// rights over the underlying connection.
type Sender interface {
	Send(data []byte) error
}

// SenderFunc adapts a function to a Sender.
type SenderFunc func(data []byte) error

func (f SenderFunc) Send(data []byte) error { return f(data) }
