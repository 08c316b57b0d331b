package peer

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"citadel/pkg/types"
)

// PeerSignalKind discriminates the four PeerSignal variants (spec.md 3).
type PeerSignalKind int

const (
	SignalPostRegister PeerSignalKind = iota
	SignalPostConnect
	SignalReceived
	SignalDisconnect
)

// PeerResponse is present on a PeerSignal that carries a response
// rather than a request.
type PeerResponse int

const (
	ResponseAccept PeerResponse = iota
	ResponseDecline
)

// ConnectionType names the two endpoints a PostRegister/PostConnect
// signal concerns.
type ConnectionType struct {
	OwnerCID CID
	PeerCID  CID
}

// SecuritySettings mirrors SessionSecuritySettings (spec.md 6): the
// negotiated AEAD/KEM parameters are opaque to this package and passed
// through to the crypto/ratchet collaborator untouched.
type SecuritySettings struct {
	Level  types.SecurityLevel
	Mode   types.SecrecyMode
}

// PeerSignal is the tagged union routed between two sessions by the
// signal router. A signal may be a request (Response == nil) or a
// response (Response != nil).
type PeerSignal struct {
	Kind PeerSignalKind

	ConnType ConnectionType

	// PostRegister fields.
	Username string

	// Shared across PostRegister/PostConnect.
	Ticket   *Ticket
	Response *PeerResponse

	// PostConnect fields.
	Security SecuritySettings
	UdpMode  types.UdpMode

	// Disconnect fields.
	Reason string
}

func NewPostRegisterRequest(conn ConnectionType, username string, ticket Ticket) PeerSignal {
	return PeerSignal{Kind: SignalPostRegister, ConnType: conn, Username: username, Ticket: &ticket}
}

func NewPostRegisterResponse(conn ConnectionType, username string, ticket Ticket, resp PeerResponse) PeerSignal {
	return PeerSignal{Kind: SignalPostRegister, ConnType: conn, Username: username, Ticket: &ticket, Response: &resp}
}

func NewPostConnectRequest(conn ConnectionType, ticket Ticket, security SecuritySettings, udpMode types.UdpMode) PeerSignal {
	return PeerSignal{Kind: SignalPostConnect, ConnType: conn, Ticket: &ticket, Security: security, UdpMode: udpMode}
}

func NewPostConnectResponse(conn ConnectionType, ticket Ticket, resp PeerResponse, security SecuritySettings, udpMode types.UdpMode) PeerSignal {
	return PeerSignal{Kind: SignalPostConnect, ConnType: conn, Ticket: &ticket, Response: &resp, Security: security, UdpMode: udpMode}
}

func NewSignalReceived(ticket Ticket) PeerSignal {
	return PeerSignal{Kind: SignalReceived, Ticket: &ticket}
}

func NewDisconnect(conn ConnectionType, reason string) PeerSignal {
	return PeerSignal{Kind: SignalDisconnect, ConnType: conn, Reason: reason}
}

func (s PeerSignal) IsRequest() bool  { return s.Response == nil }
func (s PeerSignal) IsResponse() bool { return s.Response != nil }
func (s PeerSignal) Declined() bool   { return s.Response != nil && *s.Response == ResponseDecline }

// EncodePeerSignal serializes a PeerSignal for transmission over a
// session's outbound stream.
func EncodePeerSignal(s PeerSignal) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&s); err != nil {
		return nil, fmt.Errorf("peer: encode signal: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodePeerSignal deserializes a PeerSignal.
func DecodePeerSignal(data []byte) (PeerSignal, error) {
	var s PeerSignal
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return PeerSignal{}, fmt.Errorf("peer: decode signal: %w", err)
	}
	return s, nil
}
