// Package wire implements the binary-encoded tagged unions exchanged
// during NAT traversal and dual-stack coordination.
package wire

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"net"
)

// NatPacketKind discriminates the two NatPacket variants.
type NatPacketKind uint8

const (
	NatPacketSyn NatPacketKind = iota
	NatPacketSynAck
)

// NatPacket is the tagged union sent, AEAD-sealed, inside every Method3
// hole-punch datagram. Syn advertises the sender's current TTL attempt;
// SynAck acknowledges receipt and reports the sender's local bind
// address.
type NatPacket struct {
	Kind NatPacketKind

	// SynTTL is valid only when Kind == NatPacketSyn.
	SynTTL uint32

	// SynAckAddr is valid only when Kind == NatPacketSynAck, encoded as
	// the string form of a *net.UDPAddr ("ip:port").
	SynAckAddr string

	// SenderID is the HolePunchID of the engine that sent this packet,
	// valid on both variants. The peer records it to learn which of the
	// sender's sockets this exchange belongs to (needed to populate
	// HolePunchedSocket.PeerID for dual-stack coordination — spec.md 3,
	// "Hole-Punched Socket... local_id, peer_id").
	SenderID HolePunchID
}

// NewSyn builds a Syn(ttl) packet stamped with the sender's own id.
func NewSyn(ttl uint32, senderID HolePunchID) NatPacket {
	return NatPacket{Kind: NatPacketSyn, SynTTL: ttl, SenderID: senderID}
}

// NewSynAck builds a SynAck(bind_addr) packet stamped with the
// sender's own id.
func NewSynAck(bindAddr *net.UDPAddr, senderID HolePunchID) NatPacket {
	return NatPacket{Kind: NatPacketSynAck, SynAckAddr: bindAddr.String(), SenderID: senderID}
}

func (p NatPacket) IsSyn() bool    { return p.Kind == NatPacketSyn }
func (p NatPacket) IsSynAck() bool { return p.Kind == NatPacketSynAck }

// TTL returns the Syn variant's TTL. Only meaningful when IsSyn.
func (p NatPacket) TTL() uint32 { return p.SynTTL }

// BindAddr parses the SynAck variant's reported bind address. Only
// meaningful when IsSynAck.
func (p NatPacket) BindAddr() (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp", p.SynAckAddr)
}

// ID returns the sender's HolePunchID, valid on both variants.
func (p NatPacket) ID() HolePunchID { return p.SenderID }

// EncodeNatPacket serializes a NatPacket with encoding/gob.
func EncodeNatPacket(p NatPacket) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&p); err != nil {
		return nil, fmt.Errorf("encode nat packet: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeNatPacket deserializes a NatPacket.
func DecodeNatPacket(data []byte) (NatPacket, error) {
	var p NatPacket
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&p); err != nil {
		return NatPacket{}, fmt.Errorf("decode nat packet: %w", err)
	}
	return p, nil
}
