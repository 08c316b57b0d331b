package wire

import (
	"net"
	"testing"
)

func TestNatPacketRoundTrip_Syn(t *testing.T) {
	p := NewSyn(120, HolePunchID("sock-a"))
	data, err := EncodeNatPacket(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeNatPacket(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.IsSyn() || got.TTL() != 120 || got.ID() != HolePunchID("sock-a") {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
}

func TestNatPacketRoundTrip_SynAck(t *testing.T) {
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4242}
	p := NewSynAck(addr, HolePunchID("sock-b"))
	data, err := EncodeNatPacket(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeNatPacket(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.IsSynAck() {
		t.Fatalf("expected SynAck variant, got %+v", got)
	}
	gotAddr, err := got.BindAddr()
	if err != nil {
		t.Fatalf("bind addr: %v", err)
	}
	if gotAddr.String() != addr.String() {
		t.Fatalf("bind addr mismatch: got %s want %s", gotAddr, addr)
	}
}

func TestNatPacketDecode_Garbage(t *testing.T) {
	if _, err := DecodeNatPacket([]byte{0xff, 0x00, 0x13, 0x37}); err == nil {
		t.Fatalf("expected decode error for garbage input")
	}
}

func TestDualStackCandidateRoundTrip_MutexSet(t *testing.T) {
	c := NewMutexSet(HolePunchID("local-1"), HolePunchID("remote-2"))
	data, err := EncodeDualStackCandidate(c)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeDualStackCandidate(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.IsMutexSet() || got.PeerLocalID != "local-1" || got.PeerRemoteID != "remote-2" {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
}

func TestDualStackCandidateRoundTrip_ClaimRequest(t *testing.T) {
	c := NewClaimRequest(HolePunchID("proposer-1"), HolePunchID("authority-2"))
	data, err := EncodeDualStackCandidate(c)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeDualStackCandidate(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.IsClaimRequest() || got.PeerLocalID != "proposer-1" || got.PeerRemoteID != "authority-2" {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
}

func TestDualStackCandidateRoundTrip_WinnerCanEnd(t *testing.T) {
	c := NewWinnerCanEnd()
	data, err := EncodeDualStackCandidate(c)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeDualStackCandidate(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.IsWinnerCanEnd() {
		t.Fatalf("expected WinnerCanEnd variant, got %+v", got)
	}
}
