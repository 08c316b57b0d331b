package wire

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// HolePunchID names a specific candidate socket within a dual-stack
// session's coordination messages. Opaque outside this package.
type HolePunchID string

// DualStackCandidateKind discriminates the three DualStackCandidate
// variants.
type DualStackCandidateKind uint8

const (
	CandidateMutexSet DualStackCandidateKind = iota
	CandidateWinnerCanEnd
	CandidateClaimRequest
)

// DualStackCandidate is the control message exchanged over the
// reliable-ordered channel during dual-stack coordination. ClaimRequest
// proposes a winning socket pair to the peer holding the distributed
// mutex; MutexSet is that peer's confirmation of the pair that actually
// acquired the mutex (which need not be the pair a ClaimRequest
// proposed — the peer's own local sockets race the same mutex);
// WinnerCanEnd is the loser's acknowledgment that lets the winner
// release it.
type DualStackCandidate struct {
	Kind DualStackCandidateKind

	// PeerLocalID/PeerRemoteID are valid when Kind == CandidateMutexSet
	// or Kind == CandidateClaimRequest. For MutexSet they are expressed
	// from the recipient's perspective: PeerLocalID names one of the
	// recipient's own sockets, PeerRemoteID names the sender's matching
	// socket. For ClaimRequest they are expressed from the sender's
	// (proposer's) perspective instead, since the recipient hasn't yet
	// agreed to anything: PeerLocalID names the proposer's own winning
	// socket, PeerRemoteID names the recipient's socket that it paired
	// with, learned via the Syn/SynAck handshake's sender id.
	PeerLocalID  HolePunchID
	PeerRemoteID HolePunchID
}

// NewMutexSet builds a MutexSet(local, remote) candidate message.
func NewMutexSet(local, remote HolePunchID) DualStackCandidate {
	return DualStackCandidate{Kind: CandidateMutexSet, PeerLocalID: local, PeerRemoteID: remote}
}

// NewWinnerCanEnd builds a WinnerCanEnd candidate message.
func NewWinnerCanEnd() DualStackCandidate {
	return DualStackCandidate{Kind: CandidateWinnerCanEnd}
}

// NewClaimRequest builds a ClaimRequest proposing the sender's own
// winning socket (local) paired with the recipient's matching socket
// (peer), as learned during that socket's own Syn/SynAck exchange.
func NewClaimRequest(local, peer HolePunchID) DualStackCandidate {
	return DualStackCandidate{Kind: CandidateClaimRequest, PeerLocalID: local, PeerRemoteID: peer}
}

func (c DualStackCandidate) IsMutexSet() bool     { return c.Kind == CandidateMutexSet }
func (c DualStackCandidate) IsWinnerCanEnd() bool { return c.Kind == CandidateWinnerCanEnd }
func (c DualStackCandidate) IsClaimRequest() bool { return c.Kind == CandidateClaimRequest }

// EncodeDualStackCandidate serializes a DualStackCandidate with gob.
func EncodeDualStackCandidate(c DualStackCandidate) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&c); err != nil {
		return nil, fmt.Errorf("encode dual-stack candidate: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeDualStackCandidate deserializes a DualStackCandidate.
func DecodeDualStackCandidate(data []byte) (DualStackCandidate, error) {
	var c DualStackCandidate
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&c); err != nil {
		return DualStackCandidate{}, fmt.Errorf("decode dual-stack candidate: %w", err)
	}
	return c, nil
}
