// Package account provides an in-memory implementation of the
// account-manager collaborator (the peer.AccountManager interface) that
// peer sessions consult to persist successful peer registrations. Real
// persistence (a database, a filesystem-backed store) is out of scope
// here; the in-memory Manager stands in for tests and the example
// binaries.
package account

import (
	"fmt"
	"sync"

	"citadel/internal/peer"
)

// CID is the same client identifier type internal/peer uses. This
// package imports internal/peer for the type rather than the other
// way around: peer.Session holds an AccountManager interface, and
// *Manager here satisfies it by using peer.CID directly.
type CID = peer.CID

// PersistenceHandler is the narrow surface a caller can use to look up
// or remove a persisted relationship once RegisterHyperlanP2PAsServer
// has recorded it.
type PersistenceHandler interface {
	IsRegistered(a, b CID) bool
	Forget(a, b CID)
}

// Manager is an in-memory AccountManager implementation: it records
// which CID pairs have registered a peer-to-peer relationship and
// supports purging all of them (e.g. on a clean test-fixture reset).
type Manager struct {
	mu    sync.RWMutex
	pairs map[pairKey]bool
}

type pairKey struct{ a, b CID }

func normalizedPair(a, b CID) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{a, b}
}

// NewManager builds an empty in-memory account manager.
func NewManager() *Manager {
	return &Manager{pairs: make(map[pairKey]bool)}
}

// RegisterHyperlanP2PAsServer persists that a and b have completed a
// peer registration. The name matches the collaborator contract the
// networking substrate expects: the server brokering two clients'
// hyperlan peer-to-peer connection records the relationship here.
func (m *Manager) RegisterHyperlanP2PAsServer(a, b CID) error {
	if a == b {
		return fmt.Errorf("account: cannot register a peer relationship with itself (cid %d)", a)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pairs[normalizedPair(a, b)] = true
	return nil
}

// IsRegistered reports whether a and b have a recorded relationship.
func (m *Manager) IsRegistered(a, b CID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pairs[normalizedPair(a, b)]
}

// Forget removes a recorded relationship, if any.
func (m *Manager) Forget(a, b CID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pairs, normalizedPair(a, b))
}

// GetPersistenceHandler exposes the manager's lookup/removal surface
// without exposing RegisterHyperlanP2PAsServer to callers that should
// only be reading state.
func (m *Manager) GetPersistenceHandler() PersistenceHandler {
	return m
}

// PurgeHomeDirectory clears every recorded relationship. Named for the
// collaborator contract's on-disk-home-directory equivalent; this
// in-memory implementation simply empties its table.
func (m *Manager) PurgeHomeDirectory() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pairs = make(map[pairKey]bool)
	return nil
}
