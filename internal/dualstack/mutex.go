// Package dualstack implements the Dual-Stack Coordinator: it runs one
// Method3 engine per locally bound socket and resolves which socket
// "wins" when multiple sockets succeed concurrently on both sides.
package dualstack

import "sync"

// DistributedMutex is the "first-to-set-value-wins" primitive from
// spec.md 9: Acquire returns a Guard at most once, to whichever of its
// callers reaches it first — there is no preferred side. Only the
// Guard holder may call Set, and only its first call takes effect. The
// mutex itself does not cross the wire; each side runs its own
// instance and races every candidate source it has (its own sockets,
// and any claim proposed by the peer) against it, so the one genuine
// winner is whichever candidate's goroutine calls Acquire first.
type DistributedMutex struct {
	mu       sync.Mutex
	acquired bool
	value    interface{}
}

// NewDistributedMutex builds an unacquired mutex.
func NewDistributedMutex() *DistributedMutex {
	return &DistributedMutex{}
}

// Guard is returned by a successful Acquire. Set may be called exactly
// once on a given Guard; since Acquire itself is exclusive, that call
// always takes effect.
type Guard struct {
	m   *DistributedMutex
	set bool
}

// Acquire attempts to take the mutex. ok is false if some other caller
// (local or remote-originated) already acquired it first — i.e., this
// candidate lost the race.
func (m *DistributedMutex) Acquire() (*Guard, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acquired {
		return nil, false
	}
	m.acquired = true
	return &Guard{m: m}, true
}

// Set publishes value as the agreed-upon winner. Calls after the first
// are ignored.
func (g *Guard) Set(value interface{}) {
	g.m.mu.Lock()
	defer g.m.mu.Unlock()
	if g.set {
		return
	}
	g.set = true
	g.m.value = value
}

// Value returns the value set via Guard.Set, if any.
func (m *DistributedMutex) Value() (interface{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value, m.acquired
}
