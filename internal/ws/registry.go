// Package ws holds the WebSocket plumbing for a room: live connections and
// the registry they are broadcast through.
package ws

import (
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// Peer is a registered connection a room can deliver frames to.
type Peer interface {
	ID() string
	// Send queues a frame and reports whether it was accepted.
	Send(data []byte) bool
	Close(code websocket.StatusCode, reason string) error
}

// Registry tracks the set of currently open peers for one room. Iteration
// order is unspecified.
type Registry struct {
	mu    sync.RWMutex
	peers map[Peer]*entry
}

type entry struct {
	lastActive time.Time
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		peers: make(map[Peer]*entry),
	}
}

// Add registers p. It returns false if p was already registered.
func (r *Registry) Add(p Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[p]; ok {
		return false
	}
	r.peers[p] = &entry{lastActive: time.Now()}
	return true
}

// Touch records activity from p so it is not reaped as idle.
func (r *Registry) Touch(p Peer) {
	r.mu.Lock()
	if e, ok := r.peers[p]; ok {
		e.lastActive = time.Now()
	}
	r.mu.Unlock()
}

// Reap unregisters and returns every peer idle for longer than ttl as of
// now. The caller closes them.
func (r *Registry) Reap(ttl time.Duration, now time.Time) []Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stale []Peer
	for p, e := range r.peers {
		if now.Sub(e.lastActive) > ttl {
			stale = append(stale, p)
			delete(r.peers, p)
		}
	}
	return stale
}

// Remove unregisters p. Removing an unknown peer is a no-op that returns
// false.
func (r *Registry) Remove(p Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[p]; !ok {
		return false
	}
	delete(r.peers, p)
	return true
}

// Contains reports whether p is registered.
func (r *Registry) Contains(p Peer) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.peers[p]
	return ok
}

// Len returns the number of registered peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// ForEach calls fn for every registered peer. An error from one call does
// not stop the iteration; the number of failed calls is returned.
func (r *Registry) ForEach(fn func(Peer) error) int {
	failed := 0
	for _, p := range r.snapshot() {
		if err := fn(p); err != nil {
			failed++
		}
	}
	return failed
}

// Broadcast queues data on every registered peer and returns how many
// accepted it. A peer that rejects the frame stays registered.
func (r *Registry) Broadcast(data []byte) int {
	delivered := 0
	for _, p := range r.snapshot() {
		if p.Send(data) {
			delivered++
		}
	}
	return delivered
}

// Clear unregisters every peer and returns them.
func (r *Registry) Clear() []Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Peer, 0, len(r.peers))
	for p := range r.peers {
		out = append(out, p)
	}
	r.peers = make(map[Peer]*entry)
	return out
}

// snapshot copies the peer set so the lock is not held while sending.
func (r *Registry) snapshot() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Peer, 0, len(r.peers))
	for p := range r.peers {
		out = append(out, p)
	}
	return out
}
