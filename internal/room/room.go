// Package room runs one chat session per room name. Each session serializes
// its own events; sessions for different rooms run independently.
package room

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/christopherjohns/chatroom/internal/history"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrManagerClosed is returned by Get after Shutdown has been called.
	ErrManagerClosed = errors.New("room: manager closed")
	// ErrEmptyName is returned by Get for an empty room name.
	ErrEmptyName = errors.New("room: empty room name")
)

// Info describes a live room.
type Info struct {
	Name        string `json:"name"`
	Connections int    `json:"connections"`
}

// Manager owns the live sessions, activating each one on first use.
type Manager struct {
	store history.Store
	opts  []Option

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool

	activating singleflight.Group
	now        func() time.Time
}

// NewManager creates a Manager whose sessions persist to store and are built
// with opts.
func NewManager(store history.Store, opts ...Option) *Manager {
	return &Manager{
		store:    store,
		opts:     opts,
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Get returns the live session for name, activating it if needed. Concurrent
// callers for the same inactive room share a single activation.
func (m *Manager) Get(ctx context.Context, name string) (*Session, error) {
	if name == "" {
		return nil, ErrEmptyName
	}

	m.mu.RLock()
	s, ok := m.sessions[name]
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrManagerClosed
	}
	if ok {
		s.touch(m.now())
		return s, nil
	}

	v, err, _ := m.activating.Do(name, func() (any, error) {
		m.mu.RLock()
		s, ok := m.sessions[name]
		m.mu.RUnlock()
		if ok {
			return s, nil
		}

		s = NewSession(name, m.store, m.opts...)
		s.touch(m.now())
		// The room outlives the request that woke it.
		s.Activate(context.WithoutCancel(ctx))

		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed {
			go s.Close(context.Background())
			return nil, ErrManagerClosed
		}
		m.sessions[name] = s
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Lookup returns the live session for name without activating it.
func (m *Manager) Lookup(name string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[name]
	return s, ok
}

// List returns every live room sorted by connection count (descending), then
// by name.
func (m *Manager) List() []Info {
	m.mu.RLock()
	result := make([]Info, 0, len(m.sessions))
	for name, s := range m.sessions {
		result = append(result, Info{Name: name, Connections: s.Connections()})
	}
	m.mu.RUnlock()

	slices.SortFunc(result, func(a, b Info) int {
		if c := cmp.Compare(b.Connections, a.Connections); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return result
}

// EvictIdle closes every session that has been idle (no connections, no AI
// call in flight) for at least ttl and returns how many were closed. A
// session's idle clock restarts on every Get and whenever it is seen busy.
// The next Get for an evicted room activates it again from the store.
func (m *Manager) EvictIdle(ctx context.Context, ttl time.Duration) int {
	now := m.now()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0
	}
	var evicted []*Session
	for name, s := range m.sessions {
		if !s.Idle() {
			s.touch(now)
			continue
		}
		if now.Sub(s.lastTouched()) >= ttl {
			evicted = append(evicted, s)
			delete(m.sessions, name)
		}
	}
	m.mu.Unlock()

	for _, s := range evicted {
		if err := s.Close(ctx); err != nil {
			log.Printf("room %s: close on eviction: %v", s.Name(), err)
			continue
		}
		log.Printf("room %s: evicted after %v idle", s.Name(), ttl)
	}
	return len(evicted)
}

// Shutdown closes every live session in parallel. Later calls to Get fail
// with ErrManagerClosed.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var g errgroup.Group
	for _, s := range sessions {
		g.Go(func() error {
			if err := s.Close(ctx); err != nil {
				return fmt.Errorf("close room %s: %w", s.Name(), err)
			}
			return nil
		})
	}
	err := g.Wait()
	log.Printf("room: shut down %d sessions", len(sessions))
	return err
}
