package ws

import (
	"errors"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

// fakePeer records frames and can be told to reject sends.
type fakePeer struct {
	id   string
	fail bool

	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Send(data []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return false
	}
	p.frames = append(p.frames, data)
	return true
}

func (p *fakePeer) Close(websocket.StatusCode, string) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

func TestRegistryAddRemove(t *testing.T) {
	r := NewRegistry()
	a := &fakePeer{id: "a"}

	if !r.Add(a) {
		t.Fatal("expected first add to succeed")
	}
	if r.Add(a) {
		t.Fatal("expected duplicate add to report false")
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 peer, got %d", r.Len())
	}
	if !r.Contains(a) {
		t.Fatal("expected registry to contain a")
	}

	if !r.Remove(a) {
		t.Fatal("expected remove to succeed")
	}
	if r.Len() != 0 {
		t.Fatalf("expected 0 peers, got %d", r.Len())
	}
}

func TestRegistryDoubleRemove(t *testing.T) {
	r := NewRegistry()
	a := &fakePeer{id: "a"}
	r.Add(a)

	r.Remove(a)
	// Second remove should be a no-op.
	if r.Remove(a) {
		t.Error("expected second remove to report false")
	}
	if r.Remove(&fakePeer{id: "never-added"}) {
		t.Error("expected removing an unknown peer to report false")
	}
}

func TestRegistryBroadcastIsolatesFailures(t *testing.T) {
	r := NewRegistry()
	bad := &fakePeer{id: "bad", fail: true}
	good1 := &fakePeer{id: "good1"}
	good2 := &fakePeer{id: "good2"}
	r.Add(bad)
	r.Add(good1)
	r.Add(good2)

	if n := r.Broadcast([]byte("hello")); n != 2 {
		t.Fatalf("expected 2 deliveries, got %d", n)
	}
	if good1.count() != 1 || good2.count() != 1 {
		t.Errorf("expected each good peer to get 1 frame, got %d and %d", good1.count(), good2.count())
	}
	// A failed send does not unregister the peer.
	if !r.Contains(bad) {
		t.Error("expected failing peer to remain registered")
	}
}

func TestRegistryBroadcastSkipsRemoved(t *testing.T) {
	r := NewRegistry()
	a := &fakePeer{id: "a"}
	b := &fakePeer{id: "b"}
	r.Add(a)
	r.Add(b)
	r.Remove(a)

	r.Broadcast([]byte("hello"))
	if a.count() != 0 {
		t.Errorf("removed peer received %d frames", a.count())
	}
	if b.count() != 1 {
		t.Errorf("expected 1 frame for b, got %d", b.count())
	}
}

func TestRegistryForEachContinuesAfterError(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"a", "b", "c"} {
		r.Add(&fakePeer{id: id})
	}

	visited := 0
	failed := r.ForEach(func(p Peer) error {
		visited++
		if p.ID() == "b" {
			return errors.New("boom")
		}
		return nil
	})

	if visited != 3 {
		t.Errorf("expected all 3 peers visited, got %d", visited)
	}
	if failed != 1 {
		t.Errorf("expected 1 failure, got %d", failed)
	}
}

func TestRegistryClear(t *testing.T) {
	r := NewRegistry()
	r.Add(&fakePeer{id: "a"})
	r.Add(&fakePeer{id: "b"})

	peers := r.Clear()
	if len(peers) != 2 {
		t.Fatalf("expected 2 cleared peers, got %d", len(peers))
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}
}

func TestConnImplementsPeer(t *testing.T) {
	var _ Peer = (*Conn)(nil)
}

func TestRegistryReapIdle(t *testing.T) {
	r := NewRegistry()
	idle := &fakePeer{id: "idle"}
	active := &fakePeer{id: "active"}
	r.Add(idle)
	r.Add(active)

	later := time.Now().Add(time.Minute)
	r.Touch(active)
	stale := r.Reap(30*time.Second, later)
	if len(stale) != 2 {
		t.Fatalf("expected both peers stale a minute later, got %d", len(stale))
	}
	if r.Len() != 0 {
		t.Errorf("expected reaped peers to be unregistered, got %d", r.Len())
	}
}

func TestRegistryReapKeepsRecentlyActive(t *testing.T) {
	r := NewRegistry()
	a := &fakePeer{id: "a"}
	r.Add(a)
	r.Touch(a)

	if stale := r.Reap(time.Minute, time.Now()); len(stale) != 0 {
		t.Fatalf("expected no stale peers, got %d", len(stale))
	}
	if !r.Contains(a) {
		t.Error("expected active peer to stay registered")
	}
	// Touching an unknown peer is a no-op.
	r.Touch(&fakePeer{id: "stranger"})
	if r.Len() != 1 {
		t.Errorf("expected 1 peer, got %d", r.Len())
	}
}
