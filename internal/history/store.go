package history

import (
	"context"
	"sync"

	"github.com/christopherjohns/chatroom/internal/message"
)

// Store is the durable backend for room histories. Each room's history is a
// single list stored under Key(room); Save overwrites it in full.
type Store interface {
	// Load returns the stored list for room, or an empty slice when nothing
	// has been stored yet.
	Load(ctx context.Context, room string) ([]message.Message, error)
	// Save replaces the stored list for room with msgs.
	Save(ctx context.Context, room string, msgs []message.Message) error
}

// Key returns the storage key for a room's message list.
func Key(room string) string {
	return "room:" + room + ":messages"
}

// MemoryStore keeps room histories in process memory. It loses everything
// on restart and is meant for development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string][]message.Message
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms: make(map[string][]message.Message),
	}
}

// Load returns a copy of the stored list for room.
func (s *MemoryStore) Load(_ context.Context, room string) ([]message.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.rooms[Key(room)]
	out := make([]message.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Save stores a copy of msgs for room.
func (s *MemoryStore) Save(_ context.Context, room string, msgs []message.Message) error {
	cp := make([]message.Message, len(msgs))
	copy(cp, msgs)
	s.mu.Lock()
	s.rooms[Key(room)] = cp
	s.mu.Unlock()
	return nil
}
