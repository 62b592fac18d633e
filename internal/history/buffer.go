// Package history keeps a room's bounded recent-message window and mirrors it
// to durable storage.
package history

import "github.com/christopherjohns/chatroom/internal/message"

// MaxHistory is the number of recent messages a room retains.
const MaxHistory = 10

// Buffer is an ordered, bounded sequence of messages. Appends go to the tail
// and evictions come from the head. A Buffer is owned by a single room
// session and is not safe for concurrent use.
type Buffer struct {
	capacity int
	msgs     []message.Message
}

// NewBuffer creates a Buffer holding up to capacity messages, seeded with
// initial. A seed longer than capacity is kept as loaded and trimmed by the
// next Append.
func NewBuffer(capacity int, initial []message.Message) *Buffer {
	if capacity < 1 {
		capacity = MaxHistory
	}
	msgs := make([]message.Message, len(initial), max(len(initial), capacity)+1)
	copy(msgs, initial)
	return &Buffer{capacity: capacity, msgs: msgs}
}

// Append adds m at the tail and evicts from the head until the buffer is
// back within capacity. It returns the number of evicted messages.
func (b *Buffer) Append(m message.Message) int {
	b.msgs = append(b.msgs, m)
	evicted := 0
	if over := len(b.msgs) - b.capacity; over > 0 {
		evicted = over
		// Shift in place so the backing array does not grow without bound.
		n := copy(b.msgs, b.msgs[over:])
		clear(b.msgs[n:])
		b.msgs = b.msgs[:n]
	}
	return evicted
}

// Snapshot returns a copy of the buffered messages, oldest first.
func (b *Buffer) Snapshot() []message.Message {
	out := make([]message.Message, len(b.msgs))
	copy(out, b.msgs)
	return out
}

// Len returns the number of buffered messages.
func (b *Buffer) Len() int {
	return len(b.msgs)
}

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int {
	return b.capacity
}
