package ws

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

const (
	// sendBufferSize is the number of frames that can be queued per connection.
	sendBufferSize = 16

	// writeTimeout is the max time to wait for a single write to complete.
	writeTimeout = 5 * time.Second
)

// Conn is a live WebSocket connection with a buffered outbound queue. Frames
// queued with Send are written by a dedicated write pump in queue order.
type Conn struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Int64
}

// NewConn wraps an accepted WebSocket. Call Start to begin writing.
func NewConn(c *websocket.Conn) *Conn {
	return &Conn{
		id:   uuid.NewString(),
		conn: c,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string {
	return c.id
}

// Start runs the write pump until ctx is cancelled or the connection closes.
func (c *Conn) Start(ctx context.Context) {
	go c.writePump(ctx)
}

// Send queues a frame for delivery. It returns false if the connection is
// closed or its buffer is full (slow consumer); the frame is dropped.
func (c *Conn) Send(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		c.dropped.Add(1)
		log.Printf("ws: send buffer full for conn %s, dropping frame", c.id)
		return false
	}
}

// Read blocks for the next frame from the client.
func (c *Conn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	return c.conn.Read(ctx)
}

// SetReadLimit sets the largest frame, in bytes, the client may send. A
// larger frame closes the connection with StatusMessageTooBig.
func (c *Conn) SetReadLimit(n int64) {
	c.conn.SetReadLimit(n)
}

// Close stops the write pump and closes the WebSocket with the given status.
// Only the first call has any effect.
func (c *Conn) Close(code websocket.StatusCode, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			err = c.conn.Close(code, reason)
		}
	})
	return err
}

// Dropped returns the number of frames dropped because the buffer was full.
func (c *Conn) Dropped() int64 {
	return c.dropped.Load()
}

// writePump drains the send queue, writing each frame to the WebSocket. It
// exits when ctx is cancelled, the connection is closed, or a write fails.
func (c *Conn) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case msg := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				log.Printf("ws: write to conn %s failed: %v", c.id, err)
				return
			}
		}
	}
}
