package room

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/christopherjohns/chatroom/internal/ai"
	"github.com/christopherjohns/chatroom/internal/history"
	"github.com/christopherjohns/chatroom/internal/message"
	"github.com/christopherjohns/chatroom/internal/ws"
	"nhooyr.io/websocket"
)

const (
	// eventQueueSize bounds the number of events waiting for the loop.
	eventQueueSize = 64

	defaultStoreTimeout = 2 * time.Second
	defaultAITimeout    = 20 * time.Second

	// DefaultReadLimit is the largest client frame accepted, in bytes.
	DefaultReadLimit = 1 << 20

	// idleCheckInterval is how often idle connections are looked for.
	idleCheckInterval = 30 * time.Second
)

// ErrSessionClosed is returned when an event is submitted to a closed session.
var ErrSessionClosed = errors.New("room: session closed")

// Option configures a Session.
type Option func(*Session)

// WithCompleter enables AI replies for "/ai " messages. A nil completer
// leaves AI replies disabled.
func WithCompleter(c ai.Completer) Option {
	return func(s *Session) {
		s.completer = c
	}
}

// WithAITimeout bounds each AI call.
func WithAITimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.aiTimeout = d
		}
	}
}

// WithStoreTimeout bounds each history load and save.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

// WithReadLimit sets the largest client frame, in bytes. Larger frames close
// the sender's connection.
func WithReadLimit(n int64) Option {
	return func(s *Session) {
		if n > 0 {
			s.readLimit = n
		}
	}
}

// WithIdleTimeout sets how long a connection may stay silent before it is
// closed. A value of 0 disables idle reaping (default).
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.idleTTL = d
	}
}

// WithMaxConns caps the connections a room accepts (0 = unlimited).
func WithMaxConns(n int) Option {
	return func(s *Session) {
		s.maxConns = n
	}
}

// WithCapacity overrides the history capacity. Used by tests.
func WithCapacity(n int) Option {
	return func(s *Session) {
		s.capacity = n
	}
}

// Session owns one room's live state: its connections and its history
// buffer. All mutations run on a single event loop goroutine, so handling is
// strictly serialized per room.
type Session struct {
	name         string
	store        history.Store
	completer    ai.Completer
	capacity     int
	storeTimeout time.Duration
	aiTimeout    time.Duration
	readLimit    int64
	idleTTL      time.Duration
	maxConns     int

	peers *ws.Registry

	aiInflight atomic.Int32
	lastUsed   atomic.Int64

	// Owned by the loop goroutine.
	buf       *history.Buffer
	nextSeq   uint64
	applySeq  uint64
	aiPending map[uint64]aiEvent

	events    chan event
	quit      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	calls     sync.WaitGroup
}

// NewSession creates an inactive session for room name. Call Activate before
// submitting any events.
func NewSession(name string, store history.Store, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		name:         name,
		store:        store,
		capacity:     history.MaxHistory,
		storeTimeout: defaultStoreTimeout,
		aiTimeout:    defaultAITimeout,
		readLimit:    DefaultReadLimit,
		peers:        ws.NewRegistry(),
		aiPending:    make(map[uint64]aiEvent),
		events:       make(chan event, eventQueueSize),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the room name.
func (s *Session) Name() string {
	return s.name
}

// Activate loads the persisted history and starts the event loop. A load
// failure is logged and the room starts with an empty history. Only the
// first call has any effect.
func (s *Session) Activate(ctx context.Context) {
	s.startOnce.Do(func() {
		var initial []message.Message
		loadCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
		msgs, err := s.store.Load(loadCtx, s.name)
		cancel()
		if err != nil {
			log.Printf("room %s: failed to load history, starting empty: %v", s.name, err)
		} else {
			initial = msgs
		}
		s.buf = history.NewBuffer(s.capacity, initial)
		log.Printf("room %s: activated with %d messages", s.name, s.buf.Len())
		go s.loop()
	})
}

// Join registers p and replays the current history to it.
func (s *Session) Join(p ws.Peer) error {
	return s.enqueue(joinEvent{peer: p})
}

// Receive submits a raw client frame from p.
func (s *Session) Receive(p ws.Peer, data []byte) error {
	return s.enqueue(frameEvent{peer: p, data: data})
}

// Leave unregisters p. It is safe to call more than once.
func (s *Session) Leave(p ws.Peer) error {
	return s.enqueue(leaveEvent{peer: p})
}

// History returns a copy of the current history buffer, oldest first.
func (s *Session) History(ctx context.Context) ([]message.Message, error) {
	reply := make(chan []message.Message, 1)
	if err := s.enqueue(historyQuery{reply: reply}); err != nil {
		return nil, err
	}
	select {
	case msgs := <-reply:
		return msgs, nil
	case <-s.done:
		return nil, ErrSessionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Connections returns the number of registered connections.
func (s *Session) Connections() int {
	return s.peers.Len()
}

// Idle reports whether the room has no connections and no AI call waiting
// to be posted.
func (s *Session) Idle() bool {
	return s.peers.Len() == 0 && s.aiInflight.Load() == 0
}

func (s *Session) touch(t time.Time) {
	s.lastUsed.Store(t.UnixNano())
}

func (s *Session) lastTouched() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

// Close stops the event loop, waits for in-flight AI calls to finish and
// closes every connection with StatusGoingAway.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		close(s.quit)
		s.cancel()
	})
	// A session closed before activation never starts its loop.
	s.startOnce.Do(func() { close(s.done) })

	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	waited := make(chan struct{})
	go func() {
		s.calls.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		return ctx.Err()
	}

	var wg sync.WaitGroup
	for _, p := range s.peers.Clear() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Close(websocket.StatusGoingAway, "room closing")
		}()
	}
	wg.Wait()
	return nil
}

func (s *Session) enqueue(ev event) error {
	select {
	case <-s.quit:
		return ErrSessionClosed
	default:
	}
	select {
	case s.events <- ev:
		return nil
	case <-s.quit:
		return ErrSessionClosed
	}
}

// loop processes events one at a time until the session is closed.
func (s *Session) loop() {
	defer close(s.done)

	var reap <-chan time.Time
	if s.idleTTL > 0 {
		interval := idleCheckInterval
		if s.idleTTL/2 < interval {
			interval = s.idleTTL / 2
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		reap = ticker.C
	}

	for {
		select {
		case <-s.quit:
			return
		case ev := <-s.events:
			ev.apply(s)
		case now := <-reap:
			s.reapIdle(now)
		}
	}
}

// reapIdle closes connections that have been silent longer than idleTTL.
func (s *Session) reapIdle(now time.Time) {
	for _, p := range s.peers.Reap(s.idleTTL, now) {
		log.Printf("room %s: reaped idle conn %s", s.name, p.ID())
		go p.Close(websocket.StatusPolicyViolation, "idle timeout")
	}
}

// post appends m to the history, persists the buffer and broadcasts m to
// every registered connection.
func (s *Session) post(m message.Message) {
	s.buf.Append(m)

	saveCtx, cancel := context.WithTimeout(s.ctx, s.storeTimeout)
	err := s.store.Save(saveCtx, s.name, s.buf.Snapshot())
	cancel()
	if err != nil {
		log.Printf("room %s: failed to persist history: %v", s.name, err)
	}

	frame, err := message.EncodeLive(m)
	if err != nil {
		log.Printf("room %s: failed to encode message: %v", s.name, err)
		return
	}
	if sent, total := s.peers.Broadcast(frame), s.peers.Len(); sent < total {
		log.Printf("room %s: message %s delivered to %d of %d connections", s.name, m.ID, sent, total)
	}
}

// sendHistory queues the current history batch on p only.
func (s *Session) sendHistory(p ws.Peer) {
	frame, err := message.EncodeHistory(s.buf.Snapshot())
	if err != nil {
		log.Printf("room %s: failed to encode history: %v", s.name, err)
		return
	}
	if !p.Send(frame) {
		log.Printf("room %s: failed to send history to conn %s", s.name, p.ID())
	}
}

// requestAI issues an AI call off the loop. Its result re-enters the loop as
// an aiEvent tagged with the issue sequence.
func (s *Session) requestAI(prompt string) {
	seq := s.nextSeq
	s.nextSeq++

	s.aiInflight.Add(1)
	s.calls.Add(1)
	go func() {
		defer s.calls.Done()
		ctx, cancel := context.WithTimeout(s.ctx, s.aiTimeout)
		reply, err := s.completer.Complete(ctx, ai.Prompt(prompt))
		cancel()
		if err := s.enqueue(aiEvent{seq: seq, prompt: prompt, reply: reply, err: err}); err != nil {
			log.Printf("room %s: dropping AI reply, session closed", s.name)
		}
	}()
}

// applyAI records a finished AI call and posts every reply whose turn has
// come, in the order the calls were issued.
func (s *Session) applyAI(ev aiEvent) {
	s.aiPending[ev.seq] = ev
	for {
		next, ok := s.aiPending[s.applySeq]
		if !ok {
			return
		}
		delete(s.aiPending, s.applySeq)
		s.applySeq++
		s.aiInflight.Add(-1)

		reply := strings.TrimSpace(next.reply)
		switch {
		case next.err != nil:
			log.Printf("room %s: AI request failed: %v", s.name, next.err)
		case reply == "":
			log.Printf("room %s: AI returned an empty reply", s.name)
		default:
			s.post(message.New(message.AIUsername, reply))
		}
	}
}
