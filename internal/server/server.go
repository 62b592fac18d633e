package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/christopherjohns/chatroom/internal/ratelimit"
	"github.com/christopherjohns/chatroom/internal/room"
)

// DefaultRoom is used when the request path names no room.
const DefaultRoom = "default"

// Option configures a Server.
type Option func(*Server)

// WithLimiter throttles WebSocket upgrades per client IP.
func WithLimiter(l *ratelimit.IPLimiter) Option {
	return func(s *Server) {
		s.limiter = l
	}
}

// Server is the HTTP front of the chat service. It routes upgrade requests to
// the room named by the request path.
type Server struct {
	addr    string
	mux     *http.ServeMux
	rooms   *room.Manager
	limiter *ratelimit.IPLimiter
	http    *http.Server
}

// New creates a new Server listening on addr.
func New(addr string, rooms *room.Manager, opts ...Option) *Server {
	s := &Server{
		addr:  addr,
		mux:   http.NewServeMux(),
		rooms: rooms,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routing handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run starts the HTTP server. It returns nil once Shutdown has been called.
func (s *Server) Run() error {
	log.Printf("server: listening on %s", s.addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests. Upgraded connections are not tracked by
// net/http; they are closed by the room manager.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/rooms", s.handleListRooms)
	s.mux.HandleFunc("/", s.handleRoom)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms := s.rooms.List()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rooms)
}

func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	// Plain requests never wake a room.
	if !room.IsUpgrade(r) {
		room.RejectNonUpgrade(w)
		return
	}

	if s.limiter != nil {
		if ok, retry := s.limiter.Allow(clientIP(r)); !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
			http.Error(w, "Too many connection attempts", http.StatusTooManyRequests)
			return
		}
	}

	name := RoomName(r.URL.Path)
	sess, err := s.rooms.Get(r.Context(), name)
	if err != nil {
		log.Printf("server: room %s unavailable: %v", name, err)
		http.Error(w, "Room unavailable", http.StatusServiceUnavailable)
		return
	}
	sess.ServeHTTP(w, r)
}

// RoomName returns the last segment of path, or DefaultRoom when that
// segment is empty. A trailing slash therefore selects DefaultRoom.
func RoomName(path string) string {
	if name := path[strings.LastIndex(path, "/")+1:]; name != "" {
		return name
	}
	return DefaultRoom
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
