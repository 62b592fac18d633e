package room

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/christopherjohns/chatroom/internal/ws"
	"nhooyr.io/websocket"
)

// IsUpgrade reports whether r asks for a WebSocket upgrade.
func IsUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// RejectNonUpgrade answers a request that did not ask for a WebSocket.
func RejectNonUpgrade(w http.ResponseWriter) {
	http.Error(w, "Expected WebSocket", http.StatusBadRequest)
}

// ServeHTTP upgrades the request to a WebSocket, joins it to the room and
// forwards every frame it sends until the client goes away. Requests that do
// not ask for an upgrade get 400 "Expected WebSocket".
func (s *Session) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !IsUpgrade(r) {
		RejectNonUpgrade(w)
		return
	}

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Allow all origins in dev; tighten in production.
	})
	if err != nil {
		log.Printf("room %s: accept error: %v", s.name, err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := ws.NewConn(wsConn)
	conn.SetReadLimit(s.readLimit)
	conn.Start(ctx)
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := s.Join(conn); err != nil {
		conn.Close(websocket.StatusGoingAway, "room closing")
		return
	}
	defer s.Leave(conn)

	s.readLoop(ctx, conn)
}

func (s *Session) readLoop(ctx context.Context, conn *ws.Conn) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				log.Printf("room %s: read from conn %s ended: %v", s.name, conn.ID(), err)
			}
			return
		}
		if typ != websocket.MessageText {
			log.Printf("room %s: ignoring binary frame from conn %s", s.name, conn.ID())
			continue
		}
		if err := s.Receive(conn, data); errors.Is(err, ErrSessionClosed) {
			return
		}
	}
}
