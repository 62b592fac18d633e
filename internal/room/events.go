package room

import (
	"log"

	"github.com/christopherjohns/chatroom/internal/message"
	"github.com/christopherjohns/chatroom/internal/ws"
	"nhooyr.io/websocket"
)

// event is a unit of work run on the session loop.
type event interface {
	apply(s *Session)
}

type joinEvent struct {
	peer ws.Peer
}

func (e joinEvent) apply(s *Session) {
	if s.maxConns > 0 && s.peers.Len() >= s.maxConns && !s.peers.Contains(e.peer) {
		log.Printf("room %s: at capacity, rejecting conn %s", s.name, e.peer.ID())
		go e.peer.Close(websocket.StatusTryAgainLater, "room at capacity")
		return
	}
	if !s.peers.Add(e.peer) {
		return
	}
	log.Printf("room %s: conn %s joined (%d connected)", s.name, e.peer.ID(), s.peers.Len())
	s.sendHistory(e.peer)
}

type leaveEvent struct {
	peer ws.Peer
}

func (e leaveEvent) apply(s *Session) {
	if s.peers.Remove(e.peer) {
		log.Printf("room %s: conn %s left (%d connected)", s.name, e.peer.ID(), s.peers.Len())
	}
}

type frameEvent struct {
	peer ws.Peer
	data []byte
}

func (e frameEvent) apply(s *Session) {
	s.peers.Touch(e.peer)
	in, err := message.Decode(e.data)
	if err != nil {
		log.Printf("room %s: discarding frame from conn %s: %v", s.name, e.peer.ID(), err)
		return
	}

	switch in.Kind {
	case message.KindInit:
		if s.peers.Contains(e.peer) {
			s.sendHistory(e.peer)
		}
	case message.KindChat:
		s.post(message.New(in.Username, in.Body))
		if s.completer == nil {
			return
		}
		if prompt, ok := message.AIPrompt(in.Body); ok {
			s.requestAI(prompt)
		}
	}
}

type aiEvent struct {
	seq    uint64
	prompt string
	reply  string
	err    error
}

func (e aiEvent) apply(s *Session) {
	s.applyAI(e)
}

type historyQuery struct {
	reply chan<- []message.Message
}

func (e historyQuery) apply(s *Session) {
	e.reply <- s.buf.Snapshot()
}
