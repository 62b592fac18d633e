package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Envelope types.
const (
	TypeInit    = "init"
	TypeMessage = "message"
)

var (
	// ErrMalformed is returned when a frame is not a JSON object of the
	// expected shape.
	ErrMalformed = errors.New("malformed frame")

	// ErrInvalid is returned when a frame parses but its fields fail
	// validation.
	ErrInvalid = errors.New("invalid frame")
)

// Kind describes what an inbound frame asks the room to do.
type Kind int

const (
	// KindChat posts a chat message.
	KindChat Kind = iota
	// KindInit asks for the current history to be re-sent.
	KindInit
)

// Inbound is a decoded, validated client frame.
type Inbound struct {
	Kind     Kind
	Username string
	Body     string
}

// Envelope is the JSON structure sent over the WebSocket. Payload always
// carries one or many messages in arrival order.
type Envelope struct {
	Type    string    `json:"type"`
	Payload []Message `json:"payload"`
}

// rawFrame accepts both the bare chat object and the enveloped form.
type rawFrame struct {
	Type     *string           `json:"type"`
	Payload  []json.RawMessage `json:"payload"`
	Username json.RawMessage   `json:"username"`
	Message  json.RawMessage   `json:"message"`
}

type rawChat struct {
	Username json.RawMessage `json:"username"`
	Message  json.RawMessage `json:"message"`
}

// Decode parses a client text frame. It accepts
//
//	{"username": "...", "message": "..."}
//	{"type": "message", "payload": [{"username": "...", "message": "..."}]}
//	{"type": "init"}
//
// Any client-supplied timestamp is ignored.
func Decode(data []byte) (Inbound, error) {
	var f rawFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if f.Type == nil {
		return chat(f.Username, f.Message)
	}

	switch *f.Type {
	case TypeInit:
		return Inbound{Kind: KindInit}, nil
	case TypeMessage:
		if len(f.Payload) == 0 {
			return Inbound{}, fmt.Errorf("%w: empty payload", ErrInvalid)
		}
		var c rawChat
		if err := json.Unmarshal(f.Payload[0], &c); err != nil {
			return Inbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return chat(c.Username, c.Message)
	default:
		return Inbound{}, fmt.Errorf("%w: unknown type %q", ErrInvalid, *f.Type)
	}
}

func chat(username, body json.RawMessage) (Inbound, error) {
	u, ok := text(username)
	if !ok || strings.TrimSpace(u) == "" {
		return Inbound{}, fmt.Errorf("%w: username must be a non-empty string", ErrInvalid)
	}
	b, ok := text(body)
	if !ok {
		return Inbound{}, fmt.Errorf("%w: message must be a string", ErrInvalid)
	}
	return Inbound{Kind: KindChat, Username: u, Body: b}, nil
}

// text reports whether raw holds a JSON string and returns its value.
func text(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// EncodeHistory builds the "init" envelope for a history batch. An empty
// history is sent as an empty array.
func EncodeHistory(msgs []Message) ([]byte, error) {
	if msgs == nil {
		msgs = []Message{}
	}
	return json.Marshal(Envelope{Type: TypeInit, Payload: msgs})
}

// EncodeLive builds the "message" envelope for one live message.
func EncodeLive(m Message) ([]byte, error) {
	return json.Marshal(Envelope{Type: TypeMessage, Payload: []Message{m}})
}
