package message

import (
	"time"

	"github.com/google/uuid"
)

// AIUsername is the sender name used for generated replies.
const AIUsername = "AI"

// Message represents a chat message. A Message is treated as immutable once
// it has been appended to a room's history.
type Message struct {
	ID        string `json:"id,omitempty"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// New builds a Message with a fresh ID and a server-assigned timestamp in
// unix milliseconds. The timestamp is advisory; history order is insertion
// order.
func New(username, body string) Message {
	return Message{
		ID:        uuid.NewString(),
		Username:  username,
		Message:   body,
		Timestamp: time.Now().UnixMilli(),
	}
}
