// Package ai talks to an external text-generation service on behalf of a
// chat room.
package ai

import (
	"context"
	"errors"
)

// SystemPrompt is the fixed instruction sent before every user prompt.
const SystemPrompt = "You are a helpful assistant. You are currently in a chat room."

// ErrEmptyReply is returned when the service answers with no usable text.
var ErrEmptyReply = errors.New("ai: empty reply")

// Role tags a prompt segment.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// Segment is one role-tagged part of a prompt.
type Segment struct {
	Role    Role
	Content string
}

// Completer generates a reply for an ordered list of prompt segments.
// Implementations return ErrEmptyReply rather than a blank string.
type Completer interface {
	Complete(ctx context.Context, prompt []Segment) (string, error)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, prompt []Segment) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, prompt []Segment) (string, error) {
	return f(ctx, prompt)
}

// Prompt builds the segments for a user prompt.
func Prompt(user string) []Segment {
	return []Segment{
		{Role: RoleSystem, Content: SystemPrompt},
		{Role: RoleUser, Content: user},
	}
}
