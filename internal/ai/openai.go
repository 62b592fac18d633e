package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "@cf/meta/llama-3.1-8b-instruct-fast"

// OpenAIConfig configures an OpenAI-compatible chat-completions endpoint.
type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

// OpenAI is a Completer backed by any service speaking the OpenAI
// chat-completions protocol. Retries are disabled; callers bound each call
// with a context deadline.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI builds an OpenAI completer.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// Complete sends prompt and returns the trimmed reply text.
func (c *OpenAI) Complete(ctx context.Context, prompt []Segment) (string, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(prompt))
	for _, seg := range prompt {
		switch seg.Role {
		case RoleSystem:
			msgs = append(msgs, openai.SystemMessage(seg.Content))
		default:
			msgs = append(msgs, openai.UserMessage(seg.Content))
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: msgs,
	})
	if err != nil {
		return "", fmt.Errorf("ai: completion request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}
