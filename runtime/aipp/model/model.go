// Package model defines the provider-neutral LLM client used by the model
// proxy endpoints. Provider adapters live under features/model.
package model

import (
	"context"
	"errors"
)

type (
	// Role is the author of a chat message.
	Role string

	// Message is one chat message.
	Message struct {
		Role    Role   `json:"role"`
		Content string `json:"content"`
	}

	// Request is a chat completion request.
	Request struct {
		// Model is the provider model identifier. Adapters fall back to their
		// configured default when empty.
		Model       string    `json:"model,omitempty"`
		System      string    `json:"system,omitempty"`
		Messages    []Message `json:"messages"`
		MaxTokens   int       `json:"max_tokens,omitempty"`
		Temperature *float64  `json:"temperature,omitempty"`
	}

	// Usage reports token consumption.
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	}

	// Response is a chat completion result.
	Response struct {
		Content    string `json:"content"`
		StopReason string `json:"stop_reason,omitempty"`
		Usage      Usage  `json:"usage"`
	}

	// Client completes chat requests.
	Client interface {
		Complete(ctx context.Context, req Request) (Response, error)
	}
)

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ErrRateLimited is returned by rate-limiting middleware and adapters when
// the provider throttled the request.
var ErrRateLimited = errors.New("model rate limited")

// Validate checks that req has at least one non-system message.
func (r Request) Validate() error {
	if len(r.Messages) == 0 {
		return errors.New("at least one message is required")
	}
	for _, m := range r.Messages {
		switch m.Role {
		case RoleUser, RoleAssistant:
		case RoleSystem:
			return errors.New("system prompts go in Request.System")
		default:
			return errors.New("message role must be user or assistant")
		}
	}
	return nil
}
