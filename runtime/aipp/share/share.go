// Package share publishes conversations to the external sharing service so
// they can be opened by other users through a share ID.
package share

import (
	"context"
	"errors"
	"time"
)

type (
	// Entry is one shared question/answer pair.
	Entry struct {
		Question string `json:"question"`
		Answer   string `json:"answer"`
	}

	// Request shares a conversation.
	Request struct {
		AppID   string  `json:"app_id"`
		ChatID  string  `json:"chat_id"`
		Entries []Entry `json:"entries"`
	}

	// Shared is a conversation retrieved by share ID.
	Shared struct {
		ID        string    `json:"id"`
		AppID     string    `json:"app_id"`
		ChatID    string    `json:"chat_id"`
		Entries   []Entry   `json:"entries"`
		CreatedAt time.Time `json:"created_at"`
	}

	// Client talks to the sharing service.
	Client interface {
		// Share uploads the conversation and returns its share ID.
		Share(ctx context.Context, req Request) (string, error)
		// Get retrieves a shared conversation.
		Get(ctx context.Context, shareID string) (Shared, error)
	}
)

// ErrNotFound is returned for unknown share IDs.
var ErrNotFound = errors.New("shared conversation not found")

// Validate checks that req has content to share.
func (r Request) Validate() error {
	if r.ChatID == "" {
		return errors.New("chat id is required")
	}
	if len(r.Entries) == 0 {
		return errors.New("nothing to share")
	}
	return nil
}
