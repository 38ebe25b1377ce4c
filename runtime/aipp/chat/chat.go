// Package chat stores the question/answer history of conversations with an
// app. Each completed instance contributes one turn.
package chat

import (
	"context"
	"errors"
	"time"
)

type (
	// Record is one conversation turn.
	Record struct {
		ID         string
		ChatID     string
		AppID      string
		InstanceID string
		Question   string
		Answer     string
		CreatedAt  time.Time
	}

	// Store persists conversation turns.
	Store interface {
		// Append adds a turn. The store assigns ID when empty.
		Append(ctx context.Context, r Record) error
		// SetAnswer records the answer of the turn produced by instanceID.
		SetAnswer(ctx context.Context, instanceID, answer string) error
		// DeleteTurn removes the turn produced by instanceID, if any.
		DeleteTurn(ctx context.Context, instanceID string) error
		// Recent returns the last n turns of chatID, oldest first.
		Recent(ctx context.Context, chatID string, n int) ([]Record, error)
		// DeleteChat removes every turn of chatID.
		DeleteChat(ctx context.Context, chatID string) error
	}
)

// ErrNotFound is returned when no turn matches.
var ErrNotFound = errors.New("chat record not found")

// Validate checks the fields required to persist a turn.
func (r Record) Validate() error {
	if r.ChatID == "" {
		return errors.New("chat id is required")
	}
	if r.InstanceID == "" {
		return errors.New("instance id is required")
	}
	return nil
}
