package mongo

import (
	"context"
	"errors"

	clientsmongo "github.com/wuayee/app-platform-sub002/features/chat/mongo/clients/mongo"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/chat"
)

// Options configures the Store wrapper.
type Options struct {
	Client clientsmongo.Client
}

// Store implements chat.Store by delegating to the Mongo client.
type Store struct {
	client clientsmongo.Client
}

// NewStore builds a Mongo-backed chat store using the provided client.
func NewStore(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: opts.Client}, nil
}

// NewStoreFromMongo is a helper that instantiates the underlying client using the given options.
func NewStoreFromMongo(opts clientsmongo.Options) (*Store, error) {
	client, err := clientsmongo.New(opts)
	if err != nil {
		return nil, err
	}
	return NewStore(Options{Client: client})
}

// Append implements chat.Store.
func (s *Store) Append(ctx context.Context, r chat.Record) error {
	return s.client.AppendTurn(ctx, r)
}

// SetAnswer implements chat.Store.
func (s *Store) SetAnswer(ctx context.Context, instanceID, answer string) error {
	return s.client.SetAnswer(ctx, instanceID, answer)
}

// DeleteTurn implements chat.Store.
func (s *Store) DeleteTurn(ctx context.Context, instanceID string) error {
	return s.client.DeleteTurn(ctx, instanceID)
}

// Recent implements chat.Store.
func (s *Store) Recent(ctx context.Context, chatID string, n int) ([]chat.Record, error) {
	if n <= 0 {
		return nil, nil
	}
	return s.client.RecentTurns(ctx, chatID, n)
}

// DeleteChat implements chat.Store.
func (s *Store) DeleteChat(ctx context.Context, chatID string) error {
	return s.client.DeleteChat(ctx, chatID)
}
