// Package mongo wires the runlog.Store interface to the MongoDB client.
package mongo

import (
	"context"
	"errors"

	clientsmongo "github.com/wuayee/app-platform-sub002/features/runlog/mongo/clients/mongo"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/runlog"
)

// Store implements runlog.Store by delegating to the Mongo client.
type Store struct {
	client clientsmongo.Client
}

// NewStore builds a Mongo-backed log store using the provided client.
func NewStore(client clientsmongo.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: client}, nil
}

// Append implements runlog.Store.
func (s *Store) Append(ctx context.Context, r *runlog.Record) error {
	return s.client.Append(ctx, r)
}

// List implements runlog.Store.
func (s *Store) List(ctx context.Context, instanceID, cursor string, limit int) (runlog.Page, error) {
	return s.client.List(ctx, instanceID, cursor, limit)
}

// PathOf implements runlog.Store.
func (s *Store) PathOf(ctx context.Context, instanceID string) (string, error) {
	return s.client.PathOf(ctx, instanceID)
}
