package mongo

import (
	"context"
	"errors"

	clientsmongo "github.com/wuayee/app-platform-sub002/features/upload/mongo/clients/mongo"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/upload"
)

// Store implements upload.Store by delegating to the Mongo client.
type Store struct {
	client clientsmongo.Client
}

// NewStore builds a Store using the provided client.
func NewStore(client clientsmongo.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: client}, nil
}

// Create validates and stores f, assigning its ID and creation time.
func (s *Store) Create(ctx context.Context, f upload.File) (upload.File, error) {
	return s.client.InsertFile(ctx, f)
}

// Get loads a file record.
func (s *Store) Get(ctx context.Context, id string) (upload.File, error) {
	return s.client.LoadFile(ctx, id)
}

// ListByApp returns the files of an app, oldest first.
func (s *Store) ListByApp(ctx context.Context, appID string) ([]upload.File, error) {
	return s.client.ListFiles(ctx, appID)
}

// Delete removes a file record.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.client.DeleteFile(ctx, id)
}
