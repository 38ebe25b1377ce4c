package mongo

import (
	"context"
	"errors"

	clientsmongo "github.com/wuayee/app-platform-sub002/features/app/mongo/clients/mongo"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/app"
)

// Store implements app.Store by delegating to the Mongo client.
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

// Create inserts a new app.
func (s *Store) Create(ctx context.Context, a app.App) error {
	return s.client.InsertApp(ctx, a)
}

// Get loads an app by ID.
func (s *Store) Get(ctx context.Context, id string) (app.App, error) {
	return s.client.LoadApp(ctx, id)
}

// Update replaces a stored app.
func (s *Store) Update(ctx context.Context, a app.App) error {
	return s.client.ReplaceApp(ctx, a)
}

// Delete removes an app.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.client.DeleteApp(ctx, id)
}

// List returns apps matching f, most recently updated first.
func (s *Store) List(ctx context.Context, f app.Filter) ([]app.App, error) {
	return s.client.FindApps(ctx, f)
}
