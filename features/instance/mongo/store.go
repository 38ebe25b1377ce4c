package mongo

import (
	"context"
	"errors"

	clientsmongo "github.com/wuayee/app-platform-sub002/features/instance/mongo/clients/mongo"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/instance"
)

// Store implements instance.Store by delegating to the Mongo client.
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

// Create implements instance.Store.
func (s *Store) Create(ctx context.Context, inst instance.Instance) error {
	return s.client.CreateInstance(ctx, inst)
}

// Load implements instance.Store.
func (s *Store) Load(ctx context.Context, id string) (instance.Instance, error) {
	return s.client.LoadInstance(ctx, id)
}

// Update implements instance.Store.
func (s *Store) Update(ctx context.Context, id string, p instance.Patch) (instance.Instance, error) {
	return s.client.UpdateInstance(ctx, id, p)
}

// ListByApp implements instance.Store.
func (s *Store) ListByApp(ctx context.Context, appID string, limit int) ([]instance.Instance, error) {
	return s.client.ListInstancesByApp(ctx, appID, limit)
}
