package mongo

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	clientsmongo "github.com/wuayee/app-platform-sub002/features/app/mongo/clients/mongo"
	mockmongo "github.com/wuayee/app-platform-sub002/features/app/mongo/clients/mongo/mocks"
	"github.com/wuayee/app-platform-sub002/internal/mongotest"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/app"
	flowinmem "github.com/wuayee/app-platform-sub002/runtime/aipp/flow/inmem"
)

func TestNewStoreRequiresClient(t *testing.T) {
	_, err := NewStore(nil)
	require.EqualError(t, err, "client is required")
}

func TestListDelegatesToClient(t *testing.T) {
	mockClient := mockmongo.NewClient(t)
	filter := app.Filter{NameContains: "x", Limit: 5}
	mockClient.AddFindApps(func(_ context.Context, got app.Filter) ([]app.App, error) {
		require.Equal(t, filter, got)
		return []app.App{{ID: "a"}}, nil
	})
	store, err := NewStore(mockClient)
	require.NoError(t, err)

	apps, err := store.List(context.Background(), filter)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	require.False(t, mockClient.HasMore())
}

func TestGetPropagatesNotFound(t *testing.T) {
	mockClient := mockmongo.NewClient(t)
	mockClient.AddLoadApp(func(context.Context, string) (app.App, error) {
		return app.App{}, app.ErrNotFound
	})
	store, err := NewStore(mockClient)
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "missing")
	require.ErrorIs(t, err, app.ErrNotFound)
}

// TestServiceAgainstMongo drives the app service end to end so the unique
// name index backs the copy retry loop.
func TestServiceAgainstMongo(t *testing.T) {
	mc, db := mongotest.Database(t)
	client, err := clientsmongo.New(clientsmongo.Options{Client: mc, Database: db})
	require.NoError(t, err)
	store, err := NewStore(client)
	require.NoError(t, err)
	svc, err := app.NewService(app.Options{Store: store, Flows: flowinmem.New()})
	require.NoError(t, err)
	ctx := context.Background()

	created, err := svc.Create(ctx, app.CreateRequest{Name: "helper", Graph: json.RawMessage(`{"nodes":[]}`)})
	require.NoError(t, err)
	copied, err := svc.Copy(ctx, created.ID)
	require.NoError(t, err)
	require.NotEqual(t, created.Name, copied.Name)

	published, err := svc.Publish(ctx, created.ID, "1.1.0")
	require.NoError(t, err)
	require.Equal(t, app.StatusPublished, published.Status)

	list, err := svc.List(ctx, app.Filter{NameContains: "helper"})
	require.NoError(t, err)
	require.Len(t, list, 2)
}
