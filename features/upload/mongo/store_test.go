package mongo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	clientsmongo "github.com/wuayee/app-platform-sub002/features/upload/mongo/clients/mongo"
	"github.com/wuayee/app-platform-sub002/internal/mongotest"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/upload"
)

func TestNewStoreRequiresClient(t *testing.T) {
	_, err := NewStore(nil)
	require.EqualError(t, err, "client is required")
}

func TestStoreAgainstMongo(t *testing.T) {
	mc, db := mongotest.Database(t)
	client, err := clientsmongo.New(clientsmongo.Options{Client: mc, Database: db})
	require.NoError(t, err)
	store, err := NewStore(client)
	require.NoError(t, err)
	ctx := context.Background()

	f, err := store.Create(ctx, upload.File{AppID: "app-1", Name: "notes.md", URL: "s3://b/notes.md", Size: 12})
	require.NoError(t, err)
	files, err := store.ListByApp(ctx, "app-1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, f.ID, files[0].ID)

	require.NoError(t, store.Delete(ctx, f.ID))
	_, err = store.Get(ctx, f.ID)
	require.ErrorIs(t, err, upload.ErrNotFound)
}
