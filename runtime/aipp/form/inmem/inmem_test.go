package inmem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/form"
)

func TestRepository(t *testing.T) {
	ctx := context.Background()
	r := New(form.Form{ID: "f", Version: "1", Name: "first"})

	got, err := r.Get(ctx, "f", "1")
	require.NoError(t, err)
	require.Equal(t, "first", got.Name)

	_, err = r.Get(ctx, "f", "2")
	require.ErrorIs(t, err, form.ErrNotFound)

	require.NoError(t, r.Put(ctx, form.Form{ID: "f", Version: "2", Name: "second"}))
	require.Error(t, r.Put(ctx, form.Form{ID: "f"}))

	require.NoError(t, r.Delete(ctx, "f", "1"))
	_, err = r.Get(ctx, "f", "1")
	require.ErrorIs(t, err, form.ErrNotFound)
}
