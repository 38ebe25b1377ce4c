package inmem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/chat"
)

func TestAppendRecentAnswer(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, id := range []string{"i1", "i2", "i3"} {
		require.NoError(t, s.Append(ctx, chat.Record{ChatID: "c", AppID: "a", InstanceID: id, Question: "q-" + id}))
	}
	require.NoError(t, s.SetAnswer(ctx, "i2", "a-2"))
	require.ErrorIs(t, s.SetAnswer(ctx, "nope", "x"), chat.ErrNotFound)

	recent, err := s.Recent(ctx, "c", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "i2", recent[0].InstanceID)
	require.Equal(t, "a-2", recent[0].Answer)
	require.NotEmpty(t, recent[0].ID)

	require.NoError(t, s.DeleteChat(ctx, "c"))
	recent, err = s.Recent(ctx, "c", 10)
	require.NoError(t, err)
	require.Empty(t, recent)
}

func TestAppendValidates(t *testing.T) {
	require.EqualError(t, New().Append(context.Background(), chat.Record{}), "chat id is required")
}

func TestDeleteTurn(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Append(ctx, chat.Record{ChatID: "c", InstanceID: "i1", Question: "q1"}))
	require.NoError(t, s.Append(ctx, chat.Record{ChatID: "c", InstanceID: "i2", Question: "q2"}))

	require.NoError(t, s.DeleteTurn(ctx, "i1"))
	require.NoError(t, s.DeleteTurn(ctx, "unknown"))
	require.ErrorIs(t, s.SetAnswer(ctx, "i1", "x"), chat.ErrNotFound)

	recent, err := s.Recent(ctx, "c", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, "q2", recent[0].Question)
}
