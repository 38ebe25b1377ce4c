package instance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	require.True(t, StatusCreated.CanTransition(StatusRunning))
	require.True(t, StatusRunning.CanTransition(StatusAwaitingForm))
	require.True(t, StatusAwaitingForm.CanTransition(StatusRunning))
	require.True(t, StatusRunning.CanTransition(StatusCompleted))
	require.False(t, StatusCompleted.CanTransition(StatusRunning))
	require.False(t, StatusCreated.CanTransition(StatusAwaitingForm))

	for _, s := range []Status{StatusCreated, StatusRunning, StatusAwaitingForm} {
		require.True(t, s.Terminable(), s)
		require.False(t, s.Final(), s)
	}
	for _, s := range []Status{StatusTerminated, StatusCompleted, StatusError} {
		require.False(t, s.Terminable(), s)
		require.True(t, s.Final(), s)
	}
}

func TestValidate(t *testing.T) {
	require.EqualError(t, Instance{}.Validate(), "instance id is required")
	require.EqualError(t, Instance{ID: "i"}.Validate(), "app id is required")
	require.EqualError(t, Instance{ID: "i", AppID: "a"}.Validate(), `invalid status ""`)
	require.NoError(t, Instance{ID: "i", AppID: "a", Status: StatusCreated}.Validate())
}

func TestApply(t *testing.T) {
	now := time.Now()
	orig := Instance{ID: "i", AppID: "a", Status: StatusRunning, Business: map[string]any{"a": 1}}
	end := now.Add(time.Second)
	out := orig.Apply(Patch{
		Status:   StatusPtr(StatusCompleted),
		FormID:   StringPtr("f"),
		EndTime:  &end,
		Business: map[string]any{"b": 2},
	}, now)

	require.Equal(t, StatusCompleted, out.Status)
	require.Equal(t, "f", out.FormID)
	require.Equal(t, map[string]any{"a": 1, "b": 2}, out.Business)
	require.Equal(t, map[string]any{"a": 1}, orig.Business)
	require.True(t, out.EndTime.Equal(end))
	require.Equal(t, now.UTC(), out.UpdatedAt)
}
