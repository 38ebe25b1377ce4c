package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/broker"
	"github.com/wuayee/app-platform-sub002/runtime/aipp/chat"
	chatinmem "github.com/wuayee/app-platform-sub002/runtime/aipp/chat/inmem"
)

func seeded(t *testing.T, n int) *chatinmem.Store {
	t.Helper()
	s := chatinmem.New()
	for i := 1; i <= n; i++ {
		require.NoError(t, s.Append(context.Background(), chat.Record{
			ChatID: "c", InstanceID: fmt.Sprintf("i%d", i), Question: fmt.Sprintf("q%d", i), Answer: fmt.Sprintf("a%d", i),
		}))
	}
	return s
}

func TestNotUseMemory(t *testing.T) {
	out, err := NewResolver(seeded(t, 2), nil).Resolve(context.Background(), Config{Type: NotUseMemory}, "c")
	require.NoError(t, err)
	require.Empty(t, out.Turns)
	require.False(t, out.AwaitSelection)
}

func TestByConversationTurn(t *testing.T) {
	out, err := NewResolver(seeded(t, 5), nil).Resolve(context.Background(), Config{Type: ByConversationTurn, Turns: 2}, "c")
	require.NoError(t, err)
	require.Equal(t, []Turn{{InstanceID: "i4", Question: "q4", Answer: "a4"}, {InstanceID: "i5", Question: "q5", Answer: "a5"}}, out.Turns)

	out, err = NewResolver(seeded(t, 5), nil).Resolve(context.Background(), Config{Type: ByConversationTurn}, "c")
	require.NoError(t, err)
	require.Len(t, out.Turns, DefaultTurns)
}

func TestUserSelect(t *testing.T) {
	r := NewResolver(seeded(t, 3), nil)
	out, err := r.Resolve(context.Background(), Config{Type: UserSelect, Turns: 5}, "c")
	require.NoError(t, err)
	require.True(t, out.AwaitSelection)
	require.Len(t, out.Turns, 3)

	picked := Select(out.Turns, []string{"i3", "i1", "unknown"})
	require.Equal(t, []string{"i1", "i3"}, []string{picked[0].InstanceID, picked[1].InstanceID})

	out, err = r.Resolve(context.Background(), Config{Type: UserSelect}, "empty-chat")
	require.NoError(t, err)
	require.False(t, out.AwaitSelection)
}

func TestCustomizing(t *testing.T) {
	var gotArgs map[string]any
	inv := broker.InvokerFunc(func(_ context.Context, gid, fid string, args map[string]any) (json.RawMessage, error) {
		require.Equal(t, "memory.generic", gid)
		require.Equal(t, "memory.vector", fid)
		gotArgs = args
		return json.RawMessage(`[{"question":"q","answer":"a"}]`), nil
	})
	cfg := Config{Type: Customizing, GenericableID: "memory.generic", FitableID: "memory.vector", Params: map[string]any{"k": 2}}
	out, err := NewResolver(chatinmem.New(), inv).Resolve(context.Background(), cfg, "c")
	require.NoError(t, err)
	require.Equal(t, []Turn{{Question: "q", Answer: "a"}}, out.Turns)
	require.Equal(t, map[string]any{"chat_id": "c", "k": 2}, gotArgs)
}

func TestCustomizingErrors(t *testing.T) {
	cfg := Config{Type: Customizing, GenericableID: "g", FitableID: "f"}
	_, err := NewResolver(chatinmem.New(), nil).Resolve(context.Background(), cfg, "c")
	require.Error(t, err)

	boom := errors.New("broker down")
	inv := broker.InvokerFunc(func(context.Context, string, string, map[string]any) (json.RawMessage, error) { return nil, boom })
	_, err = NewResolver(chatinmem.New(), inv).Resolve(context.Background(), cfg, "c")
	require.ErrorIs(t, err, boom)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, Config{}.Validate())
	require.NoError(t, Config{Type: ByConversationTurn, Turns: 4}.Validate())
	require.Error(t, Config{Type: ByConversationTurn, Turns: -1}.Validate())
	require.Error(t, Config{Type: Customizing}.Validate())
	require.Error(t, Config{Type: "bogus"}.Validate())
}
