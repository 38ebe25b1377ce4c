package anthropic

import (
	"context"
	"errors"
	"fmt"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/require"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/model"
)

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
}

func (s *stubMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func TestCompleteTextOnly(t *testing.T) {
	stub := &stubMessagesClient{resp: &sdk.Message{
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "hello "},
			{Type: "text", Text: "there"},
		},
		StopReason: sdk.StopReasonEndTurn,
		Usage:      sdk.Usage{InputTokens: 3, OutputTokens: 2},
	}}
	cl, err := New(stub, Options{DefaultModel: "claude-sonnet", MaxTokens: 128})
	require.NoError(t, err)

	resp, err := cl.Complete(context.Background(), model.Request{
		System: "terse",
		Messages: []model.Message{
			{Role: model.RoleUser, Content: "hi"},
			{Role: model.RoleAssistant, Content: "hello"},
			{Role: model.RoleUser, Content: "again"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "hello there", resp.Content)
	require.Equal(t, "end_turn", resp.StopReason)
	require.Equal(t, model.Usage{InputTokens: 3, OutputTokens: 2}, resp.Usage)

	p := stub.lastParams
	require.Equal(t, sdk.Model("claude-sonnet"), p.Model)
	require.Equal(t, int64(128), p.MaxTokens)
	require.Len(t, p.Messages, 3)
	require.Equal(t, sdk.MessageParamRoleAssistant, p.Messages[1].Role)
	require.Len(t, p.System, 1)
	require.Equal(t, "terse", p.System[0].Text)
}

func TestCompleteRequestOverrides(t *testing.T) {
	stub := &stubMessagesClient{resp: &sdk.Message{}}
	cl, err := New(stub, Options{DefaultModel: "claude-sonnet"})
	require.NoError(t, err)

	temp := 0.3
	_, err = cl.Complete(context.Background(), model.Request{
		Model:       "claude-haiku",
		MaxTokens:   64,
		Temperature: &temp,
		Messages:    []model.Message{{Role: model.RoleUser, Content: "x"}},
	})
	require.NoError(t, err)
	require.Equal(t, sdk.Model("claude-haiku"), stub.lastParams.Model)
	require.Equal(t, int64(64), stub.lastParams.MaxTokens)
	require.Equal(t, sdk.Float(0.3), stub.lastParams.Temperature)
}

func TestCompleteErrors(t *testing.T) {
	stub := &stubMessagesClient{err: errors.New("boom")}
	cl, err := New(stub, Options{DefaultModel: "claude-sonnet"})
	require.NoError(t, err)

	_, err = cl.Complete(context.Background(), model.Request{Messages: []model.Message{{Role: model.RoleUser, Content: "x"}}})
	require.ErrorContains(t, err, "boom")
	require.NotErrorIs(t, err, model.ErrRateLimited)

	stub.err = fmt.Errorf("throttled: %w", model.ErrRateLimited)
	_, err = cl.Complete(context.Background(), model.Request{Messages: []model.Message{{Role: model.RoleUser, Content: "x"}}})
	require.ErrorIs(t, err, model.ErrRateLimited)

	_, err = New(nil, Options{DefaultModel: "m"})
	require.Error(t, err)
}
