package bedrock

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	"github.com/stretchr/testify/require"

	"github.com/wuayee/app-platform-sub002/runtime/aipp/model"
)

type stubRuntime struct {
	input *bedrockruntime.ConverseInput
	out   *bedrockruntime.ConverseOutput
	err   error
}

func (s *stubRuntime) Converse(_ context.Context, in *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	s.input = in
	return s.out, s.err
}

func TestCompleteTranslatesRequestAndResponse(t *testing.T) {
	rt := &stubRuntime{out: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role: brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{
				&brtypes.ContentBlockMemberText{Value: "42"},
			},
		}},
		StopReason: brtypes.StopReasonEndTurn,
		Usage:      &brtypes.TokenUsage{InputTokens: aws.Int32(7), OutputTokens: aws.Int32(1)},
	}}
	c, err := New(Options{Runtime: rt, DefaultModel: "anthropic.claude", MaxTokens: 256, Temperature: 0.2})
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), model.Request{
		System: "answer with a number",
		Messages: []model.Message{
			{Role: model.RoleUser, Content: "meaning of life?"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "42", resp.Content)
	require.Equal(t, "end_turn", resp.StopReason)
	require.Equal(t, model.Usage{InputTokens: 7, OutputTokens: 1}, resp.Usage)

	in := rt.input
	require.Equal(t, "anthropic.claude", aws.ToString(in.ModelId))
	require.Len(t, in.System, 1)
	require.Len(t, in.Messages, 1)
	require.Equal(t, brtypes.ConversationRoleUser, in.Messages[0].Role)
	require.Equal(t, int32(256), aws.ToInt32(in.InferenceConfig.MaxTokens))
	require.InDelta(t, 0.2, aws.ToFloat32(in.InferenceConfig.Temperature), 1e-6)
}

func TestInferenceConfigOmittedWithoutDefaults(t *testing.T) {
	c := &Client{defaultModel: "m"}
	require.Nil(t, c.inferenceConfig(model.Request{}))
}

func TestIsRateLimited(t *testing.T) {
	require.True(t, isRateLimited(model.ErrRateLimited))
	require.True(t, isRateLimited(fmt.Errorf("provider: %w", model.ErrRateLimited)))
	require.True(t, isRateLimited(&smithy.GenericAPIError{Code: "ThrottlingException"}))
	require.False(t, isRateLimited(&smithy.GenericAPIError{Code: "ValidationException"}))
	require.False(t, isRateLimited(nil))
}

func TestCompleteWrapsRateLimitedErrors(t *testing.T) {
	rt := &stubRuntime{err: &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow"}}
	c, err := New(Options{Runtime: rt, DefaultModel: "m"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), model.Request{Messages: []model.Message{{Role: model.RoleUser, Content: "x"}}})
	require.ErrorIs(t, err, model.ErrRateLimited)
}
