package vertex

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/require"

	"github.com/tzgateway/gateway/provider"
	"github.com/tzgateway/gateway/types"
)

type stubConverseClient struct {
	lastInput *bedrockruntime.ConverseInput
	resp      *bedrockruntime.ConverseOutput
	err       error
}

func (s *stubConverseClient) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	s.lastInput = params
	return s.resp, s.err
}

func (s *stubConverseClient) ConverseStream(_ context.Context, _ *bedrockruntime.ConverseStreamInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error) {
	return nil, nil
}

func TestInfer_TextOnly(t *testing.T) {
	stub := &stubConverseClient{
		resp: &bedrockruntime.ConverseOutput{
			Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
				Role:    brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: "Tokyo"}},
			}},
			StopReason: brtypes.StopReasonEndTurn,
			Usage:      &brtypes.TokenUsage{InputTokens: strPtrInt32(10), OutputTokens: strPtrInt32(4)},
		},
	}
	cl, err := New(stub, "vertex-primary")
	require.NoError(t, err)

	req := &provider.Request{
		ModelID: "amazon.titan-text-express-v1",
		Messages: []types.Message{
			{Role: types.RoleUser, Parts: []types.Part{types.TextPart{Text: "capital of Japan?"}}},
		},
	}

	resp, err := cl.Infer(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.Content, 1)
	tp, ok := resp.Content[0].(types.TextPart)
	require.True(t, ok)
	require.Equal(t, "Tokyo", tp.Text)
	require.Equal(t, 10, resp.Usage.InputTokens)
	require.Equal(t, 4, resp.Usage.OutputTokens)
	require.Equal(t, types.FinishReasonStop, resp.FinishReason)
	require.Equal(t, "amazon.titan-text-express-v1", *stub.lastInput.ModelId)
}

func TestInfer_RequiresModelID(t *testing.T) {
	cl, err := New(&stubConverseClient{}, "vertex-primary")
	require.NoError(t, err)
	_, err = cl.Infer(context.Background(), &provider.Request{
		Messages: []types.Message{{Role: types.RoleUser, Parts: []types.Part{types.TextPart{Text: "hi"}}}},
	})
	require.Error(t, err)
}

func TestInfer_UnsupportedBatch(t *testing.T) {
	cl, err := New(&stubConverseClient{}, "vertex-primary")
	require.NoError(t, err)
	_, err = cl.StartBatch(context.Background(), &provider.StartBatchRequest{})
	require.Error(t, err)
	_, err = cl.PollBatch(context.Background(), "batch-1", 1)
	require.Error(t, err)
}

func strPtrInt32(v int32) *int32 { return &v }
