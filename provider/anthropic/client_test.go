package anthropic

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/tzgateway/gateway/provider"
	"github.com/tzgateway/gateway/schema"
	"github.com/tzgateway/gateway/types"
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

func (s *stubMessagesClient) NewStreaming(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion] {
	s.lastParams = body
	return nil
}

func TestInfer_TextOnly(t *testing.T) {
	stub := &stubMessagesClient{
		resp: &sdk.Message{
			Content:    []sdk.ContentBlockUnion{{Type: "text", Text: "world"}},
			StopReason: sdk.StopReasonEndTurn,
			Usage:      sdk.Usage{InputTokens: 10, OutputTokens: 5},
		},
	}
	cl, err := New(stub, 128, "anthropic-primary")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := &provider.Request{
		ModelID: "claude-3-5-sonnet-20241022",
		Messages: []types.Message{
			{Role: types.RoleUser, Parts: []types.Part{types.TextPart{Text: "hello"}}},
		},
	}

	resp, err := cl.Infer(context.Background(), req)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if len(resp.Content) != 1 {
		t.Fatalf("expected 1 content part, got %d", len(resp.Content))
	}
	tp, ok := resp.Content[0].(types.TextPart)
	if !ok || tp.Text != "world" {
		t.Fatalf("expected text part %q, got %#v", "world", resp.Content[0])
	}
	if resp.Usage.InputTokens != 10 || resp.Usage.OutputTokens != 5 {
		t.Fatalf("unexpected usage: %+v", resp.Usage)
	}
	if resp.FinishReason != types.FinishReasonStop {
		t.Fatalf("unexpected finish reason: %v", resp.FinishReason)
	}
	if stub.lastParams.Model != sdk.Model(req.ModelID) {
		t.Fatalf("model id not forwarded: %v", stub.lastParams.Model)
	}
}

func TestInfer_JSONModeForcesToolChoice(t *testing.T) {
	stub := &stubMessagesClient{
		resp: &sdk.Message{
			Content:    []sdk.ContentBlockUnion{{Type: "tool_use", ID: "t1", Name: jsonToolName, Input: map[string]any{"ok": true}}},
			StopReason: sdk.StopReasonToolUse,
		},
	}
	cl, err := New(stub, 128, "anthropic-primary")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	schemaBytes := []byte(`{"type":"object","properties":{"ok":{"type":"boolean"}},"required":["ok"]}`)
	compiled, err := schema.Compile("json-mode-test", schemaBytes)
	if err != nil {
		t.Fatalf("compile schema: %v", err)
	}

	req := &provider.Request{
		ModelID:      "claude-3-5-sonnet-20241022",
		Messages:     []types.Message{{Role: types.RoleUser, Parts: []types.Part{types.TextPart{Text: "give me json"}}}},
		JSONMode:     provider.JSONModeOn,
		OutputSchema: compiled,
	}

	resp, err := cl.Infer(context.Background(), req)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if len(resp.Content) != 1 {
		t.Fatalf("expected 1 content part, got %d", len(resp.Content))
	}
	if _, ok := resp.Content[0].(types.TextPart); !ok {
		t.Fatalf("expected json-mode tool_use to surface as text, got %#v", resp.Content[0])
	}
	if stub.lastParams.ToolChoice.OfTool == nil {
		t.Fatalf("expected tool_choice to force the json tool")
	}
}

func TestEncodeMessages_UnknownToolCallRejected(t *testing.T) {
	_, _, err := encodeMessages([]types.Message{
		{Role: types.RoleAssistant, Parts: []types.Part{types.ToolCallPart{ID: "1", Name: "ghost"}}},
	}, map[string]string{})
	if err == nil {
		t.Fatal("expected error for unconfigured tool reference")
	}
}

func TestSanitizeToolName(t *testing.T) {
	if got := sanitizeToolName("search.web"); got != "search_web" {
		t.Fatalf("expected disallowed rune to be replaced, got %q", got)
	}
	if got := sanitizeToolName("web_search"); got != "web_search" {
		t.Fatalf("expected already-safe name to pass through unchanged, got %q", got)
	}
}
