// Package vertex implements provider.Client for types.ProviderKindVertex.
// The pack carries no Google Vertex AI SDK, but AWS Bedrock's Converse API
// is the closest available analogue: a provider-neutral "messages + tool
// config in, assistant message + usage out" shape that plays the same role
// Vertex's generateContent does relative to OpenAI/Anthropic's native APIs.
// This adapter is grounded on that Converse/ConverseStream shape using
// github.com/aws/aws-sdk-go-v2's bedrockruntime client, with document.Interface
// from github.com/aws/smithy-go standing in for Vertex's schema-free tool
// input/output payloads.
package vertex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithydocument "github.com/aws/smithy-go/document"

	"github.com/tzgateway/gateway/provider"
	"github.com/tzgateway/gateway/tzerr"
	"github.com/tzgateway/gateway/types"
)

// ConverseClient captures the subset of *bedrockruntime.Client the adapter
// calls, so tests can substitute a fake.
type ConverseClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Client implements provider.Client against the Bedrock-shaped Converse API
// that stands in for Vertex in this module (see package doc).
type Client struct {
	rt         ConverseClient
	providerID string
}

// New builds a Client from an already-configured bedrockruntime client (or a
// fake implementing ConverseClient for tests).
func New(rt ConverseClient, providerID string) (*Client, error) {
	if rt == nil {
		return nil, errors.New("vertex: converse client is required")
	}
	return &Client{rt: rt, providerID: providerID}, nil
}

func (c *Client) Infer(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	in, rawReq, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	out, err := c.rt.Converse(ctx, in)
	if err != nil {
		return nil, c.wrapErr("converse", err)
	}
	resp, err := translateOutput(out)
	if err != nil {
		return nil, err
	}
	resp.RawRequest = rawReq
	return resp, nil
}

func (c *Client) InferStream(ctx context.Context, req *provider.Request) (provider.Streamer, string, error) {
	in, rawReq, err := c.prepareRequest(req)
	if err != nil {
		return nil, "", err
	}
	streamIn := &bedrockruntime.ConverseStreamInput{
		ModelId:         in.ModelId,
		Messages:        in.Messages,
		System:          in.System,
		InferenceConfig: in.InferenceConfig,
		ToolConfig:      in.ToolConfig,
	}
	out, err := c.rt.ConverseStream(ctx, streamIn)
	if err != nil {
		return nil, "", c.wrapErr("converse_stream", err)
	}
	return newStreamer(ctx, out), rawReq, nil
}

// StartBatch is not implemented: Bedrock's batch inference API submits
// newline-delimited JSON to an S3 bucket rather than accepting requests
// inline, a materially different shape than this gateway's provider-neutral
// batch contract.
func (c *Client) StartBatch(ctx context.Context, req *provider.StartBatchRequest) (*provider.StartBatchResponse, error) {
	return nil, tzerr.New(tzerr.KindUnsupportedBatchInference, "vertex provider does not support batch inference in this gateway", nil, map[string]any{"provider": c.providerID})
}

func (c *Client) PollBatch(ctx context.Context, batchID string, n int) (*provider.PollBatchResponse, error) {
	return nil, tzerr.New(tzerr.KindUnsupportedBatchInference, "vertex provider does not support batch inference in this gateway", nil, map[string]any{"provider": c.providerID})
}

// wrapErr classifies a Converse/ConverseStream failure. Bedrock surfaces
// errors as smithy.APIError, which provider.ClassifyTransportError already
// recognizes, so no Bedrock-specific status mapping is needed here.
func (c *Client) wrapErr(op string, err error) error {
	kind := provider.ClassifyTransportError(err)
	return tzerr.New(kind, "vertex "+op, err, map[string]any{"provider": c.providerID})
}

func (c *Client) prepareRequest(req *provider.Request) (*bedrockruntime.ConverseInput, string, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, "", tzerr.New(tzerr.KindInvalidRequest, "vertex: at least one message is required", nil, nil)
	}
	if req.ModelID == "" {
		return nil, "", tzerr.New(tzerr.KindInvalidProviderConfig, "vertex: model id is required", nil, nil)
	}

	messages, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, "", err
	}

	in := &bedrockruntime.ConverseInput{
		ModelId:  strPtr(req.ModelID),
		Messages: messages,
	}
	if req.System != "" {
		in.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: req.System}}
	}

	cfg := &brtypes.InferenceConfiguration{}
	haveCfg := false
	if req.Params.MaxTokens != nil && *req.Params.MaxTokens > 0 {
		v := int32(*req.Params.MaxTokens)
		cfg.MaxTokens = &v
		haveCfg = true
	}
	if req.Params.Temperature != nil {
		v := float32(*req.Params.Temperature)
		cfg.Temperature = &v
		haveCfg = true
	}
	if req.Params.TopP != nil {
		v := float32(*req.Params.TopP)
		cfg.TopP = &v
		haveCfg = true
	}
	if len(req.StopSequences) > 0 {
		cfg.StopSequences = req.StopSequences
		haveCfg = true
	}
	if haveCfg {
		in.InferenceConfig = cfg
	}

	if tc, err := encodeToolConfig(req.Tools); err != nil {
		return nil, "", err
	} else if tc != nil {
		in.ToolConfig = tc
	}

	rawReq, _ := json.Marshal(struct {
		ModelID  string
		Messages int
	}{req.ModelID, len(req.Messages)})
	return in, string(rawReq), nil
}

func encodeMessages(msgs []types.Message) ([]brtypes.Message, error) {
	out := make([]brtypes.Message, 0, len(msgs))
	for _, m := range msgs {
		blocks := make([]brtypes.ContentBlock, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch v := part.(type) {
			case types.TextPart:
				if v.Text != "" {
					blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: v.Text})
				}
			case types.ToolCallPart:
				var input any
				if len(v.RawArgs) > 0 {
					_ = json.Unmarshal(v.RawArgs, &input)
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
					ToolUseId: strPtr(v.ID),
					Name:      strPtr(v.Name),
					Input:     smithydocument.NewLazyDocument(input),
				}})
			case types.ToolResultPart:
				status := brtypes.ToolResultStatusSuccess
				if v.IsError {
					status = brtypes.ToolResultStatusError
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolResult{Value: brtypes.ToolResultBlock{
					ToolUseId: strPtr(v.ToolCallID),
					Status:    status,
					Content:   []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: stringifyResult(v.Result)}},
				}})
			case types.ThoughtPart:
				// Bedrock's reasoning content block is model-specific and is not
				// replayed back into subsequent turns.
			default:
				// Template/File/Unknown parts must already be resolved by the time
				// a request reaches a provider adapter.
			}
		}
		if len(blocks) == 0 {
			continue
		}
		var role brtypes.ConversationRole
		switch m.Role {
		case types.RoleUser:
			role = brtypes.ConversationRoleUser
		case types.RoleAssistant:
			role = brtypes.ConversationRoleAssistant
		default:
			return nil, tzerr.New(tzerr.KindInvalidMessage, fmt.Sprintf("vertex: unsupported message role %q", m.Role), nil, nil)
		}
		out = append(out, brtypes.Message{Role: role, Content: blocks})
	}
	if len(out) == 0 {
		return nil, tzerr.New(tzerr.KindInvalidRequest, "vertex: at least one user/assistant message is required", nil, nil)
	}
	return out, nil
}

func encodeToolConfig(tc *types.ToolCallConfig) (*brtypes.ToolConfiguration, error) {
	if tc == nil || len(tc.Tools) == 0 {
		return nil, nil
	}
	tools := make([]brtypes.Tool, 0, len(tc.Tools))
	for _, def := range tc.Tools {
		if def == nil {
			continue
		}
		var schema any
		if def.Parameters != nil {
			if err := json.Unmarshal(def.Parameters.Raw(), &schema); err != nil {
				return nil, tzerr.New(tzerr.KindInvalidProviderConfig, "vertex: tool schema", err, map[string]any{"tool": def.Name})
			}
		}
		tools = append(tools, &brtypes.ToolMemberToolSpec{Value: brtypes.ToolSpec{
			Name:        strPtr(def.Name),
			Description: strPtr(def.Description),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: smithydocument.NewLazyDocument(schema)},
		}})
	}
	if len(tools) == 0 {
		return nil, nil
	}
	cfg := &brtypes.ToolConfiguration{Tools: tools}
	if tc.ToolChoice != nil {
		switch tc.ToolChoice.Mode {
		case "", types.ToolChoiceAuto:
			cfg.ToolChoice = &brtypes.ToolChoiceMemberAuto{}
		case types.ToolChoiceRequired:
			cfg.ToolChoice = &brtypes.ToolChoiceMemberAny{}
		case types.ToolChoiceNone:
			// Bedrock's Converse API has no "none" tool choice; omitting
			// ToolChoice while still advertising tools is the closest analogue.
		case types.ToolChoiceSpecific:
			if tc.ToolChoice.Name == "" {
				return nil, tzerr.New(tzerr.KindInvalidRequest, "vertex: specific tool choice requires a name", nil, nil)
			}
			cfg.ToolChoice = &brtypes.ToolChoiceMemberTool{Value: brtypes.SpecificToolChoice{Name: strPtr(tc.ToolChoice.Name)}}
		default:
			return nil, tzerr.New(tzerr.KindInvalidRequest, "vertex: unsupported tool choice mode", nil, map[string]any{"mode": tc.ToolChoice.Mode})
		}
	}
	return cfg, nil
}

func stringifyResult(result any) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
		return ""
	}
}

func translateOutput(out *bedrockruntime.ConverseOutput) (*provider.Response, error) {
	if out == nil {
		return nil, tzerr.New(tzerr.KindInferenceServer, "vertex: empty converse output", nil, nil)
	}
	msgMember, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return nil, tzerr.New(tzerr.KindInferenceServer, "vertex: converse output has no message", nil, nil)
	}
	resp := &provider.Response{}
	for _, block := range msgMember.Value.Content {
		switch v := block.(type) {
		case *brtypes.ContentBlockMemberText:
			resp.Content = append(resp.Content, types.TextPart{Text: v.Value})
		case *brtypes.ContentBlockMemberToolUse:
			raw, _ := json.Marshal(documentToAny(v.Value.Input))
			tc := types.ToolCallPart{ID: strVal(v.Value.ToolUseId), Name: strVal(v.Value.Name), RawArgs: raw}
			resp.Content = append(resp.Content, tc)
			resp.ToolCalls = append(resp.ToolCalls, tc)
		}
	}
	if out.Usage != nil {
		resp.Usage = types.Usage{
			InputTokens:  int(int32Val(out.Usage.InputTokens)),
			OutputTokens: int(int32Val(out.Usage.OutputTokens)),
		}
	}
	resp.FinishReason = mapStopReason(out.StopReason)
	if raw, err := json.Marshal(struct {
		StopReason brtypes.StopReason
	}{out.StopReason}); err == nil {
		resp.RawResponse = string(raw)
	}
	return resp, nil
}

func documentToAny(doc smithydocument.Interface) any {
	if doc == nil {
		return nil
	}
	var v any
	_ = doc.UnmarshalSmithyDocument(&v)
	return v
}

func mapStopReason(reason brtypes.StopReason) types.FinishReason {
	switch reason {
	case brtypes.StopReasonEndTurn, brtypes.StopReasonStopSequence:
		return types.FinishReasonStop
	case brtypes.StopReasonMaxTokens:
		return types.FinishReasonLength
	case brtypes.StopReasonToolUse:
		return types.FinishReasonToolCall
	case brtypes.StopReasonContentFiltered, brtypes.StopReasonGuardrailIntervened:
		return types.FinishReasonContentFilter
	default:
		return types.FinishReasonOther
	}
}

func strPtr(s string) *string { return &s }

func strVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func int32Val(v *int32) int32 {
	if v == nil {
		return 0
	}
	return *v
}
