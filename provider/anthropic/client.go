// Package anthropic implements provider.Client against the Anthropic Claude
// Messages API, adapted from the teacher's features/model/anthropic client:
// the same MessagesClient seam (so tests can substitute a fake in place of
// *sdk.MessageService), the same tool-name sanitization scheme, and the same
// streaming-adapter shape, generalized to this gateway's JSON-mode,
// output-schema, and extra-body request fields (§4.C).
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/tzgateway/gateway/provider"
	"github.com/tzgateway/gateway/tzerr"
	"github.com/tzgateway/gateway/types"
)

// MessagesClient captures the subset of the Anthropic SDK used by Client, so
// tests can substitute a fake in place of *sdk.MessageService.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Client implements provider.Client on top of Anthropic Claude Messages.
type Client struct {
	msg        MessagesClient
	maxTokens  int
	providerID string
}

// New builds an Anthropic-backed provider client. maxTokens is the
// completion cap used when a request's InferenceParams.MaxTokens is unset;
// providerID labels the client in error fields.
func New(msg MessagesClient, maxTokens int, providerID string) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{msg: msg, maxTokens: maxTokens, providerID: providerID}, nil
}

// NewFromAPIKey constructs a client using the default Anthropic HTTP
// transport, for model providers configured with static or resolved
// credentials (§4.C).
func NewFromAPIKey(apiKey string, maxTokens int, providerID string) (*Client, error) {
	if apiKey == "" {
		return nil, tzerr.New(tzerr.KindAPIKeyMissing, "anthropic provider requires an API key", nil, map[string]any{"provider": providerID})
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, maxTokens, providerID)
}

// jsonToolName is the forced-tool name used to coerce structured JSON output
// out of Claude, which has no native json_object response mode the way
// OpenAI-compatible APIs do (§4.C JSONMode on a provider without native
// support).
const jsonToolName = "respond_in_json"

func (c *Client) Infer(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	params, jsonMode, rawReq, opts, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	msg, err := c.msg.New(ctx, *params, opts...)
	if err != nil {
		return nil, c.wrapErr("messages.new", err)
	}
	resp, err := translateResponse(msg, jsonMode)
	if err != nil {
		return nil, err
	}
	resp.RawRequest = rawReq
	return resp, nil
}

func (c *Client) InferStream(ctx context.Context, req *provider.Request) (provider.Streamer, string, error) {
	params, jsonMode, rawReq, opts, err := c.prepareRequest(req)
	if err != nil {
		return nil, "", err
	}
	stream := c.msg.NewStreaming(ctx, *params, opts...)
	if err := stream.Err(); err != nil {
		return nil, "", c.wrapErr("messages.new (stream)", err)
	}
	return newStreamer(ctx, stream, jsonMode), rawReq, nil
}

// StartBatch is not implemented: Claude's Message Batches API has a
// materially different submission/polling shape than this gateway's
// provider-neutral batch contract and is left for a future adapter.
func (c *Client) StartBatch(ctx context.Context, req *provider.StartBatchRequest) (*provider.StartBatchResponse, error) {
	return nil, tzerr.New(tzerr.KindUnsupportedBatchInference, "anthropic provider does not support batch inference in this gateway", nil, map[string]any{"provider": c.providerID})
}

func (c *Client) PollBatch(ctx context.Context, batchID string, n int) (*provider.PollBatchResponse, error) {
	return nil, tzerr.New(tzerr.KindUnsupportedBatchInference, "anthropic provider does not support batch inference in this gateway", nil, map[string]any{"provider": c.providerID})
}

func (c *Client) wrapErr(op string, err error) error {
	kind := provider.ClassifyTransportError(err)
	var apiErr interface{ StatusCode() int }
	if errors.As(err, &apiErr) {
		kind = provider.ClassifyHTTPStatus(apiErr.StatusCode())
	}
	return tzerr.New(kind, "anthropic "+op, err, map[string]any{"provider": c.providerID})
}

func (c *Client) prepareRequest(req *provider.Request) (*sdk.MessageNewParams, bool, string, []option.RequestOption, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, false, "", nil, tzerr.New(tzerr.KindInvalidRequest, "anthropic: at least one message is required", nil, nil)
	}
	if req.ModelID == "" {
		return nil, false, "", nil, tzerr.New(tzerr.KindInvalidProviderConfig, "anthropic: model id is required", nil, nil)
	}

	jsonMode := req.JSONMode != provider.JSONModeOff && req.OutputSchema != nil

	toolList, canonToSan, sanToCanon, err := encodeTools(req.Tools, jsonMode, req.OutputSchema)
	if err != nil {
		return nil, false, "", nil, err
	}
	msgs, system, err := encodeMessages(req.Messages, canonToSan)
	if err != nil {
		return nil, false, "", nil, err
	}
	if req.System != "" {
		system = append([]sdk.TextBlockParam{{Text: req.System}}, system...)
	}

	maxTokens := c.maxTokens
	if req.Params.MaxTokens != nil && *req.Params.MaxTokens > 0 {
		maxTokens = int(*req.Params.MaxTokens)
	}

	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(req.ModelID),
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(toolList) > 0 {
		params.Tools = toolList
	}
	if req.Params.Temperature != nil {
		params.Temperature = sdk.Float(*req.Params.Temperature)
	}
	if req.Params.TopP != nil {
		params.TopP = sdk.Float(*req.Params.TopP)
	}
	if len(req.StopSequences) > 0 {
		params.StopSequences = req.StopSequences
	}
	if req.Params.ThinkingBudget != nil && *req.Params.ThinkingBudget > 0 {
		params.Thinking = sdk.ThinkingConfigParamOfEnabled(*req.Params.ThinkingBudget)
	}

	switch {
	case jsonMode:
		forced := sdk.ToolChoiceParamOfTool(sanToCanon[jsonToolName])
		params.ToolChoice = forced
	case req.Tools != nil && req.Tools.ToolChoice != nil:
		tc, err := encodeToolChoice(req.Tools.ToolChoice, canonToSan)
		if err != nil {
			return nil, false, "", nil, err
		}
		params.ToolChoice = tc
	}

	opts := requestOptionsFor(req.ExtraBody)
	for k, v := range req.ExtraHeaders {
		opts = append(opts, option.WithHeader(k, v))
	}
	rawReq, _ := json.Marshal(params)
	return &params, jsonMode, string(rawReq), opts, nil
}

// requestOptionsFor translates §4.C's JSON-pointer extra_body replacements
// into Anthropic SDK request options. A pointer such as "/metadata/user_id"
// becomes a dotted JSON-set path understood by option.WithJSONSet.
func requestOptionsFor(replacements []types.ExtraBodyReplacement) []option.RequestOption {
	opts := make([]option.RequestOption, 0, len(replacements))
	for _, r := range replacements {
		key := strings.TrimPrefix(r.Pointer, "/")
		key = strings.ReplaceAll(key, "/", ".")
		opts = append(opts, option.WithJSONSet(key, r.Value))
	}
	return opts
}

func encodeMessages(msgs []types.Message, nameMap map[string]string) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	var system []sdk.TextBlockParam

	for _, m := range msgs {
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch v := part.(type) {
			case types.TextPart:
				if v.Text != "" {
					blocks = append(blocks, sdk.NewTextBlock(v.Text))
				}
			case types.ToolCallPart:
				var input any
				if len(v.RawArgs) > 0 {
					_ = json.Unmarshal(v.RawArgs, &input)
				}
				sanitized, ok := nameMap[v.Name]
				if !ok {
					return nil, nil, tzerr.New(tzerr.KindToolNotFound, fmt.Sprintf("anthropic: tool_call references %q which is not in the current tool configuration", v.Name), nil, nil)
				}
				blocks = append(blocks, sdk.NewToolUseBlock(v.ID, input, sanitized))
			case types.ToolResultPart:
				blocks = append(blocks, encodeToolResult(v))
			case types.ThoughtPart:
				// Thinking blocks are provider-specific scratch content; Anthropic
				// regenerates them rather than accepting replayed thinking.
			default:
				// Template/File/Unknown parts must already be resolved to text or
				// tool content by the time a request reaches a provider adapter.
			}
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case types.RoleUser:
			conversation = append(conversation, sdk.NewUserMessage(blocks...))
		case types.RoleAssistant:
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, nil, tzerr.New(tzerr.KindInvalidMessage, fmt.Sprintf("anthropic: unsupported message role %q", m.Role), nil, nil)
		}
	}
	if len(conversation) == 0 {
		return nil, nil, tzerr.New(tzerr.KindInvalidRequest, "anthropic: at least one user/assistant message is required", nil, nil)
	}
	return conversation, system, nil
}

func encodeToolResult(v types.ToolResultPart) sdk.ContentBlockParamUnion {
	var content string
	switch c := v.Result.(type) {
	case nil:
		content = ""
	case string:
		content = c
	case []byte:
		content = string(c)
	default:
		if data, err := json.Marshal(c); err == nil {
			content = string(data)
		}
	}
	return sdk.NewToolResultBlock(v.ToolCallID, content, v.IsError)
}

// encodeTools builds the provider tool list, adding a synthetic
// respond_in_json tool (and forcing its use) when jsonMode requests
// schema-conformant output from a model with no native JSON mode.
func encodeTools(tc *types.ToolCallConfig, jsonMode bool, outputSchema *types.CompiledSchemaRef) ([]sdk.ToolUnionParam, map[string]string, map[string]string, error) {
	canonToSan := make(map[string]string)
	sanToCanon := make(map[string]string)
	var toolList []sdk.ToolUnionParam

	if tc != nil {
		for _, def := range tc.Tools {
			if def == nil || def.Name == "" {
				continue
			}
			sanitized := sanitizeToolName(def.Name)
			if prev, ok := sanToCanon[sanitized]; ok && prev != def.Name {
				return nil, nil, nil, tzerr.New(tzerr.KindInvalidRequest, fmt.Sprintf("anthropic: tool name %q sanitizes to %q which collides with %q", def.Name, sanitized, prev), nil, nil)
			}
			sanToCanon[sanitized] = def.Name
			canonToSan[def.Name] = sanitized

			schemaParam, err := toolInputSchema(def.Parameters)
			if err != nil {
				return nil, nil, nil, tzerr.New(tzerr.KindInvalidProviderConfig, fmt.Sprintf("anthropic: tool %q schema", def.Name), err, nil)
			}
			u := sdk.ToolUnionParamOfTool(schemaParam, sanitized)
			if u.OfTool != nil {
				u.OfTool.Description = sdk.String(def.Description)
			}
			toolList = append(toolList, u)
		}
	}

	if jsonMode && outputSchema != nil {
		schemaParam, err := toolInputSchema(outputSchema)
		if err != nil {
			return nil, nil, nil, tzerr.New(tzerr.KindInvalidProviderConfig, "anthropic: output schema", err, nil)
		}
		u := sdk.ToolUnionParamOfTool(schemaParam, jsonToolName)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String("Respond with arguments conforming to the required output schema.")
		}
		canonToSan[jsonToolName] = jsonToolName
		sanToCanon[jsonToolName] = jsonToolName
		toolList = append(toolList, u)
	}

	return toolList, canonToSan, sanToCanon, nil
}

func toolInputSchema(schema *types.CompiledSchemaRef) (sdk.ToolInputSchemaParam, error) {
	if schema == nil {
		return sdk.ToolInputSchemaParam{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(schema.Raw(), &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}

func encodeToolChoice(choice *types.ToolChoice, canonToSan map[string]string) (sdk.ToolChoiceUnionParam, error) {
	switch choice.Mode {
	case "", types.ToolChoiceAuto:
		return sdk.ToolChoiceUnionParam{}, nil
	case types.ToolChoiceNone:
		none := sdk.NewToolChoiceNoneParam()
		return sdk.ToolChoiceUnionParam{OfNone: &none}, nil
	case types.ToolChoiceRequired:
		return sdk.ToolChoiceUnionParam{OfAny: &sdk.ToolChoiceAnyParam{}}, nil
	case types.ToolChoiceSpecific:
		sanitized, ok := canonToSan[choice.Name]
		if !ok {
			return sdk.ToolChoiceUnionParam{}, tzerr.New(tzerr.KindToolNotFound, fmt.Sprintf("anthropic: tool choice name %q does not match any configured tool", choice.Name), nil, nil)
		}
		return sdk.ToolChoiceParamOfTool(sanitized), nil
	default:
		return sdk.ToolChoiceUnionParam{}, tzerr.New(tzerr.KindInvalidRequest, fmt.Sprintf("anthropic: unsupported tool choice mode %q", choice.Mode), nil, nil)
	}
}

// sanitizeToolName maps a canonical tool identifier to the character set
// Anthropic's tool names accept, following the teacher's scheme.
func sanitizeToolName(in string) string {
	if isProviderSafeToolName(in) {
		return in
	}
	out := make([]rune, 0, len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

func isProviderSafeToolName(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

func translateResponse(msg *sdk.Message, jsonMode bool) (*provider.Response, error) {
	if msg == nil {
		return nil, tzerr.New(tzerr.KindInferenceServer, "anthropic: empty response message", nil, nil)
	}
	resp := &provider.Response{}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				resp.Content = append(resp.Content, types.TextPart{Text: block.Text})
			}
		case "thinking":
			resp.Content = append(resp.Content, types.ThoughtPart{Text: block.Thinking, Signature: block.Signature})
		case "tool_use":
			if jsonMode && block.Name == jsonToolName {
				raw, err := json.Marshal(block.Input)
				if err != nil {
					return nil, tzerr.New(tzerr.KindOutputParsing, "anthropic: re-marshal json-mode tool input", err, nil)
				}
				resp.Content = append(resp.Content, types.TextPart{Text: string(raw)})
				continue
			}
			raw, err := json.Marshal(block.Input)
			if err != nil {
				return nil, tzerr.New(tzerr.KindOutputParsing, "anthropic: marshal tool_use input", err, nil)
			}
			tc := types.ToolCallPart{ID: block.ID, Name: block.Name, RawArgs: raw}
			resp.Content = append(resp.Content, tc)
			resp.ToolCalls = append(resp.ToolCalls, tc)
		}
	}
	resp.Usage = types.Usage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	resp.FinishReason = mapStopReason(string(msg.StopReason))
	if raw, err := json.Marshal(msg); err == nil {
		resp.RawResponse = string(raw)
	}
	return resp, nil
}

func mapStopReason(reason string) types.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return types.FinishReasonStop
	case "max_tokens":
		return types.FinishReasonLength
	case "tool_use":
		return types.FinishReasonToolCall
	default:
		return types.FinishReasonOther
	}
}
