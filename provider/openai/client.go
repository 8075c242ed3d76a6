// Package openai implements provider.Client against OpenAI's Chat
// Completions API. It is also the backing adapter for the OpenAI-compatible
// model providers configured in §4.C (xAI, Fireworks, vLLM): their
// ModelProvider.Kind differs only in the baseURL passed to NewFromAPIKey,
// since they all speak the same wire protocol.
//
// Grounded on the teacher's features/model/openai client (the ChatClient
// seam, encodeTools/translateResponse split, tool-argument parsing
// fallback), generalized to the real github.com/openai/openai-go SDK and to
// this gateway's JSON-mode and streaming requirements.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/tzgateway/gateway/provider"
	"github.com/tzgateway/gateway/tzerr"
	"github.com/tzgateway/gateway/types"
)

// ChatClient captures the subset of the openai-go client used by the
// adapter, so tests can substitute a fake in place of
// *sdk.ChatCompletionService.
type ChatClient interface {
	New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
	NewStreaming(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.ChatCompletionChunk]
}

// Client implements provider.Client against the OpenAI Chat Completions
// wire protocol, shared by every OpenAICompatible ModelProvider kind.
type Client struct {
	chat       ChatClient
	providerID string
}

// New builds a provider client from an already-configured ChatClient. Use
// this to point a Client at OpenAI-compatible providers (xAI, Fireworks,
// vLLM) by passing a client built with option.WithBaseURL.
func New(chat ChatClient, providerID string) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	return &Client{chat: chat, providerID: providerID}, nil
}

// NewFromAPIKey builds a client talking to baseURL (empty for OpenAI's
// default endpoint) with apiKey, for the OpenAICompatible family of
// ModelProvider kinds.
func NewFromAPIKey(apiKey, baseURL, providerID string) (*Client, error) {
	if apiKey == "" {
		return nil, tzerr.New(tzerr.KindAPIKeyMissing, "openai-compatible provider requires an API key", nil, map[string]any{"provider": providerID})
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	cl := sdk.NewClient(opts...)
	return New(&cl.Chat.Completions, providerID)
}

func (c *Client) Infer(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	params, rawReq, opts, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	resp, err := c.chat.New(ctx, *params, opts...)
	if err != nil {
		return nil, c.wrapErr("chat.completions.create", err)
	}
	out, err := translateResponse(resp)
	if err != nil {
		return nil, err
	}
	out.RawRequest = rawReq
	return out, nil
}

func (c *Client) InferStream(ctx context.Context, req *provider.Request) (provider.Streamer, string, error) {
	params, rawReq, opts, err := c.prepareRequest(req)
	if err != nil {
		return nil, "", err
	}
	stream := c.chat.NewStreaming(ctx, *params, opts...)
	if err := stream.Err(); err != nil {
		return nil, "", c.wrapErr("chat.completions.create (stream)", err)
	}
	return newStreamer(ctx, stream), rawReq, nil
}

// StartBatch is not implemented: OpenAI's file-upload + Batches API has a
// materially different submission shape than this gateway's synchronous
// provider-neutral batch contract and belongs in a dedicated adapter.
func (c *Client) StartBatch(ctx context.Context, req *provider.StartBatchRequest) (*provider.StartBatchResponse, error) {
	return nil, tzerr.New(tzerr.KindUnsupportedBatchInference, "openai provider does not support batch inference in this gateway", nil, map[string]any{"provider": c.providerID})
}

func (c *Client) PollBatch(ctx context.Context, batchID string, n int) (*provider.PollBatchResponse, error) {
	return nil, tzerr.New(tzerr.KindUnsupportedBatchInference, "openai provider does not support batch inference in this gateway", nil, map[string]any{"provider": c.providerID})
}

func (c *Client) wrapErr(op string, err error) error {
	kind := provider.ClassifyTransportError(err)
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		kind = provider.ClassifyHTTPStatus(apiErr.StatusCode)
	}
	return tzerr.New(kind, "openai "+op, err, map[string]any{"provider": c.providerID})
}

func (c *Client) prepareRequest(req *provider.Request) (*sdk.ChatCompletionNewParams, string, []option.RequestOption, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, "", nil, tzerr.New(tzerr.KindInvalidRequest, "openai: at least one message is required", nil, nil)
	}
	if req.ModelID == "" {
		return nil, "", nil, tzerr.New(tzerr.KindInvalidProviderConfig, "openai: model id is required", nil, nil)
	}

	messages, err := encodeMessages(req.System, req.Messages)
	if err != nil {
		return nil, "", nil, err
	}
	tools, err := encodeTools(req.Tools)
	if err != nil {
		return nil, "", nil, err
	}

	params := sdk.ChatCompletionNewParams{
		Model:    req.ModelID,
		Messages: messages,
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	if req.Tools != nil && req.Tools.ToolChoice != nil {
		tc, err := encodeToolChoice(req.Tools.ToolChoice)
		if err != nil {
			return nil, "", nil, err
		}
		params.ToolChoice = tc
	}
	if req.Params.Temperature != nil {
		params.Temperature = sdk.Float(*req.Params.Temperature)
	}
	if req.Params.TopP != nil {
		params.TopP = sdk.Float(*req.Params.TopP)
	}
	if req.Params.MaxTokens != nil && *req.Params.MaxTokens > 0 {
		params.MaxCompletionTokens = sdk.Int(*req.Params.MaxTokens)
	}
	if req.Params.Seed != nil {
		params.Seed = sdk.Int(*req.Params.Seed)
	}
	if req.Params.PresencePenalty != nil {
		params.PresencePenalty = sdk.Float(*req.Params.PresencePenalty)
	}
	if req.Params.FrequencyPenalty != nil {
		params.FrequencyPenalty = sdk.Float(*req.Params.FrequencyPenalty)
	}
	if len(req.StopSequences) > 0 {
		params.Stop = sdk.ChatCompletionNewParamsStopUnion{OfStringArray: req.StopSequences}
	}
	if req.Params.ServiceTier != "" {
		params.ServiceTier = sdk.ChatCompletionNewParamsServiceTier(req.Params.ServiceTier)
	}

	if req.JSONMode != provider.JSONModeOff && req.OutputSchema != nil {
		var schemaVal any
		if err := json.Unmarshal(req.OutputSchema.Raw(), &schemaVal); err != nil {
			return nil, "", nil, tzerr.New(tzerr.KindInvalidProviderConfig, "openai: output schema", err, nil)
		}
		params.ResponseFormat = sdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "gateway_output",
					Schema: schemaVal,
					Strict: sdk.Bool(req.JSONMode == provider.JSONModeStrict),
				},
			},
		}
	}

	opts := make([]option.RequestOption, 0, len(req.ExtraHeaders))
	for k, v := range req.ExtraHeaders {
		opts = append(opts, option.WithHeader(k, v))
	}

	rawReq, _ := json.Marshal(params)
	return &params, string(rawReq), opts, nil
}

func encodeMessages(system string, msgs []types.Message) ([]sdk.ChatCompletionMessageParamUnion, error) {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs)+1)
	if system != "" {
		out = append(out, sdk.SystemMessage(system))
	}
	for _, m := range msgs {
		var text strings.Builder
		var toolCalls []sdk.ChatCompletionMessageToolCallParam
		for _, part := range m.Parts {
			switch v := part.(type) {
			case types.TextPart:
				text.WriteString(v.Text)
			case types.ToolCallPart:
				toolCalls = append(toolCalls, sdk.ChatCompletionMessageToolCallParam{
					ID: v.ID,
					Function: sdk.ChatCompletionMessageToolCallFunctionParam{
						Name:      v.Name,
						Arguments: string(v.RawArgs),
					},
				})
			case types.ToolResultPart:
				content := stringifyToolResult(v.Result)
				out = append(out, sdk.ToolMessage(content, v.ToolCallID))
			case types.ThoughtPart:
				// OpenAI chat completions has no first-class thinking turn; scratch
				// reasoning is not replayed into subsequent requests.
			}
		}
		switch m.Role {
		case types.RoleUser:
			if text.Len() > 0 {
				out = append(out, sdk.UserMessage(text.String()))
			}
		case types.RoleAssistant:
			msg := sdk.ChatCompletionAssistantMessageParam{}
			if text.Len() > 0 {
				msg.Content.OfString = sdk.String(text.String())
			}
			if len(toolCalls) > 0 {
				msg.ToolCalls = toolCalls
			}
			out = append(out, sdk.ChatCompletionMessageParamUnion{OfAssistant: &msg})
		default:
			return nil, tzerr.New(tzerr.KindInvalidMessage, "openai: unsupported message role", nil, map[string]any{"role": m.Role})
		}
	}
	return out, nil
}

func stringifyToolResult(result any) string {
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

func encodeTools(tc *types.ToolCallConfig) ([]sdk.ChatCompletionToolUnionParam, error) {
	if tc == nil || len(tc.Tools) == 0 {
		return nil, nil
	}
	out := make([]sdk.ChatCompletionToolUnionParam, 0, len(tc.Tools))
	for _, def := range tc.Tools {
		if def == nil {
			continue
		}
		var params map[string]any
		if def.Parameters != nil {
			if err := json.Unmarshal(def.Parameters.Raw(), &params); err != nil {
				return nil, tzerr.New(tzerr.KindInvalidProviderConfig, "openai: tool schema", err, map[string]any{"tool": def.Name})
			}
		}
		out = append(out, sdk.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        def.Name,
			Description: sdk.String(def.Description),
			Parameters:  params,
			Strict:      sdk.Bool(def.Strict),
		}))
	}
	return out, nil
}

func encodeToolChoice(choice *types.ToolChoice) (sdk.ChatCompletionToolChoiceOptionUnionParam, error) {
	switch choice.Mode {
	case "", types.ToolChoiceAuto:
		return sdk.ChatCompletionToolChoiceOptionUnionParam{OfAuto: sdk.String("auto")}, nil
	case types.ToolChoiceNone:
		return sdk.ChatCompletionToolChoiceOptionUnionParam{OfAuto: sdk.String("none")}, nil
	case types.ToolChoiceRequired:
		return sdk.ChatCompletionToolChoiceOptionUnionParam{OfAuto: sdk.String("required")}, nil
	case types.ToolChoiceSpecific:
		if choice.Name == "" {
			return sdk.ChatCompletionToolChoiceOptionUnionParam{}, tzerr.New(tzerr.KindInvalidRequest, "openai: specific tool choice requires a name", nil, nil)
		}
		return sdk.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &sdk.ChatCompletionNamedToolChoiceParam{
				Function: sdk.ChatCompletionNamedToolChoiceFunctionParam{Name: choice.Name},
			},
		}, nil
	default:
		return sdk.ChatCompletionToolChoiceOptionUnionParam{}, tzerr.New(tzerr.KindInvalidRequest, "openai: unsupported tool choice mode", nil, map[string]any{"mode": choice.Mode})
	}
}

func translateResponse(resp *sdk.ChatCompletion) (*provider.Response, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, tzerr.New(tzerr.KindInferenceServer, "openai: response has no choices", nil, nil)
	}
	choice := resp.Choices[0]
	out := &provider.Response{}
	if text := choice.Message.Content; text != "" {
		out.Content = append(out.Content, types.TextPart{Text: text})
	}
	for _, call := range choice.Message.ToolCalls {
		tc := types.ToolCallPart{
			ID:      call.ID,
			Name:    call.Function.Name,
			RawArgs: []byte(call.Function.Arguments),
		}
		out.Content = append(out.Content, tc)
		out.ToolCalls = append(out.ToolCalls, tc)
	}
	out.Usage = types.Usage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}
	out.FinishReason = mapFinishReason(string(choice.FinishReason))
	if raw, err := json.Marshal(resp); err == nil {
		out.RawResponse = string(raw)
	}
	return out, nil
}

func mapFinishReason(reason string) types.FinishReason {
	switch reason {
	case "stop":
		return types.FinishReasonStop
	case "length":
		return types.FinishReasonLength
	case "tool_calls":
		return types.FinishReasonToolCall
	case "content_filter":
		return types.FinishReasonContentFilter
	default:
		return types.FinishReasonOther
	}
}
