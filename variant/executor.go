// Package variant implements the per-variant request executor (§4.D):
// merging inference params, rendering templates, assembling tool config,
// routing through a Model's provider chain with retry/fallback, parsing and
// validating output, and aggregating usage across sub-calls.
package variant

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tzgateway/gateway/provider"
	"github.com/tzgateway/gateway/schema"
	"github.com/tzgateway/gateway/template"
	"github.com/tzgateway/gateway/tool"
	"github.com/tzgateway/gateway/tzerr"
	"github.com/tzgateway/gateway/types"
)

// ClientResolver resolves a live provider.Client for one ModelProvider
// binding, after credential resolution (§4.C). Concrete wiring (OpenAI,
// Anthropic, dummy, ...) lives in the config/wiring layer, not here.
type ClientResolver interface {
	Resolve(mp *types.ModelProvider) (provider.Client, error)
}

// EmbeddingResolver resolves a live provider.Client used purely to produce
// an embedding vector for the DICL variant (§4.D "DICL variant").
type EmbeddingResolver interface {
	Embed(ctx context.Context, modelID string, text string) ([]float32, types.Usage, error)
}

// ExampleStore retrieves DICL's k nearest examples (§4.D "DICL variant").
type ExampleStore interface {
	NearestExamples(ctx context.Context, functionName, variantName string, embedding []float32, k int) ([]types.DICLExample, error)
}

// Executor runs one sampled Variant against a validated Input (§4.D).
type Executor struct {
	Models     map[string]*types.Model
	Clients    ClientResolver
	Templates  *template.Registry
	Embeddings EmbeddingResolver
	Examples   ExampleStore
}

// Request bundles everything Execute needs beyond the Function/Variant
// config themselves.
type Request struct {
	Function            *types.Function
	Variant             *types.Variant
	Input               types.Input
	RequestParams       types.InferenceParams
	ToolRequest         tool.Request
	DynamicOutputSchema *schema.Compiled // overrides Function.OutputSchema when set
	EpisodeID           uuid.UUID
	Stream              bool
}

// Result is the variant's normalized outcome plus every ModelInferenceRecord
// that must be persisted by the observability writer (§4.G).
type Result struct {
	Content         []types.Part
	JSONOutput      *types.JSONOutput
	Usage           types.Usage
	ToolParams      *types.ToolCallConfig
	InferenceParams types.InferenceParams
	FinishReason    types.FinishReason
	ModelInferences []types.ModelInferenceRecord
}

// Execute runs req.Variant to completion, trying each ModelProvider in the
// chosen Model's routing list in order until one succeeds (§4.D steps 1-7).
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	switch req.Variant.Kind {
	case types.VariantKindChatCompletion, types.VariantKindChainOfThought:
		return e.executeChatCompletion(ctx, req)
	case types.VariantKindBestOfN:
		return e.executeBestOfN(ctx, req)
	case types.VariantKindDICL:
		return e.executeDICL(ctx, req)
	default:
		return nil, tzerr.New(tzerr.KindConfig, fmt.Sprintf("unknown variant kind %q", req.Variant.Kind), nil, nil)
	}
}

// mergedParams applies step 1: function/variant defaults, then request
// overrides win (types.InferenceParams.Merge).
func mergedParams(v *types.Variant, reqParams types.InferenceParams) types.InferenceParams {
	return v.DefaultParams.Merge(reqParams)
}

// renderMessages applies step 2: render the variant's optional
// system/user/assistant templates against TemplatePart arguments found in
// the input, leaving plain text parts untouched.
func renderMessages(tpls *template.Registry, v *types.Variant, in types.Input) (string, []types.Message, error) {
	system, err := renderSystem(tpls, v, in.System)
	if err != nil {
		return "", nil, err
	}
	out := make([]types.Message, len(in.Messages))
	for i, m := range in.Messages {
		rendered, err := renderParts(tpls, v, m)
		if err != nil {
			return "", nil, err
		}
		out[i] = types.Message{Role: m.Role, Parts: rendered}
	}
	return system, out, nil
}

func renderSystem(tpls *template.Registry, v *types.Variant, system any) (string, error) {
	if system == nil {
		return "", nil
	}
	if s, ok := system.(string); ok {
		if v.SystemTemplate == "" {
			return s, nil
		}
		return "", nil // string system content with a configured template is not re-rendered
	}
	if v.SystemTemplate == "" {
		return "", tzerr.New(tzerr.KindInvalidMessage, "structured system content requires a variant system_template", nil, nil)
	}
	args, ok := system.(map[string]any)
	if !ok {
		return "", tzerr.New(tzerr.KindInvalidMessage, "structured system content must be an object", nil, nil)
	}
	return tpls.Render(v.SystemTemplate, args)
}

func renderParts(tpls *template.Registry, v *types.Variant, m types.Message) ([]types.Part, error) {
	templateName := v.UserTemplate
	if m.Role == types.RoleAssistant {
		templateName = v.AssistantTemplate
	}
	out := make([]types.Part, len(m.Parts))
	for i, p := range m.Parts {
		tp, ok := p.(types.TemplatePart)
		if !ok {
			out[i] = p
			continue
		}
		name := tp.Name
		if name == "" {
			name = templateName
		}
		if name == "" {
			return nil, tzerr.New(tzerr.KindInvalidMessage, "template content block with no variant template configured for role", nil, map[string]any{"role": m.Role})
		}
		text, err := tpls.Render(name, tp.Args)
		if err != nil {
			return nil, err
		}
		out[i] = types.TextPart{Text: text}
	}
	return out, nil
}

// executeChatCompletion implements steps 3-7 for the chat-completion and
// chain-of-thought-json variant kinds: both route to a single Model and
// differ only in whether Function.Kind requires JSON-mode output parsing.
func (e *Executor) executeChatCompletion(ctx context.Context, req Request) (*Result, error) {
	params := mergedParams(req.Variant, req.RequestParams)
	system, messages, err := renderMessages(e.Templates, req.Variant, req.Input)
	if err != nil {
		return nil, err
	}
	toolCfg, err := tool.Resolve(tool.FunctionDefaults{
		Tools:             req.Function.Tools,
		ToolChoice:        req.Function.ToolChoice,
		ParallelToolCalls: req.Function.ParallelToolCalls,
	}, req.ToolRequest)
	if err != nil {
		return nil, err
	}

	outputSchema := req.DynamicOutputSchema
	if outputSchema == nil {
		outputSchema = req.Function.OutputSchema
	}
	jsonMode := provider.JSONModeOff
	if req.Function.Kind == types.FunctionKindJSON {
		jsonMode = provider.JSONModeStrict
	}

	model, ok := e.Models[req.Variant.Model]
	if !ok {
		return nil, tzerr.New(tzerr.KindConfig, fmt.Sprintf("variant %q references unknown model %q", req.Variant.Name, req.Variant.Model), nil, nil)
	}

	presp, mi, err := e.routeAndInfer(ctx, model, &provider.Request{
		ModelID:       "", // set per-provider below
		Messages:      messages,
		System:        system,
		Tools:         toolCfg,
		Params:        params,
		OutputSchema:  outputSchema,
		JSONMode:      jsonMode,
		StopSequences: params.StopSequences,
	}, req.Variant.Timeout)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Usage:           presp.Usage,
		ToolParams:      toolCfg,
		InferenceParams: params,
		FinishReason:    presp.FinishReason,
		ModelInferences: []types.ModelInferenceRecord{mi},
	}

	if req.Function.Kind == types.FunctionKindJSON {
		result.JSONOutput = parseJSONOutput(presp.Content, outputSchema)
	} else {
		result.Content = presp.Content
	}
	return result, nil
}

// routeAndInfer iterates model.Routing, stopping at the first ModelProvider
// that succeeds (§4.D step 4, §3 "first success short-circuits the chain").
// All providers failing raises ModelProvidersExhausted.
func (e *Executor) routeAndInfer(ctx context.Context, model *types.Model, base *provider.Request, timeout time.Duration) (*provider.Response, types.ModelInferenceRecord, error) {
	if len(model.Routing) == 0 {
		return nil, types.ModelInferenceRecord{}, tzerr.New(tzerr.KindConfig, fmt.Sprintf("model %q has an empty routing list", model.Name), nil, nil)
	}

	errs := make(map[string]error, len(model.Routing))
	for _, providerName := range model.Routing {
		mp, ok := model.Provider[providerName]
		if !ok {
			errs[providerName] = tzerr.New(tzerr.KindConfig, "routing references unknown provider", nil, nil)
			continue
		}
		client, err := e.Clients.Resolve(mp)
		if err != nil {
			errs[providerName] = err
			continue
		}

		req := *base
		req.ModelID = mp.ModelID
		req.ExtraHeaders = mp.ExtraHeaders
		req.ExtraBody = mp.ExtraBody

		callCtx := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, timeout)
		}

		start := time.Now()
		resp, err := client.Infer(callCtx, &req)
		if cancel != nil {
			cancel()
		}
		elapsed := time.Since(start)

		if err != nil {
			if tzErr, ok := tzerr.As(err); ok && tzErr.Kind() == tzerr.KindInferenceTimeout {
				errs[providerName] = tzErr
				continue
			}
			if tzErr, ok := tzerr.As(err); ok && !tzErr.Kind().Retryable() {
				return nil, types.ModelInferenceRecord{}, err
			}
			errs[providerName] = err
			continue
		}

		id := types.MustNewID()
		mi := types.ModelInferenceRecord{
			ID:                id,
			ModelName:         model.Name,
			ModelProviderName: providerName,
			RawRequest:        resp.RawRequest,
			RawResponse:       resp.RawResponse,
			InputTokens:       resp.Usage.InputTokens,
			OutputTokens:      resp.Usage.OutputTokens,
			ResponseTimeMS:    elapsed.Milliseconds(),
			FinishReason:      resp.FinishReason,
			InputMessages:     base.Messages,
		}
		return resp, mi, nil
	}

	fields := make(map[string]any, len(errs))
	for name, err := range errs {
		fields[name] = err.Error()
	}
	return nil, types.ModelInferenceRecord{}, tzerr.New(tzerr.KindModelProvidersExhausted, fmt.Sprintf("all providers for model %q failed", model.Name), nil, map[string]any{"provider_errors": fields})
}

// parseJSONOutput implements step 5's Json branch: parse the final text as
// JSON, validate against outputSchema when present, populate Raw always and
// Parsed only on success (§4.D, §8 seed scenario 3).
func parseJSONOutput(content []types.Part, outputSchema *schema.Compiled) *types.JSONOutput {
	var raw string
	for _, p := range content {
		if t, ok := p.(types.TextPart); ok {
			raw += t.Text
		}
	}
	out := &types.JSONOutput{Raw: raw}

	var parsed json.RawMessage
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		tzerr.New(tzerr.KindOutputParsing, "json function output did not parse as JSON", err, map[string]any{"raw": raw})
		return out
	}
	if outputSchema != nil {
		if err := outputSchema.ValidateJSON(parsed); err != nil {
			return out // failure already logged by Compiled.Validate as a JSONSchemaValidation error
		}
	}
	out.Parsed = parsed
	return out
}
