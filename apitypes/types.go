// Package apitypes defines the wire-level request/response shapes described
// in §6: the JSON bodies a caller sends to /inference, /feedback,
// /batch_inference, and the dataset PATCH endpoint, plus the unary and
// streaming response shapes returned for them. The HTTP router that
// deserializes these bodies and the CLI that drives them are out of scope
// (§1); this package only defines the Go types such a router would bind to
// and the conversion helpers that turn them into the internal types package
// shapes the rest of the gateway operates on.
package apitypes

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/tzgateway/gateway/types"
)

type (
	// InferenceRequest is the JSON body of POST /inference (§6).
	InferenceRequest struct {
		FunctionName             string             `json:"function_name"`
		VariantName              string             `json:"variant_name,omitempty"`
		EpisodeID                string             `json:"episode_id,omitempty"`
		Input                    InputDTO           `json:"input"`
		Stream                   bool               `json:"stream,omitempty"`
		Params                   *ParamsDTO         `json:"params,omitempty"`
		Dryrun                   bool               `json:"dryrun,omitempty"`
		Tags                     map[string]string  `json:"tags,omitempty"`
		AllowedTools             []string           `json:"allowed_tools,omitempty"`
		AdditionalTools          []ToolDTO          `json:"additional_tools,omitempty"`
		ToolChoice               *ToolChoiceDTO     `json:"tool_choice,omitempty"`
		ParallelToolCalls        *bool              `json:"parallel_tool_calls,omitempty"`
		OutputSchema             json.RawMessage    `json:"output_schema,omitempty"`
		Credentials              map[string]string  `json:"credentials,omitempty"`
		ExtraBody                []ExtraBodyDTO     `json:"extra_body,omitempty"`
		ExtraHeaders             map[string]string  `json:"extra_headers,omitempty"`
		IncludeOriginalResponse  bool               `json:"include_original_response,omitempty"`
	}

	// InputDTO is the wire shape of types.Input: an optional system value and
	// an ordered message transcript.
	InputDTO struct {
		System   json.RawMessage `json:"system,omitempty"`
		Messages []MessageDTO    `json:"messages"`
	}

	// MessageDTO is the wire shape of types.Message.
	MessageDTO struct {
		Role    string    `json:"role"`
		Content []PartDTO `json:"content"`
	}

	// PartDTO is the wire shape of a types.Part content block. Exactly one of
	// the kind-specific fields is populated, selected by Type.
	PartDTO struct {
		Type string `json:"type"`

		Text string `json:"text,omitempty"`

		TemplateName string         `json:"name,omitempty"`
		TemplateArgs map[string]any `json:"arguments,omitempty"`

		ToolCallID   string          `json:"id,omitempty"`
		ToolName     string          `json:"name_,omitempty"`
		ToolRawArgs  json.RawMessage `json:"arguments_,omitempty"`

		ToolResultID string `json:"id_,omitempty"`
		ToolResult   any    `json:"result,omitempty"`
		ToolIsError  bool   `json:"error,omitempty"`

		FileBase64  []byte `json:"data,omitempty"` // encoding/json base64-encodes []byte automatically
		FileMIME    string `json:"mime_type,omitempty"`
		FileStorage string `json:"storage_path,omitempty"`

		ThoughtText      string `json:"text_,omitempty"`
		ThoughtSignature string `json:"signature,omitempty"`
	}

	// ParamsDTO wraps the per-provider parameter namespace; only
	// chat_completion is defined today, matching §6's payload.
	ParamsDTO struct {
		ChatCompletion *ChatCompletionParamsDTO `json:"chat_completion,omitempty"`
	}

	// ChatCompletionParamsDTO is the wire shape of types.InferenceParams.
	ChatCompletionParamsDTO struct {
		Temperature         *float64 `json:"temperature,omitempty"`
		MaxTokens           *int     `json:"max_tokens,omitempty"`
		Seed                *int64   `json:"seed,omitempty"`
		TopP                *float64 `json:"top_p,omitempty"`
		PresencePenalty     *float64 `json:"presence_penalty,omitempty"`
		FrequencyPenalty    *float64 `json:"frequency_penalty,omitempty"`
		StopSequences       []string `json:"stop_sequences,omitempty"`
		ReasoningEffort     string   `json:"reasoning_effort,omitempty"`
		ServiceTier         string   `json:"service_tier,omitempty"`
		ThinkingBudgetTokens *int    `json:"thinking_budget_tokens,omitempty"`
		Verbosity           string   `json:"verbosity,omitempty"`
	}

	// ToolDTO is the wire shape of a dynamic (request-supplied) tool.
	ToolDTO struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
		Strict      bool            `json:"strict,omitempty"`
	}

	// ToolChoiceDTO is the wire shape of types.ToolChoice. Mode selects
	// none/auto/required/specific; Name is set only for "specific".
	ToolChoiceDTO struct {
		Mode string `json:"mode"`
		Name string `json:"name,omitempty"`
	}

	// ExtraBodyDTO is one JSON-pointer replacement applied to the outgoing
	// provider wire body (§4.C).
	ExtraBodyDTO struct {
		Pointer string `json:"pointer"`
		Value   any    `json:"value"`
	}
)

type (
	// InferenceResponse is the unary (non-streaming) response to
	// POST /inference (§6). For Json functions, Output is populated instead
	// of Content; for Chat functions, Content is populated instead of Output.
	InferenceResponse struct {
		InferenceID        uuid.UUID       `json:"inference_id"`
		EpisodeID          uuid.UUID       `json:"episode_id"`
		VariantName        string          `json:"variant_name"`
		Content            []PartDTO       `json:"content,omitempty"`
		Output             *JSONOutputDTO  `json:"output,omitempty"`
		Usage              UsageDTO        `json:"usage"`
		OriginalResponse   json.RawMessage `json:"original_response,omitempty"`
	}

	// JSONOutputDTO is the wire shape of types.JSONOutput.
	JSONOutputDTO struct {
		Raw    string          `json:"raw"`
		Parsed json.RawMessage `json:"parsed,omitempty"`
	}

	// UsageDTO is the wire shape of types.Usage.
	UsageDTO struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	}

	// StreamChunk is one Server-Sent-Events `data:` frame emitted while
	// streaming an inference (§6). A terminal `data: [DONE]` frame (encoded
	// by the caller as the literal string, not this struct) closes the
	// stream.
	StreamChunk struct {
		InferenceID uuid.UUID `json:"inference_id"`
		EpisodeID   uuid.UUID `json:"episode_id"`
		VariantName string    `json:"variant_name"`
		Content     []PartDTO `json:"content,omitempty"`
		Usage       *UsageDTO `json:"usage,omitempty"`
	}
)

type (
	// FeedbackRequest is the JSON body of POST /feedback (§6).
	FeedbackRequest struct {
		InferenceID uuid.UUID         `json:"inference_id,omitempty"`
		EpisodeID   uuid.UUID         `json:"episode_id,omitempty"`
		MetricName  string            `json:"metric_name"`
		Value       json.RawMessage   `json:"value"`
		Tags        map[string]string `json:"tags,omitempty"`
	}

	// FeedbackResponse acknowledges an accepted feedback write.
	FeedbackResponse struct {
		FeedbackID uuid.UUID `json:"feedback_id"`
	}
)

type (
	// BatchInferenceRequest is the JSON body of POST /batch_inference: N
	// inputs sharing one function/variant (§6).
	BatchInferenceRequest struct {
		FunctionName string             `json:"function_name"`
		VariantName  string             `json:"variant_name,omitempty"`
		EpisodeIDs   []string           `json:"episode_ids,omitempty"`
		Inputs       []InputDTO         `json:"inputs"`
		Params       *ParamsDTO         `json:"params,omitempty"`
		Tags         []map[string]string `json:"tags,omitempty"`
	}

	// BatchInferenceResponse acknowledges a started batch.
	BatchInferenceResponse struct {
		BatchID      string      `json:"batch_id"`
		InferenceIDs []uuid.UUID `json:"inference_ids"`
	}

	// BatchPollResponse is the body of GET /batch_inference/{batch_id} and
	// /batch_inference/{batch_id}/inference/{inference_id}.
	BatchPollResponse struct {
		BatchID string                   `json:"batch_id"`
		Status  types.BatchStatus        `json:"status"`
		Errors  []string                 `json:"errors,omitempty"`
		Rows    []CompletedInferenceDTO  `json:"inferences,omitempty"`
	}

	// CompletedInferenceDTO is the wire shape of types.CompletedBatchInference.
	CompletedInferenceDTO struct {
		InferenceID  uuid.UUID      `json:"inference_id"`
		EpisodeID    uuid.UUID      `json:"episode_id"`
		VariantName  string         `json:"variant_name"`
		Content      []PartDTO      `json:"content,omitempty"`
		Output       *JSONOutputDTO `json:"output,omitempty"`
		InputTokens  int            `json:"input_tokens"`
		OutputTokens int            `json:"output_tokens"`
		FinishReason string         `json:"finish_reason"`
	}
)

type (
	// DatapointPatchRequest is the JSON body of
	// PATCH /v1/datasets/{name}/datapoints (§6).
	DatapointPatchRequest struct {
		Datapoints []DatapointUpdateDTO `json:"datapoints"`
	}

	// DatapointUpdateDTO is one element of a DatapointPatchRequest; Type
	// must match the existing datapoint's Kind or the update is rejected
	// with 400 (§6).
	DatapointUpdateDTO struct {
		Type         string            `json:"type"`
		ID           uuid.UUID         `json:"id"`
		Input        *InputDTO         `json:"input,omitempty"`
		OutputChat   []PartDTO         `json:"output,omitempty"`
		OutputJSON   json.RawMessage   `json:"output_json,omitempty"`
		OutputSchema json.RawMessage   `json:"output_schema,omitempty"`
		Tags         map[string]string `json:"tags,omitempty"`
	}

	// DatapointPatchResponse returns the newly minted ids, one per updated
	// datapoint, in request order (§6).
	DatapointPatchResponse struct {
		IDs []uuid.UUID `json:"ids"`
	}
)
