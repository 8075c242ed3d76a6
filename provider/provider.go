// Package provider defines the provider-neutral adapter contract (§4.C):
// one interface with Infer, InferStream, StartBatch, and PollBatch,
// implemented per wire protocol by the provider/anthropic, provider/openai,
// provider/vertex, and provider/dummy subpackages.
//
// The shape mirrors the teacher's runtime/agent/model.Client plus
// features/model/gateway.Server middleware chain, generalized with the
// json-mode, output-schema, extra-body, and batch operations this gateway's
// variant executor (§4.D) and batch subsystem (§4.I) require.
package provider

import (
	"context"

	"github.com/tzgateway/gateway/types"
)

// JSONMode selects how a request asks the provider to produce structured
// JSON output (§4.C).
type JSONMode string

const (
	JSONModeOff    JSONMode = "off"
	JSONModeOn     JSONMode = "on"
	JSONModeStrict JSONMode = "strict"
)

// Request carries everything an adapter needs to build one provider call.
// Messages are already rendered (templates resolved) by the time a Request
// reaches a provider.
type Request struct {
	ModelID       string
	Messages      []types.Message
	System        string
	Tools         *types.ToolCallConfig
	Params        types.InferenceParams
	OutputSchema  *types.CompiledSchemaRef
	JSONMode      JSONMode
	Stream        bool
	ExtraHeaders  map[string]string
	ExtraBody     []types.ExtraBodyReplacement
	StopSequences []string
}

// Response is the result of a non-streaming Infer call.
type Response struct {
	Content      []types.Part
	ToolCalls    []types.ToolCallPart
	Usage        types.Usage
	FinishReason types.FinishReason
	RawRequest   string
	RawResponse  string
}

// Chunk is one streaming event (§5 "ordering guarantees": chunks are
// emitted in arrival order within a stream).
type Chunk struct {
	Type         ChunkType
	Text         string
	ToolCall     *types.ToolCallPart
	ToolDelta    *ToolCallDelta
	UsageDelta   *types.Usage
	FinishReason types.FinishReason
}

// ChunkType classifies a streamed Chunk.
type ChunkType string

const (
	ChunkTypeText      ChunkType = "text"
	ChunkTypeToolCall  ChunkType = "tool_call"
	ChunkTypeToolDelta ChunkType = "tool_call_delta"
	ChunkTypeUsage     ChunkType = "usage"
	ChunkTypeStop      ChunkType = "stop"
)

// ToolCallDelta is a best-effort, possibly-invalid-JSON fragment of a tool
// call's arguments, useful only for progressive UI previews; the canonical
// payload is still delivered as a ChunkTypeToolCall chunk.
type ToolCallDelta struct {
	ID    string
	Name  string
	Delta string
}

// StartBatchRequest bundles N rendered requests sharing a (function,
// variant, model, provider) for a single provider-side batch job (§4.I).
type StartBatchRequest struct {
	Requests []*Request
}

// StartBatchResponse carries the provider-assigned batch id plus the raw
// request/response bodies for observability.
type StartBatchResponse struct {
	BatchID     string
	RawRequest  string
	RawResponse string
}

// PollBatchResponse reports the current state of a started batch. Outputs
// is populated, index-aligned with the original StartBatchRequest.Requests,
// only once Status == types.BatchStatusCompleted.
type PollBatchResponse struct {
	Status      types.BatchStatus
	Outputs     []*Response
	RawResponse string
}

// Streamer delivers incremental chunks for one streaming call. Callers must
// drain Recv until io.EOF (or another terminal error) and then Close.
type Streamer interface {
	Recv() (Chunk, error)
	Close() error
	// TTFTMillis returns the time-to-first-chunk in milliseconds once the
	// first chunk has been received, or -1 before that.
	TTFTMillis() int64
}

// Client is the provider adapter contract every wire-protocol package
// implements.
type Client interface {
	// Infer performs a non-streaming invocation.
	Infer(ctx context.Context, req *Request) (*Response, error)

	// InferStream performs a streaming invocation. Returns the raw request
	// text (for observability) alongside the Streamer.
	InferStream(ctx context.Context, req *Request) (Streamer, string, error)

	// StartBatch submits a provider-side batch job. Returns
	// tzerr.KindUnsupportedBatchInference when the provider has no batch API.
	StartBatch(ctx context.Context, req *StartBatchRequest) (*StartBatchResponse, error)

	// PollBatch checks the status of a previously started batch.
	PollBatch(ctx context.Context, batchID string, n int) (*PollBatchResponse, error)
}
