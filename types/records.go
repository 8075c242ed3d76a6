package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// FinishReason normalizes provider-specific stop reasons.
type FinishReason string

const (
	FinishReasonStop          FinishReason = "stop"
	FinishReasonLength        FinishReason = "length"
	FinishReasonContentFilter FinishReason = "content_filter"
	FinishReasonToolCall      FinishReason = "tool_call"
	FinishReasonOther         FinishReason = "other"
)

// Usage tracks token counts for a single provider call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// JSONOutput is the Json-function output shape: the raw provider text plus
// the parsed-and-validated value (nil when validation/parsing failed).
type JSONOutput struct {
	Raw    string
	Parsed json.RawMessage
}

// InferenceRecord is one row per handled request (§3, §6 ChatInference /
// JsonInference).
type InferenceRecord struct {
	ID               uuid.UUID
	EpisodeID        uuid.UUID
	FunctionName     string
	VariantName      string
	Input            Input
	OutputContent    []Part      // chat functions
	OutputJSON       *JSONOutput // json functions
	Usage            Usage
	ToolParams       *ToolCallConfigDatabaseInsert
	InferenceParams  InferenceParams
	ProcessingTimeMS int64
	Tags             map[string]string
	Timestamp        time.Time
}

// ModelInferenceRecord is one row per provider call (§3, §6 ModelInference).
// A single InferenceRecord may produce several (embedding + chat for DICL,
// one per best-of-N candidate, retries across a routing chain).
type ModelInferenceRecord struct {
	ID                 uuid.UUID
	InferenceID        uuid.UUID
	ModelName          string
	ModelProviderName  string
	RawRequest         string
	RawResponse        string
	InputTokens        int
	OutputTokens       int
	ResponseTimeMS     int64
	TTFTMS             *int64 // set only for streaming calls
	Cached             bool
	FinishReason       FinishReason
	System             *string
	InputMessages      []Message
}

// FeedbackKind enumerates the four feedback shapes (§3, §4.K).
type FeedbackKind string

const (
	FeedbackKindBooleanMetric   FeedbackKind = "boolean_metric"
	FeedbackKindFloatMetric     FeedbackKind = "float_metric"
	FeedbackKindComment         FeedbackKind = "comment"
	FeedbackKindDemonstration   FeedbackKind = "demonstration"
)

// FeedbackTargetKind identifies whether a Feedback references an inference
// or an episode.
type FeedbackTargetKind string

const (
	FeedbackTargetInference FeedbackTargetKind = "inference"
	FeedbackTargetEpisode   FeedbackTargetKind = "episode"
)

// Feedback is a single feedback row: a metric/comment/demonstration value
// attached to an inference or episode id. ID is a UUIDv7 and doubles as the
// feedback's timestamp.
type Feedback struct {
	ID         uuid.UUID
	Kind       FeedbackKind
	TargetKind FeedbackTargetKind
	TargetID   uuid.UUID
	MetricName string // boolean_metric / float_metric only
	BoolValue  *bool
	FloatValue *float64
	CommentText        string // comment only
	DemonstrationValue json.RawMessage // demonstration only
	Tags       map[string]string
}

// Timestamp derives the feedback's creation time from its UUIDv7 id.
func (f Feedback) Timestamp() time.Time { return TimestampOf(f.ID) }

// DatapointKind mirrors FunctionKind for dataset entries.
type DatapointKind string

const (
	DatapointKindChat DatapointKind = "chat"
	DatapointKindJSON DatapointKind = "json"
)

// Datapoint is an immutable input/output pair in a dataset. Edits stale the
// previous id (StaledAt set) and mint a new id (§3 Lifecycle, §4.K/§6
// dataset PATCH).
type Datapoint struct {
	ID           uuid.UUID
	DatasetName  string
	FunctionName string
	Kind         DatapointKind
	Input        Input
	OutputChat   []Part
	OutputJSON   json.RawMessage
	OutputSchema json.RawMessage
	Tags         map[string]string
	Grader       json.RawMessage // opaque, not executed by the core (§1 Non-goals)
	StaledAt     *time.Time
}

// BatchStatus is the lifecycle state of a BatchRequest (§3 state machine).
type BatchStatus string

const (
	BatchStatusPending   BatchStatus = "pending"
	BatchStatusCompleted BatchStatus = "completed"
	BatchStatusFailed    BatchStatus = "failed"
)

// BatchRequest is a started provider-side batch job.
type BatchRequest struct {
	BatchID           string // provider-returned
	ID                uuid.UUID
	FunctionName      string
	VariantName       string
	ModelName         string
	ModelProviderName string
	Status            BatchStatus
	RawRequest        string
	RawResponse       string
	Errors            []string
	Timestamp         time.Time
}

// BatchModelInference is one per-input row of a started batch.
type BatchModelInference struct {
	InferenceID       uuid.UUID
	BatchID           string
	FunctionName      string
	VariantName       string
	EpisodeID         uuid.UUID
	Input             Input
	InputMessages     []Message
	System            *string
	ToolParams        *ToolCallConfigDatabaseInsert
	InferenceParams   InferenceParams
	OutputSchema      json.RawMessage
	RawRequest        string
	ModelName         string
	ModelProviderName string
	Tags              map[string]string
}

// CompletedBatchInference is the row shape returned by
// get_completed_batch_inferences (§4.I).
type CompletedBatchInference struct {
	InferenceID  uuid.UUID
	EpisodeID    uuid.UUID
	VariantName  string
	OutputChat   []Part
	OutputJSON   *JSONOutput
	InputTokens  int
	OutputTokens int
	FinishReason FinishReason
}

// DICLExample is one retrieved nearest-neighbor row for the DICL variant.
type DICLExample struct {
	ID           uuid.UUID
	FunctionName string
	VariantName  string
	Input        Input
	Output       []Part
	Embedding    []float32
}

// RateLimitRecord is a (scope, resource, interval) → token-bucket row in the
// central rate-limit store (§3, §4.H).
type RateLimitRecord struct {
	Scope      string
	Resource   string
	Interval   time.Duration
	Capacity   int64
	Available  int64
}
