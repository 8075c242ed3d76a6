// Package observability implements the OLAP writer (§4.G): row construction,
// at-most-once-per-id appends, asynchronous buffering with optional
// synchronous flush, and cursor-paginated reads.
//
// The OLAP store itself is out of scope (spec.md §1 treats it as an opaque
// append-only JSONEachRow sink); Store below is that seam. A Mongo-backed
// implementation is provided because the teacher's only durable-store
// dependency in the pack is go.mongodb.org/mongo-driver/v2 (features/*/mongo);
// MongoStore's ReplaceOne with upsert keyed on _id gives the same
// idempotent-append semantics ClickHouse's ReplacingMergeTree + argMax
// would, which is the property spec.md §4.G/§8 actually require.
package observability

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tzgateway/gateway/types"
)

// Page is a cursor over one table, keyed by UUIDv7 id (§4.G pagination).
type Page struct {
	Before   *uuid.UUID
	After    *uuid.UUID
	PageSize int
}

// Store is the opaque append-only OLAP sink every row kind writes through.
// Implementations must be idempotent per id (§3, §8 "idempotent row write"):
// inserting the same id twice leaves the effective read-side result
// unchanged.
type Store interface {
	InsertChatInference(ctx context.Context, rows []ChatInferenceRow) error
	InsertJSONInference(ctx context.Context, rows []JSONInferenceRow) error
	InsertModelInference(ctx context.Context, rows []ModelInferenceRow) error
	InsertBatchRequest(ctx context.Context, row BatchRequestRow) error
	InsertBatchModelInference(ctx context.Context, rows []BatchModelInferenceRow) error
	InsertFeedback(ctx context.Context, row FeedbackRow) error
	InsertDICLExample(ctx context.Context, row DICLExampleRow) error
	InsertDatapoint(ctx context.Context, row DatapointRow) error
	StaleDatapoint(ctx context.Context, id uuid.UUID, staledAt time.Time) error

	QueryChatInferences(ctx context.Context, functionName string, page Page) ([]ChatInferenceRow, error)
	QueryJSONInferences(ctx context.Context, functionName string, page Page) ([]JSONInferenceRow, error)
	QueryFeedback(ctx context.Context, kind types.FeedbackKind, targetID uuid.UUID, page Page) ([]FeedbackRow, error)
	QueryCompletedBatchInferences(ctx context.Context, batchID string, inferenceID *uuid.UUID) ([]types.CompletedBatchInference, error)
	ListBatchModelInferences(ctx context.Context, batchID string) ([]BatchModelInferenceRow, error)
	GetDatapoint(ctx context.Context, id uuid.UUID, allowStale bool) (*DatapointRow, error)
	GetBatchRequest(ctx context.Context, batchID string) (*BatchRequestRow, error)
}

// ChatInferenceRow is the persisted shape of a chat-kind InferenceRecord
// (§6 ChatInference).
type ChatInferenceRow struct {
	ID               uuid.UUID
	FunctionName     string
	VariantName      string
	EpisodeID        uuid.UUID
	Input            types.Input
	Output           []types.Part
	ToolParams       *types.ToolCallConfigDatabaseInsert
	InferenceParams  types.InferenceParams
	ProcessingTimeMS int64
	Tags             map[string]string
	Timestamp        time.Time
}

// JSONInferenceRow is the persisted shape of a json-kind InferenceRecord
// (§6 JsonInference).
type JSONInferenceRow struct {
	ID               uuid.UUID
	FunctionName     string
	VariantName      string
	EpisodeID        uuid.UUID
	Input            types.Input
	Output           types.JSONOutput
	OutputSchema     []byte
	InferenceParams  types.InferenceParams
	ProcessingTimeMS int64
	Tags             map[string]string
	Timestamp        time.Time
}

// ModelInferenceRow is the persisted shape of a ModelInferenceRecord
// (§6 ModelInference).
type ModelInferenceRow struct {
	ID                uuid.UUID
	InferenceID       uuid.UUID
	ModelName         string
	ModelProviderName string
	RawRequest        string
	RawResponse       string
	InputTokens       int
	OutputTokens      int
	ResponseTimeMS    int64
	TTFTMS            *int64
	Cached            bool
	FinishReason      types.FinishReason
	System            *string
	InputMessages     []types.Message
}

// BatchRequestRow is the persisted shape of a BatchRequest (§6).
type BatchRequestRow struct {
	BatchID           string
	ID                uuid.UUID
	ModelName         string
	ModelProviderName string
	Status            types.BatchStatus
	FunctionName      string
	VariantName       string
	RawRequest        string
	RawResponse       string
	Errors            []string
	Timestamp         time.Time
}

// BatchModelInferenceRow is the persisted shape of a BatchModelInference
// fan-out row (§6).
type BatchModelInferenceRow struct {
	InferenceID       uuid.UUID
	BatchID           string
	FunctionName      string
	VariantName       string
	EpisodeID         uuid.UUID
	Input             types.Input
	InputMessages     []types.Message
	System            *string
	ToolParams        *types.ToolCallConfigDatabaseInsert
	InferenceParams   types.InferenceParams
	OutputSchema      []byte
	RawRequest        string
	ModelName         string
	ModelProviderName string
	Tags              map[string]string
}

// FeedbackRow is the persisted shape shared by the four feedback tables
// (§6, §4.K); Kind/TargetKind select which logical table it belongs to.
type FeedbackRow struct {
	ID         uuid.UUID
	Kind       types.FeedbackKind
	TargetKind types.FeedbackTargetKind
	TargetID   uuid.UUID
	MetricName string
	BoolValue  *bool
	FloatValue *float64
	Comment    string
	DemonstrationValue []byte
	Tags       map[string]string
	Timestamp  time.Time
}

// DICLExampleRow is the persisted shape of a DynamicInContextLearningExample
// (§6).
type DICLExampleRow struct {
	ID           uuid.UUID
	FunctionName string
	VariantName  string
	Input        types.Input
	Output       []types.Part
	Embedding    []float32
}

// DatapointRow is the persisted shape of a Datapoint (§3, §6 dataset PATCH).
type DatapointRow struct {
	ID           uuid.UUID
	DatasetName  string
	FunctionName string
	Kind         types.DatapointKind
	Input        types.Input
	OutputChat   []types.Part
	OutputJSON   []byte
	OutputSchema []byte
	Tags         map[string]string
	Grader       []byte
	StaledAt     *time.Time
}
