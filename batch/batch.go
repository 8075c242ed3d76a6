// Package batch implements the batch inference subsystem (§4.I): starting a
// provider-side batch job from N rendered requests that share a
// (function, variant, model, provider), polling it to completion, and
// persisting the per-input fan-out rows the observability store needs to
// answer get_completed_batch_inferences.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tzgateway/gateway/observability"
	"github.com/tzgateway/gateway/provider"
	"github.com/tzgateway/gateway/tool"
	"github.com/tzgateway/gateway/tzerr"
	"github.com/tzgateway/gateway/types"
)

// StartInput is one input row destined for the batch, already rendered
// through the variant's templates and tool resolution by the caller (the
// function dispatcher does this per-row before handing off to Start).
type StartInput struct {
	InferenceID uuid.UUID
	EpisodeID   uuid.UUID
	Input       types.Input
	Messages    []types.Message
	System      string
	ToolConfig  *types.ToolCallConfig
	Params      types.InferenceParams
	OutputSchema *types.CompiledSchemaRef
	JSONMode    provider.JSONMode
	Tags        map[string]string
}

// StartRequest bundles every row sharing one (function, variant, model,
// provider) into a single provider batch submission.
type StartRequest struct {
	FunctionName      string
	VariantName       string
	ModelName         string
	ModelProviderName string
	ModelID           string
	Inputs            []StartInput
}

// Subsystem starts and polls provider batch jobs and persists their rows
// (§4.I). Clients is the one provider.Client the batch runs against;
// callers have already picked a single ModelProvider for every row in a
// StartRequest, so no routing/fallback chain applies here (§4.I design
// note: a batch job is bound to one provider for its whole lifetime).
type Subsystem struct {
	Clients provider.Client
	Writer  *observability.Writer
	Store   observability.Store
}

// Start submits req to the provider, persists the BatchRequest row plus one
// BatchModelInference fan-out row per input, and returns the provider's
// batch id (§4.I "start").
func (s *Subsystem) Start(ctx context.Context, req StartRequest) (string, error) {
	if len(req.Inputs) == 0 {
		return "", tzerr.New(tzerr.KindInvalidRequest, "batch start requires at least one input", nil, nil)
	}

	preqs := make([]*provider.Request, len(req.Inputs))
	for i, in := range req.Inputs {
		params := in.Params
		if params.ServiceTier != "" {
			slog.Warn("service_tier is ignored for batch inference", "function", req.FunctionName, "service_tier", params.ServiceTier)
			params.ServiceTier = ""
		}
		preqs[i] = &provider.Request{
			ModelID:      req.ModelID,
			Messages:     in.Messages,
			System:       in.System,
			Tools:        in.ToolConfig,
			Params:       params,
			OutputSchema: in.OutputSchema,
			JSONMode:     in.JSONMode,
		}
	}

	resp, err := s.Clients.StartBatch(ctx, &provider.StartBatchRequest{Requests: preqs})
	if err != nil {
		return "", err
	}

	batchRow := observability.BatchRequestRow{
		BatchID: resp.BatchID, ID: types.MustNewID(),
		ModelName: req.ModelName, ModelProviderName: req.ModelProviderName,
		Status: types.BatchStatusPending, FunctionName: req.FunctionName, VariantName: req.VariantName,
		RawRequest: resp.RawRequest,
	}
	s.Writer.EnqueueBatchRequest(batchRow)

	rows := make([]observability.BatchModelInferenceRow, len(req.Inputs))
	for i, in := range req.Inputs {
		var outputSchemaBytes []byte
		if in.OutputSchema != nil {
			outputSchemaBytes = in.OutputSchema.Raw()
		}
		var toolInsert *types.ToolCallConfigDatabaseInsert
		if in.ToolConfig != nil {
			toolInsert = tool.ToDatabaseInsert(in.ToolConfig)
		}
		rows[i] = observability.BatchModelInferenceRow{
			InferenceID: in.InferenceID, BatchID: resp.BatchID,
			FunctionName: req.FunctionName, VariantName: req.VariantName, EpisodeID: in.EpisodeID,
			Input: in.Input, InputMessages: in.Messages, ToolParams: toolInsert,
			InferenceParams: in.Params, OutputSchema: outputSchemaBytes,
			ModelName: req.ModelName, ModelProviderName: req.ModelProviderName, Tags: in.Tags,
		}
	}
	s.Writer.EnqueueBatchModelInferences(rows)
	s.Writer.Flush(ctx)

	return resp.BatchID, nil
}

// Poll checks batchID's status. On a transition to Completed it persists one
// ChatInference/JsonInference row plus one ModelInference row per fan-out
// input, joining back to the BatchModelInference rows written by Start
// (§4.I "poll").
func (s *Subsystem) Poll(ctx context.Context, batchID string) (types.BatchStatus, error) {
	br, err := s.Store.GetBatchRequest(ctx, batchID)
	if err != nil {
		return "", err
	}
	if br.Status != types.BatchStatusPending {
		return br.Status, nil
	}

	fanout, err := s.Store.ListBatchModelInferences(ctx, batchID)
	if err != nil {
		return "", err
	}
	n := len(fanout)

	resp, err := s.Clients.PollBatch(ctx, batchID, n)
	if err != nil {
		return "", err
	}
	if resp.Status != types.BatchStatusCompleted {
		return resp.Status, nil
	}
	if len(resp.Outputs) != n {
		return "", tzerr.New(tzerr.KindOLAPQuery, fmt.Sprintf("batch %q completed with %d outputs for %d fan-out rows", batchID, len(resp.Outputs), n), nil, nil)
	}

	for i, out := range resp.Outputs {
		row := fanout[i]
		s.Writer.EnqueueModelInference(observability.ModelInferenceRow{
			ID: types.MustNewID(), InferenceID: row.InferenceID,
			ModelName: br.ModelName, ModelProviderName: br.ModelProviderName,
			RawResponse: out.RawResponse, InputTokens: out.Usage.InputTokens, OutputTokens: out.Usage.OutputTokens,
			FinishReason: out.FinishReason, InputMessages: row.InputMessages,
		})

		if len(row.OutputSchema) > 0 {
			s.Writer.EnqueueJSONInference(observability.JSONInferenceRow{
				ID: row.InferenceID, FunctionName: row.FunctionName, VariantName: row.VariantName,
				EpisodeID: row.EpisodeID, Input: row.Input,
				Output:          parseBatchJSONOutput(out),
				OutputSchema:    row.OutputSchema,
				InferenceParams: row.InferenceParams, Tags: row.Tags,
			})
			continue
		}
		s.Writer.EnqueueChatInference(observability.ChatInferenceRow{
			ID: row.InferenceID, FunctionName: row.FunctionName, VariantName: row.VariantName,
			EpisodeID: row.EpisodeID, Input: row.Input, Output: out.Content,
			ToolParams: row.ToolParams, InferenceParams: row.InferenceParams, Tags: row.Tags,
		})
	}

	s.Writer.EnqueueBatchRequest(observability.BatchRequestRow{
		BatchID: batchID, ID: br.ID, ModelName: br.ModelName, ModelProviderName: br.ModelProviderName,
		Status: types.BatchStatusCompleted, FunctionName: br.FunctionName, VariantName: br.VariantName,
		RawRequest: br.RawRequest, RawResponse: resp.RawResponse,
	})
	s.Writer.Flush(ctx)
	return types.BatchStatusCompleted, nil
}

// parseBatchJSONOutput reassembles a json-function output from a batch
// Response's text parts, mirroring variant.parseJSONOutput's raw/parsed
// split without pulling in the variant package (batch completion does not
// re-validate against the output schema; the original request already
// required strict JSON mode from the provider).
func parseBatchJSONOutput(resp *provider.Response) types.JSONOutput {
	var raw string
	for _, p := range resp.Content {
		if t, ok := p.(types.TextPart); ok {
			raw += t.Text
		}
	}
	out := types.JSONOutput{Raw: raw}
	var parsed json.RawMessage
	if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
		out.Parsed = parsed
	}
	return out
}

// GetCompletedInferences returns the completed rows for batchID (optionally
// scoped to a single inferenceID), for callers serving
// get_completed_batch_inferences (§4.I).
func (s *Subsystem) GetCompletedInferences(ctx context.Context, batchID string, inferenceID *uuid.UUID) ([]types.CompletedBatchInference, error) {
	return s.Store.QueryCompletedBatchInferences(ctx, batchID, inferenceID)
}
