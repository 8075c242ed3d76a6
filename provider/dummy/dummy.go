// Package dummy implements provider.Client as a deterministic, in-process
// fake (§3 ModelProvider kind "local dummy"). It exists for the seed test
// scenarios in spec.md §8 that need reproducible provider behavior without
// a live network call — the same role tensorzero-core's "dummy" provider
// plays in the original test suite, and the role in-memory fakes play
// throughout the teacher's pack (registry/store/memory,
// engine/inmem/engine.go).
package dummy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tzgateway/gateway/provider"
	"github.com/tzgateway/gateway/tzerr"
	"github.com/tzgateway/gateway/types"
)

// Behavior configures one ModelID's canned response.
type Behavior struct {
	// Text is returned as a single TextPart for chat functions, or as the
	// raw JSON text for json functions.
	Text string
	// FailWithKind, when set, makes every Infer/InferStream call for this
	// ModelID fail with the given error kind (used to simulate a provider
	// returning 500s in the "all-variant failure" seed scenario).
	FailWithKind tzerr.Kind
	// Latency simulates processing time, useful for TTFT assertions.
	Latency time.Duration
	// SupportsBatch opts this ModelID into the batch API; PollsBeforeDone
	// controls how many PollBatch calls return Pending before Completed.
	SupportsBatch   bool
	PollsBeforeDone int
}

// Client is a deterministic fake provider.Client keyed by ModelID.
type Client struct {
	mu        sync.Mutex
	behaviors map[string]Behavior
	batches   map[string]*batchState
	nextBatch int
}

type batchState struct {
	requests []*provider.Request
	polls    int
	done     int
}

// New builds a Client with per-ModelID Behavior configuration.
func New(behaviors map[string]Behavior) *Client {
	return &Client{behaviors: behaviors, batches: make(map[string]*batchState)}
}

func (c *Client) behaviorFor(modelID string) Behavior {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.behaviors[modelID]
}

// Infer returns Behavior.Text as a single text part, or fails with
// Behavior.FailWithKind when configured.
func (c *Client) Infer(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	b := c.behaviorFor(req.ModelID)
	if b.FailWithKind != "" {
		return nil, tzerr.New(b.FailWithKind, fmt.Sprintf("dummy provider %q configured to fail", req.ModelID), nil, map[string]any{"model": req.ModelID})
	}
	if b.Latency > 0 {
		select {
		case <-time.After(b.Latency):
		case <-ctx.Done():
			return nil, tzerr.New(tzerr.KindInferenceTimeout, "dummy provider timed out", ctx.Err(), nil)
		}
	}
	text := b.Text
	if text == "" {
		text = defaultTextFor(req)
	}
	return &provider.Response{
		Content:      []types.Part{types.TextPart{Text: text}},
		Usage:        types.Usage{InputTokens: estimateTokens(req), OutputTokens: len(strings.Fields(text))},
		FinishReason: types.FinishReasonStop,
		RawRequest:   fmt.Sprintf("%+v", req),
		RawResponse:  text,
	}, nil
}

// InferStream splits Behavior.Text into word-sized chunks, emitted without
// delay; the streamer reports a TTFT of at least 1ms.
func (c *Client) InferStream(ctx context.Context, req *provider.Request) (provider.Streamer, string, error) {
	b := c.behaviorFor(req.ModelID)
	if b.FailWithKind != "" {
		return nil, "", tzerr.New(b.FailWithKind, fmt.Sprintf("dummy provider %q configured to fail", req.ModelID), nil, map[string]any{"model": req.ModelID})
	}
	text := b.Text
	if text == "" {
		text = defaultTextFor(req)
	}
	words := strings.Fields(text)
	return newStreamer(words, estimateTokens(req)), fmt.Sprintf("%+v", req), nil
}

// StartBatch requires the first request's ModelID to be configured with
// SupportsBatch (other requests' ModelIDs are not checked); otherwise returns UnsupportedModelProviderForBatchInference
// (§4.I).
func (c *Client) StartBatch(ctx context.Context, req *provider.StartBatchRequest) (*provider.StartBatchResponse, error) {
	if len(req.Requests) == 0 {
		return nil, tzerr.New(tzerr.KindInvalidRequest, "dummy provider: batch requires at least one request", nil, nil)
	}
	modelID := req.Requests[0].ModelID
	b := c.behaviorFor(modelID)
	if !b.SupportsBatch {
		return nil, tzerr.New(tzerr.KindUnsupportedBatchInference, "dummy provider model does not support batch inference", nil, map[string]any{"model": modelID})
	}

	c.mu.Lock()
	c.nextBatch++
	batchID := fmt.Sprintf("dummy-batch-%d", c.nextBatch)
	c.batches[batchID] = &batchState{requests: req.Requests, done: b.PollsBeforeDone}
	c.mu.Unlock()

	return &provider.StartBatchResponse{BatchID: batchID, RawRequest: fmt.Sprintf("%+v", req)}, nil
}

// PollBatch reports Pending until PollsBeforeDone calls have been made,
// then Completed with one Response per original request, in order.
func (c *Client) PollBatch(ctx context.Context, batchID string, n int) (*provider.PollBatchResponse, error) {
	c.mu.Lock()
	st, ok := c.batches[batchID]
	if !ok {
		c.mu.Unlock()
		return nil, tzerr.New(tzerr.KindBatchNotFound, "dummy provider: unknown batch id", nil, map[string]any{"batch_id": batchID})
	}
	st.polls++
	ready := st.polls > st.done
	reqs := st.requests
	c.mu.Unlock()

	if !ready {
		return &provider.PollBatchResponse{Status: types.BatchStatusPending}, nil
	}

	outputs := make([]*provider.Response, len(reqs))
	for i, r := range reqs {
		b := c.behaviorFor(r.ModelID)
		text := b.Text
		if text == "" {
			text = defaultTextFor(r)
		}
		outputs[i] = &provider.Response{
			Content:      []types.Part{types.TextPart{Text: text}},
			Usage:        types.Usage{InputTokens: estimateTokens(r), OutputTokens: len(strings.Fields(text))},
			FinishReason: types.FinishReasonStop,
			RawResponse:  text,
		}
	}
	return &provider.PollBatchResponse{Status: types.BatchStatusCompleted, Outputs: outputs}, nil
}

func defaultTextFor(req *provider.Request) string {
	return "dummy response"
}

func estimateTokens(req *provider.Request) int {
	n := 1
	for _, m := range req.Messages {
		for _, p := range m.Parts {
			if t, ok := p.(types.TextPart); ok {
				n += len(strings.Fields(t.Text))
			}
		}
	}
	return n
}
