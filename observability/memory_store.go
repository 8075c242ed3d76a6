package observability

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tzgateway/gateway/tzerr"
	"github.com/tzgateway/gateway/types"
)

// MemoryStore is an in-memory Store, suitable for tests and single-process
// deployments, mirroring registry/store/memory's shape (map + RWMutex, ctx
// cancellation checked up front on every call).
type MemoryStore struct {
	mu sync.RWMutex

	chat          map[uuid.UUID]ChatInferenceRow
	jsonRows      map[uuid.UUID]JSONInferenceRow
	model         map[uuid.UUID]ModelInferenceRow
	batchRequests map[string]BatchRequestRow
	batchModel    map[string][]BatchModelInferenceRow
	feedback      map[uuid.UUID]FeedbackRow
	dicl          map[uuid.UUID]DICLExampleRow
	datapoints    map[uuid.UUID]DatapointRow
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chat:          make(map[uuid.UUID]ChatInferenceRow),
		jsonRows:      make(map[uuid.UUID]JSONInferenceRow),
		model:         make(map[uuid.UUID]ModelInferenceRow),
		batchRequests: make(map[string]BatchRequestRow),
		batchModel:    make(map[string][]BatchModelInferenceRow),
		feedback:      make(map[uuid.UUID]FeedbackRow),
		dicl:          make(map[uuid.UUID]DICLExampleRow),
		datapoints:    make(map[uuid.UUID]DatapointRow),
	}
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func (s *MemoryStore) InsertChatInference(ctx context.Context, rows []ChatInferenceRow) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.chat[r.ID] = r // re-inserting the same id is benign (§8 idempotent row write)
	}
	return nil
}

func (s *MemoryStore) InsertJSONInference(ctx context.Context, rows []JSONInferenceRow) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.jsonRows[r.ID] = r
	}
	return nil
}

func (s *MemoryStore) InsertModelInference(ctx context.Context, rows []ModelInferenceRow) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.model[r.ID] = r
	}
	return nil
}

func (s *MemoryStore) InsertBatchRequest(ctx context.Context, row BatchRequestRow) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchRequests[row.BatchID] = row
	return nil
}

func (s *MemoryStore) InsertBatchModelInference(ctx context.Context, rows []BatchModelInferenceRow) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchModel[rows[0].BatchID] = append(s.batchModel[rows[0].BatchID], rows...)
	return nil
}

func (s *MemoryStore) InsertFeedback(ctx context.Context, row FeedbackRow) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback[row.ID] = row
	return nil
}

func (s *MemoryStore) InsertDICLExample(ctx context.Context, row DICLExampleRow) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dicl[row.ID] = row
	return nil
}

func (s *MemoryStore) InsertDatapoint(ctx context.Context, row DatapointRow) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.datapoints[row.ID] = row
	return nil
}

func (s *MemoryStore) StaleDatapoint(ctx context.Context, id uuid.UUID, staledAt time.Time) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	dp, ok := s.datapoints[id]
	if !ok {
		return tzerr.New(tzerr.KindInferenceNotFound, "datapoint not found", nil, map[string]any{"id": id})
	}
	dp.StaledAt = &staledAt
	s.datapoints[id] = dp
	return nil
}

func (s *MemoryStore) QueryChatInferences(ctx context.Context, functionName string, page Page) ([]ChatInferenceRow, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ChatInferenceRow
	for _, r := range s.chat {
		if r.FunctionName == functionName {
			out = append(out, r)
		}
	}
	return paginateChat(out, page), nil
}

func (s *MemoryStore) QueryJSONInferences(ctx context.Context, functionName string, page Page) ([]JSONInferenceRow, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []JSONInferenceRow
	for _, r := range s.jsonRows {
		if r.FunctionName == functionName {
			out = append(out, r)
		}
	}
	return paginateJSON(out, page), nil
}

func (s *MemoryStore) QueryFeedback(ctx context.Context, kind types.FeedbackKind, targetID uuid.UUID, page Page) ([]FeedbackRow, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []FeedbackRow
	for _, r := range s.feedback {
		if r.Kind == kind && r.TargetID == targetID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return idLess(out[i].ID, out[j].ID) })
	return applyPageFeedback(out, page), nil
}

func (s *MemoryStore) ListBatchModelInferences(ctx context.Context, batchID string) ([]BatchModelInferenceRow, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]BatchModelInferenceRow, len(s.batchModel[batchID]))
	copy(out, s.batchModel[batchID])
	return out, nil
}

func (s *MemoryStore) QueryCompletedBatchInferences(ctx context.Context, batchID string, inferenceID *uuid.UUID) ([]types.CompletedBatchInference, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.CompletedBatchInference
	for _, bmi := range s.batchModel[batchID] {
		if inferenceID != nil && bmi.InferenceID != *inferenceID {
			continue
		}
		var inputTokens, outputTokens int
		var finish types.FinishReason
		var outputChat []types.Part
		var outputJSON *types.JSONOutput
		for _, mi := range s.model {
			if mi.InferenceID != bmi.InferenceID {
				continue
			}
			inputTokens += mi.InputTokens
			outputTokens += mi.OutputTokens
			finish = mi.FinishReason
		}
		if row, ok := s.chat[bmi.InferenceID]; ok {
			outputChat = row.Output
		}
		if row, ok := s.jsonRows[bmi.InferenceID]; ok {
			outputJSON = &row.Output
		}
		out = append(out, types.CompletedBatchInference{
			InferenceID:  bmi.InferenceID,
			EpisodeID:    bmi.EpisodeID,
			VariantName:  bmi.VariantName,
			OutputChat:   outputChat,
			OutputJSON:   outputJSON,
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
			FinishReason: finish,
		})
	}
	return out, nil
}

func (s *MemoryStore) GetDatapoint(ctx context.Context, id uuid.UUID, allowStale bool) (*DatapointRow, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	dp, ok := s.datapoints[id]
	if !ok {
		return nil, tzerr.New(tzerr.KindInferenceNotFound, "datapoint not found", nil, map[string]any{"id": id})
	}
	if !allowStale && dp.StaledAt != nil {
		return nil, tzerr.New(tzerr.KindInferenceNotFound, "datapoint is stale", nil, map[string]any{"id": id})
	}
	return &dp, nil
}

func (s *MemoryStore) GetBatchRequest(ctx context.Context, batchID string) (*BatchRequestRow, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	br, ok := s.batchRequests[batchID]
	if !ok {
		return nil, tzerr.New(tzerr.KindBatchNotFound, "batch not found", nil, map[string]any{"batch_id": batchID})
	}
	return &br, nil
}

func idLess(a, b uuid.UUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func paginateChat(rows []ChatInferenceRow, page Page) []ChatInferenceRow {
	sort.Slice(rows, func(i, j int) bool { return idLess(rows[i].ID, rows[j].ID) })
	var filtered []ChatInferenceRow
	for _, r := range rows {
		if page.After != nil && !idLess(*page.After, r.ID) {
			continue
		}
		if page.Before != nil && !idLess(r.ID, *page.Before) {
			continue
		}
		filtered = append(filtered, r)
	}
	if page.After != nil {
		// DESC order when paging forward from an "after" cursor (§4.G).
		sort.Slice(filtered, func(i, j int) bool { return idLess(filtered[j].ID, filtered[i].ID) })
	}
	return capRows(filtered, page.PageSize)
}

func paginateJSON(rows []JSONInferenceRow, page Page) []JSONInferenceRow {
	sort.Slice(rows, func(i, j int) bool { return idLess(rows[i].ID, rows[j].ID) })
	var filtered []JSONInferenceRow
	for _, r := range rows {
		if page.After != nil && !idLess(*page.After, r.ID) {
			continue
		}
		if page.Before != nil && !idLess(r.ID, *page.Before) {
			continue
		}
		filtered = append(filtered, r)
	}
	if page.After != nil {
		sort.Slice(filtered, func(i, j int) bool { return idLess(filtered[j].ID, filtered[i].ID) })
	}
	return capRows(filtered, page.PageSize)
}

func applyPageFeedback(rows []FeedbackRow, page Page) []FeedbackRow {
	var filtered []FeedbackRow
	for _, r := range rows {
		if page.After != nil && !idLess(*page.After, r.ID) {
			continue
		}
		if page.Before != nil && !idLess(r.ID, *page.Before) {
			continue
		}
		filtered = append(filtered, r)
	}
	return capRows(filtered, page.PageSize)
}

func capRows[T any](rows []T, pageSize int) []T {
	if pageSize <= 0 || len(rows) <= pageSize {
		return rows
	}
	return rows[:pageSize]
}
