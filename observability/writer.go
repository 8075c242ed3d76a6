package observability

import (
	"context"
	"log/slog"
	"sync"
)

// row is a pending write of one kind, buffered by Writer until flush.
type row struct {
	chat  *ChatInferenceRow
	json  *JSONInferenceRow
	model *ModelInferenceRow
	batchReq *BatchRequestRow
	batchModel []BatchModelInferenceRow
	feedback *FeedbackRow
	dicl  *DICLExampleRow
	datapoint *DatapointRow
}

// Writer buffers observability rows and appends them to Store, matching
// §4.G's two modes: Enqueue* is asynchronous (buffered, drained by a
// background goroutine with async_insert-style batching); Flush writes
// pending rows inline for tests and for callers that need read-after-write (e.g. the
// HTTP handler returning inference_id only after the row is durable).
type Writer struct {
	store Store
	tel   *Telemetry

	mu      sync.Mutex
	pending []row

	flushCh chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewWriter starts a Writer with a background flush loop that drains pending
// rows each time a row is enqueued (Flush writes pending rows inline), or returns a synchronous-only Writer when async is
// false (used by tests per §4.G "Synchronous: inline INSERT for tests").
func NewWriter(store Store, async bool) *Writer {
	w := &Writer{store: store, tel: NewTelemetry(), flushCh: make(chan struct{}, 1), done: make(chan struct{})}
	if async {
		w.wg.Add(1)
		go w.loop()
	}
	return w
}

func (w *Writer) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.flushCh:
			w.flush(context.Background())
		case <-w.done:
			w.flush(context.Background())
			return
		}
	}
}

func (w *Writer) enqueue(r row) {
	w.mu.Lock()
	w.pending = append(w.pending, r)
	w.mu.Unlock()
	select {
	case w.flushCh <- struct{}{}:
	default:
	}
}

// EnqueueChatInference buffers a chat InferenceRecord row for async flush.
func (w *Writer) EnqueueChatInference(r ChatInferenceRow) { w.enqueue(row{chat: &r}) }

// EnqueueJSONInference buffers a json InferenceRecord row for async flush.
func (w *Writer) EnqueueJSONInference(r JSONInferenceRow) { w.enqueue(row{json: &r}) }

// EnqueueModelInference buffers a ModelInferenceRecord row for async flush.
func (w *Writer) EnqueueModelInference(r ModelInferenceRow) { w.enqueue(row{model: &r}) }

// EnqueueBatchRequest buffers a BatchRequest row for async flush.
func (w *Writer) EnqueueBatchRequest(r BatchRequestRow) { w.enqueue(row{batchReq: &r}) }

// EnqueueBatchModelInferences buffers the N fan-out rows of a started batch.
func (w *Writer) EnqueueBatchModelInferences(rs []BatchModelInferenceRow) {
	w.enqueue(row{batchModel: rs})
}

// EnqueueFeedback buffers a feedback row for async flush.
func (w *Writer) EnqueueFeedback(r FeedbackRow) { w.enqueue(row{feedback: &r}) }

// EnqueueDICLExample buffers a DICL example row for async flush.
func (w *Writer) EnqueueDICLExample(r DICLExampleRow) { w.enqueue(row{dicl: &r}) }

// EnqueueDatapoint buffers a Datapoint row for async flush.
func (w *Writer) EnqueueDatapoint(r DatapointRow) { w.enqueue(row{datapoint: &r}) }

// Flush drains all buffered rows synchronously, returning once every row
// has been appended (or failed) — used by callers needing a synchronous
// write (§4.G) and by tests.
func (w *Writer) Flush(ctx context.Context) { w.flush(ctx) }

func (w *Writer) flush(ctx context.Context) {
	w.mu.Lock()
	pending := w.pending
	w.pending = nil
	w.mu.Unlock()
	if len(pending) == 0 {
		return
	}
	ctx, span := w.tel.startFlush(ctx, len(pending))
	defer endSpan(span)

	var chat []ChatInferenceRow
	var jsonRows []JSONInferenceRow
	var model []ModelInferenceRow
	var feedback []FeedbackRow
	for _, r := range pending {
		switch {
		case r.chat != nil:
			chat = append(chat, *r.chat)
		case r.json != nil:
			jsonRows = append(jsonRows, *r.json)
		case r.model != nil:
			model = append(model, *r.model)
		case r.batchReq != nil:
			err := w.store.InsertBatchRequest(ctx, *r.batchReq)
			w.tel.recordInsert(ctx, "BatchRequest", 1, err)
			if err != nil {
				slog.Error("observability: insert batch request failed", "error", err)
			}
		case len(r.batchModel) > 0:
			err := w.store.InsertBatchModelInference(ctx, r.batchModel)
			w.tel.recordInsert(ctx, "BatchModelInference", len(r.batchModel), err)
			if err != nil {
				slog.Error("observability: insert batch model inference failed", "error", err)
			}
		case r.feedback != nil:
			feedback = append(feedback, *r.feedback)
		case r.dicl != nil:
			err := w.store.InsertDICLExample(ctx, *r.dicl)
			w.tel.recordInsert(ctx, "DynamicInContextLearningExample", 1, err)
			if err != nil {
				slog.Error("observability: insert dicl example failed", "error", err)
			}
		case r.datapoint != nil:
			err := w.store.InsertDatapoint(ctx, *r.datapoint)
			w.tel.recordInsert(ctx, "Datapoint", 1, err)
			if err != nil {
				slog.Error("observability: insert datapoint failed", "error", err)
			}
		}
	}
	if len(chat) > 0 {
		err := w.store.InsertChatInference(ctx, chat)
		w.tel.recordInsert(ctx, "ChatInference", len(chat), err)
		if err != nil {
			slog.Error("observability: insert chat inference failed", "error", err)
		}
	}
	if len(jsonRows) > 0 {
		err := w.store.InsertJSONInference(ctx, jsonRows)
		w.tel.recordInsert(ctx, "JsonInference", len(jsonRows), err)
		if err != nil {
			slog.Error("observability: insert json inference failed", "error", err)
		}
	}
	if len(model) > 0 {
		err := w.store.InsertModelInference(ctx, model)
		w.tel.recordInsert(ctx, "ModelInference", len(model), err)
		if err != nil {
			slog.Error("observability: insert model inference failed", "error", err)
		}
	}
	for _, f := range feedback {
		err := w.store.InsertFeedback(ctx, f)
		w.tel.recordInsert(ctx, "Feedback", 1, err)
		if err != nil {
			slog.Error("observability: insert feedback failed", "error", err)
		}
	}
}

// Close stops the background flush loop (if running) and drains any
// remaining buffered rows (§5 "the observability writer flushes buffered
// rows" on cooperative shutdown).
func (w *Writer) Close() {
	close(w.done)
	w.wg.Wait()
}
