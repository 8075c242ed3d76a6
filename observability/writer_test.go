package observability

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestWriterSyncFlushIsIdempotentPerID(t *testing.T) {
	store := NewMemoryStore()
	w := NewWriter(store, false)

	id := uuid.Must(uuid.NewV7())
	row := ChatInferenceRow{ID: id, FunctionName: "basic_test", VariantName: "empty_dicl", Timestamp: time.Now()}

	w.EnqueueChatInference(row)
	w.EnqueueChatInference(row) // same id written twice
	w.Flush(context.Background())

	rows, err := store.QueryChatInferences(context.Background(), "basic_test", Page{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestWriterAsyncFlushesOnClose(t *testing.T) {
	store := NewMemoryStore()
	w := NewWriter(store, true)

	id := uuid.Must(uuid.NewV7())
	w.EnqueueModelInference(ModelInferenceRow{ID: id, InferenceID: uuid.Must(uuid.NewV7())})
	w.Close()

	store.mu.RLock()
	_, ok := store.model[id]
	store.mu.RUnlock()
	require.True(t, ok)
}

func TestGetDatapointExcludesStale(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	oldID := uuid.Must(uuid.NewV7())
	require.NoError(t, store.InsertDatapoint(ctx, DatapointRow{ID: oldID, DatasetName: "d"}))
	require.NoError(t, store.StaleDatapoint(ctx, oldID, time.Now()))

	_, err := store.GetDatapoint(ctx, oldID, false)
	require.Error(t, err)

	dp, err := store.GetDatapoint(ctx, oldID, true)
	require.NoError(t, err)
	require.NotNil(t, dp.StaledAt)
}
