package observability

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tzgateway/gateway/tzerr"
	"github.com/tzgateway/gateway/types"
)

func sampleMetrics() map[string]*types.Metric {
	return map[string]*types.Metric{
		"thumbs_up":     {Name: "thumbs_up", Kind: types.MetricKindBoolean, Level: types.MetricLevelInference},
		"quality_score": {Name: "quality_score", Kind: types.MetricKindFloat, Level: types.MetricLevelEpisode},
	}
}

func TestValidateFeedback_UnknownMetric(t *testing.T) {
	b := true
	err := ValidateFeedback(sampleMetrics(), types.Feedback{
		Kind: types.FeedbackKindBooleanMetric, TargetKind: types.FeedbackTargetInference,
		MetricName: "nope", BoolValue: &b,
	})
	require.Error(t, err)
	require.Equal(t, tzerr.KindUnknownMetric, err.(*tzerr.Error).Kind())
}

func TestValidateFeedback_KindMismatch(t *testing.T) {
	f := 0.5
	err := ValidateFeedback(sampleMetrics(), types.Feedback{
		Kind: types.FeedbackKindFloatMetric, TargetKind: types.FeedbackTargetInference,
		MetricName: "thumbs_up", FloatValue: &f,
	})
	require.Error(t, err)
	require.Equal(t, tzerr.KindInvalidRequest, err.(*tzerr.Error).Kind())
}

func TestValidateFeedback_TargetKindMismatch(t *testing.T) {
	f := 0.5
	err := ValidateFeedback(sampleMetrics(), types.Feedback{
		Kind: types.FeedbackKindFloatMetric, TargetKind: types.FeedbackTargetInference,
		MetricName: "quality_score", FloatValue: &f,
	})
	require.Error(t, err)
	require.Equal(t, tzerr.KindInvalidRequest, err.(*tzerr.Error).Kind())
}

func TestValidateFeedback_ValueTypeMismatch(t *testing.T) {
	err := ValidateFeedback(sampleMetrics(), types.Feedback{
		Kind: types.FeedbackKindBooleanMetric, TargetKind: types.FeedbackTargetInference,
		MetricName: "thumbs_up",
	})
	require.Error(t, err)
	require.Equal(t, tzerr.KindInvalidRequest, err.(*tzerr.Error).Kind())
}

func TestValidateFeedback_DemonstrationRequiresInferenceTarget(t *testing.T) {
	err := ValidateFeedback(sampleMetrics(), types.Feedback{
		Kind: types.FeedbackKindDemonstration, TargetKind: types.FeedbackTargetEpisode,
	})
	require.Error(t, err)
	require.Equal(t, tzerr.KindInvalidRequest, err.(*tzerr.Error).Kind())
}

func TestValidateFeedback_Valid(t *testing.T) {
	b := true
	require.NoError(t, ValidateFeedback(sampleMetrics(), types.Feedback{
		Kind: types.FeedbackKindBooleanMetric, TargetKind: types.FeedbackTargetInference,
		MetricName: "thumbs_up", BoolValue: &b,
	}))

	require.NoError(t, ValidateFeedback(sampleMetrics(), types.Feedback{
		Kind: types.FeedbackKindComment, TargetKind: types.FeedbackTargetEpisode,
	}))
}

func TestWriter_SubmitFeedback(t *testing.T) {
	store := NewMemoryStore()
	w := NewWriter(store, false)

	b := true
	id := uuid.Must(uuid.NewV7())
	err := w.SubmitFeedback(sampleMetrics(), types.Feedback{
		ID: id, Kind: types.FeedbackKindBooleanMetric, TargetKind: types.FeedbackTargetInference,
		TargetID: uuid.Must(uuid.NewV7()), MetricName: "thumbs_up", BoolValue: &b,
	})
	require.NoError(t, err)
	w.Flush(context.Background())

	store.mu.RLock()
	row, ok := store.feedback[id]
	store.mu.RUnlock()
	require.True(t, ok)
	require.Equal(t, "thumbs_up", row.MetricName)
}

func TestWriter_SubmitFeedback_RejectsUnknownMetric(t *testing.T) {
	store := NewMemoryStore()
	w := NewWriter(store, false)

	b := true
	err := w.SubmitFeedback(sampleMetrics(), types.Feedback{
		ID: uuid.Must(uuid.NewV7()), Kind: types.FeedbackKindBooleanMetric, TargetKind: types.FeedbackTargetInference,
		MetricName: "nope", BoolValue: &b,
	})
	require.Error(t, err)
	w.Flush(context.Background())

	store.mu.RLock()
	defer store.mu.RUnlock()
	require.Empty(t, store.feedback)
}
