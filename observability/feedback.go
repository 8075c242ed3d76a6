package observability

import (
	"fmt"

	"github.com/tzgateway/gateway/tzerr"
	"github.com/tzgateway/gateway/types"
)

// ValidateFeedback checks f against the configured metrics before it is
// persisted (§4.K): the named metric must exist, its kind must match the
// table f targets, the target kind (inference vs episode) must match the
// metric's level, and the value present on f must match the metric's kind.
// Comment feedback and demonstration feedback are not configured metrics;
// demonstration feedback is still required to target an inference.
func ValidateFeedback(metrics map[string]*types.Metric, f types.Feedback) error {
	switch f.Kind {
	case types.FeedbackKindComment:
		return nil
	case types.FeedbackKindDemonstration:
		if f.TargetKind != types.FeedbackTargetInference {
			return tzerr.New(tzerr.KindInvalidRequest, "demonstration feedback must target an inference", nil,
				map[string]any{"target_kind": string(f.TargetKind)})
		}
		return nil
	case types.FeedbackKindBooleanMetric, types.FeedbackKindFloatMetric:
		m, ok := metrics[f.MetricName]
		if !ok {
			return tzerr.New(tzerr.KindUnknownMetric, fmt.Sprintf("unknown metric %q", f.MetricName), nil,
				map[string]any{"metric_name": f.MetricName})
		}
		if wantKind := feedbackKindForMetric(m.Kind); wantKind != f.Kind {
			return tzerr.New(tzerr.KindInvalidRequest,
				fmt.Sprintf("metric %q is %s, got a %s value", f.MetricName, m.Kind, feedbackValueKindName(f.Kind)), nil,
				map[string]any{"metric_name": f.MetricName, "metric_kind": string(m.Kind)})
		}
		if wantTarget := targetKindForLevel(m.Level); wantTarget != f.TargetKind {
			return tzerr.New(tzerr.KindInvalidRequest,
				fmt.Sprintf("metric %q is scoped to %s, got target kind %s", f.MetricName, m.Level, f.TargetKind), nil,
				map[string]any{"metric_name": f.MetricName, "metric_level": string(m.Level)})
		}
		switch f.Kind {
		case types.FeedbackKindBooleanMetric:
			if f.BoolValue == nil {
				return tzerr.New(tzerr.KindInvalidRequest, fmt.Sprintf("metric %q requires a boolean value", f.MetricName), nil, nil)
			}
		case types.FeedbackKindFloatMetric:
			if f.FloatValue == nil {
				return tzerr.New(tzerr.KindInvalidRequest, fmt.Sprintf("metric %q requires a float value", f.MetricName), nil, nil)
			}
		}
		return nil
	default:
		return tzerr.New(tzerr.KindInvalidRequest, fmt.Sprintf("unknown feedback kind %q", f.Kind), nil, nil)
	}
}

func feedbackKindForMetric(k types.MetricKind) types.FeedbackKind {
	if k == types.MetricKindBoolean {
		return types.FeedbackKindBooleanMetric
	}
	return types.FeedbackKindFloatMetric
}

func feedbackValueKindName(k types.FeedbackKind) string {
	if k == types.FeedbackKindBooleanMetric {
		return "boolean"
	}
	return "float"
}

func targetKindForLevel(l types.MetricLevel) types.FeedbackTargetKind {
	if l == types.MetricLevelEpisode {
		return types.FeedbackTargetEpisode
	}
	return types.FeedbackTargetInference
}

func toFeedbackRow(f types.Feedback) FeedbackRow {
	return FeedbackRow{
		ID:                 f.ID,
		Kind:               f.Kind,
		TargetKind:         f.TargetKind,
		TargetID:           f.TargetID,
		MetricName:         f.MetricName,
		BoolValue:          f.BoolValue,
		FloatValue:         f.FloatValue,
		Comment:            f.CommentText,
		DemonstrationValue: f.DemonstrationValue,
		Tags:               f.Tags,
		Timestamp:          f.Timestamp(),
	}
}

// SubmitFeedback validates f against metrics (§4.K) and, only if valid,
// buffers the resulting row for write. It returns the validation error
// without writing anything on failure, so a caller can map
// tzerr.KindUnknownMetric / tzerr.KindInvalidRequest to the 404/400 §6
// describes.
func (w *Writer) SubmitFeedback(metrics map[string]*types.Metric, f types.Feedback) error {
	if err := ValidateFeedback(metrics, f); err != nil {
		return err
	}
	w.EnqueueFeedback(toFeedbackRow(f))
	return nil
}
