package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry wraps the OTEL tracer/meter the Writer uses to instrument each
// flush, grounded on runtime/agent/telemetry/clue.go's ClueMetrics/ClueTracer
// shape minus the goa.design/clue logging dependency (§1 treats the OLAP
// dialect and its transport as external collaborators, but the writer still
// emits spans/counters around its own appends per the AMBIENT STACK).
type Telemetry struct {
	tracer      trace.Tracer
	rowsWritten metric.Int64Counter
	rowsFailed  metric.Int64Counter
}

// NewTelemetry builds a Telemetry using the global OTEL providers. Callers
// configure otel.SetTracerProvider/SetMeterProvider before constructing a
// Writer; a zero-value Telemetry is safe to use when
// no provider has been configured.
func NewTelemetry() *Telemetry {
	tracer := otel.Tracer("github.com/tzgateway/gateway/observability")
	meter := otel.Meter("github.com/tzgateway/gateway/observability")
	rowsWritten, _ := meter.Int64Counter("tzgateway.observability.rows_written")
	rowsFailed, _ := meter.Int64Counter("tzgateway.observability.rows_failed")
	return &Telemetry{tracer: tracer, rowsWritten: rowsWritten, rowsFailed: rowsFailed}
}

func (t *Telemetry) startFlush(ctx context.Context, pending int) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return ctx, nil
	}
	ctx, span := t.tracer.Start(ctx, "observability.flush", trace.WithAttributes(
		attribute.Int("tzgateway.pending_rows", pending),
	))
	return ctx, span
}

func (t *Telemetry) recordInsert(ctx context.Context, table string, n int, err error) {
	if t == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("tzgateway.table", table))
	if err != nil {
		if t.rowsFailed != nil {
			t.rowsFailed.Add(ctx, int64(n), attrs)
		}
		return
	}
	if t.rowsWritten != nil {
		t.rowsWritten.Add(ctx, int64(n), attrs)
	}
}

func endSpan(span trace.Span) {
	if span != nil {
		span.End()
	}
}
