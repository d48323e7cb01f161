package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
// Use when metrics are disabled to avoid overhead.
type NoopMetrics struct{}

// Compile-time interface check.
var _ MetricsRecorder = NoopMetrics{}

// RecordAcquire does nothing.
func (NoopMetrics) RecordAcquire(_ context.Context, _ string, _ time.Duration, _ error) {}

// RecordRelease does nothing.
func (NoopMetrics) RecordRelease(_ context.Context, _ string, _ error) {}

// RecordAllocation does nothing.
func (NoopMetrics) RecordAllocation(_ context.Context, _ int64, _ error) {}

// RecordFree does nothing.
func (NoopMetrics) RecordFree(_ context.Context, _ int64) {}

// RecordRegistryOp does nothing.
func (NoopMetrics) RecordRegistryOp(_ context.Context, _ string, _ error) {}

// NoopSpanManager is a SpanManager that does nothing.
// Use when tracing is disabled to avoid overhead.
type NoopSpanManager struct{}

// Compile-time interface check.
var _ SpanManager = NoopSpanManager{}

// noopSpan is a span that does nothing.
// We use the OTel noop package for a proper no-op span implementation.
var noopSpan = noop.Span{}

// StartRegistryOpSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartRegistryOpSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// EndSpanWithError does nothing.
func (NoopSpanManager) EndSpanWithError(_ trace.Span, _ error) {}

// AddSpanEvent does nothing.
func (NoopSpanManager) AddSpanEvent(_ context.Context, _ string, _ ...attribute.KeyValue) {}
