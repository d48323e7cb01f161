package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// setupTracingTest creates a test tracer provider with an in-memory exporter.
func setupTracingTest(t *testing.T) (*tracetest.InMemoryExporter, func()) {
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)

	originalProvider := otel.GetTracerProvider()
	originalTracer := tracer

	otel.SetTracerProvider(provider)

	// The package tracer is captured at init time; point it at the test
	// provider for the duration of the test.
	tracer = provider.Tracer("kguard")

	cleanup := func() {
		tracer = originalTracer
		otel.SetTracerProvider(originalProvider)
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down tracer provider: %v", err)
		}
	}

	return exporter, cleanup
}

func TestStartRegistryOpSpan(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	sm := NewSpanManager()
	ctx, span := sm.StartRegistryOpSpan(context.Background(), "register", "DRIVER_STATE")
	require.NotNil(t, span)
	assert.True(t, trace.SpanFromContext(ctx).IsRecording())

	sm.EndSpanWithError(span, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "kguard.registry.register", spans[0].Name)
	assert.Equal(t, trace.SpanKindInternal, spans[0].SpanKind)

	attrs := spans[0].Attributes
	assert.Contains(t, attrs, attribute.String("registry.op", "register"))
	assert.Contains(t, attrs, attribute.String("registry.key", "DRIVER_STATE"))
	assert.Equal(t, codes.Ok, spans[0].Status.Code)
}

func TestEndSpanWithError(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	sm := NewSpanManager()

	t.Run("records error status", func(t *testing.T) {
		exporter.Reset()

		_, span := sm.StartRegistryOpSpan(context.Background(), "get", "missing")
		sm.EndSpanWithError(span, errors.New("key not found"))

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Error, spans[0].Status.Code)
		assert.Equal(t, "key not found", spans[0].Status.Description)
		require.Len(t, spans[0].Events, 1)
		assert.Equal(t, "exception", spans[0].Events[0].Name)
	})

	t.Run("nil span is a no-op", func(t *testing.T) {
		assert.NotPanics(t, func() {
			sm.EndSpanWithError(nil, errors.New("ignored"))
		})
	})
}

func TestAddSpanEvent(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	sm := NewSpanManager()

	t.Run("adds event to recording span", func(t *testing.T) {
		exporter.Reset()

		ctx, span := sm.StartRegistryOpSpan(context.Background(), "destroy", "")
		sm.AddSpanEvent(ctx, "entries.closed", attribute.Int("count", 3))
		sm.EndSpanWithError(span, nil)

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		require.Len(t, spans[0].Events, 1)
		assert.Equal(t, "entries.closed", spans[0].Events[0].Name)
		assert.Contains(t, spans[0].Events[0].Attributes, attribute.Int("count", 3))
	})

	t.Run("no-op without a span in context", func(t *testing.T) {
		assert.NotPanics(t, func() {
			sm.AddSpanEvent(context.Background(), "ignored")
		})
	})
}
