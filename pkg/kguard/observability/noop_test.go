package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestNoopMetrics(t *testing.T) {
	m := NoopMetrics{}
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordAcquire(ctx, "kmutex", time.Millisecond, nil)
		m.RecordAcquire(ctx, "kmutex", 0, errors.New("refused"))
		m.RecordRelease(ctx, "fastmutex", nil)
		m.RecordAllocation(ctx, 64, nil)
		m.RecordFree(ctx, 64)
		m.RecordRegistryOp(ctx, "register", nil)
	})
}

func TestNoopSpanManager(t *testing.T) {
	sm := NoopSpanManager{}
	ctx := context.Background()

	spanCtx, span := sm.StartRegistryOpSpan(ctx, "get", "k")
	assert.Equal(t, ctx, spanCtx)
	assert.NotNil(t, span)
	assert.False(t, span.IsRecording())

	assert.NotPanics(t, func() {
		sm.EndSpanWithError(span, errors.New("ignored"))
		sm.EndSpanWithError(nil, nil)
		sm.AddSpanEvent(ctx, "ignored", attribute.Int("n", 1))
	})
}
