package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records kguard metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordAcquire records a lock acquisition attempt with the time spent
	// waiting and its error status.
	RecordAcquire(ctx context.Context, variant string, wait time.Duration, err error)

	// RecordRelease records a lock release attempt and its error status.
	RecordRelease(ctx context.Context, variant string, err error)

	// RecordAllocation records a guarded-pool allocation attempt.
	RecordAllocation(ctx context.Context, bytes int64, err error)

	// RecordFree records a guarded-pool free.
	RecordFree(ctx context.Context, bytes int64)

	// RecordRegistryOp records a global reference tracker operation.
	RecordRegistryOp(ctx context.Context, op string, err error)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	lockAcquires  metric.Int64Counter
	lockWait      metric.Float64Histogram
	lockRefusals  metric.Int64Counter
	lockReleases  metric.Int64Counter
	poolAllocs    metric.Int64Counter
	poolBytesUsed metric.Int64UpDownCounter
	registryOps   metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("kguard")

	lockAcquires, err := meter.Int64Counter("kguard.lock.acquires",
		metric.WithDescription("Number of successful lock acquisitions"),
	)
	if err != nil {
		return nil, err
	}

	lockWait, err := meter.Float64Histogram("kguard.lock.wait_ms",
		metric.WithDescription("Time spent waiting for lock acquisition in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	lockRefusals, err := meter.Int64Counter("kguard.lock.refusals",
		metric.WithDescription("Number of lock operations refused by the priority-level check"),
	)
	if err != nil {
		return nil, err
	}

	lockReleases, err := meter.Int64Counter("kguard.lock.releases",
		metric.WithDescription("Number of successful lock releases"),
	)
	if err != nil {
		return nil, err
	}

	poolAllocs, err := meter.Int64Counter("kguard.pool.allocations",
		metric.WithDescription("Number of guarded-pool allocation attempts"),
	)
	if err != nil {
		return nil, err
	}

	poolBytesUsed, err := meter.Int64UpDownCounter("kguard.pool.bytes_in_use",
		metric.WithDescription("Guarded-pool bytes currently allocated"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	registryOps, err := meter.Int64Counter("kguard.registry.operations",
		metric.WithDescription("Number of global reference tracker operations"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		lockAcquires:  lockAcquires,
		lockWait:      lockWait,
		lockRefusals:  lockRefusals,
		lockReleases:  lockReleases,
		poolAllocs:    poolAllocs,
		poolBytesUsed: poolBytesUsed,
		registryOps:   registryOps,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordAcquire records a lock acquisition attempt.
func (m *otelMetrics) RecordAcquire(ctx context.Context, variant string, wait time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("variant", variant),
	}

	if err != nil {
		m.lockRefusals.Add(ctx, 1, metric.WithAttributes(attrs...))
		return
	}

	m.lockAcquires.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.lockWait.Record(ctx, float64(wait.Microseconds())/1000.0, metric.WithAttributes(attrs...))
}

// RecordRelease records a lock release attempt.
func (m *otelMetrics) RecordRelease(ctx context.Context, variant string, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("variant", variant),
	}

	if err != nil {
		m.lockRefusals.Add(ctx, 1, metric.WithAttributes(attrs...))
		return
	}
	m.lockReleases.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordAllocation records a guarded-pool allocation attempt.
func (m *otelMetrics) RecordAllocation(ctx context.Context, bytes int64, err error) {
	attrs := []attribute.KeyValue{
		attribute.Bool("success", err == nil),
	}
	m.poolAllocs.Add(ctx, 1, metric.WithAttributes(attrs...))
	if err == nil {
		m.poolBytesUsed.Add(ctx, bytes)
	}
}

// RecordFree records a guarded-pool free.
func (m *otelMetrics) RecordFree(ctx context.Context, bytes int64) {
	m.poolBytesUsed.Add(ctx, -bytes)
}

// RecordRegistryOp records a global reference tracker operation.
func (m *otelMetrics) RecordRegistryOp(ctx context.Context, op string, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("op", op),
		attribute.Bool("success", err == nil),
	}
	m.registryOps.Add(ctx, 1, metric.WithAttributes(attrs...))
}
