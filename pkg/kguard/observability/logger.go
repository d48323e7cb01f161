// Package observability provides structured logging, metrics, and tracing
// for kguard: lock acquisition accounting, guarded-pool usage, and global
// reference tracker lifecycle.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds kguard context to a logger.
// Returns a new logger with key and variant fields.
func EnrichLogger(logger *slog.Logger, key, variant string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("key", key),
		slog.String("variant", variant),
	)
}

// LogAcquire logs a successful lock acquisition.
func LogAcquire(logger *slog.Logger, variant string, waitMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("lock acquired",
		slog.String("variant", variant),
		slog.Float64("wait_ms", waitMs),
	)
}

// LogAcquireRefused logs a lock acquisition refused by the priority check.
func LogAcquireRefused(logger *slog.Logger, variant string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("lock acquisition refused",
		slog.String("variant", variant),
		slog.String("error", err.Error()),
	)
}

// LogReleaseRefused logs a release refused by the priority check.
// The guard stays held; the caller must retry at a legal level.
func LogReleaseRefused(logger *slog.Logger, variant string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("lock release refused",
		slog.String("variant", variant),
		slog.String("error", err.Error()),
	)
}

// LogRegistryOp logs a global reference tracker operation.
func LogRegistryOp(logger *slog.Logger, op, key string, err error) {
	if logger == nil {
		return
	}
	if err != nil {
		logger.Error("registry operation failed",
			slog.String("op", op),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Debug("registry operation",
		slog.String("op", op),
		slog.String("key", key),
	)
}

// LogDestroy logs registry teardown.
func LogDestroy(logger *slog.Logger, entries int) {
	if logger == nil {
		return
	}
	logger.Info("registry destroyed",
		slog.Int("entries_freed", entries),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000.0
	}
}
