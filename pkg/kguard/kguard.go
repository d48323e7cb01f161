package kguard

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/randalmurphal/kguard/pkg/kguard/journal"
	"github.com/randalmurphal/kguard/pkg/kguard/observability"
)

// oneShot is a flag that fires at most once. It backs the release-once and
// teardown-once guarantees.
type oneShot struct {
	flag atomic.Bool
}

// fire sets the flag and reports whether this call was the one that set it.
func (o *oneShot) fire() bool {
	return o.flag.CompareAndSwap(false, true)
}

// done reports whether the flag has fired.
func (o *oneShot) done() bool {
	return o.flag.Load()
}

// Variant names used in logs and metrics.
const (
	variantKMutex    = "kmutex"
	variantFastMutex = "fastmutex"
)

var (
	obsMu    sync.RWMutex
	recorder observability.MetricsRecorder = observability.NoopMetrics{}
	logger   *slog.Logger
	events   journal.Store
)

// SetMetricsRecorder installs the metrics recorder used by all primitives.
// Passing nil disables metrics.
func SetMetricsRecorder(m observability.MetricsRecorder) {
	obsMu.Lock()
	defer obsMu.Unlock()
	if m == nil {
		m = observability.NoopMetrics{}
	}
	recorder = m
}

// SetLogger installs the structured logger used by all primitives.
// Passing nil disables logging.
func SetLogger(l *slog.Logger) {
	obsMu.Lock()
	defer obsMu.Unlock()
	logger = l
}

// SetJournal installs a journal store that records priority-level refusals
// from every primitive. Passing nil disables journaling.
func SetJournal(j journal.Store) {
	obsMu.Lock()
	defer obsMu.Unlock()
	events = j
}

// recordRefusal journals a priority-level refusal. Best effort: a failing
// store is logged and otherwise ignored.
func recordRefusal(variant string, cause error) {
	obsMu.RLock()
	j := events
	l := logger
	obsMu.RUnlock()
	if j == nil {
		return
	}
	evt := journal.NewEvent(journal.KindRefusal, "", variant+": "+cause.Error())
	if err := j.Record(context.Background(), evt); err != nil && l != nil {
		l.Warn("journal record failed", slog.String("error", err.Error()))
	}
}

func metrics() observability.MetricsRecorder {
	obsMu.RLock()
	defer obsMu.RUnlock()
	return recorder
}

func logHandle() *slog.Logger {
	obsMu.RLock()
	defer obsMu.RUnlock()
	return logger
}
