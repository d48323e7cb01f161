// Package grt implements the Global Reference Tracker: a process-wide,
// string-keyed store of mutex-protected values.
//
// Driver-style code shares state across independently scheduled execution
// contexts (threads, callbacks) that have no common caller to pass
// ownership through. The tracker fills that gap: one context registers a
// value under a key, any other retrieves the wrapping mutex by key and
// type, locks it, and mutates the payload. The tracker owns every
// registered primitive and frees them all in one teardown pass.
//
// # Lifecycle
//
// Init must run exactly once before any other operation, typically at load:
//
//	if err := grt.Init(); err != nil { ... }
//
// Destroy must run at most once, at unload. It frees every entry and turns
// the tracker inert: all later operations, including a second Destroy,
// return ErrDestroyed. There is no re-initialization.
//
// # Typed access over an erased table
//
// The table stores type-erased handles; retrieval is generic and re-checks
// the concrete type:
//
//	_ = grt.RegisterKMutex("counter", uint32(0))
//
//	mtx, err := grt.GetKMutex[uint32]("counter")
//	if err != nil { ... }
//	guard, err := mtx.Lock()
//
// Requesting a key under the wrong payload type or variant fails with an
// error matching ErrTypeMismatch; the stored entry is never reinterpreted.
//
// Retrieved references stay valid until the entry is removed or the tracker
// is destroyed; callers must not retain them past those events.
package grt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/randalmurphal/kguard/pkg/kguard"
	"github.com/randalmurphal/kguard/pkg/kguard/journal"
	"github.com/randalmurphal/kguard/pkg/kguard/observability"
	"github.com/randalmurphal/kguard/pkg/kguard/pool"
)

// Tracker errors.
var (
	// ErrNotInitialized is returned by operations before Init has run.
	ErrNotInitialized = errors.New("global reference tracker not initialized")

	// ErrAlreadyInitialized is returned by a second Init.
	ErrAlreadyInitialized = errors.New("global reference tracker already initialized")

	// ErrDestroyed is returned by every operation after Destroy has run,
	// including a second Destroy.
	ErrDestroyed = errors.New("global reference tracker destroyed")

	// ErrKeyExists is returned when registering under a taken key.
	ErrKeyExists = errors.New("key already registered")

	// ErrKeyNotFound is returned when retrieving or removing an absent key.
	ErrKeyNotFound = errors.New("key not found")

	// ErrTypeMismatch is the sentinel for retrievals whose requested type
	// or variant does not match the stored entry.
	ErrTypeMismatch = errors.New("stored type does not match requested type")
)

// TypeMismatchError reports a retrieval whose requested primitive type does
// not match what was registered under the key.
type TypeMismatchError struct {
	// Key is the registry key.
	Key string

	// Registered is the concrete type stored under the key.
	Registered string

	// Requested is the concrete type the caller asked for.
	Requested string
}

// Error implements the error interface.
func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("key %q holds %s, requested %s", e.Key, e.Registered, e.Requested)
}

// Unwrap returns ErrTypeMismatch so errors.Is(err, ErrTypeMismatch) matches.
func (e *TypeMismatchError) Unwrap() error {
	return ErrTypeMismatch
}

// destroyer is the type-erased handle the table owns for each entry.
type destroyer interface {
	Close() error
}

// entry pairs a type-erased primitive with its concrete type name.
// The type name is for error reporting; the authoritative tag check is the
// type assertion performed on retrieval.
type entry struct {
	typeName string
	handle   destroyer
}

// tracker is the table plus its collaborators. All table mutation happens
// under mu, which is independent of every entry's own lock.
type tracker struct {
	mu      sync.RWMutex
	entries map[string]*entry

	alloc   pool.Allocator
	spans   observability.SpanManager
	logger  *slog.Logger
	journal journal.Store
}

var (
	// global points at the live tracker; nil before Init and after Destroy.
	global atomic.Pointer[tracker]

	// destroyed fires once, in Destroy. It is what keeps the tracker inert
	// afterwards and makes double-destroy free of double-frees.
	destroyed atomic.Bool
)

// Option configures the tracker at Init.
type Option func(*tracker)

// WithAllocator sets the guarded pool the tracker constructs primitives
// from. Defaults to pool.Default.
func WithAllocator(a pool.Allocator) Option {
	return func(t *tracker) {
		if a != nil {
			t.alloc = a
		}
	}
}

// WithSpanManager enables tracing of tracker operations.
func WithSpanManager(s observability.SpanManager) Option {
	return func(t *tracker) {
		if s != nil {
			t.spans = s
		}
	}
}

// WithLogger enables structured logging of tracker operations.
func WithLogger(l *slog.Logger) Option {
	return func(t *tracker) { t.logger = l }
}

// WithJournal enables best-effort journaling of lifecycle events.
// The tracker does not close the store; the owner does, after Destroy.
func WithJournal(j journal.Store) Option {
	return func(t *tracker) { t.journal = j }
}

// Init creates the process-wide tracker. It must be called exactly once,
// before any other tracker operation. A second call returns
// ErrAlreadyInitialized; a call after Destroy returns ErrDestroyed.
func Init(opts ...Option) error {
	if destroyed.Load() {
		return ErrDestroyed
	}

	t := &tracker{
		entries: make(map[string]*entry),
		alloc:   pool.Default,
		spans:   observability.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(t)
	}

	if !global.CompareAndSwap(nil, t) {
		return ErrAlreadyInitialized
	}

	t.record(journal.KindInit, "", "")
	observability.LogRegistryOp(t.logger, "init", "", nil)
	return nil
}

// load returns the live tracker or the lifecycle error for its absence.
// The destroyed check comes first: after teardown every operation reports
// ErrDestroyed, never a stale reference.
func load() (*tracker, error) {
	if destroyed.Load() {
		return nil, ErrDestroyed
	}
	t := global.Load()
	if t == nil {
		return nil, ErrNotInitialized
	}
	return t, nil
}

// record journals an event, logging failures rather than propagating them.
func (t *tracker) record(kind, key, detail string) {
	if t.journal == nil {
		return
	}
	if err := t.journal.Record(context.Background(), journal.NewEvent(kind, key, detail)); err != nil {
		if t.logger != nil {
			t.logger.Warn("journal write failed",
				slog.String("kind", kind),
				slog.String("error", err.Error()),
			)
		}
	}
}

// register inserts a freshly built primitive under key, tearing the
// primitive down again if the key is taken so that a failed registration
// leaves no trace.
func register(t *tracker, key string, handle destroyer) error {
	_, span := t.spans.StartRegistryOpSpan(context.Background(), "register", key)

	t.mu.Lock()
	_, exists := t.entries[key]
	if !exists {
		t.entries[key] = &entry{typeName: fmt.Sprintf("%T", handle), handle: handle}
	}
	t.mu.Unlock()

	var err error
	if exists {
		// The primitive was never published; undo its allocation.
		_ = handle.Close()
		err = fmt.Errorf("register %q: %w", key, ErrKeyExists)
	}

	t.spans.EndSpanWithError(span, err)
	t.record(journal.KindRegister, key, errDetail(err))
	observability.LogRegistryOp(t.logger, "register", key, err)
	return err
}

// RegisterKMutex wraps value in a wait-based KMutex and inserts it under
// key. The value itself is passed, not a primitive; wrapping is automatic.
//
// Fails with ErrKeyExists if the key is taken, or propagates the pool
// allocation failure. Either way no shared state is mutated.
func RegisterKMutex[T any](key string, value T) error {
	t, err := load()
	if err != nil {
		return err
	}
	m, err := kguard.NewKMutexIn[T](t.alloc, value)
	if err != nil {
		t.record(journal.KindRegister, key, err.Error())
		return fmt.Errorf("register %q: %w", key, err)
	}
	return register(t, key, m)
}

// RegisterFastMutex wraps value in a spin-based FastMutex and inserts it
// under key. Otherwise identical to RegisterKMutex.
func RegisterFastMutex[T any](key string, value T) error {
	t, err := load()
	if err != nil {
		return err
	}
	m, err := kguard.NewFastMutexIn[T](t.alloc, value)
	if err != nil {
		t.record(journal.KindRegister, key, err.Error())
		return fmt.Errorf("register %q: %w", key, err)
	}
	return register(t, key, m)
}

// lookup fetches the raw entry for key.
func lookup(key string) (*tracker, *entry, error) {
	t, err := load()
	if err != nil {
		return nil, nil, err
	}

	t.mu.RLock()
	e, ok := t.entries[key]
	t.mu.RUnlock()

	if !ok {
		err := fmt.Errorf("get %q: %w", key, ErrKeyNotFound)
		t.record(journal.KindGet, key, err.Error())
		return t, nil, err
	}
	return t, e, nil
}

// GetKMutex retrieves the wait-based mutex registered under key with
// payload type T. The reference is borrowed: it stays valid until the entry
// is removed or the tracker destroyed, and callers must not retain it past
// those events.
//
// Fails with ErrKeyNotFound for an absent key and ErrTypeMismatch when the
// stored entry is not a KMutex[T].
func GetKMutex[T any](key string) (*kguard.KMutex[T], error) {
	t, e, err := lookup(key)
	if err != nil {
		return nil, err
	}
	m, ok := e.handle.(*kguard.KMutex[T])
	if !ok {
		err := &TypeMismatchError{
			Key:        key,
			Registered: e.typeName,
			Requested:  fmt.Sprintf("%T", (*kguard.KMutex[T])(nil)),
		}
		t.record(journal.KindGet, key, err.Error())
		observability.LogRegistryOp(t.logger, "get", key, err)
		return nil, err
	}
	return m, nil
}

// GetFastMutex retrieves the spin-based mutex registered under key with
// payload type T. Contract as GetKMutex.
func GetFastMutex[T any](key string) (*kguard.FastMutex[T], error) {
	t, e, err := lookup(key)
	if err != nil {
		return nil, err
	}
	m, ok := e.handle.(*kguard.FastMutex[T])
	if !ok {
		err := &TypeMismatchError{
			Key:        key,
			Registered: e.typeName,
			Requested:  fmt.Sprintf("%T", (*kguard.FastMutex[T])(nil)),
		}
		t.record(journal.KindGet, key, err.Error())
		observability.LogRegistryOp(t.logger, "get", key, err)
		return nil, err
	}
	return m, nil
}

// Remove deletes the entry under key and frees its primitive and payload
// storage. Callers must ensure no borrowed reference to the entry is still
// in use.
func Remove(key string) error {
	t, err := load()
	if err != nil {
		return err
	}

	_, span := t.spans.StartRegistryOpSpan(context.Background(), "remove", key)

	t.mu.Lock()
	e, ok := t.entries[key]
	if ok {
		delete(t.entries, key)
	}
	t.mu.Unlock()

	if !ok {
		err = fmt.Errorf("remove %q: %w", key, ErrKeyNotFound)
	} else {
		err = e.handle.Close()
	}

	t.spans.EndSpanWithError(span, err)
	t.record(journal.KindRemove, key, errDetail(err))
	observability.LogRegistryOp(t.logger, "remove", key, err)
	return err
}

// Keys returns the registered keys, sorted.
func Keys() ([]string, error) {
	t, err := load()
	if err != nil {
		return nil, err
	}

	t.mu.RLock()
	keys := make([]string, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	t.mu.RUnlock()

	sort.Strings(keys)
	return keys, nil
}

// Len returns the number of registered entries.
func Len() (int, error) {
	t, err := load()
	if err != nil {
		return 0, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries), nil
}

// Destroy tears the tracker down: every entry's primitive and payload
// storage is freed, then the table itself is dropped. It must be called at
// most once, during teardown of the owning process.
//
// The one-shot flag fires before any freeing, so a second Destroy, or any
// racing operation, returns ErrDestroyed and can never double-free.
func Destroy() error {
	if !destroyed.CompareAndSwap(false, true) {
		return ErrDestroyed
	}

	t := global.Swap(nil)
	if t == nil {
		return ErrNotInitialized
	}

	_, span := t.spans.StartRegistryOpSpan(context.Background(), "destroy", "")

	t.mu.Lock()
	entries := t.entries
	t.entries = nil
	t.mu.Unlock()

	var errs []error
	for key, e := range entries {
		if err := e.handle.Close(); err != nil {
			errs = append(errs, fmt.Errorf("destroy %q: %w", key, err))
		}
	}
	err := errors.Join(errs...)

	t.spans.EndSpanWithError(span, err)
	t.record(journal.KindDestroy, "", errDetail(err))
	observability.LogDestroy(t.logger, len(entries))
	return err
}

// Reset returns the tracker to the uninitialized state, freeing any
// registered entries. Test support only: production code initializes once
// and destroys once.
func Reset() {
	if t := global.Swap(nil); t != nil {
		t.mu.Lock()
		entries := t.entries
		t.entries = nil
		t.mu.Unlock()
		for _, e := range entries {
			_ = e.handle.Close()
		}
	}
	destroyed.Store(false)
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
