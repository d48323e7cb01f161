package kguard

import (
	"context"
	"fmt"
	"time"
	"unsafe"

	"github.com/randalmurphal/kguard/pkg/kguard/irql"
	"github.com/randalmurphal/kguard/pkg/kguard/native"
	"github.com/randalmurphal/kguard/pkg/kguard/observability"
	"github.com/randalmurphal/kguard/pkg/kguard/pool"
)

// kmutexInner holds the native wait object and the protected payload.
// Both share one lifetime: the guarded-pool block allocated at construction
// and freed at teardown.
type kmutexInner[T any] struct {
	object *native.WaitObject
	data   T
}

// KMutex is the wait-based mutex primitive. It exclusively owns a payload
// of type T whose backing storage is allocated from the guarded pool, and
// provides mutually exclusive access to it through scoped guards.
//
// Acquisition suspends the calling context until the native wait object
// signals, so Lock is legal only at or below the APC priority level.
// Release is legal at or below Dispatch.
//
// A KMutex is safe for concurrent use. It must be torn down exactly once
// with Close (or by the global reference tracker, for registered
// primitives), after which all operations return ErrMutexClosed. The zero
// value is not usable; construct with NewKMutex.
type KMutex[T any] struct {
	alloc  pool.Allocator
	block  *pool.Block
	inner  *kmutexInner[T]
	closed oneShot
}

// NewKMutex creates a wait-based mutex protecting data, with storage from
// the default guarded pool. The primitive starts unlocked.
//
// Legal at or below the Dispatch priority level. On allocation failure the
// error matches pool.ErrAllocFailed and nothing is retained.
func NewKMutex[T any](data T) (*KMutex[T], error) {
	return NewKMutexIn[T](pool.Default, data)
}

// NewKMutexIn is NewKMutex with an explicit allocator.
func NewKMutexIn[T any](alloc pool.Allocator, data T) (*KMutex[T], error) {
	if err := irql.Check(irql.Dispatch); err != nil {
		return nil, fmt.Errorf("create kmutex: %w", err)
	}

	inner := &kmutexInner[T]{data: data}
	block, err := alloc.Allocate(unsafe.Sizeof(*inner), unsafe.Alignof(*inner))
	if err != nil {
		return nil, fmt.Errorf("create kmutex: %w", err)
	}
	inner.object = native.NewWaitObject()

	return &KMutex[T]{alloc: alloc, block: block, inner: inner}, nil
}

// Lock acquires the mutex and returns a guard granting exclusive access to
// the payload. At most one guard is live at any instant.
//
// The current priority level is validated first; above APC the native
// object is never touched and the returned error matches irql.ErrTooHigh.
// Once validation passes the wait is unconditional: no timeout, no
// cancellation.
func (m *KMutex[T]) Lock() (*KMutexGuard[T], error) {
	if m.closed.done() {
		return nil, ErrMutexClosed
	}
	if err := irql.Check(irql.APC); err != nil {
		metrics().RecordAcquire(context.Background(), variantKMutex, 0, err)
		observability.LogAcquireRefused(logHandle(), variantKMutex, err)
		recordRefusal(variantKMutex, err)
		return nil, fmt.Errorf("lock kmutex: %w", err)
	}

	start := time.Now()
	m.inner.object.Wait()
	wait := time.Since(start)

	metrics().RecordAcquire(context.Background(), variantKMutex, wait, nil)
	observability.LogAcquire(logHandle(), variantKMutex, float64(wait.Microseconds())/1000.0)
	return &KMutexGuard[T]{m: m}, nil
}

// WithLock acquires the mutex, runs fn against the payload, and releases on
// every exit path, including a panic in fn. It is the single entry point to
// use when a scoped guard would be awkward to thread through the code.
func (m *KMutex[T]) WithLock(fn func(*T) error) (err error) {
	guard, lockErr := m.Lock()
	if lockErr != nil {
		return lockErr
	}
	defer func() {
		if uerr := guard.Unlock(); uerr != nil && err == nil {
			err = uerr
		}
	}()
	return fn(guard.Value())
}

// ToOwned acquires the lock, copies the payload, releases the lock, and
// returns the copy. The primitive keeps its payload and remains lockable;
// extraction never invalidates the source.
//
// The copy is a shallow value copy: payloads containing references share
// the referenced data with the original.
func (m *KMutex[T]) ToOwned() (T, error) {
	var zero T
	guard, err := m.Lock()
	if err != nil {
		return zero, err
	}
	v := *guard.Value()
	if err := guard.Unlock(); err != nil {
		return zero, err
	}
	return v, nil
}

// ToOwnedPtr is ToOwned returning the copy behind a pointer, for payloads
// too large to pass around by value.
func (m *KMutex[T]) ToOwnedPtr() (*T, error) {
	v, err := m.ToOwned()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Close tears the primitive down: the native wait object and the payload's
// backing block are freed. Teardown is legal at or below Dispatch; above
// that the primitive is left intact and the error matches irql.ErrTooHigh.
// Close runs at most once; later calls and all later operations return
// ErrMutexClosed.
//
// Callers must not close a primitive while a guard is live.
func (m *KMutex[T]) Close() error {
	if err := irql.Check(irql.Dispatch); err != nil {
		return fmt.Errorf("destroy kmutex: %w", err)
	}
	if !m.closed.fire() {
		return ErrMutexClosed
	}
	m.inner.object.Teardown()
	if err := m.alloc.Free(m.block); err != nil {
		return fmt.Errorf("destroy kmutex: %w", err)
	}
	return nil
}

// KMutexGuard grants exclusive access to a KMutex payload for its lifetime.
// It is produced only by a successful Lock and releases the primitive
// exactly once, via Unlock.
type KMutexGuard[T any] struct {
	m        *KMutex[T]
	released oneShot
}

// Value returns the protected payload. The pointer is valid only until
// Unlock; after release Value returns nil.
func (g *KMutexGuard[T]) Value() *T {
	if g.released.done() {
		return nil
	}
	return &g.m.inner.data
}

// Unlock re-validates the priority level and releases the mutex. Release is
// legal at or below Dispatch; above that the guard stays held and the error
// matches irql.ErrTooHigh, so the caller can retry at a legal level.
//
// Unlock releases at most once. A second call returns ErrGuardReleased.
func (g *KMutexGuard[T]) Unlock() error {
	if g.released.done() {
		return ErrGuardReleased
	}
	if g.m.closed.done() {
		return ErrMutexClosed
	}
	if err := irql.Check(irql.Dispatch); err != nil {
		metrics().RecordRelease(context.Background(), variantKMutex, err)
		observability.LogReleaseRefused(logHandle(), variantKMutex, err)
		recordRefusal(variantKMutex, err)
		return fmt.Errorf("unlock kmutex: %w", err)
	}
	if !g.released.fire() {
		return ErrGuardReleased
	}
	g.m.inner.object.Signal()
	metrics().RecordRelease(context.Background(), variantKMutex, nil)
	return nil
}

// String formats the protected payload. Reading through String while the
// guard is live is safe; after release it reports the released state.
func (g *KMutexGuard[T]) String() string {
	if g.released.done() {
		return "<released>"
	}
	return fmt.Sprint(g.m.inner.data)
}
