package kguard

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/randalmurphal/kguard/pkg/kguard/irql"
	"github.com/randalmurphal/kguard/pkg/kguard/native"
	"github.com/randalmurphal/kguard/pkg/kguard/observability"
	"github.com/randalmurphal/kguard/pkg/kguard/pool"
)

// spinThreshold is the number of failed spin attempts before a FastMutex
// acquisition yields the processor. See SetSpinThreshold.
var spinThreshold atomic.Uint32

func init() {
	spinThreshold.Store(native.DefaultSpinThreshold)
}

// SetSpinThreshold tunes how many failed test-and-set attempts a FastMutex
// acquisition makes before yielding the processor and spinning again.
// Zero restores the default.
func SetSpinThreshold(n uint32) {
	if n == 0 {
		n = native.DefaultSpinThreshold
	}
	spinThreshold.Store(n)
}

// fastMutexInner holds the native spin lock and the protected payload,
// sharing one guarded-pool backed lifetime.
type fastMutexInner[T any] struct {
	object native.SpinLock
	data   T
}

// FastMutex is the spin-based mutex primitive. Acquisition busy-polls the
// native spin lock instead of suspending the calling context, which makes
// it legal at the Dispatch priority level where blocking is forbidden.
//
// Otherwise the contract matches KMutex: guarded-pool payload storage,
// scoped guards, release at or below Dispatch, one-shot teardown with
// Close. The zero value is not usable; construct with NewFastMutex.
type FastMutex[T any] struct {
	alloc  pool.Allocator
	block  *pool.Block
	inner  *fastMutexInner[T]
	closed oneShot
}

// NewFastMutex creates a spin-based mutex protecting data, with storage
// from the default guarded pool. The primitive starts unlocked.
//
// Legal at or below the Dispatch priority level. On allocation failure the
// error matches pool.ErrAllocFailed and nothing is retained.
func NewFastMutex[T any](data T) (*FastMutex[T], error) {
	return NewFastMutexIn[T](pool.Default, data)
}

// NewFastMutexIn is NewFastMutex with an explicit allocator.
func NewFastMutexIn[T any](alloc pool.Allocator, data T) (*FastMutex[T], error) {
	if err := irql.Check(irql.Dispatch); err != nil {
		return nil, fmt.Errorf("create fast mutex: %w", err)
	}

	inner := &fastMutexInner[T]{data: data}
	block, err := alloc.Allocate(unsafe.Sizeof(*inner), unsafe.Alignof(*inner))
	if err != nil {
		return nil, fmt.Errorf("create fast mutex: %w", err)
	}

	return &FastMutex[T]{alloc: alloc, block: block, inner: inner}, nil
}

// Lock acquires the mutex by spinning and returns a guard granting
// exclusive access to the payload. At most one guard is live at any
// instant.
//
// The current priority level is validated first; above Dispatch the native
// object is never touched and the returned error matches irql.ErrTooHigh.
// Once validation passes the spin is an unconditional commitment.
func (m *FastMutex[T]) Lock() (*FastMutexGuard[T], error) {
	if m.closed.done() {
		return nil, ErrMutexClosed
	}
	if err := irql.Check(irql.Dispatch); err != nil {
		metrics().RecordAcquire(context.Background(), variantFastMutex, 0, err)
		observability.LogAcquireRefused(logHandle(), variantFastMutex, err)
		recordRefusal(variantFastMutex, err)
		return nil, fmt.Errorf("lock fast mutex: %w", err)
	}

	start := time.Now()
	m.inner.object.Acquire(spinThreshold.Load())
	wait := time.Since(start)

	metrics().RecordAcquire(context.Background(), variantFastMutex, wait, nil)
	observability.LogAcquire(logHandle(), variantFastMutex, float64(wait.Microseconds())/1000.0)
	return &FastMutexGuard[T]{m: m}, nil
}

// TryLock acquires the mutex only if it is immediately free. When the lock
// is held it returns ErrWouldBlock without spinning. Priority validation is
// the same as Lock.
func (m *FastMutex[T]) TryLock() (*FastMutexGuard[T], error) {
	if m.closed.done() {
		return nil, ErrMutexClosed
	}
	if err := irql.Check(irql.Dispatch); err != nil {
		metrics().RecordAcquire(context.Background(), variantFastMutex, 0, err)
		observability.LogAcquireRefused(logHandle(), variantFastMutex, err)
		recordRefusal(variantFastMutex, err)
		return nil, fmt.Errorf("try-lock fast mutex: %w", err)
	}
	if !m.inner.object.TryAcquire() {
		return nil, ErrWouldBlock
	}
	metrics().RecordAcquire(context.Background(), variantFastMutex, 0, nil)
	return &FastMutexGuard[T]{m: m}, nil
}

// WithLock acquires the mutex, runs fn against the payload, and releases on
// every exit path, including a panic in fn.
func (m *FastMutex[T]) WithLock(fn func(*T) error) (err error) {
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
// returns the copy. The primitive keeps its payload and remains lockable.
//
// The copy is a shallow value copy: payloads containing references share
// the referenced data with the original.
func (m *FastMutex[T]) ToOwned() (T, error) {
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

// ToOwnedPtr is ToOwned returning the copy behind a pointer.
func (m *FastMutex[T]) ToOwnedPtr() (*T, error) {
	v, err := m.ToOwned()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Close tears the primitive down, freeing the payload's backing block.
// Teardown is legal at or below Dispatch; above that the primitive is left
// intact and the error matches irql.ErrTooHigh. Close runs at most once;
// later calls and all later operations return ErrMutexClosed.
//
// Callers must not close a primitive while a guard is live.
func (m *FastMutex[T]) Close() error {
	if err := irql.Check(irql.Dispatch); err != nil {
		return fmt.Errorf("destroy fast mutex: %w", err)
	}
	if !m.closed.fire() {
		return ErrMutexClosed
	}
	if err := m.alloc.Free(m.block); err != nil {
		return fmt.Errorf("destroy fast mutex: %w", err)
	}
	return nil
}

// FastMutexGuard grants exclusive access to a FastMutex payload for its
// lifetime. It is produced only by a successful Lock or TryLock and
// releases the primitive exactly once, via Unlock.
type FastMutexGuard[T any] struct {
	m        *FastMutex[T]
	released oneShot
}

// Value returns the protected payload. The pointer is valid only until
// Unlock; after release Value returns nil.
func (g *FastMutexGuard[T]) Value() *T {
	if g.released.done() {
		return nil
	}
	return &g.m.inner.data
}

// Unlock re-validates the priority level and releases the mutex. Release is
// legal at or below Dispatch; above that the guard stays held and the error
// matches irql.ErrTooHigh.
//
// Unlock releases at most once. A second call returns ErrGuardReleased.
func (g *FastMutexGuard[T]) Unlock() error {
	if g.released.done() {
		return ErrGuardReleased
	}
	if g.m.closed.done() {
		return ErrMutexClosed
	}
	if err := irql.Check(irql.Dispatch); err != nil {
		metrics().RecordRelease(context.Background(), variantFastMutex, err)
		observability.LogReleaseRefused(logHandle(), variantFastMutex, err)
		recordRefusal(variantFastMutex, err)
		return fmt.Errorf("unlock fast mutex: %w", err)
	}
	if !g.released.fire() {
		return ErrGuardReleased
	}
	g.m.inner.object.Release()
	metrics().RecordRelease(context.Background(), variantFastMutex, nil)
	return nil
}

// String formats the protected payload, or reports the released state.
func (g *FastMutexGuard[T]) String() string {
	if g.released.done() {
		return "<released>"
	}
	return fmt.Sprint(g.m.inner.data)
}
