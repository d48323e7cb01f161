// Package native provides the raw synchronization objects the mutex
// wrappers are built on: an exclusive-wait object and a spin lock.
//
// These are the collaborators the core consumes; they perform no priority
// validation of their own and give no fairness guarantee. Wakeup order on
// the wait object is whatever the Go runtime's channel scheduling provides
// (approximately FIFO, but unspecified); the spin lock grants the lock to
// whichever contender's test-and-set lands first.
package native

import (
	"runtime"
	"sync/atomic"
)

// DefaultSpinThreshold is the number of failed test-and-set attempts after
// which a spin acquisition yields the processor before spinning again.
const DefaultSpinThreshold = 100

// WaitObject is an exclusive-wait synchronization object. It is created
// signaled (available); Wait blocks the calling context until the object is
// signaled, consuming the signal; Signal makes it available again.
type WaitObject struct {
	sem      chan struct{}
	tornDown atomic.Bool
}

// NewWaitObject creates a wait object in the signaled state.
func NewWaitObject() *WaitObject {
	w := &WaitObject{sem: make(chan struct{}, 1)}
	w.sem <- struct{}{}
	return w
}

// Wait blocks until the object is signaled and consumes the signal.
// An unconditional wait: there is no timeout and no cancellation.
func (w *WaitObject) Wait() {
	<-w.sem
}

// TryWait consumes the signal if the object is currently signaled.
func (w *WaitObject) TryWait() bool {
	select {
	case <-w.sem:
		return true
	default:
		return false
	}
}

// Signal makes the object available, waking one waiter if any.
// Callers must hold the object; signaling an already-signaled object is a
// contract violation.
func (w *WaitObject) Signal() {
	if w.tornDown.Load() {
		return
	}
	select {
	case w.sem <- struct{}{}:
	default:
		// Already signaled. The ownership contract was violated upstream;
		// dropping the extra signal keeps the object consistent.
	}
}

// Teardown marks the object dead. Later signals are ignored.
// The object must not have waiters when torn down.
func (w *WaitObject) Teardown() {
	w.tornDown.Store(true)
}

// SpinLock is a busy-wait lock. Acquisition test-and-sets in a loop,
// yielding the processor after spinThreshold failed attempts so that a
// holder sharing the same processor can make progress.
type SpinLock struct {
	state atomic.Uint32
}

// Acquire spins until the lock is held by the caller.
func (l *SpinLock) Acquire(spinThreshold uint32) {
	if spinThreshold == 0 {
		spinThreshold = DefaultSpinThreshold
	}
	attempts := uint32(0)
	for !l.state.CompareAndSwap(0, 1) {
		attempts++
		if attempts >= spinThreshold {
			attempts = 0
			runtime.Gosched()
		}
	}
}

// TryAcquire attempts to take the lock without spinning and reports whether
// it succeeded.
func (l *SpinLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release relinquishes a held lock. Releasing a free lock has no effect.
func (l *SpinLock) Release() {
	l.state.Store(0)
}
