/*
Package kguard provides mutual-exclusion primitives for code running in a
privileged, priority-level-sensitive execution environment, modeled on the
discipline kernel-mode drivers must follow: payload storage comes from a
guarded (non-paged) pool, every acquire and release is validated against the
current execution priority level, and access to the protected value flows
through a scoped guard that releases exactly once.

# Primitives

Two variants share one external contract:

  - KMutex[T] is wait-based: acquisition suspends the calling context until
    the native wait object signals. Legal at or below the APC level.
  - FastMutex[T] is spin-based: acquisition busy-polls without suspending.
    Legal at or below the stricter Dispatch level, where suspension is
    forbidden.

Construct a primitive with NewKMutex or NewFastMutex, which allocate the
payload's backing block from the guarded pool. Lock returns a guard; the
payload is reachable only through a live guard:

	mtx, err := kguard.NewKMutex(0)
	if err != nil {
	    return err
	}
	defer mtx.Close()

	guard, err := mtx.Lock()
	if err != nil {
	    return err
	}
	*guard.Value()++
	if err := guard.Unlock(); err != nil {
	    return err
	}

WithLock is the single-entry-point alternative that guarantees release on
every exit path, including panics in the body:

	err := mtx.WithLock(func(v *int) error {
	    *v++
	    return nil
	})

# Sharing across execution contexts

Package grt holds a process-wide, string-keyed store of primitives so that
independently scheduled callbacks can retrieve a shared mutex by key without
manual lifetime bookkeeping. See the grt package documentation.

# Errors

A lock or unlock attempted above the variant's priority ceiling fails with
an error matching irql.ErrTooHigh and leaves all state unchanged. Allocation
failures match pool.ErrAllocFailed. Operations on a destroyed primitive fail
with ErrMutexClosed. No operation panics and none terminates the process.

# Ordering

Acquisition order under contention is whatever the native primitive
provides; kguard adds no fairness layer. The wait-based variant inherits the
Go runtime's channel wakeup behavior, which is approximately FIFO but not
guaranteed.
*/
package kguard
