package kguard

import "errors"

// ErrMutexClosed is returned by operations on a primitive whose storage has
// been torn down, either by Close or by the global reference tracker.
var ErrMutexClosed = errors.New("mutex has been destroyed")

// ErrGuardReleased is returned by Unlock on a guard that already released
// its primitive. A guard releases at most once.
var ErrGuardReleased = errors.New("guard already released")

// ErrWouldBlock is returned by TryLock when the lock is currently held.
var ErrWouldBlock = errors.New("lock is held")
