// Package irql models the execution priority level of the calling context
// and validates it against per-primitive ceilings.
//
// A Level is an ordinal: the higher the level, the more restricted the
// context. Blocking waits are legal only at or below APC; spin acquisition
// and release are legal at or below Dispatch.
//
// The level source is pluggable. The default querier reads a process-wide
// simulated level that tests and userspace hosts drive with Raise or
// SetLevel; an embedding host can install its own querier with SetQuerier
// to read the real hardware level.
package irql

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// Level is an execution priority level ordinal.
type Level uint8

// Priority levels, lowest to highest.
const (
	// Passive is the normal thread execution level.
	Passive Level = 0

	// APC is the asynchronous procedure call level. This is the highest
	// level at which a blocking wait is legal.
	APC Level = 1

	// Dispatch is the dispatcher/scheduler level. This is the highest
	// level at which spin acquisition and lock release are legal.
	Dispatch Level = 2

	// High is the maximum level. No lock operation is legal here.
	High Level = 15
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case Passive:
		return "passive"
	case APC:
		return "apc"
	case Dispatch:
		return "dispatch"
	case High:
		return "high"
	default:
		return fmt.Sprintf("level(%d)", uint8(l))
	}
}

// ParseLevel converts a level name ("passive", "apc", "dispatch", "high")
// to its ordinal.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "passive":
		return Passive, nil
	case "apc":
		return APC, nil
	case "dispatch":
		return Dispatch, nil
	case "high":
		return High, nil
	default:
		return Passive, fmt.Errorf("unknown priority level %q", s)
	}
}

// ErrTooHigh is the sentinel for priority-level violations.
// Use errors.Is to match; use errors.As with *TooHighError for details.
var ErrTooHigh = errors.New("priority level too high")

// TooHighError reports a priority-level violation: the observed level and
// the ceiling the operation required.
type TooHighError struct {
	// Current is the level observed at the time of the check.
	Current Level

	// Max is the highest level at which the operation is legal.
	Max Level
}

// Error implements the error interface.
func (e *TooHighError) Error() string {
	return fmt.Sprintf("priority level too high: at %s, operation requires <= %s", e.Current, e.Max)
}

// Unwrap returns ErrTooHigh so errors.Is(err, ErrTooHigh) matches.
func (e *TooHighError) Unwrap() error {
	return ErrTooHigh
}

// QueryFunc reports the current execution priority level.
type QueryFunc func() Level

// simulated is the process-wide level read by the default querier.
var simulated atomic.Uint32

// querier holds the installed QueryFunc. Never nil.
var querier atomic.Pointer[QueryFunc]

func init() {
	q := QueryFunc(func() Level { return Level(simulated.Load()) })
	querier.Store(&q)
}

// SetQuerier installs the level source consulted by Current and Check.
// Passing nil restores the default simulated querier.
func SetQuerier(q QueryFunc) {
	if q == nil {
		q = func() Level { return Level(simulated.Load()) }
	}
	querier.Store(&q)
}

// Current returns the execution priority level reported by the installed
// querier. Pure query; no side effects.
func Current() Level {
	return (*querier.Load())()
}

// Check validates that the current level does not exceed max. It returns
// nil when the operation is legal, or a *TooHighError carrying the observed
// level and the ceiling. Deterministic given the current level.
func Check(max Level) error {
	if cur := Current(); cur > max {
		return &TooHighError{Current: cur, Max: max}
	}
	return nil
}

// SetLevel sets the simulated level read by the default querier.
// It has no effect on the observed level while a custom querier is installed.
func SetLevel(l Level) {
	simulated.Store(uint32(l))
}

// Raise sets the simulated level and returns a function restoring the
// previous one. Intended for tests and userspace hosts:
//
//	restore := irql.Raise(irql.Dispatch)
//	defer restore()
func Raise(l Level) (restore func()) {
	prev := Level(simulated.Swap(uint32(l)))
	return func() { simulated.Store(uint32(prev)) }
}
