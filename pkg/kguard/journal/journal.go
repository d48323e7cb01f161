// Package journal records global reference tracker lifecycle and
// refused-operation events for post-mortem analysis.
//
// Recording is optional and best-effort: the tracker treats journal errors
// as non-fatal. Two stores are provided: MemoryStore for tests and
// single-run tooling, SQLiteStore for durable single-process use.
package journal

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Event kinds. The registry kinds are recorded by the global reference
// tracker; lock.refusal is recorded by the primitives when a journal is
// installed. Retrievals are journaled only on failure.
const (
	KindInit     = "registry.init"
	KindRegister = "registry.register"
	KindGet      = "registry.get"
	KindRemove   = "registry.remove"
	KindDestroy  = "registry.destroy"
	KindRefusal  = "lock.refusal"
)

// ErrStoreClosed is returned by operations on a closed store.
var ErrStoreClosed = errors.New("journal store is closed")

// Event is one journal entry.
type Event struct {
	// ID uniquely identifies the event.
	ID string `json:"id"`

	// Time is when the event occurred, UTC.
	Time time.Time `json:"time"`

	// Kind is one of the Kind* constants.
	Kind string `json:"kind"`

	// Key is the registry key involved, if any.
	Key string `json:"key,omitempty"`

	// Detail carries kind-specific context, such as an error message.
	Detail string `json:"detail,omitempty"`
}

// NewEvent creates an event stamped with a fresh ID and the current time.
func NewEvent(kind, key, detail string) *Event {
	return &Event{
		ID:     uuid.New().String(),
		Time:   time.Now().UTC(),
		Kind:   kind,
		Key:    key,
		Detail: detail,
	}
}

// Store persists journal events. Implementations must be safe for
// concurrent use.
type Store interface {
	// Record appends an event.
	Record(ctx context.Context, evt *Event) error

	// List returns the most recent events, newest first. A limit of zero
	// means no limit.
	List(ctx context.Context, limit int) ([]*Event, error)

	// Close releases store resources. Later operations return
	// ErrStoreClosed.
	Close() error
}
