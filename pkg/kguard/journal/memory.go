package journal

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store implementation.
// Suitable for testing and short-lived tooling.
type MemoryStore struct {
	mu     sync.RWMutex
	events []*Event
	closed bool
}

// NewMemoryStore creates a new in-memory journal store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Record appends an event.
func (s *MemoryStore) Record(_ context.Context, evt *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	clone := *evt
	s.events = append(s.events, &clone)
	return nil
}

// List returns the most recent events, newest first.
func (s *MemoryStore) List(_ context.Context, limit int) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	result := make([]*Event, 0, len(s.events))
	for i := len(s.events) - 1; i >= 0; i-- {
		if limit > 0 && len(result) == limit {
			break
		}
		clone := *s.events[i]
		result = append(result, &clone)
	}
	return result, nil
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
