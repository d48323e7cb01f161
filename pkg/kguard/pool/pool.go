// Package pool provides the guarded (non-paged) pool allocator backing the
// mutex primitives.
//
// Blocks handed out by a pool represent memory that is guaranteed resident:
// pointers derived from a block stay valid for asynchronous and callback
// contexts that cannot tolerate page faults. Allocation failure is an
// explicit error, never a panic, and callers propagate it.
//
// The NonPagedPool implementation tracks every outstanding block so that
// double frees and leaks are detectable, and supports failure injection for
// exercising allocation-failure paths in tests.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/randalmurphal/kguard/pkg/kguard/observability"
)

// Tag is the four-character tag stamped on every block allocated for the
// mutex primitives.
const Tag = "kmtx"

// ErrAllocFailed is the sentinel for pool allocation failures.
// Use errors.Is to match; use errors.As with *AllocError for details.
var ErrAllocFailed = errors.New("guarded pool allocation failed")

// ErrNotOwned is returned by Free for a block the pool does not own,
// including blocks that have already been freed.
var ErrNotOwned = errors.New("block not owned by pool")

// AllocError reports a failed allocation.
type AllocError struct {
	// Size is the requested size in bytes.
	Size uintptr

	// Reason describes why the allocation failed.
	Reason string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *AllocError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("guarded pool allocation failed: %d bytes: %s: %v", e.Size, e.Reason, e.Err)
	}
	return fmt.Sprintf("guarded pool allocation failed: %d bytes: %s", e.Size, e.Reason)
}

// Unwrap exposes ErrAllocFailed and the underlying cause, so errors.Is
// matches either.
func (e *AllocError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrAllocFailed, e.Err}
	}
	return []error{ErrAllocFailed}
}

// Block is a fixed-lifetime allocation from a guarded pool.
// A Block is handed back to exactly the pool that allocated it, exactly once.
type Block struct {
	// ID uniquely identifies the block within its pool.
	ID string

	// Size is the usable size in bytes, rounded up to Align.
	Size uintptr

	// Align is the alignment the block was allocated with.
	Align uintptr

	// Tag is the pool tag the block was stamped with.
	Tag string
}

// Allocator allocates and frees fixed-lifetime resident memory blocks.
// Implementations must be safe for concurrent use.
type Allocator interface {
	// Allocate returns a new block of at least size bytes at the given
	// alignment, or an error wrapping ErrAllocFailed.
	Allocate(size, align uintptr) (*Block, error)

	// Free releases a block previously returned by Allocate. Callers must
	// not free a block twice.
	Free(b *Block) error
}

// NonPagedPool is the default Allocator. It accounts for every outstanding
// block, enforces an optional byte capacity, and detects double frees.
type NonPagedPool struct {
	mu       sync.Mutex
	capacity uintptr
	used     uintptr
	blocks   map[string]uintptr
	failHook func(size uintptr) error
	metrics  observability.MetricsRecorder
}

// Option configures a NonPagedPool.
type Option func(*NonPagedPool)

// WithCapacity bounds the pool at capacity bytes. Zero means unbounded.
func WithCapacity(capacity uintptr) Option {
	return func(p *NonPagedPool) { p.capacity = capacity }
}

// WithMetrics installs a metrics recorder for allocation accounting.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(p *NonPagedPool) {
		if m != nil {
			p.metrics = m
		}
	}
}

// New creates a NonPagedPool.
func New(opts ...Option) *NonPagedPool {
	p := &NonPagedPool{
		blocks:  make(map[string]uintptr),
		metrics: observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Default is the pool used by the mutex primitives unless a caller supplies
// its own allocator.
var Default = New()

// Allocate implements Allocator.
func (p *NonPagedPool) Allocate(size, align uintptr) (*Block, error) {
	if size == 0 {
		return nil, &AllocError{Size: size, Reason: "zero-size allocation"}
	}
	if align == 0 || align&(align-1) != 0 {
		return nil, &AllocError{Size: size, Reason: fmt.Sprintf("alignment %d is not a power of two", align)}
	}

	rounded := (size + align - 1) &^ (align - 1)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failHook != nil {
		if err := p.failHook(rounded); err != nil {
			p.metrics.RecordAllocation(context.Background(), int64(rounded), err)
			return nil, &AllocError{Size: rounded, Reason: "injected failure", Err: err}
		}
	}

	if p.capacity != 0 && p.used+rounded > p.capacity {
		err := &AllocError{
			Size:   rounded,
			Reason: fmt.Sprintf("pool exhausted: %d of %d bytes in use", p.used, p.capacity),
		}
		p.metrics.RecordAllocation(context.Background(), int64(rounded), err)
		return nil, err
	}

	b := &Block{
		ID:    uuid.New().String(),
		Size:  rounded,
		Align: align,
		Tag:   Tag,
	}
	p.blocks[b.ID] = rounded
	p.used += rounded

	p.metrics.RecordAllocation(context.Background(), int64(rounded), nil)
	return b, nil
}

// Free implements Allocator.
func (p *NonPagedPool) Free(b *Block) error {
	if b == nil {
		return fmt.Errorf("free nil block: %w", ErrNotOwned)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	size, ok := p.blocks[b.ID]
	if !ok {
		return fmt.Errorf("free block %s: %w", b.ID, ErrNotOwned)
	}
	delete(p.blocks, b.ID)
	p.used -= size

	p.metrics.RecordFree(context.Background(), int64(size))
	return nil
}

// InUse reports the number of outstanding blocks and bytes.
func (p *NonPagedPool) InUse() (blocks int, bytes uintptr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.blocks), p.used
}

// SetFailureHook installs a hook consulted before every allocation. A
// non-nil error from the hook fails the allocation with that error as the
// cause. Passing nil removes the hook. Intended for tests.
func (p *NonPagedPool) SetFailureHook(hook func(size uintptr) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failHook = hook
}
