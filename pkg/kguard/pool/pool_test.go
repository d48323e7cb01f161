package pool_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/kguard/pkg/kguard/pool"
)

func TestAllocate(t *testing.T) {
	p := pool.New()

	b, err := p.Allocate(24, 8)
	require.NoError(t, err)
	require.NotNil(t, b)

	assert.NotEmpty(t, b.ID)
	assert.Equal(t, uintptr(24), b.Size)
	assert.Equal(t, uintptr(8), b.Align)
	assert.Equal(t, pool.Tag, b.Tag)

	blocks, bytes := p.InUse()
	assert.Equal(t, 1, blocks)
	assert.Equal(t, uintptr(24), bytes)
}

func TestAllocate_RoundsUpToAlignment(t *testing.T) {
	p := pool.New()

	b, err := p.Allocate(10, 8)
	require.NoError(t, err)
	assert.Equal(t, uintptr(16), b.Size)
}

func TestAllocate_Validation(t *testing.T) {
	p := pool.New()

	t.Run("zero size", func(t *testing.T) {
		_, err := p.Allocate(0, 8)
		assert.ErrorIs(t, err, pool.ErrAllocFailed)
	})

	t.Run("bad alignment", func(t *testing.T) {
		_, err := p.Allocate(8, 3)
		assert.ErrorIs(t, err, pool.ErrAllocFailed)
	})
}

func TestAllocate_CapacityExhausted(t *testing.T) {
	p := pool.New(pool.WithCapacity(64))

	b1, err := p.Allocate(48, 8)
	require.NoError(t, err)

	_, err = p.Allocate(32, 8)
	require.Error(t, err)
	assert.ErrorIs(t, err, pool.ErrAllocFailed)

	var allocErr *pool.AllocError
	require.ErrorAs(t, err, &allocErr)
	assert.Equal(t, uintptr(32), allocErr.Size)

	// A failed allocation retains nothing.
	blocks, bytes := p.InUse()
	assert.Equal(t, 1, blocks)
	assert.Equal(t, uintptr(48), bytes)

	// Freeing makes room again.
	require.NoError(t, p.Free(b1))
	_, err = p.Allocate(32, 8)
	assert.NoError(t, err)
}

func TestFree(t *testing.T) {
	p := pool.New()

	b, err := p.Allocate(16, 8)
	require.NoError(t, err)

	require.NoError(t, p.Free(b))
	blocks, bytes := p.InUse()
	assert.Equal(t, 0, blocks)
	assert.Equal(t, uintptr(0), bytes)
}

func TestFree_DoubleFreeDetected(t *testing.T) {
	p := pool.New()

	b, err := p.Allocate(16, 8)
	require.NoError(t, err)
	require.NoError(t, p.Free(b))

	err = p.Free(b)
	assert.ErrorIs(t, err, pool.ErrNotOwned)
}

func TestFree_ForeignBlock(t *testing.T) {
	p1 := pool.New()
	p2 := pool.New()

	b, err := p1.Allocate(16, 8)
	require.NoError(t, err)

	assert.ErrorIs(t, p2.Free(b), pool.ErrNotOwned)
	assert.ErrorIs(t, p2.Free(nil), pool.ErrNotOwned)
}

func TestFailureInjection(t *testing.T) {
	p := pool.New()

	boom := errors.New("simulated pressure")
	p.SetFailureHook(func(size uintptr) error { return boom })

	_, err := p.Allocate(16, 8)
	require.Error(t, err)
	assert.ErrorIs(t, err, pool.ErrAllocFailed)
	assert.ErrorIs(t, err, boom)

	// Nothing leaked by the failed attempt.
	blocks, bytes := p.InUse()
	assert.Equal(t, 0, blocks)
	assert.Equal(t, uintptr(0), bytes)

	// Clearing the hook restores service.
	p.SetFailureHook(nil)
	_, err = p.Allocate(16, 8)
	assert.NoError(t, err)
}

func TestAllocError_Message(t *testing.T) {
	err := &pool.AllocError{Size: 64, Reason: "pool exhausted"}
	assert.Contains(t, err.Error(), "64")
	assert.Contains(t, err.Error(), "pool exhausted")
}
