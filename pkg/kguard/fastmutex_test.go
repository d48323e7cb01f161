package kguard_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/kguard/pkg/kguard"
	"github.com/randalmurphal/kguard/pkg/kguard/irql"
	"github.com/randalmurphal/kguard/pkg/kguard/pool"
)

func TestFastMutex_RoundTrip(t *testing.T) {
	irql.SetLevel(irql.Passive)

	mtx, err := kguard.NewFastMutex(uint64(0))
	require.NoError(t, err)
	defer mtx.Close()

	guard, err := mtx.Lock()
	require.NoError(t, err)
	*guard.Value()++
	require.NoError(t, guard.Unlock())

	v, err := mtx.ToOwned()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)
}

func TestFastMutex_MutualExclusion(t *testing.T) {
	irql.SetLevel(irql.Passive)

	mtx, err := kguard.NewFastMutex(0)
	require.NoError(t, err)
	defer mtx.Close()

	const workers = 16
	const iterations = 100

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				guard, err := mtx.Lock()
				if err != nil {
					t.Error(err)
					return
				}
				*guard.Value()++
				if err := guard.Unlock(); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	final, err := mtx.ToOwned()
	require.NoError(t, err)
	assert.Equal(t, workers*iterations, final)
}

func TestFastMutex_LockLegalAtDispatch(t *testing.T) {
	irql.SetLevel(irql.Passive)

	mtx, err := kguard.NewFastMutex(0)
	require.NoError(t, err)
	defer mtx.Close()

	// The spin variant has a stricter ceiling than the wait variant:
	// Dispatch is legal here.
	restore := irql.Raise(irql.Dispatch)
	defer restore()

	guard, err := mtx.Lock()
	require.NoError(t, err)
	require.NoError(t, guard.Unlock())
}

func TestFastMutex_LockRefusedAboveDispatch(t *testing.T) {
	irql.SetLevel(irql.Passive)

	mtx, err := kguard.NewFastMutex(0)
	require.NoError(t, err)
	defer mtx.Close()

	restore := irql.Raise(irql.High)
	_, err = mtx.Lock()
	restore()

	require.Error(t, err)
	assert.ErrorIs(t, err, irql.ErrTooHigh)

	guard, err := mtx.Lock()
	require.NoError(t, err)
	require.NoError(t, guard.Unlock())
}

func TestFastMutex_TryLock(t *testing.T) {
	irql.SetLevel(irql.Passive)

	mtx, err := kguard.NewFastMutex(0)
	require.NoError(t, err)
	defer mtx.Close()

	guard, err := mtx.TryLock()
	require.NoError(t, err)

	_, err = mtx.TryLock()
	assert.ErrorIs(t, err, kguard.ErrWouldBlock)

	require.NoError(t, guard.Unlock())

	guard, err = mtx.TryLock()
	require.NoError(t, err)
	require.NoError(t, guard.Unlock())
}

func TestFastMutex_AllocationFailure(t *testing.T) {
	irql.SetLevel(irql.Passive)

	p := pool.New()
	p.SetFailureHook(func(uintptr) error { return errors.New("no memory") })

	_, err := kguard.NewFastMutexIn(p, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, pool.ErrAllocFailed)

	blocks, _ := p.InUse()
	assert.Equal(t, 0, blocks)
}

func TestFastMutex_Close(t *testing.T) {
	irql.SetLevel(irql.Passive)

	p := pool.New()
	mtx, err := kguard.NewFastMutexIn(p, 0)
	require.NoError(t, err)

	require.NoError(t, mtx.Close())
	assert.ErrorIs(t, mtx.Close(), kguard.ErrMutexClosed)

	_, err = mtx.Lock()
	assert.ErrorIs(t, err, kguard.ErrMutexClosed)
	_, err = mtx.TryLock()
	assert.ErrorIs(t, err, kguard.ErrMutexClosed)

	blocks, _ := p.InUse()
	assert.Equal(t, 0, blocks)
}

func TestFastMutex_WithLock(t *testing.T) {
	irql.SetLevel(irql.Passive)

	mtx, err := kguard.NewFastMutex([]string(nil))
	require.NoError(t, err)
	defer mtx.Close()

	for _, s := range []string{"a", "b", "c"} {
		err := mtx.WithLock(func(v *[]string) error {
			*v = append(*v, s)
			return nil
		})
		require.NoError(t, err)
	}

	v, err := mtx.ToOwned()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, v)
}

func TestFastMutexGuard_UnlockOnce(t *testing.T) {
	irql.SetLevel(irql.Passive)

	mtx, err := kguard.NewFastMutex(0)
	require.NoError(t, err)
	defer mtx.Close()

	guard, err := mtx.Lock()
	require.NoError(t, err)

	require.NoError(t, guard.Unlock())
	assert.ErrorIs(t, guard.Unlock(), kguard.ErrGuardReleased)
	assert.Nil(t, guard.Value())
}

func TestSetSpinThreshold(t *testing.T) {
	irql.SetLevel(irql.Passive)

	kguard.SetSpinThreshold(4)
	defer kguard.SetSpinThreshold(0)

	mtx, err := kguard.NewFastMutex(0)
	require.NoError(t, err)
	defer mtx.Close()

	// Contended acquisition still succeeds with a tiny spin threshold.
	guard, err := mtx.Lock()
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		g, err := mtx.Lock()
		if err != nil {
			done <- err
			return
		}
		done <- g.Unlock()
	}()

	require.NoError(t, guard.Unlock())
	require.NoError(t, <-done)
}
