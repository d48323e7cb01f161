package native_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/kguard/pkg/kguard/native"
)

func TestWaitObject_CreatedSignaled(t *testing.T) {
	w := native.NewWaitObject()
	assert.True(t, w.TryWait(), "a fresh wait object must be signaled")
	assert.False(t, w.TryWait(), "the signal must be consumed by the first wait")
}

func TestWaitObject_SignalWakesWaiter(t *testing.T) {
	w := native.NewWaitObject()
	w.Wait()

	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("waiter ran before signal")
	case <-time.After(10 * time.Millisecond):
	}

	w.Signal()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by signal")
	}
}

func TestWaitObject_MutualExclusion(t *testing.T) {
	w := native.NewWaitObject()

	const workers = 16
	const iterations = 200
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				w.Wait()
				counter++
				w.Signal()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, workers*iterations, counter)
}

func TestWaitObject_SignalAfterTeardownIgnored(t *testing.T) {
	w := native.NewWaitObject()
	w.Wait()
	w.Teardown()

	w.Signal()
	assert.False(t, w.TryWait())
}

func TestSpinLock_TryAcquire(t *testing.T) {
	var l native.SpinLock

	assert.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())
	l.Release()
	assert.True(t, l.TryAcquire())
}

func TestSpinLock_MutualExclusion(t *testing.T) {
	var l native.SpinLock

	const workers = 16
	const iterations = 200
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				l.Acquire(native.DefaultSpinThreshold)
				counter++
				l.Release()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, workers*iterations, counter)
}

func TestSpinLock_ReleaseWhenFreeIsNoop(t *testing.T) {
	var l native.SpinLock
	l.Release()
	assert.True(t, l.TryAcquire())
}
