package limiter

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseRespectsLimit(t *testing.T) {
	s := NewSemaphore(1)
	require.NoError(t, s.Acquire(context.Background(), 0))

	acquired := int32(0)
	go func() {
		_ = s.Acquire(context.Background(), 0)
		atomic.AddInt32(&acquired, 1)
	}()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&acquired), "second acquire should block while limit=1 is held")

	s.Release()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&acquired))
}

func TestAcquireTimeout(t *testing.T) {
	s := NewSemaphore(1)
	require.NoError(t, s.Acquire(context.Background(), 0))
	err := s.Acquire(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestSetLimitIncreaseWakesWaiters(t *testing.T) {
	s := NewSemaphore(1)
	require.NoError(t, s.Acquire(context.Background(), 0))

	done := make(chan struct{})
	go func() {
		_ = s.Acquire(context.Background(), 0)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	s.SetLimit(2)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("increasing the limit should wake the blocked waiter")
	}
}

func TestMaybeIdleReleasesAndReacquires(t *testing.T) {
	s := NewSemaphore(1)
	require.NoError(t, s.Acquire(context.Background(), 0))

	var otherAcquired bool
	err := s.MaybeIdle(context.Background(), func() error {
		require.NoError(t, s.Acquire(context.Background(), 50*time.Millisecond))
		otherAcquired = true
		s.Release()
		return nil
	})
	require.NoError(t, err)
	assert.True(t, otherAcquired, "MaybeIdle must free the permit while fn runs")
}
