package idle

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerCoalescesBursts(t *testing.T) {
	var fired int64
	s := NewScheduler(50*time.Millisecond, func() {
		atomic.AddInt64(&fired, 1)
	})

	// Five rapid touches within the window collapse into one callback
	for i := 0; i < 5; i++ {
		s.Touch()
		time.Sleep(5 * time.Millisecond)
	}

	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&fired) == 1
	}, time.Second, 10*time.Millisecond)

	// Quiet period, no further fires
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(1), atomic.LoadInt64(&fired))
}

func TestSchedulerFlush(t *testing.T) {
	var fired int64
	s := NewScheduler(time.Hour, func() {
		atomic.AddInt64(&fired, 1)
	})

	s.Touch()
	require.True(t, s.Pending())

	s.Flush()
	assert.Equal(t, int64(1), atomic.LoadInt64(&fired))
	assert.False(t, s.Pending())

	// Flush without a pending callback is a no-op
	s.Flush()
	assert.Equal(t, int64(1), atomic.LoadInt64(&fired))
}

func TestSchedulerCancel(t *testing.T) {
	var fired int64
	s := NewScheduler(30*time.Millisecond, func() {
		atomic.AddInt64(&fired, 1)
	})

	s.Touch()
	s.Cancel()
	assert.False(t, s.Pending())

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int64(0), atomic.LoadInt64(&fired))
}

func TestSchedulerTouchAfterOverridesDelay(t *testing.T) {
	var fired int64
	s := NewScheduler(time.Hour, func() {
		atomic.AddInt64(&fired, 1)
	})

	s.TouchAfter(20 * time.Millisecond)
	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&fired) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSchedulerStaleTimerDoesNotFireEarly(t *testing.T) {
	var fired int64
	s := NewScheduler(time.Hour, func() {
		atomic.AddInt64(&fired, 1)
	})

	// First window elapses conceptually while a second Touch rearms; the
	// first timer's delivery must not collapse the fresh window.
	s.Touch()
	staleGen := s.gen
	s.Touch()

	s.fire(staleGen)
	assert.Equal(t, int64(0), atomic.LoadInt64(&fired))
	assert.True(t, s.Pending())

	s.Flush()
	assert.Equal(t, int64(1), atomic.LoadInt64(&fired))
}

func TestSchedulerTouchAfterFire(t *testing.T) {
	var fired int64
	s := NewScheduler(20*time.Millisecond, func() {
		atomic.AddInt64(&fired, 1)
	})

	s.Touch()
	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&fired) == 1
	}, time.Second, 5*time.Millisecond)

	// Scheduler is reusable after firing
	s.Touch()
	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&fired) == 2
	}, time.Second, 5*time.Millisecond)
}
