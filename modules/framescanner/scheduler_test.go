package framescanner_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/e7canasta/orion-scan/modules/framescanner"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestManualScheduler_FrameRunsOnce(t *testing.T) {
	s := framescanner.NewManualScheduler(epoch)

	var calls []time.Time
	s.RequestFrame(func(now time.Time) { calls = append(calls, now) })
	assert.Equal(t, 1, s.Pending())

	s.Advance(16 * time.Millisecond)
	s.Advance(16 * time.Millisecond)

	require.Len(t, calls, 1)
	assert.Equal(t, epoch.Add(16*time.Millisecond), calls[0])
	assert.Zero(t, s.Pending())
}

func TestManualScheduler_RequestInsideCallbackRunsNextTick(t *testing.T) {
	s := framescanner.NewManualScheduler(epoch)

	n := 0
	var loop framescanner.FrameFunc
	loop = func(time.Time) {
		n++
		s.RequestFrame(loop)
	}
	s.RequestFrame(loop)

	s.Advance(time.Millisecond)
	assert.Equal(t, 1, n)
	s.Advance(time.Millisecond)
	assert.Equal(t, 2, n)
}

func TestManualScheduler_AfterFuncOrderAndCancel(t *testing.T) {
	s := framescanner.NewManualScheduler(epoch)

	var order []string
	s.AfterFunc(30*time.Millisecond, func() { order = append(order, "b") })
	s.AfterFunc(10*time.Millisecond, func() { order = append(order, "a") })
	h := s.AfterFunc(20*time.Millisecond, func() { order = append(order, "cancelled") })
	s.Cancel(h)
	s.Cancel(h)
	s.Cancel(0)

	s.Advance(5 * time.Millisecond)
	assert.Empty(t, order)

	s.Advance(25 * time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestManualScheduler_ClockNeverGoesBack(t *testing.T) {
	s := framescanner.NewManualScheduler(epoch)
	s.Tick(epoch.Add(time.Second))
	s.Tick(epoch)
	assert.Equal(t, epoch.Add(time.Second), s.Now())
}

func TestRefreshScheduler_RunsCallbacks(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := framescanner.NewRefreshScheduler(200)
	defer s.Close()

	var frames, afters atomic.Int32
	s.RequestFrame(func(time.Time) { frames.Add(1) })
	s.AfterFunc(10*time.Millisecond, func() { afters.Add(1) })

	require.Eventually(t, func() bool {
		return frames.Load() == 1 && afters.Load() == 1
	}, time.Second, time.Millisecond)
	assert.Zero(t, s.Pending())
}

func TestRefreshScheduler_CancelledCallbacksNeverRun(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := framescanner.NewRefreshScheduler(200)
	defer s.Close()

	var ran atomic.Bool
	s.Cancel(s.RequestFrame(func(time.Time) { ran.Store(true) }))
	s.Cancel(s.AfterFunc(time.Millisecond, func() { ran.Store(true) }))

	time.Sleep(30 * time.Millisecond)
	assert.False(t, ran.Load())
}

func TestRefreshScheduler_CloseDropsPending(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := framescanner.NewRefreshScheduler(0)
	s.AfterFunc(time.Hour, func() {})
	s.RequestFrame(func(time.Time) {})

	s.Close()
	s.Close()
	assert.Zero(t, s.Pending())
}
