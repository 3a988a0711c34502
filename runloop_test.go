package runloop

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestObserverOrderingAcrossSubmodes verifies observers registered across
// a mode and its sub-modes fire in a single, globally deterministic order
// for one phase of one iteration.
func TestObserverOrderingAcrossSubmodes(t *testing.T) {
	loop := New()

	var mu sync.Mutex
	var fired []string

	record := func(name string) ObserverCallback {
		return func(Activity) {
			mu.Lock()
			fired = append(fired, name)
			mu.Unlock()
		}
	}

	sub := NewObserver(1, ActivityBeforeSources, true, record("sub"))
	parentLow := NewObserver(0, ActivityBeforeSources, true, record("parent-low"))
	parentHigh := NewObserver(5, ActivityBeforeSources, true, record("parent-high"))

	loop.AddObserver(sub, "child")
	loop.AddObserver(parentLow, ModeDefault)
	loop.AddObserver(parentHigh, ModeDefault)

	parentMode := loop.getOrCreateMode(ModeDefault)
	parentMode.addSubMode("child")

	src := NewManualSource(0, func() { loop.Stop() })
	loop.AddSource(src, ModeDefault)
	src.Signal()

	result, err := loop.RunInMode(ModeDefault, 1, false)
	require.NoError(t, err)
	assert.Equal(t, ResultStopped, result)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, fired, 3)
	assert.Equal(t, []string{"parent-low", "sub", "parent-high"}, fired)
}

// TestPeriodicTimerDriftFree verifies a periodic timer's successive
// deadlines advance by whole intervals from its own prior deadline, not
// from the time the callback happened to run, so a slow callback does not
// accumulate drift.
func TestPeriodicTimerDriftFree(t *testing.T) {
	clock := NewManualClock(time.Unix(1000, 0))
	loop := New(WithClock(clock))

	start := clock.Now()
	var fireCount int
	var lastDeadline time.Time

	timer := NewTimer(clock, 0, start.Add(time.Second), time.Second, func(tm *Timer) {
		fireCount++
		lastDeadline = tm.Deadline()
		if fireCount >= 3 {
			loop.Stop()
		}
	})
	loop.AddTimer(timer, ModeDefault)

	keepAlive := NewManualSource(0, func() {})
	loop.AddSource(keepAlive, ModeDefault)

	go func() {
		for i := 0; i < 3; i++ {
			clock.Advance(time.Second)
			loop.WakeUp()
			time.Sleep(5 * time.Millisecond)
		}
	}()

	result, err := loop.RunInMode(ModeDefault, 5, false)
	require.NoError(t, err)
	assert.Equal(t, ResultStopped, result)
	assert.Equal(t, 3, fireCount)
	assert.Equal(t, start.Add(3*time.Second), lastDeadline)
}

// TestCommonModeFanOut verifies a source added to "common" is replicated
// into a mode marked common after the fact via AddCommonMode, and fires
// when that mode is run.
func TestCommonModeFanOut(t *testing.T) {
	loop := New()

	fired := make(chan struct{}, 1)
	src := NewManualSource(0, func() {
		fired <- struct{}{}
		loop.Stop()
	})
	loop.AddSource(src, ModeCommon)

	loop.AddCommonMode("alt")
	require.True(t, loop.ContainsSource(src, "alt"))

	src.Signal()

	result, err := loop.RunInMode("alt", 1, false)
	require.NoError(t, err)
	assert.Equal(t, ResultStopped, result)

	select {
	case <-fired:
	default:
		t.Fatal("expected source to have fired in the newly-common mode")
	}
}

// TestCrossThreadWake verifies a goroutine other than the one driving
// RunInMode can call Stop, whose wake-up promptly returns the blocked call
// rather than leaving it parked until its deadline.
func TestCrossThreadWake(t *testing.T) {
	loop := New()
	keepAlive := NewManualSource(0, func() {})
	loop.AddSource(keepAlive, ModeDefault)

	go func() {
		time.Sleep(10 * time.Millisecond)
		loop.Stop()
	}()

	start := time.Now()
	result, err := loop.RunInMode(ModeDefault, 5, false)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, ResultStopped, result)
	assert.Less(t, elapsed, 2*time.Second)
}

// TestReturnAfterHandled verifies that with returnAfterHandled set, the
// first signalled source runs and the call returns HandledSource
// immediately, leaving a second signalled source for the next call.
func TestReturnAfterHandled(t *testing.T) {
	loop := New()

	var ran []int
	s1 := NewManualSource(1, func() { ran = append(ran, 1) })
	s2 := NewManualSource(2, func() { ran = append(ran, 2) })
	loop.AddSource(s1, ModeDefault)
	loop.AddSource(s2, ModeDefault)

	s1.Signal()
	s2.Signal()

	result, err := loop.RunInMode(ModeDefault, 1, true)
	require.NoError(t, err)
	assert.Equal(t, ResultHandledSource, result)
	assert.Equal(t, []int{1}, ran)

	s2.mu.Lock()
	stillSignalled := s2.signalled
	s2.mu.Unlock()
	assert.True(t, stillSignalled, "second source must remain signalled for the next call")

	result, err = loop.RunInMode(ModeDefault, 1, true)
	require.NoError(t, err)
	assert.Equal(t, ResultHandledSource, result)
	assert.Equal(t, []int{1, 2}, ran)
}

// TestEmptyModeTermination verifies that once a mode's last item
// invalidates itself mid-dispatch, the mode is empty and the iteration
// loop reports Finished rather than waiting forever.
func TestEmptyModeTermination(t *testing.T) {
	loop := New()

	var src *Source
	src = NewManualSource(0, func() {
		src.Invalidate()
	})
	loop.AddSource(src, ModeDefault)
	src.Signal()

	result, err := loop.RunInMode(ModeDefault, 1, false)
	require.NoError(t, err)
	assert.Equal(t, ResultFinished, result)
}

func TestRunInModeRejectsUnknownMode(t *testing.T) {
	loop := New()
	_, err := loop.RunInMode("nonexistent", 1, false)
	assert.ErrorIs(t, err, ErrModeNotFound)
}

func TestRunInModeRejectsEmptyMode(t *testing.T) {
	loop := New()
	loop.getOrCreateMode(ModeDefault)
	_, err := loop.RunInMode(ModeDefault, 1, false)
	assert.ErrorIs(t, err, ErrModeEmpty)
}

func TestRunInModeRejectsOtherGoroutine(t *testing.T) {
	loop := New()
	src := NewManualSource(0, func() {})
	loop.AddSource(src, ModeDefault)

	errCh := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := loop.RunInMode(ModeDefault, 0, false)
		errCh <- err
	}()
	<-done

	_, err := loop.RunInMode(ModeDefault, 0, false)
	assert.ErrorIs(t, err, ErrReentrantRunOnOtherThread)
}

func TestTimedOutResult(t *testing.T) {
	loop := New()
	keepAlive := NewManualSource(0, func() {})
	loop.AddSource(keepAlive, ModeDefault)

	result, err := loop.RunInMode(ModeDefault, 0.02, false)
	require.NoError(t, err)
	assert.Equal(t, ResultTimedOut, result)
}

func TestCurrentReturnsSameLoopPerGoroutine(t *testing.T) {
	l1 := Current()
	l2 := Current()
	assert.Same(t, l1, l2)

	other := make(chan *Loop, 1)
	go func() { other <- Current() }()
	l3 := <-other
	assert.NotSame(t, l1, l3)
}
