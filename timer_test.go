package runloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOneShotTimerInvalidatesAfterFire(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	var fired int
	timer := NewTimer(clock, 0, clock.Now().Add(time.Second), 0, func(tm *Timer) {
		fired++
	})
	require.True(t, timer.IsValid())

	timer.fire(clock.Now().Add(time.Second))

	assert.Equal(t, 1, fired)
	assert.False(t, timer.IsValid(), "a one-shot timer must invalidate itself after firing")
}

func TestPeriodicTimerRearmsByWholeIntervals(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	start := clock.Now()
	timer := NewTimer(clock, 0, start.Add(time.Second), time.Second, func(tm *Timer) {})

	// Simulate the callback running very late: the wall clock has moved on
	// two and a half intervals past the original deadline (3.5s after
	// start) by the time fire observes "now".
	clock.Advance(3*time.Second + 500*time.Millisecond)
	timer.fire(clock.Now())

	assert.True(t, timer.IsValid())
	// Rearm must land strictly after "now", advancing from the pre-fire
	// deadline by whole intervals rather than from the late firing time.
	assert.Equal(t, start.Add(4*time.Second), timer.Deadline())
}

func TestTimerSetNextFireDateOverridesRearm(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	start := clock.Now()
	override := start.Add(10 * time.Second)

	timer := NewTimer(clock, 0, start.Add(time.Second), time.Second, func(tm *Timer) {
		tm.SetNextFireDate(override)
	})

	timer.fire(start.Add(time.Second))

	assert.Equal(t, override, timer.Deadline())
}

func TestTimerSetNextFireDateIgnoredOutsideCallback(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	start := clock.Now()
	timer := NewTimer(clock, 0, start.Add(time.Second), time.Second, func(tm *Timer) {})

	timer.SetNextFireDate(start.Add(time.Hour))

	assert.Equal(t, start.Add(time.Second), timer.Deadline(), "SetNextFireDate outside a firing callback must be ignored")
}

func TestTimerSetNextFireDateIgnoredIfNotLater(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	start := clock.Now()
	deadline := start.Add(time.Second)

	timer := NewTimer(clock, 0, deadline, time.Second, func(tm *Timer) {
		tm.SetNextFireDate(deadline) // not strictly later than the pre-fire deadline
	})

	timer.fire(deadline)

	assert.Equal(t, deadline.Add(time.Second), timer.Deadline(), "a non-strictly-later override must be ignored, falling back to default rearm")
}

func TestTimerDueAt(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	start := clock.Now()
	timer := NewTimer(clock, 0, start.Add(time.Second), 0, func(tm *Timer) {})

	assert.False(t, timer.dueAt(start))
	assert.True(t, timer.dueAt(start.Add(time.Second)))
	assert.True(t, timer.dueAt(start.Add(2*time.Second)))
}

func TestTimerInvalidateRemovesFromModeAndRegistry(t *testing.T) {
	loop := New()
	clock := NewManualClock(time.Unix(0, 0))
	timer := NewTimer(clock, 0, clock.Now().Add(time.Second), 0, func(tm *Timer) {})
	loop.AddTimer(timer, ModeDefault)
	require.True(t, loop.ContainsTimer(timer, ModeDefault))

	timer.Invalidate()

	assert.False(t, loop.ContainsTimer(timer, ModeDefault))
	assert.False(t, timer.IsValid())

	globalTimerRegistry.mu.Lock()
	_, stillPresent := globalTimerRegistry.timers[timer.port]
	globalTimerRegistry.mu.Unlock()
	assert.False(t, stillPresent)
}
