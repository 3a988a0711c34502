package runloop

import (
	"sync"
	"time"
)

// Clock abstracts wall-clock time for timer deadline computation, so tests
// can drive Timer firing deterministically instead of sleeping on the real
// system clock.
type Clock interface {
	// Now returns the current time as observed by this clock.
	Now() time.Time
}

// RealClock is the default Clock, backed by the system monotonic clock.
type RealClock struct{}

// Now returns time.Now().
func (RealClock) Now() time.Time { return time.Now() }

// ManualClock is a Clock whose value only changes when Advance or Set is
// called, for deterministic tests of periodic/one-shot Timer behavior
// without real sleeps.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a ManualClock starting at t.
func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{now: t}
}

// Now returns the clock's current value.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new value.
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set pins the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
