package runloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClockAdvance(t *testing.T) {
	start := time.Unix(1000, 0)
	clock := NewManualClock(start)

	assert.Equal(t, start, clock.Now())

	next := clock.Advance(5 * time.Second)
	assert.Equal(t, start.Add(5*time.Second), next)
	assert.Equal(t, start.Add(5*time.Second), clock.Now())
}

func TestManualClockSet(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	target := time.Unix(5000, 0)

	clock.Set(target)

	assert.Equal(t, target, clock.Now())
}

func TestRealClockAdvances(t *testing.T) {
	clock := RealClock{}
	first := clock.Now()
	time.Sleep(time.Millisecond)
	second := clock.Now()

	assert.True(t, second.After(first))
}
