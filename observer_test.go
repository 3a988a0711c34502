package runloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserverEligibleRespectsActivityMask(t *testing.T) {
	o := NewObserver(0, ActivityBeforeSources|ActivityExit, true, func(Activity) {})

	assert.True(t, o.eligible(ActivityBeforeSources))
	assert.True(t, o.eligible(ActivityExit))
	assert.False(t, o.eligible(ActivityEntry))
	assert.False(t, o.eligible(ActivityBeforeTimers))
}

func TestNonRepeatingObserverInvalidatesAfterFire(t *testing.T) {
	var calls int
	o := NewObserver(0, ActivityAll, false, func(Activity) { calls++ })

	require.True(t, o.eligible(ActivityEntry))
	o.fire(ActivityEntry)

	assert.Equal(t, 1, calls)
	assert.False(t, o.IsValid())
	assert.False(t, o.eligible(ActivityExit), "an invalidated observer is never eligible again")
}

func TestRepeatingObserverFiresEveryMatchingPhase(t *testing.T) {
	var phases []Activity
	o := NewObserver(0, ActivityEntry|ActivityExit, true, func(a Activity) {
		phases = append(phases, a)
	})

	o.fire(ActivityEntry)
	o.fire(ActivityExit)

	require.True(t, o.IsValid())
	assert.Equal(t, []Activity{ActivityEntry, ActivityExit}, phases)
}

func TestObserverInvalidateRemovesFromMode(t *testing.T) {
	loop := New()
	o := NewObserver(0, ActivityEntry, true, func(Activity) {})
	loop.AddObserver(o, ModeDefault)
	require.True(t, loop.ContainsObserver(o, ModeDefault))

	o.Invalidate()

	assert.False(t, loop.ContainsObserver(o, ModeDefault))
	assert.False(t, o.IsValid())
}

func TestActivityAllCoversEveryNamedPhase(t *testing.T) {
	for _, phase := range []Activity{
		ActivityEntry, ActivityBeforeTimers, ActivityBeforeSources,
		ActivityBeforeWaiting, ActivityAfterWaiting, ActivityExit,
	} {
		assert.NotZero(t, ActivityAll&phase, "ActivityAll must include every named phase constant")
	}
}
