package runloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueRunsOnLoopsOwnGoroutine(t *testing.T) {
	loop := New()
	keepAlive := NewManualSource(0, func() {})
	loop.AddSource(keepAlive, ModeDefault)

	var ran bool
	var callbackGID uint64
	runnerGID := make(chan uint64, 1)
	done := make(chan struct{})

	go func() {
		Enqueue(loop, ModeDefault, func() {
			ran = true
			callbackGID = getGoroutineID()
			close(done)
			loop.Stop()
		})
	}()

	go func() {
		runnerGID <- getGoroutineID()
		loop.RunInMode(ModeDefault, 2, false)
	}()
	<-done

	assert.True(t, ran)
	assert.Equal(t, <-runnerGID, callbackGID, "an enqueued task must run on the loop's own goroutine, not the enqueuing one")
}

func TestEnqueueCoalescesMultipleTasksIntoOneDrain(t *testing.T) {
	loop := New()
	keepAlive := NewManualSource(0, func() {})
	loop.AddSource(keepAlive, ModeDefault)

	var order []int
	done := make(chan struct{})

	Enqueue(loop, ModeDefault, func() { order = append(order, 1) })
	Enqueue(loop, ModeDefault, func() { order = append(order, 2) })
	Enqueue(loop, ModeDefault, func() {
		order = append(order, 3)
		close(done)
		loop.Stop()
	})

	go func() {
		loop.RunInMode(ModeDefault, 2, false)
	}()
	<-done

	require.Equal(t, []int{1, 2, 3}, order)
}

func TestForgetPerformAdaptersRemovesOnlyThatLoop(t *testing.T) {
	loopA := New()
	loopB := New()

	Enqueue(loopA, ModeDefault, func() {})
	Enqueue(loopB, ModeDefault, func() {})

	forgetPerformAdapters(loopA)

	globalPerformRegistry.mu.Lock()
	_, hasA := globalPerformRegistry.adapters[performKey{loop: loopA, mode: ModeDefault}]
	_, hasB := globalPerformRegistry.adapters[performKey{loop: loopB, mode: ModeDefault}]
	globalPerformRegistry.mu.Unlock()

	assert.False(t, hasA)
	assert.True(t, hasB)
}

func TestChunkedIngressPushDrainOrder(t *testing.T) {
	q := NewChunkedIngress()
	var calls []int
	for i := 0; i < chunkSize+5; i++ {
		i := i
		q.Push(func() { calls = append(calls, i) })
	}

	tasks := q.Drain()
	require.Len(t, tasks, chunkSize+5)
	for i, fn := range tasks {
		fn()
		assert.Equal(t, i, calls[len(calls)-1])
	}
}
