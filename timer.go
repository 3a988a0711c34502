package runloop

import (
	"math"
	"sync"
	"time"
)

// timerPort is the synthetic identity assigned to each Timer in the
// process-wide port→timer map. Unlike a Source's port, this is never added
// to a WaitSet as a kernel handle — see timerRegistry's doc comment for why.
type timerPort int64

var nextTimerPort struct {
	mu sync.Mutex
	n  timerPort
}

func allocTimerPort() timerPort {
	nextTimerPort.mu.Lock()
	defer nextTimerPort.mu.Unlock()
	nextTimerPort.n++
	return nextTimerPort.n
}

// timerRegistry is the process-wide port→timer map. Concrete per-timer
// kernel handles (timerfd/kqueue-timer) are not
// allocated here: a RunInMode wait phase instead computes one aggregate
// timeout from the earliest deadline across the mode tree (see
// earliestTimerDeadline and computeTimeoutMs in loop.go), and after PollIO
// returns, scans scheduled timers directly for deadline<=now. The registry
// is an identity-keyed map of live timers, independent of which modes
// currently reference them: NewTimer adds each timer and Invalidate removes
// it. ContainsTimer and per-mode removal do not consult it.
type timerRegistry struct {
	mu     sync.Mutex
	timers map[timerPort]*Timer
}

var globalTimerRegistry = &timerRegistry{
	timers: make(map[timerPort]*Timer),
}

// TimerCallback is invoked, with no loop/mode/item locks held, when a Timer
// fires. It may call SetNextFireDate to override the default drift-free
// rearm computed from the fired timer's own interval.
type TimerCallback func(t *Timer)

// Timer is a one-shot or periodic unit of work armed to an absolute
// deadline and re-armed on fire according to its interval.
type Timer struct {
	Order int
	seq   uint64
	port  timerPort

	clock    Clock
	callback TimerCallback

	mu       sync.Mutex
	valid    bool
	firing   bool
	deadline time.Time
	interval time.Duration
	reset    time.Time // set by SetNextFireDate during a callback; zero means "use default rearm"
	keys     []schedulingKey
}

// NewTimer creates a Timer that first fires at deadline, then (if interval
// is non-zero) repeats every interval using drift-free rearm. An interval
// of zero means one-shot: the timer invalidates itself after firing.
func NewTimer(clock Clock, order int, deadline time.Time, interval time.Duration, cb TimerCallback) *Timer {
	if clock == nil {
		clock = RealClock{}
	}
	t := &Timer{
		Order:    order,
		seq:      nextSeq(),
		port:     allocTimerPort(),
		clock:    clock,
		callback: cb,
		valid:    true,
		deadline: deadline,
		interval: interval,
	}
	globalTimerRegistry.mu.Lock()
	globalTimerRegistry.timers[t.port] = t
	globalTimerRegistry.mu.Unlock()
	return t
}

// IsValid reports whether the timer has not yet been invalidated.
func (t *Timer) IsValid() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.valid
}

// Deadline returns the timer's currently armed absolute fire time.
func (t *Timer) Deadline() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deadline
}

// SetNextFireDate overrides the deadline the engine will rearm to on this
// fire cycle, valid only when called from within the timer's own callback:
// a strictly later value than the pre-fire deadline is honoured, anything
// else is ignored.
func (t *Timer) SetNextFireDate(next time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.firing && next.After(t.deadline) {
		t.reset = next
	}
}

// addKey/removeKey mirror Source's scheduling-key bookkeeping.
func (t *Timer) addKey(k schedulingKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, existing := range t.keys {
		if existing == k {
			return
		}
	}
	t.keys = append(t.keys, k)
}

func (t *Timer) removeKey(k schedulingKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, existing := range t.keys {
		if existing == k {
			t.keys = append(t.keys[:i], t.keys[i+1:]...)
			return
		}
	}
}

// dueAt reports whether the timer is valid, not currently firing, and
// armed at or before now.
func (t *Timer) dueAt(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.valid && !t.firing && !t.deadline.After(now)
}

// fire performs the dispatch-and-rearm cycle: if valid and not already
// firing, mark firing, record the pre-fire deadline, invoke the callback
// with no locks held, then rearm or invalidate.
func (t *Timer) fire(now time.Time) {
	t.mu.Lock()
	if !t.valid || t.firing {
		t.mu.Unlock()
		return
	}
	t.firing = true
	preFire := t.deadline
	t.reset = time.Time{}
	interval := t.interval
	t.mu.Unlock()

	if t.callback != nil {
		t.callback(t)
	}

	t.mu.Lock()
	t.firing = false
	if interval == 0 {
		t.mu.Unlock()
		t.Invalidate()
		return
	}

	if !t.reset.IsZero() {
		t.deadline = t.reset
	} else {
		next := preFire
		for !next.After(now) {
			candidate := next.Add(interval)
			if candidate.Before(next) {
				// overflow: cap at max representable time.
				next = time.Unix(0, math.MaxInt64)
				break
			}
			next = candidate
		}
		t.deadline = next
	}
	t.mu.Unlock()
}

// Invalidate cancels the timer in every mode it is scheduled in, clears
// its valid flag, and removes it from the process-wide port map.
func (t *Timer) Invalidate() {
	t.mu.Lock()
	if !t.valid {
		t.mu.Unlock()
		return
	}
	t.valid = false
	keys := t.keys
	t.keys = nil
	port := t.port
	t.mu.Unlock()

	for _, k := range keys {
		k.loop.removeTimerFromMode(t, k.mode)
	}

	globalTimerRegistry.mu.Lock()
	delete(globalTimerRegistry.timers, port)
	globalTimerRegistry.mu.Unlock()
}
