package runloop

import "sync"

// Activity is a bitmask of run-loop phases an Observer may fire on. Values
// are stable across processes, matching CFRunLoopActivity's fixed bit
// positions, so they are safe to persist or log.
type Activity uint32

const (
	ActivityEntry         Activity = 0x1
	ActivityBeforeTimers  Activity = 0x2
	ActivityBeforeSources Activity = 0x4
	ActivityBeforeWaiting Activity = 0x20
	ActivityAfterWaiting  Activity = 0x40
	ActivityExit          Activity = 0x80
	ActivityAll           Activity = ActivityEntry | ActivityBeforeTimers | ActivityBeforeSources |
		ActivityBeforeWaiting | ActivityAfterWaiting | ActivityExit
)

// ObserverCallback is invoked, with no loop/mode/item locks held, for each
// matching phase the observer fires on.
type ObserverCallback func(activity Activity)

// Observer is notified at specific phase boundaries of a RunInMode
// iteration. An observer fires at most once per phase per iteration;
// re-entrancy is prevented by the firing flag, and a non-repeating
// observer invalidates itself after its one fire.
type Observer struct {
	Order      int
	seq        uint64
	Activities Activity
	Repeats    bool

	callback ObserverCallback

	mu     sync.Mutex
	valid  bool
	firing bool
	keys   []schedulingKey
}

// NewObserver creates an Observer that fires its callback for every phase
// in activities. If repeats is false, the observer invalidates itself
// after its first fire.
func NewObserver(order int, activities Activity, repeats bool, cb ObserverCallback) *Observer {
	return &Observer{
		Order:      order,
		seq:        nextSeq(),
		Activities: activities,
		Repeats:    repeats,
		callback:   cb,
		valid:      true,
	}
}

// IsValid reports whether the observer has not yet been invalidated.
func (o *Observer) IsValid() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.valid
}

// eligible reports whether the observer should be included in the
// candidate snapshot for phase: valid, not currently firing, and
// registered for this phase.
func (o *Observer) eligible(phase Activity) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.valid && !o.firing && o.Activities&phase != 0
}

// fire invokes the callback with no locks held, then invalidates the
// observer if it does not repeat.
func (o *Observer) fire(phase Activity) {
	o.mu.Lock()
	if !o.valid || o.firing {
		o.mu.Unlock()
		return
	}
	o.firing = true
	o.mu.Unlock()

	if o.callback != nil {
		o.callback(phase)
	}

	o.mu.Lock()
	o.firing = false
	repeats := o.Repeats
	o.mu.Unlock()

	if !repeats {
		o.Invalidate()
	}
}

func (o *Observer) addKey(k schedulingKey) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, existing := range o.keys {
		if existing == k {
			return
		}
	}
	o.keys = append(o.keys, k)
}

func (o *Observer) removeKey(k schedulingKey) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, existing := range o.keys {
		if existing == k {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			return
		}
	}
}

// Invalidate removes the observer from every mode it is scheduled in and
// clears the valid flag. Safe to call multiple times.
func (o *Observer) Invalidate() {
	o.mu.Lock()
	if !o.valid {
		o.mu.Unlock()
		return
	}
	o.valid = false
	keys := o.keys
	o.keys = nil
	o.mu.Unlock()

	for _, k := range keys {
		k.loop.removeObserverFromMode(o, k.mode)
	}
}
