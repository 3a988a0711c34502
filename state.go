package runloop

import "sync/atomic"

// RunState describes what the innermost active RunInMode frame on a Loop is
// currently doing. Because Go's call stack already nests correctly for
// recursive RunInMode calls (e.g. a nested modal mode run from inside a
// callback), only one frame is ever actually blocked in the wait primitive
// at a time, so a single atomic cell per Loop is sufficient — there is no
// need for a stack of states.
type RunState uint32

const (
	// RunIdle means no RunInMode frame is currently executing on this loop.
	RunIdle RunState = iota
	// RunRunning means a frame is actively dispatching sources, timers or
	// observers (not blocked in the wait primitive).
	RunRunning
	// RunSleeping means a frame is blocked in the wait primitive; this is
	// the flag reported by Loop.IsWaiting.
	RunSleeping
)

// String returns a human-readable representation of the state.
func (s RunState) String() string {
	switch s {
	case RunIdle:
		return "Idle"
	case RunRunning:
		return "Running"
	case RunSleeping:
		return "Sleeping"
	default:
		return "Unknown"
	}
}

// fastState is a lock-free atomic cell for RunState, cache-line padded to
// avoid false sharing with neighbouring hot fields on Loop. Grounded on the
// teacher's FastState: pure CAS, no mutex, no transition validation —
// trimmed down to the three states this domain needs.
type fastState struct { //nolint:unused
	_ [64]byte
	v atomic.Uint32
	_ [60]byte
}

func newFastState() *fastState {
	s := &fastState{}
	s.v.Store(uint32(RunIdle))
	return s
}

// Load returns the current state atomically.
func (s *fastState) Load() RunState {
	return RunState(s.v.Load())
}

// Store atomically stores a new state, bypassing transition validation.
func (s *fastState) Store(state RunState) {
	s.v.Store(uint32(state))
}

// TryTransition attempts to atomically move from `from` to `to`.
func (s *fastState) TryTransition(from, to RunState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}
