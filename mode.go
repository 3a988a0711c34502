package runloop

import "sync"

// ModeDefault and ModeCommon are the two well-known mode names: Run() uses
// ModeDefault, and ModeCommon is the magic name that means "add to the
// common-item set and replicate into every current and future common mode"
// (see Loop.AddCommonMode in loop.go).
const (
	ModeDefault = "default"
	ModeCommon  = "common"
)

// Mode is a named activation scope holding the sources, timers and
// observers scheduled against it, plus an ordered list of sub-mode names
// that are visited alongside it during collection. Sub-modes are looked up
// lazily by name through the owning Loop, not held as direct pointers,
// since a Mode is not itself responsible for creating the modes it names.
type Mode struct {
	name string

	mu        sync.Mutex
	sources   []*Source
	timers    []*Timer
	observers []*Observer
	subModes  []string
	stopFlag  bool
}

func newMode(name string) *Mode {
	return &Mode{name: name}
}

func (m *Mode) addSource(s *Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sources {
		if existing == s {
			return
		}
	}
	m.sources = append(m.sources, s)
}

func (m *Mode) removeSource(s *Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.sources {
		if existing == s {
			m.sources = append(m.sources[:i], m.sources[i+1:]...)
			return
		}
	}
}

func (m *Mode) containsSource(s *Source) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sources {
		if existing == s {
			return true
		}
	}
	return false
}

func (m *Mode) addTimer(t *Timer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.timers {
		if existing == t {
			return
		}
	}
	m.timers = append(m.timers, t)
}

func (m *Mode) removeTimer(t *Timer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.timers {
		if existing == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return
		}
	}
}

func (m *Mode) containsTimer(t *Timer) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.timers {
		if existing == t {
			return true
		}
	}
	return false
}

func (m *Mode) addObserver(o *Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.observers {
		if existing == o {
			return
		}
	}
	m.observers = append(m.observers, o)
}

func (m *Mode) removeObserver(o *Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.observers {
		if existing == o {
			m.observers = append(m.observers[:i], m.observers[i+1:]...)
			return
		}
	}
}

func (m *Mode) containsObserver(o *Observer) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.observers {
		if existing == o {
			return true
		}
	}
	return false
}

// addSubMode records name as a sub-mode of m, preserving first-seen order;
// re-adding an already-present name is a no-op.
func (m *Mode) addSubMode(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.subModes {
		if existing == name {
			return
		}
	}
	m.subModes = append(m.subModes, name)
}

func (m *Mode) subModeNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.subModes...)
}

func (m *Mode) setStop(v bool) {
	m.mu.Lock()
	m.stopFlag = v
	m.mu.Unlock()
}

func (m *Mode) takeStop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.stopFlag
	m.stopFlag = false
	return v
}

// isEmpty reports whether m has no sources, no timers, and every declared
// sub-mode is either absent or itself empty. lookup resolves a sub-mode
// name to its *Mode without creating it. Per the documented contract,
// sub-mode cycles are the caller's responsibility: this is a plain DFS
// with no cycle detection, and a cyclic mode graph will recurse forever.
func (m *Mode) isEmpty(lookup func(name string) *Mode) bool {
	m.mu.Lock()
	hasItems := len(m.sources) > 0 || len(m.timers) > 0
	subModes := append([]string(nil), m.subModes...)
	m.mu.Unlock()

	if hasItems {
		return false
	}

	for _, name := range subModes {
		sub := lookup(name)
		if sub == nil {
			continue
		}
		if !sub.isEmpty(lookup) {
			return false
		}
	}
	return true
}

// snapshotTree walks m and every transitively reachable sub-mode (again,
// no cycle guard), invoking visit once per reached Mode. Used to collect
// sources, timers, observers and port handles across the whole mode tree
// for a single RunInMode iteration.
func snapshotTree(m *Mode, lookup func(name string) *Mode, visit func(*Mode)) {
	visit(m)
	for _, name := range m.subModeNames() {
		sub := lookup(name)
		if sub == nil {
			continue
		}
		snapshotTree(sub, lookup, visit)
	}
}
