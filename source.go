package runloop

import "sync"

// sourceKind distinguishes the two Source variants per the tagged-struct
// design: a manual source is software-signalled, a port source is fired by
// a kernel handle becoming readable while the loop is blocked in its wait
// primitive.
type sourceKind byte

const (
	sourceManual sourceKind = iota
	sourcePort
)

// PerformFunc is a manual source's callout: invoked with no loop/mode/item
// locks held, once per collapsed signal.
type PerformFunc func()

// PortPerformFunc is a port source's callout: invoked with the raw message
// read from its handle when it fires; a non-nil return value is sent back
// as a reply.
type PortPerformFunc func(msg []byte) []byte

// Source is a user-supplied unit of signalable work. It is not an
// interface: both the manual and port-backed variants share this one
// struct, distinguished by kind, rather than a pair of types behind a
// shared interface. Equality is reference identity (*Source), which Go
// gives for free.
type Source struct {
	kind  sourceKind
	Order int
	seq   uint64

	perform     PerformFunc
	portPerform PortPerformFunc
	port        int

	mu         sync.Mutex
	valid      bool
	signalled  bool
	keys       []schedulingKey
}

// NewManualSource creates a software-signalled Source. order controls
// dispatch position relative to other sources in the same phase; ties
// resolve by construction order, not registration order.
func NewManualSource(order int, perform PerformFunc) *Source {
	return &Source{
		kind:    sourceManual,
		Order:   order,
		seq:     nextSeq(),
		perform: perform,
		valid:   true,
	}
}

// NewPortSource creates a kernel-handle-backed Source. port is the
// platform handle (fd on Unix, a waitable Windows handle) added to a
// mode's wait set while this source is scheduled there.
func NewPortSource(order int, port int, perform PortPerformFunc) *Source {
	return &Source{
		kind:        sourcePort,
		Order:       order,
		seq:         nextSeq(),
		portPerform: perform,
		port:        port,
		valid:       true,
	}
}

// IsValid reports whether the source has not yet been invalidated.
func (s *Source) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valid
}

// Signal sets the signalled bit if the source is still valid. Multiple
// signals before the next dispatch collapse into a single perform
// invocation. Every loop the source is currently scheduled in is woken so
// the signal is observed promptly even from another goroutine.
func (s *Source) Signal() {
	s.mu.Lock()
	if !s.valid {
		s.mu.Unlock()
		return
	}
	s.signalled = true
	keys := append([]schedulingKey(nil), s.keys...)
	s.mu.Unlock()

	for _, k := range keys {
		k.loop.WakeUp()
	}
}

// takeSignal clears and reports the signalled bit, for the engine's
// collect-then-dispatch step. Returns false if the source is invalid.
func (s *Source) takeSignal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.valid || !s.signalled {
		return false
	}
	s.signalled = false
	return true
}

// isSignalled reports the signalled bit without clearing it, for the
// engine's peek-before-claim step when returnAfterHandled limits dispatch
// to a single source per iteration.
func (s *Source) isSignalled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valid && s.signalled
}

// dispatch invokes a manual source's perform with no locks held.
func (s *Source) dispatch() {
	if s.perform != nil {
		s.perform()
	}
}

// dispatchPort invokes a port source's perform with no locks held,
// returning the reply payload, if any.
func (s *Source) dispatchPort(msg []byte) []byte {
	if s.portPerform != nil {
		return s.portPerform(msg)
	}
	return nil
}

// getPort returns the kernel handle backing a port source, or -1 for a
// manual source (which has none).
func (s *Source) getPort() int {
	if s.kind != sourcePort {
		return -1
	}
	return s.port
}

// addKey records that this source is now scheduled under key, so a later
// Invalidate or Signal can reach every owning loop/mode.
func (s *Source) addKey(k schedulingKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.keys {
		if existing == k {
			return
		}
	}
	s.keys = append(s.keys, k)
}

// removeKey forgets a (loop, mode) scheduling, called on cancel from that
// mode.
func (s *Source) removeKey(k schedulingKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.keys {
		if existing == k {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			return
		}
	}
}

// Invalidate removes the source from every mode of every loop it is
// scheduled in, clears the valid flag, and releases the recorded
// scheduling keys. Safe to call multiple times.
func (s *Source) Invalidate() {
	s.mu.Lock()
	if !s.valid {
		s.mu.Unlock()
		return
	}
	s.valid = false
	keys := s.keys
	s.keys = nil
	s.mu.Unlock()

	for _, k := range keys {
		k.loop.removeSourceFromMode(s, k.mode)
	}
}
