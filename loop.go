package runloop

import (
	"errors"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

var loopIDCounter atomic.Uint64

// RunResult is the outcome of a single RunInMode call, matching the
// external run-result codes exactly: Finished=1, Stopped=2, TimedOut=3,
// HandledSource=4.
type RunResult int

const (
	ResultFinished      RunResult = 1
	ResultStopped       RunResult = 2
	ResultTimedOut      RunResult = 3
	ResultHandledSource RunResult = 4
)

func (r RunResult) String() string {
	switch r {
	case ResultFinished:
		return "Finished"
	case ResultStopped:
		return "Stopped"
	case ResultTimedOut:
		return "TimedOut"
	case ResultHandledSource:
		return "HandledSource"
	default:
		return "Unknown"
	}
}

// Loop is an event loop bound to one goroutine: only that goroutine may
// drive it via RunInMode, though any goroutine may register items, signal
// sources, or call WakeUp/Stop.
//
// Thread Safety: loopMu guards the mode map; commonMu guards the
// common-mode registry; everything else is either atomic or delegates to
// Mode/Source/Timer/Observer's own locks. Locks are taken in the order
// Loop, then Mode, then item: loopMu is never acquired while a Mode lock
// or item lock is held.
type Loop struct { // betteralign:ignore
	id uint64

	loopGoroutineID atomic.Uint64

	loopMu sync.Mutex
	modes  map[string]*Mode

	activeMode atomic.Pointer[Mode]

	state *fastState

	stopFlag     atomic.Bool
	deallocating atomic.Bool

	wakeFD      int
	wakeWriteFD int
	wakeCh      chan struct{}

	clock  Clock
	logger Logger

	commonMu        sync.Mutex
	commonModes     map[string]struct{}
	commonSources   []*Source
	commonTimers    []*Timer
	commonObservers []*Observer

	closeOnce sync.Once
}

// newLoop constructs a Loop configured by opts. Goroutine affinity is not
// bound here: it is established lazily by the first RunInMode call,
// matching the teacher's own "bind on actual run, not on construction"
// idiom (see current.go's getGoroutineID and the former run() entry
// point), since a Loop is often constructed on one goroutine and driven
// from another.
func newLoop(opts ...LoopOption) *Loop {
	cfg := resolveLoopOptions(opts)

	wakeFD, wakeWriteFD, err := createWakeFd(0, EFD_CLOEXEC|EFD_NONBLOCK)
	if err != nil {
		wakeFD, wakeWriteFD = -1, -1
	}

	l := &Loop{
		id:          loopIDCounter.Add(1),
		modes:       make(map[string]*Mode),
		state:       newFastState(),
		wakeFD:      wakeFD,
		wakeWriteFD: wakeWriteFD,
		clock:       cfg.clock,
		logger:      cfg.logger,
		commonModes: map[string]struct{}{cfg.commonMode: {}},
	}
	if wakeFD < 0 {
		l.wakeCh = createWakeChannel()
	}
	l.modes[cfg.commonMode] = newMode(cfg.commonMode)
	return l
}

// New creates a standalone Loop, independent of the per-goroutine Current
// registry. Most callers should prefer Current or Main.
func New(opts ...LoopOption) *Loop {
	return newLoop(opts...)
}

// checkThreadAffinity binds the Loop to the calling goroutine on first
// use and reports whether the calling goroutine matches that binding.
func (l *Loop) checkThreadAffinity() bool {
	gid := getGoroutineID()
	if l.loopGoroutineID.CompareAndSwap(0, gid) {
		return true
	}
	return l.loopGoroutineID.Load() == gid
}

func (l *Loop) getModeOrNil(name string) *Mode {
	l.loopMu.Lock()
	defer l.loopMu.Unlock()
	return l.modes[name]
}

func (l *Loop) getOrCreateMode(name string) *Mode {
	l.loopMu.Lock()
	defer l.loopMu.Unlock()
	m, ok := l.modes[name]
	if !ok {
		m = newMode(name)
		l.modes[name] = m
	}
	return m
}

// CopyAllModes returns the names of every mode this Loop has created: the
// default common mode made at construction plus every mode an item has
// been registered into. Looking a mode up does not create it.
func (l *Loop) CopyAllModes() []string {
	l.loopMu.Lock()
	defer l.loopMu.Unlock()
	names := make([]string, 0, len(l.modes))
	for name := range l.modes {
		names = append(names, name)
	}
	return names
}

// CopyCurrentMode returns the name of the mode currently being run by
// RunInMode, if any.
func (l *Loop) CopyCurrentMode() (string, bool) {
	m := l.activeMode.Load()
	if m == nil {
		return "", false
	}
	return m.name, true
}

// --- Registration ---

// AddSource schedules s in mode, or (if mode is ModeCommon) in every
// current and future common mode. A nil or invalidated source, or a
// deallocating Loop, silently no-ops, matching the void registration
// contract.
func (l *Loop) AddSource(s *Source, mode string) {
	if s == nil || !s.IsValid() {
		return
	}
	if l.deallocating.Load() {
		logRegistrationRejected(l.logger, int64(l.id), "source")
		return
	}
	if mode == ModeCommon {
		for _, name := range l.addCommonItem(func() { l.commonSources = append(l.commonSources, s) }) {
			l.addSourceToMode(s, name)
		}
		return
	}
	l.addSourceToMode(s, mode)
}

func (l *Loop) addSourceToMode(s *Source, mode string) {
	m := l.getOrCreateMode(mode)
	m.addSource(s)
	s.addKey(schedulingKey{loop: l, mode: mode})
}

// RemoveSource cancels s's scheduling in mode only (unlike Invalidate,
// which cancels every scheduling everywhere).
func (l *Loop) RemoveSource(s *Source, mode string) {
	l.removeSourceFromMode(s, mode)
}

func (l *Loop) removeSourceFromMode(s *Source, mode string) {
	if m := l.getModeOrNil(mode); m != nil {
		m.removeSource(s)
	}
	s.removeKey(schedulingKey{loop: l, mode: mode})
}

// ContainsSource reports whether s is currently scheduled in mode.
func (l *Loop) ContainsSource(s *Source, mode string) bool {
	m := l.getModeOrNil(mode)
	return m != nil && m.containsSource(s)
}

// AddTimer schedules t in mode, or in every current/future common mode.
func (l *Loop) AddTimer(t *Timer, mode string) {
	if t == nil || !t.IsValid() {
		return
	}
	if l.deallocating.Load() {
		logRegistrationRejected(l.logger, int64(l.id), "timer")
		return
	}
	if mode == ModeCommon {
		for _, name := range l.addCommonItem(func() { l.commonTimers = append(l.commonTimers, t) }) {
			l.addTimerToMode(t, name)
		}
		return
	}
	l.addTimerToMode(t, mode)
}

func (l *Loop) addTimerToMode(t *Timer, mode string) {
	m := l.getOrCreateMode(mode)
	m.addTimer(t)
	t.addKey(schedulingKey{loop: l, mode: mode})
}

// RemoveTimer cancels t's scheduling in mode only.
func (l *Loop) RemoveTimer(t *Timer, mode string) {
	l.removeTimerFromMode(t, mode)
}

func (l *Loop) removeTimerFromMode(t *Timer, mode string) {
	if m := l.getModeOrNil(mode); m != nil {
		m.removeTimer(t)
	}
	t.removeKey(schedulingKey{loop: l, mode: mode})
}

// ContainsTimer reports whether t is currently scheduled in mode.
func (l *Loop) ContainsTimer(t *Timer, mode string) bool {
	m := l.getModeOrNil(mode)
	return m != nil && m.containsTimer(t)
}

// AddObserver schedules o in mode, or in every current/future common mode.
func (l *Loop) AddObserver(o *Observer, mode string) {
	if o == nil || !o.IsValid() {
		return
	}
	if l.deallocating.Load() {
		logRegistrationRejected(l.logger, int64(l.id), "observer")
		return
	}
	if mode == ModeCommon {
		for _, name := range l.addCommonItem(func() { l.commonObservers = append(l.commonObservers, o) }) {
			l.addObserverToMode(o, name)
		}
		return
	}
	l.addObserverToMode(o, mode)
}

func (l *Loop) addObserverToMode(o *Observer, mode string) {
	m := l.getOrCreateMode(mode)
	m.addObserver(o)
	o.addKey(schedulingKey{loop: l, mode: mode})
}

// RemoveObserver cancels o's scheduling in mode only.
func (l *Loop) RemoveObserver(o *Observer, mode string) {
	l.removeObserverFromMode(o, mode)
}

func (l *Loop) removeObserverFromMode(o *Observer, mode string) {
	if m := l.getModeOrNil(mode); m != nil {
		m.removeObserver(o)
	}
	o.removeKey(schedulingKey{loop: l, mode: mode})
}

// ContainsObserver reports whether o is currently scheduled in mode.
func (l *Loop) ContainsObserver(o *Observer, mode string) bool {
	m := l.getModeOrNil(mode)
	return m != nil && m.containsObserver(o)
}

// addCommonItem runs add (appending the new item to the relevant common
// slice) under commonMu and returns a snapshot of the currently-common
// mode names to replay the registration into.
func (l *Loop) addCommonItem(add func()) []string {
	l.commonMu.Lock()
	add()
	names := make([]string, 0, len(l.commonModes))
	for name := range l.commonModes {
		names = append(names, name)
	}
	l.commonMu.Unlock()
	return names
}

// AddCommonMode marks name as common: every item previously added through
// the "common" mode name is replayed into it.
func (l *Loop) AddCommonMode(name string) {
	if l.deallocating.Load() {
		return
	}
	l.commonMu.Lock()
	if _, exists := l.commonModes[name]; exists {
		l.commonMu.Unlock()
		return
	}
	l.commonModes[name] = struct{}{}
	sources := append([]*Source(nil), l.commonSources...)
	timers := append([]*Timer(nil), l.commonTimers...)
	observers := append([]*Observer(nil), l.commonObservers...)
	l.commonMu.Unlock()

	for _, s := range sources {
		l.addSourceToMode(s, name)
	}
	for _, t := range timers {
		l.addTimerToMode(t, name)
	}
	for _, o := range observers {
		l.addObserverToMode(o, name)
	}
}

// --- Lifecycle ---

// WakeUp makes the loop return from any blocking wait promptly. Safe to
// call from any goroutine, including one with no Loop of its own.
func (l *Loop) WakeUp() {
	if l.wakeWriteFD >= 0 {
		buf := [8]byte{1}
		_, _ = writeFD(l.wakeWriteFD, buf[:])
	}
	if l.wakeCh != nil {
		submitWakeChannel(l.wakeCh)
	}
}

// IsWaiting reports whether the loop is currently blocked in its wait
// primitive.
func (l *Loop) IsWaiting() bool {
	return l.state.Load() == RunSleeping
}

// Stop sets the loop's stop flag and wakes it; the current iteration
// finishes its current phase but does not start a new wait. The first
// RunInMode call to reach its stop check returns Stopped and clears the
// flag: when RunInMode calls are nested, that is the innermost running
// call, and the calls outside it keep running.
func (l *Loop) Stop() {
	l.stopFlag.Store(true)
	l.WakeUp()
}

// StopMode stops only the named mode: its own stop flag is set, causing a
// RunInMode call on that mode (only) to return Stopped at its next safe
// point.
func (l *Loop) StopMode(name string) {
	if m := l.getModeOrNil(name); m != nil {
		m.setStop(true)
	}
	l.WakeUp()
}

// Close marks the loop as deallocating: further registrations are
// rejected, and the wake handle is released. Idempotent.
func (l *Loop) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.deallocating.Store(true)
		forgetPerformAdapters(l)
		if l.wakeFD >= 0 {
			err = closeWakeFd(l.wakeFD, l.wakeWriteFD)
		}
	})
	return err
}

// Run repeatedly runs the default mode with a ten-billion-second budget
// until the result is Stopped or Finished.
func (l *Loop) Run() (RunResult, error) {
	const hugeBudget = 1e10
	for {
		result, err := l.RunInMode(ModeDefault, hugeBudget, false)
		if err != nil {
			return result, err
		}
		if result == ResultStopped || result == ResultFinished {
			return result, nil
		}
	}
}

// secondsToDuration converts a budget given in fractional seconds to a
// time.Duration, clamping to the largest representable duration instead of
// overflowing int64 nanoseconds (seconds * 1e9 exceeds math.MaxInt64 past
// roughly 292 years, which Run's huge-budget constant is close enough to
// cross).
func secondsToDuration(seconds float64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	const maxSeconds = float64(math.MaxInt64) / float64(time.Second)
	if seconds >= maxSeconds {
		return math.MaxInt64
	}
	return time.Duration(seconds * float64(time.Second))
}

// RunInMode is a single invocation of the run-loop engine against the
// named mode: it dispatches signalled sources, waits for a port source,
// timer, cross-thread wake-up, or the given deadline (seconds, as a
// duration in seconds from now), firing phase observers at each boundary,
// and returns the reason the iteration loop ended.
func (l *Loop) RunInMode(name string, seconds float64, returnAfterHandled bool) (RunResult, error) {
	if l.deallocating.Load() {
		return 0, ErrLoopDeallocating
	}
	if !l.checkThreadAffinity() {
		return 0, ErrReentrantRunOnOtherThread
	}

	mode := l.getModeOrNil(name)
	if mode == nil {
		return 0, ErrModeNotFound
	}
	if mode.isEmpty(l.getModeOrNil) {
		return 0, ErrModeEmpty
	}

	prevMode := l.activeMode.Swap(mode)
	prevState := l.state.Load()
	l.state.Store(RunRunning)
	defer func() {
		l.activeMode.Store(prevMode)
		l.state.Store(prevState)
	}()

	logModeEntry(l.logger, int64(l.id), name)
	l.fireObservers(mode, ActivityEntry)

	deadline := l.clock.Now().Add(secondsToDuration(seconds))

	result, err := l.runModeLoop(mode, name, deadline, returnAfterHandled)

	l.fireObservers(mode, ActivityExit)
	if err != nil {
		logWaitSetError(l.logger, int64(l.id), name, err)
		return 0, err
	}
	logModeExit(l.logger, int64(l.id), name, result)
	return result, nil
}

func (l *Loop) runModeLoop(mode *Mode, name string, deadline time.Time, returnAfterHandled bool) (RunResult, error) {
	for {
		l.fireObservers(mode, ActivityBeforeTimers)
		l.fireObservers(mode, ActivityBeforeSources)

		fired := l.dispatchSignalledSources(mode, returnAfterHandled)
		poll := returnAfterHandled && fired > 0

		timedOut := false

		if !poll && !l.stopFlag.Load() {
			var err error
			timedOut, err = l.waitPhase(mode, deadline)
			if err != nil {
				return 0, newModeError(name, err)
			}
		}

		switch {
		case returnAfterHandled && fired > 0:
			return ResultHandledSource, nil
		case timedOut:
			return ResultTimedOut, nil
		case l.stopFlag.CompareAndSwap(true, false):
			return ResultStopped, nil
		case mode.takeStop():
			return ResultStopped, nil
		case mode.isEmpty(l.getModeOrNil):
			return ResultFinished, nil
		}
	}
}

// waitPhase performs the BeforeWaiting/wait/AfterWaiting portion of one
// iteration: it builds a fresh WaitSet from the mode's reachable tree,
// blocks until a handle fires or the aggregate timeout elapses, fires any
// now-due timers, and reports whether the caller's own deadline (as
// opposed to a per-timer deadline) has been reached.
func (l *Loop) waitPhase(mode *Mode, deadline time.Time) (timedOut bool, err error) {
	l.fireObservers(mode, ActivityBeforeWaiting)
	l.state.Store(RunSleeping)
	defer l.state.Store(RunRunning)

	var ws FastPoller
	if initErr := ws.Init(); initErr != nil {
		return false, errors.Join(ErrWaitSetInit, initErr)
	}
	defer func() { _ = ws.Close() }()

	_ = ws.RegisterWake(l.wakeFD, l.wakeCh, func() { _ = drainWakeUpPipe(l.wakeFD) })

	var ports []*Source
	snapshotTree(mode, l.getModeOrNil, func(m *Mode) {
		m.mu.Lock()
		for _, s := range m.sources {
			if s.kind == sourcePort && s.IsValid() {
				ports = append(ports, s)
			}
		}
		m.mu.Unlock()
	})
	for _, s := range ports {
		src := s
		port := src.getPort()
		if port < 0 {
			continue
		}
		_ = ws.RegisterFD(port, EventRead, func(IOEvents) {
			buf := make([]byte, 4096)
			n, _ := readFD(port, buf)
			reply := src.dispatchPort(buf[:n])
			if reply != nil {
				_, _ = writeFD(port, reply)
			}
		})
	}

	now := l.clock.Now()
	timerDeadline, hasTimer := l.earliestTimerDeadline(mode)
	timeoutMs := computeTimeoutMs(deadline, now, timerDeadline, hasTimer)

	if _, pollErr := ws.PollIO(timeoutMs); pollErr != nil {
		return false, pollErr
	}

	l.fireObservers(mode, ActivityAfterWaiting)

	now = l.clock.Now()
	l.fireDueTimers(mode, now)

	return !now.Before(deadline), nil
}

func computeTimeoutMs(deadline, now, timerDeadline time.Time, hasTimer bool) int {
	remaining := deadline.Sub(now)
	if hasTimer {
		if td := timerDeadline.Sub(now); td < remaining {
			remaining = td
		}
	}
	if remaining < 0 {
		remaining = 0
	}
	ms := remaining.Milliseconds()
	if ms > math.MaxInt32 {
		ms = math.MaxInt32
	}
	return int(ms)
}

// safeCall invokes fn, recovering and logging any panic rather than letting
// a misbehaving Source, Timer or Observer callback take the whole loop down.
func (l *Loop) safeCall(mode string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logCallbackPanic(l.logger, int64(l.id), mode, r)
		}
	}()
	fn()
}

// dispatchSignalledSources collects every signalled manual source across
// mode and its reachable sub-modes, sorts ascending by (Order, insertion),
// then claims (clears the signalled bit) and dispatches them in that
// order. When returnAfterHandled is set, dispatch stops after the first
// source runs, leaving any remaining signalled sources untouched for the
// next call. Returns the count dispatched.
func (l *Loop) dispatchSignalledSources(mode *Mode, returnAfterHandled bool) int {
	var candidates []*Source
	snapshotTree(mode, l.getModeOrNil, func(m *Mode) {
		m.mu.Lock()
		candidates = append(candidates, m.sources...)
		m.mu.Unlock()
	})

	var firing []*Source
	for _, s := range candidates {
		if s.kind == sourceManual && s.isSignalled() {
			firing = append(firing, s)
		}
	}
	sort.SliceStable(firing, func(i, j int) bool {
		if firing[i].Order != firing[j].Order {
			return firing[i].Order < firing[j].Order
		}
		return firing[i].seq < firing[j].seq
	})

	count := 0
	for _, s := range firing {
		if !s.takeSignal() {
			continue
		}
		l.safeCall(mode.name, s.dispatch)
		count++
		if returnAfterHandled {
			break
		}
	}
	return count
}

// fireObservers collects every eligible observer across mode's tree for
// phase, sorts once, and fires each. Collection is atomic with respect to
// registration: an observer added after this snapshot will not fire in the
// current phase.
func (l *Loop) fireObservers(mode *Mode, phase Activity) {
	var candidates []*Observer
	snapshotTree(mode, l.getModeOrNil, func(m *Mode) {
		m.mu.Lock()
		candidates = append(candidates, m.observers...)
		m.mu.Unlock()
	})

	var eligible []*Observer
	for _, o := range candidates {
		if o.eligible(phase) {
			eligible = append(eligible, o)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Order != eligible[j].Order {
			return eligible[i].Order < eligible[j].Order
		}
		return eligible[i].seq < eligible[j].seq
	})

	for _, o := range eligible {
		o := o
		l.safeCall(mode.name, func() { o.fire(phase) })
	}
}

// earliestTimerDeadline returns the soonest deadline among valid timers
// scheduled anywhere in mode's reachable tree.
func (l *Loop) earliestTimerDeadline(mode *Mode) (time.Time, bool) {
	var best time.Time
	found := false
	snapshotTree(mode, l.getModeOrNil, func(m *Mode) {
		m.mu.Lock()
		for _, t := range m.timers {
			if t.IsValid() {
				d := t.Deadline()
				if !found || d.Before(best) {
					best = d
					found = true
				}
			}
		}
		m.mu.Unlock()
	})
	return best, found
}

// fireDueTimers dispatches every timer in mode's reachable tree whose
// deadline has passed, in ascending (Order, insertion) order.
func (l *Loop) fireDueTimers(mode *Mode, now time.Time) {
	var due []*Timer
	snapshotTree(mode, l.getModeOrNil, func(m *Mode) {
		m.mu.Lock()
		for _, t := range m.timers {
			if t.dueAt(now) {
				due = append(due, t)
			}
		}
		m.mu.Unlock()
	})
	sort.SliceStable(due, func(i, j int) bool {
		if due[i].Order != due[j].Order {
			return due[i].Order < due[j].Order
		}
		return due[i].seq < due[j].seq
	})
	for _, t := range due {
		t := t
		logTimerFired(l.logger, int64(l.id), t.Order)
		l.safeCall(mode.name, func() { t.fire(now) })
		if t.IsValid() {
			logTimerArmed(l.logger, int64(l.id), t.Order, t.Deadline().Sub(now).String())
		}
	}
}
