//go:build darwin

package runloop

import (
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// maxFDs is the initial size of the dynamically-grown fds slice.
const maxFDs = 65536

// MaxFDLimit bounds the handle values supported for dynamic growth:
// RegisterFD rejects any fd >= MaxFDLimit.
const MaxFDLimit = 100000000

// Standard errors returned by WaitSet handle registration.
var (
	ErrFDOutOfRange        = errors.New("runloop: fd out of range (max 99999999)")
	ErrFDAlreadyRegistered = errors.New("runloop: fd already registered")
	ErrFDNotRegistered     = errors.New("runloop: fd not registered")
	ErrPollerClosed        = errors.New("runloop: wait set closed")
)

// fdInfo stores per-FD callback information.
type fdInfo struct {
	callback IOCallback
	events   IOEvents
	active   bool
}

// FastPoller is the Darwin WaitSet, backed by kqueue. A dynamic slice
// backs handle lookup rather than a fixed array, since port-source handles
// (unlike the teacher's socket fds) have no realistic upper bound assumed
// in advance.
type FastPoller struct { // betteralign:ignore
	_        [64]byte           // cache line padding //nolint:unused
	kq       int32              // kqueue file descriptor
	_        [60]byte           // pad to cache line //nolint:unused
	eventBuf [256]unix.Kevent_t // preallocated event buffer
	fds      []fdInfo           // dynamic slice, grows on demand
	fdMu     sync.RWMutex       // protects fds slice access
	closed   atomic.Bool
}

// Init initializes the kqueue instance backing this WaitSet.
func (p *FastPoller) Init() error {
	if p.closed.Load() {
		return ErrPollerClosed
	}

	kq, err := unix.Kqueue()
	if err != nil {
		return err
	}
	unix.CloseOnExec(kq)
	p.kq = int32(kq)
	p.fds = make([]fdInfo, maxFDs)
	return nil
}

// Close closes the kqueue instance.
func (p *FastPoller) Close() error {
	p.closed.Store(true)
	if p.kq > 0 {
		return unix.Close(int(p.kq))
	}
	return nil
}

// RegisterFD registers a handle (the loop's wake fd, or a port-source's
// port) for I/O event monitoring.
func (p *FastPoller) RegisterFD(fd int, events IOEvents, cb IOCallback) error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	if fd < 0 || fd >= MaxFDLimit {
		return ErrFDOutOfRange
	}

	p.fdMu.Lock()
	if fd >= len(p.fds) {
		newSize := fd*2 + 1
		if newSize > MaxFDLimit {
			newSize = MaxFDLimit + 1
		}
		newFds := make([]fdInfo, newSize)
		copy(newFds, p.fds)
		p.fds = newFds
	}

	if p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrFDAlreadyRegistered
	}

	p.fds[fd] = fdInfo{callback: cb, events: events, active: true}
	p.fdMu.Unlock()

	kevents := eventsToKevents(fd, events, unix.EV_ADD|unix.EV_ENABLE)
	if len(kevents) > 0 {
		if _, err := unix.Kevent(int(p.kq), kevents, nil, nil); err != nil {
			p.fdMu.Lock()
			p.fds[fd] = fdInfo{}
			p.fdMu.Unlock()
			return err
		}
	}
	return nil
}

// UnregisterFD removes a handle from monitoring.
//
// Callback lifetime: dispatchEvents copies the callback under RLock then
// executes it outside the lock, so a callback may still run briefly after
// UnregisterFD returns. Callers must not close the underlying handle until
// any in-flight callback for it has completed.
func (p *FastPoller) UnregisterFD(fd int) error {
	if fd < 0 {
		return ErrFDOutOfRange
	}

	p.fdMu.Lock()
	if fd >= len(p.fds) || !p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrFDNotRegistered
	}

	events := p.fds[fd].events
	p.fds[fd] = fdInfo{}
	p.fdMu.Unlock()

	kevents := eventsToKevents(fd, events, unix.EV_DELETE)
	if len(kevents) > 0 {
		_, _ = unix.Kevent(int(p.kq), kevents, nil, nil)
	}
	return nil
}

// ModifyFD updates the events being monitored for a handle.
func (p *FastPoller) ModifyFD(fd int, events IOEvents) error {
	if fd < 0 {
		return ErrFDOutOfRange
	}

	p.fdMu.Lock()
	if fd >= len(p.fds) || !p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrFDNotRegistered
	}

	oldEvents := p.fds[fd].events
	p.fds[fd].events = events
	p.fdMu.Unlock()

	if oldEvents&^events != 0 {
		if del := eventsToKevents(fd, oldEvents&^events, unix.EV_DELETE); len(del) > 0 {
			_, _ = unix.Kevent(int(p.kq), del, nil, nil)
		}
	}

	if events&^oldEvents != 0 {
		if add := eventsToKevents(fd, events&^oldEvents, unix.EV_ADD|unix.EV_ENABLE); len(add) > 0 {
			if _, err := unix.Kevent(int(p.kq), add, nil, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// RegisterWake registers the loop's wake fd (a self-pipe read end) with
// this WaitSet as an ordinary readable handle. ch is unused on Darwin; the
// persistent wake channel only matters on platforms with no wake fd.
func (p *FastPoller) RegisterWake(fd int, ch chan struct{}, cb func()) error {
	return p.RegisterFD(fd, EventRead, func(IOEvents) { cb() })
}

// PollIO blocks for up to timeoutMs milliseconds (negative blocks
// indefinitely) for a registered handle to become ready, dispatching
// callbacks inline. Returns the number of events received; zero means
// nothing was dispatched (the timeout elapsed, or the wait was interrupted
// by EINTR).
func (p *FastPoller) PollIO(timeoutMs int) (int, error) {
	if p.closed.Load() {
		return 0, ErrPollerClosed
	}

	var ts *unix.Timespec
	if timeoutMs >= 0 {
		ts = &unix.Timespec{
			Sec:  int64(timeoutMs / 1000),
			Nsec: int64((timeoutMs % 1000) * 1000000),
		}
	}

	n, err := unix.Kevent(int(p.kq), nil, p.eventBuf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	p.dispatchEvents(n)

	return n, nil
}

// dispatchEvents executes callbacks inline, with no WaitSet lock held.
func (p *FastPoller) dispatchEvents(n int) {
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Ident)
		if fd < 0 {
			continue
		}

		p.fdMu.RLock()
		var info fdInfo
		if fd < len(p.fds) {
			info = p.fds[fd]
		}
		p.fdMu.RUnlock()

		if info.active && info.callback != nil {
			info.callback(keventToEvents(&p.eventBuf[i]))
		}
	}
}

func eventsToKevents(fd int, events IOEvents, flags uint16) []unix.Kevent_t {
	var kevents []unix.Kevent_t

	if events&EventRead != 0 {
		kevents = append(kevents, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_READ,
			Flags:  flags,
		})
	}

	if events&EventWrite != 0 {
		kevents = append(kevents, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_WRITE,
			Flags:  flags,
		})
	}

	return kevents
}

func keventToEvents(kev *unix.Kevent_t) IOEvents {
	var events IOEvents
	switch kev.Filter {
	case unix.EVFILT_READ:
		events |= EventRead
	case unix.EVFILT_WRITE:
		events |= EventWrite
	}
	if kev.Flags&unix.EV_ERROR != 0 {
		events |= EventError
	}
	if kev.Flags&unix.EV_EOF != 0 {
		events |= EventHangup
	}
	return events
}
