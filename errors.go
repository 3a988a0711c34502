// Package runloop sentinel and wrapped errors.
package runloop

import (
	"errors"
	"fmt"
)

// Standard errors returned by RunInMode and the WaitSet construction path.
var (
	// ErrModeNotFound is returned by RunInMode when the named mode does not
	// exist and has never had an item registered into it.
	ErrModeNotFound = errors.New("runloop: mode not found")

	// ErrModeEmpty is returned by RunInMode when the named mode exists but
	// contains no sources, timers or (reachable, non-empty) sub-modes.
	ErrModeEmpty = errors.New("runloop: mode has no sources or timers")

	// ErrLoopDeallocating is returned by RunInMode on a Loop whose Close has
	// already been called.
	ErrLoopDeallocating = errors.New("runloop: loop is deallocating")

	// ErrReentrantRunOnOtherThread is returned when RunInMode is invoked
	// for a Loop from a goroutine other than the one that first ran it.
	ErrReentrantRunOnOtherThread = errors.New("runloop: loop may only be run by its owning goroutine")

	// ErrWaitSetInit is wrapped around fatal kernel-level failures building
	// a mode's wait set (epoll_create1/kqueue failing). This class of
	// failure is fatal: the loop cannot satisfy its contract.
	ErrWaitSetInit = errors.New("runloop: failed to construct wait set")
)

// ModeError wraps an error with the name of the mode it occurred in, so
// callers can errors.As for it without string-matching messages.
type ModeError struct {
	Mode string
	Err  error
}

func (e *ModeError) Error() string {
	return fmt.Sprintf("runloop: mode %q: %v", e.Mode, e.Err)
}

func (e *ModeError) Unwrap() error {
	return e.Err
}

// newModeError wraps err with the mode name, for RunInMode's fatal path.
func newModeError(mode string, err error) error {
	return &ModeError{Mode: mode, Err: err}
}
