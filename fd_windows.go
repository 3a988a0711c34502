//go:build windows

package runloop

import (
	"errors"

	"golang.org/x/sys/windows"
)

// EFD_CLOEXEC and EFD_NONBLOCK are Unix eventfd flags, unused on Windows but
// defined so createWakeFd's signature compiles identically on every
// platform.
const (
	EFD_CLOEXEC  = 0
	EFD_NONBLOCK = 0
)

// createWakeFd reports that Windows has no fd-based wake mechanism: the loop
// falls back to createWakeChannel instead. Returning -1, -1 tells the loop
// construction path to skip wake-pipe registration.
func createWakeFd(initval uint, flags int) (int, int, error) {
	return -1, -1, nil
}

// closeWakeFd is a no-op on Windows; there are no wake fds to close.
func closeWakeFd(wakeFd, wakeWriteFd int) error {
	return nil
}

// drainWakeUpPipe is a no-op on Windows; the wake channel send/receive
// already consumes its own signal.
func drainWakeUpPipe(fd int) error {
	return nil
}

// createWakeChannel allocates the persistent, buffered wake channel a Loop
// uses for cross-thread WakeUp on Windows, where there is no wake fd to
// register with the WaitSet.
func createWakeChannel() chan struct{} {
	return make(chan struct{}, 1)
}

// submitWakeChannel performs a non-blocking send, coalescing concurrent
// wake-ups the same way a one-shot eventfd coalesces writes.
func submitWakeChannel(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// closeFD is not used for the wake mechanism on Windows (wakeFd is always
// -1), but remains for symmetry with the Unix build; port sources that wrap
// a genuine Windows handle should close it themselves.
func closeFD(fd int) error {
	if fd >= 0 {
		return errors.New("runloop: closeFD not supported on Windows for wake mechanism")
	}
	return nil
}

func readFD(fd int, buf []byte) (int, error) {
	return 0, nil
}

func writeFD(fd int, buf []byte) (int, error) {
	return 0, nil
}

// fdReadable approximates readiness for a registered Windows handle without
// IOCP: it asks the kernel whether the handle is currently in the signaled
// state via a zero-timeout wait. This is accurate for waitable handles
// (events, processes, manual-reset notification objects) but is only an
// approximation for a raw socket handle with no associated event object —
// see DESIGN.md for the documented limitation of the Windows WaitSet.
func fdReadable(fd int) bool {
	h := windows.Handle(fd)
	ret, err := windows.WaitForSingleObject(h, 0)
	if err != nil {
		return false
	}
	return ret == windows.WAIT_OBJECT_0
}
