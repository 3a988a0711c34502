//go:build linux

//lint:file-ignore U1000 Platform-specific stub functions (required for Windows/Darwin compatibility)

package runloop

import (
	"golang.org/x/sys/unix"
)

const (
	EFD_CLOEXEC  = unix.EFD_CLOEXEC
	EFD_NONBLOCK = unix.EFD_NONBLOCK
)

// createWakeFd creates an eventfd for wake-up notifications (Linux).
// Returns the single eventfd as both read and write ends.
func createWakeFd(initval uint, flags int) (int, int, error) {
	fd, err := unix.Eventfd(initval, flags)
	return fd, fd, err
}

// closeWakeFd closes the wake eventfd on Linux.
func closeWakeFd(wakeFd, wakeWriteFd int) error {
	if wakeFd >= 0 {
		_ = unix.Close(wakeFd)
	}
	return nil
}

// drainWakeUpPipe drains the wake eventfd on Linux, reading until it reports
// no more data so the next PollIO doesn't immediately observe it as
// readable again. The eventfd is EFD_NONBLOCK, so the read loop terminates
// on EAGAIN.
func drainWakeUpPipe(fd int) error {
	if fd < 0 {
		return nil
	}
	var buf [8]byte
	for {
		if _, err := unix.Read(fd, buf[:]); err != nil {
			break
		}
	}
	return nil
}

// createWakeChannel is a stub on Linux: wake-up goes through the eventfd
// registered via RegisterWake, not a channel. Exists for signature
// compatibility with the Windows build.
func createWakeChannel() chan struct{} {
	return nil
}

// submitWakeChannel is a stub on Linux; never called since the loop's
// wakeCh is always nil here.
func submitWakeChannel(ch chan struct{}) {}
