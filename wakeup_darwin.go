//go:build darwin

package runloop

import (
	"syscall"

	"golang.org/x/sys/unix"
)

const (
	EFD_CLOEXEC  = unix.O_CLOEXEC
	EFD_NONBLOCK = unix.O_NONBLOCK
)

// createWakeFd creates a self-pipe for wake-up notifications (Darwin).
// Returns the read end and the write end of the pipe.
// Note: initval and flags parameters are ignored on Darwin (API compatibility with Linux eventfd).
func createWakeFd(initval uint, flags int) (int, int, error) {
	_ = initval
	_ = flags

	var fds [2]int
	if err := syscall.Pipe(fds[:]); err != nil {
		return 0, 0, err
	}

	// On failure, close both pipe ends to avoid resource leak
	cleanup := func() {
		syscall.Close(fds[0])
		syscall.Close(fds[1])
	}

	syscall.CloseOnExec(fds[0])
	syscall.CloseOnExec(fds[1])

	if err := syscall.SetNonblock(fds[0], true); err != nil {
		cleanup()
		return 0, 0, err
	}
	if err := syscall.SetNonblock(fds[1], true); err != nil {
		cleanup()
		return 0, 0, err
	}

	return fds[0], fds[1], nil
}

// drainWakeUpPipe drains the wake self-pipe on Darwin, reading until it
// reports no more data so the next PollIO doesn't immediately observe it as
// readable again. The read end is non-blocking, so the loop terminates on
// EAGAIN.
func drainWakeUpPipe(fd int) error {
	if fd < 0 {
		return nil
	}
	var buf [64]byte
	for {
		n, err := syscall.Read(fd, buf[:])
		if err != nil || n <= 0 {
			break
		}
	}
	return nil
}

// closeWakeFd closes wake pipe fds.
func closeWakeFd(wakeFd, wakeWriteFd int) error {
	if wakeFd >= 0 {
		_ = syscall.Close(wakeFd)
	}
	if wakeWriteFd >= 0 && wakeWriteFd != wakeFd {
		_ = syscall.Close(wakeWriteFd)
	}
	return nil
}

// createWakeChannel is a stub on Darwin: wake-up goes through the self-pipe
// registered via RegisterWake, not a channel. Exists for signature
// compatibility with the Windows build.
func createWakeChannel() chan struct{} {
	return nil
}

// submitWakeChannel is a stub on Darwin; never called since the loop's
// wakeCh is always nil here.
func submitWakeChannel(ch chan struct{}) {}
