package runloop

import (
	"os"
	"runtime"
	"sync"
)

// getGoroutineID returns the current goroutine's id, parsed out of the
// "goroutine N [...]" header runtime.Stack prints for a non-all dump.
// Grounded on the teacher's loop-affinity check of the same name.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}

// registryEntry pairs a Loop with the pid that was current when it was
// bound to a goroutine id, so a post-fork child (pid mismatch) gets a
// fresh loop instead of inheriting the parent's.
type registryEntry struct {
	loop *Loop
	pid  int
}

var perGoroutine sync.Map // goroutine id (uint64) -> *registryEntry

var mainLoop struct {
	sync.Mutex
	loop *Loop
	pid  int
}

// Current returns the Loop bound to the calling goroutine, creating one on
// first use. Distinct goroutines never share a Loop.
func Current() *Loop {
	gid := getGoroutineID()
	pid := os.Getpid()

	if v, ok := perGoroutine.Load(gid); ok {
		entry := v.(*registryEntry)
		if entry.pid == pid {
			return entry.loop
		}
	}

	loop := newLoop()
	perGoroutine.Store(gid, &registryEntry{loop: loop, pid: pid})
	return loop
}

// Main returns the process-wide designated main-thread Loop, creating it
// on first use. Every call from every goroutine observes the same Loop
// unless the process has forked, in which case the child lazily gets its
// own.
func Main() *Loop {
	pid := os.Getpid()

	mainLoop.Lock()
	defer mainLoop.Unlock()
	if mainLoop.loop != nil && mainLoop.pid == pid {
		return mainLoop.loop
	}

	mainLoop.loop = newLoop()
	mainLoop.pid = pid
	return mainLoop.loop
}
