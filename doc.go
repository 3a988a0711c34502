// Package runloop provides a general-purpose event loop runtime bound to a
// goroutine, multiplexing externally-signalled sources, deadline-based
// timers and phase observers across one or more named modes.
//
// # Architecture
//
// A [Loop] owns zero or more [Mode] instances, looked up by name. A mode is
// an activation scope: only sources, timers and observers registered in the
// mode currently being run by [Loop.RunInMode] are serviced. This lets a
// caller temporarily exclude classes of work — for example, suspending
// normal event delivery while a nested modal interaction runs in its own
// mode.
//
// Three kinds of work items exist:
//
//   - [Source]: user work dispatched either on explicit [Source.Signal]
//     (a "manual" source) or when a registered kernel handle becomes
//     readable (a "port" source, see [NewPortSource]).
//   - [Timer]: wall-clock deadline work, one-shot or periodic.
//   - [Observer]: a callback invoked at fixed phase boundaries of a single
//     loop iteration ([ActivityEntry] through [ActivityExit]).
//
// # Platform support
//
// The wait primitive that blocks a [RunInMode] iteration until a handle
// fires or a deadline passes is implemented using platform-native
// multiplexers:
//   - Linux: epoll
//   - Darwin: kqueue
//   - Windows: channel + timer based polling (no native multiplexer; see
//     DESIGN.md for the reasoning)
//
// # Thread affinity
//
// Each goroutine that calls [Current] is associated with exactly one
// [Loop], created lazily on first use, mirroring per-thread run loop
// association. [Main] returns a single process-wide loop that is kept
// apart from the per-goroutine [Current] registry. A [Loop] may only be
// driven (via [Loop.RunInMode]) by the goroutine that first ran it;
// registration methods ([Loop.AddSource],
// [Loop.AddTimer], [Loop.AddObserver], [Loop.AddCommonMode]) are safe to
// call from any goroutine, including cross-thread wake-up via
// [Loop.WakeUp] and [Source.Signal].
//
// # Ordering
//
// Within a single phase of one iteration, items fire in strictly ascending
// Order; ties resolve by the order in which the items were constructed,
// not the order in which they were registered. Sub-modes are visited in the
// order they were registered as sub-modes of their parent.
//
// # Usage
//
//	loop := runloop.Current()
//	var src *runloop.Source
//	src = runloop.NewManualSource(0, func() {
//	    fmt.Println("fired")
//	    loop.Stop()
//	})
//	loop.AddSource(src, runloop.ModeDefault)
//	src.Signal()
//	loop.Run()
package runloop
