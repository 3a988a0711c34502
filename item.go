package runloop

import "sync/atomic"

// schedulingKey identifies one (Loop, mode) registration of a Source, Timer
// or Observer. Rather than a true weak reference, items hold a slice of
// these plain value keys and walk it linearly on invalidate. The loop field
// is an ordinary (strong) pointer, so a registered item keeps its Loop
// reachable; the Mode is named only. There is no finalizer or GC-driven
// cleanup to reason about. See DESIGN.md.
type schedulingKey struct {
	loop *Loop
	mode string
}

// itemSeq is the process-wide source of insertion-order tie-breaks for
// Source, Timer and Observer: each gets a monotonically increasing sequence
// number at construction time, so items with the same Order fire in the
// order they were constructed, whatever order they were registered in.
var itemSeq atomic.Uint64

func nextSeq() uint64 {
	return itemSeq.Add(1)
}
