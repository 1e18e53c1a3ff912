package corestore

import "sync/atomic"

// dispatchClock is a monotonic counter for Store.DispatchCount, modeled
// directly on the teacher engine's logical clock (internal/engine/clock.go):
// atomic, never reset, used purely for ordering rather than wall time.
//
// Unlike the teacher's Clock, dispatchClock only advances when the
// reducer's result actually changes state (spec.md §3: "dispatchCount
// increments iff newState != previousState"), so Next is called by the
// Executor only after that comparison, not once per dispatch.
type dispatchClock struct {
	seq atomic.Int64
}

func newDispatchClock() *dispatchClock { return &dispatchClock{} }

func (c *dispatchClock) next() int64 { return c.seq.Add(1) }

func (c *dispatchClock) current() int64 { return c.seq.Load() }

// microtaskQueue models the "forced microtask of suspension" spec.md §4.2
// step 6 requires before applying a reducer result that arrived as an
// already-completed future. Go has no notion of a completed-vs-pending
// future, so every AsyncReduction's result is routed through here
// unconditionally: runReduce calls yield after every AsyncReduction fn
// returns without error, before applying the value. This
// is the unconditional one-tick-delay strategy Design Notes §9 prescribes
// as the statically-typed-language replacement for completed-future
// detection.
type microtaskQueue struct{}

func newMicrotaskQueue() *microtaskQueue { return &microtaskQueue{} }

// yield forces one suspension point, giving any other goroutine that was
// scheduled in the gap between a reducer returning and its value being
// applied a chance to run first. A channel round-trip through a freshly
// spawned goroutine is the Go equivalent of awaiting one microtask: the
// runtime must actually hand off to the scheduler to deliver the close.
func (q *microtaskQueue) yield() {
	done := make(chan struct{})
	go func() { close(done) }()
	<-done
}
