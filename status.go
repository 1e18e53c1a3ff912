package corestore

// ActionStatus records one action's progress through the Before/Reduce/After
// lifecycle. Flags are set forward-only and never reset; ActionStatus is
// immutable once IsCompleted is true (the Executor publishes a frozen copy
// at each transition via statusBuilder.snapshot).
//
// See spec.md §4.1 for the full state machine and spec.md §8 for the exact
// flag combinations required on each failure path.
type ActionStatus struct {
	// DispatchID is a time-sortable correlation ID assigned at dispatch,
	// generated by the store's IDGenerator (see ids.go).
	DispatchID string

	IsDispatched            bool
	HasFinishedMethodBefore bool
	HasFinishedMethodReduce bool
	HasFinishedMethodAfter  bool

	IsCompleted       bool
	IsCompletedOk     bool
	IsCompletedFailed bool

	// OriginalError carries the first Before/Reduce throw, unwrapped.
	OriginalError error
	// WrappedError carries the result of the per-action WrapError, else the
	// store's GlobalWrapError, else equals OriginalError.
	WrappedError error
}

// statusBuilder accumulates ActionStatus flags for one in-flight dispatch.
// It is owned exclusively by the Executor's dispatch goroutine for that
// action; Snapshot() is the only way to observe it from elsewhere.
type statusBuilder struct {
	s ActionStatus
}

func newStatusBuilder(dispatchID string) *statusBuilder {
	return &statusBuilder{s: ActionStatus{DispatchID: dispatchID}}
}

func (b *statusBuilder) markDispatched() { b.s.IsDispatched = true }

func (b *statusBuilder) markBeforeDone() { b.s.HasFinishedMethodBefore = true }

func (b *statusBuilder) markReduceDone() { b.s.HasFinishedMethodReduce = true }

func (b *statusBuilder) markAfterDone() { b.s.HasFinishedMethodAfter = true }

// fail records the first Before/Reduce error. Subsequent calls (there
// should be none, by construction of the Executor) are ignored so the
// *first* throw wins, per spec.md §4.1 ("OriginalError carries the first
// before/reduce throw").
func (b *statusBuilder) fail(original, wrapped error) {
	if b.s.OriginalError != nil {
		return
	}
	b.s.OriginalError = original
	b.s.WrappedError = wrapped
}

// complete sets the terminal flags. ok and failed are mutually exclusive.
// Completion is driven by WrappedError rather than OriginalError: an
// ErrorWrapper (or the store's GlobalWrapError) that swallows an error by
// returning nil leaves WrappedError nil, and the dispatch is then reported
// as having completed ok even though OriginalError is recorded for
// observers (spec.md §4.6).
func (b *statusBuilder) complete() {
	b.s.IsCompleted = true
	if b.s.WrappedError != nil {
		b.s.IsCompletedFailed = true
	} else {
		b.s.IsCompletedOk = true
	}
}

func (b *statusBuilder) snapshot() ActionStatus { return b.s }
