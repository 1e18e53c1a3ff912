package corestore

import "context"

// reductionKind tags a Reduction's shape. The zero value, reductionKindInvalid,
// can only arise from constructing a Reduction[S] literal directly instead of
// through NoReduction/SyncReduction/AsyncReduction — the Executor rejects it
// at dispatch time with the fixed message from spec.md §4.2.
type reductionKind int

const (
	reductionKindInvalid reductionKind = iota
	reductionKindNone
	reductionKindSync
	reductionKindAsync
)

// Reduction is the tagged return value of Action.Reduce. It stands in for
// Dart's *null | S | Future<S?>* return shapes (spec.md §4.2, §4.8) using a
// compile-time sum type, per the Design Notes §9 "small sum type
// ReduceResult = None | Sync(S) | Async(Promise<S | None>)".
//
// The only forbidden shapes in the original spec — a nullable Future, or a
// Future-or-value union — have no constructor here and so cannot be built;
// the Executor still runs a runtime well-formedness check (reductionKind
// must be one of the three valid values) so that a caller who builds a zero
// value by hand fails with the same fixed error text the source spec uses.
type Reduction[S any] struct {
	kind  reductionKind
	value S
	fn    func(context.Context) (S, bool, error) // value, hasValue, err
}

// NoReduction is a no-op: state is unchanged, dispatchCount does not
// increment, but the state-observer callback still runs with
// stateBefore==stateAfter (spec.md §4.2 step 5).
func NoReduction[S any]() Reduction[S] {
	return Reduction[S]{kind: reductionKindNone}
}

// SyncReduction returns next as the new state, applied synchronously.
func SyncReduction[S any](next S) Reduction[S] {
	return Reduction[S]{kind: reductionKindSync, value: next}
}

// AsyncReduction wraps fn, which is awaited before its result (if any) is
// applied. fn returns (value, hasValue, err); hasValue=false is the async
// equivalent of a null reducer result (a no-op).
func AsyncReduction[S any](fn func(context.Context) (S, bool, error)) Reduction[S] {
	return Reduction[S]{kind: reductionKindAsync, fn: fn}
}

func (r Reduction[S]) isAsync() bool { return r.kind == reductionKindAsync }

func (r Reduction[S]) valid() bool {
	switch r.kind {
	case reductionKindNone, reductionKindSync, reductionKindAsync:
		return true
	default:
		return false
	}
}

// effectKind tags an Effect's shape, standing in for Before/After's
// *void | Future<void>* return shapes.
type effectKind int

const (
	effectKindInvalid effectKind = iota
	effectKindNone
	effectKindSync
	effectKindAsync
)

// Effect is the tagged return value of Action.Before (and, informally, the
// shape After always has: fire-and-forget, never itself status-bearing).
type Effect struct {
	kind effectKind
	fn   func(context.Context) error
}

// NoEffect performs no work; Before returning NoEffect() is the equivalent
// of Dart's synchronous `void` return.
func NoEffect() Effect { return Effect{kind: effectKindNone} }

// SyncEffect runs fn inline, synchronously, on the dispatching goroutine.
func SyncEffect(fn func(context.Context) error) Effect {
	return Effect{kind: effectKindSync, fn: fn}
}

// AsyncEffect marks the action async; runBefore (executor.go) then calls fn
// on the dispatching goroutine and waits for it before Reduce. An action
// with any AsyncEffect/AsyncReduction in Before/Reduce is async as a whole,
// and DispatchSync rejects it.
func AsyncEffect(fn func(context.Context) error) Effect {
	return Effect{kind: effectKindAsync, fn: fn}
}

func (e Effect) isAsync() bool { return e.kind == effectKindAsync }

func (e Effect) valid() bool {
	switch e.kind {
	case effectKindNone, effectKindSync, effectKindAsync:
		return true
	default:
		return false
	}
}

const errBeforeShape = "Before should return `void` or `Future<void>`. Do not return `FutureOr`."

const errReduceShape = "Reducer should return `St?` or `Future<St?>`. Do not return `Future<St?>?`."
