package corestore

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"
)

// Store is a single in-process state container parameterized by its state
// type S and a read-only environment type E (spec.md §3). All mutation
// flows through dispatched Actions; external callers read State() or
// subscribe via SubscribeSelector.
type Store[S any, E any] struct {
	cell     *stateCell[S]
	env      E
	notifier *notifier[S, E]
	waitReg  *waitRegistry
	clock    *dispatchClock
	micro    *microtaskQueue
	idGen    IDGenerator
	props    *propBag
	mixins   *mixinState[S, E]
	policies PolicyTable
	log      *slog.Logger

	globalWrapError    func(error) error
	unhandledErrorSink func(error)
}

// Option configures a Store at construction time.
type Option[S any, E any] func(*Store[S, E])

// WithIDGenerator overrides the default UUIDGenerator (tests typically pass
// a FixedIDGenerator for deterministic DispatchIDs).
func WithIDGenerator[S any, E any](g IDGenerator) Option[S, E] {
	return func(s *Store[S, E]) { s.idGen = g }
}

// WithGlobalWrapError installs the store-wide error-wrapping stage that
// runs after any per-action ErrorWrapper (spec.md §4.6).
func WithGlobalWrapError[S any, E any](fn func(error) error) Option[S, E] {
	return func(s *Store[S, E]) { s.globalWrapError = fn }
}

// WithUnhandledErrorSink installs the sink for errors thrown by After(),
// which never affect ActionStatus (spec.md §4.1).
func WithUnhandledErrorSink[S any, E any](fn func(error)) Option[S, E] {
	return func(s *Store[S, E]) { s.unhandledErrorSink = fn }
}

// WithStateObserver registers a StateObserver at construction time.
func WithStateObserver[S any, E any](o StateObserver[S, E]) Option[S, E] {
	return func(s *Store[S, E]) { s.notifier.addStateObserver(o) }
}

// WithErrorObserver registers an ErrorObserver at construction time.
func WithErrorObserver[S any, E any](o ErrorObserver) Option[S, E] {
	return func(s *Store[S, E]) { s.notifier.addErrorObserver(o) }
}

// WithPolicyTable installs a declarative fallback for the NonReentrant,
// Debounce, Throttle and Retry mixins, consulted only for action types
// that implement none of the corresponding capability interfaces
// themselves (see policy.go).
func WithPolicyTable[S any, E any](t PolicyTable) Option[S, E] {
	return func(s *Store[S, E]) { s.policies = t }
}

// WithLogger overrides the default slog.Default(): the Executor logs
// lifecycle transitions and mixin gate decisions at Debug, and After-phase
// async errors at Error.
func WithLogger[S any, E any](log *slog.Logger) Option[S, E] {
	return func(s *Store[S, E]) { s.log = log }
}

// NewStore constructs a Store with the given initial state and environment.
func NewStore[S any, E any](initial S, env E, opts ...Option[S, E]) *Store[S, E] {
	s := &Store[S, E]{
		cell:     newStateCell(initial),
		env:      env,
		notifier: newNotifier[S, E](),
		waitReg:  newWaitRegistry(),
		clock:    newDispatchClock(),
		micro:    newMicrotaskQueue(),
		idGen:    UUIDGenerator{},
		props:    newPropBag(),
		log:      slog.Default(),
	}
	s.mixins = newMixinState(s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state value.
func (s *Store[S, E]) State() S { return s.cell.get() }

// Env returns the store's fixed environment.
func (s *Store[S, E]) Env() E { return s.env }

// DispatchCount returns the number of state-changing dispatches so far
// (spec.md §3: increments iff the reducer's result differs from the
// previous state).
func (s *Store[S, E]) DispatchCount() int64 { return s.clock.current() }

// Future is a one-shot result container returned by Dispatch. Unlike a
// Dart Future, it is never rejected: Dispatch itself cannot fail, only the
// ActionStatus it resolves to can report IsCompletedFailed.
type Future[T any] struct {
	done chan struct{}
	val  T
}

func newFuture[T any]() *Future[T] { return &Future[T]{done: make(chan struct{})} }

func (f *Future[T]) resolve(v T) {
	f.val = v
	close(f.done)
}

// Wait blocks until the Future resolves and returns its value.
func (f *Future[T]) Wait() T {
	<-f.done
	return f.val
}

// WaitContext blocks until the Future resolves or ctx is done, whichever
// comes first.
func (f *Future[T]) WaitContext(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Dispatch runs action's full Before/Reduce/After pipeline on its own
// goroutine and returns a Future that resolves to its terminal
// ActionStatus (spec.md §4.1, §4.2).
func (s *Store[S, E]) Dispatch(ctx context.Context, action Action[S, E]) *Future[ActionStatus] {
	fut := newFuture[ActionStatus]()
	go s.executeAction(ctx, action, fut, false)
	return fut
}

// DispatchSync runs action's pipeline inline on the calling goroutine and
// returns once it has fully completed. Per spec.md §4.2's sync-detection
// rule, action must be genuinely synchronous: the first AsyncEffect or
// AsyncReduction encountered in Before/Reduce fails the dispatch immediately
// with the fixed message "Can't dispatchSync() the action ..., because it
// is async." instead of being awaited.
func (s *Store[S, E]) DispatchSync(ctx context.Context, action Action[S, E]) ActionStatus {
	fut := newFuture[ActionStatus]()
	s.executeAction(ctx, action, fut, true)
	return fut.Wait()
}

// DispatchAndWait is Dispatch followed immediately by Wait.
func (s *Store[S, E]) DispatchAndWait(ctx context.Context, action Action[S, E]) ActionStatus {
	return s.Dispatch(ctx, action).Wait()
}

// DispatchAll dispatches every action concurrently and returns their
// Futures in the same order, without waiting for any of them.
func (s *Store[S, E]) DispatchAll(ctx context.Context, actions ...Action[S, E]) []*Future[ActionStatus] {
	futs := make([]*Future[ActionStatus], len(actions))
	for i, a := range actions {
		futs[i] = s.Dispatch(ctx, a)
	}
	return futs
}

// DispatchAndWaitAll dispatches every action concurrently and blocks until
// all of them have completed.
func (s *Store[S, E]) DispatchAndWaitAll(ctx context.Context, actions ...Action[S, E]) []ActionStatus {
	futs := s.DispatchAll(ctx, actions...)
	out := make([]ActionStatus, len(futs))
	for i, f := range futs {
		out[i] = f.Wait()
	}
	return out
}

// dispatchDebounced fires the deferred execution a Debounce timer
// schedules. It is detached from the original Dispatch call's own Future
// (which already resolved immediately, per spec.md §4.5) and runs with a
// background context since the original caller's ctx may since have ended.
// The context is marked so that the pre-gate lets this firing through
// instead of re-arming the Debounce timer.
func (s *Store[S, E]) dispatchDebounced(action Action[S, E]) {
	fut := newFuture[ActionStatus]()
	ctx := context.WithValue(context.Background(), debounceFiredKey{}, true)
	go s.executeAction(ctx, action, fut, false)
}

// ActionType returns the reflect.Type of A, for use with IsWaitingType and
// the other type-keyed wait primitives. A package-level function, since Go
// methods cannot introduce new type parameters beyond the receiver's.
func ActionType[A any]() reflect.Type {
	return reflect.TypeOf((*A)(nil)).Elem()
}

// IsWaitingType reports whether a truly-asynchronous action of exactly
// type t is currently in flight (spec.md §4.3). A purely synchronous
// action of that type is never reported as waiting, regardless of how
// briefly it was registered.
func (s *Store[S, E]) IsWaitingType(t reflect.Type) bool {
	return s.waitReg.isWaiting(t)
}

// WaitCondition blocks until check(State()) is true, or timeout elapses
// (timeout<=0 means no deadline beyond ctx).
func (s *Store[S, E]) WaitCondition(ctx context.Context, timeout time.Duration, check func(S) bool) error {
	return waitFor(ctx, s.waitReg.signal, timeout, func() (bool, error) {
		return check(s.cell.get()), nil
	})
}

// WaitAllActions blocks until every action in actions has completed. An
// empty actions list means "when no actions at all are in progress"
// (spec.md §4.3). If the wait condition already holds at call time,
// WaitAllActions fails with StoreException unless completeImmediately is
// true — calling it with nothing to wait for is almost always a caller
// bug, and the source this core follows treats it as a contract violation
// rather than a silent no-op.
func (s *Store[S, E]) WaitAllActions(ctx context.Context, timeout time.Duration, actions []Action[S, E], completeImmediately bool) error {
	check := func() (bool, error) {
		if len(actions) == 0 {
			return len(s.waitReg.snapshot()) == 0, nil
		}
		for _, a := range actions {
			if s.waitReg.isActionInFlight(a) {
				return false, nil
			}
		}
		return true, nil
	}

	already, _ := check()
	if already && !completeImmediately {
		return NewStoreException("waitAllActions called with no actions in progress; pass completeImmediately=true if this is expected")
	}
	return waitFor(ctx, s.waitReg.signal, timeout, check)
}

// WaitActionType blocks until no truly-asynchronous action of type t is in
// flight.
func (s *Store[S, E]) WaitActionType(ctx context.Context, timeout time.Duration, t reflect.Type) error {
	return waitFor(ctx, s.waitReg.signal, timeout, func() (bool, error) {
		return !s.waitReg.isWaiting(t), nil
	})
}

// WaitAllActionTypes blocks until none of the given types has a truly
// asynchronous instance in flight.
func (s *Store[S, E]) WaitAllActionTypes(ctx context.Context, timeout time.Duration, types []reflect.Type) error {
	return waitFor(ctx, s.waitReg.signal, timeout, func() (bool, error) {
		return !s.waitReg.isWaitingAny(types), nil
	})
}

// WaitActionCondition blocks until no in-flight action satisfies pred.
func (s *Store[S, E]) WaitActionCondition(ctx context.Context, timeout time.Duration, pred func(action any) bool) error {
	return waitFor(ctx, s.waitReg.signal, timeout, func() (bool, error) {
		for _, e := range s.waitReg.snapshot() {
			if pred(e.action) {
				return false, nil
			}
		}
		return true, nil
	})
}

// WaitAnyActionTypeFinishes blocks until one of the actions of the given
// types that is in flight right now completes. If none of those types has
// anything in flight at call time, it returns immediately (there is
// nothing to wait for).
func (s *Store[S, E]) WaitAnyActionTypeFinishes(ctx context.Context, timeout time.Duration, types []reflect.Type) error {
	wanted := make(map[reflect.Type]struct{}, len(types))
	for _, t := range types {
		wanted[t] = struct{}{}
	}

	var dones []chan struct{}
	for _, e := range s.waitReg.snapshot() {
		if _, ok := wanted[e.typ]; ok {
			dones = append(dones, e.done)
		}
	}
	if len(dones) == 0 {
		return nil
	}

	cases := make([]reflect.SelectCase, 0, len(dones)+2)
	for _, d := range dones {
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(d)})
	}
	doneCaseBase := len(cases)
	cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())})

	var timer *time.Timer
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(timer.C)})
	}

	chosen, _, _ := reflect.Select(cases)
	switch {
	case chosen < doneCaseBase:
		return nil
	case chosen == doneCaseBase:
		return ctx.Err()
	default:
		return NewTimeoutException(fmt.Sprintf("timed out after %s waiting for an action to finish", timeout))
	}
}

// SetProp stores a value in the store's property bag (spec.md §4.7).
func (s *Store[S, E]) SetProp(key, value any) { s.props.set(key, value) }

// GetProp retrieves a value previously stored with SetProp.
func (s *Store[S, E]) GetProp(key any) (any, bool) { return s.props.get(key) }

// DisposeProps removes entries matching pred (all entries if pred is nil),
// invoking each removed value's Close/Cancel/Dispose method if it has one.
func (s *Store[S, E]) DisposeProps(pred DisposePredicate) { s.props.dispose(pred) }

// Shutdown disposes every prop and removes the store from the backdoor
// global registry, if it was ever installed there.
func (s *Store[S, E]) Shutdown() {
	s.props.dispose(nil)
	clearGlobal(s)
}
