package corestore

import (
	"context"
	"fmt"
	"reflect"
	"runtime/debug"
)

const errAfterThrow = "Method '%T.after()' has thrown an error:\n '%v'.:\n  %v"

const errDispatchSyncAsync = "Can't dispatchSync() the action %T, because it is async."

// executeAction runs the full ten-step dispatch algorithm for one action
// (spec.md §4.2) and resolves fut with the terminal ActionStatus exactly
// once. It is always run on its own goroutine except from DispatchSync,
// which calls it inline and sets enforceSync so that any AsyncEffect or
// AsyncReduction fails fast with spec.md §4.2's fixed sync-detection
// message instead of being awaited.
func (s *Store[S, E]) executeAction(ctx context.Context, action Action[S, E], fut *Future[ActionStatus], enforceSync bool) {
	entry := s.waitReg.register(action)
	builder := newStatusBuilder(s.idGen.Generate())
	builder.markDispatched()
	s.log.Debug("action dispatched", "action", fmt.Sprintf("%T", action), "dispatch_id", builder.s.DispatchID)

	finish := func() {
		builder.complete()
		s.waitReg.finish(entry)
		status := builder.snapshot()
		s.log.Debug("action completed", "action", fmt.Sprintf("%T", action),
			"dispatch_id", status.DispatchID, "ok", status.IsCompletedOk)
		fut.resolve(status)
	}

	gate, gateErr := s.mixins.preGate(ctx, action, entry)
	if gateErr != nil {
		wrapped := s.wrapError(action, gateErr)
		builder.fail(gateErr, wrapped)
		s.notifier.notifyError(gateErr, debug.Stack(), action, s.clock.current())
		s.runAfter(ctx, action, builder)
		finish()
		return
	}
	if !gate.proceed && !gate.skipToAfter {
		s.log.Debug("action gated, skipping dispatch", "action", fmt.Sprintf("%T", action), "dispatch_id", builder.s.DispatchID)
		s.runAfter(ctx, action, builder)
		finish()
		return
	}
	if gate.lockKey != nil {
		defer s.mixins.postGate(entry)
	}

	var beforeErr error
	if !gate.skipToAfter {
		beforeErr = s.runBefore(ctx, action, entry, enforceSync)
		builder.markBeforeDone()
	}

	if beforeErr != nil {
		s.failAndObserve(action, builder, beforeErr)
		s.runAfter(ctx, action, builder)
		finish()
		return
	}

	if !gate.skipToAfter {
		if reduceErr := s.runReduce(ctx, action, entry, builder, enforceSync); reduceErr != nil {
			s.failAndObserve(action, builder, reduceErr)
		}
	}

	s.runAfter(ctx, action, builder)
	finish()
}

// runBefore invokes Action.Before, rejecting malformed Effect shapes with
// the fixed message spec.md §4.2 specifies for Before, and marking the
// in-flight entry async the moment an AsyncEffect is actually observed.
// When enforceSync is set (DispatchSync), an AsyncEffect fails immediately
// with spec.md §4.2's fixed sync-detection message instead of being awaited.
func (s *Store[S, E]) runBefore(ctx context.Context, action Action[S, E], entry *inflightEntry, enforceSync bool) error {
	effect := action.Before(ctx, s)
	if !effect.valid() {
		return NewStoreException(errBeforeShape)
	}
	switch effect.kind {
	case effectKindNone:
		return nil
	case effectKindSync:
		return effect.fn(ctx)
	case effectKindAsync:
		if enforceSync {
			return NewStoreException(fmt.Sprintf(errDispatchSyncAsync, action))
		}
		s.waitReg.markAsync(entry)
		return effect.fn(ctx)
	default:
		return NewStoreException(errBeforeShape)
	}
}

// runReduce invokes Action.Reduce (or, for OptimisticUpdater actions, the
// OptimisticUpdate mixin's substitute algorithm), applies the result, and
// wraps it in the Retry mixin's backoff loop when the action opts in.
// Only Reduce is retried; Before and After each still run exactly once.
// When enforceSync is set (DispatchSync), an AsyncReduction fails immediately
// with spec.md §4.2's fixed sync-detection message instead of being awaited.
func (s *Store[S, E]) runReduce(ctx context.Context, action Action[S, E], entry *inflightEntry, builder *statusBuilder, enforceSync bool) error {
	defer builder.markReduceDone()

	if _, ok := any(action).(OptimisticUpdater[S]); ok {
		_, err := runOptimisticUpdate(ctx, s, action)
		return err
	}

	reduceOnce := func(ctx context.Context) (Reduction[S], error) {
		r := action.Reduce(ctx, s)
		if !r.valid() {
			return Reduction[S]{}, NewStoreException(errReduceShape)
		}
		if r.kind == reductionKindAsync {
			if enforceSync {
				return Reduction[S]{}, NewStoreException(fmt.Sprintf(errDispatchSyncAsync, action))
			}
			s.waitReg.markAsync(entry)
			val, has, err := r.fn(ctx)
			if err != nil {
				return Reduction[S]{}, err
			}
			s.micro.yield()
			if has {
				return SyncReduction(val), nil
			}
			return NoReduction[S](), nil
		}
		return r, nil
	}

	var r Reduction[S]
	var err error
	if retryable, ok := any(action).(Retryable); ok {
		r, err = runRetry[S](ctx, retryable.RetryPolicy(), reduceOnce)
	} else if policy, ok := s.policies.lookup(action); ok && policy.Retry != nil {
		r, err = runRetry[S](ctx, *policy.Retry, reduceOnce)
	} else {
		r, err = reduceOnce(ctx)
	}
	if err != nil {
		return err
	}

	switch r.kind {
	case reductionKindSync:
		s.applyState(action, r.value)
	case reductionKindNone:
		s.applyState(action, s.cell.get())
	}
	return nil
}

// runAfter always runs, exactly once. A non-nil return never affects
// ActionStatus — it is routed to the store's unhandled-error sink.
func (s *Store[S, E]) runAfter(ctx context.Context, action Action[S, E], builder *statusBuilder) {
	err := action.After(ctx, s)
	builder.markAfterDone()
	if err == nil {
		return
	}
	wrapped := fmt.Errorf(errAfterThrow, action, err, err)
	s.log.Error("unhandled error from After()", "action", fmt.Sprintf("%T", action), "error", err)
	if s.unhandledErrorSink != nil {
		s.unhandledErrorSink(wrapped)
	}
}

// failAndObserve records a Before/Reduce failure on builder (running it
// through the action's WrapError then the store's GlobalWrapError) and
// notifies every ErrorObserver with the pre-wrapping error, per spec.md §4.4
// and §4.6.
func (s *Store[S, E]) failAndObserve(action Action[S, E], builder *statusBuilder, original error) {
	wrapped := s.wrapError(action, original)
	builder.fail(original, wrapped)
	s.notifier.notifyError(original, debug.Stack(), action, s.clock.current())
}

// wrapError runs the per-action WrapError, then the store's GlobalWrapError.
// Either stage returning nil swallows the error for status-completion
// purposes (spec.md §4.6); a nil per-action wrap skips the global stage
// entirely, matching async_redux's "already handled" contract.
func (s *Store[S, E]) wrapError(action Action[S, E], err error) error {
	if _, isStoreErr := err.(*StoreException); isStoreErr {
		return err // contract violations always surface verbatim
	}
	wrapped := err
	if wrapper, ok := any(action).(ErrorWrapper); ok {
		wrapped = wrapper.WrapError(wrapped)
		if wrapped == nil {
			return nil
		}
	}
	if s.globalWrapError != nil {
		wrapped = s.globalWrapError(wrapped)
	}
	return wrapped
}

// applyState installs next as the store's current state, bumping
// DispatchCount only if next actually differs from the previous state
// (spec.md §3). The state-change notifier and the wait-registry signal fire
// on every call, changed or not. action may be nil — the
// OptimisticSync/OptimisticSyncWithPush/ServerPush mixins apply state from
// their own background goroutine, decoupled from any one dispatching
// action's Executor run.
func (s *Store[S, E]) applyState(action Action[S, E], next S) {
	before := s.cell.get()
	s.cell.set(next)
	changed := !reflect.DeepEqual(any(before), any(next))
	count := s.clock.current()
	if changed {
		count = s.clock.next()
	}
	s.notifier.notifyStateChange(action, before, next, count)
	s.waitReg.signal.notify()
}
