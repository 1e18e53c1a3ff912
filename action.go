package corestore

import (
	"context"
	"time"
)

// Action is a unit of intent dispatched against a Store[S, E]. Implementers
// provide the three lifecycle phases; Reduce is the only one that may
// change state. See spec.md §4.2 for the full execution algorithm.
type Action[S any, E any] interface {
	// Before runs first. A non-nil error (or an error from an AsyncEffect)
	// skips Reduce entirely and jumps straight to After.
	Before(ctx context.Context, store *Store[S, E]) Effect

	// Reduce computes the next state. NoReduction() is a no-op.
	Reduce(ctx context.Context, store *Store[S, E]) Reduction[S]

	// After always runs, exactly once, regardless of how Before/Reduce
	// exited. It never affects ActionStatus.IsCompletedFailed; a non-nil
	// return is reported asynchronously to the store's unhandled-error sink.
	After(ctx context.Context, store *Store[S, E]) error
}

// ErrorWrapper lets an action rewrite its own error before the store's
// GlobalWrapError runs. Returning nil swallows the error (spec.md §4.6).
type ErrorWrapper interface {
	WrapError(err error) error
}

// NonReentrant opts an action type into the NonReentrant mixin: while any
// action with the same key is in flight, subsequent dispatches of that key
// are aborted before Before runs (spec.md §4.5).
type NonReentrant interface {
	NonReentrantKeyParams() []any
}

// NonReentrantKeyer overrides NonReentrant's default key computation
// entirely, in place of NonReentrantKeyParams.
type NonReentrantKeyer interface {
	ComputeNonReentrantKey() any
}

// Debounced opts an action type into the Debounce mixin: rapid dispatches
// within Duration reset a timer; only the last one actually executes.
type Debounced interface {
	DebounceDuration() time.Duration
}

// Throttled opts an action type into the Throttle mixin: dispatches within
// Duration of the last successful fire are silently dropped.
type Throttled interface {
	ThrottleDuration() time.Duration
}

// RetryPolicy configures the Retry mixin's exponential backoff.
type RetryPolicy struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxRetries   int // ignored when Unlimited is true
	Unlimited    bool
}

// DefaultRetryPolicy matches spec.md §4.5's defaults (maxRetries=3).
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{InitialDelay: 50 * time.Millisecond, Multiplier: 2, MaxRetries: 3}
}

// Retryable opts an action type into the Retry mixin: only Reduce is
// retried on failure; Before and After each still run exactly once.
type Retryable interface {
	RetryPolicy() RetryPolicy
}

// OptimisticUpdater implements the OptimisticUpdate mixin's four required
// hooks (spec.md §4.5). Value is carried as `any` because the "optimistic
// value" type need not be S itself (e.g. a bool `liked` flag inside a
// larger state struct).
type OptimisticUpdater[S any] interface {
	NewValue(ctx context.Context) (any, error)
	GetValueFromState(s S) any
	ApplyValueToState(s S, v any) S
	SaveValue(ctx context.Context, v any) error
}

// OptimisticReloader is the OptimisticUpdate mixin's optional fifth hook.
type OptimisticReloader[S any] interface {
	ReloadValue(ctx context.Context) (any, error)
}

// OptimisticSyncer implements the OptimisticSync ("stable-sync") mixin.
// SyncKey partitions coalescing state: concurrent actions sharing a key
// coalesce to one in-flight server write, per spec.md §4.5.
type OptimisticSyncer[S any] interface {
	SyncKey() any
	ValueToApply(ctx context.Context, s S) (any, error)
	GetValueFromState(s S) any
	ApplyValueToState(s S, v any) S
	SendValueToServer(ctx context.Context, v any) (response any, err error)
	ApplyServerResponseToState(s S, response any) S
	OnFinish(err error)
}

// RevisionedSyncer extends OptimisticSyncer with the revision arithmetic
// OptimisticSyncWithPush needs (spec.md §4.5): each server response reports
// the revision it was computed against, and responses at or below the
// currently recorded revision for the key are dropped as stale.
type RevisionedSyncer[S any] interface {
	OptimisticSyncer[S]
	ResponseRevision(response any) int64
}

// ServerPushAction marks an action as an unsolicited server push rather
// than a locally-initiated sync. Pushes bypass the lock entirely: a push
// whose revision is strictly greater than the key's currently recorded
// revision applies immediately; otherwise it is dropped. Pushes never
// increment the key's local revision (spec.md §4.5).
type ServerPushAction[S any] interface {
	SyncKey() any
	PushRevision() int64
	ApplyPush(s S) S
}

// InternetChecker implements the CheckInternet mixin's connectivity probe.
// A non-nil return fails the dispatch fast with UserException("No internet").
type InternetChecker interface {
	CheckInternet(ctx context.Context) error
}

// UnlimitedRetryCheckInternet marks an InternetChecker action as looping
// the whole action (not just the probe) until connectivity is restored.
type UnlimitedRetryCheckInternet interface {
	InternetChecker
	UnlimitedRetryCheckInternet() bool
}
