package corestore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterState struct {
	Count int
	Log   []string
}

type env struct{}

type incrementBy struct {
	N int
}

func (a incrementBy) Before(ctx context.Context, store *Store[counterState, env]) Effect {
	return NoEffect()
}

func (a incrementBy) Reduce(ctx context.Context, store *Store[counterState, env]) Reduction[counterState] {
	s := store.State()
	s.Count += a.N
	return SyncReduction(s)
}

func (a incrementBy) After(ctx context.Context, store *Store[counterState, env]) error { return nil }

func newCounterStore(opts ...Option[counterState, env]) *Store[counterState, env] {
	return NewStore[counterState, env](counterState{}, env{}, opts...)
}

func TestDispatchSync_AppliesReducer(t *testing.T) {
	store := newCounterStore()
	status := store.DispatchSync(context.Background(), incrementBy{N: 5})

	assert.True(t, status.IsDispatched)
	assert.True(t, status.HasFinishedMethodBefore)
	assert.True(t, status.HasFinishedMethodReduce)
	assert.True(t, status.HasFinishedMethodAfter)
	assert.True(t, status.IsCompletedOk)
	assert.False(t, status.IsCompletedFailed)
	assert.Equal(t, 5, store.State().Count)
	assert.Equal(t, int64(1), store.DispatchCount())
}

func TestDispatch_ResolvesFuture(t *testing.T) {
	store := newCounterStore()
	status := store.Dispatch(context.Background(), incrementBy{N: 3}).Wait()

	assert.True(t, status.IsCompletedOk)
	assert.Equal(t, 3, store.State().Count)
}

func TestNoReduction_DoesNotBumpDispatchCount(t *testing.T) {
	store := newCounterStore()

	store.DispatchSync(context.Background(), incrementBy{N: 1})
	before := store.DispatchCount()

	status := store.DispatchSync(context.Background(), noReductionAction{})
	assert.True(t, status.IsCompletedOk)
	assert.Equal(t, before, store.DispatchCount())
}

type noReductionAction struct{}

func (noReductionAction) Before(ctx context.Context, store *Store[counterState, env]) Effect {
	return NoEffect()
}
func (noReductionAction) Reduce(ctx context.Context, store *Store[counterState, env]) Reduction[counterState] {
	return NoReduction[counterState]()
}
func (noReductionAction) After(ctx context.Context, store *Store[counterState, env]) error { return nil }

type failingBefore struct{ err error }

func (a failingBefore) Before(ctx context.Context, store *Store[counterState, env]) Effect {
	return SyncEffect(func(ctx context.Context) error { return a.err })
}
func (a failingBefore) Reduce(ctx context.Context, store *Store[counterState, env]) Reduction[counterState] {
	return NoReduction[counterState]()
}
func (a failingBefore) After(ctx context.Context, store *Store[counterState, env]) error { return nil }

func TestBeforeError_SkipsReduceAndFailsStatus(t *testing.T) {
	store := newCounterStore()
	sentinel := errors.New("boom")

	status := store.DispatchSync(context.Background(), failingBefore{err: sentinel})

	assert.True(t, status.HasFinishedMethodBefore)
	assert.False(t, status.HasFinishedMethodReduce)
	assert.True(t, status.HasFinishedMethodAfter)
	assert.True(t, status.IsCompletedFailed)
	assert.ErrorIs(t, status.OriginalError, sentinel)
	assert.ErrorIs(t, status.WrappedError, sentinel)
}

func TestErrorWrapper_CanSwallowError(t *testing.T) {
	store := newCounterStore()
	status := store.DispatchSync(context.Background(), swallowingAction{})

	assert.True(t, status.IsCompletedOk)
	assert.False(t, status.IsCompletedFailed)
	assert.Error(t, status.OriginalError)
	assert.NoError(t, status.WrappedError)
}

type swallowingAction struct{}

func (swallowingAction) Before(ctx context.Context, store *Store[counterState, env]) Effect {
	return SyncEffect(func(ctx context.Context) error { return errors.New("ignored") })
}
func (swallowingAction) Reduce(ctx context.Context, store *Store[counterState, env]) Reduction[counterState] {
	return NoReduction[counterState]()
}
func (swallowingAction) After(ctx context.Context, store *Store[counterState, env]) error { return nil }
func (swallowingAction) WrapError(err error) error                                        { return nil }

func TestGlobalWrapError_RunsAfterPerActionWrap(t *testing.T) {
	var seen error
	store := newCounterStore(WithGlobalWrapError[counterState, env](func(err error) error {
		seen = err
		return NewUserException("wrapped").WithHardCause(err)
	}))

	status := store.DispatchSync(context.Background(), failingBefore{err: errors.New("root cause")})

	require.Error(t, seen)
	assert.True(t, status.IsCompletedFailed)
	var ue *UserException
	assert.ErrorAs(t, status.WrappedError, &ue)
}

func TestAsyncReduction_MarksWaitingUntilApplied(t *testing.T) {
	store := newCounterStore()
	release := make(chan struct{})
	action := asyncAction{release: release}

	fut := store.Dispatch(context.Background(), action)

	require.Eventually(t, func() bool {
		return store.IsWaitingType(ActionType[asyncAction]())
	}, time.Second, time.Millisecond)

	close(release)
	status := fut.Wait()

	assert.True(t, status.IsCompletedOk)
	assert.Equal(t, 42, store.State().Count)
	assert.False(t, store.IsWaitingType(ActionType[asyncAction]()))
}

type asyncAction struct {
	release chan struct{}
}

func (a asyncAction) Before(ctx context.Context, store *Store[counterState, env]) Effect {
	return NoEffect()
}
func (a asyncAction) Reduce(ctx context.Context, store *Store[counterState, env]) Reduction[counterState] {
	return AsyncReduction(func(ctx context.Context) (counterState, bool, error) {
		<-a.release
		s := store.State()
		s.Count = 42
		return s, true, nil
	})
}
func (a asyncAction) After(ctx context.Context, store *Store[counterState, env]) error { return nil }

func TestWaitAllActions_BlocksUntilEmpty(t *testing.T) {
	store := newCounterStore()
	release := make(chan struct{})
	fut := store.Dispatch(context.Background(), asyncAction{release: release})

	done := make(chan error, 1)
	go func() {
		done <- store.WaitAllActions(context.Background(), time.Second, nil, true)
	}()

	select {
	case <-done:
		t.Fatal("WaitAllActions returned before the async action finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	fut.Wait()
	require.NoError(t, <-done)
}

func TestWaitAllActions_EmptyWithNothingInFlightFails(t *testing.T) {
	store := newCounterStore()

	err := store.WaitAllActions(context.Background(), time.Second, nil, false)
	require.Error(t, err)
	var storeErr *StoreException
	assert.ErrorAs(t, err, &storeErr)

	require.NoError(t, store.WaitAllActions(context.Background(), time.Second, nil, true))
}

func TestNonReentrant_CollisionIsSilentlyAborted(t *testing.T) {
	store := newCounterStore()
	var wg sync.WaitGroup
	results := make([]ActionStatus, 2)

	block := make(chan struct{})
	first := blockingNonReentrant{delta: 1, block: block}

	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0] = store.DispatchSync(context.Background(), first)
	}()
	go func() {
		defer wg.Done()
		time.Sleep(10 * time.Millisecond)
		results[1] = store.DispatchSync(context.Background(), blockingNonReentrant{delta: 100, block: nil})
	}()

	time.Sleep(15 * time.Millisecond)
	close(block)
	wg.Wait()

	assert.True(t, results[0].IsCompletedOk)
	assert.True(t, results[1].IsCompletedOk)
	assert.Equal(t, 1, store.State().Count, "the colliding dispatch must never apply its reducer")
	assert.True(t, results[1].HasFinishedMethodAfter, "After must still run on a silently-aborted dispatch")
}

type blockingNonReentrant struct {
	delta int
	block chan struct{}
}

func (a blockingNonReentrant) NonReentrantKeyParams() []any { return []any{"same-key"} }
func (a blockingNonReentrant) Before(ctx context.Context, store *Store[counterState, env]) Effect {
	if a.block == nil {
		return NoEffect()
	}
	return SyncEffect(func(ctx context.Context) error {
		<-a.block
		return nil
	})
}
func (a blockingNonReentrant) Reduce(ctx context.Context, store *Store[counterState, env]) Reduction[counterState] {
	s := store.State()
	s.Count += a.delta
	return SyncReduction(s)
}
func (a blockingNonReentrant) After(ctx context.Context, store *Store[counterState, env]) error {
	return nil
}

func TestDebounce_OnlyLastDispatchRuns(t *testing.T) {
	store := newCounterStore()

	for i := 0; i < 5; i++ {
		store.Dispatch(context.Background(), debouncedIncrement{delta: i + 1})
		time.Sleep(2 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return store.State().Count == 5
	}, time.Second, 5*time.Millisecond, "only the final debounced dispatch (delta=5) should apply")
}

type debouncedIncrement struct{ delta int }

func (debouncedIncrement) DebounceDuration() time.Duration { return 20 * time.Millisecond }
func (a debouncedIncrement) Before(ctx context.Context, store *Store[counterState, env]) Effect {
	return NoEffect()
}
func (a debouncedIncrement) Reduce(ctx context.Context, store *Store[counterState, env]) Reduction[counterState] {
	s := store.State()
	s.Count = a.delta
	return SyncReduction(s)
}
func (a debouncedIncrement) After(ctx context.Context, store *Store[counterState, env]) error {
	return nil
}

func TestSubscribeSelector_FiresOnlyWhenSelectionChanges(t *testing.T) {
	store := newCounterStore()
	fires := 0
	unsub := SubscribeSelector(store, func(s counterState) int { return s.Count },
		func(a, b int) bool { return a == b },
		func() { fires++ })
	defer unsub()

	store.DispatchSync(context.Background(), incrementBy{N: 0}) // no-op reducer value unchanged in Count
	store.DispatchSync(context.Background(), incrementBy{N: 1})
	store.DispatchSync(context.Background(), incrementBy{N: 0})

	assert.Equal(t, 1, fires)
}

func TestConsumeEvent_MarksSpentAndReadsOnce(t *testing.T) {
	type withEvent struct {
		Notice Event[string]
	}
	store := NewStore[withEvent, env](withEvent{Notice: NewEvent("hello")}, env{})

	lens := EventLens[withEvent, string]{
		Get: func(s withEvent) Event[string] { return s.Notice },
		Set: func(s withEvent, e Event[string]) withEvent { s.Notice = e; return s },
	}

	value, ok := ConsumeEvent(store, lens)
	require.True(t, ok)
	assert.Equal(t, "hello", value)

	_, ok = ConsumeEvent(store, lens)
	assert.False(t, ok, "a second consumption of the same event must report not-ok")
}

func TestBackdoorStaticGlobal_RoundTrips(t *testing.T) {
	store := newCounterStore()
	accessor := BackdoorStaticGlobal(store)
	assert.Same(t, store, accessor())
	store.Shutdown()
}

func TestRetryable_RetriesOnlyReduce(t *testing.T) {
	store := newCounterStore()
	attempts := 0
	action := retryingAction{
		attempts: &attempts,
		failUntil: 2,
	}

	status := store.DispatchAndWait(context.Background(), action)
	assert.True(t, status.IsCompletedOk)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 1, store.State().Count)
}

type retryingAction struct {
	attempts  *int
	failUntil int
}

func (retryingAction) RetryPolicy() RetryPolicy {
	return RetryPolicy{InitialDelay: time.Millisecond, Multiplier: 1, MaxRetries: 5}
}
func (a retryingAction) Before(ctx context.Context, store *Store[counterState, env]) Effect {
	return NoEffect()
}
func (a retryingAction) Reduce(ctx context.Context, store *Store[counterState, env]) Reduction[counterState] {
	return AsyncReduction(func(ctx context.Context) (counterState, bool, error) {
		*a.attempts++
		if *a.attempts <= a.failUntil {
			return counterState{}, false, errors.New("transient failure")
		}
		s := store.State()
		s.Count = 1
		return s, true, nil
	})
}
func (a retryingAction) After(ctx context.Context, store *Store[counterState, env]) error { return nil }
