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

type likeState struct {
	Liked bool
}

type likeAction struct {
	target    bool
	saveErr   error
	saveCalls *int
}

func (a likeAction) NewValue(ctx context.Context) (any, error) { return a.target, nil }
func (a likeAction) GetValueFromState(s likeState) any         { return s.Liked }
func (a likeAction) ApplyValueToState(s likeState, v any) likeState {
	s.Liked = v.(bool)
	return s
}
func (a likeAction) SaveValue(ctx context.Context, v any) error {
	if a.saveCalls != nil {
		*a.saveCalls++
	}
	return a.saveErr
}
func (a likeAction) Before(ctx context.Context, store *Store[likeState, env]) Effect { return NoEffect() }
func (a likeAction) Reduce(ctx context.Context, store *Store[likeState, env]) Reduction[likeState] {
	panic("OptimisticUpdater actions never reach Reduce directly")
}
func (a likeAction) After(ctx context.Context, store *Store[likeState, env]) error { return nil }

func TestOptimisticUpdate_AppliesImmediatelyAndKeepsValueOnSaveSuccess(t *testing.T) {
	store := NewStore[likeState, env](likeState{Liked: false}, env{})
	calls := 0

	status := store.DispatchSync(context.Background(), likeAction{target: true, saveCalls: &calls})

	assert.True(t, status.IsCompletedOk)
	assert.True(t, store.State().Liked)
	assert.Equal(t, 1, calls)
}

func TestOptimisticUpdate_RollsBackOnSaveFailure(t *testing.T) {
	store := NewStore[likeState, env](likeState{Liked: false}, env{})

	status := store.DispatchSync(context.Background(), likeAction{target: true, saveErr: errors.New("network down")})

	assert.True(t, status.IsCompletedFailed)
	assert.False(t, store.State().Liked, "a failed save must roll back the optimistic value")
}

type counterValue struct {
	Value int
}

type syncValueAction struct {
	apply   int
	onFinCh chan error
}

func (a syncValueAction) SyncKey() any { return "sync-key" }
func (a syncValueAction) ValueToApply(ctx context.Context, s counterValue) (any, error) {
	return a.apply, nil
}
func (a syncValueAction) GetValueFromState(s counterValue) any { return s.Value }
func (a syncValueAction) ApplyValueToState(s counterValue, v any) counterValue {
	s.Value = v.(int)
	return s
}
func (a syncValueAction) SendValueToServer(ctx context.Context, v any) (any, error) {
	return v, nil
}
func (a syncValueAction) ApplyServerResponseToState(s counterValue, response any) counterValue {
	s.Value = response.(int)
	return s
}
func (a syncValueAction) OnFinish(err error) {
	if a.onFinCh != nil {
		a.onFinCh <- err
	}
}
func (a syncValueAction) Before(ctx context.Context, store *Store[counterValue, env]) Effect {
	return NoEffect()
}
func (a syncValueAction) Reduce(ctx context.Context, store *Store[counterValue, env]) Reduction[counterValue] {
	panic("OptimisticSyncer actions never reach Reduce directly")
}
func (a syncValueAction) After(ctx context.Context, store *Store[counterValue, env]) error { return nil }

func TestOptimisticSync_SingleDispatchSendsOnceAndStabilizes(t *testing.T) {
	store := NewStore[counterValue, env](counterValue{}, env{})
	done := make(chan error, 1)

	status := store.DispatchSync(context.Background(), syncValueAction{apply: 7, onFinCh: done})

	assert.True(t, status.IsCompletedOk)
	assert.Equal(t, 7, store.State().Value, "optimistic apply happens synchronously within the dispatch")

	require.NoError(t, <-done)
	assert.Equal(t, 7, store.State().Value)
}

func TestOptimisticSync_CoalescesWhileInFlight(t *testing.T) {
	store := NewStore[counterValue, env](counterValue{}, env{})
	done := make(chan error, 1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		store.DispatchSync(context.Background(), syncValueAction{apply: 1})
	}()
	go func() {
		defer wg.Done()
		time.Sleep(2 * time.Millisecond)
		store.DispatchSync(context.Background(), syncValueAction{apply: 2, onFinCh: done})
	}()
	wg.Wait()

	require.NoError(t, <-done)
	assert.Equal(t, 2, store.State().Value, "the latest intent must be what the key eventually stabilizes on")
}

type pushAction struct {
	revision int64
	value    int
}

func (a pushAction) SyncKey() any       { return "push-key" }
func (a pushAction) PushRevision() int64 { return a.revision }
func (a pushAction) ApplyPush(s counterValue) counterValue {
	s.Value = a.value
	return s
}
func (a pushAction) Before(ctx context.Context, store *Store[counterValue, env]) Effect { return NoEffect() }
func (a pushAction) Reduce(ctx context.Context, store *Store[counterValue, env]) Reduction[counterValue] {
	panic("ServerPushAction actions never reach Reduce directly")
}
func (a pushAction) After(ctx context.Context, store *Store[counterValue, env]) error { return nil }

func TestServerPush_DropsStaleRevisions(t *testing.T) {
	store := NewStore[counterValue, env](counterValue{}, env{})

	store.DispatchSync(context.Background(), pushAction{revision: 5, value: 100})
	assert.Equal(t, 100, store.State().Value)

	store.DispatchSync(context.Background(), pushAction{revision: 3, value: 999})
	assert.Equal(t, 100, store.State().Value, "a push with a revision at or below the recorded one must be dropped")

	store.DispatchSync(context.Background(), pushAction{revision: 6, value: 200})
	assert.Equal(t, 200, store.State().Value)
}

type combinedAction struct{}

func (combinedAction) SyncKey() any                                                          { return "k" }
func (combinedAction) ValueToApply(ctx context.Context, s counterValue) (any, error)          { return 1, nil }
func (combinedAction) GetValueFromState(s counterValue) any                                  { return s.Value }
func (combinedAction) ApplyValueToState(s counterValue, v any) counterValue                  { s.Value = v.(int); return s }
func (combinedAction) SendValueToServer(ctx context.Context, v any) (any, error)              { return v, nil }
func (combinedAction) ApplyServerResponseToState(s counterValue, response any) counterValue { return s }
func (combinedAction) OnFinish(err error)                                                    {}
func (combinedAction) NonReentrantKeyParams() []any                                          { return []any{"k"} }
func (combinedAction) Before(ctx context.Context, store *Store[counterValue, env]) Effect {
	return NoEffect()
}
func (combinedAction) Reduce(ctx context.Context, store *Store[counterValue, env]) Reduction[counterValue] {
	return NoReduction[counterValue]()
}
func (combinedAction) After(ctx context.Context, store *Store[counterValue, env]) error { return nil }

func TestOptimisticSync_ForbidsCombiningWithNonReentrant(t *testing.T) {
	store := NewStore[counterValue, env](counterValue{}, env{})
	status := store.DispatchSync(context.Background(), combinedAction{})

	assert.True(t, status.IsCompletedFailed)
	var se *StoreException
	require.ErrorAs(t, status.OriginalError, &se)
	assert.Contains(t, se.Error(), "cannot be combined with")
}
