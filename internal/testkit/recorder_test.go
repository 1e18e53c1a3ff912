package testkit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kesterly/corestore"
)

type counterState struct{ Count int }
type env struct{}

type incBy struct{ N int }

func (a incBy) Before(ctx context.Context, store *corestore.Store[counterState, env]) corestore.Effect {
	return corestore.NoEffect()
}
func (a incBy) Reduce(ctx context.Context, store *corestore.Store[counterState, env]) corestore.Reduction[counterState] {
	s := store.State()
	s.Count += a.N
	return corestore.SyncReduction(s)
}
func (a incBy) After(ctx context.Context, store *corestore.Store[counterState, env]) error { return nil }

type failing struct{}

func (failing) Before(ctx context.Context, store *corestore.Store[counterState, env]) corestore.Effect {
	return corestore.SyncEffect(func(ctx context.Context) error {
		return corestore.NewUserException("boom")
	})
}
func (failing) Reduce(ctx context.Context, store *corestore.Store[counterState, env]) corestore.Reduction[counterState] {
	return corestore.NoReduction[counterState]()
}
func (failing) After(ctx context.Context, store *corestore.Store[counterState, env]) error { return nil }

func TestRecorder_CapturesDispatchesAndErrorsInOrder(t *testing.T) {
	rec := NewRecorder[counterState, env]()
	store := corestore.NewStore[counterState, env](counterState{}, env{},
		corestore.WithStateObserver[counterState, env](NewStateObserver(rec)),
		corestore.WithErrorObserver[counterState, env](NewErrorObserver(rec)),
	)

	require.True(t, store.DispatchSync(context.Background(), incBy{N: 1}).IsCompletedOk)
	require.True(t, store.DispatchSync(context.Background(), failing{}).IsCompletedFailed)

	snap := rec.Snapshot("increment-then-fail")
	require.Len(t, snap.Trace, 2)

	assert.Equal(t, "dispatch", snap.Trace[0].Type)
	assert.Contains(t, snap.Trace[0].ActionType, "incBy")
	assert.Equal(t, int64(1), snap.Trace[0].DispatchCount)
	assert.JSONEq(t, `{"Count":0}`, string(snap.Trace[0].Before))
	assert.JSONEq(t, `{"Count":1}`, string(snap.Trace[0].After))

	assert.Equal(t, "error", snap.Trace[1].Type)
	assert.Contains(t, snap.Trace[1].ActionType, "failing")
	assert.Equal(t, "UserException{boom}", snap.Trace[1].Message)
}
