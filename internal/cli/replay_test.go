package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kesterly/corestore"
	"github.com/kesterly/corestore/internal/journal"
)

type replayFailing struct{}

func (replayFailing) Before(ctx context.Context, s *corestore.Store[traceCounterState, traceEnv]) corestore.Effect {
	return corestore.SyncEffect(func(ctx context.Context) error {
		return corestore.NewUserException("boom")
	})
}
func (replayFailing) Reduce(ctx context.Context, s *corestore.Store[traceCounterState, traceEnv]) corestore.Reduction[traceCounterState] {
	return corestore.NoReduction[traceCounterState]()
}
func (replayFailing) After(ctx context.Context, s *corestore.Store[traceCounterState, traceEnv]) error {
	return nil
}

func seedJournalWithError(t *testing.T, path string) {
	t.Helper()
	j, err := journal.Open(path)
	require.NoError(t, err)
	defer j.Close()

	store := corestore.NewStore[traceCounterState, traceEnv](traceCounterState{}, traceEnv{},
		corestore.WithStateObserver[traceCounterState, traceEnv](journal.NewStateObserver[traceCounterState, traceEnv](j)),
		corestore.WithErrorObserver[traceCounterState, traceEnv](journal.NewErrorObserver(j)),
	)
	defer store.Shutdown()

	store.DispatchSync(context.Background(), traceIncrement{N: 1})
	store.DispatchSync(context.Background(), replayFailing{})
}

func TestRunReplay_AllSucceeded(t *testing.T) {
	path := newTestJournalPath(t)
	seedJournal(t, path)

	opts := &ReplayOptions{RootOptions: &RootOptions{Format: "text"}, Database: path}
	cmd := NewReplayCommand(opts.RootOptions)
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)

	err := runReplay(opts, cmd)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "No errors recorded")
}

func TestRunReplay_ReportsErrors(t *testing.T) {
	path := newTestJournalPath(t)
	seedJournalWithError(t, path)

	opts := &ReplayOptions{RootOptions: &RootOptions{Format: "text"}, Database: path}
	cmd := NewReplayCommand(opts.RootOptions)
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)

	err := runReplay(opts, cmd)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "replayFailing")
}
