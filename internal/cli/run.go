package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/kesterly/corestore"
	"github.com/kesterly/corestore/internal/journal"
	"github.com/kesterly/corestore/internal/policy"
	"github.com/kesterly/corestore/internal/testkit"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database   string // optional: journal SQLite path
	PolicyFile string // optional: YAML policy document
}

// counterState is corectl's demo domain: a single integer counter.
type counterState struct {
	Count int `json:"count"`
}

type counterEnv struct{}

// increment is a plain action with no mixins, dispatched one after another
// with DispatchSync.
type increment struct{ N int }

func (a increment) Before(ctx context.Context, s *corestore.Store[counterState, counterEnv]) corestore.Effect {
	return corestore.NoEffect()
}
func (a increment) Reduce(ctx context.Context, s *corestore.Store[counterState, counterEnv]) corestore.Reduction[counterState] {
	st := s.State()
	st.Count += a.N
	return corestore.SyncReduction(st)
}
func (a increment) After(ctx context.Context, s *corestore.Store[counterState, counterEnv]) error {
	return nil
}

// flakyIncrement fails its first two Reduce attempts (simulating a
// transient dependency outage) and implements Retryable so the store's
// Retry mixin exercises its exponential backoff.
type flakyIncrement struct {
	N       int
	History *atomic.Int32
}

func (a flakyIncrement) Before(ctx context.Context, s *corestore.Store[counterState, counterEnv]) corestore.Effect {
	return corestore.NoEffect()
}
func (a flakyIncrement) Reduce(ctx context.Context, s *corestore.Store[counterState, counterEnv]) corestore.Reduction[counterState] {
	return corestore.AsyncReduction(func(ctx context.Context) (counterState, bool, error) {
		if attempt := a.History.Add(1); attempt <= 2 {
			return counterState{}, false, fmt.Errorf("flaky dependency unavailable (attempt %d)", attempt)
		}
		st := s.State()
		st.Count += a.N
		return st, true, nil
	})
}
func (a flakyIncrement) After(ctx context.Context, s *corestore.Store[counterState, counterEnv]) error {
	return nil
}
func (a flakyIncrement) RetryPolicy() corestore.RetryPolicy {
	return corestore.RetryPolicy{InitialDelay: time.Millisecond, Multiplier: 2, MaxRetries: 4}
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Dispatch a demo counter scenario through a corestore.Store",
		Long: `Drive a corestore.Store[counterState, counterEnv] through a canned
dispatch scenario: three plain increments and a flaky action that
exercises the Retry mixin before succeeding.

Example:
  corectl run
  corectl run --db ./corestore.db --policy ./policy.yaml --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (optional)")
	cmd.Flags().StringVar(&opts.PolicyFile, "policy", "", "path to YAML mixin policy document (optional)")

	return cmd
}

func runScenario(opts *RunOptions, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	storeOpts := []corestore.Option[counterState, counterEnv]{}

	rec := testkit.NewRecorder[counterState, counterEnv]()
	storeOpts = append(storeOpts,
		corestore.WithStateObserver[counterState, counterEnv](testkit.NewStateObserver(rec)),
		corestore.WithErrorObserver[counterState, counterEnv](testkit.NewErrorObserver(rec)),
	)

	var jrnl *journal.Journal
	if opts.Database != "" {
		var err error
		jrnl, err = journal.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer jrnl.Close()
		storeOpts = append(storeOpts,
			corestore.WithStateObserver[counterState, counterEnv](journal.NewStateObserver[counterState, counterEnv](jrnl)),
			corestore.WithErrorObserver[counterState, counterEnv](journal.NewErrorObserver(jrnl)),
		)
	}

	if opts.PolicyFile != "" {
		doc, err := policy.LoadYAML(opts.PolicyFile)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load policy", err)
		}
		reg := policy.TypeRegistry{}
		policy.Register[increment](reg, "corectl.Increment")
		policy.Register[flakyIncrement](reg, "corectl.FlakyIncrement")
		table, err := policy.Compile(doc, reg)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to compile policy", err)
		}
		storeOpts = append(storeOpts, corestore.WithPolicyTable[counterState, counterEnv](table))
	}

	store := corestore.NewStore[counterState, counterEnv](counterState{}, counterEnv{}, storeOpts...)
	defer store.Shutdown()

	slog.Info("scenario starting")

	var history atomic.Int32
	retries := 0
	for i := 0; i < 3; i++ {
		store.DispatchSync(cmd.Context(), increment{N: 1})
	}
	flaky := store.DispatchAndWait(cmd.Context(), flakyIncrement{N: 10, History: &history})
	if flaky.IsCompletedOk {
		retries = int(history.Load()) - 1
	}

	slog.Info("scenario finished", "final_count", store.State().Count)

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	snap := rec.Snapshot("corectl-run")
	if formatter.Format == "json" {
		return formatter.Success(snap)
	}

	p := message.NewPrinter(language.English)
	fmt.Fprintf(formatter.Writer, "Final count: %d\n", store.State().Count)
	p.Fprintf(formatter.Writer, "Flaky increment needed %d %s before it committed.\n", retries, pluralRetry(retries))
	fmt.Fprintf(formatter.Writer, "%d event(s) recorded.\n", len(snap.Trace))
	return nil
}

func pluralRetry(n int) string {
	if n == 1 {
		return "retry"
	}
	return "retries"
}
