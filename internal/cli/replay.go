package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/kesterly/corestore/internal/journal"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
}

// ActionTally holds per-action-type dispatch/error counts read back from a
// journal.
type ActionTally struct {
	ActionType string `json:"action_type"`
	Dispatches int    `json:"dispatches"`
	Errors     int    `json:"errors"`
}

// ReplayResult holds the overall replay summary.
type ReplayResult struct {
	Actions       []ActionTally `json:"actions"`
	TotalEvents   int           `json:"total_events"`
	TotalErrors   int           `json:"total_errors"`
	AllSucceeded  bool          `json:"all_succeeded"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Summarize a journal's recorded dispatches by action type",
		Long: `Read a corestore journal and report, per action type, how many
reduces were journalled versus how many produced an error.

Exit codes:
  0 - no errors recorded
  1 - at least one action type recorded an error
  2 - command error (database not found, etc.)

Examples:
  corectl replay --db ./corestore.db
  corectl replay --db ./corestore.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	jrnl, err := journal.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer jrnl.Close()

	result, err := summarizeJournal(ctx, jrnl)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	if opts.Format == "json" {
		formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
		if err := formatter.Success(result); err != nil {
			return err
		}
		if !result.AllSucceeded {
			return NewExitError(ExitFailure, "journal contains recorded errors")
		}
		return nil
	}

	return printReplayText(cmd, result)
}

func summarizeJournal(ctx context.Context, jrnl *journal.Journal) (ReplayResult, error) {
	tallies := map[string]*ActionTally{}

	get := func(actionType string) *ActionTally {
		t, ok := tallies[actionType]
		if !ok {
			t = &ActionTally{ActionType: actionType}
			tallies[actionType] = t
		}
		return t
	}

	dispatchRows, err := jrnl.DB().QueryContext(ctx, `SELECT action_type, COUNT(*) FROM dispatches GROUP BY action_type`)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("querying dispatches: %w", err)
	}
	defer dispatchRows.Close()
	for dispatchRows.Next() {
		var actionType string
		var count int
		if err := dispatchRows.Scan(&actionType, &count); err != nil {
			return ReplayResult{}, err
		}
		get(actionType).Dispatches = count
	}
	if err := dispatchRows.Err(); err != nil {
		return ReplayResult{}, err
	}

	errorRows, err := jrnl.DB().QueryContext(ctx, `SELECT action_type, COUNT(*) FROM action_errors GROUP BY action_type`)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("querying action_errors: %w", err)
	}
	defer errorRows.Close()
	for errorRows.Next() {
		var actionType string
		var count int
		if err := errorRows.Scan(&actionType, &count); err != nil {
			return ReplayResult{}, err
		}
		get(actionType).Errors = count
	}
	if err := errorRows.Err(); err != nil {
		return ReplayResult{}, err
	}

	result := ReplayResult{AllSucceeded: true}
	for _, t := range tallies {
		result.Actions = append(result.Actions, *t)
		result.TotalEvents += t.Dispatches + t.Errors
		result.TotalErrors += t.Errors
		if t.Errors > 0 {
			result.AllSucceeded = false
		}
	}
	sort.Slice(result.Actions, func(i, j int) bool {
		return result.Actions[i].ActionType < result.Actions[j].ActionType
	})
	return result, nil
}

func printReplayText(cmd *cobra.Command, result ReplayResult) error {
	w := cmd.OutOrStdout()

	if len(result.Actions) == 0 {
		fmt.Fprintln(w, "No events found in journal.")
		return nil
	}

	fmt.Fprintf(w, "Replay summary: %d event(s), %d error(s)\n\n", result.TotalEvents, result.TotalErrors)
	for _, a := range result.Actions {
		status := "✓"
		if a.Errors > 0 {
			status = "✗"
		}
		fmt.Fprintf(w, "%s %s: %d dispatch(es), %d error(s)\n", status, a.ActionType, a.Dispatches, a.Errors)
	}

	if result.AllSucceeded {
		fmt.Fprintln(w, "\n✓ No errors recorded")
		return nil
	}
	fmt.Fprintln(w, "\n✗ Journal contains recorded errors")
	return NewExitError(ExitFailure, "journal contains recorded errors")
}
