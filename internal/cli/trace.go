package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kesterly/corestore/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Action   string // optional - filter to a single action type
}

// TraceEvent is one recorded dispatch or error read back from a journal.
type TraceEvent struct {
	Type          string `json:"type"` // "dispatch" or "error"
	ActionType    string `json:"action_type"`
	DispatchCount int64  `json:"dispatch_count"`
	StateBefore   string `json:"state_before,omitempty"`
	StateAfter    string `json:"state_after,omitempty"`
	Message       string `json:"message,omitempty"`
	RecordedAt    string `json:"recorded_at"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Timeline []TraceEvent `json:"timeline"`
	Stats    TraceStats   `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalEvents int `json:"total_events"`
	Dispatches  int `json:"dispatches"`
	Errors      int `json:"errors"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Print the dispatch/error timeline recorded in a journal",
		Long: `Read every dispatch and error recorded in a corestore journal
(as produced by "corectl run --db") and print them as a single chronological
timeline ordered by dispatch count.

Examples:
  corectl trace --db ./corestore.db
  corectl trace --db ./corestore.db --action cli.increment
  corectl trace --db ./corestore.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Action, "action", "", "filter to a single action type")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	jrnl, err := journal.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer jrnl.Close()

	timeline, err := readTimeline(ctx, jrnl, opts.Action)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	result := TraceResult{
		Timeline: timeline,
		Stats:    computeTraceStats(timeline),
	}

	if opts.Format == "json" {
		formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
		return formatter.Success(result)
	}

	return printTraceText(cmd, result)
}

func readTimeline(ctx context.Context, jrnl *journal.Journal, actionFilter string) ([]TraceEvent, error) {
	var events []TraceEvent

	dispatchRows, err := jrnl.DB().QueryContext(ctx,
		`SELECT action_type, state_before, state_after, dispatch_count, recorded_at FROM dispatches ORDER BY dispatch_count`)
	if err != nil {
		return nil, fmt.Errorf("querying dispatches: %w", err)
	}
	defer dispatchRows.Close()
	for dispatchRows.Next() {
		var e TraceEvent
		e.Type = "dispatch"
		if err := dispatchRows.Scan(&e.ActionType, &e.StateBefore, &e.StateAfter, &e.DispatchCount, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scanning dispatch row: %w", err)
		}
		if actionFilter != "" && !strings.Contains(e.ActionType, actionFilter) {
			continue
		}
		events = append(events, e)
	}
	if err := dispatchRows.Err(); err != nil {
		return nil, err
	}

	errorRows, err := jrnl.DB().QueryContext(ctx,
		`SELECT action_type, message, dispatch_count, recorded_at FROM action_errors ORDER BY dispatch_count`)
	if err != nil {
		return nil, fmt.Errorf("querying action_errors: %w", err)
	}
	defer errorRows.Close()
	for errorRows.Next() {
		var e TraceEvent
		e.Type = "error"
		if err := errorRows.Scan(&e.ActionType, &e.Message, &e.DispatchCount, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scanning error row: %w", err)
		}
		if actionFilter != "" && !strings.Contains(e.ActionType, actionFilter) {
			continue
		}
		events = append(events, e)
	}
	if err := errorRows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].DispatchCount < events[j].DispatchCount
	})
	return events, nil
}

func computeTraceStats(events []TraceEvent) TraceStats {
	stats := TraceStats{TotalEvents: len(events)}
	for _, e := range events {
		if e.Type == "dispatch" {
			stats.Dispatches++
		} else {
			stats.Errors++
		}
	}
	return stats
}

func printTraceText(cmd *cobra.Command, result TraceResult) error {
	w := cmd.OutOrStdout()
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "No events found in journal")
		return nil
	}

	fmt.Fprintf(w, "%d event(s): %d dispatch(es), %d error(s)\n\n",
		result.Stats.TotalEvents, result.Stats.Dispatches, result.Stats.Errors)

	for _, e := range result.Timeline {
		switch e.Type {
		case "dispatch":
			fmt.Fprintf(w, "[%d] %s  %s -> %s\n", e.DispatchCount, e.ActionType, e.StateBefore, e.StateAfter)
		case "error":
			fmt.Fprintf(w, "[%d] %s  ERROR: %s\n", e.DispatchCount, e.ActionType, e.Message)
		}
	}
	return nil
}
