package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kesterly/corestore/internal/policy"
)

// PolicyCompileOptions holds flags for the policy-compile command.
type PolicyCompileOptions struct {
	*RootOptions
	CUE    bool   // interpret <path> as a CUE spec directory instead of a YAML file
	Output string // output file path
}

// PolicyCompileResult is the JSON-printable outcome of compiling a policy
// document: one summary per declared action, since the
// resolved corestore.PolicyTable itself is keyed by reflect.Type and isn't
// directly JSON-serializable.
type PolicyCompileResult struct {
	Actions []PolicyActionSummary `json:"actions"`
}

// PolicyActionSummary summarizes one action's declarative mixin configuration.
type PolicyActionSummary struct {
	Name         string `json:"name"`
	NonReentrant bool   `json:"nonReentrant"`
	Debounce     string `json:"debounce,omitempty"`
	Throttle     string `json:"throttle,omitempty"`
	Retry        bool   `json:"retry"`
}

// NewPolicyCompileCommand creates the policy-compile command.
func NewPolicyCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PolicyCompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "policy-compile <path>",
		Short: "Compile a mixin policy document and print its resolved action summary",
		Long: `Load a declarative mixin-policy document (YAML file, or a CUE spec
directory with --cue) and report the resolved per-action configuration.

This does not attach the policy to a live store — it is a dry-run over the
same Document/TypeRegistry path that "corectl run --policy" uses.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicyCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.CUE, "cue", false, "load <path> as a CUE spec directory instead of a YAML file")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runPolicyCompile(opts *PolicyCompileOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	doc, err := loadPolicyDoc(opts.CUE, path)
	if err != nil {
		return outputPolicyLoadError(formatter, err)
	}
	formatter.VerboseLog("loaded %d action polic(ies) from %s", len(doc.Actions), path)

	result := summarizePolicy(doc)

	if opts.Output != "" {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return WrapExitError(ExitCommandError, "marshaling policy summary", err)
		}
		if err := os.WriteFile(opts.Output, data, 0644); err != nil {
			return WrapExitError(ExitCommandError, "writing output file", err)
		}
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "Compiled %d action policy(ies):\n\n", len(result.Actions))
	for _, a := range result.Actions {
		fmt.Fprintf(formatter.Writer, "  %s\n", a.Name)
		if a.NonReentrant {
			fmt.Fprintln(formatter.Writer, "    nonReentrant")
		}
		if a.Debounce != "" {
			fmt.Fprintf(formatter.Writer, "    debounce: %s\n", a.Debounce)
		}
		if a.Throttle != "" {
			fmt.Fprintf(formatter.Writer, "    throttle: %s\n", a.Throttle)
		}
		if a.Retry {
			fmt.Fprintln(formatter.Writer, "    retry: configured")
		}
	}
	if opts.Output != "" {
		fmt.Fprintf(formatter.Writer, "\nWrote summary to %s\n", opts.Output)
	}
	return nil
}

func loadPolicyDoc(cue bool, path string) (*policy.Document, error) {
	if cue {
		return policy.LoadCUE(path)
	}
	return policy.LoadYAML(path)
}

func summarizePolicy(doc *policy.Document) PolicyCompileResult {
	result := PolicyCompileResult{}
	for name, ap := range doc.Actions {
		summary := PolicyActionSummary{
			Name:         name,
			NonReentrant: ap.NonReentrant,
			Retry:        ap.Retry != nil,
		}
		if ap.Debounce > 0 {
			summary.Debounce = durationString(ap.Debounce)
		}
		if ap.Throttle > 0 {
			summary.Throttle = durationString(ap.Throttle)
		}
		result.Actions = append(result.Actions, summary)
	}
	return result
}

func durationString(d policy.Duration) string {
	return time.Duration(d).String()
}

func outputPolicyLoadError(formatter *OutputFormatter, err error) error {
	var loadErr *policy.LoadError
	if errors.As(err, &loadErr) {
		_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
		return WrapExitError(ExitCommandError, loadErr.Message, err)
	}
	_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
	return WrapExitError(ExitCommandError, "failed to load policy document", err)
}
