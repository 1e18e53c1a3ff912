package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kesterly/corestore/internal/policy"
)

// PolicyValidateOptions holds flags for the policy-validate command.
type PolicyValidateOptions struct {
	*RootOptions
	CUE bool
}

// PolicyValidationResult holds validation results.
type PolicyValidationResult struct {
	Valid  bool                    `json:"valid"`
	Errors []policy.ValidationError `json:"errors,omitempty"`
}

// NewPolicyValidateCommand creates the policy-validate command.
func NewPolicyValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PolicyValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "policy-validate <path>",
		Short: "Validate a mixin policy document without attaching it to a store",
		Long: `Validate a declarative mixin-policy document (YAML file, or a CUE
spec directory with --cue): non-negative durations, non-negative retry
multipliers (0 means unset), non-negative maxRetries.

Exit codes:
  0 - document is valid
  1 - document has validation errors
  2 - command error (file not found, decode failure, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicyValidate(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.CUE, "cue", false, "load <path> as a CUE spec directory instead of a YAML file")

	return cmd
}

func runPolicyValidate(opts *PolicyValidateOptions, path string, cmd *cobra.Command) error {
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
	formatter.VerboseLog("validating %d action polic(ies) from %s", len(doc.Actions), path)

	errs := policy.Validate(doc)
	result := PolicyValidationResult{Valid: len(errs) == 0, Errors: errs}

	if formatter.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
		if !result.Valid {
			return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
		}
		return nil
	}

	if result.Valid {
		fmt.Fprintln(formatter.Writer, "✓ Policy document is valid")
		return nil
	}

	fmt.Fprintln(formatter.Writer, "✗ Policy document has validation errors")
	fmt.Fprintln(formatter.Writer)
	for _, e := range errs {
		fmt.Fprintf(formatter.Writer, "  [%s] %s: %s\n", e.Code, e.Field, e.Message)
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
