package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunPolicyValidate_ValidDocument(t *testing.T) {
	path := writeTempPolicy(t, samplePolicyYAML)
	opts := &PolicyValidateOptions{RootOptions: &RootOptions{Format: "text"}}
	cmd := NewPolicyValidateCommand(opts.RootOptions)
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)

	err := runPolicyValidate(opts, path, cmd)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "valid")
}

func TestRunPolicyValidate_InvalidDocumentFails(t *testing.T) {
	path := writeTempPolicy(t, `
actions:
  demo.Bad:
    debounce: -1s
    retry:
      multiplier: -1
      maxRetries: -1
`)
	opts := &PolicyValidateOptions{RootOptions: &RootOptions{Format: "text"}}
	cmd := NewPolicyValidateCommand(opts.RootOptions)
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)

	err := runPolicyValidate(opts, path, cmd)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "validation errors")
}

func TestRunPolicyValidate_MissingFileIsCommandError(t *testing.T) {
	opts := &PolicyValidateOptions{RootOptions: &RootOptions{Format: "text"}}
	cmd := NewPolicyValidateCommand(opts.RootOptions)
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)

	err := runPolicyValidate(opts, "/nonexistent/policy.yaml", cmd)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
