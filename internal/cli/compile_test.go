package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePolicyYAML = `
actions:
  demo.Increment:
    nonReentrant: true
    debounce: 50ms
  demo.Flaky:
    retry:
      initialDelay: 10ms
      multiplier: 2
      maxRetries: 3
`

func writeTempPolicy(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestRunPolicyCompile_TextSummary(t *testing.T) {
	path := writeTempPolicy(t, samplePolicyYAML)
	opts := &PolicyCompileOptions{RootOptions: &RootOptions{Format: "text"}}
	cmd := NewPolicyCompileCommand(opts.RootOptions)
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)

	err := runPolicyCompile(opts, path, cmd)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "demo.Increment")
	assert.Contains(t, out, "nonReentrant")
	assert.Contains(t, out, "demo.Flaky")
	assert.Contains(t, out, "retry: configured")
}

func TestRunPolicyCompile_MissingFileIsCommandError(t *testing.T) {
	opts := &PolicyCompileOptions{RootOptions: &RootOptions{Format: "text"}}
	cmd := NewPolicyCompileCommand(opts.RootOptions)
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)

	err := runPolicyCompile(opts, "/nonexistent/policy.yaml", cmd)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSummarizePolicy_OmitsZeroDurations(t *testing.T) {
	path := writeTempPolicy(t, samplePolicyYAML)
	doc, err := loadPolicyDoc(false, path)
	require.NoError(t, err)

	result := summarizePolicy(doc)
	require.Len(t, result.Actions, 2)

	byName := map[string]PolicyActionSummary{}
	for _, a := range result.Actions {
		byName[a.Name] = a
	}
	assert.Equal(t, "50ms", byName["demo.Increment"].Debounce)
	assert.Empty(t, byName["demo.Increment"].Throttle)
	assert.True(t, byName["demo.Flaky"].Retry)
}
