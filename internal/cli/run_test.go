package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunScenario_TextOutputReportsFinalCount(t *testing.T) {
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetContext(context.Background())

	err := cmd.RunE(cmd, nil)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Final count: 13") // 3x increment(1) + one successful flakyIncrement(10)
	assert.Contains(t, out, "retries")
	assert.Contains(t, out, "event(s) recorded")
}

func TestRunScenario_JSONOutputIsValidSnapshot(t *testing.T) {
	cmd := NewRunCommand(&RootOptions{Format: "json"})
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetContext(context.Background())

	err := cmd.RunE(cmd, nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"scenario_name"`)
	assert.Contains(t, buf.String(), "corectl-run")
}

func TestPluralRetry(t *testing.T) {
	assert.Equal(t, "retry", pluralRetry(1))
	assert.Equal(t, "retries", pluralRetry(0))
	assert.Equal(t, "retries", pluralRetry(2))
}
