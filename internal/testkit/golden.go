package testkit

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// AssertGolden compares snapshot's canonical JSON encoding against the
// golden file testdata/{snapshot.ScenarioName}.golden, exactly as the
// teacher's internal/harness.RunWithGolden does for its own TraceSnapshot.
// Run `go test ./... -update` to (re)write golden files.
func AssertGolden(t *testing.T, snapshot TraceSnapshot) {
	t.Helper()
	g := goldie.New(t)

	encoded, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		t.Fatalf("testkit: marshal snapshot: %v", err)
	}
	g.Assert(t, snapshot.ScenarioName, encoded)
}
