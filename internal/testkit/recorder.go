// Package testkit is a scenario test harness for corestore.Store: a
// StateObserver/ErrorObserver pair that records every dispatch into a
// deterministic trace, plus a golden-file comparison helper.
//
// Unlike the teacher's internal/harness (which manufactures completions
// from a scenario's expect clauses rather than driving its engine — its
// own doc comment calls this the "Tautology Risk"), testkit's Recorder is
// wired through corestore's real observer hooks and reports exactly what
// the store actually did.
package testkit

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kesterly/corestore"
)

// TraceEvent is one recorded dispatch or error, in canonical JSON field
// order (Go's encoding/json already sorts map keys; struct field order
// here is the deterministic tag order golden comparisons rely on).
type TraceEvent struct {
	Type          string          `json:"type"` // "dispatch" | "error"
	ActionType    string          `json:"action_type"`
	DispatchCount int64           `json:"dispatch_count"`
	Before        json.RawMessage `json:"before,omitempty"`
	After         json.RawMessage `json:"after,omitempty"`
	Message       string          `json:"message,omitempty"`
}

// TraceSnapshot is the golden-comparable unit: a named scenario's full
// event trace, mirroring the teacher's TraceSnapshot (internal/harness/golden.go)
// generalized from "scenario_name/flow_token" to a corestore dispatch trace.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
}

// Recorder accumulates TraceEvents for one scenario run. It is safe for
// concurrent Observe calls, since corestore may invoke them from multiple
// dispatch goroutines.
type Recorder[S any, E any] struct {
	mu     sync.Mutex
	events []TraceEvent
}

// NewRecorder creates an empty Recorder.
func NewRecorder[S any, E any]() *Recorder[S, E] {
	return &Recorder[S, E]{}
}

func (r *Recorder[S, E]) appendDispatch(actionType string, before, after S, dispatchCount int64) {
	beforeJSON, _ := json.Marshal(before)
	afterJSON, _ := json.Marshal(after)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, TraceEvent{
		Type:          "dispatch",
		ActionType:    actionType,
		DispatchCount: dispatchCount,
		Before:        beforeJSON,
		After:         afterJSON,
	})
}

func (r *Recorder[S, E]) appendError(actionType, message string, dispatchCount int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, TraceEvent{
		Type:          "error",
		ActionType:    actionType,
		DispatchCount: dispatchCount,
		Message:       message,
	})
}

// Snapshot returns the recorded trace as a TraceSnapshot named scenarioName.
func (r *Recorder[S, E]) Snapshot(scenarioName string) TraceSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	trace := make([]TraceEvent, len(r.events))
	copy(trace, r.events)
	return TraceSnapshot{ScenarioName: scenarioName, Trace: trace}
}

// StateObserver adapts a Recorder to corestore.StateObserver[S, E].
type StateObserver[S any, E any] struct {
	rec *Recorder[S, E]
}

// NewStateObserver wraps rec as a corestore.StateObserver.
func NewStateObserver[S any, E any](rec *Recorder[S, E]) *StateObserver[S, E] {
	return &StateObserver[S, E]{rec: rec}
}

// Observe implements corestore.StateObserver.
func (o *StateObserver[S, E]) Observe(action corestore.Action[S, E], before, after S, dispatchCount int64) {
	o.rec.appendDispatch(actionTypeName(action), before, after, dispatchCount)
}

// ErrorObserver adapts a Recorder to corestore.ErrorObserver.
type ErrorObserver[S any, E any] struct {
	rec *Recorder[S, E]
}

// NewErrorObserver wraps rec as a corestore.ErrorObserver.
func NewErrorObserver[S any, E any](rec *Recorder[S, E]) *ErrorObserver[S, E] {
	return &ErrorObserver[S, E]{rec: rec}
}

// Observe implements corestore.ErrorObserver.
func (o *ErrorObserver[S, E]) Observe(err error, stack []byte, action any, dispatchCount int64) {
	o.rec.appendError(actionTypeName(action), err.Error(), dispatchCount)
}

func actionTypeName(action any) string {
	return fmt.Sprintf("%T", action)
}
