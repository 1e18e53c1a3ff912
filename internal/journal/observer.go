package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kesterly/corestore"
)

// StateObserver journals every reduce the store reports to its state
// observers, including ones that left state unchanged. It is generic over
// the same (S, E) pair as the Store it is attached to, since
// corestore.StateObserver itself is generic.
type StateObserver[S any, E any] struct {
	j *Journal
}

// NewStateObserver wraps j as a corestore.StateObserver[S, E].
func NewStateObserver[S any, E any](j *Journal) *StateObserver[S, E] {
	return &StateObserver[S, E]{j: j}
}

// Observe implements corestore.StateObserver.
func (o *StateObserver[S, E]) Observe(action corestore.Action[S, E], before, after S, dispatchCount int64) {
	beforeJSON, err := json.Marshal(before)
	if err != nil {
		return
	}
	afterJSON, err := json.Marshal(after)
	if err != nil {
		return
	}
	actionType := fmt.Sprintf("%T", action)

	id, err := contentHash(DomainDispatch, map[string]any{
		"dispatch_count": dispatchCount,
		"action_type":    actionType,
		"before":         json.RawMessage(beforeJSON),
		"after":          json.RawMessage(afterJSON),
	})
	if err != nil {
		return
	}

	_ = o.j.writeDispatch(context.Background(), id, actionType, string(beforeJSON), string(afterJSON),
		dispatchCount, time.Now().UTC().Format(time.RFC3339Nano))
}

// ErrorObserver journals every action failure. Unlike StateObserver it is
// not generic: corestore.ErrorObserver receives the action as `any`.
type ErrorObserver struct {
	j *Journal
}

// NewErrorObserver wraps j as a corestore.ErrorObserver.
func NewErrorObserver(j *Journal) *ErrorObserver {
	return &ErrorObserver{j: j}
}

// Observe implements corestore.ErrorObserver.
func (o *ErrorObserver) Observe(err error, stack []byte, action any, dispatchCount int64) {
	actionType := fmt.Sprintf("%T", action)
	id, hashErr := contentHash(DomainError, map[string]any{
		"dispatch_count": dispatchCount,
		"action_type":    actionType,
		"message":        err.Error(),
	})
	if hashErr != nil {
		return
	}
	_ = o.j.writeError(context.Background(), id, actionType, err.Error(), string(stack),
		dispatchCount, time.Now().UTC().Format(time.RFC3339Nano))
}
