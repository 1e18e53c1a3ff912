package corestore

import "fmt"

// StoreException reports a contract violation: a bad Before/Reduce return
// shape, an illegal wait-primitive call, a forbidden mixin combination.
// StoreException is never passed through an action's WrapError or the
// store's GlobalWrapError — it always surfaces to the caller verbatim.
type StoreException struct {
	Text string
}

// NewStoreException constructs a StoreException with the given message.
func NewStoreException(text string) *StoreException {
	return &StoreException{Text: text}
}

func (e *StoreException) Error() string { return e.Text }

// TimeoutException is returned by wait primitives (WaitCondition,
// WaitActionType, ...) when their deadline elapses before the predicate
// is satisfied.
type TimeoutException struct {
	Text string
}

func NewTimeoutException(text string) *TimeoutException {
	return &TimeoutException{Text: text}
}

func (e *TimeoutException) Error() string { return e.Text }

// UserException is the authored business-error type: actions raise it from
// Before/Reduce to signal an expected, user-facing failure (as opposed to a
// bug). It carries a chainable Reason, an optional HardCause (a non-user
// error that caused this one), optional OnOk/OnCancel callbacks the UI
// layer may invoke, and a last-writer-wins property bag.
type UserException struct {
	Msg       string
	reason    string
	HardCause error
	Props     map[string]any
	OnOk      func()
	OnCancel  func()
}

// NewUserException creates a UserException with the given message.
func NewUserException(msg string) *UserException {
	return &UserException{Msg: msg, Props: map[string]any{}}
}

// AddCause appends another reason to the exception's reason chain.
// Multiple calls concatenate with "\n\nReason: ", matching spec.md §4.6.
func (e *UserException) AddCause(reason string) *UserException {
	if reason == "" {
		return e
	}
	if e.reason == "" {
		e.reason = reason
	} else {
		e.reason = e.reason + "\n\nReason: " + reason
	}
	return e
}

// WithHardCause attaches a non-UserException cause (e.g. a network error)
// that triggered this user-facing exception.
func (e *UserException) WithHardCause(cause error) *UserException {
	e.HardCause = cause
	return e
}

// WithProp sets a key in the exception's property bag. Later calls for the
// same key overwrite earlier ones (last-writer-wins, per spec.md §7).
func (e *UserException) WithProp(key string, value any) *UserException {
	if e.Props == nil {
		e.Props = map[string]any{}
	}
	e.Props[key] = value
	return e
}

// WithOnOk attaches a callback the UI layer may invoke when the user
// acknowledges the exception.
func (e *UserException) WithOnOk(fn func()) *UserException {
	e.OnOk = fn
	return e
}

// WithOnCancel attaches a callback the UI layer may invoke when the user
// dismisses the exception.
func (e *UserException) WithOnCancel(fn func()) *UserException {
	e.OnCancel = fn
	return e
}

// Reason returns the accumulated reason chain, or "" if none was added.
func (e *UserException) Reason() string { return e.reason }

// TitleAndContent returns ("", msg) if there is no reason, else (msg, reason),
// matching spec.md §4.6 exactly.
func (e *UserException) TitleAndContent() (string, string) {
	if e.reason == "" {
		return "", e.Msg
	}
	return e.Msg, e.reason
}

// Error implements the error interface: "UserException{<msg>[|Reason: <reason>]}".
func (e *UserException) Error() string {
	if e.reason == "" {
		return fmt.Sprintf("UserException{%s}", e.Msg)
	}
	return fmt.Sprintf("UserException{%s|Reason: %s}", e.Msg, e.reason)
}

// Unwrap exposes HardCause so errors.Is/errors.As can traverse it.
func (e *UserException) Unwrap() error { return e.HardCause }
