package corestore

import (
	"reflect"
	"time"
)

// PolicySpec is the flat-struct mixin configuration Design Notes §9
// recommends as a declarative fallback for action types that implement
// none of the capability interfaces in action.go. It only covers the four
// mixins expressible as pure configuration (NonReentrant, Debounce,
// Throttle, Retry) — OptimisticUpdate/OptimisticSync/CheckInternet all
// need behavioral hooks a flat struct cannot carry, so those still require
// implementing the corresponding interface directly.
type PolicySpec struct {
	NonReentrant bool
	Debounce     time.Duration
	Throttle     time.Duration
	Retry        *RetryPolicy
}

// PolicyTable maps an action's concrete type to its PolicySpec. Entries are
// produced by internal/policy's CUE/YAML compiler; corestore itself only
// consumes the compiled table.
type PolicyTable map[reflect.Type]PolicySpec

func (t PolicyTable) lookup(action any) (PolicySpec, bool) {
	if t == nil {
		return PolicySpec{}, false
	}
	spec, ok := t[reflect.TypeOf(action)]
	return spec, ok
}

// policyDebounced adapts a PolicySpec's Debounce duration into the
// Debounced interface shape so the mixin gate can treat declarative and
// interface-based configuration uniformly.
type policyDebounced struct{ d time.Duration }

func (p policyDebounced) DebounceDuration() time.Duration { return p.d }
