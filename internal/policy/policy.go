// Package policy compiles declarative mixin-policy documents (CUE or YAML)
// into a corestore.PolicyTable, the flat-struct fallback Design Notes §9 of
// spec.md calls for: action types that implement none of corestore's mixin
// capability interfaces (NonReentrant, Debounced, Throttled, Retryable) can
// still get that behavior attached from an external document instead of
// code.
//
// Adapted from the teacher's internal/harness/scenario.go YAML conventions
// and internal/cli/loader.go's CUE loading, generalized from "conformance
// scenario" and "concept spec" documents to "mixin policy" documents.
package policy

import "time"

// Duration unmarshals from a Go duration string ("50ms", "2s") in both YAML
// and CUE documents, matching how the teacher's scenario/spec documents
// represent every other non-primitive field as plain strings.
type Duration time.Duration

// UnmarshalYAML parses a YAML scalar duration string.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// RetrySpec mirrors corestore.RetryPolicy in document form.
type RetrySpec struct {
	InitialDelay Duration `yaml:"initialDelay,omitempty" json:"initialDelay,omitempty"`
	Multiplier   float64  `yaml:"multiplier,omitempty" json:"multiplier,omitempty"`
	MaxRetries   int      `yaml:"maxRetries,omitempty" json:"maxRetries,omitempty"`
	Unlimited    bool     `yaml:"unlimited,omitempty" json:"unlimited,omitempty"`
}

// ActionPolicy is one action type's declarative mixin configuration. Only
// the four mixins expressible as pure configuration are here — OptimisticUpdate,
// OptimisticSync and CheckInternet all need behavioral hooks a document
// cannot carry, so those remain interface-only (see corestore/action.go).
type ActionPolicy struct {
	NonReentrant bool       `yaml:"nonReentrant,omitempty" json:"nonReentrant,omitempty"`
	Debounce     Duration   `yaml:"debounce,omitempty" json:"debounce,omitempty"`
	Throttle     Duration   `yaml:"throttle,omitempty" json:"throttle,omitempty"`
	Retry        *RetrySpec `yaml:"retry,omitempty" json:"retry,omitempty"`
}

// Document is the top-level shape of a policy file: a map from the action
// type's fully-qualified name (package.Type, e.g. "myapp.IncrementAction")
// to its ActionPolicy. The name is resolved to a reflect.Type by Compile's
// caller-supplied registry, since a document has no way to reference a Go
// type directly.
type Document struct {
	Actions map[string]ActionPolicy `yaml:"actions" json:"actions"`
}
