package policy

import "fmt"

// Validation error codes, following the teacher compiler package's E-code
// convention (internal/compiler/validate.go's ErrConceptPurposeEmpty etc.),
// renumbered into policy's own P2xx range.
const (
	ErrNoActions        = "P200" // document declares no action policies
	ErrNegativeDuration  = "P201" // debounce/throttle/retry duration is negative
	ErrRetryBadMultiplier = "P202" // retry multiplier is negative (0 means unset)
	ErrRetryNegativeMax   = "P203" // maxRetries must be >= 0
)

// ValidationError mirrors compiler.ValidationError's {Field, Message, Code}
// shape so policy documents report problems the same way concept/sync specs
// do.
type ValidationError struct {
	Field   string
	Message string
	Code    string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks doc for internally-inconsistent policies (negative
// durations, negative backoff multipliers; a zero multiplier means unset and
// is accepted) that Compile would otherwise
// turn into silently-wrong mixin behavior. It does not fail-fast: every
// problem found is returned.
func Validate(doc *Document) []ValidationError {
	var errs []ValidationError
	for name, ap := range doc.Actions {
		if ap.Debounce < 0 {
			errs = append(errs, ValidationError{
				Field: name + ".debounce", Code: ErrNegativeDuration,
				Message: "debounce duration must not be negative",
			})
		}
		if ap.Throttle < 0 {
			errs = append(errs, ValidationError{
				Field: name + ".throttle", Code: ErrNegativeDuration,
				Message: "throttle duration must not be negative",
			})
		}
		if ap.Retry == nil {
			continue
		}
		if ap.Retry.InitialDelay < 0 {
			errs = append(errs, ValidationError{
				Field: name + ".retry.initialDelay", Code: ErrNegativeDuration,
				Message: "retry initialDelay must not be negative",
			})
		}
		if ap.Retry.Multiplier != 0 && ap.Retry.Multiplier <= 0 {
			errs = append(errs, ValidationError{
				Field: name + ".retry.multiplier", Code: ErrRetryBadMultiplier,
				Message: "retry multiplier must not be negative",
			})
		}
		if ap.Retry.MaxRetries < 0 {
			errs = append(errs, ValidationError{
				Field: name + ".retry.maxRetries", Code: ErrRetryNegativeMax,
				Message: "retry maxRetries must not be negative",
			})
		}
	}
	return errs
}
