package invoke

import (
	"fmt"
	"strings"
)

// InputError reports that the explicit input string was not a JSON
// object.
type InputError struct {
	Step string
	Err  error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("step %q: invalid input JSON: %v", e.Step, e.Err)
}

func (e *InputError) Unwrap() error { return e.Err }

// UpstreamError reports that the step-results string was not a JSON
// object.
type UpstreamError struct {
	Step string
	Err  error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("step %q: invalid step-results JSON: %v", e.Step, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// FieldError names one offending parameter inside a ValidationError.
// Source carries the producing step's name when the parameter is
// dependency-backed.
type FieldError struct {
	Field  string
	Source string
	Reason string
}

func (f FieldError) String() string {
	return fmt.Sprintf("%s: %s", f.Field, f.Reason)
}

// ValidationError reports parameters that failed merge-time validation:
// missing required values, undecodable types. Every offending field is
// named.
type ValidationError struct {
	Step   string
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.String()
	}
	return fmt.Sprintf("step %q: invalid parameters: %s", e.Step, strings.Join(parts, "; "))
}

// SerializationError reports that the handler's result could not be
// encoded under the declared return type.
type SerializationError struct {
	Step string
	Err  error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("step %q: failed to serialize result: %v", e.Step, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }
