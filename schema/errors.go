package schema

import "fmt"

// DerivationError reports that a callable's schema could not be derived.
// It is fatal for that one callable: a step whose schema cannot be fully
// resolved must not register with a degraded schema.
type DerivationError struct {
	// Type is the offending Go type.
	Type string
	// Field names the struct field at fault, when one is identifiable.
	Field string
	// Reason describes what could not be derived.
	Reason string
}

func (e *DerivationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("schema derivation failed for %s: field %q: %s", e.Type, e.Field, e.Reason)
	}
	return fmt.Sprintf("schema derivation failed for %s: %s", e.Type, e.Reason)
}

func derivationErr(t, field, format string, args ...any) *DerivationError {
	return &DerivationError{Type: t, Field: field, Reason: fmt.Sprintf(format, args...)}
}
