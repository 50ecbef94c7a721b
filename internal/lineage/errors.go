package lineage

import (
	"errors"
	"fmt"
)

// Sentinel errors for entity construction. ValidationError wraps one of these,
// so callers check with errors.Is.
var (
	ErrEmptyNamespace   = errors.New("namespace cannot be empty")
	ErrEmptyName        = errors.New("name cannot be empty")
	ErrEmptyRunID       = errors.New("runId cannot be empty")
	ErrMalformedRunID   = errors.New("runId must not contain whitespace or control characters")
	ErrNegativeDuration = errors.New("duration cannot be negative")
	ErrNilFacet         = errors.New("facet payload cannot be nil")
)

// ErrUnrepresentable is wrapped by SerializationError when a facet payload has
// no JSON form (NaN statistics, malformed raw JSON, non-object payloads).
var ErrUnrepresentable = errors.New("payload not representable as JSON")

// ValidationError reports a malformed identifier or argument, raised at
// construction time before any event exists.
type ValidationError struct {
	Field string
	Value string
	Err   error
}

func newValidationError(field, value string, err error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Err: err}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
	}

	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
}

// Unwrap returns the sentinel cause.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// SerializationError reports a facet that cannot be written in the wire format.
// Facet is the facet key, Location where it was attached (e.g. "run", "job",
// "inputs[0].inputFacets").
type SerializationError struct {
	Location string
	Facet    string
	Err      error
}

// Error implements the error interface.
func (e *SerializationError) Error() string {
	return fmt.Sprintf("cannot serialize facet %q at %s: %v", e.Facet, e.Location, e.Err)
}

// Unwrap returns the underlying cause.
func (e *SerializationError) Unwrap() error {
	return e.Err
}
