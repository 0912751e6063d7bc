package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. Every failure in the ingest and query paths wraps one of
// these so callers can classify it with errors.Is.
var (
	// ErrDecode means an image could not be read or decoded.
	ErrDecode = errors.New("image decode failed")
	// ErrInference means the caption or embedding model failed.
	ErrInference = errors.New("model inference failed")
	// ErrEmptyCaption is returned when the caption model produced no text.
	ErrEmptyCaption = errors.New("empty caption")
	// ErrIndexService means the vector index rejected or failed a call.
	ErrIndexService = errors.New("vector index service failed")
	// ErrInvalidQuery means the query text is unusable.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrNotFound is returned by lookups for an unknown image ID.
	ErrNotFound = errors.New("not found")
	// ErrInvalidPath means an image path is empty, not an image, or outside
	// the image root.
	ErrInvalidPath = errors.New("invalid image path")
	// ErrInvalidID means an image ID is empty.
	ErrInvalidID = errors.New("invalid image id")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// Kind returns the sentinel an error was classified under, or nil.
func Kind(err error) error {
	for _, k := range []error{ErrDecode, ErrEmptyCaption, ErrInference, ErrIndexService, ErrInvalidQuery, ErrInvalidPath, ErrInvalidID, ErrNotFound} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
