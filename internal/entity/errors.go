package entity

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned when a record violates a column invariant. Nothing is persisted.
	ErrValidation = errors.New("validation failed")
	// ErrDuplicate is returned when a uniquely-versioned row already exists.
	ErrDuplicate = errors.New("duplicate key")
	// ErrNotFound is returned when no record matches.
	ErrNotFound = errors.New("not found")
	// ErrOutsideRetention is returned for writes older than the table's retention horizon.
	ErrOutsideRetention = fmt.Errorf("%w: outside retention horizon", ErrValidation)
	// ErrUpstreamUnavailable marks transient ingestion failures; the scheduler retries these.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrCompute marks insufficient history or an invalid composed candidate.
	ErrCompute = errors.New("compute error")
	// ErrSchedulerTimeout is recorded when a job run exceeds its deadline.
	ErrSchedulerTimeout = errors.New("scheduler timeout")
)

// ValidationError carries the record kind and the underlying field errors.
type ValidationError struct {
	Record string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Record, e.Err)
}

func (e *ValidationError) Unwrap() []error {
	return []error{ErrValidation, e.Err}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable)
}
