package backlog

import (
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrNoStore         = errors.New("backlog: no store configured")
	ErrStoreClosed     = errors.New("backlog: store closed")
	ErrMigrationFailed = errors.New("backlog: migration failed")

	// Not found errors.
	ErrJobNotFound = errors.New("backlog: job not found")
	ErrDLQNotFound = errors.New("backlog: dlq entry not found")
	ErrUnknownJob  = errors.New("backlog: no handler registered")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("backlog: job already exists")

	// Classification sentinels for the typed errors below.
	ErrSerialization = errors.New("backlog: serialization failed")
	ErrJobExecution  = errors.New("backlog: job execution failed")
	ErrValidation    = errors.New("backlog: validation failed")
)

// SerializationError reports a job whose arguments could not be captured
// for deferred execution. No record is created when it is returned.
type SerializationError struct {
	Name string
	Err  error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("backlog: serialize job %q: %v", e.Name, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// Is reports ErrSerialization as a match.
func (e *SerializationError) Is(target error) bool { return target == ErrSerialization }

// JobExecutionError wraps the error (or recovered panic) of a job handler.
// Workers record it and move on; it never escapes a worker loop.
type JobExecutionError struct {
	JobID string
	Name  string
	Err   error
}

func (e *JobExecutionError) Error() string {
	return fmt.Sprintf("backlog: job %s (%s): %v", e.JobID, e.Name, e.Err)
}

func (e *JobExecutionError) Unwrap() error { return e.Err }

// Is reports ErrJobExecution as a match.
func (e *JobExecutionError) Is(target error) bool { return target == ErrJobExecution }

// ValidationError reports a missing or malformed caller input. No state is
// mutated when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %q", e.Reason, e.Field)
}

// Is reports ErrValidation as a match.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// MissingArgument returns a ValidationError for an omitted required argument.
func MissingArgument(name string) *ValidationError {
	return &ValidationError{Field: name, Reason: "missing argument"}
}
