package models

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound       = errors.New("timelapse not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrQueueFull         = errors.New("job queue is full")
)

// ValidationError rejects a request before any job row exists.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// EncodingError means the external encoder failed or produced nothing.
// Output holds the tail of the captured diagnostic stream.
type EncodingError struct {
	Op       string
	ExitCode int
	Output   string
	Err      error
}

func (e *EncodingError) Error() string {
	msg := "encoding failed: " + e.Op
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit code %d)", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

// NotFoundReason distinguishes why an artifact could not be served.
// Clients always see the same response; the reason is for server-side diagnostics.
type NotFoundReason string

const (
	ReasonJobUnknown   NotFoundReason = "job_unknown"
	ReasonNotCompleted NotFoundReason = "not_completed"
	ReasonFileMissing  NotFoundReason = "file_missing"
)

// NotFoundError is returned for unknown jobs and unavailable artifacts.
type NotFoundError struct {
	ID     string
	Reason NotFoundReason
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("timelapse %s not found (%s)", e.ID, e.Reason)
}

// Is lets errors.Is(err, ErrJobNotFound) match every not-found flavour.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrJobNotFound
}

// PersistenceError wraps a failure of the job store or of queue admission.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsPersistence reports whether err is (or wraps) a PersistenceError.
func IsPersistence(err error) bool {
	var p *PersistenceError
	return errors.As(err, &p)
}
