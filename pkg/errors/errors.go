// Package errors defines the error taxonomy shared by the treeview packages.
//
// Three outcomes of node construction are kept apart:
//
//   - NoSuchData: the candidate object cannot be represented by the node type
//     being tried. Expected and frequent; the factory moves on to the next builder.
//   - Fault: the builder had good reason to believe the object was its format
//     but failed to read it (truncated body, I/O error, panic).
//   - Cancelled: the caller's context ended dispatch early.
package errors

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNoSuchData indicates that an object cannot be turned into a node of a given type.
	ErrNoSuchData = errors.New("no such data")

	// ErrDispatchExhausted indicates that no builder could make a node from an object.
	ErrDispatchExhausted = errors.New("no builder could make a node")

	// ErrFault indicates an unexpected failure while reading recognisable data.
	ErrFault = errors.New("unexpected fault")

	// ErrCancelled indicates that node construction was abandoned because the context ended.
	ErrCancelled = errors.New("node construction cancelled")

	// ErrInvalidConfig indicates an invalid configuration value.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnavailable indicates that an optional subsystem is not present.
	ErrUnavailable = errors.New("subsystem unavailable")
)

// Error codes returned by Code.
const (
	CodeNoSuchData = "NO_SUCH_DATA"
	CodeFault      = "FAULT"
	CodeCancelled  = "CANCELLED"
	CodeConfig     = "CONFIGURATION_ERROR"
)

// NoSuchDataError reports that an object is not of the format a builder handles.
type NoSuchDataError struct {
	// Reason is a human-readable explanation
	Reason string
	// Cause is the underlying error, if any
	Cause error
}

// Error implements the error interface.
func (e *NoSuchDataError) Error() string {
	if e.Cause != nil {
		return e.Reason + ": " + e.Cause.Error()
	}
	return e.Reason
}

// Unwrap returns the cause.
func (e *NoSuchDataError) Unwrap() error {
	return e.Cause
}

// Is makes every NoSuchDataError match ErrNoSuchData.
func (e *NoSuchDataError) Is(target error) bool {
	return target == ErrNoSuchData
}

// NoSuchData returns a format-mismatch error.
func NoSuchData(format string, args ...any) error {
	return &NoSuchDataError{Reason: fmt.Sprintf(format, args...)}
}

// NoSuchDataCause returns a format-mismatch error with an underlying cause.
func NoSuchDataCause(cause error, format string, args ...any) error {
	return &NoSuchDataError{Reason: fmt.Sprintf(format, args...), Cause: cause}
}

// FaultError reports a failure to read data that looked like a recognised format.
type FaultError struct {
	// Builder names the builder that failed
	Builder string
	// Object describes the candidate object
	Object string
	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *FaultError) Error() string {
	return fmt.Sprintf("builder %s failed on %s: %v", e.Builder, e.Object, e.Cause)
}

// Unwrap returns the cause.
func (e *FaultError) Unwrap() error {
	return e.Cause
}

// Is makes every FaultError match ErrFault.
func (e *FaultError) Is(target error) bool {
	return target == ErrFault
}

// Cancelled wraps a context error so that it matches both ErrCancelled and the
// original context error.
func Cancelled(err error) error {
	if err == nil {
		err = context.Canceled
	}
	return fmt.Errorf("%w: %w", ErrCancelled, err)
}

// IsNoSuchData reports whether err is a format mismatch.
func IsNoSuchData(err error) bool {
	return errors.Is(err, ErrNoSuchData)
}

// IsFault reports whether err is an unexpected fault.
func IsFault(err error) bool {
	return errors.Is(err, ErrFault)
}

// IsCancelled reports whether err results from context cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Code maps an error to a stable error code.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case IsCancelled(err):
		return CodeCancelled
	case IsNoSuchData(err), errors.Is(err, ErrDispatchExhausted):
		return CodeNoSuchData
	case errors.Is(err, ErrInvalidConfig):
		return CodeConfig
	default:
		return CodeFault
	}
}

// Is is errors.Is, re-exported so callers need not import both packages.
func Is(err, target error) bool { return errors.Is(err, target) }

// As is errors.As.
func As(err error, target any) bool { return errors.As(err, target) }

// New is errors.New.
func New(text string) error { return errors.New(text) }
