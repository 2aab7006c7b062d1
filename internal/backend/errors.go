// Package backend defines the persistence contract the pipelines consume and
// the error taxonomy drivers must map their failures onto.
package backend

import (
	"errors"
	"fmt"
)

// Sentinel errors of the backend error taxonomy. Drivers wrap their native
// failures so callers can classify with errors.Is.
var (
	// ErrTransient marks a retriable failure (connection loss, deadlock).
	ErrTransient = errors.New("transient backend error")
	// ErrFatal marks a non-retriable failure (schema or consistency error).
	ErrFatal = errors.New("fatal backend error")
	// ErrNotFound marks a definitive missing row.
	ErrNotFound = errors.New("not found")
	// ErrNotImplemented marks an operation or driver that is not available.
	ErrNotImplemented = errors.New("not implemented")
)

// Transient wraps err as a retriable backend failure.
func Transient(err error) error {
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Fatal wraps err as a non-retriable backend failure.
func Fatal(err error) error {
	return fmt.Errorf("%w: %w", ErrFatal, err)
}

// IsTransient reports whether err is retriable.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
