package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures.
type ErrorKind string

const (
	KindIO                 ErrorKind = "io"
	KindData               ErrorKind = "data"
	KindGeneration         ErrorKind = "generation"
	KindArtifactMissing    ErrorKind = "artifact_missing"
	KindStorageUnavailable ErrorKind = "storage_unavailable"
	KindStorageUpload      ErrorKind = "storage_upload"
	KindNotification       ErrorKind = "notification"
	KindUnknown            ErrorKind = "unknown"
)

// Error is the typed failure returned by every pipeline step.
type Error struct {
	Kind     ErrorKind
	Op       string
	ExportID string
	Err      error
}

func NewError(kind ErrorKind, op, exportID string, err error) *Error {
	return &Error{Kind: kind, Op: op, ExportID: exportID, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s (export %s)", e.Op, e.Kind, e.ExportID)
	}
	return fmt.Sprintf("%s: %s (export %s): %v", e.Op, e.Kind, e.ExportID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure is expected to clear on its own.
// Only connectivity problems qualify; the queue still retries every kind.
func (e *Error) Transient() bool {
	return e.Kind == KindStorageUnavailable
}

// KindOf extracts the kind from err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindUnknown
}

// IsTransient reports whether err is a transient pipeline error.
func IsTransient(err error) bool {
	var perr *Error
	return errors.As(err, &perr) && perr.Transient()
}
