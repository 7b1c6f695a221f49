// Package apperrors defines the error kinds the service layer reports.
// Handlers branch on the kind to pick an HTTP status; the persisted
// Backup/RestoreHistory error fields keep the message for operators.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind is a machine-checkable error category.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not_found"
	KindInvariant       Kind = "invariant_violation"
	KindIntegrity       Kind = "integrity"
	KindInvalidSchedule Kind = "invalid_schedule"
	KindStorage         Kind = "storage"
)

// Error carries a human-readable message plus a machine-checkable kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is match two *Error values by kind, so sentinel-style
// comparisons like errors.Is(err, apperrors.NotFound("")) work.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// NotFound reports that a referenced record does not exist.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// Validation reports malformed input, rejected before any state change.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// Invariant reports an operation that would break a data invariant.
func Invariant(format string, args ...any) *Error {
	return &Error{Kind: KindInvariant, Msg: fmt.Sprintf(format, args...)}
}

// Integrity reports a checksum mismatch on restore.
func Integrity(format string, args ...any) *Error {
	return &Error{Kind: KindIntegrity, Msg: fmt.Sprintf(format, args...)}
}

// InvalidSchedule reports a malformed cron expression or task definition.
func InvalidSchedule(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidSchedule, Msg: fmt.Sprintf(format, args...)}
}

// Storage wraps a read/write failure from the entity accessors. Retry policy,
// if any, belongs to the storage layer, not to this service.
func Storage(err error, format string, args ...any) *Error {
	return &Error{Kind: KindStorage, Msg: fmt.Sprintf(format, args...), Err: err}
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
