package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error carrying the HTTP status, a short title and a
// human readable detail for the caller.
type Error struct {
	Code   string `json:"code"`
	Status int    `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
	Err    error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Title
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", e.Title, e.Detail)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors of the same code so callers can compare against the predefined values
// even after Clone or Wrap.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, title string) *Error {
	return &Error{Code: code, Status: status, Title: title}
}

// Wrap attaches context to an existing error.
func Wrap(err error, base *Error, detail string) *Error {
	if base == nil {
		base = ErrInternal
	}
	return &Error{Code: base.Code, Status: base.Status, Title: base.Title, Detail: detail, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrDuplicateRecord     = New("DUPLICATE_RECORD", http.StatusBadRequest, "voting record integrity error")
	ErrRecordNotFound      = New("RECORD_NOT_FOUND", http.StatusBadRequest, "voting record not found")
	ErrInvalidTransition   = New("INVALID_TRANSITION", http.StatusConflict, "invalid state transition")
	ErrTransactionConflict = New("TRANSACTION_CONFLICT", http.StatusConflict, "transaction conflict, retry the request")
	ErrHistoryTampered     = New("HISTORY_TAMPERED", http.StatusConflict, "revision history failed verification")
	ErrValidation          = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrUnsupportedFormat   = New("UNSUPPORTED_FORMAT", http.StatusBadRequest, "unsupported export format")
	ErrInternal            = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrUnavailable         = New("UNAVAILABLE", http.StatusServiceUnavailable, "service unavailable")
	ErrCacheMiss           = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal, err.Error())
}

// Clone returns a copy of the error with the detail replaced.
func Clone(err *Error, detail string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if detail != "" {
		clone.Detail = detail
	}
	return &clone
}
