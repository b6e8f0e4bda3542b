package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Application-workflow errors. Eligibility and cap failures are terminal for
// the submitting user; the *_INCOMPLETE variants are transient and safe to
// retry from recomputed state.
var (
	ErrNotEligible            = New("NOT_ELIGIBLE", http.StatusUnprocessableEntity, "requirements not met")
	ErrCapExceeded            = New("CAP_EXCEEDED", http.StatusConflict, "maximum of 2 applications per institution reached")
	ErrDuplicateApplication   = New("DUPLICATE_APPLICATION", http.StatusConflict, "an application for this course already exists")
	ErrInvalidSelection       = New("INVALID_SELECTION", http.StatusConflict, "application is not an admitted offer for this student")
	ErrSelectionIncomplete    = New("SELECTION_INCOMPLETE", http.StatusServiceUnavailable, "admission selection could not be completed, please retry")
	ErrPromotionIncomplete    = New("PROMOTION_INCOMPLETE", http.StatusServiceUnavailable, "waitlist promotion could not be completed, please retry")
	ErrConcurrentModification = New("CONCURRENT_MODIFICATION", http.StatusConflict, "selection already in progress")
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
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
