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

// Generic errors.
var (
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Session and access errors. These force sign-out and are never shown as
// recoverable in-view errors.
var (
	ErrInvalidCredential = New("INVALID_CREDENTIAL", http.StatusUnauthorized, "invalid credential")
	ErrSessionExpired    = New("SESSION_EXPIRED", http.StatusUnauthorized, "session expired")
	ErrRoleMismatch      = New("ROLE_MISMATCH", http.StatusUnauthorized, "role changed since last render")
	ErrInactiveAccount   = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
)

// Letter lifecycle errors, recovered by the reconciler.
var (
	ErrPermissionDenied  = New("PERMISSION_DENIED", http.StatusForbidden, "role not permitted for this action")
	ErrAlreadyExists     = New("ALREADY_EXISTS", http.StatusConflict, "covering letter already attached")
	ErrSignedImmutable   = New("SIGNED_IMMUTABLE", http.StatusConflict, "covering letter is signed")
	ErrCaseClosed        = New("CASE_CLOSED", http.StatusConflict, "case is closed")
	ErrUnsupportedType   = New("UNSUPPORTED_TYPE", http.StatusUnsupportedMediaType, "unsupported file type")
	ErrTooLarge          = New("TOO_LARGE", http.StatusRequestEntityTooLarge, "file too large")
	ErrInvalidTransition = New("INVALID_TRANSITION", http.StatusConflict, "transition not allowed from current stage")
	ErrNetworkFailure    = New("NETWORK_FAILURE", http.StatusBadGateway, "authoritative store unreachable")
	ErrServerRejected    = New("SERVER_REJECTED", http.StatusConflict, "authoritative store rejected the change")
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

// HasCode reports whether err carries the same code as target. Clones keep the
// code of their origin, so this is the comparison to use instead of errors.Is.
func HasCode(err error, target *Error) bool {
	if err == nil || target == nil {
		return false
	}
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == target.Code
}

// Lookup resolves a wire error code back to its predefined value.
func Lookup(code string) (*Error, bool) {
	e, ok := byCode[code]
	return e, ok
}

var byCode = func() map[string]*Error {
	all := []*Error{
		ErrNotFound, ErrForbidden, ErrUnauthorized, ErrConflict, ErrPreconditionFailed,
		ErrValidation, ErrInternal, ErrCacheMiss,
		ErrInvalidCredential, ErrSessionExpired, ErrRoleMismatch, ErrInactiveAccount,
		ErrPermissionDenied, ErrAlreadyExists, ErrSignedImmutable, ErrCaseClosed,
		ErrUnsupportedType, ErrTooLarge, ErrInvalidTransition, ErrNetworkFailure, ErrServerRejected,
	}
	m := make(map[string]*Error, len(all))
	for _, e := range all {
		m[e.Code] = e
	}
	return m
}()

// IsSessionError reports errors that must end the session rather than be
// surfaced inside a view.
func IsSessionError(err error) bool {
	return HasCode(err, ErrInvalidCredential) ||
		HasCode(err, ErrSessionExpired) ||
		HasCode(err, ErrRoleMismatch) ||
		HasCode(err, ErrUnauthorized)
}
