package services

import (
	"errors"
	"net/http"
)

// Machine readable error codes returned next to the message.
const (
	CodeValidation    = "VALIDATION_ERROR"
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeForbidden     = "FORBIDDEN"
	CodeNotFound      = "NOT_FOUND"
	CodeDomainExists  = "DOMAIN_EXISTS"
	CodeInvalidState  = "INVALID_STATE"
	CodeStateChanged  = "STATE_CHANGED"
	CodeUpstream      = "UPSTREAM_ERROR"
	CodeInternal      = "INTERNAL_ERROR"
	CodeEmailTaken    = "EMAIL_TAKEN"
	CodeAccountLocked = "ACCOUNT_LOCKED"
)

// ServiceError is a failure with an HTTP status and a message safe to show the caller.
// Err carries the underlying cause for logs only. Fields are merged into the error body.
type ServiceError struct {
	Status  int
	Code    string
	Message string
	Fields  map[string]any
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// AsServiceError extracts a ServiceError from err's chain.
func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

func validationError(msg string) *ServiceError {
	return &ServiceError{Status: http.StatusBadRequest, Code: CodeValidation, Message: msg}
}

func invalidStateError(msg string) *ServiceError {
	return &ServiceError{Status: http.StatusBadRequest, Code: CodeInvalidState, Message: msg}
}

func unauthorizedError(msg string) *ServiceError {
	return &ServiceError{Status: http.StatusUnauthorized, Code: CodeUnauthorized, Message: msg}
}

func forbiddenError(msg string) *ServiceError {
	return &ServiceError{Status: http.StatusForbidden, Code: CodeForbidden, Message: msg}
}

func notFoundError(msg string) *ServiceError {
	return &ServiceError{Status: http.StatusNotFound, Code: CodeNotFound, Message: msg}
}

func conflictError(code, msg string) *ServiceError {
	return &ServiceError{Status: http.StatusConflict, Code: code, Message: msg}
}

func lockedError(msg string, fields map[string]any) *ServiceError {
	return &ServiceError{Status: http.StatusTooManyRequests, Code: CodeAccountLocked, Message: msg, Fields: fields}
}

func upstreamError(msg string, err error) *ServiceError {
	return &ServiceError{Status: http.StatusInternalServerError, Code: CodeUpstream, Message: msg, Err: err}
}

func internalError(msg string, err error) *ServiceError {
	return &ServiceError{Status: http.StatusInternalServerError, Code: CodeInternal, Message: msg, Err: err}
}
