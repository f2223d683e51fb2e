package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError provides a structured error that can be rendered to API and handshake consumers.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// Is reports whether target is an AppError carrying the same code. Copies produced by
// WithInternal therefore still match the sentinel they were derived from.
func (e *AppError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*AppError)
	if !ok || t == nil {
		return false
	}
	return t.Code == e.Code
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// WithMessage returns a copy of the AppError with a more specific message.
func (e *AppError) WithMessage(message string) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Message = message
	return &cpy
}

// Common errors exposed to the rest of the application.
var (
	ErrForbidden = &AppError{
		Code:       "FORBIDDEN",
		Message:    "Permission denied",
		StatusCode: http.StatusForbidden,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrConflict = &AppError{
		Code:       "CONFLICT",
		Message:    "Request conflicts with current state",
		StatusCode: http.StatusConflict,
	}

	ErrInternalServer = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}

	ErrGatewayTimeout = &AppError{
		Code:       "GATEWAY_TIMEOUT",
		Message:    "Upstream store did not respond in time",
		StatusCode: http.StatusGatewayTimeout,
	}

	ErrRateLimit = &AppError{
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "Too many requests, please slow down",
		StatusCode: http.StatusTooManyRequests,
	}
)

// New builds a new application error with the provided metadata.
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap turns any error into an AppError while keeping the original error for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   err,
	}
}

// FromError converts a generic error into an AppError, defaulting to ErrInternalServer.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return ErrInternalServer.WithInternal(err)
}

// NewBadRequest wraps validation errors with a helpful message.
func NewBadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrBadRequest.Code,
		Message:    message,
		StatusCode: ErrBadRequest.StatusCode,
	}
}
