package errors

import (
	"errors"
	"fmt"
)

// ErrCode represents an error code
type ErrCode string

const (
	ErrCodeNotFound     ErrCode = "NOT_FOUND"
	ErrCodeUnauthorized ErrCode = "UNAUTHORIZED"
	ErrCodeRateLimited  ErrCode = "RATE_LIMITED"
	ErrCodeInternal     ErrCode = "INTERNAL_ERROR"
	ErrCodeBadRequest   ErrCode = "BAD_REQUEST"
	ErrCodeForbidden    ErrCode = "FORBIDDEN"
	ErrCodeConflict     ErrCode = "CONFLICT"
	ErrCodeNetwork      ErrCode = "NETWORK"
	ErrCodeServer       ErrCode = "SERVER"
	ErrCodeExhausted    ErrCode = "EXHAUSTED"
	ErrCodeCancelled    ErrCode = "CANCELLED"
)

// Class is the retry classification of an error
type Class int

const (
	ClassNone Class = iota
	ClassRateLimited
	ClassTransient
	ClassPermanent
	ClassCancelled
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassRateLimited:
		return "rate_limited"
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	case ClassCancelled:
		return "cancelled"
	}
	return "unknown"
}

// AppError represents an application error
type AppError struct {
	Code    ErrCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Class returns the retry classification of the error code
func (e *AppError) Class() Class {
	switch e.Code {
	case ErrCodeRateLimited:
		return ClassRateLimited
	case ErrCodeNetwork, ErrCodeServer:
		return ClassTransient
	case ErrCodeCancelled:
		return ClassCancelled
	default:
		return ClassPermanent
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// NewUnauthorizedError creates a new unauthorized error
func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeUnauthorized,
		Message: message,
	}
}

// NewRateLimitedError creates a new rate limited error
func NewRateLimitedError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeRateLimited,
		Message: message,
		Err:     err,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeInternal,
		Message: message,
		Err:     err,
	}
}

// NewBadRequestError creates a new bad request error
func NewBadRequestError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeBadRequest,
		Message: message,
	}
}

// NewForbiddenError creates a new forbidden error
func NewForbiddenError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeForbidden,
		Message: message,
	}
}

// NewNetworkError wraps a connection-level failure or request timeout
func NewNetworkError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeNetwork,
		Message: message,
		Err:     err,
	}
}

// NewServerError wraps a 5xx response
func NewServerError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeServer,
		Message: message,
		Err:     err,
	}
}

// NewExhaustedError reports that retries ran out; err is the last failure
func NewExhaustedError(attempts int, err error) *AppError {
	return &AppError{
		Code:    ErrCodeExhausted,
		Message: fmt.Sprintf("gave up after %d attempts", attempts),
		Err:     err,
	}
}

// NewCancelledError wraps a caller-initiated abort
func NewCancelledError(err error) *AppError {
	return &AppError{
		Code:    ErrCodeCancelled,
		Message: "operation cancelled",
		Err:     err,
	}
}

// As extracts the first AppError in the chain
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the code of the first AppError in the chain, or ErrCodeInternal
func CodeOf(err error) ErrCode {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// Classify returns the retry class of err
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	if appErr, ok := As(err); ok {
		return appErr.Class()
	}
	return ClassPermanent
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}

// IsRateLimited checks if the error is a rate limited error
func IsRateLimited(err error) bool {
	return CodeOf(err) == ErrCodeRateLimited
}

// IsCancelled checks if the error is a cancellation
func IsCancelled(err error) bool {
	return err != nil && CodeOf(err) == ErrCodeCancelled
}

// FetchKind names the failure of a resource fetch as seen by its consumers:
// RateLimited, NotFound, Forbidden, Network or Exhausted. Anything else is
// reported by its code.
func FetchKind(err error) string {
	switch CodeOf(err) {
	case ErrCodeRateLimited:
		return "RateLimited"
	case ErrCodeNotFound:
		return "NotFound"
	case ErrCodeForbidden, ErrCodeUnauthorized:
		return "Forbidden"
	case ErrCodeNetwork, ErrCodeServer:
		return "Network"
	case ErrCodeExhausted:
		return "Exhausted"
	case ErrCodeCancelled:
		return "Cancelled"
	}
	return string(CodeOf(err))
}
