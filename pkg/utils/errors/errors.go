package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the type of an error
type ErrorType uint

const (
	// ErrorTypeUnknown represents an unknown error
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeInvalidArgument represents malformed or out-of-range caller input
	ErrorTypeInvalidArgument
	// ErrorTypeDomain represents contract parameters the pricing model is undefined for
	ErrorTypeDomain
	// ErrorTypeNotFound represents a not found error
	ErrorTypeNotFound
	// ErrorTypeUnavailable represents a downstream dependency that cannot be reached
	ErrorTypeUnavailable
	// ErrorTypeInternal represents an internal error
	ErrorTypeInternal
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeInvalidArgument:
		return "invalid_argument"
	case ErrorTypeDomain:
		return "domain"
	case ErrorTypeNotFound:
		return "not_found"
	case ErrorTypeUnavailable:
		return "unavailable"
	case ErrorTypeInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// AppError represents an application error
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
}

// Error returns the error message
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// Wrap wraps an error with a message, keeping the type of the wrapped error
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return &AppError{Type: TypeOf(err), Message: message, Err: err}
}

// Wrapf wraps an error with a formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// TypeOf returns the type of the first AppError in err's chain
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeUnknown
}

// IsType reports whether err carries the given type
func IsType(err error, t ErrorType) bool {
	return err != nil && TypeOf(err) == t
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// InvalidArgument creates a new InvalidArgument error
func InvalidArgument(message string) error {
	return &AppError{Type: ErrorTypeInvalidArgument, Message: message}
}

// InvalidArgumentf creates a new InvalidArgument error with a formatted message
func InvalidArgumentf(format string, args ...interface{}) error {
	return InvalidArgument(fmt.Sprintf(format, args...))
}

// Domain creates a new Domain error
func Domain(message string) error {
	return &AppError{Type: ErrorTypeDomain, Message: message}
}

// Domainf creates a new Domain error with a formatted message
func Domainf(format string, args ...interface{}) error {
	return Domain(fmt.Sprintf(format, args...))
}

// NotFound creates a new NotFound error
func NotFound(message string) error {
	return &AppError{Type: ErrorTypeNotFound, Message: message}
}

// Unavailable wraps err as an Unavailable error
func Unavailable(message string, err error) error {
	return &AppError{Type: ErrorTypeUnavailable, Message: message, Err: err}
}

// Internal creates a new Internal error
func Internal(message string) error {
	return &AppError{Type: ErrorTypeInternal, Message: message}
}
