// Package errors provides coded application errors shared by storage backends, services
// and HTTP handlers.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes an AppError. HTTP handlers map codes to status codes.
type ErrorCode string

const (
	ErrCodeNotFound   ErrorCode = "not_found"
	ErrCodeConflict   ErrorCode = "conflict"
	ErrCodeValidation ErrorCode = "validation"
	ErrCodeInternal   ErrorCode = "internal"
	ErrCodeTimeout    ErrorCode = "timeout"
	ErrCodeCanceled   ErrorCode = "canceled"
)

// AppError carries a code, a client-safe message, the offending input field when known,
// and an optional cause.
type AppError struct {
	Code    ErrorCode
	Message string
	Field   string
	Cause   error
}

// Error returns "message: cause", or whichever of the two is set.
func (e *AppError) Error() string {
	switch {
	case e.Cause == nil:
		return e.Message
	case e.Message == "":
		return e.Cause.Error()
	default:
		return e.Message + ": " + e.Cause.Error()
	}
}

func (e *AppError) Unwrap() error { return e.Cause }

// NotFoundf builds a not_found error.
func NotFoundf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Validation builds a validation error.
func Validation(message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message}
}

// ValidationField builds a validation error that names the rejected field.
func ValidationField(field, message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message, Field: field}
}

// Invalid marks err as a validation failure without changing its message.
// It returns nil for a nil err.
func Invalid(err error) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Code == ErrCodeValidation {
		return err
	}
	return &AppError{Code: ErrCodeValidation, Cause: err}
}

// Wrap attaches code and message to err. It returns nil for a nil err.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, Cause: err}
}

// GetCode returns the code of the outermost AppError in err's chain, or "".
func GetCode(err error) ErrorCode {
	if appErr := asAppError(err); appErr != nil {
		return appErr.Code
	}
	return ""
}

// GetField returns the first non-empty Field in err's chain, or "".
func GetField(err error) string {
	for err != nil {
		appErr := asAppError(err)
		if appErr == nil {
			return ""
		}
		if appErr.Field != "" {
			return appErr.Field
		}
		err = appErr.Cause
	}
	return ""
}

func IsNotFound(err error) bool   { return GetCode(err) == ErrCodeNotFound }
func IsConflict(err error) bool   { return GetCode(err) == ErrCodeConflict }
func IsValidation(err error) bool { return GetCode(err) == ErrCodeValidation }
func IsTimeout(err error) bool    { return GetCode(err) == ErrCodeTimeout }

func asAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}
