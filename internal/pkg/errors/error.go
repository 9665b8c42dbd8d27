package errors

import (
	"errors"
	"fmt"
)

// AppError represents a structured application error
type AppError struct {
	Code     Code   // Error kind
	Message  string // Client facing message
	Resource string // Bucket or object the error is about, e.g. "/photos/cat.jpg"
	Err      error  // Underlying error (if any)
	Details  string // Additional details, logged but not rendered for server errors
}

// Error implements the error interface
func (e *AppError) Error() string {
	switch {
	case e.Err != nil && e.Details != "":
		return fmt.Sprintf("[%s] %s: %s: %v", e.Code, e.Message, e.Details, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	case e.Details != "":
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	default:
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code for this error
func (e *AppError) HTTPStatus() int {
	return GetHTTPStatus(e.Code)
}

// WithResource sets the resource the error refers to
func (e *AppError) WithResource(resource string) *AppError {
	e.Resource = resource
	return e
}

// New creates a new AppError with the given code
func New(code Code, details ...string) *AppError {
	return &AppError{
		Code:    code,
		Message: GetMessage(code),
		Details: first(details),
	}
}

// Wrap wraps an existing error with an error code. An error that already is
// an AppError keeps its own code.
func Wrap(err error, code Code, details ...string) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		if d := first(details); d != "" {
			appErr.Details = d
		}
		return appErr
	}

	return &AppError{
		Code:    code,
		Message: GetMessage(code),
		Err:     err,
		Details: first(details),
	}
}

// Wrapf wraps an error with formatted details
func Wrapf(err error, code Code, format string, args ...any) *AppError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// Is checks if err is an AppError with the given code
func Is(err error, code Code) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// ExtractCode extracts the error code from an error
func ExtractCode(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// As is errors.As, re-exported so callers importing this package as
// "errors" keep access to it.
func As(err error, target any) bool {
	return errors.As(err, target)
}

func first(s []string) string {
	if len(s) > 0 {
		return s[0]
	}
	return ""
}
