// Package apierror defines the error taxonomy shared by the HTTP layer,
// the job controller, and the CLI. A single translation layer (api.errorStatus)
// maps each Code to an HTTP status; library code never writes status codes
// directly.
package apierror

import "fmt"

// Code is one of the error categories in SPEC_FULL §7.
type Code string

const (
	CodeValidation   Code = "VALIDATION_ERROR"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeRateLimited  Code = "RATE_LIMITED"
	CodeQuotaExceeded Code = "QUOTA_EXCEEDED"
	CodeNotFound     Code = "NOT_FOUND"
	CodeConflict     Code = "CONFLICT"
	CodeStorage      Code = "STORAGE_ERROR"
	CodeGeneration   Code = "GENERATION_ERROR"
)

// Error is a typed error carrying a taxonomy code, a human message, and
// optional structured details for the {error:{code,message,details}} body.
type Error struct {
	Code    Code
	Message string
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New constructs an *Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf constructs an *Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails returns a copy of e with Details set.
func (e *Error) WithDetails(details string) *Error {
	return &Error{Code: e.Code, Message: e.Message, Details: details}
}

// Validation is a convenience constructor for CodeValidation.
func Validation(format string, args ...any) *Error {
	return Newf(CodeValidation, format, args...)
}

// NotFound is a convenience constructor for CodeNotFound.
func NotFound(format string, args ...any) *Error {
	return Newf(CodeNotFound, format, args...)
}

// Conflict is a convenience constructor for CodeConflict.
func Conflict(format string, args ...any) *Error {
	return Newf(CodeConflict, format, args...)
}

// Storage is a convenience constructor for CodeStorage.
func Storage(format string, args ...any) *Error {
	return Newf(CodeStorage, format, args...)
}

// Generation is a convenience constructor for CodeGeneration.
func Generation(format string, args ...any) *Error {
	return Newf(CodeGeneration, format, args...)
}

// As extracts an *Error from err if present.
func As(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	apiErr, ok := err.(*Error)
	return apiErr, ok
}
