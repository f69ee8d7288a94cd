// Package errors provides structured error handling for tidemark.
//
// Every failure that crosses a package boundary is an *Error carrying an
// ErrorType. Callers branch on the type (IsType, IsRetryable) rather than on
// message text, and the HTTP client maps response status codes onto types
// with FromStatus.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeValidation represents validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeNotFound represents resource not found errors
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeRateLimit represents rate limit errors (HTTP 429)
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeConnection represents transport and non-2xx HTTP errors
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeAuthentication represents credential and token errors
	ErrorTypeAuthentication ErrorType = "authentication"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeData represents response decoding and file parsing errors
	ErrorTypeData ErrorType = "data"
	// ErrorTypeCapability represents unsupported content types and features
	ErrorTypeCapability ErrorType = "capability"
	// ErrorTypeListing represents a failed file-storage search
	ErrorTypeListing ErrorType = "listing_unavailable"
	// ErrorTypeState represents watermark store errors
	ErrorTypeState ErrorType = "state"
	// ErrorTypeSink represents destination write errors
	ErrorTypeSink ErrorType = "sink"
)

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame

	// StatusCode is the HTTP status that produced the error, 0 otherwise.
	StatusCode int
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack and status
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:       errType,
			Message:    message,
			Cause:      err,
			Stack:      existingErr.Stack,
			StatusCode: existingErr.StatusCode,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// FromStatus builds an error for a non-2xx HTTP response. 401 and 403 are
// authentication failures, 429 is a rate limit, 408 and 504 are timeouts and
// everything else is a connection error.
func FromStatus(status int, method, url string, body []byte) *Error {
	errType := ErrorTypeConnection
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		errType = ErrorTypeAuthentication
	case status == http.StatusTooManyRequests:
		errType = ErrorTypeRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		errType = ErrorTypeTimeout
	case status == http.StatusNotFound:
		errType = ErrorTypeNotFound
	}

	const maxBody = 512
	snippet := string(body)
	if len(snippet) > maxBody {
		snippet = snippet[:maxBody] + "..."
	}

	e := &Error{
		Type:       errType,
		Message:    fmt.Sprintf("%s %s returned status %d", method, url, status),
		StatusCode: status,
		Stack:      captureStack(2),
	}
	if snippet != "" {
		e.WithDetail("body", snippet)
	}
	return e
}

// IsRetryable returns true if the error is transient: rate limits, timeouts,
// and connection errors that were not caused by a 4xx client error.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeTimeout:
		return true
	case ErrorTypeConnection:
		return e.StatusCode == 0 || e.StatusCode >= 500
	default:
		return false
	}
}

// IsType checks if the error, or any error it wraps, is of the given type
func IsType(err error, errType ErrorType) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Type == errType {
			return true
		}
		err = e.Cause
	}
	return false
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join returns an error that wraps the given errors.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// captureStack captures the current call stack
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
