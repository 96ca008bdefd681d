// Package errors provides structured error handling for the harvester.
//
// Every error raised by the engine, its providers and its sinks is an *Error
// carrying an ErrorType. The type decides how a harvest run reacts:
//
//   - ErrorTypeConfig: the run never starts
//   - ErrorTypeSourceUnavailable, ErrorTypeSink, ErrorTypeInternal: the run aborts
//   - ErrorTypeIntrospection, ErrorTypeMalformedDescriptor: the offending item is
//     skipped, counted as failed, and the run continues with the next sibling
//
// Example:
//
//	if err := rows.Scan(&name); err != nil {
//	    return errors.Wrap(err, errors.ErrorTypeIntrospection, "failed to scan table row").
//	        WithDetail("schema", schema)
//	}
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeConfig represents configuration errors detected before a run starts
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeSourceUnavailable represents a lost or unreachable introspection source
	ErrorTypeSourceUnavailable ErrorType = "source_unavailable"
	// ErrorTypeIntrospection represents unreadable metadata for a single item
	ErrorTypeIntrospection ErrorType = "introspection"
	// ErrorTypeMalformedDescriptor represents a descriptor that cannot be converted to a record
	ErrorTypeMalformedDescriptor ErrorType = "malformed_descriptor"
	// ErrorTypeSink represents a sink that cannot accept records or answer lookups
	ErrorTypeSink ErrorType = "sink"
	// ErrorTypeNotFound represents resource not found errors
	ErrorTypeNotFound ErrorType = "not_found"
)

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
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

	// If already our error type, preserve the stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// TypeOf returns the type of the outermost *Error in the chain, or
// ErrorTypeInternal for errors that were never classified.
func TypeOf(err error) ErrorType {
	var e *Error
	if !errors.As(err, &e) {
		return ErrorTypeInternal
	}
	return e.Type
}

// IsType checks if the error is of the given type
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// IsRecoverable reports whether the error only affects a single item.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	switch TypeOf(err) {
	case ErrorTypeIntrospection, ErrorTypeMalformedDescriptor:
		return true
	default:
		return false
	}
}

// IsFatal reports whether the error must abort a harvest run.
func IsFatal(err error) bool {
	return err != nil && !IsRecoverable(err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
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
