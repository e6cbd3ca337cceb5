package errors

import (
	"fmt"
	"maps"
)

// Error is a structured error with a code, a human-readable message, an
// optional cause, and optional structured details. Values are treated as
// immutable; the With* methods return modified copies.
type Error struct {
	// Code is the machine-readable error code.
	Code Code

	// Message is the human-readable description.
	Message string

	// Cause is the underlying error, exposed through Unwrap.
	Cause error

	// Details holds structured context such as agent ids or states.
	Details map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the cause so errors.Is and errors.As see through Error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetails returns a copy of e with details merged over its existing
// details.
func (e *Error) WithDetails(details map[string]any) *Error {
	merged := make(map[string]any, len(e.Details)+len(details))
	maps.Copy(merged, e.Details)
	maps.Copy(merged, details)
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Cause:   e.Cause,
		Details: merged,
	}
}

// WithDetail returns a copy of e with a single detail added.
func (e *Error) WithDetail(key string, value any) *Error {
	return e.WithDetails(map[string]any{key: value})
}

// Attrs returns the code, the rendered error, and the details as a flat
// key/value list suitable for slog calls.
func (e *Error) Attrs() []any {
	attrs := []any{"code", string(e.Code), "error", e.Error()}
	for k, v := range e.Details {
		attrs = append(attrs, k, v)
	}
	return attrs
}

// Format implements fmt.Formatter. %+v prints the code, message, details,
// and cause chain.
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "Error{Code: %q, Message: %q", e.Code, e.Message)
			if len(e.Details) > 0 {
				fmt.Fprintf(s, ", Details: %v", e.Details)
			}
			if e.Cause != nil {
				fmt.Fprintf(s, ", Cause: %+v", e.Cause)
			}
			fmt.Fprint(s, "}")
			return
		}
		fallthrough
	case 's':
		fmt.Fprint(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}
