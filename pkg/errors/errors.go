// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package errors provides the typed error taxonomy used across chorus.
// Routing, tool and backend failures carry a Code so callers can render them
// as terminal chunks and telemetry can count them by class.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies chorus errors for rendering and monitoring.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeConfiguration indicates invalid startup configuration (e.g. an
	// unregistered default persona). Fatal at construction time.
	CodeConfiguration ErrorCode = "CONFIGURATION_ERROR"

	// CodeUnknownPersona indicates a persona name that is not registered.
	CodeUnknownPersona ErrorCode = "UNKNOWN_PERSONA"

	// CodeUnknownTool indicates a command addressed to an unregistered tool.
	CodeUnknownTool ErrorCode = "UNKNOWN_TOOL"

	// CodeToolFailure indicates a tool execution failed.
	CodeToolFailure ErrorCode = "TOOL_FAILURE"

	// CodeMalformedCommand indicates a command that violates the tag grammar.
	CodeMalformedCommand ErrorCode = "MALFORMED_COMMAND"

	// CodeLLMError indicates a backend (model) failure.
	CodeLLMError ErrorCode = "LLM_ERROR"

	// CodeMemoryError indicates a context store persistence failure.
	CodeMemoryError ErrorCode = "MEMORY_ERROR"

	// CodeContextLost indicates the request context was canceled.
	CodeContextLost ErrorCode = "CONTEXT_LOST"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"
)

// Error is a typed error with context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type Error struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Recoverable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// Reason returns the human readable part of the error without the code
// prefix, suitable for user-facing chunks.
func (e *Error) Reason() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *Error) MarshalJSON() ([]byte, error) {
	var cause string
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return json.Marshal(struct {
		Code        string                 `json:"code"`
		Message     string                 `json:"message"`
		Err         string                 `json:"error,omitempty"`
		Context     map[string]interface{} `json:"context,omitempty"`
		Recoverable bool                   `json:"recoverable"`
	}{
		Code:        string(e.Code),
		Message:     e.Message,
		Err:         cause,
		Context:     e.Context,
		Recoverable: e.Recoverable,
	})
}

// New creates a new Error with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: msg,
		Err:     cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	e.Recoverable = recoverable
	return e
}

// As attempts to find an *Error in err's chain.
// Unknown errors are wrapped as CodeInternal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if stderrors.As(err, &ce) {
		return ce
	}
	return New(CodeInternal, "wrapped error", err)
}

// HasCode reports whether err (or any error it wraps) is an *Error with code.
func HasCode(err error, code ErrorCode) bool {
	var ce *Error
	if !stderrors.As(err, &ce) {
		return false
	}
	return ce.Code == code
}

// IsRecoverable reports whether err is marked recoverable.
// Errors that are not *Error are treated as recoverable so that transport
// level failures (connection refused, resets) are retried.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	var ce *Error
	if stderrors.As(err, &ce) {
		return ce.Recoverable
	}
	return true
}
