package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a domain error for the transport layer.
type ErrorKind string

const (
	ErrorValidation    ErrorKind = "VALIDATION"
	ErrorNotFound      ErrorKind = "NOT_FOUND"
	ErrorConflict      ErrorKind = "CONFLICT"
	ErrorAIUnavailable ErrorKind = "AI_UNAVAILABLE"
)

// Error is the domain error type. Validation, not-found and conflict are
// detected synchronously and never retried; AI-unavailable is what remains
// after the model client has exhausted its retry policy.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidation reports malformed caller input.
func NewValidation(message string) *Error {
	return &Error{Kind: ErrorValidation, Message: message}
}

// NewNotFound reports an unknown session id.
func NewNotFound(message string) *Error {
	return &Error{Kind: ErrorNotFound, Message: message}
}

// NewConflict reports an operation invalid for the session's current state.
func NewConflict(message string) *Error {
	return &Error{Kind: ErrorConflict, Message: message}
}

// NewAIUnavailable reports an unreachable language model after retries.
func NewAIUnavailable(message string, err error) *Error {
	return &Error{Kind: ErrorAIUnavailable, Message: message, Err: err}
}

// KindOf returns the error kind of err, or "" if err is not a domain error.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
