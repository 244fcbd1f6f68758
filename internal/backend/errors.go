package backend

import (
	"errors"
	"fmt"
)

// ErrorKind classifies adapter failures. Every kind resolves to a terminal
// task state; none is fatal to the session.
type ErrorKind string

const (
	// ErrKindConnection covers network-level failures reaching the backend.
	ErrKindConnection ErrorKind = "connection"

	// ErrKindProvider covers the backend rejecting or erroring the request.
	ErrKindProvider ErrorKind = "provider"

	// ErrKindTimeout covers the per-invocation deadline expiring.
	ErrKindTimeout ErrorKind = "timeout"
)

// Error is a provider-agnostic adapter failure.
type Error struct {
	Backend string
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Backend != "" {
		return fmt.Sprintf("backend %s: %s", e.Backend, msg)
	}
	return fmt.Sprintf("backend: %s", msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// AsError returns the *Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// NewError builds an Error with the given classification.
func NewError(name string, kind ErrorKind, msg string, cause error) *Error {
	return &Error{Backend: name, Kind: kind, Message: msg, Cause: cause}
}
