package models

import (
	"errors"
	"fmt"
)

var (
	ErrPaymentNotFound       = errors.New("payment record not found")
	ErrDuplicateReference    = errors.New("payment reference already exists")
	ErrTerminalState         = errors.New("payment record is in a terminal state")
	ErrConcurrentUpdate      = errors.New("payment record was modified concurrently")
	ErrDuplicateNotification = errors.New("notification for an already resolved payment")
)

// ValidationError rejects a request before any provider is contacted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// CommunicationError is a transport-level failure talking to a provider:
// connection errors, timeouts, non-2xx answers and malformed bodies.
type CommunicationError struct {
	Gateway string
	Err     error
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("%s communication failed: %v", e.Gateway, e.Err)
}

func (e *CommunicationError) Unwrap() error { return e.Err }

// BusinessError is an explicit provider decline. The attempt stays open.
type BusinessError struct {
	Gateway string
	Code    string
	Message string
}

func (e *BusinessError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%s declined the payment: %s", e.Gateway, e.Message)
	}
	return fmt.Sprintf("%s declined the payment (%s): %s", e.Gateway, e.Code, e.Message)
}

// MismatchError flags a callback whose money fields disagree with the record.
type MismatchError struct {
	Reference string
	Field     string
	Expected  string
	Actual    string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("callback for %s disagrees on %s: expected %q, got %q", e.Reference, e.Field, e.Expected, e.Actual)
}
