package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind classifies gateway failures.
type ErrorKind string

const (
	ErrorAuth     ErrorKind = "auth"
	ErrorRejected ErrorKind = "rejected"
	ErrorTimeout  ErrorKind = "timeout"
)

var (
	// ErrAuth is matched by credential or token failures.
	ErrAuth = errors.New("gateway authentication failed")
	// ErrRejected is matched when the provider declined the operation.
	ErrRejected = errors.New("gateway rejected the operation")
	// ErrTimeout is matched when the outcome is unknown.
	ErrTimeout = errors.New("gateway timed out")
)

// Error is returned by every gateway operation.
type Error struct {
	Kind     ErrorKind
	Provider Kind
	Op       string
	Code     string
	// Status is the provider HTTP status, when one was received.
	Status int
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Provider, e.Op, e.Kind)
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrAuth:
		return e.Kind == ErrorAuth
	case ErrRejected:
		return e.Kind == ErrorRejected
	case ErrTimeout:
		return e.Kind == ErrorTimeout
	}
	return false
}

// NewError builds a gateway error.
func NewError(kind ErrorKind, provider Kind, op string, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Op: op, Err: err}
}

// IsNotFound reports whether the provider answered that the resource does
// not exist.
func IsNotFound(err error) bool {
	var gerr *Error
	return errors.As(err, &gerr) && gerr.Status == http.StatusNotFound
}

// IsTimeout reports whether err means the call outcome is unknown.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
