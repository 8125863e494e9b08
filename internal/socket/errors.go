package socket

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a socket-layer failure.
type ErrorCode string

const (
	// ErrCodeConnection indicates a transport-level failure.
	ErrCodeConnection ErrorCode = "CONNECTION_ERROR"

	// ErrCodeJoin indicates the server rejected a channel join.
	ErrCodeJoin ErrorCode = "JOIN_ERROR"

	// ErrCodeClosed indicates an operation on a closed connection or
	// session.
	ErrCodeClosed ErrorCode = "CLOSED"

	// ErrCodeTimeout indicates a request reply did not arrive in time.
	ErrCodeTimeout ErrorCode = "TIMEOUT_ERROR"
)

// Error is a structured socket error carrying a classification code.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.Err }

// NewError creates a structured socket error.
func NewError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// GetErrorCode extracts the code from a socket error, or ErrCodeConnection
// for unclassified errors.
func GetErrorCode(err error) ErrorCode {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeConnection
}
