package realtime

import (
	"errors"
	"fmt"
)

// Sentinel errors for the realtime package.
var (
	// ErrMissingAPIKey indicates the API key was not provided.
	ErrMissingAPIKey = errors.New("realtime: API key is required")

	// ErrNotConnected indicates the peer is not connected.
	ErrNotConnected = errors.New("realtime: not connected")

	// ErrAlreadyConnected indicates Connect was called twice.
	ErrAlreadyConnected = errors.New("realtime: already connected")

	// ErrConnectionClosed indicates the upstream closed the socket.
	ErrConnectionClosed = errors.New("realtime: connection closed")
)

// APIError is an error event reported by the upstream.
type APIError struct {
	Type    string
	Code    string
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("realtime: API error [%s]: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("realtime: API error: %s", e.Message)
}

// IsRetryable reports whether the upstream may accept the request later.
func (e *APIError) IsRetryable() bool {
	return e.Code == "rate_limit_exceeded" || e.Type == "server_error"
}

// ConnectionError is a transport failure on the upstream socket.
type ConnectionError struct {
	Reason    string
	Cause     error
	Retryable bool
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("realtime: connection error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("realtime: connection error: %s", e.Reason)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns true if reconnection should be attempted.
func (e *ConnectionError) IsRetryable() bool {
	return e.Retryable
}

// NewConnectionError creates a new ConnectionError.
func NewConnectionError(reason string, cause error, retryable bool) *ConnectionError {
	return &ConnectionError{Reason: reason, Cause: cause, Retryable: retryable}
}

// IsNotConnected returns true if the error indicates no connection.
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected) || errors.Is(err, ErrConnectionClosed)
}

// IsRetryable returns true if the error can be retried.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return connErr.IsRetryable()
	}
	return false
}
