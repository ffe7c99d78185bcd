package transport

import (
	"errors"
	"fmt"
)

// Sentinel errors for the transport package.
var (
	// ErrClosed is returned by Send after the session has closed.
	ErrClosed = errors.New("transport: session closed")

	// ErrSendQueueFull is returned when the outbound queue cannot take
	// another frame without blocking.
	ErrSendQueueFull = errors.New("transport: send queue full")

	// ErrClosedByPeer means the remote side sent a close frame.
	ErrClosedByPeer = errors.New("transport: closed by peer")

	// ErrEmptyEndpoint is returned by Open for an endpoint without a URL.
	ErrEmptyEndpoint = errors.New("transport: empty endpoint")
)

// ConnectError means the persistent connection could not be opened.
type ConnectError struct {
	// Host is the endpoint host. The full URL may carry credentials and is
	// not kept.
	Host string

	// StatusCode is the HTTP status of a rejected handshake, or 0.
	StatusCode int

	// Err is the underlying dial error.
	Err error
}

// Error implements the error interface.
func (e *ConnectError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport: connect %s failed (HTTP %d): %v", e.Host, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport: connect %s failed: %v", e.Host, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ConnectError) Unwrap() error {
	return e.Err
}

// TransportError is an unexpected failure of an established connection.
type TransportError struct {
	// Op is "read" or "write".
	Op string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsClosedByPeer reports whether err is an orderly close from the remote side.
func IsClosedByPeer(err error) bool {
	return errors.Is(err, ErrClosedByPeer)
}

// IsConnectError reports whether err came from a failed Open.
func IsConnectError(err error) bool {
	var ce *ConnectError
	return errors.As(err, &ce)
}
