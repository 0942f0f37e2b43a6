// Package util provides common utilities for the XMPP server implementation.
// This includes custom error types and error classification helpers.
package util

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

// Sentinel errors shared by the server packages.
var (
	// ErrConnectionClosed indicates a send was attempted on a connection that
	// has begun disconnecting, or a queued packet was discarded at teardown.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrServerClosed indicates the server has been stopped.
	ErrServerClosed = errors.New("server closed")

	// ErrServerRunning indicates Start was called on a running server.
	ErrServerRunning = errors.New("server already running")

	// ErrThrottled indicates a connection was rejected by reconnect throttling.
	// Maps to the not-authorized stream condition.
	ErrThrottled = errors.New("connection throttled")

	// ErrHostUnknown indicates the stream header addressed another domain.
	// Maps to the host-unknown stream condition.
	ErrHostUnknown = errors.New("host unknown")

	// ErrAuthFailed indicates SASL authentication failed.
	ErrAuthFailed = errors.New("authentication failed")
)

// StreamError is a stream-level error to be reported to the peer as a
// <stream:error/> before the stream is closed.
type StreamError struct {
	Condition string // Condition element name (e.g., "host-unknown")
	Text      string // Optional human-readable text
}

// NewStreamError creates a new StreamError.
func NewStreamError(condition, text string) *StreamError {
	return &StreamError{Condition: condition, Text: text}
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Text == "" {
		return "stream error: " + e.Condition
	}
	return fmt.Sprintf("stream error: %s: %s", e.Condition, e.Text)
}

// ConnectionError wraps an error with connection context.
// Use this when an error occurs at the connection level.
type ConnectionError struct {
	RemoteAddr string // Remote address of the connection
	Operation  string // The operation being performed
	Err        error  // The underlying error
}

// NewConnectionError creates a new ConnectionError with context.
func NewConnectionError(remoteAddr, operation string, err error) *ConnectionError {
	return &ConnectionError{
		RemoteAddr: remoteAddr,
		Operation:  operation,
		Err:        err,
	}
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.RemoteAddr == "" {
		return fmt.Sprintf("%s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %v", e.RemoteAddr, e.Operation, e.Err)
}

// Unwrap returns the underlying error for errors.Is and errors.As support.
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsSilentClose returns true if the error is an expected end of a
// connection that should not be reported to the peer: a clean EOF, a
// socket closed locally, a reset by the peer, or a deadline used to
// cancel a blocked read.
func IsSilentClose(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, ErrConnectionClosed) {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	return false
}

// IsTimeout reports whether err is a network timeout.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// ToStreamCondition converts an error to the stream error condition
// reported to the peer. Returns "internal-server-error" for unknown errors.
func ToStreamCondition(err error) string {
	var se *StreamError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &se):
		return se.Condition
	case errors.Is(err, ErrThrottled), errors.Is(err, ErrAuthFailed):
		return "not-authorized"
	case errors.Is(err, ErrHostUnknown):
		return "host-unknown"
	case errors.Is(err, ErrServerClosed):
		return "system-shutdown"
	default:
		return "internal-server-error"
	}
}
