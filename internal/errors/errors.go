// Package errors provides the typed errors shared by the tunnel client.
//
// The types carry enough context (operation, address, HTTP status) for
// callers to decide between retrying, replacing a connection, or
// surfacing a fatal error, without string matching.
package errors

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrTunnelClosed = errors.New("tunnel is closed")
	ErrRelayRefused = errors.New("relay refused connection")
	ErrRelayClosed  = errors.New("relay closed the connection")
)

// DefaultNegotiationMessage is used when the relay rejects a
// negotiation without a readable message.
const DefaultNegotiationMessage = "tunnel server returned an error, please try again"

// ── Structured error types ───────────────────────────────────────────

// NetworkError represents a failure in a network operation.
type NetworkError struct {
	Op        string // "negotiate", "relay dial", "local dial", "bridge"
	Addr      string
	Err       error
	Retryable bool
}

func (e *NetworkError) Error() string {
	s := fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	if e.Retryable {
		s += " (retryable)"
	}
	return s
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ProtocolError is a terminal negotiation failure: the relay answered,
// but not with a usable assignment.
type ProtocolError struct {
	Status  int // HTTP status, 0 when the body was the problem
	Message string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("negotiation failed (status %d): %s", e.Status, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("negotiation failed: %s: %v", e.Message, e.Err)
	}
	return "negotiation failed: " + e.Message
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// Wrap creates a NetworkError.  Retryable is set for refused and reset
// conditions, the only ones the client ever waits out.
func Wrap(op, addr string, err error) *NetworkError {
	return &NetworkError{
		Op:        op,
		Addr:      addr,
		Err:       err,
		Retryable: IsLocalRetryable(err),
	}
}

// ── Classification helpers ───────────────────────────────────────────

// IsConnRefused reports whether err is (or wraps) ECONNREFUSED.
func IsConnRefused(err error) bool {
	return err != nil && errors.Is(err, syscall.ECONNREFUSED)
}

// IsConnReset reports whether err is (or wraps) ECONNRESET.
func IsConnReset(err error) bool {
	return err != nil && errors.Is(err, syscall.ECONNRESET)
}

// IsLocalRetryable reports whether a failed dial to the local service
// should be retried: the service is assumed to be restarting.
func IsLocalRetryable(err error) bool {
	return IsConnRefused(err) || IsConnReset(err)
}

// IsRetryable reports whether err was marked retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Retryable
	}
	return IsLocalRetryable(err)
}

// IsExpectedClose reports whether err is a normal teardown condition
// seen while a bridge unwinds: EOF, a closed connection, a broken pipe
// or a reset from the peer.
func IsExpectedClose(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET)
}

// ── Re-exports for convenience ───────────────────────────────────────

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
