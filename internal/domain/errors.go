package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// TransportError represents a connection-level failure (refused, timeout, abrupt close).
// It never terminates the client; it only flips a channel's connected flag.
type TransportError struct {
	Op   string // "dial", "read", "write", "close"
	Code int    // WebSocket close code, 0 if none
	Err  error
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

// IsRetriable reports true: a caller-driven reconnect may recover from any transport failure.
func (e *TransportError) IsRetriable() bool {
	return true
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a transport error for op
func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}

// DecodeError represents a malformed or unexpected inbound frame.
// The frame is dropped and decoding continues with the next one.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return "decode: " + e.Reason + ": " + e.Err.Error()
	}
	return "decode: " + e.Reason
}

func (e *DecodeError) IsRetriable() bool {
	return false
}

func (e *DecodeError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrMalformedFrame
}

// NewDecodeError creates a decode error with a short reason
func NewDecodeError(reason string, err error) *DecodeError {
	return &DecodeError{Reason: reason, Err: err}
}

// EncodeError represents a failure to build a subscribe request
type EncodeError struct {
	Kind string
	Err  error
}

func (e *EncodeError) Error() string {
	return "encode " + e.Kind + " subscribe: " + e.Err.Error()
}

func (e *EncodeError) IsRetriable() bool {
	return false
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrUnknownTimeframe is returned for a timeframe token outside the supported set.
	ErrUnknownTimeframe = errors.New("unknown timeframe")

	// ErrMalformedFrame is the base of every DecodeError without a more specific cause.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrNotConnected is returned when writing to a channel without a live transport.
	ErrNotConnected = errors.New("not connected")

	// ErrRetryInProgress is returned when a reconnect cycle is already running.
	ErrRetryInProgress = errors.New("retry already in progress")
)
