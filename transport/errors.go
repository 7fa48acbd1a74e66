package transport

import (
	"errors"
	"fmt"
)

// Common transport errors
var (
	// ErrBufferFull indicates the outbound queue is saturated and the message was dropped
	ErrBufferFull = errors.New("buffer full")

	// ErrSessionClosed indicates the session or endpoint has been closed
	ErrSessionClosed = errors.New("session closed")

	// ErrNotConnected indicates the datagram endpoint has no pinned peer yet
	ErrNotConnected = errors.New("endpoint not connected")

	// ErrUnknownChannel indicates a channel id this build does not know
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrInvalidFrame indicates a stream frame with a bad length prefix
	ErrInvalidFrame = errors.New("invalid frame length")
)

// NetError represents a socket error with additional context
type NetError struct {
	Op   string // operation that caused the error
	Addr string // address if relevant
	Err  error  // underlying error
}

func (e *NetError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("transport %s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *NetError) Unwrap() error {
	return e.Err
}

// newNetError creates a new NetError
func newNetError(op, addr string, err error) *NetError {
	return &NetError{
		Op:   op,
		Addr: addr,
		Err:  err,
	}
}
