package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrIncomplete         = errors.New("incomplete frame")
	ErrUnknownCode        = errors.New("unknown response code")
	ErrNotConnected       = errors.New("not connected")
	ErrCapacityExceeded   = errors.New("subscription capacity exceeded")
	ErrUnsupportedSegment = errors.New("unsupported segment")
	ErrUnsupportedMode    = errors.New("unsupported feed mode")
	ErrConnectTimeout     = errors.New("connect timeout")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrCircuitOpen        = errors.New("error circuit breaker tripped")
	ErrWSDisconnect       = errors.New("websocket disconnected")
	ErrClosed             = errors.New("connection closed")
)

// DecodeError reports a malformed or short frame. The frame is dropped and the
// stream continues.
type DecodeError struct {
	Code byte
	Need int
	Have int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode code %d: need %d bytes, have %d: %v", e.Code, e.Need, e.Have, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ConnectionError reports a transport failure: dial errors, handshake
// timeouts and unexpected closes. The feed URL is never included because it
// carries the access token.
type ConnectionError struct {
	Op   string
	Feed string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Feed == "" {
		return fmt.Sprintf("connection %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s feed %s: %v", e.Feed, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SubscriptionError is returned synchronously by Subscribe; nothing from the
// rejected batch is applied.
type SubscriptionError struct {
	Instrument InstrumentKey
	Err        error
}

func (e *SubscriptionError) Error() string {
	if e.Instrument == (InstrumentKey{}) {
		return fmt.Sprintf("subscription rejected: %v", e.Err)
	}
	return fmt.Sprintf("subscription rejected for %s: %v", e.Instrument, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }
