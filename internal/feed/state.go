package feed

import "fmt"

// State is the lifecycle phase of a connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a state together with the reconnect attempt it belongs to.
// Attempt is non-zero only while reconnecting.
type Status struct {
	State   State `json:"state"`
	Attempt int   `json:"attempt,omitempty"`
}

func (s Status) String() string {
	if s.State == StateReconnecting {
		return fmt.Sprintf("reconnecting(%d)", s.Attempt)
	}
	return s.State.String()
}

// StateObserver is notified on every status transition.
type StateObserver func(from, to Status)

// ErrorObserver is notified of connection errors, breaker trips and the
// terminal reconnect failure.
type ErrorObserver func(err error)
