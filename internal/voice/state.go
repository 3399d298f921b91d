package voice

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidTransition is returned when a session is asked to move between
// two states the state machine does not connect.
var ErrInvalidTransition = errors.New("voice: invalid state transition")

// State is the connection state of a guild session.
type State int

const (
	// StateIdle is a session that has not started connecting.
	StateIdle State = iota

	// StateConnecting waits for the platform to acknowledge the join.
	StateConnecting

	// StateConnected holds a live connection without recognition.
	StateConnected

	// StateListening holds a live connection with a running engine.
	StateListening

	// StateReconnecting is tearing down and re-establishing the connection.
	StateReconnecting

	// StateDisconnected is terminal; the session has left the registry.
	StateDisconnected
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateListening:
		return "listening"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Active reports whether the session holds, or is re-establishing, a
// connection.
func (s State) Active() bool {
	return s == StateConnected || s == StateListening || s == StateReconnecting
}

var transitions = map[State][]State{
	StateIdle:         {StateConnecting, StateDisconnected},
	StateConnecting:   {StateConnected, StateDisconnected},
	StateConnected:    {StateListening, StateReconnecting, StateDisconnected},
	StateListening:    {StateConnected, StateReconnecting, StateDisconnected},
	StateReconnecting: {StateConnected, StateListening, StateDisconnected},
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

func checkTransition(from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
