package connection

import "fmt"

type State int

const (
	// StateUninstantiated is the initial state. The manager stays here until
	// it is given an authorization token.
	StateUninstantiated State = iota
	// StateConnecting is entered when a dial starts.
	StateConnecting
	// StateOpen means the transport acknowledged the connection.
	StateOpen
	// StateClosing is a client initiated close in progress.
	StateClosing
	// StateClosed means there is no connection. A reconnect may be pending,
	// see Status.
	StateClosed
)

func (state State) String() string {
	switch state {
	case StateUninstantiated:
		return "UNINSTANTIATED"
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "InvalidState"
	}
}

// We assume the following state transitions:
//
//	UNINSTANTIATED -> CONNECTING            (token available)
//	CONNECTING     -> OPEN                  (transport open)
//	CONNECTING     -> CLOSED                (dial failed or aborted)
//	OPEN           -> CLOSED                (transport error, remote close, heartbeat timeout)
//	OPEN           -> CLOSING -> CLOSED     (client initiated close)
//	CLOSED         -> CONNECTING            (reconnect or fresh token)
func (s State) validateTransitionTo(newState State) error {
	switch s {
	case StateUninstantiated:
		if newState == StateConnecting {
			return nil
		}
	case StateConnecting:
		switch newState {
		case StateOpen, StateClosed:
			return nil
		}
	case StateOpen:
		switch newState {
		case StateClosing, StateClosed:
			return nil
		}
	case StateClosing:
		if newState == StateClosed {
			return nil
		}
	case StateClosed:
		if newState == StateConnecting {
			return nil
		}
	}

	return fmt.Errorf("invalid state transition from %v to %v", s, newState)
}

// Status is a point-in-time view of the manager for status indicators.
type Status struct {
	State State
	// Fatal is set by a session-ending server signal. While set, no automatic
	// reconnection happens until a new token is supplied.
	Fatal bool
	// Attempts is the number of reconnect attempts since the last successful
	// open.
	Attempts int
	// Reconnecting is true while a reconnect is scheduled.
	Reconnecting bool
	// Terminal is true when the manager is closed and nothing will reopen it
	// without outside action: retries exhausted, fatal signal, or teardown.
	Terminal bool
	// ConnID identifies the current or last connection in logs.
	ConnID string
	// LastError is the cause of the last disconnect, if any.
	LastError string
}

func (s Status) String() string {
	switch {
	case s.State == StateOpen:
		return "connected"
	case s.State == StateConnecting && s.Attempts > 0, s.Reconnecting:
		return "reconnecting"
	case s.State == StateConnecting:
		return "connecting"
	case s.Fatal:
		return "terminated"
	case s.Terminal && s.State == StateClosed:
		return "disconnected"
	case s.State == StateUninstantiated:
		return "idle"
	default:
		return s.State.String()
	}
}
