package domain

import "fmt"

// ConnectionState is the lifecycle state of the single transport session.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateAwaitingAuthScan
	StateOpen
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingAuthScan:
		return "awaiting_auth_scan"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CloseReason explains why the transport connection closed.
// Terminal reasons (credentials invalidated) must never trigger a reconnect.
type CloseReason struct {
	Terminal bool
	Cause    string
}

func (r CloseReason) String() string {
	kind := "transient"
	if r.Terminal {
		kind = "terminal"
	}
	if r.Cause == "" {
		return kind
	}
	return kind + ": " + r.Cause
}

// TransportCloseError wraps the underlying cause of a closed connection.
type TransportCloseError struct {
	Reason CloseReason
	Err    error
}

func (e *TransportCloseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport closed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("transport closed (%s)", e.Reason)
}

func (e *TransportCloseError) Unwrap() error { return e.Err }

// PersistenceError reports a failure to save the credential bundle.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return "persist credentials: " + e.Err.Error() }

func (e *PersistenceError) Unwrap() error { return e.Err }
