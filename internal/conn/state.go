// Package conn orchestrates gateway sessions per account: token
// resolution, the connection state machine and the reconnect policy.
package conn

import "time"

// State is the lifecycle of one account's gateway session. It is
// mutated only by the Manager's transition function; everyone else sees
// immutable Status snapshots.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateDisconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnecting:
		return "disconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is an immutable snapshot of one account's connection state.
// Attempt is non-zero only while reconnecting; Err is set only for
// Failed.
type Status struct {
	AccountID string
	State     State
	Attempt   uint
	Err       error
	ChangedAt time.Time
}
