package protocol

import "fmt"

// SessionState represents a session's position in its lifecycle.
type SessionState int32

const (
	StateConnecting SessionState = iota // accepted, handshake pending
	StateActive                         // bound to a player, in world
	StateClosing                        // transport closed or terminate requested
	StateClosed                         // player removed, leave broadcast committed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateActive:
		return "Active"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return fmt.Sprintf("Unknown(%d)", int32(s))
	}
}
