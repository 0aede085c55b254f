// Package session implements the live session controller: the single
// authority over a streaming session's lifecycle.
//
// Every state change goes through [Controller.Handle]. Device, network and
// timer goroutines never mutate session state themselves; they post
// [Event] values tagged with the generation of the session that produced
// them, and events from an earlier generation are dropped.
//
//	Idle -> Connecting -> Active -> Closing -> Idle
//	Connecting | Active -> Errored -> Idle (error retained)
package session

import "fmt"

// State is the controller lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateClosing
	StateErrored
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText encodes the state name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Live reports whether a session exists in this state.
func (s State) Live() bool { return s == StateConnecting || s == StateActive }
