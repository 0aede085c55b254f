package session

import (
	"github.com/MrWong99/parley/pkg/capture"
	"github.com/MrWong99/parley/pkg/provider/live"
)

// Event is an input to [Controller.Handle].
type Event interface {
	// Generation identifies the session that produced the event.
	Generation() uint64
}

// Connected reports that media acquisition and the transport dial both
// succeeded. The controller takes ownership of Media and Session, or
// releases them if the event is stale.
type Connected struct {
	Gen     uint64
	Media   *capture.Handle
	Session live.Session
}

// ConnectFailed reports a failed start attempt.
type ConnectFailed struct {
	Gen uint64
	Err error
}

// Live wraps one event from the live session.
type Live struct {
	Gen   uint64
	Event live.Event
}

func (e Connected) Generation() uint64     { return e.Gen }
func (e ConnectFailed) Generation() uint64 { return e.Gen }
func (e Live) Generation() uint64          { return e.Gen }
