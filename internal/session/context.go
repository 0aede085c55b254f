package session

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/capture"
	"github.com/MrWong99/parley/pkg/provider/live"
)

// SessionContext is the state of one streaming session. Only the
// [Controller] mutates it, under its lock.
type SessionContext struct {
	ID         string
	Generation uint64
	StartedAt  time.Time
	OpenedAt   time.Time

	ctx    context.Context
	cancel context.CancelFunc

	media *capture.Handle
	live  live.Session

	// workers tracks the audio pump and the frame sampler.
	workers sync.WaitGroup

	decodeWarned bool
}

// Context is cancelled when the session ends. Pending translations and
// realtime sends are bound to it.
func (s *SessionContext) Context() context.Context { return s.ctx }

// Status is a read-only snapshot of the controller.
type Status struct {
	State     State     `json:"state"`
	SessionID string    `json:"session_id,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
	Provider  string    `json:"provider"`
	Controls  Controls  `json:"controls"`

	// Error is the persistent error of the last failed session, cleared by
	// the next start.
	Error string `json:"error,omitempty"`
}

// Controls are the user toggles that apply to a running session.
type Controls struct {
	Microphone        bool `json:"microphone"`
	Camera            bool `json:"camera"`
	NoiseCancellation bool `json:"noise_cancellation"`
}
