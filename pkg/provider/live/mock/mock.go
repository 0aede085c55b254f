// Package mock provides in-memory implementations of [live.Provider] and
// [live.Session] for unit tests.
//
// Tests drive a [Session] with [Session.Emit] and [Session.Finish] and inspect
// the chunks it received through [Session.Sent].
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/live"
)

var (
	_ live.Provider = (*Provider)(nil)
	_ live.Session  = (*Session)(nil)
)

// Provider is a mock [live.Provider].
type Provider struct {
	mu sync.Mutex

	// ConnectErr is returned by Connect when non-nil.
	ConnectErr error

	// Caps is returned by Capabilities. A zero OutputSampleRate is replaced by
	// [audio.OutputSampleRate].
	Caps live.Capabilities

	// OnConnect, when set, is called with every new session before Connect
	// returns.
	OnConnect func(*Session)

	// Sessions records every session returned by Connect.
	Sessions []*Session

	// Configs records the config passed to each Connect call.
	Configs []live.SessionConfig
}

// Connect implements [live.Provider].
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	p.mu.Lock()
	p.Configs = append(p.Configs, cfg)
	if p.ConnectErr != nil {
		err := p.ConnectErr
		p.mu.Unlock()
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	s := NewSession()
	p.Sessions = append(p.Sessions, s)
	hook := p.OnConnect
	p.mu.Unlock()

	if hook != nil {
		hook(s)
	}
	return s, nil
}

// Capabilities implements [live.Provider].
func (p *Provider) Capabilities() live.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.Caps
	if c.OutputSampleRate == 0 {
		c.OutputSampleRate = audio.OutputSampleRate
	}
	if c.Name == "" {
		c.Name = "mock"
	}
	return c
}

// Last returns the most recent session, or nil.
func (p *Provider) Last() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Sessions) == 0 {
		return nil
	}
	return p.Sessions[len(p.Sessions)-1]
}

// Session is a mock [live.Session].
type Session struct {
	mu     sync.Mutex
	ch     chan live.Event
	sent   []live.MediaChunk
	closed bool
	done   bool

	// SendErr is returned by SendRealtimeInput when non-nil.
	SendErr error

	// CloseCalls counts Close invocations.
	CloseCalls int
}

// NewSession returns an open session with a buffered event channel.
func NewSession() *Session {
	return &Session{ch: make(chan live.Event, 64)}
}

// Emit delivers ev unless the event channel is already closed. It reports
// whether the event was queued.
func (s *Session) Emit(ev live.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return false
	}
	s.ch <- ev
	return true
}

// Open emits [live.EventOpen].
func (s *Session) Open() bool { return s.Emit(live.Event{Kind: live.EventOpen}) }

// Message emits m as a [live.EventMessage].
func (s *Session) Message(m live.ServerMessage) bool {
	return s.Emit(live.Event{Kind: live.EventMessage, Message: &m})
}

// Finish emits an optional error, then EventClose, and closes the channel.
func (s *Session) Finish(reason string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	if err != nil {
		s.ch <- live.Event{Kind: live.EventError, Err: err}
	}
	s.ch <- live.Event{Kind: live.EventClose, Reason: reason, Err: err}
	s.done = true
	close(s.ch)
}

// SendRealtimeInput implements [live.Session].
func (s *Session) SendRealtimeInput(_ context.Context, chunk live.MediaChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return live.ErrClosed
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	s.sent = append(s.sent, chunk)
	return nil
}

// Events implements [live.Session].
func (s *Session) Events() <-chan live.Event { return s.ch }

// Close implements [live.Session]. It finishes the event stream.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCalls++
	already := s.closed
	s.closed = true
	s.mu.Unlock()
	if !already {
		s.Finish("closed by client", nil)
	}
	return nil
}

// Sent returns a copy of every chunk received, in order.
func (s *Session) Sent() []live.MediaChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]live.MediaChunk(nil), s.sent...)
}

// SentCount returns the number of chunks with the given MIME type.
func (s *Session) SentCount(mime string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.sent {
		if c.MIMEType == mime {
			n++
		}
	}
	return n
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
