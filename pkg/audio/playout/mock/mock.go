// Package mock provides an in-memory [playout.Sink] for unit tests.
//
// The sink never finishes sources by itself; tests call [Sink.Finish] to
// simulate natural completion.
package mock

import (
	"sync"

	"github.com/MrWong99/parley/pkg/audio/playout"
)

var _ playout.Sink = (*Sink)(nil)

// Sink records every Schedule and Stop call.
type Sink struct {
	mu sync.Mutex

	// Scheduled holds every source passed to Schedule, in order.
	Scheduled []*playout.Source

	// Stopped holds every source passed to Stop, in order.
	Stopped []*playout.Source

	ended map[uint64]func()
}

// Schedule implements [playout.Sink].
func (s *Sink) Schedule(src *playout.Source, ended func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended == nil {
		s.ended = make(map[uint64]func())
	}
	s.Scheduled = append(s.Scheduled, src)
	s.ended[src.ID] = ended
}

// Stop implements [playout.Sink].
func (s *Sink) Stop(src *playout.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Stopped = append(s.Stopped, src)
	delete(s.ended, src.ID)
}

// Finish invokes the ended callback of the source with the given ID, as if it
// had played to completion. It reports false if the source is unknown or was
// stopped.
func (s *Sink) Finish(id uint64) bool {
	s.mu.Lock()
	fn, ok := s.ended[id]
	delete(s.ended, id)
	s.mu.Unlock()
	if ok && fn != nil {
		fn()
	}
	return ok
}

// ScheduledCount returns the number of Schedule calls.
func (s *Sink) ScheduledCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Scheduled)
}

// StoppedCount returns the number of Stop calls.
func (s *Sink) StoppedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Stopped)
}
