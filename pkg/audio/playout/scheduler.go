// Package playout schedules streamed response audio on a playback timeline.
//
// The [Scheduler] keeps a monotonic cursor (nextPlaybackTime) so that chunks
// arriving back-to-back play without gaps or overlap, and an active set of
// every chunk that has been scheduled but has not finished. Interruption stops
// every active chunk, clears the set and rewinds the cursor to zero so the
// next chunk starts immediately.
//
// A [Sink] renders scheduled sources; [Timeline] is the sample-accurate
// implementation used for device playback.
package playout

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// ErrDecode is returned by [Scheduler.Enqueue] when a chunk cannot be decoded.
// The chunk is dropped and the scheduler state is left untouched.
var ErrDecode = errors.New("playout: decode error")

// Source is one decoded response chunk placed on the timeline.
type Source struct {
	// ID is unique per scheduler.
	ID uint64

	// PCM is mono 16-bit little-endian audio at the scheduler's sample rate.
	PCM []byte

	// Start is the timeline position at which playback begins.
	Start time.Duration

	// Duration is the play time of PCM.
	Duration time.Duration
}

// End returns the timeline position at which the source finishes.
func (s *Source) End() time.Duration { return s.Start + s.Duration }

// Clock reports the current position of the output timeline.
type Clock interface {
	Now() time.Duration
}

// Sink renders scheduled sources.
//
// Schedule must not call ended synchronously; it is invoked exactly once when
// src finishes naturally and never after Stop(src).
type Sink interface {
	Schedule(src *Source, ended func())
	Stop(src *Source)
}

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithSampleRate sets the rate of decoded chunks. Defaults to
// [audio.OutputSampleRate].
func WithSampleRate(rate int) Option {
	return func(s *Scheduler) {
		if rate > 0 {
			s.rate = rate
		}
	}
}

// WithObserver registers a callback invoked after each successfully scheduled
// source, outside the scheduler lock.
func WithObserver(fn func(*Source)) Option {
	return func(s *Scheduler) { s.observe = fn }
}

// Scheduler places decoded chunks on the output timeline with zero gaps.
// All methods are safe for concurrent use.
type Scheduler struct {
	clock   Clock
	sink    Sink
	rate    int
	observe func(*Source)

	mu     sync.Mutex
	next   time.Duration // nextPlaybackTime
	active map[uint64]*Source
	seq    uint64
}

// New creates a Scheduler that reads time from clock and renders to sink.
func New(clock Clock, sink Sink, opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:  clock,
		sink:   sink,
		rate:   audio.OutputSampleRate,
		active: make(map[uint64]*Source),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enqueue decodes a base64 PCM16 chunk and schedules it at
// max(nextPlaybackTime, now), then advances the cursor by its duration.
// Decode failures return an error wrapping [ErrDecode] and leave the cursor
// and active set unchanged.
func (s *Scheduler) Enqueue(chunk string) (*Source, error) {
	pcm, err := audio.DecodeBase64PCM16(chunk)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("%w: empty chunk", ErrDecode)
	}
	return s.EnqueuePCM(pcm), nil
}

// EnqueuePCM schedules already decoded PCM16 audio.
func (s *Scheduler) EnqueuePCM(pcm []byte) *Source {
	s.mu.Lock()
	now := s.clock.Now()
	start := max(s.next, now)
	s.seq++
	src := &Source{
		ID:       s.seq,
		PCM:      pcm,
		Start:    start,
		Duration: audio.PCM16Duration(len(pcm), s.rate),
	}
	s.next = src.End()
	s.active[src.ID] = src
	s.sink.Schedule(src, func() { s.ended(src.ID) })
	s.mu.Unlock()

	if s.observe != nil {
		s.observe(src)
	}
	return src
}

// ended removes a naturally finished source from the active set.
func (s *Scheduler) ended(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
}

// Interrupt stops every active source, clears the active set and resets the
// cursor to zero. It returns the number of sources stopped.
func (s *Scheduler) Interrupt() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.active)
	for id, src := range s.active {
		s.sink.Stop(src)
		delete(s.active, id)
	}
	s.next = 0
	if n > 0 {
		slog.Debug("playout interrupted", "stopped", n)
	}
	return n
}

// Cursor returns nextPlaybackTime.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Active returns the number of scheduled sources that have not finished.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}
