// Package mock provides in-memory implementations of the [capture.Microphone],
// [capture.AudioStream], [capture.Camera] and [capture.VideoSource] interfaces
// for use in unit tests.
//
// All mocks are safe for concurrent use and record their calls. Tests push
// microphone blocks with [AudioStream.Push].
package mock

import (
	"context"
	"image"
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/capture"
)

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone is a mock [capture.Microphone].
type Microphone struct {
	mu sync.Mutex

	// OpenErr is returned by Open when non-nil.
	OpenErr error

	// ApplyErr is returned by ApplyConstraints of every opened stream.
	ApplyErr error

	// Opened records every stream returned by Open.
	Opened []*AudioStream

	// OpenConstraints records the constraints passed to each Open call.
	OpenConstraints []capture.Constraints
}

// Open implements [capture.Microphone].
func (m *Microphone) Open(_ context.Context, c capture.Constraints) (capture.AudioStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OpenConstraints = append(m.OpenConstraints, c)
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	s := NewAudioStream()
	s.ApplyErr = m.ApplyErr
	m.Opened = append(m.Opened, s)
	return s, nil
}

// Last returns the most recently opened stream, or nil.
func (m *Microphone) Last() *AudioStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Opened) == 0 {
		return nil
	}
	return m.Opened[len(m.Opened)-1]
}

// ─── AudioStream ──────────────────────────────────────────────────────────────

// AudioStream is a mock [capture.AudioStream].
type AudioStream struct {
	mu     sync.Mutex
	ch     chan audio.Block
	closed bool

	// ApplyErr is returned by ApplyConstraints.
	ApplyErr error

	// Applied records every ApplyConstraints argument.
	Applied []capture.Constraints

	// CloseCalls counts Close invocations.
	CloseCalls int
}

// NewAudioStream returns an open stream with a buffered block channel.
func NewAudioStream() *AudioStream {
	return &AudioStream{ch: make(chan audio.Block, 64)}
}

// Push delivers a block unless the stream is closed. It reports whether the
// block was accepted.
func (s *AudioStream) Push(b audio.Block) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.ch <- b
	return true
}

// Blocks implements [capture.AudioStream].
func (s *AudioStream) Blocks() <-chan audio.Block { return s.ch }

// ApplyConstraints implements [capture.AudioStream].
func (s *AudioStream) ApplyConstraints(c capture.Constraints) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Applied = append(s.Applied, c)
	return s.ApplyErr
}

// Close implements [capture.AudioStream].
func (s *AudioStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}

// Closed reports whether Close has been called.
func (s *AudioStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── Camera ───────────────────────────────────────────────────────────────────

// Camera is a mock [capture.Camera] whose sources return Image.
type Camera struct {
	mu sync.Mutex

	// Image is returned by every Frame call of opened sources.
	Image image.Image

	// OpenErr is returned by Open when non-nil.
	OpenErr error

	// FrameErr is returned by Frame when non-nil.
	FrameErr error

	// Opened records every source returned by Open.
	Opened []*VideoSource
}

// Open implements [capture.Camera].
func (c *Camera) Open(context.Context) (capture.VideoSource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.OpenErr != nil {
		return nil, c.OpenErr
	}
	v := &VideoSource{Image: c.Image, Err: c.FrameErr}
	c.Opened = append(c.Opened, v)
	return v, nil
}

// ─── VideoSource ──────────────────────────────────────────────────────────────

// VideoSource is a mock [capture.VideoSource].
type VideoSource struct {
	mu sync.Mutex

	// Image is returned by Frame.
	Image image.Image

	// Err is returned by Frame when non-nil.
	Err error

	// FrameCalls counts Frame invocations.
	FrameCalls int

	closed bool
}

// Frame implements [capture.VideoSource].
func (v *VideoSource) Frame(context.Context) (image.Image, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.FrameCalls++
	if v.Err != nil {
		return nil, v.Err
	}
	return v.Image, nil
}

// Close implements [capture.VideoSource].
func (v *VideoSource) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (v *VideoSource) Closed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

// Calls returns the number of Frame invocations.
func (v *VideoSource) Calls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.FrameCalls
}
