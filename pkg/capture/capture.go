// Package capture defines the contracts for acquiring microphone and camera
// devices and implements the exclusive device lock held by a live session.
//
// A [Devices] value pairs a [Microphone] backend with an optional [Camera]
// backend. [Devices.Acquire] opens the requested tracks and returns a
// [Handle]; only one Handle can exist at a time, so a dictation recording
// started during a live session fails with [ErrDeviceUnavailable].
//
// Audio blocks delivered by a Handle have already passed through the
// software constraint processor (noise gate and auto-gain), see [Processor].
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
)

// Sentinel errors. Backends wrap these so callers can classify failures with
// [errors.Is].
var (
	// ErrPermissionDenied means the user or the system refused access.
	ErrPermissionDenied = errors.New("capture: permission denied")

	// ErrDeviceUnavailable means no usable device exists or it is busy.
	ErrDeviceUnavailable = errors.New("capture: device unavailable")

	// ErrConstraintUnsupported is returned by ApplyConstraints when the
	// backend cannot change a constraint on a live track.
	ErrConstraintUnsupported = errors.New("capture: constraint not supported")
)

// Constraints are the audio processing options requested for the microphone.
type Constraints struct {
	NoiseSuppression bool `json:"noise_suppression"`
	EchoCancellation bool `json:"echo_cancellation"`
	AutoGain         bool `json:"auto_gain"`
}

// Request selects which tracks to acquire.
type Request struct {
	Audio       bool
	Video       bool
	Constraints Constraints
}

// Microphone opens audio capture streams.
type Microphone interface {
	// Open starts capturing mono float32 blocks at [audio.InputSampleRate].
	Open(ctx context.Context, c Constraints) (AudioStream, error)
}

// AudioStream is a running microphone track.
type AudioStream interface {
	// Blocks delivers captured blocks in capture order. The channel is closed
	// after Close.
	Blocks() <-chan audio.Block

	// ApplyConstraints reconfigures device-level processing without
	// reopening the track.
	ApplyConstraints(c Constraints) error

	// Close stops the track. It is idempotent.
	Close() error
}

// Camera opens video sources.
type Camera interface {
	Open(ctx context.Context) (VideoSource, error)
}

// VideoSource yields still frames on demand.
type VideoSource interface {
	// Frame grabs the current frame.
	Frame(ctx context.Context) (image.Image, error)

	// Close releases the source. It is idempotent.
	Close() error
}

// Acquirer is the interface the session controller and the dictation
// recorder depend on.
type Acquirer interface {
	Acquire(ctx context.Context, req Request) (*Handle, error)
}

var _ Acquirer = (*Devices)(nil)

// Devices combines capture backends behind an exclusive lock.
type Devices struct {
	Mic Microphone
	Cam Camera

	// BlockBuffer sizes the processed block channel. Defaults to 64.
	BlockBuffer int

	mu   sync.Mutex
	busy bool
}

// Acquire opens the tracks named in req. It fails with [ErrDeviceUnavailable]
// while another Handle is held or when a requested backend is missing.
// Partial acquisitions are rolled back.
func (d *Devices) Acquire(ctx context.Context, req Request) (*Handle, error) {
	if !req.Audio && !req.Video {
		return nil, fmt.Errorf("capture: empty request")
	}

	d.mu.Lock()
	if d.busy {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: device busy", ErrDeviceUnavailable)
	}
	d.busy = true
	d.mu.Unlock()

	h, err := d.open(ctx, req)
	if err != nil {
		d.unlock()
		return nil, err
	}
	return h, nil
}

func (d *Devices) open(ctx context.Context, req Request) (*Handle, error) {
	h := &Handle{
		constraints: req.Constraints,
		release:     d.unlock,
	}

	if req.Audio {
		if d.Mic == nil {
			return nil, fmt.Errorf("%w: no microphone backend", ErrDeviceUnavailable)
		}
		stream, err := d.Mic.Open(ctx, req.Constraints)
		if err != nil {
			return nil, fmt.Errorf("capture: open microphone: %w", err)
		}
		buf := d.BlockBuffer
		if buf <= 0 {
			buf = 64
		}
		h.stream = stream
		h.proc = NewProcessor(req.Constraints)
		h.blocks = make(chan audio.Block, buf)
		h.stop = make(chan struct{})
		h.done = make(chan struct{})
		go h.process()
	}

	if req.Video {
		if d.Cam == nil {
			h.closeTracks()
			return nil, fmt.Errorf("%w: no camera backend", ErrDeviceUnavailable)
		}
		src, err := d.Cam.Open(ctx)
		if err != nil {
			h.closeTracks()
			return nil, fmt.Errorf("capture: open camera: %w", err)
		}
		h.video = src
	}
	return h, nil
}

func (d *Devices) unlock() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.busy = false
}

// Busy reports whether a Handle is currently held.
func (d *Devices) Busy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.busy
}

// Handle owns the acquired tracks until Release.
type Handle struct {
	stream AudioStream
	video  VideoSource
	proc   *Processor
	blocks chan audio.Block
	stop   chan struct{}
	done   chan struct{}

	mu          sync.Mutex
	constraints Constraints
	released    bool
	release     func()
}

// AudioBlocks returns processed microphone blocks, or nil when audio was not
// requested. The channel is closed once the underlying stream ends.
func (h *Handle) AudioBlocks() <-chan audio.Block {
	if h.blocks == nil {
		return nil
	}
	return h.blocks
}

// Video returns the camera source, or nil when video was not requested.
func (h *Handle) Video() VideoSource { return h.video }

// Constraints returns the constraints currently in effect.
func (h *Handle) Constraints() Constraints {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.constraints
}

// ApplyConstraints reapplies audio constraints to the live track. Software
// processing always follows the new values; a device-level failure is
// returned so the caller can warn, but the track keeps running.
func (h *Handle) ApplyConstraints(c Constraints) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return fmt.Errorf("%w: handle released", ErrDeviceUnavailable)
	}
	if h.stream == nil {
		return nil
	}
	h.constraints = c
	h.proc.SetConstraints(c)
	if err := h.stream.ApplyConstraints(c); err != nil {
		return fmt.Errorf("capture: apply constraints: %w", err)
	}
	return nil
}

// Release stops every track and frees the device lock. It is idempotent.
func (h *Handle) Release() error {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return nil
	}
	h.released = true
	h.mu.Unlock()

	err := h.closeTracks()
	if h.release != nil {
		h.release()
	}
	return err
}

func (h *Handle) closeTracks() error {
	var errs []error
	if h.stream != nil {
		close(h.stop)
		if err := h.stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close microphone: %w", err))
		}
		<-h.done
	}
	if h.video != nil {
		if err := h.video.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close camera: %w", err))
		}
	}
	return errors.Join(errs...)
}

// process forwards raw blocks through the software processor.
func (h *Handle) process() {
	defer close(h.done)
	defer close(h.blocks)
	src := h.stream.Blocks()
	for b := range src {
		h.proc.Process(b.Samples)
		select {
		case h.blocks <- b:
		case <-h.stop:
			go audio.Drain(src)
			return
		}
	}
}
