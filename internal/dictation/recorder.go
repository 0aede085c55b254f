// Package dictation records one utterance from the microphone outside a live
// session, transcribes it and appends the text to the transcript as a
// dictation entry.
//
// Recording takes the same exclusive device lock as the live session, so a
// dictation cannot start while a session holds the microphone (and the other
// way round).
package dictation

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/notify"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/transcript"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/capture"
	"github.com/MrWong99/parley/pkg/provider/stt"
)

var (
	// ErrInvalidState is returned for a Start while recording or a Stop
	// without a recording.
	ErrInvalidState = errors.New("dictation: invalid state")

	// ErrNoSpeech is returned when the transcriber heard nothing.
	ErrNoSpeech = errors.New("dictation: no speech detected")
)

const (
	defaultMaxDuration = 2 * time.Minute
	failureNotice      = "Dictation failed. Please try again."
)

// Config wires a [Recorder]. Devices, Transcriber and Aggregator are
// required.
type Config struct {
	Devices     capture.Acquirer
	Transcriber stt.Transcriber
	Aggregator  *transcript.Aggregator
	Notices     *notify.Center

	Constraints capture.Constraints
	Overflow    audio.OverflowPolicy

	// MaxDuration caps the recorded audio; later blocks are dropped.
	// Default 2m.
	MaxDuration time.Duration

	// SessionID returns the id stamped on dictation entries. It may return
	// "" when no live session exists.
	SessionID func() string

	Metrics *observe.Metrics
}

// Result describes one finished dictation.
type Result struct {
	Text     string        `json:"text"`
	Duration time.Duration `json:"duration"`
	Added    bool          `json:"added"`
}

// Recorder runs at most one dictation at a time.
type Recorder struct {
	cfg Config

	mu      sync.Mutex
	state   State
	media   *capture.Handle
	cancel  context.CancelFunc
	done    chan struct{}
	pcm     []float32
	rate    int
	dropped int
}

// New returns an idle recorder.
func New(cfg Config) (*Recorder, error) {
	var errs []error
	if cfg.Devices == nil {
		errs = append(errs, errors.New("devices are required"))
	}
	if cfg.Transcriber == nil {
		errs = append(errs, errors.New("transcriber is required"))
	}
	if cfg.Aggregator == nil {
		errs = append(errs, errors.New("aggregator is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("dictation: %w", err)
	}
	if cfg.Notices == nil {
		cfg.Notices = notify.NewCenter()
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = defaultMaxDuration
	}
	if cfg.SessionID == nil {
		cfg.SessionID = func() string { return "" }
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Recorder{cfg: cfg, state: StateIdle}, nil
}

// State returns the current state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Recorded returns how much audio the current recording holds.
func (r *Recorder) Recorded() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Duration(len(r.pcm)) * time.Second / time.Duration(max(r.rate, 1))
}

// Start opens the microphone and begins buffering audio. It fails with an
// error wrapping [capture.ErrDeviceUnavailable] while a live session holds
// the devices.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	next, err := transition(r.state, eventStart)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.state = next
	r.mu.Unlock()

	// The recording outlives the request that started it.
	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	media, err := r.cfg.Devices.Acquire(rctx, capture.Request{Audio: true, Constraints: r.cfg.Constraints})
	if err != nil {
		cancel()
		r.mu.Lock()
		r.state = StateIdle
		r.mu.Unlock()
		return fmt.Errorf("dictation: acquire microphone: %w", err)
	}

	done := make(chan struct{})
	r.mu.Lock()
	r.media = media
	r.cancel = cancel
	r.done = done
	r.pcm = r.pcm[:0]
	r.rate = audio.InputSampleRate
	r.dropped = 0
	r.mu.Unlock()

	go r.collect(rctx, media.AudioBlocks(), done)
	slog.Info("dictation recording")
	return nil
}

func (r *Recorder) collect(ctx context.Context, blocks <-chan audio.Block, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-blocks:
			if !ok {
				return
			}
			r.mu.Lock()
			if b.SampleRate > 0 {
				r.rate = b.SampleRate
			}
			limit := int(r.cfg.MaxDuration.Seconds() * float64(r.rate))
			room := max(limit-len(r.pcm), 0)
			n := min(room, len(b.Samples))
			r.pcm = append(r.pcm, b.Samples[:n]...)
			r.dropped += len(b.Samples) - n
			r.mu.Unlock()
		}
	}
}

// finishCapture stops the capture goroutine, releases the microphone and
// returns the recorded samples.
func (r *Recorder) finishCapture() ([]float32, int, int) {
	r.mu.Lock()
	media, cancel, done := r.media, r.cancel, r.done
	r.media, r.cancel, r.done = nil, nil, nil
	r.mu.Unlock()

	if media != nil {
		_ = media.Release()
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	pcm := append([]float32(nil), r.pcm...)
	r.pcm = r.pcm[:0]
	return pcm, r.rate, r.dropped
}

// Cancel discards the current recording.
func (r *Recorder) Cancel() error {
	r.mu.Lock()
	next, err := transition(r.state, eventCancel)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.state = next
	r.mu.Unlock()
	r.finishCapture()
	slog.Info("dictation cancelled")
	return nil
}

// Stop ends the recording, transcribes it and appends a dictation entry. A
// failure posts a generic notice; the recorder is idle again either way.
func (r *Recorder) Stop(ctx context.Context) (Result, error) {
	r.mu.Lock()
	next, err := transition(r.state, eventStop)
	if err != nil {
		r.mu.Unlock()
		return Result{}, err
	}
	r.state = next
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.state, _ = transition(r.state, eventTranscribed)
		r.mu.Unlock()
	}()

	samples, rate, dropped := r.finishCapture()
	if dropped > 0 {
		slog.Warn("dictation exceeded max duration", "dropped_samples", dropped)
	}
	res := Result{Duration: time.Duration(len(samples)) * time.Second / time.Duration(max(rate, 1))}

	text, err := r.transcribe(ctx, samples, rate)
	if err != nil {
		slog.Warn("dictation failed", "err", err)
		r.cfg.Notices.Warn(failureNotice)
		return res, err
	}
	res.Text = text
	res.Added = r.cfg.Aggregator.AddDictation(ctx, r.cfg.SessionID(), text)
	slog.Info("dictation transcribed", "chars", len(text), "duration", res.Duration)
	return res, nil
}

func (r *Recorder) transcribe(ctx context.Context, samples []float32, rate int) (string, error) {
	sessionID := r.cfg.SessionID()
	if len(samples) == 0 {
		return "", ErrNoSpeech
	}
	wav := audio.EncodeWAV(audio.EncodePCM16(samples, r.cfg.Overflow), audio.Format{SampleRate: rate, Channels: 1})
	payload := base64.StdEncoding.EncodeToString(wav)

	ctx, span := observe.StartSessionSpan(ctx, observe.SpanTranscribe, sessionID)
	start := time.Now()
	text, err := r.cfg.Transcriber.Transcribe(ctx, payload, audio.MIMETypeWAV)
	r.cfg.Metrics.TranscriptionDuration.Record(ctx, time.Since(start).Seconds())
	observe.EndSpan(span, err)
	if err != nil {
		return "", fmt.Errorf("dictation: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}
