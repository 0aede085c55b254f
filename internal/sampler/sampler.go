package sampler

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"time"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/capture"
	"github.com/MrWong99/parley/pkg/provider/live"
)

// SendFunc forwards one media chunk to the live session.
type SendFunc func(ctx context.Context, chunk live.MediaChunk) error

// Sampler owns the sampling timer of one session.
type Sampler struct {
	src      capture.VideoSource
	settings *Settings
	send     SendFunc
	after    func(time.Duration) <-chan time.Time
	metrics  *observe.Metrics
	log      *slog.Logger
}

// Option configures a [Sampler].
type Option func(*Sampler)

// WithTimer replaces time.After. Tests drive ticks through it.
func WithTimer(after func(time.Duration) <-chan time.Time) Option {
	return func(s *Sampler) { s.after = after }
}

// WithMetrics records sent frames and send errors on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Sampler) { s.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sampler) { s.log = l }
}

// New returns a sampler reading frames from src.
func New(src capture.VideoSource, settings *Settings, send SendFunc, opts ...Option) *Sampler {
	s := &Sampler{
		src:      src,
		settings: settings,
		send:     send,
		after:    time.After,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run samples until ctx is done, the session is closed or the service
// rejects video. The period and quality are re-read before every tick.
func (s *Sampler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.after(s.settings.Load().Period()):
		}

		cfg := s.settings.Load()
		if !cfg.VideoEnabled {
			continue
		}
		err := s.Tick(ctx, cfg)
		switch {
		case err == nil:
		case errors.Is(err, live.ErrUnsupportedMedia):
			s.log.Info("frame sampler stopped, service does not accept video")
			return nil
		case errors.Is(err, live.ErrClosed), ctx.Err() != nil:
			return nil
		default:
			s.log.Warn("frame not sent", "err", err)
		}
	}
}

// Tick grabs, encodes and sends one frame using cfg. A missing or empty
// frame is skipped without error.
func (s *Sampler) Tick(ctx context.Context, cfg StreamingConfig) error {
	img, err := s.src.Frame(ctx)
	if err != nil {
		return fmt.Errorf("sampler: grab frame: %w", err)
	}
	data, ok, err := EncodeFrame(img, cfg.JPEGQuality())
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if err := s.send(ctx, live.MediaChunk{MIMEType: live.MIMETypeJPEG, Data: data}); err != nil {
		if s.metrics != nil {
			s.metrics.RecordSendError(ctx, live.MIMETypeJPEG)
		}
		return fmt.Errorf("sampler: send frame: %w", err)
	}
	if s.metrics != nil {
		s.metrics.FramesSent.Add(ctx, 1)
	}
	return nil
}

// EncodeFrame compresses img to JPEG at quality (1..100) and base64-encodes
// it. ok is false for a nil or zero-area image.
func EncodeFrame(img image.Image, quality int) (data string, ok bool, err error) {
	if img == nil || img.Bounds().Empty() {
		return "", false, nil
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", false, fmt.Errorf("sampler: encode jpeg: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), true, nil
}
