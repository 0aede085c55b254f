package session

import (
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/capture"
	"github.com/MrWong99/parley/pkg/provider/live"
)

// pump encodes microphone blocks and sends them in capture order. Blocks
// captured while the microphone toggle is off are dropped. A failed send is
// counted and skipped; only the end of the session stops the pump.
func (c *Controller) pump(s *SessionContext, blocks <-chan audio.Block) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case b, ok := <-blocks:
			if !ok {
				return
			}
			if !c.cfg.Settings.Load().MicrophoneEnabled {
				continue
			}
			chunk := live.MediaChunk{
				MIMEType: live.MIMETypePCM16k,
				Data:     audio.EncodeBlock(b.Samples, c.cfg.Overflow),
			}
			if err := s.live.SendRealtimeInput(s.ctx, chunk); err != nil {
				if errors.Is(err, live.ErrClosed) || s.ctx.Err() != nil {
					return
				}
				c.cfg.Metrics.RecordSendError(s.ctx, live.MIMETypePCM16k)
				slog.Warn("audio block not sent", "session_id", s.ID, "seq", b.Seq, "err", err)
				continue
			}
			c.cfg.Metrics.AudioBlocksSent.Add(s.ctx, 1, metric.WithAttributes(observe.Attr("provider", c.caps.Name)))
		}
	}
}

// teardown holds the resources released after the controller lock is
// dropped: device tracks first, then the transport.
type teardown struct {
	media *capture.Handle
	live  live.Session
}

func (t teardown) release() {
	if t.media != nil {
		if err := t.media.Release(); err != nil {
			slog.Warn("release capture devices", "err", err)
		}
	}
	if t.live != nil {
		if err := t.live.Close(); err != nil {
			slog.Warn("close live session", "err", err)
		}
	}
}

// after queues fn to run once the controller lock is released.
// Must be called with c.mu held.
func (c *Controller) after(fn func()) {
	c.deferred = append(c.deferred, fn)
}

// unlock releases c.mu, then delivers queued status changes in order and
// runs deferred work. Must be called with c.mu held.
func (c *Controller) unlock() {
	pending, deferred := c.pending, c.deferred
	c.pending, c.deferred = nil, nil

	var subs []func(Status)
	if len(pending) > 0 {
		for id := 0; id < c.nextSub; id++ {
			if fn, ok := c.subs[id]; ok {
				subs = append(subs, fn)
			}
		}
	}

	c.emitMu.Lock()
	c.mu.Unlock()
	for _, st := range pending {
		for _, fn := range subs {
			fn(st)
		}
	}
	c.emitMu.Unlock()

	for _, fn := range deferred {
		fn()
	}
}
