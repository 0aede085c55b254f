package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/notify"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/sampler"
	"github.com/MrWong99/parley/internal/transcript"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/playout"
	"github.com/MrWong99/parley/pkg/capture"
	"github.com/MrWong99/parley/pkg/provider/live"
)

const defaultConnectTimeout = 15 * time.Second

// Player is the playback side of a session. [*playout.Scheduler] implements
// it.
type Player interface {
	Enqueue(chunk string) (*playout.Source, error)
	Interrupt() int
}

var _ Player = (*playout.Scheduler)(nil)

// Config wires a [Controller]. Provider, Devices, Player and Aggregator are
// required.
type Config struct {
	Provider   live.Provider
	Devices    capture.Acquirer
	Player     Player
	Aggregator *transcript.Aggregator

	// Notices receives warnings and the persistent error. Defaults to a
	// fresh center.
	Notices *notify.Center

	// Settings is shared with the API and the config watcher. Defaults to
	// [sampler.DefaultStreamingConfig].
	Settings *sampler.Settings

	Live        live.SessionConfig
	Constraints capture.Constraints

	// Video requests the camera when the provider accepts video. The camera
	// toggle only gates sampling, so it can be switched on mid-session.
	Video bool

	Overflow audio.OverflowPolicy

	// ConnectTimeout bounds device acquisition plus the transport dial.
	// Default 15s.
	ConnectTimeout time.Duration

	Metrics        *observe.Metrics
	SamplerOptions []sampler.Option

	Now   func() time.Time
	NewID func() string
}

// Controller owns the lifecycle of at most one live session. All methods
// are safe for concurrent use.
type Controller struct {
	cfg  Config
	caps live.Capabilities

	mu          sync.Mutex
	state       State
	gen         uint64
	sess        *SessionContext
	errMsg      string
	noiseCancel bool
	pending     []Status
	deferred    []func()
	subs        map[int]func(Status)
	nextSub     int

	// emitMu keeps status notifications in transition order.
	emitMu sync.Mutex
}

// New validates cfg and returns an idle controller.
func New(cfg Config) (*Controller, error) {
	var errs []error
	if cfg.Provider == nil {
		errs = append(errs, errors.New("provider is required"))
	}
	if cfg.Devices == nil {
		errs = append(errs, errors.New("devices are required"))
	}
	if cfg.Player == nil {
		errs = append(errs, errors.New("player is required"))
	}
	if cfg.Aggregator == nil {
		errs = append(errs, errors.New("aggregator is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if cfg.Notices == nil {
		cfg.Notices = notify.NewCenter()
	}
	if cfg.Settings == nil {
		cfg.Settings = sampler.NewSettings(sampler.DefaultStreamingConfig())
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Controller{
		cfg:         cfg,
		caps:        cfg.Provider.Capabilities(),
		noiseCancel: cfg.Constraints.NoiseSuppression,
		subs:        make(map[int]func(Status)),
	}, nil
}

// Start begins a session: it acquires the microphone (and the camera when
// the provider accepts video) and dials the live service in parallel. It
// returns once both succeeded or the attempt failed; the session becomes
// active when the service acknowledges the setup.
//
// Failures are terminal for the attempt and are returned as *[Error]. Start
// returns [ErrBusy] while a session exists.
func (c *Controller) Start(ctx context.Context) (Status, error) {
	c.mu.Lock()
	if c.sess != nil {
		st := c.statusLocked()
		c.mu.Unlock()
		return st, ErrBusy
	}
	c.gen++
	sctx, cancel := context.WithCancel(context.Background())
	s := &SessionContext{
		ID:         c.cfg.NewID(),
		Generation: c.gen,
		StartedAt:  c.cfg.Now(),
		ctx:        sctx,
		cancel:     cancel,
	}
	c.sess = s
	c.errMsg = ""
	req := capture.Request{
		Audio:       true,
		Video:       c.cfg.Video && c.caps.AcceptsVideo,
		Constraints: c.constraintsLocked(),
	}
	c.setStateLocked(StateConnecting)
	c.unlock()

	c.cfg.Notices.ClearError()
	log := slog.With("session_id", s.ID, "provider", c.caps.Name)
	log.Info("session starting", "video", req.Video)

	media, ls, err := c.connect(ctx, s, req)
	if s.ctx.Err() != nil {
		// Stop ran while connecting and already moved the controller to idle.
		teardown{media: media, live: ls}.release()
		return c.Status(), ErrAborted
	}
	if err != nil {
		c.Handle(ConnectFailed{Gen: s.Generation, Err: err})
		return c.Status(), &Error{Kind: Classify(err), Err: err}
	}
	c.Handle(Connected{Gen: s.Generation, Media: media, Session: ls})
	return c.Status(), nil
}

// connect acquires devices and dials the transport concurrently. Whatever
// succeeded is released when the other half fails. Devices are opened with
// the session context because capture streams live as long as that context.
func (c *Controller) connect(ctx context.Context, s *SessionContext, req capture.Request) (*capture.Handle, live.Session, error) {
	dialCtx, cancel := context.WithTimeout(s.ctx, c.cfg.ConnectTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	dialCtx, span := observe.StartSessionSpan(dialCtx, observe.SpanSessionConnect, s.ID)
	g, gctx := errgroup.WithContext(dialCtx)

	var (
		media *capture.Handle
		ls    live.Session
	)
	g.Go(func() error {
		h, err := c.cfg.Devices.Acquire(s.ctx, req)
		if err != nil {
			return err
		}
		media = h
		return nil
	})
	g.Go(func() error {
		sess, err := c.cfg.Provider.Connect(gctx, c.cfg.Live)
		if err != nil {
			return err
		}
		ls = sess
		return nil
	})
	err := g.Wait()
	observe.EndSpan(span, err)
	if err != nil {
		if media != nil {
			_ = media.Release()
		}
		if ls != nil {
			_ = ls.Close()
		}
		return nil, nil, err
	}
	return media, ls, nil
}

// Stop ends the current session. Device tracks, scheduled audio, the frame
// timer and the transport are all stopped before Stop returns. Stopping an
// idle controller is a no-op.
func (c *Controller) Stop() Status {
	c.mu.Lock()
	if c.sess == nil {
		st := c.statusLocked()
		c.mu.Unlock()
		return st
	}
	s := c.sess
	c.setStateLocked(StateClosing)
	td := c.cleanupLocked()
	c.setStateLocked(StateIdle)
	st := c.statusLocked()
	c.unlock()

	td.release()
	s.workers.Wait()
	slog.Info("session stopped", "session_id", s.ID)
	return st
}

// Handle applies one event. Events from an earlier generation are dropped;
// resources they carry are released.
func (c *Controller) Handle(ev Event) {
	c.mu.Lock()
	if c.sess == nil || ev.Generation() != c.gen {
		c.mu.Unlock()
		if e, ok := ev.(Connected); ok {
			teardown{media: e.Media, live: e.Session}.release()
		}
		return
	}

	var td teardown
	switch e := ev.(type) {
	case Connected:
		c.onConnected(e)
	case ConnectFailed:
		td = c.failLocked(e.Err)
	case Live:
		td = c.onLiveLocked(e.Event)
	}
	c.unlock()
	td.release()
}

func (c *Controller) onConnected(e Connected) {
	s := c.sess
	s.media = e.Media
	s.live = e.Session
	events := e.Session.Events()
	go func() {
		for ev := range events {
			c.Handle(Live{Gen: e.Gen, Event: ev})
		}
	}()
}

func (c *Controller) onLiveLocked(ev live.Event) teardown {
	s := c.sess
	switch ev.Kind {
	case live.EventOpen:
		if c.state != StateConnecting {
			return teardown{}
		}
		s.OpenedAt = c.cfg.Now()
		c.setStateLocked(StateActive)
		c.cfg.Metrics.ConnectDuration.Record(s.ctx, s.OpenedAt.Sub(s.StartedAt).Seconds())
		c.cfg.Metrics.SessionsStarted.Add(s.ctx, 1, metric.WithAttributes(observe.Attr("status", "ok")))
		c.cfg.Metrics.ActiveSessions.Add(s.ctx, 1)
		c.startWorkers(s)
		slog.Info("session active", "session_id", s.ID)

	case live.EventMessage:
		if c.state != StateActive || ev.Message == nil {
			return teardown{}
		}
		c.applyMessageLocked(s, ev.Message)

	case live.EventError:
		if errors.Is(ev.Err, live.ErrTransport) {
			return c.failLocked(ev.Err)
		}
		slog.Warn("live service reported an error", "session_id", s.ID, "err", ev.Err)
		c.after(func() { c.cfg.Notices.Warn(fmt.Sprintf("Live service: %v", ev.Err)) })

	case live.EventClose:
		if ev.Err != nil && !errors.Is(ev.Err, context.Canceled) {
			return c.failLocked(ev.Err)
		}
		slog.Info("live service closed the session", "session_id", s.ID, "reason", ev.Reason)
		c.setStateLocked(StateClosing)
		td := c.cleanupLocked()
		c.setStateLocked(StateIdle)
		return td
	}
	return teardown{}
}

// applyMessageLocked processes transcripts, audio, interruption and turn
// completion in that order.
func (c *Controller) applyMessageLocked(s *SessionContext, m *live.ServerMessage) {
	agg := c.cfg.Aggregator
	if m.InputTranscript != "" {
		agg.AppendUser(m.InputTranscript)
	}
	if m.OutputTranscript != "" {
		agg.AppendModel(m.OutputTranscript)
	}

	for _, chunk := range m.AudioChunks {
		if _, err := c.cfg.Player.Enqueue(chunk); err != nil {
			c.cfg.Metrics.DecodeErrors.Add(s.ctx, 1)
			slog.Warn("dropping undecodable audio chunk", "session_id", s.ID, "err", err)
			if !s.decodeWarned {
				s.decodeWarned = true
				c.after(func() { c.cfg.Notices.Warn("Some response audio could not be played.") })
			}
			continue
		}
		c.cfg.Metrics.ChunksScheduled.Add(s.ctx, 1)
	}

	if m.Interrupted {
		n := c.cfg.Player.Interrupt()
		c.cfg.Metrics.Interruptions.Add(s.ctx, 1)
		slog.Debug("response interrupted", "session_id", s.ID, "stopped", n)
	}
	if m.TurnComplete {
		agg.CompleteTurn(s.ctx, s.ID)
		c.cfg.Metrics.TurnsCompleted.Add(s.ctx, 1)
	}
}

func (c *Controller) startWorkers(s *SessionContext) {
	if blocks := s.media.AudioBlocks(); blocks != nil {
		s.workers.Go(func() { c.pump(s, blocks) })
	}
	if video := s.media.Video(); video != nil {
		opts := append([]sampler.Option{sampler.WithMetrics(c.cfg.Metrics)}, c.cfg.SamplerOptions...)
		smp := sampler.New(video, c.cfg.Settings, s.live.SendRealtimeInput, opts...)
		s.workers.Go(func() { _ = smp.Run(s.ctx) })
	}
}

// failLocked moves the session through Errored to Idle and keeps the
// user-facing message until the next start.
func (c *Controller) failLocked(err error) teardown {
	s := c.sess
	kind := Classify(err)
	if kind == KindUnknown {
		kind = KindTransport
	}
	if c.state == StateConnecting {
		c.cfg.Metrics.SessionsStarted.Add(s.ctx, 1, metric.WithAttributes(observe.Attr("status", "error")))
	}
	c.cfg.Metrics.SessionErrors.Add(s.ctx, 1, metric.WithAttributes(observe.Attr("kind", string(kind))))
	slog.Error("session failed", "session_id", s.ID, "kind", kind, "err", err)

	c.setStateLocked(StateErrored)
	td := c.cleanupLocked()
	msg := userMessage(kind, err)
	c.errMsg = msg
	c.setStateLocked(StateIdle)
	c.after(func() { c.cfg.Notices.SetError(msg) })
	return td
}

// cleanupLocked detaches the current session. Everything that must happen
// atomically with the state change happens here; device and transport
// release is returned to run after the lock is dropped.
func (c *Controller) cleanupLocked() teardown {
	s := c.sess
	c.sess = nil
	c.gen++

	if !s.OpenedAt.IsZero() {
		c.cfg.Metrics.ActiveSessions.Add(context.Background(), -1)
	}
	s.cancel()
	c.cfg.Aggregator.Discard()
	c.cfg.Player.Interrupt()
	return teardown{media: s.media, live: s.live}
}

// Status returns a snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// Generation returns the generation of the current or last session.
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Settings returns the streaming settings shared with the sampler.
func (c *Controller) Settings() *sampler.Settings { return c.cfg.Settings }

// Controls returns the current toggles.
func (c *Controller) Controls() Controls {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controlsLocked()
}

// SetControls updates the toggles. Microphone and camera changes take effect
// on the next block or tick. A noise-cancellation change is applied to the
// live microphone; a failure there is reported as a warning notice and does
// not fail the call.
func (c *Controller) SetControls(ctl Controls) (Controls, error) {
	if _, err := c.cfg.Settings.Update(func(sc *sampler.StreamingConfig) {
		sc.MicrophoneEnabled = ctl.Microphone
		sc.VideoEnabled = ctl.Camera
	}); err != nil {
		return c.Controls(), fmt.Errorf("session: update controls: %w", err)
	}

	c.mu.Lock()
	changed := c.noiseCancel != ctl.NoiseCancellation
	c.noiseCancel = ctl.NoiseCancellation
	var media *capture.Handle
	if c.sess != nil {
		media = c.sess.media
	}
	out := c.controlsLocked()
	c.pending = append(c.pending, c.statusLocked())
	c.unlock()

	if changed && media != nil {
		cons := media.Constraints()
		cons.NoiseSuppression = ctl.NoiseCancellation
		if err := media.ApplyConstraints(cons); err != nil {
			slog.Warn("could not apply noise cancellation", "err", err)
			c.cfg.Notices.Warn(fmt.Sprintf("Could not change noise cancellation: %v", err))
		}
	}
	return out, nil
}

// Subscribe registers fn for every state or control change. fn must not call
// back into the controller synchronously.
func (c *Controller) Subscribe(fn func(Status)) (cancel func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

func (c *Controller) constraintsLocked() capture.Constraints {
	cons := c.cfg.Constraints
	cons.NoiseSuppression = c.noiseCancel
	return cons
}

func (c *Controller) controlsLocked() Controls {
	sc := c.cfg.Settings.Load()
	return Controls{
		Microphone:        sc.MicrophoneEnabled,
		Camera:            sc.VideoEnabled,
		NoiseCancellation: c.noiseCancel,
	}
}

func (c *Controller) statusLocked() Status {
	st := Status{
		State:    c.state,
		Provider: c.caps.Name,
		Controls: c.controlsLocked(),
		Error:    c.errMsg,
	}
	if c.sess != nil {
		st.SessionID = c.sess.ID
		st.StartedAt = c.sess.StartedAt
	}
	return st
}

func (c *Controller) setStateLocked(s State) {
	c.state = s
	c.pending = append(c.pending, c.statusLocked())
}
