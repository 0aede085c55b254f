// Package app wires all parley subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the control API and the background loops, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithDevices,
// WithPlayer, WithArchiveStore, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/api"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/dictation"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/notify"
	"github.com/MrWong99/parley/internal/notify/mqtt"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/internal/sampler"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/internal/transcript"
	"github.com/MrWong99/parley/internal/transcript/pgstore"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/playout"
	"github.com/MrWong99/parley/pkg/audio/pulse"
	"github.com/MrWong99/parley/pkg/capture"
	"github.com/MrWong99/parley/pkg/capture/snapshot"
	"github.com/MrWong99/parley/pkg/provider/live"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/translate"
)

// Providers holds one interface value per provider slot. Translator and
// Transcriber may be nil. Populated by main.go via the config registry.
type Providers struct {
	Live        live.Provider
	Translator  translate.Translator
	Transcriber stt.Transcriber
}

// Publisher mirrors state, transcript and notices to an external broker.
// [*mqtt.Publisher] implements it.
type Publisher interface {
	Start(ctx context.Context) error
	PublishState(state, errMsg string) error
	PublishEntry(e transcript.Entry) error
	PublishNotice(ev notify.Event) error
	Close()
}

var _ Publisher = (*mqtt.Publisher)(nil)

// breakerStates is implemented by the resilience fallbacks.
type breakerStates interface {
	States() map[string]resilience.State
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	level      *slog.LevelVar
	metrics    *observe.Metrics
	configPath string

	devices   capture.Acquirer
	player    session.Player
	timeline  *playout.Timeline // nil when a player was injected
	store     transcript.Store
	publisher Publisher

	notices    *notify.Center
	settings   *sampler.Settings
	agg        *transcript.Aggregator
	controller *session.Controller
	recorder   *dictation.Recorder
	archiver   *transcript.Archiver
	checkers   []health.Checker
	server     *api.Server

	// tasks run for the lifetime of Run.
	tasks []func(ctx context.Context) error

	// releases free opened resources; they run last, in reverse order.
	releases []func() error

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDevices injects the capture devices instead of opening the configured
// backend.
func WithDevices(d capture.Acquirer) Option {
	return func(a *App) { a.devices = d }
}

// WithPlayer injects the playout scheduler instead of opening the configured
// output.
func WithPlayer(p session.Player) Option {
	return func(a *App) { a.player = p }
}

// WithArchiveStore injects the transcript archive instead of connecting to
// transcript.archive_dsn.
func WithArchiveStore(s transcript.Store) Option {
	return func(a *App) { a.store = s }
}

// WithPublisher injects the broker publisher instead of creating one from
// notify.mqtt.
func WithPublisher(p Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets config reloads change the level of the default logger.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithConfigPath enables hot reload of the file at path.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Nothing runs until
// [App.Run].
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (_ *App, err error) {
	if providers == nil || providers.Live == nil {
		return nil, errors.New("app: a live provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	defer func() {
		if err != nil {
			a.release()
		}
	}()
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
		a.level.Set(cfg.Server.LogLevel.Slog())
	}

	overflow, err := audio.ParseOverflowPolicy(cfg.Audio.Overflow)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	// ── 1. Notices + transcript ──────────────────────────────────────────
	a.notices = notify.NewCenter()
	a.initTranscript()

	// ── 2. Devices ───────────────────────────────────────────────────────
	if err := a.initDevices(); err != nil {
		return nil, fmt.Errorf("app: init devices: %w", err)
	}

	// ── 3. Playback ──────────────────────────────────────────────────────
	if err := a.initPlayback(); err != nil {
		return nil, fmt.Errorf("app: init playback: %w", err)
	}

	// ── 4. Session controller ────────────────────────────────────────────
	constraints := capture.Constraints{
		NoiseSuppression: cfg.Capture.NoiseSuppression,
		EchoCancellation: cfg.Capture.EchoCancellation,
		AutoGain:         cfg.Capture.AutoGain,
	}
	a.settings = sampler.NewSettings(cfg.Streaming)
	liveEntry := cfg.Providers.Live
	a.controller, err = session.New(session.Config{
		Provider:   providers.Live,
		Devices:    a.devices,
		Player:     a.player,
		Aggregator: a.agg,
		Notices:    a.notices,
		Settings:   a.settings,
		Live: live.SessionConfig{
			Instructions: liveEntry.StringOption("instructions"),
			Voice:        liveEntry.StringOption("voice"),
			Transcribe:   true,
		},
		Constraints: constraints,
		Video:       cfg.Capture.CameraURL != "",
		Overflow:    overflow,
		Metrics:     a.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init session: %w", err)
	}

	// ── 5. Dictation ─────────────────────────────────────────────────────
	if providers.Transcriber != nil {
		a.recorder, err = dictation.New(dictation.Config{
			Devices:     a.devices,
			Transcriber: providers.Transcriber,
			Aggregator:  a.agg,
			Notices:     a.notices,
			Constraints: constraints,
			Overflow:    overflow,
			SessionID:   func() string { return a.controller.Status().SessionID },
			Metrics:     a.metrics,
		})
		if err != nil {
			return nil, fmt.Errorf("app: init dictation: %w", err)
		}
	}

	// ── 6. Archive ───────────────────────────────────────────────────────
	if err := a.initArchive(ctx); err != nil {
		return nil, fmt.Errorf("app: init archive: %w", err)
	}

	// ── 7. Broker ────────────────────────────────────────────────────────
	if err := a.initPublisher(); err != nil {
		return nil, fmt.Errorf("app: init publisher: %w", err)
	}

	// ── 8. Config reload ─────────────────────────────────────────────────
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.applyConfig)
		if err != nil {
			return nil, fmt.Errorf("app: init config watcher: %w", err)
		}
		a.tasks = append(a.tasks, w.Run)
	}

	// ── 9. API ───────────────────────────────────────────────────────────
	a.initHealth()
	apiCfg := api.Config{
		Sessions:   a.controller,
		Transcript: a.agg,
		Notices:    a.notices,
		Health:     health.New(a.checkers...),
		Metrics:    a.metrics,
	}
	if a.recorder != nil {
		apiCfg.Dictation = a.recorder
	}
	a.server, err = api.New(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("app: init api: %w", err)
	}

	// ── 10. Shutdown order ───────────────────────────────────────────────
	// The session stops first so its last entries drain into the log before
	// the archive flush and the broker close.
	a.closers = append([]func() error{
		func() error { a.controller.Stop(); return nil },
		func() error { a.agg.Stop(); return nil },
	}, a.closers...)
	a.closers = append(a.closers, func() error { a.release(); return nil })
	return a, nil
}

// release runs the resource releases in reverse order and stops the workers
// started by New.
func (a *App) release() {
	for i := len(a.releases) - 1; i >= 0; i-- {
		if err := a.releases[i](); err != nil {
			slog.Warn("release error", "err", err)
		}
	}
	a.releases = nil
	if a.agg != nil {
		a.agg.Stop()
	}
	if a.notices != nil {
		a.notices.Close()
	}
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initTranscript() {
	opts := []transcript.Option{
		transcript.WithTranslation(a.cfg.Transcript.TranslateEnabled()),
		transcript.WithMetrics(a.metrics),
	}
	if a.providers.Translator != nil {
		opts = append(opts, transcript.WithTranslator(a.providers.Translator))
	}
	a.agg = transcript.NewAggregator(transcript.NewLog(), opts...)
	a.agg.Start()
}

// initDevices builds the capture backends unless injected.
func (a *App) initDevices() error {
	if a.devices != nil {
		return nil
	}
	d := &capture.Devices{}
	if a.cfg.Capture.Backend == config.CapturePulse {
		d.Mic = &pulse.Microphone{
			Input:     a.cfg.Capture.Input,
			Fallback:  a.cfg.Capture.Fallback,
			BlockSize: a.cfg.Audio.BlockSize,
		}
	}
	if url := a.cfg.Capture.CameraURL; url != "" {
		var opts []snapshot.Option
		if a.cfg.Capture.CameraUser != "" {
			opts = append(opts, snapshot.WithBasicAuth(a.cfg.Capture.CameraUser, a.cfg.Capture.CameraPassword))
		}
		cam, err := snapshot.New(url, opts...)
		if err != nil {
			return err
		}
		d.Cam = cam
	}
	a.devices = d
	return nil
}

// initPlayback opens the output unless a player was injected. With the none
// backend a timeline is rendered into the void at real-time pace, so
// playback state still advances.
func (a *App) initPlayback() error {
	if a.player != nil {
		return nil
	}
	rate := a.providers.Live.Capabilities().OutputSampleRate
	if rate <= 0 {
		rate = audio.OutputSampleRate
	}

	var tl *playout.Timeline
	switch a.cfg.Playback.Backend {
	case config.PlaybackPulse:
		out, err := pulse.OpenOutput(pulse.OutputConfig{
			Sink:       a.cfg.Playback.Device,
			Latency:    a.cfg.Playback.Latency,
			SampleRate: rate,
		})
		if err != nil {
			return err
		}
		tl = out.Timeline()
		a.releases = append(a.releases, out.Close)
		a.checkers = append(a.checkers, health.Checker{
			Name:  "playback",
			Check: func(context.Context) error { return out.Err() },
		})
	default:
		tl = playout.NewTimeline(rate)
		a.tasks = append(a.tasks, func(ctx context.Context) error {
			discard(ctx, tl, rate)
			return nil
		})
	}
	a.timeline = tl
	a.player = playout.New(tl, tl, playout.WithSampleRate(rate))
	return nil
}

// discard renders tl in 20 ms steps until ctx is done.
func discard(ctx context.Context, tl *playout.Timeline, rate int) {
	const step = 20 * time.Millisecond
	buf := make([]int16, rate*int(step/time.Millisecond)/1000)
	t := time.NewTicker(step)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := tl.Render(buf); err != nil {
				slog.Debug("discard render failed", "err", err)
			}
		}
	}
}

// initArchive connects the transcript archive when configured.
func (a *App) initArchive(ctx context.Context) error {
	if a.store == nil && a.cfg.Transcript.ArchiveDSN != "" {
		store, err := pgstore.NewStore(ctx, a.cfg.Transcript.ArchiveDSN)
		if err != nil {
			return err
		}
		a.store = store
		a.releases = append(a.releases, func() error { store.Close(); return nil })
		a.checkers = append(a.checkers, health.Checker{Name: "archive", Check: store.Ping, Optional: true})
	}
	if a.store == nil {
		return nil
	}

	a.archiver = transcript.NewArchiver(a.agg.Log(), a.store, a.cfg.Transcript.ArchiveInterval)
	a.tasks = append(a.tasks, func(ctx context.Context) error {
		a.archiver.Start(ctx)
		return nil
	})
	a.closers = append(a.closers, func() error {
		a.archiver.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.archiver.Flush(ctx)
	})
	return nil
}

// initPublisher creates the MQTT publisher when configured and subscribes it
// to status, transcript and notice changes. The broker connection is made in
// Run so an unreachable broker never blocks startup.
func (a *App) initPublisher() error {
	m := a.cfg.Notify.MQTT
	if a.publisher == nil && m.BrokerURL != "" {
		p, err := mqtt.NewPublisher(mqtt.Config{
			BrokerURL:   m.BrokerURL,
			ClientID:    m.ClientID,
			Username:    m.Username,
			Password:    m.Password,
			TopicPrefix: m.TopicPrefix,
			QoS:         m.QoS,
		})
		if err != nil {
			return err
		}
		a.publisher = p
	}
	if a.publisher == nil {
		return nil
	}
	p := a.publisher

	cancels := []func(){
		a.controller.Subscribe(func(st session.Status) {
			logPublish("state", p.PublishState(st.State.String(), st.Error))
		}),
		a.agg.Log().Subscribe(func(e transcript.Entry) {
			logPublish("transcript", p.PublishEntry(e))
		}),
		a.notices.Subscribe(func(ev notify.Event) {
			logPublish("notice", p.PublishNotice(ev))
		}),
	}
	a.tasks = append(a.tasks, func(ctx context.Context) error {
		if err := p.Start(ctx); err != nil {
			slog.Warn("mqtt publisher unavailable, continuing without it", "err", err)
		}
		return nil
	})
	a.closers = append(a.closers, func() error {
		for _, c := range cancels {
			c()
		}
		p.Close()
		return nil
	})
	return nil
}

func logPublish(kind string, err error) {
	if err != nil && !errors.Is(err, mqtt.ErrNotStarted) {
		slog.Debug("mqtt publish failed", "kind", kind, "err", err)
	}
}

// initHealth adds breaker-backed checks for the fallback providers.
func (a *App) initHealth() {
	add := func(name string, v any) {
		bs, ok := v.(breakerStates)
		if !ok {
			return
		}
		a.checkers = append(a.checkers, health.Checker{
			Name:     name,
			Optional: true,
			Check: func(context.Context) error {
				return allOpen(bs.States())
			},
		})
	}
	add("translation", a.providers.Translator)
	add("transcription", a.providers.Transcriber)
}

// allOpen fails when no breaker would accept a call.
func allOpen(states map[string]resilience.State) error {
	for _, s := range states {
		if s != resilience.StateOpen {
			return nil
		}
	}
	if len(states) == 0 {
		return nil
	}
	return resilience.ErrCircuitOpen
}

// applyConfig applies the live-reloadable parts of a changed config file.
func (a *App) applyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged {
		a.level.Set(d.NewLogLevel.Slog())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.StreamingChanged {
		if err := a.settings.Store(d.NewStreaming); err != nil {
			slog.Warn("ignoring invalid streaming settings", "err", err)
		}
	}
	if d.TranslateChanged {
		a.agg.SetTranslate(d.NewTranslate)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
		a.notices.Info(fmt.Sprintf("Restart to apply changes to: %v", d.RestartRequired))
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the control API handler.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Controller returns the session controller.
func (a *App) Controller() *session.Controller { return a.controller }

// Recorder returns the dictation recorder, or nil without a transcriber.
func (a *App) Recorder() *dictation.Recorder { return a.recorder }

// Transcript returns the aggregator.
func (a *App) Transcript() *transcript.Aggregator { return a.agg }

// Notices returns the notice center.
func (a *App) Notices() *notify.Center { return a.notices }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the control API on cfg.Server.ListenAddr and runs the
// background tasks until ctx is cancelled or the listener fails.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           otelhttp.NewHandler(a.Handler(), "parley.api"),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, task := range a.tasks {
		g.Go(func() error { return task(gctx) })
	}
	g.Go(func() error {
		slog.Info("control API listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the live session and any dictation, then tears down all
// subsystems. It respects the context deadline: if ctx expires before all
// closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.recorder != nil && a.recorder.State() == dictation.StateRecording {
			if err := a.recorder.Cancel(); err != nil {
				slog.Warn("dictation cancel error", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
