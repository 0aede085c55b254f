package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/notify"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/internal/sampler"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/internal/transcript"
	"github.com/MrWong99/parley/pkg/audio/playout"
	playmock "github.com/MrWong99/parley/pkg/audio/playout/mock"
	"github.com/MrWong99/parley/pkg/capture"
	capmock "github.com/MrWong99/parley/pkg/capture/mock"
	"github.com/MrWong99/parley/pkg/provider/live"
	livemock "github.com/MrWong99/parley/pkg/provider/live/mock"
	sttmock "github.com/MrWong99/parley/pkg/provider/stt/mock"
	trmock "github.com/MrWong99/parley/pkg/provider/translate/mock"
)

// testConfig returns a validated config that opens no real devices.
func testConfig() *config.Config {
	cfg := &config.Config{
		Server: config.ServerConfig{ListenAddr: "127.0.0.1:0", LogLevel: config.LogInfo},
		Providers: config.ProvidersConfig{
			Live: config.ProviderEntry{
				Name:    "gemini-live",
				Options: map[string]any{"instructions": "Be brief.", "voice": "Puck"},
			},
		},
		Capture:  config.CaptureConfig{Backend: config.CaptureNone},
		Playback: config.PlaybackConfig{Backend: config.PlaybackNone},
	}
	cfg.ApplyDefaults()
	return cfg
}

// fakePublisher records every publish call.
type fakePublisher struct {
	mu       sync.Mutex
	started  bool
	closed   bool
	states   []string
	entries  []transcript.Entry
	notices  []notify.Event
	startErr error
}

func (p *fakePublisher) Start(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = true
	return p.startErr
}

func (p *fakePublisher) PublishState(state, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, state)
	return nil
}

func (p *fakePublisher) PublishEntry(e transcript.Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, e)
	return nil
}

func (p *fakePublisher) PublishNotice(ev notify.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notices = append(p.notices, ev)
	return nil
}

func (p *fakePublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *fakePublisher) snapshot() (states []string, entries int, notices int, closed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.states...), len(p.entries), len(p.notices), p.closed
}

// fakeStore is an in-memory transcript archive.
type fakeStore struct {
	mu      sync.Mutex
	entries []transcript.Entry
}

func (s *fakeStore) WriteEntries(_ context.Context, entries []transcript.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	return nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

type fixture struct {
	app      *App
	provider *livemock.Provider
	mic      *capmock.Microphone
	pub      *fakePublisher
	store    *fakeStore
	level    *slog.LevelVar
}

func newFixture(t *testing.T, cfg *config.Config, providers *Providers) *fixture {
	t.Helper()
	f := &fixture{
		provider: &livemock.Provider{},
		mic:      &capmock.Microphone{},
		pub:      &fakePublisher{},
		store:    &fakeStore{},
		level:    new(slog.LevelVar),
	}
	if providers == nil {
		providers = &Providers{}
	}
	if providers.Live == nil {
		providers.Live = f.provider
	}
	a, err := New(context.Background(), cfg, providers,
		WithDevices(&capture.Devices{Mic: f.mic}),
		WithPlayer(playout.New(&playout.ManualClock{}, &playmock.Sink{})),
		WithPublisher(f.pub),
		WithArchiveStore(f.store),
		WithLogLevel(f.level),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.app = a
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return f
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestNew_RequiresLiveProvider(t *testing.T) {
	t.Parallel()
	if _, err := New(context.Background(), testConfig(), &Providers{}); err == nil {
		t.Error("New without live provider = nil error, want error")
	}
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig(), nil)

	if f.app.Recorder() != nil {
		t.Error("Recorder() != nil without a transcriber")
	}

	rec := httptest.NewRecorder()
	f.app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/session", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /session = %d, want 200", rec.Code)
	}
	var st map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if st["state"] != session.StateIdle.String() || st["provider"] != "mock" {
		t.Errorf("status = %v, want idle mock", st)
	}
}

func TestNew_DictationWithTranscriber(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig(), &Providers{Transcriber: &sttmock.Transcriber{Text: "note"}})
	if f.app.Recorder() == nil {
		t.Fatal("Recorder() = nil with a transcriber")
	}

	rec := httptest.NewRecorder()
	f.app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dictation", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET /dictation = %d, want 200", rec.Code)
	}
}

func TestNew_LiveSessionConfig(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig(), nil)

	if _, err := f.app.Controller().Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(f.provider.Configs) != 1 {
		t.Fatalf("Connect calls = %d, want 1", len(f.provider.Configs))
	}
	got := f.provider.Configs[0]
	if got.Instructions != "Be brief." || got.Voice != "Puck" || !got.Transcribe {
		t.Errorf("session config = %+v", got)
	}
}

func TestPublisher_Mirrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig(), nil)

	if _, err := f.app.Controller().Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.provider.Last().Open()
	eventually(t, "active state", func() bool {
		states, _, _, _ := f.pub.snapshot()
		return len(states) > 0 && states[len(states)-1] == "active"
	})

	f.app.Transcript().Log().Append(transcript.Entry{ID: "e1", Role: transcript.RoleUser, Text: "hi"})
	f.app.Notices().Warn("careful")

	_, entries, notices, _ := f.pub.snapshot()
	if entries != 1 {
		t.Errorf("published entries = %d, want 1", entries)
	}
	if notices != 1 {
		t.Errorf("published notices = %d, want 1", notices)
	}

	if err := f.app.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if _, _, _, closed := f.pub.snapshot(); !closed {
		t.Error("publisher not closed on shutdown")
	}
}

func TestShutdown_FlushesArchive(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig(), nil)

	log := f.app.Transcript().Log()
	log.Append(transcript.Entry{ID: "a", Role: transcript.RoleUser, Text: "one"})
	log.Append(transcript.Entry{ID: "b", Role: transcript.RoleModel, Text: "two"})

	if err := f.app.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := f.store.count(); got != 2 {
		t.Errorf("archived = %d, want 2", got)
	}
	// Second call is a no-op.
	if err := f.app.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestShutdown_DeadlineExceeded(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.app.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown(cancelled) = %v, want context.Canceled", err)
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()
	tr := &trmock.Translator{Default: "x"}
	f := newFixture(t, testConfig(), &Providers{Translator: tr})

	old := testConfig()
	next := testConfig()
	next.Server.LogLevel = config.LogDebug
	next.Streaming = sampler.StreamingConfig{FrameRate: 2, FrameQuality: 0.5, VideoEnabled: false, MicrophoneEnabled: true}
	off := false
	next.Transcript.Translate = &off
	next.Playback.Latency = 0.2

	f.app.applyConfig(old, next)

	if got := f.level.Level(); got != slog.LevelDebug {
		t.Errorf("level = %v, want debug", got)
	}
	if got := f.app.settings.Load(); got != next.Streaming {
		t.Errorf("streaming = %+v, want %+v", got, next.Streaming)
	}
	if f.app.Transcript().Translating() {
		t.Error("translation still enabled")
	}
	notices := f.app.Notices().Notices()
	if len(notices) != 1 || !strings.Contains(notices[0].Message, "playback") {
		t.Errorf("notices = %+v, want one restart notice naming playback", notices)
	}
}

func TestApplyConfig_InvalidStreamingIgnored(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig(), nil)

	old := testConfig()
	next := testConfig()
	next.Streaming.FrameRate = 50

	f.app.applyConfig(old, next)
	if got := f.app.settings.Load(); got != sampler.DefaultStreamingConfig() {
		t.Errorf("streaming = %+v, want defaults", got)
	}
}

func TestServe(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig(), nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.app.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d, want 200", resp.StatusCode)
	}
	eventually(t, "publisher start", func() bool {
		f.pub.mu.Lock()
		defer f.pub.mu.Unlock()
		return f.pub.started
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestAllOpen(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		states  map[string]resilience.State
		wantErr bool
	}{
		{name: "empty", states: nil},
		{name: "one closed", states: map[string]resilience.State{"a": resilience.StateOpen, "b": resilience.StateClosed}},
		{name: "half open", states: map[string]resilience.State{"a": resilience.StateHalfOpen}},
		{name: "all open", states: map[string]resilience.State{"a": resilience.StateOpen, "b": resilience.StateOpen}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := allOpen(tt.states); (err != nil) != tt.wantErr {
				t.Errorf("allOpen = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestInitPlayback_UsesProviderRate(t *testing.T) {
	t.Parallel()

	provider := &livemock.Provider{Caps: live.Capabilities{OutputSampleRate: 16000}}
	a, err := New(context.Background(), testConfig(), &Providers{Live: provider},
		WithDevices(&capture.Devices{Mic: &capmock.Microphone{}}),
		WithPublisher(&fakePublisher{}),
		WithArchiveStore(&fakeStore{}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	if a.timeline == nil {
		t.Fatal("timeline not created for the none backend")
	}
	if got := a.timeline.SampleRate(); got != 16000 {
		t.Errorf("timeline rate = %d, want 16000", got)
	}
	sched, ok := a.player.(*playout.Scheduler)
	if !ok {
		t.Fatalf("player = %T, want *playout.Scheduler", a.player)
	}
	src := sched.EnqueuePCM(make([]byte, 2*16000))
	if src.Duration != time.Second {
		t.Errorf("chunk duration = %v, want 1s at 16 kHz", src.Duration)
	}
}
