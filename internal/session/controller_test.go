package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/parley/internal/notify"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/sampler"
	"github.com/MrWong99/parley/internal/transcript"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/playout"
	playmock "github.com/MrWong99/parley/pkg/audio/playout/mock"
	"github.com/MrWong99/parley/pkg/capture"
	capmock "github.com/MrWong99/parley/pkg/capture/mock"
	"github.com/MrWong99/parley/pkg/provider/live"
	livemock "github.com/MrWong99/parley/pkg/provider/live/mock"
	trmock "github.com/MrWong99/parley/pkg/provider/translate/mock"
)

type harness struct {
	c        *Controller
	provider *livemock.Provider
	mic      *capmock.Microphone
	devices  *capture.Devices
	clock    *playout.ManualClock
	sink     *playmock.Sink
	player   *playout.Scheduler
	agg      *transcript.Aggregator
	notices  *notify.Center
	reader   *sdkmetric.ManualReader

	mu       sync.Mutex
	statuses []State
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	h := &harness{
		provider: &livemock.Provider{},
		mic:      &capmock.Microphone{},
		clock:    &playout.ManualClock{},
		sink:     &playmock.Sink{},
		notices:  notify.NewCenter(),
		reader:   reader,
	}
	h.devices = &capture.Devices{Mic: h.mic}
	h.player = playout.New(h.clock, h.sink)
	h.agg = transcript.NewAggregator(transcript.NewLog(),
		transcript.WithTranslator(&trmock.Translator{Table: map[string]string{"Hola": "Hello", "Hi": "NULL"}}),
		transcript.WithMetrics(metrics),
	)
	h.agg.Start()
	t.Cleanup(h.agg.Stop)

	cfg := Config{
		Provider:   h.provider,
		Devices:    h.devices,
		Player:     h.player,
		Aggregator: h.agg,
		Notices:    h.notices,
		Metrics:    metrics,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	h.c, err = New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.c.Subscribe(func(st Status) {
		h.mu.Lock()
		h.statuses = append(h.statuses, st.State)
		h.mu.Unlock()
	})
	t.Cleanup(func() { h.c.Stop() })
	return h
}

func (h *harness) states() []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []State
	for _, s := range h.statuses {
		if len(out) == 0 || out[len(out)-1] != s {
			out = append(out, s)
		}
	}
	return out
}

func (h *harness) startActive(t *testing.T) *livemock.Session {
	t.Helper()
	if _, err := h.c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s := h.provider.Last()
	if s == nil {
		t.Fatal("provider was not dialled")
	}
	s.Open()
	eventually(t, "active state", func() bool { return h.c.Status().State == StateActive })
	return s
}

func (h *harness) counter(t *testing.T, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
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

// chunkOf returns a base64 PCM16 chunk that plays for d at 24 kHz.
func chunkOf(d time.Duration) string {
	samples := int(d * audio.OutputSampleRate / time.Second)
	return base64.StdEncoding.EncodeToString(make([]byte, samples*2))
}

func equalStates(a, b []State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNew_RequiresDependencies(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}); err == nil {
		t.Error("New(Config{}) = nil error; want error")
	}
}

func TestStart_OpenActivatesAndPumpsAudio(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	s := h.startActive(t)

	samples := []float32{0, 0.5, -0.5, 1, -1}
	h.mic.Last().Push(audio.Block{Samples: append([]float32(nil), samples...), SampleRate: audio.InputSampleRate})

	eventually(t, "audio chunk", func() bool { return s.SentCount(live.MIMETypePCM16k) == 1 })
	got := s.Sent()[0]
	if want := audio.EncodeBlock(samples, audio.Clamp); got.Data != want {
		t.Errorf("chunk data = %q; want %q", got.Data, want)
	}

	st := h.c.Status()
	if st.SessionID == "" || st.Provider != "mock" {
		t.Errorf("Status() = %+v; want session id and provider mock", st)
	}
	if want := []State{StateConnecting, StateActive}; !equalStates(h.states(), want) {
		t.Errorf("states = %v; want %v", h.states(), want)
	}
	if n := h.counter(t, "parley.audio.blocks_sent"); n != 1 {
		t.Errorf("blocks_sent = %d; want 1", n)
	}
}

func TestStart_Busy(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.startActive(t)

	if _, err := h.c.Start(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("second Start err = %v; want ErrBusy", err)
	}
}

func TestStart_AcquisitionFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		openErr  error
		wantKind ErrorKind
	}{
		{"permission denied", fmt.Errorf("pulse: %w", capture.ErrPermissionDenied), KindPermissionDenied},
		{"device unavailable", fmt.Errorf("pulse: %w", capture.ErrDeviceUnavailable), KindDeviceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			h.mic.OpenErr = tt.openErr

			st, err := h.c.Start(context.Background())
			var se *Error
			if !errors.As(err, &se) || se.Kind != tt.wantKind {
				t.Fatalf("Start err = %v; want *Error kind %s", err, tt.wantKind)
			}
			if st.State != StateIdle || st.Error == "" {
				t.Errorf("Status = %+v; want idle with error", st)
			}
			if h.notices.Error() == "" {
				t.Error("error slot empty; want message")
			}
			if h.devices.Busy() {
				t.Error("devices still locked")
			}
			if s := h.provider.Last(); s != nil && !s.Closed() {
				t.Error("transport left open after failed start")
			}
			want := []State{StateConnecting, StateErrored, StateIdle}
			if !equalStates(h.states(), want) {
				t.Errorf("states = %v; want %v", h.states(), want)
			}
		})
	}
}

func TestStart_TransportFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.provider.ConnectErr = fmt.Errorf("%w: dial: refused", live.ErrTransport)

	_, err := h.c.Start(context.Background())
	if Classify(err) != KindTransport {
		t.Fatalf("Start err = %v; want transport", err)
	}
	if h.devices.Busy() {
		t.Error("devices still locked after transport failure")
	}
}

func TestStart_ErrorClearedByNextStart(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.mic.OpenErr = capture.ErrPermissionDenied
	_, _ = h.c.Start(context.Background())
	if h.c.Status().Error == "" {
		t.Fatal("expected retained error")
	}

	h.mic.OpenErr = nil
	h.startActive(t)
	if st := h.c.Status(); st.Error != "" || h.notices.Error() != "" {
		t.Errorf("error after restart = %q / %q; want empty", st.Error, h.notices.Error())
	}
}

func TestMessages_GaplessScheduleAndInterrupt(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	s := h.startActive(t)

	s.Message(live.ServerMessage{AudioChunks: []string{chunkOf(2 * time.Second)}})
	eventually(t, "first chunk", func() bool { return h.sink.ScheduledCount() == 1 })

	h.clock.Set(time.Second)
	s.Message(live.ServerMessage{AudioChunks: []string{chunkOf(1500 * time.Millisecond)}})
	eventually(t, "second chunk", func() bool { return h.sink.ScheduledCount() == 2 })

	second := h.sink.Scheduled[1]
	if second.Start != 2*time.Second || second.End() != 3500*time.Millisecond {
		t.Errorf("second chunk = [%v, %v]; want [2s, 3.5s]", second.Start, second.End())
	}

	s.Message(live.ServerMessage{Interrupted: true})
	eventually(t, "interrupt", func() bool { return h.sink.StoppedCount() == 2 })
	if c := h.player.Cursor(); c != 0 {
		t.Errorf("cursor = %v; want 0", c)
	}

	h.clock.Set(1200 * time.Millisecond)
	s.Message(live.ServerMessage{AudioChunks: []string{chunkOf(time.Second)}})
	eventually(t, "chunk after interrupt", func() bool { return h.sink.ScheduledCount() == 3 })
	if got := h.sink.Scheduled[2].Start; got != 1200*time.Millisecond {
		t.Errorf("start after interrupt = %v; want 1.2s", got)
	}
}

func TestMessages_DecodeErrorContinues(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	s := h.startActive(t)

	s.Message(live.ServerMessage{AudioChunks: []string{"%%%", chunkOf(time.Second), "AAA"}})
	eventually(t, "good chunk", func() bool { return h.sink.ScheduledCount() == 1 })

	if st := h.c.Status().State; st != StateActive {
		t.Errorf("state = %v; want active", st)
	}
	if n := h.counter(t, "parley.playout.decode_errors"); n != 2 {
		t.Errorf("decode_errors = %d; want 2", n)
	}
	eventually(t, "decode notice", func() bool { return len(h.notices.Notices()) == 1 })
}

func TestTurnComplete_TranslatedEntries(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	s := h.startActive(t)

	s.Message(live.ServerMessage{InputTranscript: "Ho"})
	s.Message(live.ServerMessage{InputTranscript: "la", OutputTranscript: "Hi"})
	s.Message(live.ServerMessage{TurnComplete: true})

	log := h.agg.Log()
	eventually(t, "two entries", func() bool { return log.Len() == 2 })
	h.agg.Wait()

	entries := log.Entries()
	user, model := entries[0], entries[1]
	if user.Role != transcript.RoleUser || user.Text != "Hola" || user.Translation != "Hello" {
		t.Errorf("user entry = %+v; want Hola/Hello", user)
	}
	if model.Role != transcript.RoleModel || model.Text != "Hi" || model.HasTranslation() {
		t.Errorf("model entry = %+v; want Hi without translation", model)
	}
	if user.SessionID != h.c.Status().SessionID {
		t.Errorf("SessionID = %q; want %q", user.SessionID, h.c.Status().SessionID)
	}
}

func TestTurnComplete_UserOnly(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	s := h.startActive(t)

	s.Message(live.ServerMessage{InputTranscript: "Hi"})
	s.Message(live.ServerMessage{TurnComplete: true})
	s.Message(live.ServerMessage{TurnComplete: true})

	eventually(t, "one entry", func() bool { return h.agg.Log().Len() == 1 })
	eventually(t, "turns counted", func() bool { return h.counter(t, "parley.turns.completed") == 2 })
	h.agg.Wait()
	if n := h.agg.Log().Len(); n != 1 {
		t.Errorf("entries = %d; want 1", n)
	}
}

func TestTransportError_TearsDown(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	s := h.startActive(t)
	mic := h.mic.Last()

	s.Message(live.ServerMessage{InputTranscript: "partial", AudioChunks: []string{chunkOf(time.Second)}})
	eventually(t, "chunk", func() bool { return h.sink.ScheduledCount() == 1 })

	s.Finish("", fmt.Errorf("%w: read: EOF", live.ErrTransport))
	eventually(t, "idle", func() bool { return h.c.Status().State == StateIdle })

	st := h.c.Status()
	if st.Error == "" || st.SessionID != "" {
		t.Errorf("Status = %+v; want error and no session", st)
	}
	eventually(t, "mic closed", mic.Closed)
	eventually(t, "devices released", func() bool { return !h.devices.Busy() })
	if h.sink.StoppedCount() != 1 || h.player.Cursor() != 0 {
		t.Errorf("stopped = %d cursor = %v; want 1, 0", h.sink.StoppedCount(), h.player.Cursor())
	}
	if u, m := h.agg.Buffers(); u != "" || m != "" {
		t.Errorf("buffers = %q, %q; want discarded", u, m)
	}
	want := []State{StateConnecting, StateActive, StateErrored, StateIdle}
	if !equalStates(h.states(), want) {
		t.Errorf("states = %v; want %v", h.states(), want)
	}
	if n := h.counter(t, "parley.sessions.errors"); n != 1 {
		t.Errorf("session errors = %d; want 1", n)
	}
}

func TestNonTransportError_KeepsSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	s := h.startActive(t)

	s.Emit(live.Event{Kind: live.EventError, Err: errors.New("openai: rate limited")})
	eventually(t, "warning", func() bool { return len(h.notices.Notices()) == 1 })

	if st := h.c.Status(); st.State != StateActive || st.Error != "" {
		t.Errorf("Status = %+v; want active without error", st)
	}
	if n := h.notices.Notices()[0]; n.Level != notify.LevelWarning {
		t.Errorf("notice level = %s; want warning", n.Level)
	}
}

func TestRemoteClose_ReturnsToIdle(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	s := h.startActive(t)

	s.Finish("server going away", nil)
	eventually(t, "idle", func() bool { return h.c.Status().State == StateIdle })
	if st := h.c.Status(); st.Error != "" {
		t.Errorf("Error = %q; want empty after clean close", st.Error)
	}
	want := []State{StateConnecting, StateActive, StateClosing, StateIdle}
	if !equalStates(h.states(), want) {
		t.Errorf("states = %v; want %v", h.states(), want)
	}
}

func TestStop_StopsEverything(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	s := h.startActive(t)
	mic := h.mic.Last()

	s.Message(live.ServerMessage{AudioChunks: []string{
		chunkOf(time.Second), chunkOf(time.Second), chunkOf(time.Second),
	}})
	eventually(t, "three chunks", func() bool { return h.sink.ScheduledCount() == 3 })

	st := h.c.Stop()
	if st.State != StateIdle {
		t.Errorf("Stop() state = %v; want idle", st.State)
	}
	if h.sink.StoppedCount() != 3 || h.player.Cursor() != 0 {
		t.Errorf("stopped = %d cursor = %v; want 3, 0", h.sink.StoppedCount(), h.player.Cursor())
	}
	if !mic.Closed() || !s.Closed() || h.devices.Busy() {
		t.Errorf("mic closed %v, session closed %v, devices busy %v", mic.Closed(), s.Closed(), h.devices.Busy())
	}

	gen := h.c.Generation()
	h.c.Stop()
	if h.c.Generation() != gen {
		t.Error("second Stop changed the generation")
	}
	want := []State{StateConnecting, StateActive, StateClosing, StateIdle}
	if !equalStates(h.states(), want) {
		t.Errorf("states = %v; want %v", h.states(), want)
	}
}

func TestStop_PendingTranslationKeepsEntry(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	tr := &trmock.Translator{Default: "translated", Block: block}
	h := newHarness(t)
	h.agg = transcript.NewAggregator(transcript.NewLog(), transcript.WithTranslator(tr))
	h.agg.Start()
	t.Cleanup(h.agg.Stop)
	h.c.cfg.Aggregator = h.agg

	s := h.startActive(t)
	s.Message(live.ServerMessage{InputTranscript: "Bonjour"})
	s.Message(live.ServerMessage{TurnComplete: true})
	eventually(t, "translation requested", func() bool { return len(tr.Inputs()) == 1 })

	h.c.Stop()
	h.agg.Wait()

	entries := h.agg.Log().Entries()
	if len(entries) != 1 || entries[0].Text != "Bonjour" || entries[0].HasTranslation() {
		t.Errorf("entries = %+v; want Bonjour without translation", entries)
	}
}

func TestStop_DuringConnect(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	h.provider.OnConnect = func(*livemock.Session) {
		close(entered)
		<-release
	}

	errc := make(chan error)
	go func() {
		_, err := h.c.Start(context.Background())
		errc <- err
	}()
	<-entered
	if st := h.c.Stop(); st.State != StateIdle {
		t.Errorf("Stop() state = %v; want idle", st.State)
	}
	close(release)

	if err := <-errc; !errors.Is(err, ErrAborted) {
		t.Errorf("Start err = %v; want ErrAborted", err)
	}
	if s := h.provider.Last(); !s.Closed() {
		t.Error("late session was not closed")
	}
	eventually(t, "devices released", func() bool { return !h.devices.Busy() })
}

func TestHandle_StaleConnectedIsReleased(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	media, err := h.devices.Acquire(context.Background(), capture.Request{Audio: true})
	if err != nil {
		t.Fatal(err)
	}
	ls := livemock.NewSession()
	h.c.Handle(Connected{Gen: h.c.Generation() + 5, Media: media, Session: ls})

	if h.devices.Busy() || !ls.Closed() {
		t.Errorf("devices busy %v, session closed %v; want released", h.devices.Busy(), ls.Closed())
	}
	if st := h.c.Status().State; st != StateIdle {
		t.Errorf("state = %v; want idle", st)
	}
}

func TestControls_MicrophoneOffDropsBlocks(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	s := h.startActive(t)

	ctl := h.c.Controls()
	ctl.Microphone = false
	if _, err := h.c.SetControls(ctl); err != nil {
		t.Fatal(err)
	}
	for i := range 3 {
		h.mic.Last().Push(audio.Block{Samples: []float32{0.1}, SampleRate: audio.InputSampleRate, Seq: uint64(i)})
	}
	time.Sleep(50 * time.Millisecond)
	if n := s.SentCount(live.MIMETypePCM16k); n != 0 {
		t.Errorf("sent %d blocks with microphone off; want 0", n)
	}
	if h.c.Settings().Load().MicrophoneEnabled {
		t.Error("settings still report microphone enabled")
	}
}

func TestControls_NoiseCancellation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		applyErr    error
		wantNotices int
	}{
		{"applied", nil, 0},
		{"device refuses", capture.ErrConstraintUnsupported, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			h.mic.ApplyErr = tt.applyErr
			h.startActive(t)

			ctl := h.c.Controls()
			ctl.NoiseCancellation = true
			got, err := h.c.SetControls(ctl)
			if err != nil {
				t.Fatalf("SetControls: %v", err)
			}
			if !got.NoiseCancellation {
				t.Error("NoiseCancellation = false; want true")
			}
			applied := h.mic.Last().Applied
			if len(applied) != 1 || !applied[0].NoiseSuppression {
				t.Errorf("applied = %+v; want one call with noise suppression", applied)
			}
			if n := len(h.notices.Notices()); n != tt.wantNotices {
				t.Errorf("notices = %d; want %d", n, tt.wantNotices)
			}
			if st := h.c.Status().State; st != StateActive {
				t.Errorf("state = %v; want active", st)
			}
		})
	}
}

func TestControls_InvalidSettingsRejected(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(c *Config) {
		c.Settings = sampler.NewSettings(sampler.DefaultStreamingConfig())
	})
	if _, err := h.c.Settings().Update(func(sc *sampler.StreamingConfig) { sc.FrameRate = 0 }); err == nil {
		t.Error("expected invalid frame rate to be rejected")
	}
}

func TestVideo_FramesSentWhenProviderAcceptsVideo(t *testing.T) {
	t.Parallel()

	timer := make(chan time.Time, 1)
	h := newHarness(t, func(c *Config) {
		c.Video = true
		c.SamplerOptions = []sampler.Option{sampler.WithTimer(func(time.Duration) <-chan time.Time { return timer })}
	})
	h.provider.Caps = live.Capabilities{Name: "gemini", AcceptsVideo: true}
	h.c.caps = h.provider.Capabilities()
	h.devices.Cam = &capmock.Camera{Image: solidImage(4, 4)}

	s := h.startActive(t)
	timer <- time.Time{}
	eventually(t, "frame", func() bool { return s.SentCount(live.MIMETypeJPEG) == 1 })
}
