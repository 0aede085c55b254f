// Package openai implements [live.Provider] for OpenAI's Realtime API.
//
// Realtime events are mapped onto the provider-neutral event model:
// session.created opens the session, response.audio.delta carries audio,
// transcription events carry fragments, input_audio_buffer.speech_started
// signals an interruption and response.done completes the turn.
//
// The Realtime API takes audio only. Microphone chunks are resampled from
// 16 kHz to 24 kHz before upload; image chunks are rejected with
// [live.ErrUnsupportedMedia].
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/live"
)

var (
	_ live.Provider = (*Provider)(nil)
	_ live.Session  = (*session)(nil)
)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	transcriptionModel = "whisper-1"
	readLimit          = 8 << 20
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Realtime model.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL overrides the base WebSocket URL. Used in tests.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.baseURL = url
		}
	}
}

// Provider implements live.Provider for OpenAI Realtime.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities returns static metadata about OpenAI Realtime.
func (p *Provider) Capabilities() live.Capabilities {
	return live.Capabilities{
		Name:             "openai",
		AcceptsVideo:     false,
		OutputSampleRate: audio.OutputSampleRate,
		Voices:           []string{"alloy", "ash", "ballad", "coral", "echo", "sage", "shimmer", "verse"},
	}
}

// Connect dials the Realtime endpoint and sends session.update. The session
// emits [live.EventOpen] on session.created.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	wsURL := fmt.Sprintf("%s?model=%s", p.baseURL, p.model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: openai: dial: %w", live.ErrTransport, err)
	}
	conn.SetReadLimit(readLimit)

	sessCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		conn:   conn,
		ctx:    sessCtx,
		cancel: cancel,
		events: live.NewEmitter(sessCtx, 64),
	}

	if err := s.writeJSON(ctx, buildSessionUpdate(cfg)); err != nil {
		cancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("%w: openai: session update: %w", live.ErrTransport, err)
	}

	go s.receiveLoop()
	return s, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities              []string             `json:"modalities"`
	Voice                   string               `json:"voice,omitempty"`
	Instructions            string               `json:"instructions,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format"`
	OutputAudioFormat       string               `json:"output_audio_format"`
	InputAudioTranscription *transcriptionParams `json:"input_audio_transcription,omitempty"`
}

type transcriptionParams struct {
	Model string `json:"model"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

func buildSessionUpdate(cfg live.SessionConfig) sessionUpdateMessage {
	params := sessionParams{
		Modalities:        []string{"audio", "text"},
		Voice:             cfg.Voice,
		Instructions:      cfg.Instructions,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
	}
	if cfg.Transcribe {
		params.InputAudioTranscription = &transcriptionParams{Model: transcriptionModel}
	}
	return sessionUpdateMessage{Type: "session.update", Session: params}
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type       string             `json:"type"`
	Delta      string             `json:"delta,omitempty"`
	Transcript string             `json:"transcript,omitempty"`
	Error      *serverErrorDetail `json:"error,omitempty"`
}

// serverErrorDetail is the nested object of an error event:
// {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// toEvent maps one Realtime server event. ok is false for events without a
// counterpart in the neutral model.
func toEvent(evt *serverEvent) (live.Event, bool) {
	msg := func(m live.ServerMessage) (live.Event, bool) {
		return live.Event{Kind: live.EventMessage, Message: &m}, true
	}

	switch evt.Type {
	case "session.created":
		return live.Event{Kind: live.EventOpen}, true
	case "response.audio.delta":
		if evt.Delta == "" {
			return live.Event{}, false
		}
		return msg(live.ServerMessage{AudioChunks: []string{evt.Delta}})
	case "response.audio_transcript.delta":
		if evt.Delta == "" {
			return live.Event{}, false
		}
		return msg(live.ServerMessage{OutputTranscript: evt.Delta})
	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return live.Event{}, false
		}
		return msg(live.ServerMessage{InputTranscript: evt.Transcript})
	case "input_audio_buffer.speech_started":
		return msg(live.ServerMessage{Interrupted: true})
	case "response.done":
		return msg(live.ServerMessage{TurnComplete: true})
	case "error":
		text := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			text = evt.Error.Message
		}
		return live.Event{Kind: live.EventError, Err: fmt.Errorf("openai: %s", text)}, true
	}
	return live.Event{}, false
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	events *live.Emitter

	mu          sync.Mutex
	closed      bool
	warnedVideo bool

	ctx    context.Context
	cancel context.CancelFunc
}

func (s *session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s *session) receiveLoop() {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			s.finish(err)
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			slog.Debug("openai: skipping malformed event", "err", err)
			continue
		}
		if ev, ok := toEvent(&evt); ok {
			s.events.Emit(ev)
		}
	}
}

func (s *session) finish(err error) {
	if s.ctx.Err() != nil {
		s.events.Finish("closed by client", nil)
		return
	}
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Code == websocket.StatusNormalClosure || ce.Code == websocket.StatusGoingAway {
			s.events.Finish(ce.Reason, nil)
			return
		}
		s.events.Finish(ce.Reason, fmt.Errorf("%w: openai: closed with status %d: %s", live.ErrTransport, ce.Code, ce.Reason))
		return
	}
	s.events.Finish("connection lost", fmt.Errorf("%w: openai: read: %w", live.ErrTransport, err))
}

// SendRealtimeInput uploads a microphone chunk via input_audio_buffer.append.
func (s *session) SendRealtimeInput(ctx context.Context, chunk live.MediaChunk) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return live.ErrClosed
	}
	if chunk.MIMEType != live.MIMETypePCM16k {
		first := !s.warnedVideo
		s.warnedVideo = true
		s.mu.Unlock()
		if first {
			slog.Warn("openai: realtime input accepts audio only, dropping media", "mime", chunk.MIMEType)
		}
		return fmt.Errorf("%w: openai: %s", live.ErrUnsupportedMedia, chunk.MIMEType)
	}
	s.mu.Unlock()

	pcm, err := base64.StdEncoding.DecodeString(chunk.Data)
	if err != nil {
		return fmt.Errorf("openai: decode input: %w", err)
	}
	up := audio.ResampleMono16(pcm, audio.InputSampleRate, audio.OutputSampleRate)

	msg := appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(up),
	}
	if err := s.writeJSON(ctx, msg); err != nil {
		return fmt.Errorf("%w: openai: send: %w", live.ErrTransport, err)
	}
	return nil
}

func (s *session) Events() <-chan live.Event { return s.events.Events() }

// Close terminates the session. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
