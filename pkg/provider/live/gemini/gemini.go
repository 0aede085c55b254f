// Package gemini implements [live.Provider] for Google's Gemini Live API.
//
// It opens a WebSocket to the BidiGenerateContent endpoint and exchanges JSON
// messages: one setup message, then realtimeInput media chunks upstream and
// serverContent messages downstream. Audio stays base64-encoded end to end.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/live"
)

var (
	_ live.Provider = (*Provider)(nil)
	_ live.Session  = (*session)(nil)
)

const (
	defaultModel   = "gemini-2.0-flash-live-001"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second

	// readLimit accommodates large inline audio parts.
	readLimit = 8 << 20
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Gemini model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL overrides the base WebSocket URL. Used in tests to point at a
// local server.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.baseURL = url
		}
	}
}

// Provider implements live.Provider for Gemini Live.
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

// Capabilities returns static metadata about Gemini Live.
func (p *Provider) Capabilities() live.Capabilities {
	return live.Capabilities{
		Name:             "gemini",
		AcceptsVideo:     true,
		OutputSampleRate: audio.OutputSampleRate,
		Voices:           []string{"Aoede", "Charon", "Fenrir", "Kore", "Puck"},
	}
}

// Connect dials Gemini Live and sends the setup message. The session emits
// [live.EventOpen] when setupComplete arrives.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		p.baseURL, p.apiKey,
	)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Content-Type": []string{"application/json"}},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: gemini: dial: %w", live.ErrTransport, err)
	}
	conn.SetReadLimit(readLimit)

	sessCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		conn:   conn,
		ctx:    sessCtx,
		cancel: cancel,
		events: live.NewEmitter(sessCtx, 64),
	}

	if err := s.writeJSON(ctx, buildSetup(p.model, cfg)); err != nil {
		cancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("%w: gemini: setup: %w", live.ErrTransport, err)
	}

	go s.receiveLoop()
	go s.keepaliveLoop()
	return s, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string           `json:"model"`
	GenerationConfig         generationConfig `json:"generationConfig"`
	SystemInstruction        *content         `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}        `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}        `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig struct {
		PrebuiltVoiceConfig struct {
			VoiceName string `json:"voiceName"`
		} `json:"prebuiltVoiceConfig"`
	} `json:"voiceConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type realtimeInputMessage struct {
	RealtimeInput struct {
		MediaChunks []inlineData `json:"mediaChunks"`
	} `json:"realtimeInput"`
}

func buildSetup(model string, cfg live.SessionConfig) setupMessage {
	msg := setupMessage{Setup: setupConfig{
		Model:            "models/" + model,
		GenerationConfig: generationConfig{ResponseModalities: []string{"audio"}},
	}}
	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &content{Parts: []part{{Text: cfg.Instructions}}}
	}
	if cfg.Voice != "" {
		sc := &speechConfig{}
		sc.VoiceConfig.PrebuiltVoiceConfig.VoiceName = cfg.Voice
		msg.Setup.GenerationConfig.SpeechConfig = sc
	}
	if cfg.Transcribe {
		msg.Setup.InputAudioTranscription = &struct{}{}
		msg.Setup.OutputAudioTranscription = &struct{}{}
	}
	return msg
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	Error         *geminiError     `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

// toMessage converts serverContent into the provider-neutral form. It returns
// nil when nothing in sc is relevant.
func toMessage(sc *serverContent) *live.ServerMessage {
	m := &live.ServerMessage{
		Interrupted:  sc.Interrupted,
		TurnComplete: sc.TurnComplete,
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil && p.InlineData.Data != "" && strings.HasPrefix(p.InlineData.MIMEType, "audio/") {
				m.AudioChunks = append(m.AudioChunks, p.InlineData.Data)
			}
		}
	}
	if sc.InputTranscription != nil {
		m.InputTranscript = sc.InputTranscription.Text
	}
	if sc.OutputTranscription != nil {
		m.OutputTranscript = sc.OutputTranscription.Text
	}
	if len(m.AudioChunks) == 0 && m.InputTranscript == "" && m.OutputTranscript == "" && !m.Interrupted && !m.TurnComplete {
		return nil
	}
	return m
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	events *live.Emitter

	mu     sync.Mutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

func (s *session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// receiveLoop reads messages until the connection ends and owns the event
// channel.
func (s *session) receiveLoop() {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			s.finish(err)
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("gemini: skipping malformed frame", "err", err)
			continue
		}

		if msg.SetupComplete != nil {
			s.events.Emit(live.Event{Kind: live.EventOpen})
		}
		if msg.Error != nil {
			text := msg.Error.Message
			if text == "" {
				text = "unknown error"
			}
			s.events.Emit(live.Event{Kind: live.EventError, Err: fmt.Errorf("%w: gemini: %s", live.ErrTransport, text)})
		}
		if msg.ServerContent != nil {
			if m := toMessage(msg.ServerContent); m != nil {
				s.events.Emit(live.Event{Kind: live.EventMessage, Message: m})
			}
		}
	}
}

// finish maps the terminal read error onto the closing events.
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
		s.events.Finish(ce.Reason, fmt.Errorf("%w: gemini: closed with status %d: %s", live.ErrTransport, ce.Code, ce.Reason))
		return
	}
	s.events.Finish("connection lost", fmt.Errorf("%w: gemini: read: %w", live.ErrTransport, err))
}

// keepaliveLoop pings the server so idle sessions are not dropped.
func (s *session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
	}
}

// SendRealtimeInput forwards one media chunk as a realtimeInput message.
func (s *session) SendRealtimeInput(ctx context.Context, chunk live.MediaChunk) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return live.ErrClosed
	}

	var msg realtimeInputMessage
	msg.RealtimeInput.MediaChunks = []inlineData{{MIMEType: chunk.MIMEType, Data: chunk.Data}}
	if err := s.writeJSON(ctx, msg); err != nil {
		return fmt.Errorf("%w: gemini: send: %w", live.ErrTransport, err)
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
