// Package api is the local HTTP control surface: session start/stop, device
// toggles, streaming settings, dictation, the transcript, notices and a
// websocket event stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/parley/internal/dictation"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/notify"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/sampler"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/internal/transcript"
)

// Sessions is the controller surface used by the API. [*session.Controller]
// implements it.
type Sessions interface {
	Start(ctx context.Context) (session.Status, error)
	Stop() session.Status
	Status() session.Status
	Controls() session.Controls
	SetControls(session.Controls) (session.Controls, error)
	Settings() *sampler.Settings
	Subscribe(fn func(session.Status)) (cancel func())
}

// Dictation is the recorder surface used by the API. [*dictation.Recorder]
// implements it.
type Dictation interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) (dictation.Result, error)
	Cancel() error
	State() dictation.State
}

var (
	_ Sessions  = (*session.Controller)(nil)
	_ Dictation = (*dictation.Recorder)(nil)
)

// Config wires a [Server]. Sessions, Transcript and Notices are required.
type Config struct {
	Sessions   Sessions
	Dictation  Dictation
	Transcript *transcript.Aggregator
	Notices    *notify.Center
	Health     *health.Handler
	Metrics    *observe.Metrics

	// MetricsHandler serves /metrics. Defaults to promhttp.Handler().
	MetricsHandler http.Handler
}

// Server implements the control API.
type Server struct {
	cfg Config
}

// New returns a server. Missing optional parts are replaced by defaults;
// without a Dictation the dictation routes answer 501.
func New(cfg Config) (*Server, error) {
	var errs []error
	if cfg.Sessions == nil {
		errs = append(errs, errors.New("sessions are required"))
	}
	if cfg.Transcript == nil {
		errs = append(errs, errors.New("transcript is required"))
	}
	if cfg.Notices == nil {
		errs = append(errs, errors.New("notices are required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if cfg.Health == nil {
		cfg.Health = health.New()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = promhttp.Handler()
	}
	return &Server{cfg: cfg}, nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(observe.Middleware(s.cfg.Metrics))

	s.cfg.Health.Register(r)
	r.Method(http.MethodGet, "/metrics", s.cfg.MetricsHandler)

	r.Route("/session", func(r chi.Router) {
		r.Get("/", s.getSession)
		r.Post("/start", s.startSession)
		r.Post("/stop", s.stopSession)
		r.Put("/controls", s.putControls)
	})
	r.Get("/streaming", s.getStreaming)
	r.Put("/streaming", s.putStreaming)

	r.Route("/dictation", func(r chi.Router) {
		r.Get("/", s.getDictation)
		r.Post("/start", s.startDictation)
		r.Post("/stop", s.stopDictation)
		r.Post("/cancel", s.cancelDictation)
	})

	r.Get("/transcript", s.getTranscript)
	r.Put("/transcript/translation", s.putTranslation)
	r.Get("/notices", s.getNotices)
	r.Delete("/notices/{id}", s.deleteNotice)
	r.Get("/events", s.events)
	return r
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("api: encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	body := errorBody{Error: err.Error()}
	var se *session.Error
	if errors.As(err, &se) {
		body.Kind = string(se.Kind)
	}
	writeJSON(w, status, body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
