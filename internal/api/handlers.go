package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/parley/internal/dictation"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/pkg/capture"
)

func (s *Server) getSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Sessions.Status())
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	st, err := s.cfg.Sessions.Start(r.Context())
	if err != nil {
		writeError(w, startStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// startStatus maps a start failure onto an HTTP status.
func startStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrAborted):
		return http.StatusConflict
	}
	switch session.Classify(err) {
	case session.KindPermissionDenied:
		return http.StatusForbidden
	case session.KindDeviceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) stopSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Sessions.Stop())
}

func (s *Server) putControls(w http.ResponseWriter, r *http.Request) {
	ctl := s.cfg.Sessions.Controls()
	if err := decodeJSON(w, r, &ctl); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	out, err := s.cfg.Sessions.SetControls(ctl)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getStreaming(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Sessions.Settings().Load())
}

// putStreaming merges the body into the current settings, so a client may
// send only the fields it changes.
func (s *Server) putStreaming(w http.ResponseWriter, r *http.Request) {
	settings := s.cfg.Sessions.Settings()
	next := settings.Load()
	if err := decodeJSON(w, r, &next); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := settings.Store(next); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, settings.Load())
}

type dictationStatus struct {
	State dictation.State `json:"state"`
}

func (s *Server) dictationAvailable(w http.ResponseWriter) bool {
	if s.cfg.Dictation == nil {
		writeError(w, http.StatusNotImplemented, errors.New("dictation is not configured"))
		return false
	}
	return true
}

func (s *Server) getDictation(w http.ResponseWriter, _ *http.Request) {
	if !s.dictationAvailable(w) {
		return
	}
	writeJSON(w, http.StatusOK, dictationStatus{State: s.cfg.Dictation.State()})
}

func (s *Server) startDictation(w http.ResponseWriter, r *http.Request) {
	if !s.dictationAvailable(w) {
		return
	}
	if err := s.cfg.Dictation.Start(r.Context()); err != nil {
		writeError(w, dictationStatusCode(err), err)
		return
	}
	writeJSON(w, http.StatusOK, dictationStatus{State: s.cfg.Dictation.State()})
}

func (s *Server) stopDictation(w http.ResponseWriter, r *http.Request) {
	if !s.dictationAvailable(w) {
		return
	}
	res, err := s.cfg.Dictation.Stop(r.Context())
	if err != nil {
		writeError(w, dictationStatusCode(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) cancelDictation(w http.ResponseWriter, _ *http.Request) {
	if !s.dictationAvailable(w) {
		return
	}
	if err := s.cfg.Dictation.Cancel(); err != nil {
		writeError(w, dictationStatusCode(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func dictationStatusCode(err error) int {
	switch {
	case errors.Is(err, dictation.ErrInvalidState), errors.Is(err, capture.ErrDeviceUnavailable):
		return http.StatusConflict
	case errors.Is(err, capture.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, dictation.ErrNoSpeech):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

type transcriptPage struct {
	Entries   any  `json:"entries"`
	Next      int  `json:"next"`
	Translate bool `json:"translate"`
}

// getTranscript returns entries from ?since=N (default 0). Next is the
// cursor for the following poll.
func (s *Server) getTranscript(w http.ResponseWriter, r *http.Request) {
	since := 0
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("since must be a non-negative integer"))
			return
		}
		since = n
	}
	log := s.cfg.Transcript.Log()
	total := log.Len()
	writeJSON(w, http.StatusOK, transcriptPage{
		Entries:   log.Since(since),
		Next:      total,
		Translate: s.cfg.Transcript.Translating(),
	})
}

type translationToggle struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) putTranslation(w http.ResponseWriter, r *http.Request) {
	var body translationToggle
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.cfg.Transcript.SetTranslate(body.Enabled)
	writeJSON(w, http.StatusOK, translationToggle{Enabled: s.cfg.Transcript.Translating()})
}

type noticesBody struct {
	Error   string `json:"error,omitempty"`
	Notices any    `json:"notices"`
}

func (s *Server) getNotices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, noticesBody{Error: s.cfg.Notices.Error(), Notices: s.cfg.Notices.Notices()})
}

func (s *Server) deleteNotice(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Notices.Dismiss(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, errors.New("notice not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
