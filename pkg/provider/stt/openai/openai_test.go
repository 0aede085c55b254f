package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

func TestTranscribe(t *testing.T) {
	t.Parallel()

	var model, language, filename string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		model = r.FormValue("model")
		language = r.FormValue("language")
		if _, hdr, err := r.FormFile("file"); err == nil {
			filename = hdr.Filename
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text": " hello world "}`)
	}))
	defer srv.Close()

	tr, err := New("sk-test", "", WithBaseURL(srv.URL), WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	text, err := tr.Transcribe(context.Background(), base64.StdEncoding.EncodeToString([]byte("RIFFdata")), "audio/wav")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello world" {
		t.Errorf("text = %q; want %q", text, "hello world")
	}
	if model != DefaultModel {
		t.Errorf("model = %q; want %q", model, DefaultModel)
	}
	if language != "en" {
		t.Errorf("language = %q; want en", language)
	}
	if filename != "audio.wav" {
		t.Errorf("filename = %q; want audio.wav", filename)
	}
}

func TestTranscribe_Error(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error": {"message": "bad key"}}`)
	}))
	defer srv.Close()

	tr, err := New("sk-test", "whisper-1", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = tr.Transcribe(context.Background(), base64.StdEncoding.EncodeToString([]byte("x")), "audio/wav")
	if !errors.Is(err, stt.ErrTranscription) {
		t.Errorf("err = %v; want ErrTranscription", err)
	}
}

func TestNew_EmptyKey(t *testing.T) {
	t.Parallel()

	if _, err := New("", ""); err == nil {
		t.Error("New with empty key: error = nil; want error")
	}
}
