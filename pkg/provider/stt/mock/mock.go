// Package mock provides a test double for stt.Transcriber.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

var _ stt.Transcriber = (*Transcriber)(nil)

// Call records a single Transcribe invocation.
type Call struct {
	AudioBase64 string
	MIMEType    string
}

// Transcriber returns Text or Err and records every call.
type Transcriber struct {
	Text string
	Err  error

	mu    sync.Mutex
	calls []Call
}

// Transcribe implements stt.Transcriber.
func (t *Transcriber) Transcribe(_ context.Context, audioBase64, mimeType string) (string, error) {
	t.mu.Lock()
	t.calls = append(t.calls, Call{AudioBase64: audioBase64, MIMEType: mimeType})
	t.mu.Unlock()
	if t.Err != nil {
		return "", t.Err
	}
	return t.Text, nil
}

// Calls returns a copy of recorded calls.
func (t *Transcriber) Calls() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Call(nil), t.calls...)
}
