package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

// TranscriberFallback is an [stt.Transcriber] that fails over between
// transcribers.
type TranscriberFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

var _ stt.Transcriber = (*TranscriberFallback)(nil)

// NewTranscriberFallback returns a fallback with primary as first choice.
func NewTranscriberFallback(primary stt.Transcriber, name string, cfg FallbackConfig) *TranscriberFallback {
	return &TranscriberFallback{group: NewFallbackGroup(primary, name, cfg)}
}

// AddFallback registers another transcriber.
func (f *TranscriberFallback) AddFallback(name string, t stt.Transcriber) {
	f.group.AddFallback(name, t)
}

// States reports each transcriber's breaker state.
func (f *TranscriberFallback) States() map[string]State { return f.group.States() }

// Transcribe implements [stt.Transcriber].
func (f *TranscriberFallback) Transcribe(ctx context.Context, audioBase64, mimeType string) (string, error) {
	text, err := ExecuteWithResult(ctx, f.group, func(t stt.Transcriber) (string, error) {
		return t.Transcribe(ctx, audioBase64, mimeType)
	})
	if err != nil {
		if isCancellation(err) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", stt.ErrTranscription, err)
	}
	return text, nil
}
