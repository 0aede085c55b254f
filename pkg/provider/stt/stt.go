// Package stt defines the one-shot Speech-to-Text contract used by dictation.
//
// A [Transcriber] receives a complete recording and returns its text. The
// streaming conversation does not use this package: the live provider
// transcribes its own turns.
package stt

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
)

// ErrTranscription wraps every failure returned by a [Transcriber].
var ErrTranscription = errors.New("stt: transcription failed")

// Transcriber converts recorded speech to text.
type Transcriber interface {
	// Transcribe returns the text spoken in audio, a base64 payload of the
	// given MIME type (for example "audio/wav"). Errors wrap
	// [ErrTranscription].
	Transcribe(ctx context.Context, audioBase64, mimeType string) (string, error)
}

// Func adapts a plain function to [Transcriber].
type Func func(ctx context.Context, audioBase64, mimeType string) (string, error)

// Transcribe calls f.
func (f Func) Transcribe(ctx context.Context, audioBase64, mimeType string) (string, error) {
	return f(ctx, audioBase64, mimeType)
}

// DecodePayload decodes audioBase64 and derives an upload file name from
// mimeType.
func DecodePayload(audioBase64, mimeType string) (data []byte, filename string, err error) {
	data, err = base64.StdEncoding.DecodeString(audioBase64)
	if err != nil {
		return nil, "", fmt.Errorf("%w: decode payload: %w", ErrTranscription, err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty payload", ErrTranscription)
	}
	return data, "audio" + extension(mimeType), nil
}

func extension(mimeType string) string {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return ".wav"
	}
	switch mt {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg":
		return ".mp3"
	}
	if exts, _ := mime.ExtensionsByType(mt); len(exts) > 0 {
		return exts[0]
	}
	return ".wav"
}
