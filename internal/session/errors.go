package session

import (
	"errors"
	"fmt"

	"github.com/MrWong99/parley/pkg/audio/playout"
	"github.com/MrWong99/parley/pkg/capture"
	"github.com/MrWong99/parley/pkg/provider/live"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/translate"
)

var (
	// ErrBusy is returned by [Controller.Start] while a session exists.
	ErrBusy = errors.New("session: already running")

	// ErrAborted is returned by [Controller.Start] when Stop was called
	// before the connection completed.
	ErrAborted = errors.New("session: stopped while connecting")
)

// ErrorKind classifies session failures.
type ErrorKind string

const (
	KindPermissionDenied  ErrorKind = "permission_denied"
	KindDeviceUnavailable ErrorKind = "device_unavailable"
	KindTransport         ErrorKind = "transport"
	KindDecode            ErrorKind = "decode"
	KindTranslation       ErrorKind = "translation"
	KindTranscription     ErrorKind = "transcription"
	KindUnknown           ErrorKind = "unknown"
)

// Error is a classified session failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("session %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Classify maps err onto an [ErrorKind] using the package sentinels of the
// capture, live, playout, translate and stt packages.
func Classify(err error) ErrorKind {
	var se *Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &se):
		return se.Kind
	case errors.Is(err, capture.ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return KindDeviceUnavailable
	case errors.Is(err, live.ErrTransport):
		return KindTransport
	case errors.Is(err, playout.ErrDecode):
		return KindDecode
	case errors.Is(err, translate.ErrTranslation):
		return KindTranslation
	case errors.Is(err, stt.ErrTranscription):
		return KindTranscription
	default:
		return KindUnknown
	}
}

// userMessage is the text shown in the persistent error slot.
func userMessage(kind ErrorKind, err error) string {
	switch kind {
	case KindPermissionDenied:
		return "Microphone or camera access was denied."
	case KindDeviceUnavailable:
		return "No usable microphone or camera is available."
	case KindTransport:
		return fmt.Sprintf("Connection to the live service failed: %v", err)
	default:
		return fmt.Sprintf("Session failed: %v", err)
	}
}
