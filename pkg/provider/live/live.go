// Package live defines the contract for bidirectional streaming inference
// services: realtime media goes up, spoken audio, transcription fragments and
// turn signals come back.
//
// A [Session] reports everything it receives as [Event] values on a single
// channel, in arrival order. The last event is always [EventClose]; the
// channel is closed right after it. Consumers must keep reading until the
// channel closes or call [Session.Close].
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"errors"
)

// MIME types accepted by [Session.SendRealtimeInput].
const (
	MIMETypePCM16k = "audio/pcm;rate=16000"
	MIMETypeJPEG   = "image/jpeg"
)

var (
	// ErrTransport classifies connection failures: dial, handshake, read,
	// write and unexpected remote close.
	ErrTransport = errors.New("live: transport error")

	// ErrUnsupportedMedia is returned when the service cannot accept the MIME
	// type of a media chunk. The session stays usable.
	ErrUnsupportedMedia = errors.New("live: unsupported media type")

	// ErrClosed is returned by SendRealtimeInput after Close.
	ErrClosed = errors.New("live: session closed")
)

// MediaChunk is one realtime input payload.
type MediaChunk struct {
	// MIMEType is [MIMETypePCM16k] or [MIMETypeJPEG].
	MIMEType string

	// Data is the base64-encoded payload.
	Data string
}

// EventKind discriminates [Event].
type EventKind int

const (
	// EventOpen is emitted once the service has accepted the session setup.
	EventOpen EventKind = iota + 1

	// EventMessage carries a [ServerMessage].
	EventMessage

	// EventError reports a failure. Transport failures are followed by
	// EventClose.
	EventError

	// EventClose is always the final event.
	EventClose
)

// String returns the lowercase name of the kind.
func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// Event is one notification from a [Session].
type Event struct {
	Kind EventKind

	// Message is set for EventMessage.
	Message *ServerMessage

	// Err is set for EventError and, for abnormal closure, EventClose.
	Err error

	// Reason is a human-readable close reason for EventClose.
	Reason string
}

// ServerMessage is the provider-neutral content of one inbound message.
// Any combination of fields may be set; consumers process them in the order
// transcripts, audio, interrupted, turn complete.
type ServerMessage struct {
	// AudioChunks are base64 PCM16 mono chunks at [Capabilities.OutputSampleRate].
	AudioChunks []string

	// InputTranscript is a fragment of the recognised user speech.
	InputTranscript string

	// OutputTranscript is a fragment of the text of the spoken response.
	OutputTranscript string

	// Interrupted means the user barged in and queued audio must stop.
	Interrupted bool

	// TurnComplete marks the end of the model's turn.
	TurnComplete bool
}

// SessionConfig configures a new session.
type SessionConfig struct {
	// Instructions is the system prompt.
	Instructions string

	// Voice selects a prebuilt voice. Empty uses the provider default.
	Voice string

	// Transcribe enables input and output transcription events.
	Transcribe bool
}

// Capabilities describes static properties of a provider.
type Capabilities struct {
	// Name identifies the provider in logs and status output.
	Name string

	// AcceptsVideo reports whether image/jpeg media chunks are accepted.
	AcceptsVideo bool

	// OutputSampleRate is the rate of inbound audio chunks.
	OutputSampleRate int

	// Voices lists known prebuilt voice names.
	Voices []string
}

// Session is an open streaming connection.
type Session interface {
	// SendRealtimeInput forwards one media chunk. Chunks are delivered in
	// call order.
	SendRealtimeInput(ctx context.Context, chunk MediaChunk) error

	// Events returns the event channel. See the package documentation.
	Events() <-chan Event

	// Close terminates the session. It is idempotent.
	Close() error
}

// Provider opens sessions.
type Provider interface {
	// Connect dials the service and sends the session setup. The returned
	// session emits EventOpen once the service acknowledges the setup.
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)

	Capabilities() Capabilities
}
