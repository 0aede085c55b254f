package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/parley"

// Span names of the provider round trips parley traces.
const (
	SpanSessionConnect = "session.connect"
	SpanTranslate      = "transcript.translate"
	SpanTranscribe     = "dictation.transcribe"
)

// SessionIDKey tags spans with the streaming session they belong to.
const SessionIDKey = attribute.Key("parley.session_id")

// Tracer returns the parley tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on [Tracer]. End it with [EndSpan].
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartSessionSpan is [StartSpan] tagged with [SessionIDKey]. An empty id,
// as for a dictation outside a session, adds no attribute.
func StartSessionSpan(ctx context.Context, name, sessionID string) (context.Context, trace.Span) {
	if sessionID == "" {
		return StartSpan(ctx, name)
	}
	return StartSpan(ctx, name, trace.WithAttributes(SessionIDKey.String(sessionID)))
}

// EndSpan marks span as failed when err is non-nil and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID is the trace id of the span in ctx, or "" without one. The
// control API returns it in X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger is slog.Default with trace_id and span_id attached when ctx carries
// a span.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
