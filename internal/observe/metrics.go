// Package observe provides application-wide observability primitives for
// parley: OpenTelemetry metrics, distributed tracing, structured logging and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics can be
// scraped via /metrics. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all parley metrics.
const meterName = "github.com/MrWong99/parley"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// ConnectDuration tracks live session setup (device acquisition plus
	// transport handshake).
	ConnectDuration metric.Float64Histogram

	// TranslationDuration tracks transcript translation latency.
	TranslationDuration metric.Float64Histogram

	// TranscriptionDuration tracks dictation transcription latency.
	TranscriptionDuration metric.Float64Histogram

	// --- Session counters ---

	// SessionsStarted counts start attempts. Attribute "status": ok | error.
	SessionsStarted metric.Int64Counter

	// SessionErrors counts sessions ended by an error. Attribute "kind".
	SessionErrors metric.Int64Counter

	// ActiveSessions is 1 while a session is active.
	ActiveSessions metric.Int64UpDownCounter

	// --- Media counters ---

	// AudioBlocksSent counts encoded microphone blocks sent upstream.
	AudioBlocksSent metric.Int64Counter

	// FramesSent counts JPEG frames sent upstream.
	FramesSent metric.Int64Counter

	// SendErrors counts failed realtime sends. Attribute "mime_type".
	SendErrors metric.Int64Counter

	// ChunksScheduled counts response chunks placed on the playback timeline.
	ChunksScheduled metric.Int64Counter

	// DecodeErrors counts response chunks dropped because they failed to decode.
	DecodeErrors metric.Int64Counter

	// Interruptions counts interruption signals from the service.
	Interruptions metric.Int64Counter

	// TurnsCompleted counts turn-complete signals.
	TurnsCompleted metric.Int64Counter

	// --- Transcript ---

	// TranscriptEntries counts appended entries. Attributes "role" and
	// "dictation".
	TranscriptEntries metric.Int64Counter

	// --- Providers ---

	// ProviderRequests counts provider calls. Attributes "provider", "kind",
	// "status".
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Attributes "provider", "kind".
	ProviderErrors metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks control API latency by "method", chi route
	// "path" and "status" class.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries in seconds.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.ConnectDuration, "parley.session.connect.duration", "Latency of session setup."},
		{&met.TranslationDuration, "parley.translation.duration", "Latency of transcript translation."},
		{&met.TranscriptionDuration, "parley.transcription.duration", "Latency of dictation transcription."},
	}
	for _, h := range histograms {
		var err error
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.SessionsStarted, "parley.sessions.started", "Session start attempts by status."},
		{&met.SessionErrors, "parley.sessions.errors", "Sessions ended by an error, by kind."},
		{&met.AudioBlocksSent, "parley.audio.blocks_sent", "Microphone blocks sent to the live service."},
		{&met.FramesSent, "parley.video.frames_sent", "Video frames sent to the live service."},
		{&met.SendErrors, "parley.send.errors", "Failed realtime input sends by MIME type."},
		{&met.ChunksScheduled, "parley.playout.chunks_scheduled", "Response audio chunks scheduled for playback."},
		{&met.DecodeErrors, "parley.playout.decode_errors", "Response audio chunks dropped on decode failure."},
		{&met.Interruptions, "parley.playout.interruptions", "Interruption signals received."},
		{&met.TurnsCompleted, "parley.turns.completed", "Turn-complete signals received."},
		{&met.TranscriptEntries, "parley.transcript.entries", "Transcript entries appended by role."},
		{&met.ProviderRequests, "parley.provider.requests", "Provider requests by provider, kind and status."},
		{&met.ProviderErrors, "parley.provider.errors", "Provider errors by provider and kind."},
	}
	for _, c := range counters {
		var err error
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	var err error
	if met.ActiveSessions, err = m.Int64UpDownCounter("parley.sessions.active",
		metric.WithDescription("Number of active live sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("parley.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request with the standard
// attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordTranscriptEntry counts one appended transcript entry.
func (m *Metrics) RecordTranscriptEntry(ctx context.Context, role string, dictation bool) {
	m.TranscriptEntries.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("role", role),
			attribute.Bool("dictation", dictation),
		),
	)
}

// RecordSendError counts one failed realtime send.
func (m *Metrics) RecordSendError(ctx context.Context, mimeType string) {
	m.SendErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("mime_type", mimeType)))
}
