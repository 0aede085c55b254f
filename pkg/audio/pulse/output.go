package pulse

import (
	"fmt"
	"log/slog"

	"github.com/jfreymuth/pulse"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/playout"
)

// OutputConfig selects the playback sink and latency.
type OutputConfig struct {
	// Sink is the sink name; empty selects the server default.
	Sink string

	// Latency is the requested device latency in seconds. Defaults to 0.05.
	Latency float64

	// SampleRate of the stream and its timeline. Defaults to
	// [audio.OutputSampleRate].
	SampleRate int
}

// Output plays a [playout.Timeline] on a Pulse sink.
type Output struct {
	client   *pulse.Client
	stream   *pulse.PlaybackStream
	timeline *playout.Timeline
}

// OpenOutput starts a 24 kHz mono playback stream rendering a new timeline.
func OpenOutput(cfg OutputConfig) (*Output, error) {
	client, err := newClient()
	if err != nil {
		return nil, err
	}

	latency := cfg.Latency
	if latency <= 0 {
		latency = 0.05
	}
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = audio.OutputSampleRate
	}
	tl := playout.NewTimeline(rate)

	opts := []pulse.PlaybackOption{
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(rate),
		pulse.PlaybackLatency(latency),
		pulse.PlaybackMediaName("parley response"),
	}
	if cfg.Sink != "" {
		sink, err := client.SinkByID(cfg.Sink)
		if err != nil {
			client.Close()
			return nil, classify(fmt.Errorf("pulse: resolve sink %q: %w", cfg.Sink, err))
		}
		opts = append(opts, pulse.PlaybackSink(sink))
	}

	stream, err := client.NewPlayback(pulse.Int16Reader(tl.Render), opts...)
	if err != nil {
		client.Close()
		return nil, classify(fmt.Errorf("pulse: create playback stream: %w", err))
	}
	stream.Start()
	slog.Info("pulse: playback opened", "sink", cfg.Sink, "rate", rate, "latency", latency)

	return &Output{client: client, stream: stream, timeline: tl}, nil
}

// Timeline returns the timeline rendered by the stream. It serves as both
// [playout.Clock] and [playout.Sink].
func (o *Output) Timeline() *playout.Timeline { return o.timeline }

// Err reports an asynchronous stream failure, if any.
func (o *Output) Err() error { return o.stream.Error() }

// Close stops playback and disconnects.
func (o *Output) Close() error {
	o.stream.Stop()
	o.stream.Close()
	o.client.Close()
	return nil
}
