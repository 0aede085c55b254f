// Package audio holds the sample formats and pure conversions shared by the
// capture, streaming and playout layers: float32 capture blocks, 16-bit PCM
// wire payloads, WAV framing and simple resampling.
package audio

import "time"

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Block is one captured run of mono float32 samples in [-1, 1].
type Block struct {
	// Samples holds exactly [BlockSize] samples except for the final block of
	// a recording, which may be shorter.
	Samples []float32

	// SampleRate in Hz.
	SampleRate int

	// Seq is the capture order of the block within its stream, starting at 0.
	Seq uint64

	// Timestamp marks when this block was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the play time of the block.
func (b Block) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(len(b.Samples)) * int64(time.Second) / int64(b.SampleRate))
}
