package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	// InputSampleRate is the capture rate expected by the streaming service.
	InputSampleRate = 16000

	// OutputSampleRate is the rate of the audio the streaming service returns.
	OutputSampleRate = 24000

	// BlockSize is the number of float32 samples per outbound audio block.
	BlockSize = 4096

	// MIMETypePCM16k labels outbound realtime audio.
	MIMETypePCM16k = "audio/pcm;rate=16000"
)

// ErrOddLength is returned when a PCM16 payload has a trailing half sample.
var ErrOddLength = errors.New("audio: pcm16 payload has odd byte length")

// OverflowPolicy decides what happens to samples whose scaled value falls
// outside the int16 range. round(1.0*32768) is 32768, so full-scale positive
// input always hits this path.
type OverflowPolicy int

const (
	// Clamp saturates to [-32768, 32767].
	Clamp OverflowPolicy = iota

	// Wrap truncates to 16 bits, so 32768 becomes -32768. This matches a
	// plain two's complement store into an int16 buffer.
	Wrap
)

// String returns the config name of the policy.
func (p OverflowPolicy) String() string {
	switch p {
	case Clamp:
		return "clamp"
	case Wrap:
		return "wrap"
	default:
		return fmt.Sprintf("OverflowPolicy(%d)", int(p))
	}
}

// ParseOverflowPolicy maps a config value to an [OverflowPolicy]. The empty
// string selects [Clamp].
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch s {
	case "", "clamp":
		return Clamp, nil
	case "wrap":
		return Wrap, nil
	default:
		return Clamp, fmt.Errorf("audio: unknown overflow policy %q; valid values: clamp, wrap", s)
	}
}

// SampleToInt16 converts one normalised float sample to int16 as
// round(s*32768) with the given overflow policy. NaN maps to 0.
func SampleToInt16(s float32, policy OverflowPolicy) int16 {
	if s != s {
		return 0
	}
	v := math.Round(float64(s) * 32768)
	if policy == Wrap {
		if math.IsInf(v, 0) || math.Abs(v) > math.MaxInt32 {
			v = math.Copysign(math.MaxInt32, v)
		}
		return int16(int32(v))
	}
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// EncodePCM16 converts float32 samples to 16-bit little-endian PCM.
func EncodePCM16(samples []float32, policy OverflowPolicy) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(SampleToInt16(s, policy)))
	}
	return out
}

// EncodeBlock converts one capture block to PCM16 and base64-encodes it for
// the realtime input channel.
func EncodeBlock(samples []float32, policy OverflowPolicy) string {
	return base64.StdEncoding.EncodeToString(EncodePCM16(samples, policy))
}

// DecodeBase64PCM16 decodes a base64 PCM16 payload and validates that it
// holds whole samples.
func DecodeBase64PCM16(data string) ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("audio: decode base64: %w", err)
	}
	if len(pcm)%2 != 0 {
		return nil, ErrOddLength
	}
	return pcm, nil
}

// PCM16ToFloat32 converts 16-bit little-endian mono PCM to normalised floats.
// A trailing odd byte is ignored.
func PCM16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := range n {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
	}
	return out
}

// PCM16Duration returns the play time of a mono PCM16 payload at rate Hz.
func PCM16Duration(byteLen, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	samples := int64(byteLen / 2)
	return time.Duration(samples * int64(time.Second) / int64(rate))
}
