package audio_test

import (
	"encoding/base64"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

func TestSampleToInt16(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		in     float32
		policy audio.OverflowPolicy
		want   int16
	}{
		{"zero", 0, audio.Clamp, 0},
		{"negative full scale", -1, audio.Clamp, -32768},
		{"positive full scale clamps", 1, audio.Clamp, 32767},
		{"positive full scale wraps", 1, audio.Wrap, -32768},
		{"negative full scale wrap", -1, audio.Wrap, -32768},
		{"half", 0.5, audio.Clamp, 16384},
		{"rounds to nearest", 0.00002, audio.Clamp, 1},
		{"over range clamps", 1.5, audio.Clamp, 32767},
		{"under range clamps", -1.5, audio.Clamp, -32768},
		{"over range wraps", 1.5, audio.Wrap, -16384},
		{"nan", float32(math.NaN()), audio.Clamp, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := audio.SampleToInt16(tc.in, tc.policy); got != tc.want {
				t.Errorf("SampleToInt16(%v, %v) = %d; want %d", tc.in, tc.policy, got, tc.want)
			}
		})
	}
}

func TestEncodePCM16_LittleEndian(t *testing.T) {
	t.Parallel()

	got := audio.EncodePCM16([]float32{0, -1, 0.5}, audio.Clamp)
	want := []byte{0x00, 0x00, 0x00, 0x80, 0x00, 0x40}
	if string(got) != string(want) {
		t.Fatalf("EncodePCM16 = %x; want %x", got, want)
	}
}

func TestEncodeBlock_RoundTrip(t *testing.T) {
	t.Parallel()

	block := make([]float32, audio.BlockSize)
	for i := range block {
		block[i] = float32(i%200-100) / 100
	}
	encoded := audio.EncodeBlock(block, audio.Clamp)

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(raw) != audio.BlockSize*2 {
		t.Fatalf("payload = %d bytes; want %d", len(raw), audio.BlockSize*2)
	}

	pcm, err := audio.DecodeBase64PCM16(encoded)
	if err != nil {
		t.Fatalf("DecodeBase64PCM16: %v", err)
	}
	back := audio.PCM16ToFloat32(pcm)
	for i := range block {
		if d := math.Abs(float64(back[i] - block[i])); d > 1.0/32768 {
			t.Fatalf("sample %d: got %v want %v", i, back[i], block[i])
		}
	}
}

func TestDecodeBase64PCM16_Errors(t *testing.T) {
	t.Parallel()

	if _, err := audio.DecodeBase64PCM16("not base64!"); err == nil {
		t.Error("expected error for invalid base64")
	}
	odd := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
	if _, err := audio.DecodeBase64PCM16(odd); !errors.Is(err, audio.ErrOddLength) {
		t.Errorf("err = %v; want ErrOddLength", err)
	}
}

func TestParseOverflowPolicy(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]audio.OverflowPolicy{"": audio.Clamp, "clamp": audio.Clamp, "wrap": audio.Wrap} {
		got, err := audio.ParseOverflowPolicy(in)
		if err != nil || got != want {
			t.Errorf("ParseOverflowPolicy(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := audio.ParseOverflowPolicy("saturate"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestPCM16Duration(t *testing.T) {
	t.Parallel()

	// 2 s of 24 kHz mono PCM16.
	if got := audio.PCM16Duration(2*24000*2, audio.OutputSampleRate); got != 2*time.Second {
		t.Errorf("PCM16Duration = %v; want 2s", got)
	}
}
