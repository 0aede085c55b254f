package stt

import (
	"encoding/base64"
	"errors"
	"testing"
)

func TestDecodePayload(t *testing.T) {
	t.Parallel()

	payload := base64.StdEncoding.EncodeToString([]byte("RIFF"))
	tests := []struct {
		name     string
		b64      string
		mime     string
		wantName string
		wantErr  bool
	}{
		{"wav", payload, "audio/wav", "audio.wav", false},
		{"wav with params", payload, "audio/wav; codecs=1", "audio.wav", false},
		{"webm", payload, "audio/webm", "audio.webm", false},
		{"garbage mime", payload, ";;", "audio.wav", false},
		{"bad base64", "!!", "audio/wav", "", true},
		{"empty", "", "audio/wav", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			data, name, err := DecodePayload(tc.b64, tc.mime)
			if tc.wantErr {
				if !errors.Is(err, ErrTranscription) {
					t.Errorf("err = %v; want ErrTranscription", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodePayload: %v", err)
			}
			if string(data) != "RIFF" {
				t.Errorf("data = %q; want RIFF", data)
			}
			if name != tc.wantName {
				t.Errorf("filename = %q; want %q", name, tc.wantName)
			}
		})
	}
}
