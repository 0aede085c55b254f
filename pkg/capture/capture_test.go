package capture_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/capture"
	"github.com/MrWong99/parley/pkg/capture/mock"
)

func TestDevices_AcquireExclusive(t *testing.T) {
	t.Parallel()
	d := &capture.Devices{Mic: &mock.Microphone{}}

	h, err := d.Acquire(context.Background(), capture.Request{Audio: true})
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	if !d.Busy() {
		t.Error("Busy() = false while handle held")
	}

	_, err = d.Acquire(context.Background(), capture.Request{Audio: true})
	if !errors.Is(err, capture.ErrDeviceUnavailable) {
		t.Fatalf("second Acquire err = %v; want ErrDeviceUnavailable", err)
	}

	if err := h.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := h.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if d.Busy() {
		t.Error("Busy() = true after release")
	}

	h2, err := d.Acquire(context.Background(), capture.Request{Audio: true})
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	h2.Release()
}

func TestDevices_AcquireFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		dev  *capture.Devices
		req  capture.Request
		want error
	}{
		{
			name: "permission denied",
			dev:  &capture.Devices{Mic: &mock.Microphone{OpenErr: capture.ErrPermissionDenied}},
			req:  capture.Request{Audio: true},
			want: capture.ErrPermissionDenied,
		},
		{
			name: "no microphone backend",
			dev:  &capture.Devices{},
			req:  capture.Request{Audio: true},
			want: capture.ErrDeviceUnavailable,
		},
		{
			name: "no camera backend",
			dev:  &capture.Devices{Mic: &mock.Microphone{}},
			req:  capture.Request{Audio: true, Video: true},
			want: capture.ErrDeviceUnavailable,
		},
		{
			name: "camera denied",
			dev:  &capture.Devices{Mic: &mock.Microphone{}, Cam: &mock.Camera{OpenErr: capture.ErrPermissionDenied}},
			req:  capture.Request{Audio: true, Video: true},
			want: capture.ErrPermissionDenied,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := tt.dev.Acquire(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Acquire err = %v; want %v", err, tt.want)
			}
			if tt.dev.Busy() {
				t.Error("device still locked after failed acquisition")
			}
		})
	}
}

func TestDevices_PartialAcquireRollsBack(t *testing.T) {
	t.Parallel()
	mic := &mock.Microphone{}
	d := &capture.Devices{Mic: mic, Cam: &mock.Camera{OpenErr: capture.ErrDeviceUnavailable}}

	if _, err := d.Acquire(context.Background(), capture.Request{Audio: true, Video: true}); err == nil {
		t.Fatal("Acquire succeeded; want error")
	}
	if s := mic.Last(); s == nil || !s.Closed() {
		t.Error("microphone stream not closed after camera failure")
	}
}

func TestHandle_BlocksAndRelease(t *testing.T) {
	t.Parallel()
	mic := &mock.Microphone{}
	cam := &mock.Camera{}
	d := &capture.Devices{Mic: mic, Cam: cam}

	h, err := d.Acquire(context.Background(), capture.Request{Audio: true, Video: true})
	if err != nil {
		t.Fatal(err)
	}
	if h.Video() == nil {
		t.Fatal("Video() = nil")
	}

	mic.Last().Push(audio.Block{Samples: []float32{0.5, -0.5}, Seq: 7})
	select {
	case b := <-h.AudioBlocks():
		if b.Seq != 7 {
			t.Errorf("Seq = %d; want 7", b.Seq)
		}
	case <-time.After(time.Second):
		t.Fatal("no block delivered")
	}

	// An unread block must not block Release.
	mic.Last().Push(audio.Block{Samples: []float32{0.1}})
	if err := h.Release(); err != nil {
		t.Fatal(err)
	}
	if !mic.Last().Closed() {
		t.Error("stream not closed")
	}
	if !cam.Opened[0].Closed() {
		t.Error("camera not closed")
	}
	for range h.AudioBlocks() {
	}
}

func TestHandle_ApplyConstraints(t *testing.T) {
	t.Parallel()
	mic := &mock.Microphone{ApplyErr: capture.ErrConstraintUnsupported}
	d := &capture.Devices{Mic: mic}

	h, err := d.Acquire(context.Background(), capture.Request{Audio: true})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release()

	want := capture.Constraints{NoiseSuppression: true}
	err = h.ApplyConstraints(want)
	if !errors.Is(err, capture.ErrConstraintUnsupported) {
		t.Fatalf("ApplyConstraints err = %v; want ErrConstraintUnsupported", err)
	}
	if got := h.Constraints(); got != want {
		t.Errorf("Constraints() = %+v; want %+v", got, want)
	}

	// Software processing follows the new constraints: quiet input is gated.
	mic.Last().Push(audio.Block{Samples: []float32{0.001, -0.001}})
	b := <-h.AudioBlocks()
	if b.Samples[0] != 0 || b.Samples[1] != 0 {
		t.Errorf("samples = %v; want gated to zero", b.Samples)
	}
}
