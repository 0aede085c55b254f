package snapshot_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/parley/pkg/capture"
	"github.com/MrWong99/parley/pkg/capture/snapshot"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestCamera_Frame(t *testing.T) {
	t.Parallel()
	body := pngBytes(t, 4, 3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "cam" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(body)
	}))
	t.Cleanup(srv.Close)

	cam, err := snapshot.New(srv.URL, snapshot.WithBasicAuth("cam", "secret"))
	if err != nil {
		t.Fatal(err)
	}
	src, err := cam.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	img, err := src.Frame(context.Background())
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 4 || b.Dy() != 3 {
		t.Errorf("bounds = %v; want 4x3", b)
	}

	src.Close()
	if _, err := src.Frame(context.Background()); !errors.Is(err, capture.ErrDeviceUnavailable) {
		t.Errorf("Frame after Close err = %v; want ErrDeviceUnavailable", err)
	}
}

func TestCamera_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   []byte
		want   error
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, want: capture.ErrPermissionDenied},
		{name: "forbidden", status: http.StatusForbidden, want: capture.ErrPermissionDenied},
		{name: "not found", status: http.StatusNotFound, want: capture.ErrDeviceUnavailable},
		{name: "garbage body", status: http.StatusOK, body: []byte("not an image"), want: capture.ErrDeviceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write(tt.body)
			}))
			t.Cleanup(srv.Close)

			cam, err := snapshot.New(srv.URL)
			if err != nil {
				t.Fatal(err)
			}
			_, err = cam.Open(context.Background())
			if !errors.Is(err, tt.want) {
				t.Errorf("Open err = %v; want %v", err, tt.want)
			}
		})
	}
}

func TestNew_EmptyURL(t *testing.T) {
	t.Parallel()
	if _, err := snapshot.New(""); err == nil {
		t.Error("New(\"\") succeeded; want error")
	}
}
