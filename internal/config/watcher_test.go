package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/config"
)

const watcherYAML = `
providers:
  live:
    name: gemini-live
streaming:
  frame_rate: 1
`

const watcherUpdatedYAML = `
providers:
  live:
    name: gemini-live
streaming:
  frame_rate: 2.5
`

func writeFile(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

type changeRecorder struct {
	mu    sync.Mutex
	diffs []config.ConfigDiff
}

func (r *changeRecorder) onChange(old, new *config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diffs = append(r.diffs, config.Diff(old, new))
}

func (r *changeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.diffs)
}

func TestWatcher_Check(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "parley.yaml")
	base := time.Now().Add(-time.Hour)
	writeFile(t, path, watcherYAML, base)

	rec := &changeRecorder{}
	w, err := config.NewWatcher(path, rec.onChange)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if got := w.Current().Streaming.FrameRate; got != 1 {
		t.Fatalf("initial frame rate = %v, want 1", got)
	}

	if w.Check() {
		t.Error("Check() on unchanged file = true")
	}

	// Same content, new mtime.
	writeFile(t, path, watcherYAML, base.Add(time.Minute))
	if w.Check() {
		t.Error("Check() after touch = true, want false")
	}

	writeFile(t, path, "streaming:\n  frame_rate: 50\n", base.Add(2*time.Minute))
	if w.Check() {
		t.Error("Check() on invalid file = true, want false")
	}
	if got := w.Current().Streaming.FrameRate; got != 1 {
		t.Errorf("frame rate after invalid edit = %v, want 1", got)
	}

	writeFile(t, path, watcherUpdatedYAML, base.Add(3*time.Minute))
	if !w.Check() {
		t.Fatal("Check() after valid edit = false, want true")
	}
	if got := w.Current().Streaming.FrameRate; got != 2.5 {
		t.Errorf("frame rate = %v, want 2.5", got)
	}
	if rec.count() != 1 {
		t.Fatalf("onChange calls = %d, want 1", rec.count())
	}
	if d := rec.diffs[0]; !d.StreamingChanged || d.NewStreaming.FrameRate != 2.5 {
		t.Errorf("diff = %+v, want streaming change to 2.5", d)
	}
}

func TestWatcher_Run(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "parley.yaml")
	base := time.Now().Add(-time.Hour)
	writeFile(t, path, watcherYAML, base)

	rec := &changeRecorder{}
	w, err := config.NewWatcher(path, rec.onChange, config.WithInterval(5*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	writeFile(t, path, watcherUpdatedYAML, base.Add(time.Minute))
	deadline := time.Now().Add(2 * time.Second)
	for rec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run = %v, want nil", err)
	}
	if rec.count() != 1 {
		t.Errorf("onChange calls = %d, want 1", rec.count())
	}
}

func TestNewWatcher_InvalidInitial(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "parley.yaml")
	writeFile(t, path, "server:\n  log_level: loud\n", time.Now())
	if _, err := config.NewWatcher(path, nil); err == nil {
		t.Error("NewWatcher = nil error, want error")
	}
}
