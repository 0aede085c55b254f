package transcript

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const defaultArchiveInterval = 10 * time.Second

// Store persists transcript entries.
type Store interface {
	WriteEntries(ctx context.Context, entries []Entry) error
}

// Archiver periodically copies new log entries to a [Store]. Entries that
// fail to write are retried on the next tick, so the archive never skips a
// line and never duplicates one that was written.
//
// All methods are safe for concurrent use.
type Archiver struct {
	log      *Log
	store    Store
	interval time.Duration

	mu        sync.Mutex
	lastIndex int
	done      chan struct{}
	stopOnce  sync.Once
}

// NewArchiver creates an Archiver. A non-positive interval defaults to 10s.
func NewArchiver(log *Log, store Store, interval time.Duration) *Archiver {
	if interval <= 0 {
		interval = defaultArchiveInterval
	}
	return &Archiver{
		log:      log,
		store:    store,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins periodic archiving in a background goroutine that runs until
// [Archiver.Stop] is called or ctx is cancelled.
func (a *Archiver) Start(ctx context.Context) {
	go a.loop(ctx)
}

// Stop halts the loop. Safe to call multiple times. Call [Archiver.Flush]
// afterwards to persist the tail.
func (a *Archiver) Stop() {
	a.stopOnce.Do(func() { close(a.done) })
}

// Flush immediately writes every entry not yet archived.
func (a *Archiver) Flush(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flush(ctx)
}

// Archived returns the number of log entries written so far.
func (a *Archiver) Archived() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastIndex
}

func (a *Archiver) loop(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.done:
			return
		case <-ticker.C:
			if err := a.Flush(ctx); err != nil {
				slog.Warn("transcript archive failed", "err", err)
			}
		}
	}
}

// flush must be called with a.mu held.
func (a *Archiver) flush(ctx context.Context) error {
	pending := a.log.Since(a.lastIndex)
	if len(pending) == 0 {
		return nil
	}
	if err := a.store.WriteEntries(ctx, pending); err != nil {
		return fmt.Errorf("archive %d entries: %w", len(pending), err)
	}
	a.lastIndex += len(pending)
	return nil
}
