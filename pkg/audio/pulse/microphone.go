package pulse

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jfreymuth/pulse"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/capture"
)

var (
	_ capture.Microphone  = (*Microphone)(nil)
	_ capture.AudioStream = (*recordStream)(nil)
)

// Microphone opens record streams on a PulseAudio source.
type Microphone struct {
	// Input and Fallback select the source; see pickSource.
	Input    string
	Fallback string

	// BlockSize is the number of samples per delivered block. Defaults to
	// [audio.BlockSize].
	BlockSize int
}

// Open starts a 16 kHz mono record stream.
func (m *Microphone) Open(ctx context.Context, c capture.Constraints) (capture.AudioStream, error) {
	client, err := newClient()
	if err != nil {
		return nil, err
	}

	devices, err := listSources(client)
	if err != nil {
		client.Close()
		return nil, err
	}
	dev, echo, err := pickSource(devices, m.Input, m.Fallback, c.EchoCancellation)
	if err != nil {
		client.Close()
		return nil, err
	}
	if c.EchoCancellation && !echo {
		slog.Warn("pulse: no echo-cancel source loaded, capturing without echo cancellation", "source", dev.ID)
	}

	src, err := client.SourceByID(dev.ID)
	if err != nil {
		client.Close()
		return nil, classify(fmt.Errorf("pulse: resolve source %q: %w", dev.ID, err))
	}

	size := m.BlockSize
	if size <= 0 {
		size = audio.BlockSize
	}
	rs := &recordStream{
		client:    client,
		blockSize: size,
		echo:      c.EchoCancellation,
		blocks:    make(chan audio.Block, 32),
		stopCh:    make(chan struct{}),
	}

	stream, err := client.NewRecord(
		pulse.Float32Writer(rs.onSamples),
		pulse.RecordSource(src),
		pulse.RecordMono,
		pulse.RecordSampleRate(audio.InputSampleRate),
		pulse.RecordBufferFragmentSize(uint32(size*4)),
		pulse.RecordMediaName("parley microphone"),
	)
	if err != nil {
		client.Close()
		return nil, classify(fmt.Errorf("pulse: create record stream: %w", err))
	}
	rs.stream = stream
	stream.Start()

	slog.Info("pulse: microphone opened", "source", dev.ID, "block_size", size)

	go func() {
		select {
		case <-ctx.Done():
			rs.Close()
		case <-rs.stopCh:
		}
	}()
	return rs, nil
}

// recordStream cuts the Pulse sample stream into fixed-size blocks.
type recordStream struct {
	client    *pulse.Client
	stream    *pulse.RecordStream
	blockSize int
	echo      bool

	blocks chan audio.Block
	stopCh chan struct{}

	mu       sync.Mutex
	pending  []float32
	seq      uint64
	offset   int64 // samples emitted so far
	stopped  bool
	inflight sync.WaitGroup
}

func (r *recordStream) Blocks() <-chan audio.Block { return r.blocks }

// ApplyConstraints accepts noise suppression and auto-gain changes, which are
// handled in software. Echo cancellation is bound to the source chosen at
// open time.
func (r *recordStream) ApplyConstraints(c capture.Constraints) error {
	if c.EchoCancellation != r.echo {
		return fmt.Errorf("%w: echo cancellation requires reopening the source", capture.ErrConstraintUnsupported)
	}
	return nil
}

func (r *recordStream) Close() error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	close(r.stopCh)
	r.mu.Unlock()

	if r.stream != nil {
		r.stream.Stop()
		r.stream.Close()
	}
	r.client.Close()
	r.inflight.Wait()
	close(r.blocks)
	return nil
}

// onSamples receives Pulse buffers and emits full blocks. A trailing partial
// block is discarded at Close.
func (r *recordStream) onSamples(buf []float32) (int, error) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return 0, io.EOF
	}
	r.inflight.Add(1)
	defer r.inflight.Done()

	r.pending = append(r.pending, buf...)
	var out []audio.Block
	for len(r.pending) >= r.blockSize {
		samples := make([]float32, r.blockSize)
		copy(samples, r.pending[:r.blockSize])
		r.pending = r.pending[r.blockSize:]
		r.seq++
		out = append(out, audio.Block{
			Samples:    samples,
			SampleRate: audio.InputSampleRate,
			Seq:        r.seq,
			Timestamp:  time.Duration(r.offset) * time.Second / audio.InputSampleRate,
		})
		r.offset += int64(r.blockSize)
	}
	r.mu.Unlock()

	for _, b := range out {
		select {
		case r.blocks <- b:
		case <-r.stopCh:
			return 0, io.EOF
		}
	}
	return len(buf), nil
}
