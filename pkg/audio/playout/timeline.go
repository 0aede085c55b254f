package playout

import (
	"container/heap"
	"encoding/binary"
	"math"
	"sync"
	"time"
)

// Compile-time interface assertions.
var (
	_ Sink  = (*Timeline)(nil)
	_ Clock = (*Timeline)(nil)
)

// Timeline is a pull-driven [Sink] and [Clock] for a device output stream.
//
// The device callback calls [Timeline.Render] for each buffer it needs; the
// timeline mixes every source overlapping that window and advances its
// position by the number of samples rendered. Position therefore tracks what
// the device has consumed, which keeps scheduling sample accurate. Silence is
// rendered when nothing is scheduled.
type Timeline struct {
	rate int

	mu      sync.Mutex
	pos     int64 // samples rendered so far
	pending voiceHeap
	playing []*voice
	seq     uint64
	byID    map[uint64]*voice

	// tail is the sample just past the most recently scheduled source.
	tail int64
}

// NewTimeline creates a Timeline rendering mono samples at rate Hz.
func NewTimeline(rate int) *Timeline {
	return &Timeline{
		rate:    rate,
		pending: make(voiceHeap, 0, 16),
		byID:    make(map[uint64]*voice),
	}
}

// SampleRate returns the rate passed to [NewTimeline].
func (t *Timeline) SampleRate() int { return t.rate }

// Now returns the position of the render cursor.
func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.samplesToDuration(t.pos)
}

// Schedule places src on the timeline. Sources whose start lies in the past
// begin with the next rendered buffer.
func (t *Timeline) Schedule(src *Source, ended func()) {
	n := len(src.PCM) / 2
	samples := make([]int16, n)
	for i := range n {
		samples[i] = int16(binary.LittleEndian.Uint16(src.PCM[i*2:]))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	start := t.durationToSamples(src.Start)
	if d := start - t.tail; t.tail > t.pos && d >= -1 && d <= 1 {
		// Back-to-back source; nanosecond durations drift by a fraction of
		// a sample per chunk.
		start = t.tail
	}
	start = max(start, t.pos)
	t.tail = start + int64(n)
	v := &voice{
		id:      src.ID,
		start:   start,
		samples: samples,
		ended:   ended,
		seq:     t.seq,
	}
	t.byID[src.ID] = v
	heap.Push(&t.pending, v)
}

// Stop silences src immediately. Its ended callback is never invoked.
func (t *Timeline) Stop(src *Source) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.byID[src.ID]; ok {
		v.stopped = true
		delete(t.byID, src.ID)
	}
}

// Pending returns the number of sources that have not finished or been
// stopped.
func (t *Timeline) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byID)
}

// Render fills buf with the mix of all sources overlapping the next
// len(buf) samples and advances the timeline. It always fills buf completely.
func (t *Timeline) Render(buf []int16) (int, error) {
	var finished []func()

	t.mu.Lock()
	windowEnd := t.pos + int64(len(buf))

	for t.pending.Len() > 0 && t.pending[0].start < windowEnd {
		v := heap.Pop(&t.pending).(*voice)
		if !v.stopped {
			t.playing = append(t.playing, v)
		}
	}

	mix := make([]int32, len(buf))
	live := t.playing[:0]
	for _, v := range t.playing {
		if v.stopped {
			continue
		}
		from := max(v.start, t.pos)
		to := min(v.start+int64(len(v.samples)), windowEnd)
		for p := from; p < to; p++ {
			mix[p-t.pos] += int32(v.samples[p-v.start])
		}
		if v.start+int64(len(v.samples)) <= windowEnd {
			delete(t.byID, v.id)
			if v.ended != nil {
				finished = append(finished, v.ended)
			}
			continue
		}
		live = append(live, v)
	}
	clear(t.playing[len(live):])
	t.playing = live
	t.pos = windowEnd
	t.mu.Unlock()

	for i, s := range mix {
		buf[i] = int16(min(max(s, math.MinInt16), math.MaxInt16))
	}
	for _, fn := range finished {
		go fn()
	}
	return len(buf), nil
}

// durationToSamples rounds to the nearest sample.
func (t *Timeline) durationToSamples(d time.Duration) int64 {
	return (int64(d)*int64(t.rate) + int64(time.Second)/2) / int64(time.Second)
}

func (t *Timeline) samplesToDuration(n int64) time.Duration {
	if t.rate <= 0 {
		return 0
	}
	return time.Duration(n * int64(time.Second) / int64(t.rate))
}
