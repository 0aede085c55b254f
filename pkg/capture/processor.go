package capture

import (
	"math"
	"sync"
)

const (
	// gateThreshold is the block RMS below which noise suppression mutes.
	gateThreshold = 0.01

	// agcTarget is the RMS level auto-gain steers toward.
	agcTarget = 0.1

	agcMaxGain = 8.0
	agcMinGain = 1.0

	// agcSmoothing is the per-block step toward the desired gain.
	agcSmoothing = 0.2
)

// Processor applies software noise suppression and auto-gain to captured
// blocks in place. Echo cancellation has no software path and is left to the
// device. Safe for concurrent use.
type Processor struct {
	mu   sync.Mutex
	c    Constraints
	gain float64
}

// NewProcessor returns a Processor configured with c.
func NewProcessor(c Constraints) *Processor {
	return &Processor{c: c, gain: agcMinGain}
}

// SetConstraints changes the active constraints. Takes effect on the next
// block.
func (p *Processor) SetConstraints(c Constraints) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.c = c
	if !c.AutoGain {
		p.gain = agcMinGain
	}
}

// Process modifies samples according to the active constraints.
func (p *Processor) Process(samples []float32) {
	if len(samples) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	level := rms(samples)

	if p.c.NoiseSuppression && level < gateThreshold {
		clear(samples)
		return
	}

	if p.c.AutoGain && level > 0 {
		want := min(max(agcTarget/level, agcMinGain), agcMaxGain)
		p.gain += (want - p.gain) * agcSmoothing
		g := float32(p.gain)
		for i, s := range samples {
			samples[i] = min(max(s*g, -1), 1)
		}
	}
}

// Gain returns the current auto-gain factor.
func (p *Processor) Gain() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gain
}

func rms(samples []float32) float64 {
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
