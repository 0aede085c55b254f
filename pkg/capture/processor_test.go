package capture_test

import (
	"testing"

	"github.com/MrWong99/parley/pkg/capture"
)

func TestProcessor_NoiseGate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		c       capture.Constraints
		in      []float32
		wantMut bool
	}{
		{name: "gate on quiet", c: capture.Constraints{NoiseSuppression: true}, in: []float32{0.005, -0.005}, wantMut: true},
		{name: "gate off quiet", c: capture.Constraints{}, in: []float32{0.005, -0.005}, wantMut: false},
		{name: "gate on loud", c: capture.Constraints{NoiseSuppression: true}, in: []float32{0.5, -0.5}, wantMut: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := capture.NewProcessor(tt.c)
			samples := append([]float32(nil), tt.in...)
			p.Process(samples)
			muted := samples[0] == 0 && samples[1] == 0
			if muted != tt.wantMut {
				t.Errorf("muted = %v; want %v (samples %v)", muted, tt.wantMut, samples)
			}
		})
	}
}

func TestProcessor_AutoGain(t *testing.T) {
	t.Parallel()
	p := capture.NewProcessor(capture.Constraints{AutoGain: true})

	for range 50 {
		samples := []float32{0.02, -0.02, 0.02, -0.02}
		p.Process(samples)
	}
	if g := p.Gain(); g < 4 || g > 5.01 {
		t.Errorf("Gain() = %v; want converged near 5", g)
	}

	loud := []float32{0.9, -0.9}
	p.Process(loud)
	if loud[0] > 1 || loud[1] < -1 {
		t.Errorf("samples %v exceed [-1, 1]", loud)
	}

	p.SetConstraints(capture.Constraints{})
	if g := p.Gain(); g != 1 {
		t.Errorf("Gain() after disabling = %v; want 1", g)
	}
}
