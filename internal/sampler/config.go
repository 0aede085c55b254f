// Package sampler periodically grabs a still from the camera, compresses it to
// JPEG and forwards it to the live session.
package sampler

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"
)

// Bounds of [StreamingConfig].
const (
	MinFrameRate    = 0.5
	MaxFrameRate    = 5
	MinFrameQuality = 0.1
	MaxFrameQuality = 0.9
)

// StreamingConfig holds the user-adjustable streaming settings. The frame
// fields drive the sampler; the enable flags are consulted by the sampler and
// the microphone pump on every tick or block.
type StreamingConfig struct {
	FrameRate         float64 `json:"frame_rate" yaml:"frame_rate"`
	FrameQuality      float64 `json:"frame_quality" yaml:"frame_quality"`
	VideoEnabled      bool    `json:"video_enabled" yaml:"video_enabled"`
	MicrophoneEnabled bool    `json:"microphone_enabled" yaml:"microphone_enabled"`
}

// DefaultStreamingConfig is one frame per second at quality 0.7 with both
// tracks enabled.
func DefaultStreamingConfig() StreamingConfig {
	return StreamingConfig{FrameRate: 1, FrameQuality: 0.7, VideoEnabled: true, MicrophoneEnabled: true}
}

// Validate reports out-of-range frame settings.
func (c StreamingConfig) Validate() error {
	var errs []error
	if math.IsNaN(c.FrameRate) || c.FrameRate < MinFrameRate || c.FrameRate > MaxFrameRate {
		errs = append(errs, fmt.Errorf("frame_rate %v outside [%v, %v]", c.FrameRate, MinFrameRate, MaxFrameRate))
	}
	if math.IsNaN(c.FrameQuality) || c.FrameQuality < MinFrameQuality || c.FrameQuality > MaxFrameQuality {
		errs = append(errs, fmt.Errorf("frame_quality %v outside [%v, %v]", c.FrameQuality, MinFrameQuality, MaxFrameQuality))
	}
	return errors.Join(errs...)
}

// Period returns the time between samples, 1000/FrameRate ms.
func (c StreamingConfig) Period() time.Duration {
	rate := clamp(c.FrameRate, MinFrameRate, MaxFrameRate)
	return time.Duration(float64(time.Second) / rate)
}

// JPEGQuality maps FrameQuality onto the 1..100 scale of image/jpeg.
func (c StreamingConfig) JPEGQuality() int {
	return int(math.Round(clamp(c.FrameQuality, MinFrameQuality, MaxFrameQuality) * 100))
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

// Settings is a concurrency-safe [StreamingConfig] cell. Readers always see a
// complete value.
type Settings struct {
	v atomic.Pointer[StreamingConfig]
}

// NewSettings returns a cell holding c.
func NewSettings(c StreamingConfig) *Settings {
	s := &Settings{}
	s.v.Store(&c)
	return s
}

// Load returns the current value.
func (s *Settings) Load() StreamingConfig { return *s.v.Load() }

// Store replaces the value after validation.
func (s *Settings) Store(c StreamingConfig) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.v.Store(&c)
	return nil
}

// Update applies fn to the current value until it wins the swap.
func (s *Settings) Update(fn func(*StreamingConfig)) (StreamingConfig, error) {
	for {
		old := s.v.Load()
		next := *old
		fn(&next)
		if err := next.Validate(); err != nil {
			return *old, err
		}
		if s.v.CompareAndSwap(old, &next) {
			return next, nil
		}
	}
}
