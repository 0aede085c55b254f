package playout

import (
	"sync"
	"time"
)

// ManualClock is a [Clock] whose position only moves when told to. It makes
// scheduling deterministic in tests and offline rendering.
type ManualClock struct {
	mu  sync.Mutex
	now time.Duration
}

// Now returns the current position.
func (c *ManualClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to d.
func (c *ManualClock) Set(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = d
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d
}
