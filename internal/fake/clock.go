package fake

import (
	"sync"
	"time"

	"stackup/internal/runtime"
)

var _ runtime.Clock = (*Clock)(nil)

// Clock is a deterministic clock for testing. Every Now() call advances it
// by Step so ordered events get strictly increasing timestamps.
type Clock struct {
	mu   sync.Mutex
	now  time.Time
	Step time.Duration
}

// NewClock creates a Clock starting at the given time.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start, Step: time.Millisecond}
}

// Now returns the current fake time and ticks the clock forward.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.now
	c.now = c.now.Add(c.Step)
	return out
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
