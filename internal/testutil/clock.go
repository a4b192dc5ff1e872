package testutil

import (
	"context"
	"sync"
	"time"
)

// ManualClock is a scheduler clock that only moves when told to.
//
// SleepUntil returns immediately after jumping the clock forward to the
// deadline, so a scheduler loop runs at full speed while observing the
// timing it would see in real time. Advance simulates work that takes
// time, e.g. a slow module update.
//
// Thread-safety: all methods are safe for concurrent use.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

// NewManualClock creates a clock reading start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current manual time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// SleepUntil records the requested sleep and jumps to t. Deadlines in the
// past record a zero sleep.
func (c *ManualClock) SleepUntil(ctx context.Context, t time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	d := t.Sub(c.now)
	if d < 0 {
		d = 0
	}
	c.sleeps = append(c.sleeps, d)
	if t.After(c.now) {
		c.now = t
	}
	return nil
}

// Sleeps returns every sleep requested so far, in order.
func (c *ManualClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}
