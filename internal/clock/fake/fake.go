// Package fake provides a settable clock for tests.
package fake

import (
	"sync"
	"time"
)

// Clock returns a fixed instant that tests advance explicitly.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// New creates a Clock frozen at the given instant.
func New(now time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns the current fake instant.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set pins the clock to the given instant.
func (c *Clock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}
