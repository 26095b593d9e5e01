package core

import (
	"sync"
	"time"
)

// Clock supplies the firmware's notion of "now". Hardware targets use the
// system clock; the native simulated target advances a SimClock as moves
// and heater waits consume simulated time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// SimClock is a manually advanced clock
type SimClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewSimClock creates a simulated clock starting at start
func NewSimClock(start time.Time) *SimClock {
	return &SimClock{now: start}
}

// Now returns the simulated time
func (c *SimClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the simulated time forward. Negative durations are ignored.
func (c *SimClock) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
