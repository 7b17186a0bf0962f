package utils

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Throttle admits at most one event per interval. It is used to keep periodic log lines from
// flooding the output when they are produced on every tick.
type Throttle struct {
	mu       sync.Mutex
	clk      clock.Clock
	interval time.Duration
	last     time.Time
	admitted bool
}

// NewThrottle returns a Throttle measuring time with `clk`.
func NewThrottle(clk clock.Clock, interval time.Duration) *Throttle {
	return &Throttle{clk: clk, interval: interval}
}

// Allow reports whether an event may happen now, and if so records it.
func (t *Throttle) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clk.Now()
	if t.admitted && now.Sub(t.last) < t.interval {
		return false
	}
	t.admitted = true
	t.last = now
	return true
}

// Reset forgets the last admitted event.
func (t *Throttle) Reset() {
	t.mu.Lock()
	t.admitted = false
	t.mu.Unlock()
}
