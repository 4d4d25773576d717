package hub

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Limiter bounds how many messages a single connection may submit inside a
// rolling window. The window only resets when it is first evaluated after the
// prior window elapsed, not on a wall-clock boundary.
type Limiter struct {
	mu          sync.Mutex
	clk         clock.Clock
	window      time.Duration
	max         int
	count       int
	windowStart time.Time
}

func NewLimiter(clk clock.Clock, window time.Duration, max int) *Limiter {
	return &Limiter{clk: clk, window: window, max: max}
}

// Admit reports whether one more message is allowed. On allow the counter is
// incremented; on deny nothing changes and the caller drops the message.
func (l *Limiter) Admit() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clk.Now()
	if l.windowStart.IsZero() || now.Sub(l.windowStart) >= l.window {
		l.count = 0
		l.windowStart = now
	}

	if l.count >= l.max {
		return false
	}
	l.count++
	return true
}

// Stats returns the current count and window start for monitoring.
func (l *Limiter) Stats() (int, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count, l.windowStart
}
