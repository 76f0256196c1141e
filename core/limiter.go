package core

import (
	"fmt"
	"sync"
)

// Limiter counts units of work (steps, appended messages, model calls) and
// reports when a configured ceiling is crossed.
type Limiter struct {
	name  string
	max   int
	count int
	mu    sync.Mutex
}

// NewLimiter creates a limiter for the named resource. If max == 0 the
// limiter never trips.
func NewLimiter(name string, max int) *Limiter {
	return &Limiter{name: name, max: max}
}

// Add increases the counter by n and returns ErrLoopLimitExceeded once the
// ceiling is exceeded. The counter keeps growing after the limit trips.
func (l *Limiter) Add(n int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.count += n
	if l.max > 0 && l.count > l.max {
		return fmt.Errorf("%w: %d %s (max %d)", ErrLoopLimitExceeded, l.count, l.name, l.max)
	}

	return nil
}

// Increment is Add(1).
func (l *Limiter) Increment() error { return l.Add(1) }

// Count returns the current counter value.
func (l *Limiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.count
}

// Remaining returns how many units are left before hitting the limit.
func (l *Limiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.max == 0 {
		return -1 // unlimited
	}

	if l.count >= l.max {
		return 0
	}

	return l.max - l.count
}
