package outbox

import (
	"sync"
	"time"
)

const (
	// BreakerThreshold is the number of consecutive failed drain passes
	// before the breaker opens.
	BreakerThreshold = 5
	// BreakerCoolDown is how long the breaker stays open.
	BreakerCoolDown = 30 * time.Second
)

// CircuitBreaker suppresses drain attempts after repeated failures,
// resuming with a single probe once the cool-down elapses. It does not
// cancel in-flight work; it only gates new passes.
type CircuitBreaker struct {
	mu        sync.Mutex
	threshold int
	coolDown  time.Duration
	failures  int
	openedAt  time.Time
	open      bool
	now       func() time.Time
}

// NewCircuitBreaker creates a breaker with the standard threshold and
// cool-down.
func NewCircuitBreaker() *CircuitBreaker {
	return &CircuitBreaker{
		threshold: BreakerThreshold,
		coolDown:  BreakerCoolDown,
		now:       time.Now,
	}
}

// NewCircuitBreakerWithClock is for tests that need a controlled clock.
func NewCircuitBreakerWithClock(threshold int, coolDown time.Duration, now func() time.Time) *CircuitBreaker {
	return &CircuitBreaker{threshold: threshold, coolDown: coolDown, now: now}
}

// Allow reports whether a drain pass may run. When an open breaker's
// cool-down has elapsed, the failure counter resets and exactly one probe
// pass is allowed through.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return true
	}
	if b.now().Sub(b.openedAt) < b.coolDown {
		return false
	}

	// Cool-down expired: close and probe once.
	b.open = false
	b.failures = 0
	return true
}

// RecordFailure counts a failed drain pass, opening the breaker at the
// threshold.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.failures >= b.threshold && !b.open {
		b.open = true
		b.openedAt = b.now()
	}
}

// RecordSuccess resets the consecutive-failure counter.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.open = false
}

// IsOpen reports whether the breaker is currently open.
func (b *CircuitBreaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open && b.now().Sub(b.openedAt) < b.coolDown
}

// Failures returns the consecutive-failure count.
func (b *CircuitBreaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
