package outbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock lets tests move time forward deterministically.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker() (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
	return NewCircuitBreakerWithClock(BreakerThreshold, BreakerCoolDown, clock.Now), clock
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker()

	for i := 0; i < BreakerThreshold-1; i++ {
		b.RecordFailure()
		assert.True(t, b.Allow(), "below threshold the breaker stays closed")
	}

	b.RecordFailure()
	assert.True(t, b.IsOpen())
	assert.False(t, b.Allow(), "open breaker suppresses passes")
}

func TestBreakerSuccessResetsCounter(t *testing.T) {
	b, _ := newTestBreaker()

	for i := 0; i < BreakerThreshold-1; i++ {
		b.RecordFailure()
	}
	b.RecordSuccess()
	assert.Zero(t, b.Failures())

	// Failures after a success start counting from zero again.
	for i := 0; i < BreakerThreshold-1; i++ {
		b.RecordFailure()
	}
	assert.False(t, b.IsOpen())
}

func TestBreakerCoolDownAllowsSingleProbe(t *testing.T) {
	b, clock := newTestBreaker()

	for i := 0; i < BreakerThreshold; i++ {
		b.RecordFailure()
	}
	assert.False(t, b.Allow())

	clock.Advance(BreakerCoolDown - time.Second)
	assert.False(t, b.Allow(), "still inside the cool-down")

	clock.Advance(2 * time.Second)
	assert.True(t, b.Allow(), "cool-down elapsed: probe allowed")
	assert.False(t, b.IsOpen(), "probe closes the breaker")
	assert.Zero(t, b.Failures(), "probe starts with a clean failure count")
}

func TestBreakerReopensAfterFailedProbes(t *testing.T) {
	b, clock := newTestBreaker()

	for i := 0; i < BreakerThreshold; i++ {
		b.RecordFailure()
	}
	clock.Advance(BreakerCoolDown + time.Second)
	assert.True(t, b.Allow())

	// The service is still down: failures accumulate again and the
	// breaker re-opens at the threshold.
	for i := 0; i < BreakerThreshold; i++ {
		b.RecordFailure()
	}
	assert.False(t, b.Allow())
}
