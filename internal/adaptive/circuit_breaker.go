package adaptive

import (
	"sync"
	"time"

	"github.com/coder/quartz"
)

// circuitBreaker is a hand-rolled three-state breaker (closed/open/half-open).
// No example repo in the pack imports a circuit-breaker library, so this is
// deliberately minimal rather than adopting one sight unseen; see DESIGN.md.
type circuitBreaker struct {
	mu           sync.Mutex
	maxFails     int
	resetAfter   time.Duration
	clock        quartz.Clock
	state        breakerState
	failures     int
	openedAt     time.Time
}

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

func newCircuitBreaker(maxFails int, resetAfter time.Duration, clock quartz.Clock) *circuitBreaker {
	return &circuitBreaker{
		maxFails:   maxFails,
		resetAfter: resetAfter,
		clock:      clock,
		state:      stateClosed,
	}
}

// Allow reports whether a call may proceed, transitioning open -> half-open
// once resetAfter has elapsed since the breaker tripped.
func (b *circuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateOpen:
		if b.clock.Since(b.openedAt) >= b.resetAfter {
			b.state = stateHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess closes the breaker and clears the failure count.
func (b *circuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = stateClosed
}

// RecordFailure counts a failure. A failure observed while half-open reopens
// the breaker immediately; maxFails consecutive failures while closed trips
// it open.
func (b *circuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateHalfOpen {
		b.trip()
		return
	}

	b.failures++
	if b.failures >= b.maxFails {
		b.trip()
	}
}

func (b *circuitBreaker) trip() {
	b.state = stateOpen
	b.openedAt = b.clock.Now()
	b.failures = 0
}
