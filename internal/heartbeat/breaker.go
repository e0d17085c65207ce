package heartbeat

import (
	"sync"
	"time"
)

// Circuit breaker states.
const (
	BreakerClosed   = "closed"
	BreakerOpen     = "open"
	BreakerHalfOpen = "half_open"
)

// Breaker is the per-bot circuit breaker gating heartbeat execution.
//
// Transitions: closed → open at failure_count ≥ threshold; open →
// half_open once timeout elapses since opened_at; half_open → closed
// on one success, half_open → open on one failure.
type Breaker struct {
	mu        sync.Mutex
	state     string
	failures  int
	openedAt  time.Time
	threshold int
	timeout   time.Duration
	now       func() time.Time
}

func NewBreaker(threshold int, timeout time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 3
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Breaker{
		state:     BreakerClosed,
		threshold: threshold,
		timeout:   timeout,
		now:       time.Now,
	}
}

// State returns the current state, applying the open → half_open
// timeout transition.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() string {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.timeout {
		b.state = BreakerHalfOpen
	}
	return b.state
}

// Allow reports whether execution may proceed.
func (b *Breaker) Allow() bool {
	return b.State() != BreakerOpen
}

// RecordSuccess resets failures; half_open closes.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = BreakerClosed
}

// RecordFailure counts a failure and opens the breaker at the
// threshold; a half_open failure reopens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stateLocked() == BreakerHalfOpen {
		b.state = BreakerOpen
		b.openedAt = b.now()
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.state = BreakerOpen
		b.openedAt = b.now()
	}
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
