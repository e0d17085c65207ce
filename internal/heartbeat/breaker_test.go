package heartbeat

import (
	"testing"
	"time"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreaker(3, 10*time.Minute)

	if b.State() != BreakerClosed || !b.Allow() {
		t.Fatalf("new breaker: state=%s allow=%v", b.State(), b.Allow())
	}

	b.RecordFailure()
	b.RecordFailure()
	if b.State() != BreakerClosed {
		t.Errorf("state after 2 failures = %s, want closed", b.State())
	}

	b.RecordFailure()
	if b.State() != BreakerOpen {
		t.Errorf("state after 3 failures = %s, want open", b.State())
	}
	if b.Allow() {
		t.Error("open breaker allowed execution")
	}
}

func TestBreakerHalfOpenAfterTimeout(t *testing.T) {
	b := NewBreaker(1, 10*time.Minute)

	clock := time.Now()
	b.now = func() time.Time { return clock }

	b.RecordFailure()
	if b.State() != BreakerOpen {
		t.Fatalf("state = %s, want open", b.State())
	}

	clock = clock.Add(9 * time.Minute)
	if b.State() != BreakerOpen {
		t.Errorf("state before timeout = %s, want open", b.State())
	}

	clock = clock.Add(2 * time.Minute)
	if b.State() != BreakerHalfOpen {
		t.Errorf("state after timeout = %s, want half_open", b.State())
	}
	if !b.Allow() {
		t.Error("half_open breaker refused a probe")
	}
}

func TestBreakerHalfOpenSuccessCloses(t *testing.T) {
	b := NewBreaker(1, time.Minute)
	clock := time.Now()
	b.now = func() time.Time { return clock }

	b.RecordFailure()
	clock = clock.Add(2 * time.Minute)
	if b.State() != BreakerHalfOpen {
		t.Fatalf("state = %s, want half_open", b.State())
	}

	b.RecordSuccess()
	if b.State() != BreakerClosed || b.Failures() != 0 {
		t.Errorf("state=%s failures=%d, want closed/0", b.State(), b.Failures())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	clock := time.Now()
	b.now = func() time.Time { return clock }

	b.RecordFailure()
	b.RecordFailure()
	b.RecordFailure()
	clock = clock.Add(2 * time.Minute)
	if b.State() != BreakerHalfOpen {
		t.Fatalf("state = %s, want half_open", b.State())
	}

	// One probe failure reopens regardless of the threshold.
	b.RecordFailure()
	if b.State() != BreakerOpen {
		t.Errorf("state = %s, want open after failed probe", b.State())
	}

	// The reopened window starts fresh.
	clock = clock.Add(30 * time.Second)
	if b.State() != BreakerOpen {
		t.Errorf("state = %s, want open inside the new window", b.State())
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != BreakerClosed {
		t.Errorf("state = %s, want closed (failures are consecutive)", b.State())
	}
	if b.Failures() != 2 {
		t.Errorf("failures = %d, want 2", b.Failures())
	}
}
