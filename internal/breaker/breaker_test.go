package breaker

import (
	"testing"
	"time"
)

func TestOpensAtThreshold(t *testing.T) {
	b := New("test", 3, time.Minute)

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		if !b.CanProceed() {
			t.Fatalf("breaker blocked after %d failures, threshold is 3", i+1)
		}
	}

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("state=%s after threshold failures, want OPEN", b.State())
	}
	if b.CanProceed() {
		t.Fatal("CanProceed=true while OPEN and timeout not elapsed")
	}
}

func TestHalfOpenAfterTimeout(t *testing.T) {
	base := time.Now()
	b := New("test", 2, 30*time.Second)
	b.now = func() time.Time { return base }

	b.RecordFailure()
	b.RecordFailure()
	if b.CanProceed() {
		t.Fatal("expected OPEN to block")
	}

	// Past the timeout the trial call is admitted and the state moves on.
	b.now = func() time.Time { return base.Add(31 * time.Second) }
	if !b.CanProceed() {
		t.Fatal("expected trial call after timeout")
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("state=%s, want HALF_OPEN", b.State())
	}

	// A failure in HALF_OPEN re-opens immediately.
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("state=%s after half-open failure, want OPEN", b.State())
	}
}

func TestSuccessResetsFromAnyState(t *testing.T) {
	b := New("test", 2, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()

	st := b.Status()
	if st.State != StateClosed || st.Failures != 0 {
		t.Fatalf("status=%+v after success, want CLOSED with zero failures", st)
	}
	if !b.CanProceed() {
		t.Fatal("expected CLOSED breaker to allow calls")
	}
}
