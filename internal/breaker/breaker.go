// Package breaker implements a per-endpoint circuit breaker used to stop
// calling a failing remote dependency until it has had time to recover.
package breaker

import (
	"log"
	"sync"
	"time"
)

// State describes the breaker's position in its lifecycle.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Status is a snapshot exposed on health endpoints.
type Status struct {
	State     State `json:"state"`
	Failures  int   `json:"failures"`
	Threshold int   `json:"threshold"`
}

// Breaker trips OPEN after a run of consecutive failures and allows a
// single trial call once the timeout has elapsed.
type Breaker struct {
	mu        sync.Mutex
	name      string
	threshold int
	timeout   time.Duration
	failures  int
	lastFail  time.Time
	state     State

	now func() time.Time
}

// New creates a breaker in the CLOSED state. The name is only used in logs.
func New(name string, threshold int, timeout time.Duration) *Breaker {
	return &Breaker{
		name:      name,
		threshold: threshold,
		timeout:   timeout,
		state:     StateClosed,
		now:       time.Now,
	}
}

// CanProceed reports whether an outbound call is allowed right now.
// Crossing the timeout while OPEN moves the breaker to HALF_OPEN and
// admits exactly one trial call.
func (b *Breaker) CanProceed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.lastFail) > b.timeout {
			b.state = StateHalfOpen
			log.Printf("[breaker] %s -> HALF_OPEN", b.name)
			return true
		}
		return false
	default: // HALF_OPEN
		return true
	}
}

// RecordSuccess resets the failure count and closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state != StateClosed {
		log.Printf("[breaker] %s -> CLOSED", b.name)
	}
	b.state = StateClosed
}

// RecordFailure bumps the failure count; at the threshold the breaker
// opens. A failure while HALF_OPEN re-opens immediately because the
// counter never reset.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFail = b.now()
	if b.failures >= b.threshold {
		if b.state != StateOpen {
			log.Printf("[breaker] %s -> OPEN (%d failures)", b.name, b.failures)
		}
		b.state = StateOpen
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Status returns a snapshot for health reporting.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{State: b.state, Failures: b.failures, Threshold: b.threshold}
}
