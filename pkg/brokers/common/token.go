package common

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chartvision/internal/breaker"
)

// Safety margin subtracted from the token expiry so in-flight requests
// and modest clock skew never hit the venue with a stale token.
const tokenExpiryMargin = 60 * time.Second

// Default breaker tuning for broker endpoints.
const (
	BrokerFailureThreshold = 5
	BrokerBreakerTimeout   = 60 * time.Second
)

var (
	// ErrBrokerUnavailable is returned when the circuit breaker denies a
	// login attempt.
	ErrBrokerUnavailable = errors.New("broker unavailable")

	// ErrLoginFailed is returned when the venue rejected the login
	// sequence.
	ErrLoginFailed = errors.New("broker login failed")
)

// LoginFunc runs a venue-specific login sequence and returns the fresh
// access token with its absolute expiry.
type LoginFunc func(ctx context.Context) (token string, expiry time.Time, err error)

// TokenGuard owns an adapter's access-token state and serializes login
// attempts: concurrent callers on the same adapter trigger at most one
// login. Token reads never wait behind an in-flight login.
type TokenGuard struct {
	state   sync.RWMutex // guards token/expiry
	loginMu sync.Mutex   // serializes login sequences
	token   string
	expiry  time.Time
	circuit *breaker.Breaker

	now func() time.Time
}

// NewTokenGuard creates a guard with its own circuit breaker.
func NewTokenGuard(name string) *TokenGuard {
	return &TokenGuard{
		circuit: breaker.New(name, BrokerFailureThreshold, BrokerBreakerTimeout),
		now:     time.Now,
	}
}

// Token returns the current access token ("" when unauthenticated).
func (g *TokenGuard) Token() string {
	g.state.RLock()
	defer g.state.RUnlock()
	return g.token
}

// SetToken stores a fresh token and its absolute expiry.
func (g *TokenGuard) SetToken(token string, expiry time.Time) {
	g.state.Lock()
	defer g.state.Unlock()
	g.token = token
	g.expiry = expiry
}

// Clear drops the stored token.
func (g *TokenGuard) Clear() {
	g.state.Lock()
	defer g.state.Unlock()
	g.token = ""
	g.expiry = time.Time{}
}

// Valid reports whether the token is usable: now < expiry - 60s.
func (g *TokenGuard) Valid() bool {
	g.state.RLock()
	defer g.state.RUnlock()
	if g.token == "" || g.expiry.IsZero() {
		return false
	}
	return g.now().Before(g.expiry.Add(-tokenExpiryMargin))
}

// Breaker exposes the guard's circuit breaker.
func (g *TokenGuard) Breaker() *breaker.Breaker { return g.circuit }

// Ensure makes sure a valid token is present, running login at most once
// across concurrent callers.
func (g *TokenGuard) Ensure(ctx context.Context, login LoginFunc) error {
	if g.Valid() {
		return nil
	}
	if !g.circuit.CanProceed() {
		return fmt.Errorf("%w (circuit %s)", ErrBrokerUnavailable, g.circuit.State())
	}

	g.loginMu.Lock()
	defer g.loginMu.Unlock()
	// Another caller may have logged in while we waited for the lock.
	if g.Valid() {
		return nil
	}

	token, expiry, err := login(ctx)
	if err != nil {
		g.circuit.RecordFailure()
		return fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	if token == "" {
		g.circuit.RecordFailure()
		return ErrLoginFailed
	}
	g.SetToken(token, expiry)
	g.circuit.RecordSuccess()
	return nil
}
