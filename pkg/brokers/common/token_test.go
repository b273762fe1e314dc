package common

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTokenValidityMargin(t *testing.T) {
	base := time.Now()
	g := NewTokenGuard("test")
	g.SetToken("tok", base.Add(8*time.Hour))

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"fresh", base, true},
		{"just inside margin", base.Add(8*time.Hour - 61*time.Second), true},
		{"at margin boundary", base.Add(8*time.Hour - 60*time.Second), false},
		{"past expiry", base.Add(9 * time.Hour), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g.now = func() time.Time { return tt.at }
			if got := g.Valid(); got != tt.want {
				t.Fatalf("Valid()=%v at %s, want %v", got, tt.at.Sub(base), tt.want)
			}
		})
	}
}

func TestEnsureSingleLogin(t *testing.T) {
	g := NewTokenGuard("test")
	var logins int64

	login := func(ctx context.Context) (string, time.Time, error) {
		atomic.AddInt64(&logins, 1)
		time.Sleep(10 * time.Millisecond) // widen the race window
		return "tok", time.Now().Add(time.Hour), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.Ensure(context.Background(), login); err != nil {
				t.Errorf("Ensure: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt64(&logins); n != 1 {
		t.Fatalf("login ran %d times for concurrent callers, want 1", n)
	}
}

func TestEnsureFailureDrivesBreaker(t *testing.T) {
	g := NewTokenGuard("test")
	failing := func(ctx context.Context) (string, time.Time, error) {
		return "", time.Time{}, errors.New("venue said no")
	}

	for i := 0; i < BrokerFailureThreshold; i++ {
		if err := g.Ensure(context.Background(), failing); !errors.Is(err, ErrLoginFailed) {
			t.Fatalf("attempt %d: err=%v, want ErrLoginFailed", i+1, err)
		}
	}

	// The breaker is now open: callers fail fast without a login attempt.
	err := g.Ensure(context.Background(), failing)
	if !errors.Is(err, ErrBrokerUnavailable) {
		t.Fatalf("err=%v after breaker opened, want ErrBrokerUnavailable", err)
	}
}
