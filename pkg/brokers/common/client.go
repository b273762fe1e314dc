// Package common defines the venue-neutral order/portfolio contract and
// the shared authentication machinery used by every broker adapter.
package common

import (
	"context"

	"chartvision/internal/breaker"
)

// Client abstracts one authenticated brokerage connection. Portfolio
// getters return venue payloads normalized as loosely-typed maps except
// for positions, which every adapter maps into Position records.
type Client interface {
	// Login runs the venue's login sequence and stores the session token.
	Login(ctx context.Context) error

	// TokenValid reports whether the stored token is still usable.
	TokenValid() bool

	// PlaceOrder translates the request into venue wire format. Upstream
	// failures come back as an error-marker OrderResult; only
	// authentication failures surface as Go errors.
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) (OrderResult, error)

	Positions(ctx context.Context) ([]Position, error)
	Holdings(ctx context.Context) ([]map[string]any, error)
	Margins(ctx context.Context) (map[string]any, error)
	OrderBook(ctx context.Context) ([]map[string]any, error)

	// Breaker exposes the adapter's circuit state for health reporting.
	Breaker() *breaker.Breaker

	// Close releases the underlying HTTP resources.
	Close() error
}

// Logouter is implemented by adapters whose venue has an explicit logout
// call; the session manager invokes it best-effort on disconnect.
type Logouter interface {
	Logout(ctx context.Context) error
}
