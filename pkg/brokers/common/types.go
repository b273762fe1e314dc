package common

import (
	"errors"
	"fmt"
	"strings"
)

// BrokerType identifies a supported brokerage.
type BrokerType string

const (
	BrokerIIFLBlaze BrokerType = "iifl_blaze"
	BrokerZerodha   BrokerType = "zerodha"
	BrokerUpstox    BrokerType = "upstox"
	BrokerFyers     BrokerType = "fyers"
	BrokerDhan      BrokerType = "dhan"
)

// All lists every supported brokerage identifier.
func All() []BrokerType {
	return []BrokerType{BrokerIIFLBlaze, BrokerZerodha, BrokerUpstox, BrokerFyers, BrokerDhan}
}

// Credentials holds everything needed to log in to one brokerage.
// Immutable once handed to an adapter.
type Credentials struct {
	Broker     BrokerType `json:"broker" binding:"required"`
	APIKey     string     `json:"api_key" binding:"required"`
	APISecret  string     `json:"api_secret" binding:"required"`
	UserID     string     `json:"user_id,omitempty"`
	Password   string     `json:"password,omitempty"`
	TOTPSecret string     `json:"totp_secret,omitempty"`
	PIN        string     `json:"pin,omitempty"`

	// Secondary key pair for venues with a separate market-data login.
	MarketAPIKey    string `json:"market_api_key,omitempty"`
	MarketSecretKey string `json:"market_secret_key,omitempty"`

	Source string `json:"source,omitempty"`
}

// Validate rejects credentials with blank key material.
func (c *Credentials) Validate() error {
	c.APIKey = strings.TrimSpace(c.APIKey)
	c.APISecret = strings.TrimSpace(c.APISecret)
	if c.APIKey == "" || c.APISecret == "" {
		return errors.New("api_key and api_secret cannot be empty")
	}
	if c.Source == "" {
		c.Source = "WEBAPI"
	}
	return nil
}

// Side denotes order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType denotes the uniform order kinds; each adapter maps these to
// its venue's own codes.
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStop       OrderType = "STOP"
	OrderTypeStopMarket OrderType = "STOP_MARKET"
)

// MaxOrderQty caps a single order's quantity.
const MaxOrderQty = 50000

// OrderRequest captures an order intent in venue-neutral terms.
type OrderRequest struct {
	Symbol       string    `json:"symbol" binding:"required"`
	Exchange     string    `json:"exchange"`
	Side         Side      `json:"transaction_type" binding:"required"`
	Type         OrderType `json:"order_type" binding:"required"`
	Quantity     int       `json:"quantity" binding:"required"`
	Price        float64   `json:"price,omitempty"`
	TriggerPrice float64   `json:"trigger_price,omitempty"`
	Product      string    `json:"product,omitempty"`
}

// Validate normalizes and checks the request; invalid requests never
// reach an adapter.
func (r *OrderRequest) Validate() error {
	r.Symbol = strings.ToUpper(strings.TrimSpace(r.Symbol))
	if r.Symbol == "" {
		return errors.New("symbol cannot be empty")
	}
	if r.Exchange == "" {
		r.Exchange = "NSE"
	}
	if r.Product == "" {
		r.Product = "MIS"
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return fmt.Errorf("invalid transaction_type: %s", r.Side)
	}
	switch r.Type {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStop, OrderTypeStopMarket:
	default:
		return fmt.Errorf("invalid order_type: %s", r.Type)
	}
	if r.Quantity <= 0 {
		return errors.New("quantity must be positive")
	}
	if r.Quantity > MaxOrderQty {
		return fmt.Errorf("quantity exceeds %d limit", MaxOrderQty)
	}
	if r.Price < 0 || r.TriggerPrice < 0 {
		return errors.New("price cannot be negative")
	}
	return nil
}

// OrderResult is the uniform outcome of an adapter operation. Upstream
// transport or parse failures are carried here as Status "error" rather
// than as Go errors, so one malformed venue response never aborts a
// request.
type OrderResult struct {
	Status  string         `json:"status"` // "success" or "error"
	OrderID string         `json:"order_id,omitempty"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Success reports whether the venue accepted the operation.
func (r OrderResult) Success() bool { return r.Status == "success" }

// ErrorResult builds an error-marker result.
func ErrorResult(format string, args ...any) OrderResult {
	return OrderResult{Status: "error", Message: fmt.Sprintf(format, args...)}
}

// Position is a normalized open position as reported by a venue.
type Position struct {
	Symbol       string  `json:"symbol"`
	Exchange     string  `json:"exchange,omitempty"`
	Quantity     float64 `json:"quantity"`
	AveragePrice float64 `json:"average_price"`
	PnL          float64 `json:"pnl"`
	Side         string  `json:"side"`
}
