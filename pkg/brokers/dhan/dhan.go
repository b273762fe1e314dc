// Package dhan implements the Dhan v2 adapter. Dhan issues long-lived
// static access tokens, so login is a profile probe that confirms the
// token still works rather than an interactive exchange.
package dhan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"chartvision/internal/breaker"
	"chartvision/pkg/brokers/common"
)

// Config holds credentials and an optional endpoint override for tests.
// APISecret carries the static access token; UserID is the client id.
type Config struct {
	Credentials common.Credentials
	BaseURL     string
}

type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	guard      *common.TokenGuard
}

func New(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.dhan.co/v2"
	}
	return &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: common.NewHTTPClient(),
		guard:      common.NewTokenGuard("dhan"),
	}
}

func (c *Client) Login(ctx context.Context) error {
	return c.guard.Ensure(ctx, c.probeToken)
}

// probeToken validates the static token against /profile. A token that
// answers is assumed good for the trading day.
func (c *Client) probeToken(ctx context.Context) (string, time.Time, error) {
	token := c.cfg.Credentials.APISecret
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/profile", nil)
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("access-token", token)
	req.Header.Set("client-id", c.cfg.Credentials.UserID)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, err
	}
	env := common.Decode(resp, "dhan-profile")
	if env.Err || env.Status != http.StatusOK {
		return "", time.Time{}, fmt.Errorf("token rejected (status %d)", env.Status)
	}
	log.Println("✅ Dhan token OK")
	return token, time.Now().Add(24 * time.Hour), nil
}

func (c *Client) headers() map[string]string {
	return map[string]string{
		"access-token": c.guard.Token(),
		"client-id":    c.cfg.Credentials.UserID,
		"Content-Type": "application/json",
	}
}

func (c *Client) TokenValid() bool          { return c.guard.Valid() }
func (c *Client) Breaker() *breaker.Breaker { return c.guard.Breaker() }

func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if err := c.Login(ctx); err != nil {
		return common.OrderResult{}, err
	}

	segment := "NSE_EQ"
	if req.Exchange == "NFO" {
		segment = "NSE_FNO"
	}
	payload := map[string]any{
		"dhanClientId":    c.cfg.Credentials.UserID,
		"transactionType": string(req.Side),
		"exchangeSegment": segment,
		"productType":     req.Product,
		"orderType":       dhanOrderType(req.Type),
		"validity":        "DAY",
		"tradingSymbol":   req.Symbol,
		"securityId":      "",
		"quantity":        req.Quantity,
	}
	if req.Type != common.OrderTypeMarket && req.Price > 0 {
		payload["price"] = req.Price
	}
	if req.TriggerPrice > 0 {
		payload["triggerPrice"] = req.TriggerPrice
	}

	env, err := c.postJSON(ctx, c.baseURL+"/orders", payload, "dhan-order")
	if err != nil {
		return common.ErrorResult("order request failed: %v", err), nil
	}
	return normalize(env), nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) (common.OrderResult, error) {
	if err := c.Login(ctx); err != nil {
		return common.OrderResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/orders/"+orderID, nil)
	if err != nil {
		return common.ErrorResult("cancel request failed: %v", err), nil
	}
	for k, v := range c.headers() {
		req.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return common.ErrorResult("cancel request failed: %v", err), nil
	}
	return normalize(common.Decode(resp, "dhan-cancel")), nil
}

func (c *Client) Positions(ctx context.Context) ([]common.Position, error) {
	if err := c.Login(ctx); err != nil {
		return nil, err
	}
	env, err := c.get(ctx, c.baseURL+"/positions", "dhan-pos")
	if err != nil || env.Err {
		return []common.Position{}, nil
	}
	raw := common.Maps(env.Body, "data")
	out := make([]common.Position, 0, len(raw))
	for _, p := range raw {
		qty := common.Num(p, "netQty")
		side := "LONG"
		if qty < 0 {
			side = "SHORT"
		}
		out = append(out, common.Position{
			Symbol:       common.Str(p, "tradingSymbol"),
			Exchange:     common.Str(p, "exchangeSegment"),
			Quantity:     qty,
			AveragePrice: common.Num(p, "buyAvg"),
			PnL:          common.Num(p, "realizedProfit") + common.Num(p, "unrealizedProfit"),
			Side:         side,
		})
	}
	return out, nil
}

func (c *Client) Holdings(ctx context.Context) ([]map[string]any, error) {
	if err := c.Login(ctx); err != nil {
		return nil, err
	}
	env, err := c.get(ctx, c.baseURL+"/holdings", "dhan-holdings")
	if err != nil || env.Err {
		return []map[string]any{}, nil
	}
	return common.Maps(env.Body, "data"), nil
}

func (c *Client) Margins(ctx context.Context) (map[string]any, error) {
	if err := c.Login(ctx); err != nil {
		return nil, err
	}
	env, err := c.get(ctx, c.baseURL+"/fundlimit", "dhan-margins")
	if err != nil || env.Err {
		return map[string]any{}, nil
	}
	return env.Body, nil
}

func (c *Client) OrderBook(ctx context.Context) ([]map[string]any, error) {
	if err := c.Login(ctx); err != nil {
		return nil, err
	}
	env, err := c.get(ctx, c.baseURL+"/orders", "dhan-orders")
	if err != nil || env.Err {
		return []map[string]any{}, nil
	}
	return common.Maps(env.Body, "data"), nil
}

func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload any, label string) (common.Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return common.Envelope{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return common.Envelope{}, err
	}
	for k, v := range c.headers() {
		req.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return common.Envelope{}, err
	}
	return common.Decode(resp, label), nil
}

func (c *Client) get(ctx context.Context, endpoint, label string) (common.Envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return common.Envelope{}, err
	}
	for k, v := range c.headers() {
		req.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return common.Envelope{}, err
	}
	return common.Decode(resp, label), nil
}

func normalize(env common.Envelope) common.OrderResult {
	if env.Err {
		return common.ErrorResult("upstream error (status %d): %s", env.Status, env.Message)
	}
	res := common.OrderResult{Status: "error"}
	if id := common.Str(env.Body, "orderId"); id != "" {
		res.Status = "success"
		res.OrderID = id
	}
	if msg := common.Str(env.Body, "errorMessage"); msg != "" {
		res.Message = msg
	} else if st := common.Str(env.Body, "orderStatus"); st != "" {
		res.Message = st
	}
	return res
}

func dhanOrderType(t common.OrderType) string {
	switch t {
	case common.OrderTypeStop:
		return "STOP_LOSS"
	case common.OrderTypeStopMarket:
		return "STOP_LOSS_MARKET"
	default:
		return string(t)
	}
}
