// Package upstox implements the Upstox v2 adapter. Login is a plain
// authorization-code exchange for a bearer token; the code travels in
// the credentials' password slot.
package upstox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chartvision/internal/breaker"
	"chartvision/pkg/brokers/common"
)

// Config holds credentials and an optional endpoint override for tests.
type Config struct {
	Credentials common.Credentials
	BaseURL     string
}

// Client is an authenticated Upstox session.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	guard      *common.TokenGuard
}

func New(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.upstox.com/v2"
	}
	return &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: common.NewHTTPClient(),
		guard:      common.NewTokenGuard("upstox"),
	}
}

func (c *Client) Login(ctx context.Context) error {
	return c.guard.Ensure(ctx, c.autoLogin)
}

func (c *Client) autoLogin(ctx context.Context) (string, time.Time, error) {
	creds := c.cfg.Credentials
	if creds.Password == "" {
		return "", time.Time{}, errors.New("authorization code required")
	}

	form := url.Values{
		"code":          {creds.Password},
		"client_id":     {creds.APIKey},
		"client_secret": {creds.APISecret},
		"redirect_uri":  {"http://localhost:8000/callback"},
		"grant_type":    {"authorization_code"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/login/authorization/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, err
	}
	env := common.Decode(resp, "upstox-login")
	if env.Err || env.Status != http.StatusOK {
		return "", time.Time{}, fmt.Errorf("token exchange failed (status %d)", env.Status)
	}
	token := common.Str(env.Body, "access_token")
	if token == "" {
		return "", time.Time{}, errors.New("no access_token in response")
	}
	log.Println("✅ Upstox login OK")
	return token, time.Now().Add(8 * time.Hour), nil
}

func (c *Client) headers() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + c.guard.Token(),
		"Content-Type":  "application/json",
	}
}

func (c *Client) TokenValid() bool          { return c.guard.Valid() }
func (c *Client) Breaker() *breaker.Breaker { return c.guard.Breaker() }

func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if err := c.Login(ctx); err != nil {
		return common.OrderResult{}, err
	}

	instrument := "NSE_EQ|" + req.Symbol
	if req.Exchange == "NFO" {
		instrument = "NSE_FO|" + req.Symbol
	}
	payload := map[string]any{
		"instrument_token":   instrument,
		"order_type":         upstoxOrderType(req.Type),
		"transaction_type":   string(req.Side),
		"quantity":           req.Quantity,
		"product":            req.Product,
		"validity":           "DAY",
		"disclosed_quantity": 0,
		"is_amo":             false,
	}
	if req.Type != common.OrderTypeMarket && req.Price > 0 {
		payload["price"] = req.Price
	}
	if req.TriggerPrice > 0 {
		payload["trigger_price"] = req.TriggerPrice
	}

	env, err := c.postJSON(ctx, c.baseURL+"/order/place", payload, "upstox-order")
	if err != nil {
		return common.ErrorResult("order request failed: %v", err), nil
	}
	return normalize(env), nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) (common.OrderResult, error) {
	if err := c.Login(ctx); err != nil {
		return common.OrderResult{}, err
	}
	env, err := c.do(ctx, http.MethodDelete, c.baseURL+"/order/cancel?order_id="+url.QueryEscape(orderID), "upstox-cancel")
	if err != nil {
		return common.ErrorResult("cancel request failed: %v", err), nil
	}
	return normalize(env), nil
}

func (c *Client) Positions(ctx context.Context) ([]common.Position, error) {
	if err := c.Login(ctx); err != nil {
		return nil, err
	}
	env, err := c.do(ctx, http.MethodGet, c.baseURL+"/portfolio/short-term-positions", "upstox-pos")
	if err != nil || env.Err {
		return []common.Position{}, nil
	}
	raw := common.Maps(env.Body, "data")
	out := make([]common.Position, 0, len(raw))
	for _, p := range raw {
		qty := common.Num(p, "quantity")
		side := "LONG"
		if qty < 0 {
			side = "SHORT"
		}
		out = append(out, common.Position{
			Symbol:       common.Str(p, "trading_symbol"),
			Exchange:     common.Str(p, "exchange"),
			Quantity:     qty,
			AveragePrice: common.Num(p, "average_price"),
			PnL:          common.Num(p, "pnl"),
			Side:         side,
		})
	}
	return out, nil
}

func (c *Client) Holdings(ctx context.Context) ([]map[string]any, error) {
	if err := c.Login(ctx); err != nil {
		return nil, err
	}
	env, err := c.do(ctx, http.MethodGet, c.baseURL+"/portfolio/long-term-holdings", "upstox-holdings")
	if err != nil || env.Err {
		return []map[string]any{}, nil
	}
	return common.Maps(env.Body, "data"), nil
}

func (c *Client) Margins(ctx context.Context) (map[string]any, error) {
	if err := c.Login(ctx); err != nil {
		return nil, err
	}
	env, err := c.do(ctx, http.MethodGet, c.baseURL+"/user/get-funds-and-margin", "upstox-margins")
	if err != nil || env.Err {
		return map[string]any{}, nil
	}
	return common.Map(env.Body, "data"), nil
}

func (c *Client) OrderBook(ctx context.Context) ([]map[string]any, error) {
	if err := c.Login(ctx); err != nil {
		return nil, err
	}
	env, err := c.do(ctx, http.MethodGet, c.baseURL+"/order/retrieve-all", "upstox-orders")
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

func (c *Client) do(ctx context.Context, method, endpoint, label string) (common.Envelope, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
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
	res := common.OrderResult{
		Status:  common.Str(env.Body, "status"),
		OrderID: common.Str(env.Body, "data", "order_id"),
		Data:    common.Map(env.Body, "data"),
	}
	if res.Status == "" {
		res.Status = "error"
		res.Message = common.Str(env.Body, "message")
	}
	return res
}

func upstoxOrderType(t common.OrderType) string {
	switch t {
	case common.OrderTypeStop:
		return "SL"
	case common.OrderTypeStopMarket:
		return "SL-M"
	default:
		return string(t)
	}
}
