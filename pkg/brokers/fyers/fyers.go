// Package fyers implements the FYERS v3 adapter. Login requests an OTP
// challenge for the FY-ID and answers it with a TOTP-derived code.
package fyers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"chartvision/internal/breaker"
	"chartvision/pkg/brokers/common"
)

// Config holds credentials and optional endpoint overrides for tests.
type Config struct {
	Credentials common.Credentials
	BaseURL     string
	AuthURL     string
}

// Client is an authenticated FYERS session.
type Client struct {
	cfg        Config
	baseURL    string
	authURL    string
	httpClient *http.Client
	guard      *common.TokenGuard
}

func New(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api-t1.fyers.in/api/v3"
	}
	auth := cfg.AuthURL
	if auth == "" {
		auth = "https://api-t2.fyers.in/vagator/v2"
	}
	return &Client{
		cfg:        cfg,
		baseURL:    base,
		authURL:    auth,
		httpClient: common.NewHTTPClient(),
		guard:      common.NewTokenGuard("fyers"),
	}
}

func (c *Client) Login(ctx context.Context) error {
	return c.guard.Ensure(ctx, c.autoLogin)
}

func (c *Client) autoLogin(ctx context.Context) (string, time.Time, error) {
	creds := c.cfg.Credentials
	if creds.UserID == "" {
		return "", time.Time{}, errors.New("FY-ID required")
	}
	code, err := common.GenerateTOTP(creds.TOTPSecret)
	if err != nil {
		return "", time.Time{}, err
	}

	env, err := c.postJSON(ctx, c.authURL+"/send_login_otp_v2", map[string]any{
		"fy_id": creds.UserID, "app_id": "2",
	}, "fyers-otp")
	if err != nil || env.Err {
		return "", time.Time{}, fmt.Errorf("otp request failed (status %d)", env.Status)
	}
	requestKey := common.Str(env.Body, "request_key")
	if requestKey == "" {
		return "", time.Time{}, errors.New("no request_key in otp response")
	}

	env, err = c.postJSON(ctx, c.authURL+"/verify_otp", map[string]any{
		"request_key": requestKey, "otp": code,
	}, "fyers-verify")
	if err != nil || env.Err || env.Status != http.StatusOK {
		return "", time.Time{}, fmt.Errorf("otp verification failed (status %d)", env.Status)
	}
	token := common.Str(env.Body, "access_token")
	if token == "" {
		return "", time.Time{}, errors.New("no access_token in verify response")
	}
	log.Println("✅ FYERS login OK")
	return token, time.Now().Add(8 * time.Hour), nil
}

func (c *Client) headers() map[string]string {
	return map[string]string{
		"Authorization": c.cfg.Credentials.APIKey + ":" + c.guard.Token(),
		"Content-Type":  "application/json",
	}
}

func (c *Client) TokenValid() bool          { return c.guard.Valid() }
func (c *Client) Breaker() *breaker.Breaker { return c.guard.Breaker() }

func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if err := c.Login(ctx); err != nil {
		return common.OrderResult{}, err
	}

	side := 1
	if req.Side == common.SideSell {
		side = -1
	}
	payload := map[string]any{
		"symbol":       fyersSymbol(req),
		"qty":          req.Quantity,
		"type":         fyersOrderType(req.Type),
		"side":         side,
		"productType":  req.Product,
		"validity":     "DAY",
		"disclosedQty": 0,
		"offlineOrder": false,
	}
	if req.Type != common.OrderTypeMarket && req.Price > 0 {
		payload["limitPrice"] = req.Price
	}
	if req.TriggerPrice > 0 {
		payload["stopPrice"] = req.TriggerPrice
	}

	env, err := c.postJSON(ctx, c.baseURL+"/orders", payload, "fyers-order")
	if err != nil {
		return common.ErrorResult("order request failed: %v", err), nil
	}
	return normalize(env), nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) (common.OrderResult, error) {
	if err := c.Login(ctx); err != nil {
		return common.OrderResult{}, err
	}
	body, _ := json.Marshal(map[string]any{"id": orderID})
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/orders", bytes.NewReader(body))
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
	return normalize(common.Decode(resp, "fyers-cancel")), nil
}

func (c *Client) Positions(ctx context.Context) ([]common.Position, error) {
	if err := c.Login(ctx); err != nil {
		return nil, err
	}
	env, err := c.get(ctx, c.baseURL+"/positions", "fyers-pos")
	if err != nil || env.Err {
		return []common.Position{}, nil
	}
	raw := common.Maps(env.Body, "netPositions")
	out := make([]common.Position, 0, len(raw))
	for _, p := range raw {
		qty := common.Num(p, "netQty")
		side := "LONG"
		if qty < 0 {
			side = "SHORT"
		}
		out = append(out, common.Position{
			Symbol:       common.Str(p, "symbol"),
			Quantity:     qty,
			AveragePrice: common.Num(p, "netAvg"),
			PnL:          common.Num(p, "pl"),
			Side:         side,
		})
	}
	return out, nil
}

func (c *Client) Holdings(ctx context.Context) ([]map[string]any, error) {
	if err := c.Login(ctx); err != nil {
		return nil, err
	}
	env, err := c.get(ctx, c.baseURL+"/holdings", "fyers-holdings")
	if err != nil || env.Err {
		return []map[string]any{}, nil
	}
	return common.Maps(env.Body, "holdings"), nil
}

func (c *Client) Margins(ctx context.Context) (map[string]any, error) {
	if err := c.Login(ctx); err != nil {
		return nil, err
	}
	env, err := c.get(ctx, c.baseURL+"/funds", "fyers-margins")
	if err != nil || env.Err {
		return map[string]any{}, nil
	}
	return env.Body, nil
}

func (c *Client) OrderBook(ctx context.Context) ([]map[string]any, error) {
	if err := c.Login(ctx); err != nil {
		return nil, err
	}
	env, err := c.get(ctx, c.baseURL+"/orders", "fyers-orders")
	if err != nil || env.Err {
		return []map[string]any{}, nil
	}
	return common.Maps(env.Body, "orderBook"), nil
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
	req.Header.Set("Content-Type", "application/json")
	if c.guard.Token() != "" {
		req.Header.Set("Authorization", c.cfg.Credentials.APIKey+":"+c.guard.Token())
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
	res := common.OrderResult{Message: common.Str(env.Body, "message")}
	if common.Str(env.Body, "s") == "ok" {
		res.Status = "success"
	} else {
		res.Status = "error"
	}
	if id := common.Str(env.Body, "id"); id != "" {
		res.OrderID = id
	}
	return res
}

// fyersSymbol renders "EXCHANGE:SYMBOL", appending the equity series
// suffix for plain stocks.
func fyersSymbol(req common.OrderRequest) string {
	if strings.Contains(req.Symbol, "NIFTY") || strings.Contains(req.Symbol, "BANK") {
		return req.Exchange + ":" + req.Symbol
	}
	return req.Exchange + ":" + req.Symbol + "-EQ"
}

func fyersOrderType(t common.OrderType) int {
	switch t {
	case common.OrderTypeLimit:
		return 1
	case common.OrderTypeMarket:
		return 2
	case common.OrderTypeStop:
		return 3
	case common.OrderTypeStopMarket:
		return 4
	default:
		return 2
	}
}
