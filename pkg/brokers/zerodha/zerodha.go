// Package zerodha implements the Kite Connect adapter. Login is a
// three-step sequence: password login yields a request id, a TOTP second
// factor confirms it, and a checksum exchange turns it into a session
// token.
package zerodha

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"chartvision/internal/breaker"
	"chartvision/pkg/brokers/common"
)

// Config holds credentials and optional endpoint overrides for tests.
type Config struct {
	Credentials common.Credentials
	BaseURL     string
	LoginURL    string
}

// Client is an authenticated Kite Connect session.
type Client struct {
	cfg        Config
	baseURL    string
	loginURL   string
	httpClient *http.Client
	guard      *common.TokenGuard
}

func New(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.kite.trade"
	}
	loginBase := cfg.LoginURL
	if loginBase == "" {
		loginBase = "https://kite.zerodha.com/api"
	}
	return &Client{
		cfg:        cfg,
		baseURL:    base,
		loginURL:   loginBase,
		httpClient: common.NewHTTPClient(),
		guard:      common.NewTokenGuard("zerodha"),
	}
}

func (c *Client) Login(ctx context.Context) error {
	return c.guard.Ensure(ctx, c.autoLogin)
}

func (c *Client) autoLogin(ctx context.Context) (string, time.Time, error) {
	creds := c.cfg.Credentials
	if creds.UserID == "" || creds.Password == "" {
		return "", time.Time{}, errors.New("user_id and password required")
	}

	env, err := c.postForm(ctx, c.loginURL+"/login", url.Values{
		"user_id":  {creds.UserID},
		"password": {creds.Password},
	}, nil, "zerodha-login")
	if err != nil || env.Err || env.Status != http.StatusOK {
		return "", time.Time{}, fmt.Errorf("password step failed (status %d)", env.Status)
	}
	requestID := common.Str(env.Body, "data", "request_id")
	if requestID == "" {
		return "", time.Time{}, errors.New("no request_id in login response")
	}

	code, err := common.GenerateTOTP(creds.TOTPSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	env, err = c.postForm(ctx, c.loginURL+"/twofa", url.Values{
		"user_id":     {creds.UserID},
		"request_id":  {requestID},
		"twofa_value": {code},
		"twofa_type":  {"totp"},
	}, nil, "zerodha-twofa")
	if err != nil || env.Err || env.Status != http.StatusOK {
		return "", time.Time{}, fmt.Errorf("twofa step failed (status %d)", env.Status)
	}

	sum := sha256.Sum256([]byte(creds.APIKey + requestID + creds.APISecret))
	env, err = c.postForm(ctx, c.baseURL+"/session/token", url.Values{
		"api_key":       {creds.APIKey},
		"request_token": {requestID},
		"checksum":      {hex.EncodeToString(sum[:])},
	}, nil, "zerodha-session")
	if err != nil || env.Err || env.Status != http.StatusOK {
		return "", time.Time{}, fmt.Errorf("session exchange failed (status %d)", env.Status)
	}
	token := common.Str(env.Body, "data", "access_token")
	if token == "" {
		return "", time.Time{}, errors.New("no access_token in session response")
	}
	log.Println("✅ Zerodha login OK")
	return token, time.Now().Add(8 * time.Hour), nil
}

func (c *Client) headers() map[string]string {
	return map[string]string{
		"Authorization": fmt.Sprintf("token %s:%s", c.cfg.Credentials.APIKey, c.guard.Token()),
		"Content-Type":  "application/x-www-form-urlencoded",
	}
}

func (c *Client) TokenValid() bool          { return c.guard.Valid() }
func (c *Client) Breaker() *breaker.Breaker { return c.guard.Breaker() }

func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if err := c.Login(ctx); err != nil {
		return common.OrderResult{}, err
	}

	form := url.Values{
		"tradingsymbol":    {req.Symbol},
		"exchange":         {req.Exchange},
		"transaction_type": {string(req.Side)},
		"order_type":       {kiteOrderType(req.Type)},
		"quantity":         {strconv.Itoa(req.Quantity)},
		"product":          {req.Product},
		"validity":         {"DAY"},
	}
	if req.Type != common.OrderTypeMarket && req.Price > 0 {
		form.Set("price", formatPrice(req.Price))
	}
	if req.TriggerPrice > 0 {
		form.Set("trigger_price", formatPrice(req.TriggerPrice))
	}

	env, err := c.postForm(ctx, c.baseURL+"/orders/regular", form, c.headers(), "zerodha-order")
	if err != nil {
		return common.ErrorResult("order request failed: %v", err), nil
	}
	return normalize(env), nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) (common.OrderResult, error) {
	if err := c.Login(ctx); err != nil {
		return common.OrderResult{}, err
	}
	env, err := c.do(ctx, http.MethodDelete, c.baseURL+"/orders/regular/"+orderID, c.headers(), "zerodha-cancel")
	if err != nil {
		return common.ErrorResult("cancel request failed: %v", err), nil
	}
	return normalize(env), nil
}

func (c *Client) Positions(ctx context.Context) ([]common.Position, error) {
	if err := c.Login(ctx); err != nil {
		return nil, err
	}
	env, err := c.do(ctx, http.MethodGet, c.baseURL+"/portfolio/positions", c.headers(), "zerodha-pos")
	if err != nil || env.Err {
		return []common.Position{}, nil
	}
	raw := common.Maps(env.Body, "data", "net")
	out := make([]common.Position, 0, len(raw))
	for _, p := range raw {
		qty := common.Num(p, "quantity")
		side := "LONG"
		if qty < 0 {
			side = "SHORT"
		}
		out = append(out, common.Position{
			Symbol:       common.Str(p, "tradingsymbol"),
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
	env, err := c.do(ctx, http.MethodGet, c.baseURL+"/portfolio/holdings", c.headers(), "zerodha-holdings")
	if err != nil || env.Err {
		return []map[string]any{}, nil
	}
	return common.Maps(env.Body, "data"), nil
}

func (c *Client) Margins(ctx context.Context) (map[string]any, error) {
	if err := c.Login(ctx); err != nil {
		return nil, err
	}
	env, err := c.do(ctx, http.MethodGet, c.baseURL+"/user/margins", c.headers(), "zerodha-margins")
	if err != nil || env.Err {
		return map[string]any{}, nil
	}
	return common.Map(env.Body, "data"), nil
}

func (c *Client) OrderBook(ctx context.Context) ([]map[string]any, error) {
	if err := c.Login(ctx); err != nil {
		return nil, err
	}
	env, err := c.do(ctx, http.MethodGet, c.baseURL+"/orders", c.headers(), "zerodha-orders")
	if err != nil || env.Err {
		return []map[string]any{}, nil
	}
	return common.Maps(env.Body, "data"), nil
}

func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// postForm sends a urlencoded form; a transport failure is reported as
// an error, everything else is defensively decoded.
func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values, headers map[string]string, label string) (common.Envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return common.Envelope{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return common.Envelope{}, err
	}
	return common.Decode(resp, label), nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, headers map[string]string, label string) (common.Envelope, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return common.Envelope{}, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return common.Envelope{}, err
	}
	return common.Decode(resp, label), nil
}

// normalize maps a Kite reply onto the uniform result shape.
func normalize(env common.Envelope) common.OrderResult {
	if env.Err {
		return common.ErrorResult("upstream error (status %d): %s", env.Status, env.Message)
	}
	res := common.OrderResult{
		Status:  common.Str(env.Body, "status"),
		OrderID: common.Str(env.Body, "data", "order_id"),
		Message: common.Str(env.Body, "message"),
		Data:    common.Map(env.Body, "data"),
	}
	if res.Status == "" {
		res.Status = "error"
	}
	return res
}

func kiteOrderType(t common.OrderType) string {
	switch t {
	case common.OrderTypeStop:
		return "SL"
	case common.OrderTypeStopMarket:
		return "SL-M"
	default:
		return string(t)
	}
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
