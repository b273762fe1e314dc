// Package iifl implements the IIFL Blaze adapter. Blaze exposes two
// independent services: the interactive API for orders and portfolio,
// and the market-data API for quotes, search and option chains. The
// interactive login is mandatory; a market-data failure degrades the
// session to interactive-only instead of failing it.
package iifl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"chartvision/internal/breaker"
	"chartvision/pkg/brokers/common"
)

// Config holds credentials and optional endpoint overrides for tests.
type Config struct {
	Credentials    common.Credentials
	InteractiveURL string
	MarketDataURL  string
}

type Client struct {
	cfg            Config
	interactiveURL string
	marketDataURL  string
	httpClient     *http.Client
	guard          *common.TokenGuard

	mu               sync.Mutex
	marketToken      string
	userID           string
	isInvestorClient bool
}

func New(cfg Config) *Client {
	interactive := cfg.InteractiveURL
	if interactive == "" {
		interactive = "https://ttblaze.iifl.com/interactive"
	}
	market := cfg.MarketDataURL
	if market == "" {
		market = "https://ttblaze.iifl.com/marketdata"
	}
	return &Client{
		cfg:            cfg,
		interactiveURL: interactive,
		marketDataURL:  market,
		httpClient:     common.NewHTTPClient(),
		guard:          common.NewTokenGuard("iifl_blaze"),
	}
}

func (c *Client) Login(ctx context.Context) error {
	return c.guard.Ensure(ctx, c.autoLogin)
}

func (c *Client) autoLogin(ctx context.Context) (string, time.Time, error) {
	token, err := c.loginInteractive(ctx)
	if err != nil {
		return "", time.Time{}, err
	}
	mode := "fully"
	if mkErr := c.loginMarketData(ctx); mkErr != nil {
		mode = "interactive-only"
	}
	log.Printf("✅ IIFL Blaze %s connected", mode)
	return token, time.Now().Add(8 * time.Hour), nil
}

func (c *Client) loginInteractive(ctx context.Context) (string, error) {
	creds := c.cfg.Credentials
	env, err := c.postJSON(ctx, c.interactiveURL+"/user/session", nil, map[string]any{
		"secretKey": creds.APISecret,
		"appKey":    creds.APIKey,
		"source":    creds.Source,
	}, "iifl-interactive")
	if err != nil {
		return "", err
	}
	if env.Err || common.Str(env.Body, "type") != "success" {
		return "", fmt.Errorf("interactive login rejected: %s", common.Str(env.Body, "description"))
	}
	result := common.Map(env.Body, "result")
	token := common.Str(result, "token")
	if token == "" {
		return "", fmt.Errorf("no token in interactive session response")
	}
	c.mu.Lock()
	c.userID = common.Str(result, "userID")
	c.isInvestorClient = common.Bool(result, "isInvestorClient")
	c.mu.Unlock()
	log.Printf("✅ IIFL Interactive OK – User: %s", common.Str(result, "userID"))
	return token, nil
}

func (c *Client) loginMarketData(ctx context.Context) error {
	creds := c.cfg.Credentials
	appKey := creds.MarketAPIKey
	if appKey == "" {
		appKey = creds.APIKey
	}
	secretKey := creds.MarketSecretKey
	if secretKey == "" {
		secretKey = creds.APISecret
	}
	env, err := c.postJSON(ctx, c.marketDataURL+"/user/session", nil, map[string]any{
		"secretKey": secretKey,
		"appKey":    appKey,
		"source":    creds.Source,
	}, "iifl-market")
	if err != nil {
		return err
	}
	if env.Err || common.Str(env.Body, "type") != "success" {
		return fmt.Errorf("market data login rejected")
	}
	token := common.Str(common.Map(env.Body, "result"), "token")
	if token == "" {
		return fmt.Errorf("no token in market session response")
	}
	c.mu.Lock()
	c.marketToken = token
	c.mu.Unlock()
	log.Println("✅ IIFL Market Data OK")
	return nil
}

// ensureMarketData retries the market-data login lazily for sessions
// that came up interactive-only.
func (c *Client) ensureMarketData(ctx context.Context) error {
	c.mu.Lock()
	have := c.marketToken != ""
	c.mu.Unlock()
	if have {
		return nil
	}
	return c.loginMarketData(ctx)
}

func (c *Client) interactiveHeaders() map[string]string {
	return map[string]string{
		"Content-Type":  "application/json",
		"Authorization": c.guard.Token(),
	}
}

func (c *Client) marketHeaders() map[string]string {
	c.mu.Lock()
	token := c.marketToken
	c.mu.Unlock()
	return map[string]string{
		"Content-Type":  "application/json",
		"Authorization": token,
	}
}

func (c *Client) TokenValid() bool          { return c.guard.Valid() }
func (c *Client) Breaker() *breaker.Breaker { return c.guard.Breaker() }

// UserID reports the interactive user id once logged in.
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// HasMarketData reports whether the market-data session is up.
func (c *Client) HasMarketData() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.marketToken != ""
}

// Logout tears down both Blaze sessions server-side, best effort.
func (c *Client) Logout(ctx context.Context) error {
	if c.guard.Token() != "" {
		c.delete(ctx, c.interactiveURL+"/user/session", c.interactiveHeaders(), "iifl-logout")
	}
	c.mu.Lock()
	market := c.marketToken
	c.mu.Unlock()
	if market != "" {
		c.delete(ctx, c.marketDataURL+"/user/session", c.marketHeaders(), "iifl-logout-md")
	}
	c.guard.Clear()
	c.mu.Lock()
	c.marketToken = ""
	c.mu.Unlock()
	return nil
}

// Profile fetches the interactive user profile.
func (c *Client) Profile(ctx context.Context) (map[string]any, error) {
	if err := c.Login(ctx); err != nil {
		return nil, err
	}
	env, err := c.get(ctx, c.interactiveURL+"/user/profile", nil, c.interactiveHeaders(), "iifl-profile")
	if err != nil {
		return nil, err
	}
	return env.Body, nil
}

func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if err := c.Login(ctx); err != nil {
		return common.OrderResult{}, err
	}

	payload := map[string]any{
		"exchangeSegment":       blazeExchange(req.Exchange),
		"exchangeInstrumentID":  req.Symbol,
		"productType":           blazeProduct(req.Product),
		"orderType":             blazeOrderType(req.Type),
		"orderSide":             string(req.Side),
		"timeInForce":           "DAY",
		"disclosedQuantity":     0,
		"orderQuantity":         req.Quantity,
		"limitPrice":            positiveOrZero(req.Price),
		"stopPrice":             positiveOrZero(req.TriggerPrice),
		"orderUniqueIdentifier": fmt.Sprintf("CV_%d", time.Now().UnixMilli()),
	}
	env, err := c.postJSON(ctx, c.interactiveURL+"/orders", c.interactiveHeaders(), payload, "iifl-order")
	if err != nil {
		return common.ErrorResult("order request failed: %v", err), nil
	}
	if env.Err {
		return common.ErrorResult("upstream error (status %d): %s", env.Status, env.Message), nil
	}
	if common.Str(env.Body, "type") == "success" {
		result := common.Map(env.Body, "result")
		return common.OrderResult{
			Status:  "success",
			OrderID: common.Str(result, "AppOrderID"),
			Message: common.Str(env.Body, "description"),
		}, nil
	}
	msg := common.Str(env.Body, "description")
	if msg == "" {
		msg = common.Str(env.Body, "message")
	}
	if msg == "" {
		msg = "Order failed"
	}
	return common.OrderResult{Status: "error", Message: msg}, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) (common.OrderResult, error) {
	if err := c.Login(ctx); err != nil {
		return common.OrderResult{}, err
	}
	env, err := c.delete(ctx, c.interactiveURL+"/orders?appOrderID="+url.QueryEscape(orderID),
		c.interactiveHeaders(), "iifl-cancel")
	if err != nil {
		return common.ErrorResult("cancel request failed: %v", err), nil
	}
	if env.Err {
		return common.ErrorResult("upstream error (status %d): %s", env.Status, env.Message), nil
	}
	res := common.OrderResult{Status: "error", Message: common.Str(env.Body, "description")}
	if common.Str(env.Body, "type") == "success" {
		res.Status = "success"
		res.OrderID = orderID
	}
	return res, nil
}

func (c *Client) OrderBook(ctx context.Context) ([]map[string]any, error) {
	if err := c.Login(ctx); err != nil {
		return nil, err
	}
	env, err := c.get(ctx, c.interactiveURL+"/orders", nil, c.interactiveHeaders(), "iifl-orders")
	if err != nil || env.Err || common.Str(env.Body, "type") != "success" {
		return []map[string]any{}, nil
	}
	return common.Maps(env.Body, "result"), nil
}

func (c *Client) Positions(ctx context.Context) ([]common.Position, error) {
	if err := c.Login(ctx); err != nil {
		return nil, err
	}
	env, err := c.get(ctx, c.interactiveURL+"/portfolio/positions",
		url.Values{"dayOrNet": {"DayWise"}}, c.interactiveHeaders(), "iifl-pos")
	if err != nil || env.Err || common.Str(env.Body, "type") != "success" {
		return []common.Position{}, nil
	}
	raw := common.Maps(common.Map(env.Body, "result"), "positionList")
	out := make([]common.Position, 0, len(raw))
	for _, p := range raw {
		qty := common.Num(p, "Quantity")
		avg := common.Num(p, "BuyAveragePrice")
		if avg == 0 {
			avg = common.Num(p, "SellAveragePrice")
		}
		side := "SHORT"
		if qty > 0 {
			side = "LONG"
		}
		out = append(out, common.Position{
			Symbol:       common.Str(p, "TradingSymbol"),
			Exchange:     common.Str(p, "ExchangeSegment"),
			Quantity:     qty,
			AveragePrice: avg,
			PnL:          common.Num(p, "RealizedMTM") + common.Num(p, "UnrealizedMTM"),
			Side:         side,
		})
	}
	return out, nil
}

func (c *Client) Holdings(ctx context.Context) ([]map[string]any, error) {
	if err := c.Login(ctx); err != nil {
		return nil, err
	}
	env, err := c.get(ctx, c.interactiveURL+"/portfolio/holdings", nil, c.interactiveHeaders(), "iifl-holdings")
	if err != nil || env.Err || common.Str(env.Body, "type") != "success" {
		return []map[string]any{}, nil
	}
	return common.Maps(common.Map(env.Body, "result"), "RMSHoldings"), nil
}

func (c *Client) Margins(ctx context.Context) (map[string]any, error) {
	if err := c.Login(ctx); err != nil {
		return nil, err
	}
	env, err := c.get(ctx, c.interactiveURL+"/user/balance", nil, c.interactiveHeaders(), "iifl-margins")
	if err != nil || env.Err || common.Str(env.Body, "type") != "success" {
		return map[string]any{}, nil
	}
	balances := common.Maps(common.Map(env.Body, "result"), "BalanceList")
	limits := map[string]any{}
	if len(balances) > 0 {
		limits = common.Map(common.Map(balances[0], "limitObject"), "RMSSubLimits")
	}
	available := common.Num(limits, "netMarginAvailable")
	return map[string]any{
		"equity": map[string]any{
			"available": map[string]any{"cash": available},
			"utilised":  map[string]any{"total": common.Num(limits, "marginUtilized")},
		},
		"net_margin": available,
	}, nil
}

// Quotes requests snapshot quotes from the market-data service.
func (c *Client) Quotes(ctx context.Context, instruments []map[string]any) (map[string]any, error) {
	if err := c.ensureMarketData(ctx); err != nil {
		return nil, err
	}
	env, err := c.postJSON(ctx, c.marketDataURL+"/instruments/quotes", c.marketHeaders(),
		map[string]any{"instruments": instruments}, "iifl-quotes")
	if err != nil {
		return nil, err
	}
	return env.Body, nil
}

// SearchInstruments resolves a free-text symbol search.
func (c *Client) SearchInstruments(ctx context.Context, query string) (map[string]any, error) {
	if err := c.ensureMarketData(ctx); err != nil {
		return nil, err
	}
	env, err := c.get(ctx, c.marketDataURL+"/search/instrumentsbystring",
		url.Values{"searchString": {query}, "source": {c.cfg.Credentials.Source}},
		c.marketHeaders(), "iifl-search")
	if err != nil {
		return nil, err
	}
	return env.Body, nil
}

// OptionChain fetches the option chain for one expiry and option type.
func (c *Client) OptionChain(ctx context.Context, exchangeSegment, series, symbol, expiryDate, optionType string) (map[string]any, error) {
	if err := c.ensureMarketData(ctx); err != nil {
		return nil, err
	}
	env, err := c.get(ctx, c.marketDataURL+"/instruments/instrument/optionchain",
		url.Values{
			"exchangeSegment": {exchangeSegment},
			"series":          {series},
			"symbol":          {symbol},
			"expiryDate":      {expiryDate},
			"optionType":      {optionType},
		}, c.marketHeaders(), "iifl-optchain")
	if err != nil {
		return nil, err
	}
	return env.Body, nil
}

func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, headers map[string]string, payload any, label string) (common.Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return common.Envelope{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return common.Envelope{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return common.Envelope{}, err
	}
	return common.Decode(resp, label), nil
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, headers map[string]string, label string) (common.Envelope, error) {
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
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

func (c *Client) delete(ctx context.Context, endpoint string, headers map[string]string, label string) (common.Envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
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

func blazeExchange(exchange string) string {
	switch exchange {
	case "NFO":
		return "NSEFO"
	case "BSE":
		return "BSECM"
	case "BFO":
		return "BSEFO"
	case "MCX":
		return "MCXFO"
	default:
		return "NSECM"
	}
}

func blazeOrderType(t common.OrderType) string {
	switch t {
	case common.OrderTypeLimit:
		return "LIMIT"
	case common.OrderTypeStop:
		return "STOPLIMIT"
	case common.OrderTypeStopMarket:
		return "STOPMARKET"
	default:
		return "MARKET"
	}
}

func blazeProduct(product string) string {
	switch product {
	case "CNC":
		return "DELIVERY"
	case "NRML":
		return "CARRYFORWARD"
	default:
		return "INTRADAY"
	}
}

func positiveOrZero(v float64) float64 {
	if v > 0 {
		return v
	}
	return 0
}
