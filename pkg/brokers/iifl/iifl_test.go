package iifl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"chartvision/pkg/brokers/common"
)

func testCreds() common.Credentials {
	return common.Credentials{
		Broker:    common.BrokerIIFLBlaze,
		APIKey:    "appkey",
		APISecret: "appsecret",
		Source:    "WEBAPI",
	}
}

func interactiveServer(t *testing.T, orders *[]map[string]any) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/user/session", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["appKey"] != "appkey" || body["secretKey"] != "appsecret" {
			w.Write([]byte(`{"type":"error","description":"Invalid credentials"}`))
			return
		}
		w.Write([]byte(`{"type":"success","result":{"token":"int-token","userID":"U100","isInvestorClient":false}}`))
	})
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "int-token" {
			w.Write([]byte(`{"type":"error","description":"Not authorized"}`))
			return
		}
		switch r.Method {
		case http.MethodPost:
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			*orders = append(*orders, body)
			w.Write([]byte(`{"type":"success","description":"Order placed","result":{"AppOrderID":"9001"}}`))
		case http.MethodDelete:
			if r.URL.Query().Get("appOrderID") == "" {
				w.Write([]byte(`{"type":"error","description":"missing id"}`))
				return
			}
			w.Write([]byte(`{"type":"success","description":"Order cancelled"}`))
		}
	})
	return httptest.NewServer(mux)
}

func TestDualLogin(t *testing.T) {
	var orders []map[string]any
	interactive := interactiveServer(t, &orders)
	defer interactive.Close()
	market := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"type":"success","result":{"token":"md-token"}}`))
	}))
	defer market.Close()

	c := New(Config{Credentials: testCreds(), InteractiveURL: interactive.URL, MarketDataURL: market.URL})
	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("login: %v", err)
	}
	if !c.TokenValid() {
		t.Fatal("interactive token invalid after login")
	}
	c.mu.Lock()
	md := c.marketToken
	c.mu.Unlock()
	if md != "md-token" {
		t.Fatalf("market token = %q", md)
	}
}

// A market-data outage degrades the session instead of failing login.
func TestInteractiveOnlyDegradedMode(t *testing.T) {
	var orders []map[string]any
	interactive := interactiveServer(t, &orders)
	defer interactive.Close()
	market := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer market.Close()

	c := New(Config{Credentials: testCreds(), InteractiveURL: interactive.URL, MarketDataURL: market.URL})
	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("login should survive market outage: %v", err)
	}
	if !c.TokenValid() {
		t.Fatal("interactive token invalid")
	}

	res, err := c.PlaceOrder(context.Background(), common.OrderRequest{
		Symbol:   "2885",
		Exchange: "NSE",
		Side:     common.SideBuy,
		Type:     common.OrderTypeLimit,
		Quantity: 1,
		Price:    250,
		Product:  "MIS",
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if !res.Success() || res.OrderID != "9001" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestPlaceOrderMapping(t *testing.T) {
	var orders []map[string]any
	interactive := interactiveServer(t, &orders)
	defer interactive.Close()

	c := New(Config{Credentials: testCreds(), InteractiveURL: interactive.URL, MarketDataURL: interactive.URL})
	_, err := c.PlaceOrder(context.Background(), common.OrderRequest{
		Symbol:       "44203",
		Exchange:     "NFO",
		Side:         common.SideSell,
		Type:         common.OrderTypeStop,
		Quantity:     50,
		Price:        101.5,
		TriggerPrice: 102,
		Product:      "NRML",
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	got := orders[0]
	want := map[string]any{
		"exchangeSegment": "NSEFO",
		"productType":     "CARRYFORWARD",
		"orderType":       "STOPLIMIT",
		"orderSide":       "SELL",
		"timeInForce":     "DAY",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}
	if got["limitPrice"].(float64) != 101.5 || got["stopPrice"].(float64) != 102.0 {
		t.Errorf("prices = %v / %v", got["limitPrice"], got["stopPrice"])
	}
}

func TestCancelOrder(t *testing.T) {
	var orders []map[string]any
	interactive := interactiveServer(t, &orders)
	defer interactive.Close()

	c := New(Config{Credentials: testCreds(), InteractiveURL: interactive.URL, MarketDataURL: interactive.URL})
	res, err := c.CancelOrder(context.Background(), "9001")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !res.Success() || res.OrderID != "9001" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestLoginRejectedOpensNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"type":"error","description":"Invalid credentials"}`))
	}))
	defer srv.Close()

	c := New(Config{Credentials: testCreds(), InteractiveURL: srv.URL, MarketDataURL: srv.URL})
	if err := c.Login(context.Background()); err == nil {
		t.Fatal("expected login error")
	}
	if c.TokenValid() {
		t.Fatal("token should stay invalid")
	}
}
