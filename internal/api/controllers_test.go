package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"chartvision/internal/ai"
	"chartvision/internal/breaker"
	"chartvision/internal/monitor"
	"chartvision/internal/risk"
	"chartvision/internal/session"
	"chartvision/internal/signal"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubAnalyzer struct {
	circuit *breaker.Breaker
	sig     signal.TradeSignal
	calls   int
}

func (a *stubAnalyzer) AnalyzeMultiChart(ctx context.Context, charts []ai.ChartImage, strategyContext, previousAnalysis string) (signal.TradeSignal, error) {
	a.calls++
	return a.sig, nil
}
func (a *stubAnalyzer) Breaker() *breaker.Breaker { return a.circuit }
func (a *stubAnalyzer) Model() string             { return "stub-model" }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	sessions := session.NewManager()
	riskMgr := risk.NewManager(risk.DefaultConfig(), nil)
	metrics := monitor.NewSystemMetrics()
	return NewServer(sessions, riskMgr, metrics, Options{
		Meta: SystemMeta{Version: "test", InstanceID: "test-instance"},
	})
}

func doJSON(t *testing.T, s *Server, method, path, sid string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if sid != "" {
		req.Header.Set("X-Session-ID", sid)
	}
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return m
}

func createTestSession(t *testing.T, s *Server) string {
	t.Helper()
	w := doJSON(t, s, http.MethodPost, "/api/session/create", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("session create: %d %s", w.Code, w.Body.String())
	}
	sid, _ := decodeBody(t, w)["session_id"].(string)
	if sid == "" {
		t.Fatal("no session_id in response")
	}
	return sid
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestServer(t)
	sid := createTestSession(t, s)

	if len(sid) < 40 {
		t.Errorf("session id suspiciously short: %q", sid)
	}

	w := doJSON(t, s, http.MethodGet, "/api/session/info", sid, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("session info: %d", w.Code)
	}
	info := decodeBody(t, w)
	if info["trading_mode"] != "paper" {
		t.Errorf("trading_mode = %v, want paper", info["trading_mode"])
	}
	if info["broker_connected"] != false {
		t.Errorf("broker_connected = %v, want false", info["broker_connected"])
	}

	w = doJSON(t, s, http.MethodDelete, "/api/session/delete", sid, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("session delete: %d", w.Code)
	}

	w = doJSON(t, s, http.MethodGet, "/api/session/info", sid, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("info after delete = %d, want 401", w.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/api/session/info", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing header = %d, want 401", w.Code)
	}

	w = doJSON(t, s, http.MethodGet, "/api/session/info", "bogus-session-id", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bogus session = %d, want 401", w.Code)
	}
}

func TestSetMode(t *testing.T) {
	s := newTestServer(t)
	sid := createTestSession(t, s)

	w := doJSON(t, s, http.MethodPost, "/api/config/mode", sid, gin.H{"mode": "live"})
	if w.Code != http.StatusOK {
		t.Fatalf("set live: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, http.MethodGet, "/api/session/info", sid, nil)
	if got := decodeBody(t, w)["trading_mode"]; got != "live" {
		t.Errorf("trading_mode = %v, want live", got)
	}

	w = doJSON(t, s, http.MethodPost, "/api/config/mode", sid, gin.H{"mode": "yolo"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid mode = %d, want 400", w.Code)
	}
}

func TestListBrokers(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/api/brokers/list", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("brokers list: %d", w.Code)
	}
	brokers, _ := decodeBody(t, w)["brokers"].([]any)
	if len(brokers) != 5 {
		t.Fatalf("got %d brokers, want 5", len(brokers))
	}
	first, _ := brokers[0].(map[string]any)
	if first["id"] == "" || first["name"] == "" {
		t.Errorf("broker entry missing fields: %v", first)
	}
}

func TestPaperOrderFlow(t *testing.T) {
	s := newTestServer(t)
	sid := createTestSession(t, s)

	order := gin.H{
		"symbol":           "RELIANCE",
		"transaction_type": "BUY",
		"order_type":       "MARKET",
		"quantity":         10,
	}
	w := doJSON(t, s, http.MethodPost, "/api/orders/place?ltp=2500", sid, order)
	if w.Code != http.StatusOK {
		t.Fatalf("place order: %d %s", w.Code, w.Body.String())
	}
	resp := decodeBody(t, w)
	if resp["status"] != "success" {
		t.Fatalf("order status = %v: %v", resp["status"], resp)
	}
	if resp["order_id"] != "PAPER_1001" {
		t.Errorf("order_id = %v, want PAPER_1001", resp["order_id"])
	}

	w = doJSON(t, s, http.MethodGet, "/api/positions", sid, nil)
	positions, _ := decodeBody(t, w)["positions"].([]any)
	if len(positions) != 1 {
		t.Fatalf("got %d positions, want 1", len(positions))
	}

	w = doJSON(t, s, http.MethodGet, "/api/orders", sid, nil)
	orders, _ := decodeBody(t, w)["orders"].([]any)
	if len(orders) != 1 {
		t.Errorf("got %d orders, want 1", len(orders))
	}

	// Cached LTP from the first order should fill a follow-up without
	// an explicit price.
	sell := gin.H{
		"symbol":           "RELIANCE",
		"transaction_type": "SELL",
		"order_type":       "MARKET",
		"quantity":         10,
	}
	w = doJSON(t, s, http.MethodPost, "/api/orders/place", sid, sell)
	resp = decodeBody(t, w)
	if resp["status"] != "success" {
		t.Fatalf("sell via cached ltp failed: %v", resp)
	}

	w = doJSON(t, s, http.MethodGet, "/api/paper/stats", sid, nil)
	stats := decodeBody(t, w)
	if got := stats["total_trades"]; got != float64(1) {
		t.Errorf("total_trades = %v, want 1", got)
	}
}

func TestPaperCancelAndHoldings(t *testing.T) {
	s := newTestServer(t)
	sid := createTestSession(t, s)

	w := doJSON(t, s, http.MethodDelete, "/api/orders/PAPER_1001", sid, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("paper cancel: %d", w.Code)
	}
	if msg := decodeBody(t, w)["message"]; msg != "Cancelled (paper)" {
		t.Errorf("message = %v", msg)
	}

	w = doJSON(t, s, http.MethodGet, "/api/holdings", sid, nil)
	holdings, _ := decodeBody(t, w)["holdings"].([]any)
	if len(holdings) != 0 {
		t.Errorf("paper holdings = %v, want empty", holdings)
	}
}

func TestPaperReset(t *testing.T) {
	s := newTestServer(t)
	sid := createTestSession(t, s)

	w := doJSON(t, s, http.MethodPost, "/api/paper/reset", sid, gin.H{"capital": 500000})
	if w.Code != http.StatusOK {
		t.Fatalf("reset: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, http.MethodGet, "/api/paper/stats", sid, nil)
	stats := decodeBody(t, w)
	if got := stats["capital"]; got != float64(500000) {
		t.Errorf("capital after reset = %v, want 500000", got)
	}

	w = doJSON(t, s, http.MethodPost, "/api/paper/reset", sid, gin.H{"capital": 200000000})
	if w.Code != http.StatusBadRequest {
		t.Errorf("oversized capital = %d, want 400", w.Code)
	}
}

func TestLiveOrderWithoutBroker(t *testing.T) {
	s := newTestServer(t)
	sid := createTestSession(t, s)

	doJSON(t, s, http.MethodPost, "/api/config/mode", sid, gin.H{"mode": "live"})

	order := gin.H{
		"symbol":           "INFY",
		"transaction_type": "BUY",
		"order_type":       "MARKET",
		"quantity":         1,
	}
	// Either the risk gate (outside market hours) or the missing broker
	// rejects this; both are client errors.
	w := doJSON(t, s, http.MethodPost, "/api/orders/place", sid, order)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("live order without broker = %d, want 400", w.Code)
	}
}

func TestAnalyzeMultiChart(t *testing.T) {
	s := newTestServer(t)
	sid := createTestSession(t, s)

	charts := []gin.H{{
		"chart_type":   "spot",
		"image_base64": "aGVsbG8=",
		"symbol":       "NIFTY",
		"timeframe":    "5m",
	}}

	// Not configured yet.
	w := doJSON(t, s, http.MethodPost, "/api/analyze/multi-chart", sid, gin.H{"charts": charts})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unconfigured analyze = %d, want 400", w.Code)
	}

	stub := &stubAnalyzer{
		circuit: breaker.New("stub", 3, time.Minute),
		sig: signal.TradeSignal{
			Decision:    signal.DecisionLong,
			Confidence:  72,
			SafetyScore: 65,
			Entry:       22500,
			Stoploss:    22400,
			RiskReward:  "1:2",
			Timestamp:   time.Now().Format(time.RFC3339),
		},
	}
	s.aiMu.Lock()
	s.aiClient = stub
	s.aiMu.Unlock()

	w = doJSON(t, s, http.MethodPost, "/api/analyze/multi-chart", sid, gin.H{
		"charts":           charts,
		"strategy_context": "breakout watch",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("analyze: %d %s", w.Code, w.Body.String())
	}
	resp := decodeBody(t, w)
	if resp["decision"] != "LONG" {
		t.Errorf("decision = %v, want LONG", resp["decision"])
	}
	if stub.calls != 1 {
		t.Errorf("analyzer calls = %d, want 1", stub.calls)
	}

	// Too many charts rejected before the analyzer runs.
	var many []gin.H
	for i := 0; i < 7; i++ {
		many = append(many, gin.H{
			"chart_type":   "spot",
			"image_base64": "aGVsbG8=",
			"symbol":       fmt.Sprintf("SYM%d", i),
			"timeframe":    "5m",
		})
	}
	w = doJSON(t, s, http.MethodPost, "/api/analyze/multi-chart", sid, gin.H{"charts": many})
	if w.Code != http.StatusBadRequest {
		t.Errorf("7 charts = %d, want 400", w.Code)
	}
	if stub.calls != 1 {
		t.Errorf("analyzer called for invalid payload")
	}
}

func TestConfigureGemini(t *testing.T) {
	s := newTestServer(t)
	stub := &stubAnalyzer{circuit: breaker.New("stub", 3, time.Minute)}
	s.newAI = func(apiKey, model string) Analyzer { return stub }

	w := doJSON(t, s, http.MethodPost, "/api/config/gemini", "", gin.H{"api_key": "k"})
	if w.Code != http.StatusOK {
		t.Fatalf("configure: %d %s", w.Code, w.Body.String())
	}
	if got := decodeBody(t, w)["model"]; got != "stub-model" {
		t.Errorf("model = %v", got)
	}
	if s.analyzer() != stub {
		t.Error("analyzer not swapped")
	}

	w = doJSON(t, s, http.MethodPost, "/api/config/gemini", "", gin.H{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing api_key = %d, want 400", w.Code)
	}
}

func TestRecentSignalsWithoutDB(t *testing.T) {
	s := newTestServer(t)
	sid := createTestSession(t, s)

	w := doJSON(t, s, http.MethodGet, "/api/signals/recent", sid, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("recent signals: %d", w.Code)
	}
	signals, _ := decodeBody(t, w)["signals"].([]any)
	if len(signals) != 0 {
		t.Errorf("signals = %v, want empty", signals)
	}
}

func TestIIFLEndpointsRequireIIFL(t *testing.T) {
	s := newTestServer(t)
	sid := createTestSession(t, s)

	w := doJSON(t, s, http.MethodGet, "/api/iifl/profile", sid, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("profile without iifl = %d, want 400", w.Code)
	}
	if got := decodeBody(t, w)["error"]; got != "Not IIFL" {
		t.Errorf("error = %v, want Not IIFL", got)
	}
}

func TestHealthAndRiskStatus(t *testing.T) {
	s := newTestServer(t)
	sid := createTestSession(t, s)

	w := doJSON(t, s, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health: %d", w.Code)
	}
	health := decodeBody(t, w)
	if health["status"] != "healthy" {
		t.Errorf("status = %v", health["status"])
	}
	if health["sessions"] != float64(1) {
		t.Errorf("sessions = %v, want 1", health["sessions"])
	}

	w = doJSON(t, s, http.MethodGet, "/api/risk/status", sid, nil)
	status := decodeBody(t, w)
	for _, key := range []string{"daily_pnl", "max_daily_loss", "remaining", "market_open", "market_status"} {
		if _, ok := status[key]; !ok {
			t.Errorf("risk status missing %q", key)
		}
	}
}

func TestBrokerStatusDisconnected(t *testing.T) {
	s := newTestServer(t)
	sid := createTestSession(t, s)

	w := doJSON(t, s, http.MethodGet, "/api/broker/status", sid, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("broker status: %d", w.Code)
	}
	if got := decodeBody(t, w)["connected"]; got != false {
		t.Errorf("connected = %v, want false", got)
	}

	w = doJSON(t, s, http.MethodPost, "/api/broker/disconnect", sid, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("disconnect without broker = %d, want 400", w.Code)
	}
}
