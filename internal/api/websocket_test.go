package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"chartvision/internal/breaker"
	"chartvision/internal/signal"
)

func dialWS(t *testing.T, ts *httptest.Server, sid string) *websocket.Conn {
	t.Helper()
	url := strings.Replace(ts.URL, "http", "ws", 1) + "/ws/" + sid
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame map[string]any
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func TestWebSocketInvalidSession(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Router)
	defer ts.Close()

	conn := dialWS(t, ts, "bogus")
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("err = %v, want CloseError", err)
	}
	if closeErr.Code != 4001 {
		t.Errorf("close code = %d, want 4001", closeErr.Code)
	}
}

func TestWebSocketPingPong(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Router)
	defer ts.Close()

	sid := createTestSession(t, s)
	conn := dialWS(t, ts, sid)
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if frame := readFrame(t, conn); frame["type"] != "pong" {
		t.Errorf("frame type = %v, want pong", frame["type"])
	}

	if err := conn.WriteJSON(map[string]string{"type": "nonsense"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if frame := readFrame(t, conn); frame["type"] != "error" {
		t.Errorf("frame type = %v, want error", frame["type"])
	}
}

func TestWebSocketAnalyze(t *testing.T) {
	s := newTestServer(t)
	stub := &stubAnalyzer{
		circuit: breaker.New("stub", 3, time.Minute),
		sig:     signal.TradeSignal{Decision: signal.DecisionShort, Confidence: 61, SafetyScore: 55},
	}
	s.aiMu.Lock()
	s.aiClient = stub
	s.aiMu.Unlock()

	ts := httptest.NewServer(s.Router)
	defer ts.Close()

	sid := createTestSession(t, s)
	conn := dialWS(t, ts, sid)
	defer conn.Close()

	req := map[string]any{
		"type": "analyze",
		"charts": []map[string]string{{
			"chart_type":   "orderflow",
			"image_base64": "aGVsbG8=",
			"symbol":       "BANKNIFTY",
			"timeframe":    "15m",
		}},
	}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write analyze: %v", err)
	}

	frame := readFrame(t, conn)
	if frame["type"] != "signal" {
		t.Fatalf("frame type = %v, want signal: %v", frame["type"], frame)
	}
	data, _ := frame["data"].(map[string]any)
	if data["decision"] != "SHORT" {
		t.Errorf("decision = %v, want SHORT", data["decision"])
	}
}

func TestWebSocketReceivesRESTSignal(t *testing.T) {
	s := newTestServer(t)
	stub := &stubAnalyzer{
		circuit: breaker.New("stub", 3, time.Minute),
		sig:     signal.TradeSignal{Decision: signal.DecisionLong, Confidence: 70, SafetyScore: 60},
	}
	s.aiMu.Lock()
	s.aiClient = stub
	s.aiMu.Unlock()

	ts := httptest.NewServer(s.Router)
	defer ts.Close()

	sid := createTestSession(t, s)
	conn := dialWS(t, ts, sid)
	defer conn.Close()

	// Give the event forwarder a moment to subscribe.
	time.Sleep(50 * time.Millisecond)

	body, _ := json.Marshal(map[string]any{
		"charts": []map[string]string{{
			"chart_type":   "spot",
			"image_base64": "aGVsbG8=",
			"symbol":       "NIFTY",
			"timeframe":    "5m",
		}},
	})
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/analyze/multi-chart", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Session-ID", sid)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("analyze request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("analyze status = %d", resp.StatusCode)
	}

	frame := readFrame(t, conn)
	if frame["type"] != "signal" {
		t.Fatalf("frame type = %v, want signal", frame["type"])
	}
	data, _ := frame["data"].(map[string]any)
	if data["decision"] != "LONG" {
		t.Errorf("decision = %v, want LONG", data["decision"])
	}
}
