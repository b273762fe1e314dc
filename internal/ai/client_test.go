package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"chartvision/internal/breaker"
	"chartvision/internal/signal"
)

func chart() ChartImage {
	return ChartImage{ChartType: "spot", ImageBase64: "aGk=", Symbol: "NIFTY", Timeframe: "5m"}
}

func geminiReply(text string) string {
	body, _ := json.Marshal(map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": []map[string]any{{"text": text}}}},
		},
	})
	return string(body)
}

func TestAnalyzeSuccess(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(geminiReply("TRADE_DECISION: LONG\nCONFIDENCE: 70%\nSAFETY_SCORE: 60%\n")))
	}))
	defer srv.Close()

	c := NewClient("test-key", "")
	c.SetBaseURL(srv.URL)
	sig, err := c.AnalyzeMultiChart(context.Background(), []ChartImage{chart()}, "breakout setup", "")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if sig.Decision != signal.DecisionLong || sig.Confidence != 70 {
		t.Errorf("signal = %+v", sig)
	}
	if sig.Timestamp == "" {
		t.Error("timestamp not set")
	}

	contents := gotBody["contents"].([]any)
	parts := contents[0].(map[string]any)["parts"].([]any)
	if len(parts) != 2 {
		t.Fatalf("parts = %d, want prompt + image", len(parts))
	}
	prompt := parts[0].(map[string]any)["text"].(string)
	if !strings.Contains(prompt, "SPOT – NIFTY (5m)") || !strings.Contains(prompt, "breakout setup") {
		t.Errorf("prompt missing chart description or context:\n%s", prompt)
	}
}

func TestUpstreamFailureDegradesToNoTrade(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient("test-key", "")
	c.SetBaseURL(srv.URL)
	sig, err := c.AnalyzeMultiChart(context.Background(), []ChartImage{chart()}, "", "")
	if err != nil {
		t.Fatalf("degraded analyze should not error: %v", err)
	}
	if sig.Decision != signal.DecisionNoTrade {
		t.Errorf("decision = %q, want NO_TRADE", sig.Decision)
	}
	if len(sig.Warnings) == 0 {
		t.Error("expected a warning on the degraded signal")
	}
	if c.Breaker().State() == breaker.StateClosed && c.Breaker().Status().Failures == 0 {
		t.Error("failure not recorded on breaker")
	}
}

func TestOpenCircuitShortCircuits(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := NewClient("test-key", "")
	c.SetBaseURL(srv.URL)
	for i := 0; i < 3; i++ {
		c.Breaker().RecordFailure()
	}

	sig, err := c.AnalyzeMultiChart(context.Background(), []ChartImage{chart()}, "", "")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if called {
		t.Error("upstream should not be called with an open circuit")
	}
	if sig.Decision != signal.DecisionNoTrade {
		t.Errorf("decision = %q", sig.Decision)
	}
	if len(sig.Warnings) != 1 || !strings.Contains(sig.Warnings[0], "circuit breaker") {
		t.Errorf("warnings = %v", sig.Warnings)
	}
}
