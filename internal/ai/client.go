// Package ai wraps the Gemini generateContent API for multi-chart
// trade analysis. Calls are spaced by a rate limiter and guarded by a
// circuit breaker; an open circuit degrades to NO_TRADE instead of
// failing the request.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"chartvision/internal/breaker"
	"chartvision/internal/signal"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// DefaultModel is used when the configure call names none.
	DefaultModel = "gemini-2.0-flash"

	// MaxCharts bounds one analysis request.
	MaxCharts = 6

	failureThreshold = 3
	breakerTimeout   = 120 * time.Second
	minCallInterval  = 3 * time.Second
	maxResponseBody  = 4 << 20
)

// ChartImage is one chart submitted for analysis.
type ChartImage struct {
	ChartType   string `json:"chart_type" binding:"required"`
	ImageBase64 string `json:"image_base64" binding:"required"`
	Symbol      string `json:"symbol" binding:"required"`
	Timeframe   string `json:"timeframe" binding:"required"`
}

var validChartTypes = map[string]bool{
	"spot": true, "market_profile": true, "orderflow": true, "option_chain": true,
}

// Validate checks the chart type against the known set.
func (c ChartImage) Validate() error {
	if !validChartTypes[c.ChartType] {
		return fmt.Errorf("chart_type must be one of spot, market_profile, orderflow, option_chain")
	}
	return nil
}

// ValidateCharts bounds and checks a full request's chart list.
func ValidateCharts(charts []ChartImage) error {
	if len(charts) == 0 {
		return errors.New("at least one chart required")
	}
	if len(charts) > MaxCharts {
		return fmt.Errorf("maximum %d charts", MaxCharts)
	}
	for _, c := range charts {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Client is a configured Gemini session.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	circuit    *breaker.Breaker
	limiter    *rate.Limiter
}

func NewClient(apiKey, model string) *Client {
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		circuit:    breaker.New("gemini", failureThreshold, breakerTimeout),
		limiter:    rate.NewLimiter(rate.Every(minCallInterval), 1),
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Breaker exposes the circuit for health reporting.
func (c *Client) Breaker() *breaker.Breaker { return c.circuit }

// SetBaseURL overrides the endpoint, for tests.
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

// AnalyzeMultiChart sends the charts plus context to the model and
// parses the structured reply. An open circuit or upstream failure
// yields a NO_TRADE signal with a warning rather than an error.
func (c *Client) AnalyzeMultiChart(ctx context.Context, charts []ChartImage, strategyContext, previousAnalysis string) (signal.TradeSignal, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return signal.TradeSignal{}, err
	}
	if !c.circuit.CanProceed() {
		return signal.NoTrade("AI temporarily unavailable (circuit breaker)"), nil
	}

	text, err := c.generate(ctx, charts, strategyContext, previousAnalysis)
	if err != nil {
		c.circuit.RecordFailure()
		log.Printf("[gemini] analysis failed: %v", err)
		return signal.NoTrade(fmt.Sprintf("AI analysis failed: %v", err)), nil
	}
	c.circuit.RecordSuccess()

	sig := ParseSignal(text)
	sig.Timestamp = time.Now().Format(time.RFC3339)
	return sig, nil
}

func (c *Client) generate(ctx context.Context, charts []ChartImage, strategyContext, previousAnalysis string) (string, error) {
	parts := []map[string]any{{"text": buildPrompt(charts, strategyContext, previousAnalysis)}}
	for _, chart := range charts {
		parts = append(parts, map[string]any{
			"inline_data": map[string]any{"mime_type": "image/jpeg", "data": chart.ImageBase64},
		})
	}

	categories := []string{
		"HARM_CATEGORY_HARASSMENT", "HARM_CATEGORY_HATE_SPEECH",
		"HARM_CATEGORY_SEXUALLY_EXPLICIT", "HARM_CATEGORY_DANGEROUS_CONTENT",
	}
	safety := make([]map[string]any, 0, len(categories))
	for _, cat := range categories {
		safety = append(safety, map[string]any{"category": cat, "threshold": "BLOCK_NONE"})
	}

	payload := map[string]any{
		"contents": []map[string]any{{"parts": parts}},
		"generationConfig": map[string]any{
			"temperature": 0.3, "maxOutputTokens": 2048, "topP": 0.8,
		},
		"safetySettings": safety,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		snippet := string(raw)
		if len(snippet) > 400 {
			snippet = snippet[:400]
		}
		return "", fmt.Errorf("gemini status %d: %s", resp.StatusCode, snippet)
	}

	var reply struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		return "", fmt.Errorf("decode gemini reply: %w", err)
	}
	if len(reply.Candidates) == 0 || len(reply.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("gemini returned no candidates")
	}
	text := reply.Candidates[0].Content.Parts[0].Text
	if text == "" {
		return "", errors.New("empty gemini response")
	}
	return text, nil
}

func buildPrompt(charts []ChartImage, strategyContext, previousAnalysis string) string {
	var b strings.Builder
	b.WriteString("You are an expert institutional trader analyzing multiple charts for a combined trading decision.\n\n")
	b.WriteString("CHARTS PROVIDED:\n")
	for i, c := range charts {
		fmt.Fprintf(&b, "  %d. %s – %s (%s)\n", i+1, strings.ToUpper(c.ChartType), c.Symbol, c.Timeframe)
	}
	b.WriteString("\nSTRATEGY CONTEXT:\n")
	b.WriteString(strategyContext)
	b.WriteString("\n")
	if previousAnalysis != "" {
		b.WriteString("\nPREVIOUS ANALYSIS:\n")
		b.WriteString(previousAnalysis)
		b.WriteString("\n")
	}
	b.WriteString(`
OUTPUT FORMAT (strict):
TRADE_DECISION: [LONG/SHORT/NO_TRADE]
CONFIDENCE: [0-100]%
SAFETY_SCORE: [0-100]%
ENTRY: [price]
STOPLOSS: [price]
TARGET_1: [price]
TARGET_2: [price]
TARGET_3: [price]
RISK_REWARD: [ratio]

REASONING:
- [reasons]

WARNINGS:
- [risks]
`)
	return b.String()
}
