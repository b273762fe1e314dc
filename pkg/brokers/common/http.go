package common

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"
)

const maxResponseBody = 1 << 20 // venue replies are small; cap reads

// NewHTTPClient returns the HTTP client shared configuration for
// brokerage endpoints.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// Envelope is a defensively-parsed venue response. A 5xx status or a
// non-JSON body produces an error marker instead of a Go error, so a
// malformed upstream reply never aborts request handling.
type Envelope struct {
	Err     bool
	Status  int
	Message string
	Body    map[string]any
}

// Decode reads and parses resp. label names the call in logs.
func Decode(resp *http.Response, label string) Envelope {
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		log.Printf("[%s] body read fail: %v", label, err)
		return Envelope{Err: true, Status: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode >= 500 {
		log.Printf("[%s] HTTP %d: %.400s", label, resp.StatusCode, raw)
		return Envelope{Err: true, Status: resp.StatusCode, Message: "server error"}
	}

	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		log.Printf("[%s] JSON parse fail: %v | body: %.300s", label, err, raw)
		return Envelope{Err: true, Status: resp.StatusCode, Message: err.Error()}
	}

	env := Envelope{Status: resp.StatusCode}
	switch v := parsed.(type) {
	case map[string]any:
		env.Body = v
	case []any:
		env.Body = map[string]any{"data": v}
	default:
		env.Body = map[string]any{}
	}
	return env
}

// Str digs a string out of nested maps, "" when absent.
func Str(m map[string]any, keys ...string) string {
	v := dig(m, keys...)
	s, _ := v.(string)
	return s
}

// Num digs a float64 out of nested maps, 0 when absent.
func Num(m map[string]any, keys ...string) float64 {
	switch v := dig(m, keys...).(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

// Bool digs a bool out of nested maps.
func Bool(m map[string]any, keys ...string) bool {
	b, _ := dig(m, keys...).(bool)
	return b
}

// Map digs a nested map, nil when absent.
func Map(m map[string]any, keys ...string) map[string]any {
	v, _ := dig(m, keys...).(map[string]any)
	return v
}

// List digs a nested array, nil when absent.
func List(m map[string]any, keys ...string) []any {
	v, _ := dig(m, keys...).([]any)
	return v
}

// Maps is List with each element asserted to a map; non-map elements
// are skipped.
func Maps(m map[string]any, keys ...string) []map[string]any {
	raw := List(m, keys...)
	out := make([]map[string]any, 0, len(raw))
	for _, e := range raw {
		if mm, ok := e.(map[string]any); ok {
			out = append(out, mm)
		}
	}
	return out
}

func dig(m map[string]any, keys ...string) any {
	var cur any = m
	for _, k := range keys {
		mm, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = mm[k]
	}
	return cur
}
