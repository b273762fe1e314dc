// Package risk enforces the safeguards every live order passes through:
// market-hours gating, a daily loss stop, duplicate suppression, and
// signal quality thresholds.
package risk

import (
	"database/sql"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"chartvision/internal/signal"
	"chartvision/pkg/brokers/common"
)

var istLocation = time.FixedZone("IST", 5*3600+1800)

// Manager holds the process-wide risk state. Counters are shared across
// sessions so one account cannot dodge the daily stop by reconnecting.
type Manager struct {
	db  *sql.DB
	cfg Config

	mu           sync.Mutex
	dailyPnL     float64
	resetDate    string
	recentOrders map[string]time.Time

	now func() time.Time
}

// NewManager creates a risk manager. db may be nil; with a DB the daily
// PnL survives restarts via the risk_metrics table.
func NewManager(cfg Config, db *sql.DB) *Manager {
	m := &Manager{
		db:           db,
		cfg:          cfg,
		recentOrders: make(map[string]time.Time),
		now:          time.Now,
	}
	m.mu.Lock()
	m.dailyReset()
	m.mu.Unlock()
	log.Printf("Risk manager initialized: max_daily_loss=₹%.0f dedup_window=%ds",
		cfg.MaxDailyLoss, cfg.DedupWindowSec)
	return m
}

// Config returns the active limits.
func (m *Manager) Config() Config { return m.cfg }

// dailyReset zeroes the counters on the first touch of a new calendar
// day. Caller holds m.mu.
func (m *Manager) dailyReset() {
	today := m.now().In(istLocation).Format("2006-01-02")
	if m.resetDate == today {
		return
	}
	m.resetDate = today
	m.dailyPnL = 0
	m.recentOrders = make(map[string]time.Time)
	if m.db != nil {
		if pnl, err := m.loadDailyPnL(today); err == nil {
			m.dailyPnL = pnl
		}
	}
}

func (m *Manager) loadDailyPnL(date string) (float64, error) {
	var pnl float64
	err := m.db.QueryRow(`SELECT daily_pnl FROM risk_metrics WHERE date = ?`, date).Scan(&pnl)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return pnl, err
}

func (m *Manager) persistDailyPnL(date string, pnl float64) {
	if m.db == nil {
		return
	}
	_, err := m.db.Exec(`
		INSERT INTO risk_metrics (date, daily_pnl, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(date) DO UPDATE SET daily_pnl = excluded.daily_pnl, updated_at = CURRENT_TIMESTAMP`,
		date, pnl)
	if err != nil {
		log.Printf("risk: persist daily pnl: %v", err)
	}
}

// CheckMarketHours reports whether NSE is currently in its regular
// session (09:15–15:30 IST, Monday through Friday).
func (m *Manager) CheckMarketHours() (bool, string) {
	now := m.now().In(istLocation)
	if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false, "Market closed (weekend)"
	}
	open := time.Date(now.Year(), now.Month(), now.Day(), 9, 15, 0, 0, istLocation)
	close := time.Date(now.Year(), now.Month(), now.Day(), 15, 30, 0, 0, istLocation)
	if now.Before(open) {
		return false, fmt.Sprintf("Pre-market (%s IST)", now.Format("15:04"))
	}
	if now.After(close) {
		return false, fmt.Sprintf("Post-market (%s IST)", now.Format("15:04"))
	}
	return true, "Market open"
}

// CheckDailyLoss fails once realized losses reach the daily cap.
func (m *Manager) CheckDailyLoss() (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyReset()
	if m.dailyPnL <= -m.cfg.MaxDailyLoss {
		return false, fmt.Sprintf("Daily loss limit hit: ₹%.0f/₹%.0f", math.Abs(m.dailyPnL), m.cfg.MaxDailyLoss)
	}
	return true, "OK"
}

// CheckDuplicate rejects a second identical (symbol, side, quantity)
// order inside the dedup window. A passing check records the order.
func (m *Manager) CheckDuplicate(req common.OrderRequest) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyReset()

	window := time.Duration(m.cfg.DedupWindowSec) * time.Second
	now := m.now()
	key := fmt.Sprintf("%s_%s_%d", req.Symbol, req.Side, req.Quantity)
	for k, seen := range m.recentOrders {
		if now.Sub(seen) >= window {
			delete(m.recentOrders, k)
		}
	}
	if _, dup := m.recentOrders[key]; dup {
		return false, fmt.Sprintf("Duplicate order (wait %ds)", m.cfg.DedupWindowSec)
	}
	m.recentOrders[key] = now
	return true, "OK"
}

// ValidateSignal applies confidence, safety and stoploss-direction
// checks. NO_TRADE always passes; it carries no order intent.
func (m *Manager) ValidateSignal(s signal.TradeSignal) (bool, string) {
	switch s.Decision {
	case signal.DecisionLong, signal.DecisionShort:
	case signal.DecisionNoTrade:
		return true, "NO_TRADE"
	default:
		return false, fmt.Sprintf("Invalid decision: %s", s.Decision)
	}
	if s.Confidence < 0 || s.Confidence > 100 {
		return false, fmt.Sprintf("Invalid confidence: %d", s.Confidence)
	}
	if s.Confidence < m.cfg.MinConfidence {
		return false, fmt.Sprintf("Confidence %d%% < %d%% threshold", s.Confidence, m.cfg.MinConfidence)
	}
	if s.SafetyScore < m.cfg.MinSafety {
		return false, fmt.Sprintf("Safety %d%% < %d%% threshold", s.SafetyScore, m.cfg.MinSafety)
	}
	if s.Entry != 0 && s.Stoploss != 0 {
		if s.Decision == signal.DecisionLong && s.Stoploss >= s.Entry {
			return false, "LONG: SL must be below entry"
		}
		if s.Decision == signal.DecisionShort && s.Stoploss <= s.Entry {
			return false, "SHORT: SL must be above entry"
		}
	}
	return true, "Signal OK"
}

// CheckOrder runs the full live-order gate: market hours, daily loss,
// then duplicate suppression.
func (m *Manager) CheckOrder(req common.OrderRequest) (bool, string) {
	if ok, reason := m.CheckMarketHours(); !ok {
		return false, reason
	}
	if ok, reason := m.CheckDailyLoss(); !ok {
		return false, reason
	}
	return m.CheckDuplicate(req)
}

// UpdatePnL folds a realized trade result into the daily counter.
func (m *Manager) UpdatePnL(pnl float64) {
	m.mu.Lock()
	m.dailyReset()
	m.dailyPnL += pnl
	date, total := m.resetDate, m.dailyPnL
	m.mu.Unlock()
	m.persistDailyPnL(date, total)
}

// Status reports the current limits and market state.
func (m *Manager) Status() map[string]any {
	m.mu.Lock()
	m.dailyReset()
	pnl := m.dailyPnL
	m.mu.Unlock()

	open, msg := m.CheckMarketHours()
	return map[string]any{
		"daily_pnl":      math.Round(pnl*100) / 100,
		"max_daily_loss": m.cfg.MaxDailyLoss,
		"remaining":      math.Round((m.cfg.MaxDailyLoss+pnl)*100) / 100,
		"market_open":    open,
		"market_status":  msg,
	}
}
