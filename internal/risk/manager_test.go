package risk

import (
	"testing"
	"time"

	"chartvision/internal/signal"
	"chartvision/pkg/brokers/common"
)

func istTime(hour, min int, weekday time.Weekday) time.Time {
	// 2026-01-05 is a Monday.
	base := time.Date(2026, 1, 5, hour, min, 0, 0, istLocation)
	return base.AddDate(0, 0, int(weekday-time.Monday))
}

func TestCheckMarketHours(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"mid session", istTime(11, 0, time.Monday), true},
		{"open boundary", istTime(9, 15, time.Tuesday), true},
		{"close boundary", istTime(15, 30, time.Friday), true},
		{"pre-market", istTime(9, 14, time.Wednesday), false},
		{"post-market", istTime(15, 31, time.Thursday), false},
		{"saturday", istTime(11, 0, time.Saturday), false},
		{"sunday", istTime(11, 0, time.Sunday), false},
	}
	m := NewManager(DefaultConfig(), nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m.now = func() time.Time { return tt.at }
			got, reason := m.CheckMarketHours()
			if got != tt.want {
				t.Errorf("got %v (%s), want %v", got, reason, tt.want)
			}
		})
	}
}

func TestDailyLossLimit(t *testing.T) {
	m := NewManager(DefaultConfig(), nil)

	m.UpdatePnL(-24999.99)
	if ok, _ := m.CheckDailyLoss(); !ok {
		t.Fatal("should pass just under the cap")
	}
	m.UpdatePnL(-0.01)
	if ok, reason := m.CheckDailyLoss(); ok {
		t.Fatalf("should fail at the cap, got OK (%s)", reason)
	}
}

func TestDailyLossResetsNextDay(t *testing.T) {
	m := NewManager(DefaultConfig(), nil)
	day1 := istTime(11, 0, time.Monday)
	m.now = func() time.Time { return day1 }
	m.UpdatePnL(-30000)
	if ok, _ := m.CheckDailyLoss(); ok {
		t.Fatal("limit should be hit on day one")
	}

	day2 := day1.AddDate(0, 0, 1)
	m.now = func() time.Time { return day2 }
	if ok, _ := m.CheckDailyLoss(); !ok {
		t.Fatal("counters should reset on the next day")
	}
}

func TestDuplicateSuppression(t *testing.T) {
	m := NewManager(DefaultConfig(), nil)
	at := istTime(11, 0, time.Monday)
	m.now = func() time.Time { return at }

	order := common.OrderRequest{Symbol: "INFY", Side: common.SideBuy, Quantity: 10}
	if ok, _ := m.CheckDuplicate(order); !ok {
		t.Fatal("first order should pass")
	}
	if ok, _ := m.CheckDuplicate(order); ok {
		t.Fatal("immediate repeat should be suppressed")
	}

	// Different quantity is a different order.
	other := common.OrderRequest{Symbol: "INFY", Side: common.SideBuy, Quantity: 20}
	if ok, _ := m.CheckDuplicate(other); !ok {
		t.Fatal("different quantity should pass")
	}

	// After the window the original passes again.
	at = at.Add(5 * time.Second)
	if ok, _ := m.CheckDuplicate(order); !ok {
		t.Fatal("repeat after window should pass")
	}
}

func TestValidateSignal(t *testing.T) {
	m := NewManager(DefaultConfig(), nil)
	tests := []struct {
		name string
		sig  signal.TradeSignal
		want bool
	}{
		{"no trade always passes", signal.TradeSignal{Decision: signal.DecisionNoTrade}, true},
		{"good long", signal.TradeSignal{Decision: signal.DecisionLong, Confidence: 70, SafetyScore: 60, Entry: 100, Stoploss: 95}, true},
		{"low confidence", signal.TradeSignal{Decision: signal.DecisionLong, Confidence: 49, SafetyScore: 60}, false},
		{"low safety", signal.TradeSignal{Decision: signal.DecisionShort, Confidence: 80, SafetyScore: 39}, false},
		{"confidence out of range", signal.TradeSignal{Decision: signal.DecisionLong, Confidence: 120, SafetyScore: 60}, false},
		{"long sl above entry", signal.TradeSignal{Decision: signal.DecisionLong, Confidence: 70, SafetyScore: 60, Entry: 100, Stoploss: 101}, false},
		{"short sl below entry", signal.TradeSignal{Decision: signal.DecisionShort, Confidence: 70, SafetyScore: 60, Entry: 100, Stoploss: 99}, false},
		{"short sl above entry", signal.TradeSignal{Decision: signal.DecisionShort, Confidence: 70, SafetyScore: 60, Entry: 100, Stoploss: 105}, true},
		{"unknown decision", signal.TradeSignal{Decision: "HOLD", Confidence: 70, SafetyScore: 60}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := m.ValidateSignal(tt.sig)
			if got != tt.want {
				t.Errorf("got %v (%s), want %v", got, reason, tt.want)
			}
		})
	}
}

func TestStatusPayload(t *testing.T) {
	m := NewManager(DefaultConfig(), nil)
	m.now = func() time.Time { return istTime(11, 0, time.Monday) }
	m.UpdatePnL(-1234.567)

	st := m.Status()
	if st["daily_pnl"].(float64) != -1234.57 {
		t.Errorf("daily_pnl = %v", st["daily_pnl"])
	}
	if st["remaining"].(float64) != 23765.43 {
		t.Errorf("remaining = %v", st["remaining"])
	}
	if st["market_open"].(bool) != true {
		t.Errorf("market_open = %v", st["market_open"])
	}
}
