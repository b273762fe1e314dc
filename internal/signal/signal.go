// Package signal defines the trade signal produced by chart analysis and
// consumed by the risk engine.
package signal

// Decision constants for TradeSignal.
const (
	DecisionLong    = "LONG"
	DecisionShort   = "SHORT"
	DecisionNoTrade = "NO_TRADE"
)

// TradeSignal is the normalized outcome of a multi-chart analysis.
// Confidence and SafetyScore are percentages in [0,100]; price levels are
// zero when the analysis did not produce them.
type TradeSignal struct {
	Decision    string   `json:"decision"`
	Confidence  int      `json:"confidence"`
	SafetyScore int      `json:"safety_score"`
	Entry       float64  `json:"entry,omitempty"`
	Stoploss    float64  `json:"stoploss,omitempty"`
	Target1     float64  `json:"target1,omitempty"`
	Target2     float64  `json:"target2,omitempty"`
	Target3     float64  `json:"target3,omitempty"`
	RiskReward  string   `json:"risk_reward"`
	Reasoning   []string `json:"reasoning"`
	Warnings    []string `json:"warnings"`
	Timestamp   string   `json:"timestamp,omitempty"`
}

// NoTrade builds a NO_TRADE signal carrying the given warnings.
func NoTrade(warnings ...string) TradeSignal {
	return TradeSignal{
		Decision:   DecisionNoTrade,
		RiskReward: "1:1",
		Reasoning:  []string{},
		Warnings:   warnings,
	}
}
