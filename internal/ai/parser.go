package ai

import (
	"regexp"
	"strconv"
	"strings"

	"chartvision/internal/signal"
)

var (
	reDecision   = regexp.MustCompile(`(?i)TRADE_DECISION:\s*\*?\*?(LONG|SHORT|NO_TRADE)`)
	reConfidence = regexp.MustCompile(`(?i)CONFIDENCE:\s*\*?\*?(\d+)`)
	reSafety     = regexp.MustCompile(`(?i)SAFETY_SCORE:\s*\*?\*?(\d+)`)
	reEntry      = regexp.MustCompile(`(?i)ENTRY:\s*[₹~]?([\d,\.]+)`)
	reStoploss   = regexp.MustCompile(`(?i)STOPLOSS:\s*[₹~]?([\d,\.]+)`)
	reTarget1    = regexp.MustCompile(`(?i)TARGET_?1:\s*[₹~]?([\d,\.]+)`)
	reTarget2    = regexp.MustCompile(`(?i)TARGET_?2:\s*[₹~]?([\d,\.]+)`)
	reTarget3    = regexp.MustCompile(`(?i)TARGET_?3:\s*[₹~]?([\d,\.]+)`)
	reRiskReward = regexp.MustCompile(`(?i)RISK_REWARD:\s*(.+)`)
	reBullet     = regexp.MustCompile(`[-•*]\s*(.+)`)
	reWarnBlock  = regexp.MustCompile(`(?i)WARNINGS?:?\s*\n((?:[-•*].+\n?)+)`)
)

// ParseSignal extracts a trade signal from the model's free-text reply.
// Missing fields fall back to conservative defaults; a reply with no
// recognizable decision is NO_TRADE.
func ParseSignal(text string) signal.TradeSignal {
	decision := signal.DecisionNoTrade
	if m := reDecision.FindStringSubmatch(text); m != nil {
		decision = strings.ToUpper(m[1])
	}

	confidence := extractInt(reConfidence, text, 50)
	// An unstated safety score never exceeds the model's own confidence.
	safety := extractInt(reSafety, text, min(confidence, 85))

	riskReward := "1:1"
	if m := reRiskReward.FindStringSubmatch(text); m != nil {
		if v := strings.TrimSpace(m[1]); v != "" {
			riskReward = v
		}
	}

	var reasoning []string
	for _, m := range reBullet.FindAllStringSubmatch(text, -1) {
		line := strings.TrimSpace(m[1])
		if len(line) > 10 && len(line) < 200 {
			reasoning = append(reasoning, line)
		}
		if len(reasoning) == 10 {
			break
		}
	}

	var warnings []string
	if block := reWarnBlock.FindStringSubmatch(text); block != nil {
		for _, m := range reBullet.FindAllStringSubmatch(block[1], -1) {
			if line := strings.TrimSpace(m[1]); line != "" {
				warnings = append(warnings, line)
			}
			if len(warnings) == 5 {
				break
			}
		}
	}

	return signal.TradeSignal{
		Decision:    decision,
		Confidence:  confidence,
		SafetyScore: safety,
		Entry:       extractPrice(reEntry, text),
		Stoploss:    extractPrice(reStoploss, text),
		Target1:     extractPrice(reTarget1, text),
		Target2:     extractPrice(reTarget2, text),
		Target3:     extractPrice(reTarget3, text),
		RiskReward:  riskReward,
		Reasoning:   reasoning,
		Warnings:    warnings,
	}
}

func extractInt(re *regexp.Regexp, text string, fallback int) int {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return clamp(fallback)
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return clamp(fallback)
	}
	return clamp(v)
}

func extractPrice(re *regexp.Regexp, text string) float64 {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	cleaned := strings.NewReplacer(",", "", "₹", "", "~", "").Replace(m[1])
	cleaned = strings.TrimRight(cleaned, ".")
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return v
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
