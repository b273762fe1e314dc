package events

import (
	"chartvision/internal/signal"
	"chartvision/pkg/brokers/common"
)

// Topic enumerates high-level event streams inside the gateway.
type Topic string

const (
	TopicSignal          Topic = "signal.generated"
	TopicOrderPlaced     Topic = "order.placed"
	TopicBrokerConnected Topic = "broker.connected"
	TopicRiskAlert       Topic = "risk.alert"
)

// SignalEvent is published whenever an AI analysis completes.
type SignalEvent struct {
	SessionID string             `json:"session_id"`
	Signal    signal.TradeSignal `json:"signal"`
	Accepted  bool               `json:"accepted"`
}

// OrderEvent is published after an order reaches a terminal submit
// state, paper or live.
type OrderEvent struct {
	SessionID string              `json:"session_id"`
	Mode      string              `json:"mode"`
	Request   common.OrderRequest `json:"request"`
	Result    common.OrderResult  `json:"result"`
}

// BrokerEvent is published when a session binds or drops a broker.
type BrokerEvent struct {
	SessionID string            `json:"session_id"`
	Broker    common.BrokerType `json:"broker"`
	Connected bool              `json:"connected"`
}

// RiskEvent is published when a risk gate rejects an action.
type RiskEvent struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}
