// Package db owns the SQLite handle, schema and the signal audit log.
package db

import (
	"context"
	"fmt"
	"time"
)

// SignalRecord is one audited AI signal.
type SignalRecord struct {
	ID           int64     `json:"id"`
	SessionID    string    `json:"session_id"`
	Decision     string    `json:"decision"`
	Confidence   int       `json:"confidence"`
	SafetyScore  int       `json:"safety_score"`
	Entry        float64   `json:"entry,omitempty"`
	Stoploss     float64   `json:"stoploss,omitempty"`
	RiskReward   string    `json:"risk_reward,omitempty"`
	Accepted     bool      `json:"accepted"`
	RejectReason string    `json:"reject_reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// InsertSignal appends one signal to the audit log.
func (d *Database) InsertSignal(ctx context.Context, rec SignalRecord) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO signals (session_id, decision, confidence, safety_score, entry, stoploss, risk_reward, accepted, reject_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Decision, rec.Confidence, rec.SafetyScore,
		rec.Entry, rec.Stoploss, rec.RiskReward, rec.Accepted, rec.RejectReason)
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

// RecentSignals returns the latest audited signals for a session,
// newest first.
func (d *Database) RecentSignals(ctx context.Context, sessionID string, limit int) ([]SignalRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, session_id, decision, confidence, safety_score,
		       COALESCE(entry, 0), COALESCE(stoploss, 0), COALESCE(risk_reward, ''),
		       accepted, COALESCE(reject_reason, ''), created_at
		FROM signals
		WHERE session_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()

	var out []SignalRecord
	for rows.Next() {
		var rec SignalRecord
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Decision, &rec.Confidence, &rec.SafetyScore,
			&rec.Entry, &rec.Stoploss, &rec.RiskReward, &rec.Accepted, &rec.RejectReason, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
