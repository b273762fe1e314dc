package db

import (
	"database/sql"
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS risk_metrics (
    date TEXT PRIMARY KEY,
    daily_pnl REAL NOT NULL DEFAULT 0,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS signals (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    decision TEXT NOT NULL,
    confidence INTEGER NOT NULL,
    safety_score INTEGER NOT NULL,
    entry REAL,
    stoploss REAL,
    risk_reward TEXT,
    accepted INTEGER NOT NULL DEFAULT 1,
    reject_reason TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_signals_session ON signals(session_id, created_at);
`

// Migrate applies the schema. Idempotent.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
