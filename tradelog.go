// FILE: tradelog.go
// Package main – Append-only fill journal backed by SQLite.
//
// One database per account directory. A row is written per confirmed fill
// and never updated; Recent feeds the daily report. WAL mode so the report
// scheduler can read while the loop writes.

package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const tradeSchema = `
CREATE TABLE IF NOT EXISTS trades (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp     TEXT NOT NULL,
	date          TEXT NOT NULL,
	action        TEXT NOT NULL,
	symbol        TEXT NOT NULL,
	price         REAL NOT NULL,
	quantity      REAL NOT NULL,
	amount        REAL NOT NULL,
	profit_pct    REAL,
	profit_amount REAL
);
CREATE INDEX IF NOT EXISTS idx_trades_date ON trades(date);
`

// Trade is one fill row.
type Trade struct {
	Timestamp    time.Time
	Date         string
	Action       string // BUY | SELL
	Symbol       string
	Price        float64
	Quantity     float64
	Amount       float64
	ProfitPct    float64 // sells only
	ProfitAmount float64 // sells only
}

// TradeLog owns the per-account trades database.
type TradeLog struct {
	account string
	db      *sql.DB
}

// OpenTradeLog opens (and migrates) the account's trade database.
func OpenTradeLog(account, dir string) (*TradeLog, error) {
	if err := os.MkdirAll(filepath.Join(dir, account), 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, account, "trades.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := db.Exec(tradeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema migration: %w", err)
	}
	return &TradeLog{account: account, db: db}, nil
}

func (t *TradeLog) Close() error { return t.db.Close() }

// Append writes one fill row.
func (t *TradeLog) Append(ctx context.Context, tr Trade) error {
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO trades (timestamp, date, action, symbol, price, quantity,
			amount, profit_pct, profit_amount)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.Timestamp.Format(time.RFC3339), tr.Date, tr.Action, tr.Symbol,
		tr.Price, tr.Quantity, tr.Amount, tr.ProfitPct, tr.ProfitAmount,
	)
	return err
}

// Recent returns the newest limit fills, newest first.
func (t *TradeLog) Recent(ctx context.Context, limit int) ([]Trade, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT timestamp, date, action, symbol, price, quantity, amount,
			COALESCE(profit_pct, 0), COALESCE(profit_amount, 0)
		FROM trades ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		var tr Trade
		var ts string
		if err := rows.Scan(&ts, &tr.Date, &tr.Action, &tr.Symbol, &tr.Price,
			&tr.Quantity, &tr.Amount, &tr.ProfitPct, &tr.ProfitAmount); err != nil {
			return nil, err
		}
		tr.Timestamp, _ = time.Parse(time.RFC3339, ts)
		out = append(out, tr)
	}
	return out, rows.Err()
}
