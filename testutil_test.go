// FILE: testutil_test.go
// Package main – Shared fixtures for the test suite.

package main

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// testConfig returns a validated config pointed at a throwaway data dir with
// fast retry/backoff so failure-path tests do not crawl.
func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := defaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Heartbeat = filepath.Join(cfg.DataDir, ".heartbeat")
	cfg.RetryAttempts = 1
	cfg.RetryBaseMS = 1
	cfg.OrderDelayMS = 0
	cfg.TimeoutS = 5
	if err := cfg.validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return cfg
}

func testAccount(t *testing.T, cfg Config, ex Exchange) *Account {
	t.Helper()
	a, err := NewAccount(cfg, "test", ex, ex,
		NewRateLimiter(categoryOrders, 1000),
		NewRateLimiter(categoryQuotes, 1000),
		nil, NewNotifier("", "", false, time.Minute))
	if err != nil {
		t.Fatalf("NewAccount: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

// dailyCandles builds n daily bars: n-2 flat bars at base, one completed bar
// with the given range and close, and a forming bar opening at formingOpen.
// The forming bar carries absurd high/low/close values so any strategy code
// that peeks at the current day's extremes produces visibly wrong targets.
func dailyCandles(n int, base, prevHigh, prevLow, prevClose, formingOpen float64) []Candle {
	day := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	cs := make([]Candle, 0, n)
	for i := 0; i < n-2; i++ {
		cs = append(cs, Candle{
			Time: day.AddDate(0, 0, i),
			Open: base, High: base, Low: base, Close: base,
		})
	}
	cs = append(cs, Candle{
		Time: day.AddDate(0, 0, n-2),
		Open: base, High: prevHigh, Low: prevLow, Close: prevClose,
	})
	cs = append(cs, Candle{
		Time: day.AddDate(0, 0, n-1),
		Open: formingOpen, High: formingOpen * 10, Low: formingOpen / 10, Close: formingOpen * 9,
	})
	return cs
}

const signalBars = 25 // max(MAShort=5, RefMA=20) + 5

// seedBullMarket gives BTC and ETH histories where both entry filters pass.
// Targets: BTC 100 + (110-100)*0.5 = 105, ETH 50 + (56-46)*0.5 = 55.
func seedBullMarket(p *PaperExchange) {
	p.SetCandles("BTC", dailyCandles(signalBars, 100, 110, 100, 104, 100))
	p.SetCandles("ETH", dailyCandles(signalBars, 50, 56, 46, 54, 50))
}

// countingExchange counts candle fetches to observe cache behavior.
type countingExchange struct {
	Exchange
	mu          sync.Mutex
	candleCalls int
}

func (c *countingExchange) GetDailyCandles(ctx context.Context, symbol string, count int) ([]Candle, error) {
	c.mu.Lock()
	c.candleCalls++
	c.mu.Unlock()
	return c.Exchange.GetDailyCandles(ctx, symbol, count)
}

func (c *countingExchange) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.candleCalls
}

func approxEqual(a, b, tol float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= tol
}
