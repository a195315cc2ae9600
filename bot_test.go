// FILE: bot_test.go

package main

import (
	"context"
	"testing"
	"time"
)

func botFixture(t *testing.T, startingKRW float64) (*Bot, *Account, *PaperExchange) {
	t.Helper()
	cfg := testConfig(t)
	paper := NewPaperExchange(cfg.FeeRate, startingKRW)
	seedBullMarket(paper)
	a := testAccount(t, cfg, paper)
	engine := NewSignalEngine(cfg, paper, NewRateLimiter(categoryQuotes, 1000))
	bot := NewBot(cfg, engine, []*Account{a}, NewNotifier("", "", false, time.Minute), nil)
	return bot, a, paper
}

// Two breakouts in one cycle: equity is split evenly across the universe and
// each buy spends min(allocation, remaining cash × safety factor).
func TestCycleAllocatesEquityAcrossSymbols(t *testing.T) {
	bot, a, paper := botFixture(t, 1_000_000)
	paper.SetPrice("BTC", 106) // target 105, +0.95% still inside the entry band
	paper.SetPrice("ETH", 55.2)

	if err := bot.cycle(context.Background(), a); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	fee := bot.cfg.FeeRate
	btc, ok := a.positions.Get("BTC")
	if !ok {
		t.Fatal("BTC not bought")
	}
	// Allocation 500000, safety factor 0.99: 495000 spent at 106.
	if want := 500_000 * 0.99 / (106 * (1 + fee)); !approxEqual(btc.Quantity, want, 1e-9) {
		t.Errorf("BTC qty = %v, want %v", btc.Quantity, want)
	}

	eth, ok := a.positions.Get("ETH")
	if !ok {
		t.Fatal("ETH not bought")
	}
	if want := 495_000 / (55.2 * (1 + fee)); !approxEqual(eth.Quantity, want, 1e-9) {
		t.Errorf("ETH qty = %v, want %v", eth.Quantity, want)
	}

	if krw, _ := paper.GetBalance(context.Background(), "KRW"); !approxEqual(krw, 10_000, 1e-6) {
		t.Errorf("residual cash = %v, want 10000", krw)
	}
}

func TestCycleSkipsUntouchedTargets(t *testing.T) {
	bot, a, paper := botFixture(t, 1_000_000)
	paper.SetPrice("BTC", 104) // below target 105
	paper.SetPrice("ETH", 50)  // below target 55

	if err := bot.cycle(context.Background(), a); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if a.positions.Has("BTC") || a.positions.Has("ETH") {
		t.Error("bought without a breakout")
	}
	if krw, _ := paper.GetBalance(context.Background(), "KRW"); !approxEqual(krw, 1_000_000, 1e-9) {
		t.Errorf("cash moved without a breakout: %v", krw)
	}
}

// Exits run before entries so freed cash funds the same cycle's buys.
func TestCycleSellsBeforeBuys(t *testing.T) {
	bot, a, paper := botFixture(t, 1_000_000)
	// ETH turns bear while BTC (also the reference) stays bull.
	paper.SetCandles("ETH", dailyCandles(signalBars, 50, 56, 46, 45, 50))
	paper.SetPrice("BTC", 105.5)
	paper.SetPrice("ETH", 48)
	paper.SetBalance("ETH", 2)
	if err := a.positions.RecordBuy("ETH", 2, 50); err != nil {
		t.Fatal(err)
	}

	if err := bot.cycle(context.Background(), a); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	if a.positions.Has("ETH") {
		t.Error("exit signal ignored")
	}
	if left, _ := paper.GetBalance(context.Background(), "ETH"); !approxEqual(left, 0, 1e-9) {
		t.Errorf("ETH wallet = %v after exit, want 0", left)
	}
	if !a.positions.Has("BTC") {
		t.Error("BTC breakout not entered in the same cycle")
	}
}

func TestCycleFailsClosedOnSignalOutage(t *testing.T) {
	bot, a, paper := botFixture(t, 1_000_000)
	paper.SetPrice("BTC", 105.5)
	paper.CandleErr = errDataUnavailable

	if err := bot.cycle(context.Background(), a); err == nil {
		t.Fatal("cycle succeeded without signals")
	}
	if a.positions.Has("BTC") || a.positions.Has("ETH") {
		t.Error("traded during a signal outage")
	}
}

func TestCycleDoesNotRebuyHeldSymbol(t *testing.T) {
	bot, a, paper := botFixture(t, 1_000_000)
	paper.SetPrice("BTC", 105.5)
	paper.SetPrice("ETH", 55.2)
	paper.SetBalance("BTC", 1)
	if err := a.positions.RecordBuy("BTC", 1, 105); err != nil {
		t.Fatal(err)
	}

	if err := bot.cycle(context.Background(), a); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	btc, _ := a.positions.Get("BTC")
	if !approxEqual(btc.Quantity, 1, 1e-9) {
		t.Errorf("held position changed: qty %v", btc.Quantity)
	}
	if !a.positions.Has("ETH") {
		t.Error("unheld breakout not entered")
	}
}

func TestInReportWindow(t *testing.T) {
	loc, _ := time.LoadLocation("Asia/Seoul")
	cases := []struct {
		hh, mm, ss int
		want       bool
	}{
		{9, 0, 0, true},
		{9, 0, 59, true},
		{9, 1, 0, false},
		{8, 59, 59, false},
		{21, 0, 0, false},
	}
	for _, c := range cases {
		now := time.Date(2026, 8, 31, c.hh, c.mm, c.ss, 0, loc)
		if got := inReportWindow(now, loc, 9); got != c.want {
			t.Errorf("%02d:%02d:%02d = %v, want %v", c.hh, c.mm, c.ss, got, c.want)
		}
	}
	// Window follows the configured timezone, not the host clock.
	utc := time.Date(2026, 8, 31, 0, 0, 30, 0, time.UTC) // 09:00:30 KST
	if !inReportWindow(utc, loc, 9) {
		t.Error("UTC instant inside the KST window rejected")
	}
}
