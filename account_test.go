// FILE: account_test.go

package main

import (
	"context"
	"testing"
	"time"
)

func TestBuySkipsBelowVenueMinimum(t *testing.T) {
	cfg := testConfig(t)
	paper := NewPaperExchange(cfg.FeeRate, 1_000_000)
	paper.SetPrice("BTC", 100)
	a := testAccount(t, cfg, paper)

	if out := a.Buy(context.Background(), "BTC", 100, cfg.MinOrderKRW-1); out != OutcomeSkipped {
		t.Fatalf("got %v, want skipped", out)
	}
	if a.positions.Has("BTC") {
		t.Error("position recorded for a skipped order")
	}
	if krw, _ := paper.GetBalance(context.Background(), "KRW"); !approxEqual(krw, 1_000_000, 1e-9) {
		t.Errorf("cash moved on a skipped order: %v", krw)
	}
}

// Late-entry protection applies regardless of how attractive the signal is:
// a price that ran more than LateEntryPct away from the target is not chased,
// in either direction.
func TestBuySkipsLateEntry(t *testing.T) {
	cfg := testConfig(t)
	paper := NewPaperExchange(cfg.FeeRate, 1_000_000)
	a := testAccount(t, cfg, paper)
	ctx := context.Background()

	paper.SetPrice("BTC", 106) // +6% over target 100, limit is 1%
	if out := a.Buy(ctx, "BTC", 100, 500_000); out != OutcomeSkipped {
		t.Fatalf("price above band: got %v, want skipped", out)
	}
	paper.SetPrice("BTC", 97.5) // -2.5% under target
	if out := a.Buy(ctx, "BTC", 100, 500_000); out != OutcomeSkipped {
		t.Fatalf("price below band: got %v, want skipped", out)
	}
	if a.positions.Has("BTC") {
		t.Error("late entry bought anyway")
	}
}

func TestBuyFillRecorded(t *testing.T) {
	cfg := testConfig(t)
	paper := NewPaperExchange(cfg.FeeRate, 1_000_000)
	paper.SetPrice("BTC", 105.5)
	a := testAccount(t, cfg, paper)

	if out := a.Buy(context.Background(), "BTC", 105, 500_000); out != OutcomeFilled {
		t.Fatalf("got %v, want filled", out)
	}

	pos, ok := a.positions.Get("BTC")
	if !ok {
		t.Fatal("no position after fill")
	}
	wantQty := 500_000 / (105.5 * (1 + cfg.FeeRate))
	if !approxEqual(pos.Quantity, wantQty, 1e-9) {
		t.Errorf("qty = %v, want %v", pos.Quantity, wantQty)
	}
	if !approxEqual(pos.AvgPrice, 105.5, 1e-9) {
		t.Errorf("avg price = %v, want 105.5", pos.AvgPrice)
	}
	if krw, _ := paper.GetBalance(context.Background(), "KRW"); !approxEqual(krw, 500_000, 1e-6) {
		t.Errorf("cash = %v, want 500000", krw)
	}
}

func TestBuyRejectedByVenueIsSkip(t *testing.T) {
	cfg := testConfig(t)
	paper := NewPaperExchange(cfg.FeeRate, 1_000) // cannot cover the order
	paper.SetPrice("BTC", 100)
	a := testAccount(t, cfg, paper)

	if out := a.Buy(context.Background(), "BTC", 100, 6_000); out != OutcomeSkipped {
		t.Fatalf("got %v, want skipped on venue rejection", out)
	}
	if _, pending := a.state.Pending("BTC"); pending {
		t.Error("rejected order left a pending record")
	}
}

// A submitted buy whose fill cannot be confirmed becomes a pending order and
// blocks re-entry; reconciliation folds it in once the venue answers again.
func TestBuyUnresolvedPendsThenReconciles(t *testing.T) {
	cfg := testConfig(t)
	paper := NewPaperExchange(cfg.FeeRate, 1_000_000)
	paper.SetPrice("BTC", 105)
	paper.FailOrderLookup = true
	paper.FailBalance = true
	a := testAccount(t, cfg, paper)
	ctx := context.Background()

	if out := a.Buy(ctx, "BTC", 105, 500_000); out != OutcomePending {
		t.Fatalf("got %v, want pending", out)
	}
	if a.positions.Has("BTC") {
		t.Error("unconfirmed fill entered the position book")
	}
	p, ok := a.state.Pending("BTC")
	if !ok {
		t.Fatal("no pending order recorded")
	}
	if p.Side != SideBuy || !approxEqual(p.Amount, 500_000, 1e-9) {
		t.Errorf("pending order mangled: %+v", p)
	}
	if a.state.CanBuy("BTC", time.Now()) {
		t.Error("symbol with unresolved order accepts new buys")
	}
	if out := a.Buy(ctx, "BTC", 105, 500_000); out != OutcomeSkipped {
		t.Fatalf("second buy while pending: got %v, want skipped", out)
	}

	// Venue recovers; the next cycle resolves the order into the book.
	paper.FailOrderLookup = false
	paper.FailBalance = false
	a.ReconcilePending(ctx)

	if _, ok := a.state.Pending("BTC"); ok {
		t.Fatal("pending order not resolved")
	}
	pos, ok := a.positions.Get("BTC")
	if !ok {
		t.Fatal("recovered fill missing from position book")
	}
	wantQty := 500_000 / (105 * (1 + cfg.FeeRate))
	if !approxEqual(pos.Quantity, wantQty, 1e-9) {
		t.Errorf("recovered qty = %v, want %v", pos.Quantity, wantQty)
	}
	if !a.state.CanBuy("BTC", time.Now()) {
		t.Error("cooldown not lifted after recovery")
	}
}

// When the pre-order balance was never observed, reconciliation must not use
// the balance-delta fallback: coins already sitting in the wallet would be
// booked as this order's fill and a later exit would sell them.
func TestReconcileNeedsBaselineForBalanceDelta(t *testing.T) {
	cfg := testConfig(t)
	paper := NewPaperExchange(cfg.FeeRate, 1_000_000)
	paper.SetPrice("BTC", 100_000)
	paper.FailOrderLookup = true
	paper.FailBalance = true
	a := testAccount(t, cfg, paper)
	ctx := context.Background()

	if out := a.Buy(ctx, "BTC", 100_000, 500_000); out != OutcomePending {
		t.Fatalf("got %v, want pending", out)
	}
	p, ok := a.state.Pending("BTC")
	if !ok {
		t.Fatal("no pending order recorded")
	}
	if p.PreQtyKnown {
		t.Fatal("pre-order balance marked observed despite the lookup failing")
	}

	// Venue recovers reporting the order still unfilled, while the wallet
	// holds 5 BTC the bot never bought.
	paper.FailOrderLookup = false
	paper.FailBalance = false
	paper.mu.Lock()
	paper.orders[p.OrderID] = &OrderStatus{
		ID: p.OrderID, Symbol: "BTC", Side: SideBuy, State: OrderStateWait,
	}
	paper.mu.Unlock()
	paper.SetBalance("BTC", 5)

	a.ReconcilePending(ctx)

	if pos, ok := a.positions.Get("BTC"); ok {
		t.Fatalf("position invented from non-bot holdings: qty=%v avg=%v", pos.Quantity, pos.AvgPrice)
	}
	if _, ok := a.state.Pending("BTC"); !ok {
		t.Error("order discarded instead of staying pending until it resolves")
	}
}

func TestReconcileDiscardsExpiredUnknownOrder(t *testing.T) {
	cfg := testConfig(t)
	paper := NewPaperExchange(cfg.FeeRate, 1_000_000)
	a := testAccount(t, cfg, paper)

	a.state.BeginPending(PendingOrder{
		OrderID: "ghost", Symbol: "BTC", Side: SideBuy,
		Amount:    500_000,
		CreatedAt: time.Now().Add(-2 * time.Duration(cfg.PendingExpirS) * time.Second),
	})
	a.ReconcilePending(context.Background())

	if _, ok := a.state.Pending("BTC"); ok {
		t.Error("expired unknown order still pending")
	}
	if !a.state.CanBuy("BTC", time.Now()) {
		t.Error("expired order still blocks the symbol")
	}
	if a.positions.Has("BTC") {
		t.Error("expired order invented a position")
	}
}

// Sells are capped at the tracked quantity: coins the bot never bought stay
// in the wallet.
func TestSellCapsAtTrackedQuantity(t *testing.T) {
	cfg := testConfig(t)
	paper := NewPaperExchange(cfg.FeeRate, 0)
	paper.SetPrice("BTC", 120)
	paper.SetBalance("BTC", 5) // 2 of these are not bot-owned
	a := testAccount(t, cfg, paper)
	if err := a.positions.RecordBuy("BTC", 3, 100); err != nil {
		t.Fatal(err)
	}

	if out := a.Sell(context.Background(), "BTC"); out != OutcomeFilled {
		t.Fatalf("got %v, want filled", out)
	}
	if a.positions.Has("BTC") {
		t.Error("fully sold position still tracked")
	}
	if left, _ := paper.GetBalance(context.Background(), "BTC"); !approxEqual(left, 2, 1e-9) {
		t.Errorf("wallet balance = %v, want 2 untouched", left)
	}
	wantKRW := 3 * 120 * (1 - cfg.FeeRate)
	if krw, _ := paper.GetBalance(context.Background(), "KRW"); !approxEqual(krw, wantKRW, 1e-6) {
		t.Errorf("proceeds = %v, want %v", krw, wantKRW)
	}
}

// A tracked position whose wallet balance stays zero is dropped only after
// repeated sightings, tolerating settlement lag.
func TestSellZeroBalanceThreeStrikes(t *testing.T) {
	cfg := testConfig(t)
	paper := NewPaperExchange(cfg.FeeRate, 0)
	paper.SetPrice("BTC", 100)
	a := testAccount(t, cfg, paper)
	if err := a.positions.RecordBuy("BTC", 1, 100); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	for i := 1; i < zeroBalanceRetryLimit; i++ {
		if out := a.Sell(ctx, "BTC"); out != OutcomeError {
			t.Fatalf("strike %d: got %v, want error", i, out)
		}
		if !a.positions.Has("BTC") {
			t.Fatalf("position dropped after only %d strike(s)", i)
		}
	}
	if out := a.Sell(ctx, "BTC"); out != OutcomeSkipped {
		t.Fatalf("final strike: got %v, want skipped", out)
	}
	if a.positions.Has("BTC") {
		t.Error("orphaned position not removed after final strike")
	}
}

func TestSellWithoutPositionSkips(t *testing.T) {
	cfg := testConfig(t)
	paper := NewPaperExchange(cfg.FeeRate, 0)
	a := testAccount(t, cfg, paper)

	if out := a.Sell(context.Background(), "BTC"); out != OutcomeSkipped {
		t.Fatalf("got %v, want skipped", out)
	}
}
