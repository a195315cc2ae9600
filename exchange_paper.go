// FILE: exchange_paper.go
// Package main – In-memory paper venue (no external calls).
//
// Simulates execution against a settable price table. Used for dry runs and
// throughout the test suite. Fills are instant: a buy of amount KRW yields
// amount/(price*(1+fee)) base units; a sell credits qty*price*(1-fee) KRW.
//
// SetPrice / SetBalance let tests and the dry-run loop script scenarios; the
// candle table backs the signal engine the same way /v1/candles/days would.

package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PaperExchange keeps mutable prices, balances and filled orders in memory.
type PaperExchange struct {
	mu       sync.Mutex
	fee      float64
	prices   map[string]float64
	candles  map[string][]Candle
	balances map[string]float64
	orders   map[string]*OrderStatus

	// FailOrderLookup makes GetOrder fail; tests use it to force the
	// pending-order path after a successful submission.
	FailOrderLookup bool
	// CandleErr, when set, makes GetDailyCandles fail (data-unavailable drills).
	CandleErr error
	// FailBalance makes GetBalance fail, hiding the balance-delta fallback.
	FailBalance bool
}

func NewPaperExchange(fee float64, startingKRW float64) *PaperExchange {
	return &PaperExchange{
		fee:      fee,
		prices:   make(map[string]float64),
		candles:  make(map[string][]Candle),
		balances: map[string]float64{"KRW": startingKRW},
		orders:   make(map[string]*OrderStatus),
	}
}

func (p *PaperExchange) Name() string { return "paper" }

func (p *PaperExchange) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[strings.ToUpper(symbol)] = price
}

func (p *PaperExchange) SetCandles(symbol string, cs []Candle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candles[strings.ToUpper(symbol)] = cs
}

func (p *PaperExchange) SetBalance(currency string, v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[strings.ToUpper(currency)] = v
}

func (p *PaperExchange) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	px, ok := p.prices[strings.ToUpper(symbol)]
	if !ok || px <= 0 {
		return 0, fmt.Errorf("paper price %s: %w", symbol, errDataUnavailable)
	}
	return px, nil
}

func (p *PaperExchange) GetDailyCandles(ctx context.Context, symbol string, count int) ([]Candle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CandleErr != nil {
		return nil, p.CandleErr
	}
	cs := p.candles[strings.ToUpper(symbol)]
	if len(cs) == 0 {
		return nil, fmt.Errorf("paper candles %s: %w", symbol, errDataUnavailable)
	}
	if count > 0 && len(cs) > count {
		cs = cs[len(cs)-count:]
	}
	out := make([]Candle, len(cs))
	copy(out, cs)
	return out, nil
}

func (p *PaperExchange) PlaceMarketBuy(ctx context.Context, symbol string, amount float64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	symbol = strings.ToUpper(symbol)
	px := p.prices[symbol]
	if px <= 0 {
		return "", fmt.Errorf("paper price %s: %w", symbol, errDataUnavailable)
	}
	if amount <= 0 {
		return "", fmt.Errorf("%w: buy amount must be > 0", errOrderRejected)
	}
	if p.balances["KRW"] < amount {
		return "", &apiError{Status: 400, Body: "insufficient funds"}
	}
	qty := amount / (px * (1 + p.fee))
	p.balances["KRW"] -= amount
	p.balances[symbol] += qty
	id := uuid.New().String()
	p.orders[id] = &OrderStatus{
		ID: id, Symbol: symbol, Side: SideBuy,
		State: OrderStateDone, FilledQty: qty, AvgPrice: px,
	}
	return id, nil
}

func (p *PaperExchange) PlaceMarketSell(ctx context.Context, symbol string, qty float64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	symbol = strings.ToUpper(symbol)
	px := p.prices[symbol]
	if px <= 0 {
		return "", fmt.Errorf("paper price %s: %w", symbol, errDataUnavailable)
	}
	if qty <= 0 || p.balances[symbol] < qty*(1-1e-9) {
		return "", &apiError{Status: 400, Body: "insufficient balance"}
	}
	p.balances[symbol] -= qty
	p.balances["KRW"] += qty * px * (1 - p.fee)
	id := uuid.New().String()
	p.orders[id] = &OrderStatus{
		ID: id, Symbol: symbol, Side: SideSell,
		State: OrderStateDone, FilledQty: qty, AvgPrice: px,
	}
	return id, nil
}

func (p *PaperExchange) GetOrder(ctx context.Context, orderID string) (*OrderStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailOrderLookup {
		return nil, &apiError{Status: 500, Body: "order lookup unavailable"}
	}
	st, ok := p.orders[orderID]
	if !ok {
		return nil, &apiError{Status: 404, Body: "order not found"}
	}
	cp := *st
	return &cp, nil
}

func (p *PaperExchange) GetBalance(ctx context.Context, currency string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailBalance {
		return 0, &apiError{Status: 500, Body: "balance unavailable"}
	}
	return p.balances[strings.ToUpper(currency)], nil
}

// AdvanceDay appends a fresh forming bar opening at open; tests use it to
// cross trading-day boundaries deterministically.
func (p *PaperExchange) AdvanceDay(symbol string, day time.Time, open float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	symbol = strings.ToUpper(symbol)
	p.candles[symbol] = append(p.candles[symbol], Candle{
		Time: day, Open: open, High: open, Low: open, Close: open,
	})
}
