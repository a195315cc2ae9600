// FILE: exchange.go
// Package main – Exchange abstractions shared by all execution backends.
//
// This file defines the minimal interface the trading loop needs to talk to a
// market-execution backend (paper or real):
//   • Exchange interface: price/candle lookup, market orders, order status,
//     balances
//   • Common types: OrderSide, Candle, OrderStatus
//
// Two concrete implementations live in separate files:
//   • exchange_paper.go – in-memory paper venue (dry runs, tests)
//   • exchange_upbit.go – Upbit REST client

package main

import (
	"context"
	"time"
)

// OrderSide is the side of a trade.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// Candle is one daily OHLCV bar, immutable once produced by the venue.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Order states as the loop distinguishes them.
const (
	OrderStateWait   = "wait"
	OrderStateDone   = "done"
	OrderStateCancel = "cancel"
)

// OrderStatus is a normalized view of a submitted order.
type OrderStatus struct {
	ID        string
	Symbol    string
	Side      OrderSide
	State     string  // wait | done | cancel
	FilledQty float64 // executed base quantity
	AvgPrice  float64 // volume-weighted fill price; 0 if nothing filled
}

// Filled reports whether the order executed any quantity.
func (o *OrderStatus) Filled() bool { return o != nil && o.FilledQty > 0 }

// Terminal reports whether the venue will no longer change this order.
func (o *OrderStatus) Terminal() bool {
	return o != nil && (o.State == OrderStateDone || o.State == OrderStateCancel)
}

// Exchange is the minimal surface the bot needs to operate. Callers are
// responsible for routing every method through the rate limiter/retry
// wrapper; implementations perform exactly one venue call per invocation.
type Exchange interface {
	Name() string
	// GetCurrentPrice returns the last traded price for symbol.
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
	// GetDailyCandles returns up to count daily bars, oldest first, the last
	// one being the still-forming day.
	GetDailyCandles(ctx context.Context, symbol string, count int) ([]Candle, error)
	// PlaceMarketBuy spends amount of quote currency; returns the order ID.
	PlaceMarketBuy(ctx context.Context, symbol string, amount float64) (string, error)
	// PlaceMarketSell sells qty of base currency; returns the order ID.
	PlaceMarketSell(ctx context.Context, symbol string, qty float64) (string, error)
	// GetOrder returns current status for a previously placed order.
	GetOrder(ctx context.Context, orderID string) (*OrderStatus, error)
	// GetBalance returns the available balance of one currency ("KRW", "BTC"…).
	GetBalance(ctx context.Context, currency string) (float64, error)
}
