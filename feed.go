// FILE: feed.go
// Package main – Websocket ticker cache (optional).
//
// Streams last-trade prices from Upbit's public websocket into an in-memory
// table. The account loops prefer a fresh cached price over a REST quote,
// which keeps 1-second polling across many symbols inside the quotation
// budget. Reconnects with a short pause on any stream error; the loops fall
// back to REST transparently while the feed is down.

package main

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const upbitWSURL = "wss://api.upbit.com/websocket/v1"

// TickerFeed caches the last traded price per symbol.
type TickerFeed struct {
	symbols []string
	maxAge  time.Duration

	mu     sync.Mutex
	prices map[string]tickerPoint
}

type tickerPoint struct {
	price float64
	at    time.Time
}

func NewTickerFeed(symbols []string, maxAge time.Duration) *TickerFeed {
	return &TickerFeed{
		symbols: symbols,
		maxAge:  maxAge,
		prices:  make(map[string]tickerPoint),
	}
}

// Price returns the cached price if it is fresher than maxAge.
func (f *TickerFeed) Price(symbol string) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[symbol]
	if !ok || time.Since(p.at) > f.maxAge {
		return 0, false
	}
	return p.price, true
}

func (f *TickerFeed) setPrice(symbol string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = tickerPoint{price: price, at: time.Now()}
}

// Run streams until ctx is done, reconnecting on errors.
func (f *TickerFeed) Run(ctx context.Context) {
	for {
		if err := f.connect(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[FEED] disconnected: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
			log.Printf("[FEED] reconnecting...")
		}
	}
}

type upbitTickerMsg struct {
	Code       string  `json:"code"` // "KRW-BTC"
	TradePrice float64 `json:"trade_price"`
}

func (f *TickerFeed) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, upbitWSURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	codes := make([]string, len(f.symbols))
	for i, s := range f.symbols {
		codes[i] = market(s)
	}
	sub := []any{
		map[string]string{"ticket": "vbobot"},
		map[string]any{"type": "ticker", "codes": codes},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var t upbitTickerMsg
		if err := json.Unmarshal(msg, &t); err != nil {
			continue
		}
		if t.TradePrice <= 0 || len(t.Code) <= 4 {
			continue
		}
		f.setPrice(t.Code[len("KRW-"):], t.TradePrice)
	}
}
