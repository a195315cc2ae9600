// FILE: signals.go
// Package main – Daily volatility-breakout signal engine.
//
// One DailySignal per symbol per trading day:
//   target     = today_open + (prev_high − prev_low) × noise_ratio
//   can_buy    = symbol prev close > its prev MA   AND   ref prev close > ref prev MA
//   should_sell= either filter false
//
// Every filter input comes from the previous COMPLETED bar (index len-2);
// only the forming bar's open participates. The cache is keyed by trading
// date, which rolls at the configured boundary hour in the configured
// timezone. A failed recompute clears the cache and reports unavailable —
// stale signals must never authorize a new entry.

package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"
)

// DailySignal is the per-symbol breakout signal for one trading day.
type DailySignal struct {
	Symbol      string
	TargetPrice float64
	CanBuy      bool
	ShouldSell  bool
	Date        string // trading-day identifier, e.g. "2026-08-31"
}

// SignalEngine computes and caches signals; shared by all account loops
// (signals depend on market data only, never on account state).
type SignalEngine struct {
	cfg    Config
	ex     Exchange
	quotes *RateLimiter

	mu      sync.Mutex
	signals map[string]DailySignal
	date    string
}

func NewSignalEngine(cfg Config, ex Exchange, quotes *RateLimiter) *SignalEngine {
	return &SignalEngine{cfg: cfg, ex: ex, quotes: quotes}
}

// tradingDate maps a wall-clock instant to its trading-day identifier.
// Before the boundary hour the instant still belongs to the previous day.
func (s *SignalEngine) tradingDate(now time.Time) string {
	local := now.In(s.cfg.Location())
	if local.Hour() < s.cfg.BoundaryHour {
		local = local.AddDate(0, 0, -1)
	}
	return local.Format("2006-01-02")
}

// All returns the cached signals for the trading day containing now,
// recomputing when the day has rolled over. On a failed recompute the cache
// is cleared and errDataUnavailable is returned: entries stay disabled until
// a later call succeeds.
func (s *SignalEngine) All(ctx context.Context, now time.Time) (map[string]DailySignal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	date := s.tradingDate(now)
	if date == s.date && s.signals != nil {
		return s.copyLocked(), nil
	}

	sigs, err := s.compute(ctx, date)
	if err != nil {
		// Fail closed: drop whatever was cached, force a retry next cycle.
		s.signals = nil
		mtxSignalComputes.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("signal recompute for %s: %w", date, err)
	}
	s.signals = sigs
	s.date = date
	mtxSignalComputes.WithLabelValues("ok").Inc()
	log.Printf("[SIGNALS] %s computed for %d symbol(s)", date, len(sigs))
	return s.copyLocked(), nil
}

// Get is the single-symbol view of All.
func (s *SignalEngine) Get(ctx context.Context, symbol string, now time.Time) (DailySignal, bool, error) {
	all, err := s.All(ctx, now)
	if err != nil {
		return DailySignal{}, false, err
	}
	sig, ok := all[symbol]
	return sig, ok, nil
}

func (s *SignalEngine) copyLocked() map[string]DailySignal {
	out := make(map[string]DailySignal, len(s.signals))
	for k, v := range s.signals {
		out[k] = v
	}
	return out
}

func (s *SignalEngine) ma(c []Candle) []float64 {
	n := s.cfg.MAShort
	if s.cfg.MAKind == MAExponential {
		return EMA(c, n)
	}
	return SMA(c, n)
}

func (s *SignalEngine) fetchCandles(ctx context.Context, symbol string, count int) ([]Candle, error) {
	var candles []Candle
	err := callWithRetry(ctx, s.quotes, s.cfg.RetryAttempts, s.cfg.RetryBase(), func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout())
		defer cancel()
		cs, err := s.ex.GetDailyCandles(cctx, symbol, count)
		if err != nil {
			return err
		}
		candles = cs
		return nil
	})
	return candles, err
}

func (s *SignalEngine) compute(ctx context.Context, date string) (map[string]DailySignal, error) {
	bars := s.cfg.MAShort
	if s.cfg.RefMA > bars {
		bars = s.cfg.RefMA
	}
	bars += 5

	// Reference filter (market regime) first; without it nothing is tradable.
	ref, err := s.fetchCandles(ctx, s.cfg.RefSymbol, bars)
	if err != nil {
		return nil, fmt.Errorf("ref %s: %w", s.cfg.RefSymbol, err)
	}
	if len(ref) < s.cfg.RefMA+1 {
		return nil, fmt.Errorf("ref %s: %d bars < %d: %w", s.cfg.RefSymbol, len(ref), s.cfg.RefMA+1, errDataUnavailable)
	}
	var refMA []float64
	if s.cfg.MAKind == MAExponential {
		refMA = EMA(ref, s.cfg.RefMA)
	} else {
		refMA = SMA(ref, s.cfg.RefMA)
	}
	prev := len(ref) - 2
	if math.IsNaN(refMA[prev]) {
		return nil, fmt.Errorf("ref %s: ma window incomplete: %w", s.cfg.RefSymbol, errDataUnavailable)
	}
	refBull := ref[prev].Close > refMA[prev]

	sigs := make(map[string]DailySignal, len(s.cfg.Symbols))
	for _, symbol := range s.cfg.Symbols {
		cs := ref
		if symbol != s.cfg.RefSymbol {
			cs, err = s.fetchCandles(ctx, symbol, bars)
			if err != nil {
				log.Printf("[SIGNALS] %s: candle fetch failed: %v", symbol, err)
				continue
			}
		}
		if len(cs) < s.cfg.MAShort+1 {
			log.Printf("[SIGNALS] %s: %d bars insufficient", symbol, len(cs))
			continue
		}
		ma := s.ma(cs)
		p := len(cs) - 2
		if math.IsNaN(ma[p]) {
			log.Printf("[SIGNALS] %s: ma window incomplete", symbol)
			continue
		}
		coinBull := cs[p].Close > ma[p]
		sigs[symbol] = DailySignal{
			Symbol:      symbol,
			TargetPrice: cs[p+1].Open + (cs[p].High-cs[p].Low)*s.cfg.NoiseRatio,
			CanBuy:      coinBull && refBull,
			ShouldSell:  !coinBull || !refBull,
			Date:        date,
		}
	}
	if len(sigs) == 0 {
		return nil, fmt.Errorf("no symbol produced a signal: %w", errDataUnavailable)
	}
	return sigs, nil
}
