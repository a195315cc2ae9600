// FILE: state.go
// Package main – Per-account runtime state (pending orders, entry cooldowns).
//
// A PendingOrder exists from the moment an order submission succeeded but its
// fill could not be confirmed, until reconciliation resolves it. At most one
// per symbol: a symbol with a pending order accepts no new orders. Cooldown
// markers block re-entry attempts for a while after an unresolved buy.
//
// Same durability discipline as positions.go: every mutation rewrites the
// whole file atomically; a corrupt file on load aborts account startup.

package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// PendingOrder is a submitted order awaiting fill confirmation.
type PendingOrder struct {
	OrderID       string    `json:"order_id"`
	Symbol        string    `json:"symbol"`
	Side          OrderSide `json:"side"`
	Amount        float64   `json:"amount"`         // quote spend (buys)
	FallbackPrice float64   `json:"fallback_price"` // price seen at submission
	PreQty        float64   `json:"pre_qty"`        // exchange balance before the order
	PreQtyKnown   bool      `json:"pre_qty_known"`  // PreQty was actually observed
	CreatedAt     time.Time `json:"created_at"`
}

type runtimeStateFile struct {
	PendingBuys   map[string]PendingOrder `json:"pending_buys"`
	BuyBlockUntil map[string]time.Time    `json:"buy_block_until"`
}

// RuntimeState is the durable, restart-safe half of an account's loop state.
type RuntimeState struct {
	account string
	path    string

	mu      sync.Mutex
	pending map[string]PendingOrder
	blocked map[string]time.Time
}

// LoadRuntimeState reads the account's runtime state file. Missing file =>
// fresh state; unparseable file => errStateCorrupt (startup must stop).
func LoadRuntimeState(account, dir string) (*RuntimeState, error) {
	s := &RuntimeState{
		account: account,
		path:    filepath.Join(dir, account, "runtime_state.json"),
		pending: make(map[string]PendingOrder),
		blocked: make(map[string]time.Time),
	}
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	var f runtimeStateFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errStateCorrupt, s.path, err)
	}
	if f.PendingBuys != nil {
		s.pending = f.PendingBuys
	}
	if f.BuyBlockUntil != nil {
		s.blocked = f.BuyBlockUntil
	}
	return s, nil
}

func (s *RuntimeState) saveLocked() {
	f := runtimeStateFile{PendingBuys: s.pending, BuyBlockUntil: s.blocked}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		log.Printf("[%s] runtime state marshal failed: %v", s.account, err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		log.Printf("[%s] runtime state mkdir failed: %v", s.account, err)
		return
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Printf("[%s] runtime state save failed: %v", s.account, err)
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		log.Printf("[%s] runtime state save failed: %v", s.account, err)
	}
}

// BeginPending records a submitted-but-unconfirmed order for symbol.
func (s *RuntimeState) BeginPending(p PendingOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[p.Symbol] = p
	s.saveLocked()
	mtxPendingOrders.WithLabelValues(s.account).Set(float64(len(s.pending)))
}

// ResolvePending discards the pending order for symbol, whatever the outcome.
func (s *RuntimeState) ResolvePending(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[symbol]; !ok {
		return
	}
	delete(s.pending, symbol)
	s.saveLocked()
	mtxPendingOrders.WithLabelValues(s.account).Set(float64(len(s.pending)))
}

// Pending returns the pending order for symbol, if one exists.
func (s *RuntimeState) Pending(symbol string) (PendingOrder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[symbol]
	return p, ok
}

// PendingAll snapshots all pending orders.
func (s *RuntimeState) PendingAll() []PendingOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PendingOrder, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, p)
	}
	return out
}

// BlockBuys suppresses entries for symbol until now+cooldown.
func (s *RuntimeState) BlockBuys(symbol string, cooldown time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked[symbol] = time.Now().Add(cooldown)
	s.saveLocked()
}

// ClearBlock lifts the entry cooldown for symbol.
func (s *RuntimeState) ClearBlock(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blocked[symbol]; !ok {
		return
	}
	delete(s.blocked, symbol)
	s.saveLocked()
}

// CanBuy reports whether symbol accepts a new entry: no pending order and no
// active cooldown.
func (s *RuntimeState) CanBuy(symbol string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[symbol]; ok {
		return false
	}
	until, ok := s.blocked[symbol]
	return !ok || !now.Before(until)
}
