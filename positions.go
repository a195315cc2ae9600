// FILE: positions.go
// Package main – Bot-owned position book, durable per account.
//
// Tracks only quantity the bot itself acquired; coins held in the exchange
// wallet but never bought here are invisible and untouchable. Every mutation
// rewrites the whole JSON file via write-temp-then-rename so a crash mid-write
// leaves the previous snapshot intact.

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

// Position is one bot-acquired holding.
type Position struct {
	Symbol   string    `json:"symbol"`
	Quantity float64   `json:"quantity"`
	AvgPrice float64   `json:"avg_price"`
	OpenedAt time.Time `json:"opened_at"`
}

// PositionBook is the per-account position store.
type PositionBook struct {
	account string
	path    string

	mu        sync.Mutex
	positions map[string]Position
}

// LoadPositionBook reads the account's position file. A missing file means an
// empty book; an unparseable file is errStateCorrupt and must stop startup.
func LoadPositionBook(account, dir string) (*PositionBook, error) {
	b := &PositionBook{
		account:   account,
		path:      filepath.Join(dir, account, "positions.json"),
		positions: make(map[string]Position),
	}
	data, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return b, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", b.path, err)
	}
	if err := json.Unmarshal(data, &b.positions); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errStateCorrupt, b.path, err)
	}
	return b, nil
}

func (b *PositionBook) saveLocked() error {
	data, err := json.MarshalIndent(b.positions, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return err
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, b.path)
}

// RecordBuy folds a confirmed buy fill into the book (average-cost basis).
func (b *PositionBook) RecordBuy(symbol string, qty, price float64) error {
	if qty <= 0 || price <= 0 {
		return fmt.Errorf("record buy %s: qty and price must be > 0", symbol)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[symbol]
	if !ok {
		pos = Position{Symbol: symbol, OpenedAt: time.Now()}
	}
	total := pos.Quantity + qty
	pos.AvgPrice = (pos.AvgPrice*pos.Quantity + price*qty) / total
	pos.Quantity = total
	b.positions[symbol] = pos
	if err := b.saveLocked(); err != nil {
		log.Printf("[%s] position save failed: %v", b.account, err)
		return err
	}
	return nil
}

// RecordSell reduces the tracked quantity by a confirmed sell fill. Selling
// more than tracked is rejected, never clamped silently; the position is
// removed when fully closed.
func (b *PositionBook) RecordSell(symbol string, qty float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[symbol]
	if !ok {
		return fmt.Errorf("record sell %s: no tracked position", symbol)
	}
	if qty <= 0 {
		return fmt.Errorf("record sell %s: qty must be > 0", symbol)
	}
	if qty > pos.Quantity*(1+1e-9) {
		return fmt.Errorf("record sell %s: %.8f exceeds tracked %.8f", symbol, qty, pos.Quantity)
	}
	pos.Quantity -= qty
	if pos.Quantity <= 1e-12 {
		delete(b.positions, symbol)
	} else {
		b.positions[symbol] = pos
	}
	if err := b.saveLocked(); err != nil {
		log.Printf("[%s] position save failed: %v", b.account, err)
		return err
	}
	return nil
}

// Remove drops a tracked position without a fill (orphan cleanup).
func (b *PositionBook) Remove(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.positions[symbol]; !ok {
		return
	}
	delete(b.positions, symbol)
	if err := b.saveLocked(); err != nil {
		log.Printf("[%s] position save failed: %v", b.account, err)
	}
	log.Printf("[%s] position removed: %s", b.account, symbol)
}

// Get returns the tracked position, if any.
func (b *PositionBook) Get(symbol string) (Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[symbol]
	return pos, ok
}

// Has reports whether a position is tracked for symbol.
func (b *PositionBook) Has(symbol string) bool {
	_, ok := b.Get(symbol)
	return ok
}

// Symbols lists tracked symbols (unordered).
func (b *PositionBook) Symbols() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.positions))
	for s := range b.positions {
		out = append(out, s)
	}
	return out
}
