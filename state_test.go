// FILE: state_test.go

package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRuntimeStatePendingSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	st, err := LoadRuntimeState("acct", dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	created := time.Now().Truncate(time.Second)
	st.BeginPending(PendingOrder{
		OrderID: "ord-1", Symbol: "BTC", Side: SideBuy,
		Amount: 500000, FallbackPrice: 105, PreQty: 0, CreatedAt: created,
	})
	if st.CanBuy("BTC", time.Now()) {
		t.Error("symbol with pending order accepts new buys")
	}

	reloaded, err := LoadRuntimeState("acct", dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	p, ok := reloaded.Pending("BTC")
	if !ok {
		t.Fatal("pending order lost across restart")
	}
	if p.OrderID != "ord-1" || p.Side != SideBuy || !approxEqual(p.Amount, 500000, 1e-9) {
		t.Errorf("pending order mangled: %+v", p)
	}
	if reloaded.CanBuy("BTC", time.Now()) {
		t.Error("reloaded state forgot the pending block")
	}
	if !reloaded.CanBuy("ETH", time.Now()) {
		t.Error("unrelated symbol blocked")
	}
}

func TestRuntimeStateCooldown(t *testing.T) {
	st, _ := LoadRuntimeState("acct", t.TempDir())
	st.BlockBuys("BTC", 5*time.Minute)

	now := time.Now()
	if st.CanBuy("BTC", now) {
		t.Error("cooldown not enforced")
	}
	if !st.CanBuy("BTC", now.Add(6*time.Minute)) {
		t.Error("cooldown never expires")
	}

	st.ClearBlock("BTC")
	if !st.CanBuy("BTC", now) {
		t.Error("cleared cooldown still blocks")
	}
}

func TestRuntimeStateResolvePersists(t *testing.T) {
	dir := t.TempDir()
	st, _ := LoadRuntimeState("acct", dir)
	st.BeginPending(PendingOrder{OrderID: "ord-1", Symbol: "BTC", Side: SideBuy, CreatedAt: time.Now()})
	st.ResolvePending("BTC")

	reloaded, err := LoadRuntimeState("acct", dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, ok := reloaded.Pending("BTC"); ok {
		t.Error("resolved order resurrected by reload")
	}
	if len(reloaded.PendingAll()) != 0 {
		t.Error("pending set not empty after resolve")
	}
}

func TestRuntimeStateCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "acct", "runtime_state.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("]["), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadRuntimeState("acct", dir); !errors.Is(err, errStateCorrupt) {
		t.Fatalf("got %v, want errStateCorrupt", err)
	}
}
