// FILE: indicators_test.go

package main

import (
	"math"
	"testing"
)

func closes(vs ...float64) []Candle {
	cs := make([]Candle, len(vs))
	for i, v := range vs {
		cs[i] = Candle{Open: v, High: v, Low: v, Close: v}
	}
	return cs
}

func TestSMA(t *testing.T) {
	got := SMA(closes(1, 2, 3, 4, 5), 3)

	for i := 0; i < 2; i++ {
		if !math.IsNaN(got[i]) {
			t.Errorf("index %d before full window: got %v, want NaN", i, got[i])
		}
	}
	want := []float64{2, 3, 4}
	for i, w := range want {
		if !approxEqual(got[i+2], w, 1e-9) {
			t.Errorf("sma[%d] = %v, want %v", i+2, got[i+2], w)
		}
	}
}

func TestSMAShortHistory(t *testing.T) {
	got := SMA(closes(1, 2), 5)
	for i, v := range got {
		if !math.IsNaN(v) {
			t.Errorf("index %d: got %v, want NaN", i, v)
		}
	}
}

func TestEMA(t *testing.T) {
	got := EMA(closes(1, 2, 3, 4, 10), 3)

	for i := 0; i < 2; i++ {
		if !math.IsNaN(got[i]) {
			t.Errorf("index %d before seed: got %v, want NaN", i, got[i])
		}
	}
	// Seeded with SMA(1,2,3)=2, alpha=0.5.
	if !approxEqual(got[2], 2, 1e-9) {
		t.Errorf("seed = %v, want 2", got[2])
	}
	if !approxEqual(got[3], 3, 1e-9) { // 0.5*4 + 0.5*2
		t.Errorf("ema[3] = %v, want 3", got[3])
	}
	if !approxEqual(got[4], 6.5, 1e-9) { // 0.5*10 + 0.5*3
		t.Errorf("ema[4] = %v, want 6.5", got[4])
	}
}
