// FILE: indicators.go
// Package main – Moving averages over candle history.
//
// Both return a slice aligned 1:1 with the input candles. Entries before a
// full window are NaN so a caller indexing the previous completed bar fails
// loudly on short history instead of reading a half-window average.

package main

import "math"

// SMA computes the n-period simple moving average of closes.
func SMA(c []Candle, n int) []float64 {
	out := make([]float64, len(c))
	if n <= 0 || len(c) == 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	var sum float64
	for i := range c {
		sum += c[i].Close
		if i >= n {
			sum -= c[i-n].Close
		}
		if i >= n-1 {
			out[i] = sum / float64(n)
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// EMA computes the n-period exponential moving average of closes, seeded
// with the SMA of the first n closes.
func EMA(c []Candle, n int) []float64 {
	out := make([]float64, len(c))
	if n <= 0 || len(c) < n {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	var seed float64
	for i := 0; i < n; i++ {
		seed += c[i].Close
		out[i] = math.NaN()
	}
	prev := seed / float64(n)
	out[n-1] = prev
	alpha := 2.0 / float64(n+1)
	for i := n; i < len(c); i++ {
		prev = alpha*c[i].Close + (1-alpha)*prev
		out[i] = prev
	}
	return out
}
