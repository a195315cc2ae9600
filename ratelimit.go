// FILE: ratelimit.go
// Package main – Outbound call admission control and retry.
//
// Two concerns live here because they wrap every exchange call together:
//   • RateLimiter – minimum-interval limiter, one per call category
//     (orders vs quotations). The limiters are the only resource shared
//     across account loops; they serialize permit issuance, not the calls.
//   • callWithRetry – bounded exponential-backoff retry around an operation.
//     Each attempt consumes rate budget, successful or not.
//
// The error taxonomy the rest of the bot relies on is defined at the bottom:
// retryable (network/429/5xx), data-unavailable, order-rejected, state-corrupt.

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"
)

// callCategory names a rate budget.
type callCategory string

const (
	categoryOrders callCategory = "orders"
	categoryQuotes callCategory = "quotes"
)

// RateLimiter enforces a minimum interval between calls of one category.
type RateLimiter struct {
	category callCategory
	interval time.Duration
	mu       sync.Mutex
	last     time.Time
}

// NewRateLimiter builds a limiter allowing callsPerSec calls per second.
func NewRateLimiter(category callCategory, callsPerSec float64) *RateLimiter {
	if callsPerSec <= 0 {
		callsPerSec = 1
	}
	return &RateLimiter{
		category: category,
		interval: time.Duration(float64(time.Second) / callsPerSec),
	}
}

// Acquire blocks until issuing one more call would not exceed the configured
// rate, or until ctx is done.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	r.mu.Lock()
	now := time.Now()
	wait := r.interval - now.Sub(r.last)
	if wait < 0 {
		wait = 0
	}
	r.last = now.Add(wait)
	r.mu.Unlock()

	if wait == 0 {
		return ctx.Err()
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoffDelay is the pure retry schedule: base * 2^(attempt-1).
func backoffDelay(attempt int, base time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << uint(attempt-1)
}

// callWithRetry acquires a permit and invokes op, retrying retryable failures
// with exponential backoff up to maxAttempts. Non-retryable failures return
// immediately. After exhaustion the last error is returned wrapped, so the
// caller still sees the taxonomy through errors.Is/As.
func callWithRetry(ctx context.Context, rl *RateLimiter, maxAttempts int, base time.Duration, op func(context.Context) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var last error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := rl.Acquire(ctx); err != nil {
			return err
		}
		if last = op(ctx); last == nil {
			return nil
		}
		if !isRetryable(last) {
			return last
		}
		if attempt == maxAttempts {
			break
		}
		wait := backoffDelay(attempt, base)
		mtxRetries.WithLabelValues(string(rl.category)).Inc()
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return fmt.Errorf("%s: retries exhausted after %d attempts: %w", rl.category, maxAttempts, last)
}

// --------- Error taxonomy ---------

var (
	// errDataUnavailable marks missing bars or a failed signal recompute.
	// Fail-closed: entries stay disabled until a successful recompute.
	errDataUnavailable = errors.New("market data unavailable")

	// errOrderRejected marks expected skips (late entry, below minimum,
	// insufficient funds). Logged, never retried, never alerted as errors.
	errOrderRejected = errors.New("order rejected")

	// errStateCorrupt marks an unparseable state file. Fatal for that
	// account's startup; trading with assumed-empty state risks re-buys.
	errStateCorrupt = errors.New("state file corrupt")
)

// apiError is a non-2xx exchange response.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("exchange api %d: %s", e.Status, e.Body)
}

// isRetryable reports whether err is transient: network errors, timeouts,
// rate-limit responses and server errors. Validation and auth failures are
// permanent and propagate immediately.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ae *apiError
	if errors.As(err, &ae) {
		return ae.Status == 429 || ae.Status >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var ue *url.Error
	return errors.As(err, &ue)
}
