// FILE: bot.go
// Package main – Multi-account trading loop, heartbeat and daily report.
//
// One goroutine per account. Each cycle reconciles pending orders first,
// then reads the cached daily signals, runs exits before entries, and sizes
// entries from an equity snapshot taken at buy time. A failing cycle never
// kills the loop: the error is logged, alerted with throttling, and the loop
// pauses briefly before the next cycle. A corrupt state file keeps that one
// account from starting while the others trade on.

package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	stateStarting = 0
	stateRunning  = 1
	stateStopping = 2
	stateStopped  = 3
)

// errorPause is how long a loop sleeps after a failed cycle before retrying.
const errorPause = 5 * time.Second

// Bot drives every configured account against one signal engine.
type Bot struct {
	cfg      Config
	engine   *SignalEngine
	accounts []*Account
	notifier *Notifier
	feed     *TickerFeed
}

func NewBot(cfg Config, engine *SignalEngine, accounts []*Account, notifier *Notifier, feed *TickerFeed) *Bot {
	return &Bot{cfg: cfg, engine: engine, accounts: accounts, notifier: notifier, feed: feed}
}

// Run blocks until ctx is cancelled and every account loop has drained.
func (b *Bot) Run(ctx context.Context) {
	names := make([]string, len(b.accounts))
	for i, a := range b.accounts {
		names[i] = a.name
	}
	log.Printf("[BOT] starting: symbols=%v accounts=%v dry_run=%v",
		b.cfg.Symbols, names, b.cfg.DryRun)
	b.notifier.Notify(fmt.Sprintf("🚀 <b>Bot started</b>\nsymbols: %s\naccounts: %s\ndry run: %v",
		strings.Join(b.cfg.Symbols, ", "), strings.Join(names, ", "), b.cfg.DryRun))

	var wg sync.WaitGroup
	if b.feed != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.feed.Run(ctx)
		}()
	}
	wg.Add(2)
	go func() {
		defer wg.Done()
		b.heartbeat(ctx)
	}()
	go func() {
		defer wg.Done()
		b.reportLoop(ctx)
	}()

	for _, a := range b.accounts {
		wg.Add(1)
		go func(a *Account) {
			defer wg.Done()
			b.runAccount(ctx, a)
		}(a)
	}

	<-ctx.Done()
	log.Printf("[BOT] shutdown requested, draining account loops")
	wg.Wait()
	for _, a := range b.accounts {
		a.Close()
	}
	b.notifier.Notify("🛑 <b>Bot stopped</b>")
	log.Printf("[BOT] stopped")
}

// runAccount is one account's lifecycle: reconcile leftovers from the last
// run, then poll until shutdown.
func (b *Bot) runAccount(ctx context.Context, a *Account) {
	mtxAccountState.WithLabelValues(a.name).Set(stateStarting)
	a.ReconcilePending(ctx)

	mtxAccountState.WithLabelValues(a.name).Set(stateRunning)
	log.Printf("[%s] loop running (poll=%ds)", a.name, b.cfg.PollInterval)

	ticker := time.NewTicker(time.Duration(b.cfg.PollInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			mtxAccountState.WithLabelValues(a.name).Set(stateStopping)
			log.Printf("[%s] loop stopping", a.name)
			mtxAccountState.WithLabelValues(a.name).Set(stateStopped)
			return
		case <-ticker.C:
		}

		if err := b.cycle(ctx, a); err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Printf("[%s] cycle error: %v", a.name, err)
			a.notifier.NotifyError(a.name+":cycle", fmt.Sprintf("[%s] cycle error: %v", a.name, err))
			select {
			case <-ctx.Done():
			case <-time.After(errorPause):
			}
			continue
		}
		mtxIterations.WithLabelValues(a.name).Inc()
	}
}

// cycle runs one poll iteration. Panics in strategy or venue code are
// converted to errors so a single bad tick cannot kill the account.
func (b *Bot) cycle(ctx context.Context, a *Account) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	a.ReconcilePending(ctx)

	sigs, err := b.engine.All(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("signals: %w", err)
	}

	// Exits first: freed cash is available for entries in the same cycle.
	for _, symbol := range b.cfg.Symbols {
		sig, ok := sigs[symbol]
		if !ok || !sig.ShouldSell || !a.positions.Has(symbol) {
			continue
		}
		a.Sell(ctx, symbol)
	}

	// Entries in configured symbol order: when cash cannot cover every
	// breakout the earlier-listed symbol wins.
	var candidates []DailySignal
	for _, symbol := range b.cfg.Symbols {
		sig, ok := sigs[symbol]
		if !ok || !sig.CanBuy || a.positions.Has(symbol) {
			continue
		}
		if !a.state.CanBuy(symbol, time.Now()) {
			continue
		}
		px, err := a.currentPrice(ctx, symbol)
		if err != nil {
			log.Printf("[%s] %s: price unavailable: %v", a.name, symbol, err)
			continue
		}
		if px >= sig.TargetPrice {
			candidates = append(candidates, sig)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	cash, equity, err := a.Equity(ctx)
	if err != nil {
		return fmt.Errorf("equity: %w", err)
	}
	mtxEquity.WithLabelValues(a.name).Set(equity)

	// Equal allocation per symbol, scaled down by the safety factor to leave
	// headroom for fees and rounding, never exceeding remaining cash.
	alloc := equity / float64(len(b.cfg.Symbols))
	for _, sig := range candidates {
		amount := math.Min(alloc, cash) * b.cfg.SafetyFactor
		if out := a.Buy(ctx, sig.Symbol, sig.TargetPrice, amount); out == OutcomeFilled {
			cash -= amount
			if cash < 0 {
				cash = 0
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(b.cfg.OrderDelay()):
		}
	}
	return nil
}

// heartbeat writes a liveness timestamp for external watchdogs.
func (b *Bot) heartbeat(ctx context.Context) {
	write := func() {
		now := time.Now()
		if err := os.MkdirAll(filepath.Dir(b.cfg.Heartbeat), 0o755); err != nil {
			log.Printf("[HEARTBEAT] mkdir: %v", err)
			return
		}
		data := strconv.FormatInt(now.Unix(), 10) + "\n"
		if err := os.WriteFile(b.cfg.Heartbeat, []byte(data), 0o644); err != nil {
			log.Printf("[HEARTBEAT] write: %v", err)
			return
		}
		mtxHeartbeat.Set(float64(now.Unix()))
	}
	write()

	ticker := time.NewTicker(time.Duration(b.cfg.HeartbeatSec) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			write()
		}
	}
}

// inReportWindow reports whether now falls in the daily one-minute report
// window [ReportHour:00, ReportHour:01).
func inReportWindow(now time.Time, loc *time.Location, reportHour int) bool {
	t := now.In(loc)
	return t.Hour() == reportHour && t.Minute() == 0
}

// reportLoop fires the daily report once per trading day.
func (b *Bot) reportLoop(ctx context.Context) {
	loc := b.cfg.Location()
	var lastReport string

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := time.Now()
		if !inReportWindow(now, loc, b.cfg.ReportHour) {
			continue
		}
		day := now.In(loc).Format("2006-01-02")
		if day == lastReport {
			continue
		}
		lastReport = day
		b.sendDailyReport(ctx, now)
	}
}

// sendDailyReport summarizes signals and per-account holdings.
func (b *Bot) sendDailyReport(ctx context.Context, now time.Time) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 <b>Daily report</b> %s\n", now.In(b.cfg.Location()).Format("2006-01-02"))

	sigs, err := b.engine.All(ctx, now)
	if err != nil {
		fmt.Fprintf(&sb, "\nsignals unavailable: %v\n", err)
	} else {
		sb.WriteString("\n<b>Targets</b>\n")
		symbols := make([]string, 0, len(sigs))
		for s := range sigs {
			symbols = append(symbols, s)
		}
		sort.Strings(symbols)
		for _, s := range symbols {
			sig := sigs[s]
			flag := "⏸"
			if sig.CanBuy {
				flag = "▶️"
			}
			fmt.Fprintf(&sb, "%s %s target %.0f\n", flag, s, sig.TargetPrice)
		}
	}

	for _, a := range b.accounts {
		cash, equity, err := a.Equity(ctx)
		if err != nil {
			fmt.Fprintf(&sb, "\n<b>%s</b>: balance unavailable: %v\n", a.name, err)
			continue
		}
		mtxEquity.WithLabelValues(a.name).Set(equity)
		fmt.Fprintf(&sb, "\n<b>%s</b>\ncash: %.0f KRW\n", a.name, cash)
		for _, symbol := range a.positions.Symbols() {
			pos, ok := a.positions.Get(symbol)
			if !ok {
				continue
			}
			line := fmt.Sprintf("%s: %.8f @ %.0f", symbol, pos.Quantity, pos.AvgPrice)
			if px, err := a.currentPrice(ctx, symbol); err == nil && pos.AvgPrice > 0 {
				line += fmt.Sprintf(" (%+.2f%%)", (px/pos.AvgPrice-1)*100)
			}
			sb.WriteString(line + "\n")
		}
		fmt.Fprintf(&sb, "total: %.0f KRW\n", equity)
	}

	log.Printf("[REPORT] sending daily report")
	b.notifier.Notify(sb.String())
}
