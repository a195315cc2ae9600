//go:build !smoke

// FILE: main.go
// Package main – Entry point: config, wiring, HTTP surface, shutdown.
//
// Wires the shared rate limiters, the signal engine (always fed from the
// public market-data API), one execution venue per account (paper in dry-run,
// authenticated Upbit otherwise), the optional websocket feed, and the
// /metrics + /healthz server. SIGINT/SIGTERM cancel the root context and the
// loops drain before exit.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	loadBotEnv()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("[MAIN] config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orders := NewRateLimiter(categoryOrders, cfg.OrderRate)
	quotes := NewRateLimiter(categoryQuotes, cfg.QuoteRate)

	// Market data is public and shared: one unauthenticated client serves
	// the signal engine and every account's quotes.
	md := NewUpbitExchange("", "", cfg.CallTimeout())
	engine := NewSignalEngine(cfg, md, quotes)

	var feed *TickerFeed
	if cfg.UseFeed {
		feed = NewTickerFeed(cfg.Symbols, time.Duration(cfg.FeedFreshS)*time.Second)
	}

	notifier := NewNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID,
		cfg.Telegram.Enabled, time.Duration(cfg.Telegram.CooldownS)*time.Second)

	accounts, err := buildAccounts(cfg, md, orders, quotes, feed, notifier)
	if err != nil {
		log.Fatalf("[MAIN] accounts: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: mux}
	go func() {
		log.Printf("[MAIN] metrics on :%d/metrics", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[MAIN] http server: %v", err)
		}
	}()

	NewBot(cfg, engine, accounts, notifier, feed).Run(ctx)

	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		log.Printf("[MAIN] http shutdown: %v", err)
	}
	log.Printf("[MAIN] bye")
}

// buildAccounts wires one executor per configured account. In dry-run each
// account trades a paper venue seeded with the configured equity; accounts
// whose state fails to load are skipped loudly rather than started blind.
func buildAccounts(cfg Config, md Exchange, orders, quotes *RateLimiter, feed *TickerFeed, notifier *Notifier) ([]*Account, error) {
	acctCfgs := cfg.Accounts
	if len(acctCfgs) == 0 {
		if !cfg.DryRun {
			return nil, fmt.Errorf("no accounts configured (set ACCOUNT_1_NAME/ACCESS_KEY/SECRET_KEY)")
		}
		acctCfgs = []AccountConfig{{Name: "paper"}}
	}

	var accounts []*Account
	for _, ac := range acctCfgs {
		var ex Exchange
		if cfg.DryRun {
			ex = NewPaperExchange(cfg.FeeRate, cfg.PaperEquity)
		} else {
			if ac.AccessKey == "" || ac.SecretKey == "" {
				return nil, fmt.Errorf("account %q: missing API keys", ac.Name)
			}
			ex = NewUpbitExchange(ac.AccessKey, ac.SecretKey, cfg.CallTimeout())
		}
		a, err := NewAccount(cfg, ac.Name, ex, md, orders, quotes, feed, notifier)
		if err != nil {
			log.Printf("[MAIN] account %s not started: %v", ac.Name, err)
			notifier.NotifyError("startup:"+ac.Name,
				fmt.Sprintf("account %s not started: %v", ac.Name, err))
			continue
		}
		accounts = append(accounts, a)
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("no account could be started")
	}
	return accounts, nil
}
