//go:build smoke

// FILE: smoke_upbit.go
// Package main – Standalone venue connectivity check.
//
// Hits the public quotation endpoints for each symbol and, when ACCOUNT_1
// credentials are present, one authenticated balance call. No orders.
//
//	go run -tags smoke . -symbols BTC,ETH

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"
)

func main() {
	symbols := flag.String("symbols", "BTC,ETH", "comma-separated symbols")
	candles := flag.Int("candles", 3, "daily candles to fetch per symbol")
	flag.Parse()

	loadBotEnv()
	ex := NewUpbitExchange(os.Getenv("ACCOUNT_1_ACCESS_KEY"), os.Getenv("ACCOUNT_1_SECRET_KEY"), 10*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	for _, s := range strings.Split(*symbols, ",") {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		px, err := ex.GetCurrentPrice(ctx, s)
		if err != nil {
			log.Fatalf("%s ticker: %v", s, err)
		}
		fmt.Printf("%s  %.0f KRW\n", s, px)

		cs, err := ex.GetDailyCandles(ctx, s, *candles)
		if err != nil {
			log.Fatalf("%s candles: %v", s, err)
		}
		for _, c := range cs {
			fmt.Printf("  %s  o=%.0f h=%.0f l=%.0f c=%.0f\n",
				c.Time.Format("2006-01-02"), c.Open, c.High, c.Low, c.Close)
		}
	}

	if os.Getenv("ACCOUNT_1_ACCESS_KEY") != "" {
		krw, err := ex.GetBalance(ctx, "KRW")
		if err != nil {
			log.Fatalf("balance: %v", err)
		}
		fmt.Printf("KRW balance  %.0f\n", krw)
	}
}
