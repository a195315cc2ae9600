// FILE: account.go
// Package main – Per-account order execution and reconciliation.
//
// An Account owns one exchange identity plus its durable stores (position
// book, runtime state, trade log). Buy/Sell wrap every venue call in the
// shared rate limiters with retry, enforce late-entry protection and the
// venue minimum, and confirm fills before mutating the position book. When
// submission succeeds but confirmation does not, the order becomes a
// PendingOrder and ReconcilePending resolves it on a later cycle — an order
// in flight is never lost and never double-counted.
//
// Sells only ever request the tracked quantity: coins deposited or bought
// manually in the same wallet are not the bot's to liquidate.

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"
)

// Outcome classifies one executor call for the loop to log and count.
type Outcome int

const (
	OutcomeFilled Outcome = iota
	OutcomeSkipped
	OutcomePending
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFilled:
		return "filled"
	case OutcomeSkipped:
		return "skipped"
	case OutcomePending:
		return "pending"
	default:
		return "error"
	}
}

// zeroBalanceRetryLimit: consecutive zero-balance sightings before a tracked
// position is declared orphaned and dropped.
const zeroBalanceRetryLimit = 3

// Account binds one exchange identity to its stores and the shared limiters.
type Account struct {
	name string
	cfg  Config

	ex    Exchange // order placement, order status, balances
	md    Exchange // quotes and candles (public API; same client when live)
	paper *PaperExchange
	feed  *TickerFeed

	orders *RateLimiter
	quotes *RateLimiter

	positions *PositionBook
	state     *RuntimeState
	trades    *TradeLog
	notifier  *Notifier

	zeroBalance map[string]int
}

// NewAccount loads the account's durable state. A corrupt state file aborts
// startup for this account: trading on assumed-empty state risks re-buying
// positions that are already held.
func NewAccount(cfg Config, name string, ex, md Exchange, orders, quotes *RateLimiter, feed *TickerFeed, notifier *Notifier) (*Account, error) {
	positions, err := LoadPositionBook(name, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("[%s] positions: %w", name, err)
	}
	state, err := LoadRuntimeState(name, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("[%s] runtime state: %w", name, err)
	}
	trades, err := OpenTradeLog(name, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("[%s] trade log: %w", name, err)
	}
	a := &Account{
		name:        name,
		cfg:         cfg,
		ex:          ex,
		md:          md,
		feed:        feed,
		orders:      orders,
		quotes:      quotes,
		positions:   positions,
		state:       state,
		trades:      trades,
		notifier:    notifier,
		zeroBalance: make(map[string]int),
	}
	if p, ok := ex.(*PaperExchange); ok {
		a.paper = p
	}
	log.Printf("[%s] initialized (venue=%s, positions=%d, pending=%d)",
		name, ex.Name(), len(positions.Symbols()), len(state.PendingAll()))
	return a, nil
}

func (a *Account) Close() {
	if a.trades != nil {
		_ = a.trades.Close()
	}
}

// currentPrice prefers a fresh websocket tick, falling back to a REST quote.
// In dry-run the paper venue is marked to the observed price so simulated
// fills execute at market.
func (a *Account) currentPrice(ctx context.Context, symbol string) (float64, error) {
	if a.feed != nil {
		if px, ok := a.feed.Price(symbol); ok {
			a.markPaper(symbol, px)
			return px, nil
		}
	}
	var px float64
	err := callWithRetry(ctx, a.quotes, a.cfg.RetryAttempts, a.cfg.RetryBase(), func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout())
		defer cancel()
		v, err := a.md.GetCurrentPrice(cctx, symbol)
		if err != nil {
			return err
		}
		px = v
		return nil
	})
	if err != nil {
		return 0, err
	}
	a.markPaper(symbol, px)
	return px, nil
}

func (a *Account) markPaper(symbol string, px float64) {
	if a.paper != nil {
		a.paper.SetPrice(symbol, px)
	}
}

// Balance returns the exchange-visible available balance of one currency.
func (a *Account) Balance(ctx context.Context, currency string) (float64, error) {
	var bal float64
	err := callWithRetry(ctx, a.orders, a.cfg.RetryAttempts, a.cfg.RetryBase(), func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout())
		defer cancel()
		v, err := a.ex.GetBalance(cctx, currency)
		if err != nil {
			return err
		}
		bal = v
		return nil
	})
	return bal, err
}

func (a *Account) getOrder(ctx context.Context, orderID string) (*OrderStatus, error) {
	var st *OrderStatus
	err := callWithRetry(ctx, a.orders, a.cfg.RetryAttempts, a.cfg.RetryBase(), func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout())
		defer cancel()
		v, err := a.ex.GetOrder(cctx, orderID)
		if err != nil {
			return err
		}
		st = v
		return nil
	})
	return st, err
}

// confirmFill polls the order a few times for an executed quantity.
func (a *Account) confirmFill(ctx context.Context, orderID string, fallbackPrice float64) (price, qty float64) {
	for i := 0; i < 3; i++ {
		st, err := a.getOrder(ctx, orderID)
		if err == nil && st.Filled() {
			price = st.AvgPrice
			if price <= 0 {
				price = fallbackPrice
			}
			return price, st.FilledQty
		}
		select {
		case <-ctx.Done():
			return fallbackPrice, 0
		case <-time.After(500 * time.Millisecond):
		}
	}
	return fallbackPrice, 0
}

// Buy places a market buy of amount KRW for symbol, gated by the venue
// minimum, the pending/cooldown state, and late-entry protection.
func (a *Account) Buy(ctx context.Context, symbol string, target, amount float64) Outcome {
	out := a.buy(ctx, symbol, target, amount)
	mtxOrders.WithLabelValues(a.name, "buy", out.String()).Inc()
	return out
}

func (a *Account) buy(ctx context.Context, symbol string, target, amount float64) Outcome {
	if amount < a.cfg.MinOrderKRW {
		log.Printf("[%s] %s: amount %.0f below venue minimum %.0f, skipping",
			a.name, symbol, amount, a.cfg.MinOrderKRW)
		return OutcomeSkipped
	}
	if !a.state.CanBuy(symbol, time.Now()) {
		return OutcomeSkipped
	}

	price, err := a.currentPrice(ctx, symbol)
	if err != nil {
		log.Printf("[%s] %s: price unavailable: %v", a.name, symbol, err)
		a.notifier.NotifyError(a.name+":price:"+symbol, fmt.Sprintf("[%s] price unavailable for %s: %v", a.name, symbol, err))
		return OutcomeError
	}

	// Late-entry protection: refuse to chase a price that has already run
	// away from the breakout target.
	diff := (price/target - 1) * 100
	if math.Abs(diff) > a.cfg.LateEntryPct {
		log.Printf("[%s] %s: price %.0f not near target %.0f (%+.1f%%), late entry skipped",
			a.name, symbol, price, target, diff)
		return OutcomeSkipped
	}

	preQty, preErr := a.Balance(ctx, symbol)

	var orderID string
	err = callWithRetry(ctx, a.orders, a.cfg.RetryAttempts, a.cfg.RetryBase(), func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout())
		defer cancel()
		id, err := a.ex.PlaceMarketBuy(cctx, symbol, amount)
		if err != nil {
			return err
		}
		orderID = id
		return nil
	})
	if err != nil {
		if rejected(err) {
			log.Printf("[%s] %s: buy rejected by venue: %v", a.name, symbol, err)
			return OutcomeSkipped
		}
		log.Printf("[%s] %s: buy error: %v", a.name, symbol, err)
		a.notifier.NotifyError(a.name+":buy:"+symbol, fmt.Sprintf("[%s] buy failed %s: %v", a.name, symbol, err))
		return OutcomeError
	}

	fillPrice, fillQty := a.confirmFill(ctx, orderID, price)
	if fillQty <= 0 && preErr == nil {
		if postQty, err := a.Balance(ctx, symbol); err == nil {
			fillQty = math.Max(0, postQty-preQty)
			if fillQty > 0 {
				fillPrice = amount / fillQty
			}
		}
	}

	if fillQty <= 0 {
		// Submission succeeded but the fill is unknown. Park the order for
		// reconciliation and block re-entry so one breakout cannot double-buy.
		a.state.BeginPending(PendingOrder{
			OrderID:       orderID,
			Symbol:        symbol,
			Side:          SideBuy,
			Amount:        amount,
			FallbackPrice: price,
			PreQty:        preQty,
			PreQtyKnown:   preErr == nil,
			CreatedAt:     time.Now(),
		})
		a.state.BlockBuys(symbol, time.Duration(a.cfg.BuyCooldownS)*time.Second)
		a.notifier.NotifyError(a.name+":buy-fill:"+symbol,
			fmt.Sprintf("[%s] buy submitted but quantity unresolved %s", a.name, symbol))
		return OutcomePending
	}

	a.settleBuy(ctx, symbol, fillPrice, fillQty, amount)
	return OutcomeFilled
}

// settleBuy records a confirmed buy fill in every store.
func (a *Account) settleBuy(ctx context.Context, symbol string, fillPrice, fillQty, amount float64) {
	if err := a.positions.RecordBuy(symbol, fillQty, fillPrice); err != nil {
		log.Printf("[%s] %s: record buy: %v", a.name, symbol, err)
	}
	delete(a.zeroBalance, symbol)
	a.state.ResolvePending(symbol)
	a.state.ClearBlock(symbol)

	now := time.Now().In(a.cfg.Location())
	if err := a.trades.Append(ctx, Trade{
		Timestamp: now, Date: now.Format("2006-01-02"),
		Action: "BUY", Symbol: symbol,
		Price: fillPrice, Quantity: fillQty, Amount: amount,
	}); err != nil {
		log.Printf("[%s] trade log append: %v", a.name, err)
	}

	log.Printf("[%s] BUY %s: %.8f @ %.0f", a.name, symbol, fillQty, fillPrice)
	a.notifier.Notify(fmt.Sprintf("🟢 <b>BUY</b> [%s] %s\n%.8f @ %.0f KRW", a.name, symbol, fillQty, fillPrice))
}

// Sell liquidates the tracked position for symbol — never the full wallet.
func (a *Account) Sell(ctx context.Context, symbol string) Outcome {
	out := a.sell(ctx, symbol)
	mtxOrders.WithLabelValues(a.name, "sell", out.String()).Inc()
	return out
}

func (a *Account) sell(ctx context.Context, symbol string) Outcome {
	pos, ok := a.positions.Get(symbol)
	if !ok {
		return OutcomeSkipped
	}
	if _, pending := a.state.Pending(symbol); pending {
		return OutcomeSkipped
	}

	balanceQty, err := a.Balance(ctx, symbol)
	if err != nil {
		a.notifier.NotifyError(a.name+":balance:"+symbol,
			fmt.Sprintf("[%s] balance failed %s: %v", a.name, symbol, err))
		return OutcomeError
	}

	if balanceQty <= 0 {
		// The wallet no longer holds what the book says. Tolerate a few
		// sightings (settlement lag), then drop the orphaned record.
		a.zeroBalance[symbol]++
		n := a.zeroBalance[symbol]
		if n >= zeroBalanceRetryLimit {
			log.Printf("[%s] %s balance stayed zero (%dx), removing tracked position", a.name, symbol, n)
			a.positions.Remove(symbol)
			delete(a.zeroBalance, symbol)
			return OutcomeSkipped
		}
		log.Printf("[%s] %s balance is zero (%d/%d), keeping tracked position",
			a.name, symbol, n, zeroBalanceRetryLimit)
		a.notifier.NotifyError(a.name+":balance-zero:"+symbol,
			fmt.Sprintf("[%s] %s balance is zero while position exists", a.name, symbol))
		return OutcomeError
	}
	delete(a.zeroBalance, symbol)

	price, err := a.currentPrice(ctx, symbol)
	if err != nil {
		price = pos.AvgPrice
	}

	qty := math.Min(balanceQty, pos.Quantity)
	if qty <= 0 {
		return OutcomeSkipped
	}

	var orderID string
	err = callWithRetry(ctx, a.orders, a.cfg.RetryAttempts, a.cfg.RetryBase(), func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout())
		defer cancel()
		id, err := a.ex.PlaceMarketSell(cctx, symbol, qty)
		if err != nil {
			return err
		}
		orderID = id
		return nil
	})
	if err != nil {
		if rejected(err) {
			log.Printf("[%s] %s: sell rejected by venue: %v", a.name, symbol, err)
			return OutcomeSkipped
		}
		log.Printf("[%s] %s: sell error: %v", a.name, symbol, err)
		a.notifier.NotifyError(a.name+":sell:"+symbol, fmt.Sprintf("[%s] sell failed %s: %v", a.name, symbol, err))
		return OutcomeError
	}

	fillPrice, fillQty := a.confirmFill(ctx, orderID, price)
	filledQty := 0.0
	if fillQty > 0 {
		filledQty = math.Min(qty, fillQty)
	} else if postQty, err := a.Balance(ctx, symbol); err == nil {
		filledQty = math.Max(0, balanceQty-postQty)
	}

	if filledQty <= 0 {
		a.state.BeginPending(PendingOrder{
			OrderID:       orderID,
			Symbol:        symbol,
			Side:          SideSell,
			FallbackPrice: price,
			PreQty:        balanceQty,
			PreQtyKnown:   true,
			CreatedAt:     time.Now(),
		})
		a.notifier.NotifyError(a.name+":sell-fill:"+symbol,
			fmt.Sprintf("[%s] sell submitted but quantity unresolved %s", a.name, symbol))
		return OutcomePending
	}

	a.settleSell(ctx, symbol, pos, fillPrice, filledQty)
	return OutcomeFilled
}

// settleSell records a confirmed sell fill and reports PnL.
func (a *Account) settleSell(ctx context.Context, symbol string, pos Position, fillPrice, filledQty float64) {
	var pnlPct, pnlKRW float64
	if pos.AvgPrice > 0 {
		pnlPct = (fillPrice/pos.AvgPrice - 1) * 100
		pnlKRW = (fillPrice - pos.AvgPrice) * filledQty
	}

	if filledQty > pos.Quantity {
		filledQty = pos.Quantity
	}
	if err := a.positions.RecordSell(symbol, filledQty); err != nil {
		log.Printf("[%s] %s: record sell: %v", a.name, symbol, err)
	}
	delete(a.zeroBalance, symbol)
	a.state.ResolvePending(symbol)

	now := time.Now().In(a.cfg.Location())
	if err := a.trades.Append(ctx, Trade{
		Timestamp: now, Date: now.Format("2006-01-02"),
		Action: "SELL", Symbol: symbol,
		Price: fillPrice, Quantity: filledQty, Amount: fillPrice * filledQty,
		ProfitPct: pnlPct, ProfitAmount: pnlKRW,
	}); err != nil {
		log.Printf("[%s] trade log append: %v", a.name, err)
	}

	log.Printf("[%s] SELL %s: %.8f @ %.0f (%+.2f%%)", a.name, symbol, filledQty, fillPrice, pnlPct)
	a.notifier.Notify(fmt.Sprintf("🔴 <b>SELL</b> [%s] %s\n%+.2f%% (%+.0f KRW)", a.name, symbol, pnlPct, pnlKRW))
}

// ReconcilePending tries to resolve every outstanding order. Runs before any
// new order for the symbol is considered; a pending order that confirms a
// fill folds into the books exactly as a synchronous confirmation would.
func (a *Account) ReconcilePending(ctx context.Context) {
	for _, p := range a.state.PendingAll() {
		a.reconcileOne(ctx, p)
	}
}

func (a *Account) reconcileOne(ctx context.Context, p PendingOrder) {
	expired := time.Since(p.CreatedAt) >= time.Duration(a.cfg.PendingExpirS)*time.Second

	st, err := a.getOrder(ctx, p.OrderID)
	if err != nil {
		if expired {
			// The venue will not tell us and the order is stale; stop
			// blocking the symbol.
			a.state.ResolvePending(p.Symbol)
			a.state.ClearBlock(p.Symbol)
			a.notifier.NotifyError(a.name+":pending-expire:"+p.Symbol,
				fmt.Sprintf("[%s] pending %s unresolvable, discarded %s", a.name, p.Side, p.Symbol))
			return
		}
		// Status still unknown; keep the order pending for the next cycle.
		log.Printf("[%s] %s: pending %s lookup failed: %v", a.name, p.Symbol, p.OrderID, err)
		return
	}

	fillPrice, fillQty := st.AvgPrice, st.FilledQty
	if fillPrice <= 0 {
		fillPrice = p.FallbackPrice
	}
	// The balance-delta fallback needs a trustworthy baseline: without an
	// observed pre-order balance, wallet coins the bot never bought would be
	// counted as this order's fill.
	if fillQty <= 0 && p.Side == SideBuy && p.PreQtyKnown {
		if postQty, err := a.Balance(ctx, p.Symbol); err == nil {
			fillQty = math.Max(0, postQty-p.PreQty)
			if fillQty > 0 && p.Amount > 0 {
				fillPrice = p.Amount / fillQty
			}
		}
	}

	if fillQty <= 0 {
		closedEmpty := st.Terminal() && !st.Filled()
		if expired || closedEmpty {
			a.state.ResolvePending(p.Symbol)
			a.state.ClearBlock(p.Symbol)
			a.notifier.NotifyError(a.name+":pending-expire:"+p.Symbol,
				fmt.Sprintf("[%s] pending %s expired/closed without fill %s", a.name, p.Side, p.Symbol))
		}
		return
	}

	switch p.Side {
	case SideBuy:
		a.settleBuy(ctx, p.Symbol, fillPrice, fillQty, p.Amount)
		log.Printf("[%s] BUY recovered %s: %.8f @ %.0f", a.name, p.Symbol, fillQty, fillPrice)
	case SideSell:
		pos, ok := a.positions.Get(p.Symbol)
		if !ok {
			a.state.ResolvePending(p.Symbol)
			return
		}
		if fillQty > pos.Quantity {
			fillQty = pos.Quantity
		}
		a.settleSell(ctx, p.Symbol, pos, fillPrice, fillQty)
		log.Printf("[%s] SELL recovered %s: %.8f @ %.0f", a.name, p.Symbol, fillQty, fillPrice)
	}
}

// Equity values cash plus tracked holdings at current prices.
func (a *Account) Equity(ctx context.Context) (cash, equity float64, err error) {
	cash, err = a.Balance(ctx, "KRW")
	if err != nil {
		return 0, 0, err
	}
	equity = cash
	for _, symbol := range a.positions.Symbols() {
		pos, ok := a.positions.Get(symbol)
		if !ok {
			continue
		}
		px, err := a.currentPrice(ctx, symbol)
		if err != nil {
			continue
		}
		equity += pos.Quantity * px
	}
	return cash, equity, nil
}

// rejected reports whether err is an expected order rejection (insufficient
// funds, below minimum, bad request) rather than an operational failure.
func rejected(err error) bool {
	if errors.Is(err, errOrderRejected) {
		return true
	}
	var ae *apiError
	return errors.As(err, &ae) && ae.Status >= 400 && ae.Status < 500 && ae.Status != 429
}
