// Package engine implements the portfolio allocation and signal execution core.
//
// All allocation math is scoped to a single Account's balance and markets;
// accounts never share capital. Portfolio valuation assumes a single reference
// quote currency across an account's markets, a stated limitation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/tradeflow/errs"
	"github.com/coachpo/tradeflow/internal/exchange"
	"github.com/coachpo/tradeflow/internal/observability"
	"github.com/coachpo/tradeflow/internal/schema"
)

// ErrAllocationZero signals that a computed order cost is zero and the buy
// must be skipped. It is a sentinel, not a failure.
var ErrAllocationZero = errors.New("allocation is zero")

// releaseBuffer widens each market's weight when sizing partial liquidations,
// compensating for price drift between computation and execution.
var releaseBuffer = decimal.NewFromFloat(0.01)

// Sleeper blocks for the given duration or until the context is done.
type Sleeper func(ctx context.Context, d time.Duration)

func defaultSleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// AccountParams collects the dependencies and configuration of an Account.
type AccountParams struct {
	Name             string
	Active           bool
	RiskProfile      string
	IgnoreSignals    []string
	UseJournal       bool
	Exchange         exchange.Exchange
	Markets          []*schema.Market
	Gas              *schema.GasPolicy
	MinOrderQuoteQty decimal.Decimal
	SettleDelay      time.Duration
	Sleep            Sleeper
}

// Account owns one exchange handle, its markets, and the last-known balance
// snapshot. It is the unit of concurrency isolation: the orchestrator
// serializes processing cycles per account while sibling accounts proceed
// independently. The internal lock only keeps ledger reads and price updates
// coherent; it is never held across exchange calls.
type Account struct {
	name          string
	active        bool
	riskProfile   string
	ignoreSignals map[string]struct{}
	useJournal    bool
	exchange      exchange.Exchange
	gas           *schema.GasPolicy
	minOrderQuote decimal.Decimal
	settleDelay   time.Duration
	sleep         Sleeper

	mu      sync.RWMutex
	markets []*schema.Market
	balance schema.AccountBalance

	// procMu serializes plan-dispatch-resync cycles for the account so two
	// near-simultaneous signals cannot race orders on the same market.
	procMu sync.Mutex
}

// NewAccount constructs an account from its parameters.
func NewAccount(p AccountParams) *Account {
	ignored := make(map[string]struct{}, len(p.IgnoreSignals))
	for _, reason := range p.IgnoreSignals {
		ignored[reason] = struct{}{}
	}
	minQty := p.MinOrderQuoteQty
	if minQty.IsZero() {
		minQty = decimal.NewFromInt(5)
	}
	settle := p.SettleDelay
	if settle <= 0 {
		settle = 3 * time.Second
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = defaultSleep
	}
	return &Account{
		name:          p.Name,
		active:        p.Active,
		riskProfile:   p.RiskProfile,
		ignoreSignals: ignored,
		useJournal:    p.UseJournal,
		exchange:      p.Exchange,
		markets:       p.Markets,
		gas:           p.Gas,
		minOrderQuote: minQty,
		settleDelay:   settle,
		sleep:         sleep,
		balance:       make(schema.AccountBalance),
	}
}

// Name returns the configured account name.
func (a *Account) Name() string { return a.name }

// Active reports whether the account participates in signal processing.
func (a *Account) Active() bool { return a.active }

// RiskProfile returns the account's risk profile tag.
func (a *Account) RiskProfile() string { return a.riskProfile }

// UsesJournal reports whether the trade journal tracks this account.
func (a *Account) UsesJournal() bool { return a.useJournal }

// Exchange returns the account's venue adapter.
func (a *Account) Exchange() exchange.Exchange { return a.exchange }

// Markets returns the account's configured markets.
func (a *Account) Markets() []*schema.Market {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*schema.Market, len(a.markets))
	copy(out, a.markets)
	return out
}

// Balance returns an independent copy of the last balance snapshot.
func (a *Account) Balance() schema.AccountBalance {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.balance.Clone()
}

// ShouldIgnoreSignal reports whether the signal's reason code is on the
// account's ignore list.
func (a *Account) ShouldIgnoreSignal(reason string) bool {
	if reason == "" {
		return false
	}
	_, ignored := a.ignoreSignals[reason]
	return ignored
}

// LoadMarkets loads venue symbol and precision metadata.
func (a *Account) LoadMarkets(ctx context.Context) error {
	observability.Log().Debug("loading markets", observability.F("account", a.name))
	if err := a.exchange.LoadMarkets(ctx); err != nil {
		return fmt.Errorf("load markets: %w", err)
	}
	return nil
}

// LoadMarketPrices refreshes each market's last price from the venue ticker feed.
func (a *Account) LoadMarketPrices(ctx context.Context) error {
	symbols := make([]string, 0, len(a.markets))
	for _, market := range a.markets {
		symbols = append(symbols, market.Symbol)
	}
	observability.Log().Debug("loading market prices",
		observability.F("account", a.name), observability.F("symbols", symbols))
	tickers, err := a.exchange.FetchTickers(ctx, symbols)
	if err != nil {
		return fmt.Errorf("load market prices: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, market := range a.markets {
		if last, ok := tickers[market.Symbol]; ok {
			market.LastPrice = last
		}
	}
	return nil
}

// SetMarketPrice updates the cached last price for the symbol. Used by the
// live ticker stream.
func (a *Account) SetMarketPrice(symbol string, price decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, market := range a.markets {
		if market.Symbol == symbol {
			market.LastPrice = price
		}
	}
}

// LoadBalance replaces the ledger wholesale with the venue's authoritative
// totals. On error the previous snapshot is retained and the error returned
// for the caller to report. A missing API key downgrades to a warning no-op.
func (a *Account) LoadBalance(ctx context.Context) error {
	log := observability.Log()
	log.Debug("loading balance", observability.F("account", a.name))
	if !a.exchange.HasCredentials() {
		log.Warn("api key is empty, nothing to load", observability.F("account", a.name))
		return nil
	}
	totals, err := a.exchange.FetchBalance(ctx)
	if err != nil {
		return fmt.Errorf("load balance: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	next := make(schema.AccountBalance, len(totals))
	totalValue := decimal.Zero
	for _, market := range a.markets {
		baseQty := totals[market.Base]
		baseValue := baseQty.Mul(market.LastPrice).Round(2)
		next[market.Base] = schema.Holding{Quantity: baseQty, Value: baseValue}
		totalValue = totalValue.Add(baseValue)
		next[market.Quote] = schema.Holding{Quantity: totals[market.Quote], Value: totalValue.Round(2)}
	}
	if a.gas != nil {
		next[a.gas.Base] = schema.Holding{Quantity: totals[a.gas.Base], Value: decimal.Zero}
	}
	a.balance = next
	log.Debug("loaded balance", observability.F("account", a.name), observability.F("assets", len(next)))
	return nil
}

// SetBalance replaces the ledger snapshot directly. Intended for tests.
func (a *Account) SetBalance(balance schema.AccountBalance) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balance = balance.Clone()
}

// AvailableAsset returns the held quantity of the asset, zero when unknown.
func (a *Account) AvailableAsset(asset string) decimal.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.balance.Quantity(asset)
}

// AvailableBase returns the tradable base quantity for the market. Balances
// whose quote value sits below the dust floor report zero so that dust is
// never treated as an open position.
func (a *Account) AvailableBase(market *schema.Market) decimal.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.availableBase(market)
}

func (a *Account) availableBase(market *schema.Market) decimal.Decimal {
	qty := a.balance.Quantity(market.Base)
	if qty.Mul(market.LastPrice).LessThan(a.minOrderQuote) {
		return decimal.Zero
	}
	return qty
}

// AvailableQuote returns the spendable quote quantity for the market, zero
// below the dust floor.
func (a *Account) AvailableQuote(market *schema.Market) decimal.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.availableQuote(market)
}

func (a *Account) availableQuote(market *schema.Market) decimal.Decimal {
	qty := a.balance.Quantity(market.Quote)
	if qty.LessThan(a.minOrderQuote) {
		return decimal.Zero
	}
	return qty
}

// QuoteValue returns the quote valuation of the market's tradable base balance.
func (a *Account) QuoteValue(market *schema.Market) decimal.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.availableBase(market).Mul(market.LastPrice)
}

// HasOpenPosition reports whether the market holds an economically meaningful
// base balance.
func (a *Account) HasOpenPosition(market *schema.Market) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.availableBase(market).IsPositive()
}

// FindMarkets returns every configured market trading the asset as base.
func (a *Account) FindMarkets(asset string) []*schema.Market {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var found []*schema.Market
	for _, market := range a.markets {
		if market.Base == asset {
			found = append(found, market)
		}
	}
	return found
}

// QuoteToAllocate computes how much quote currency a candidate buy on the
// market may commit. Weight assigned to sibling markets that already hold a
// position is redistributed proportionally onto the still-empty ones.
func (a *Account) QuoteToAllocate(market *schema.Market) decimal.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.quoteToAllocate(market)
}

func (a *Account) quoteToAllocate(market *schema.Market) decimal.Decimal {
	log := observability.Log()
	if a.availableBase(market).IsPositive() {
		log.Debug("quote to allocate is 0, already in position",
			observability.F("account", a.name), observability.F("symbol", market.Symbol))
		return decimal.Zero
	}
	availableQuote := a.availableQuote(market)
	log.Debug("calculating quote to allocate",
		observability.F("account", a.name),
		observability.F("symbol", market.Symbol),
		observability.F("availableQuote", availableQuote))
	unavailableWeight := decimal.Zero
	for _, sibling := range a.markets {
		if sibling.Base == market.Base || sibling.Quote != market.Quote {
			continue
		}
		if a.availableBase(sibling).IsPositive() {
			unavailableWeight = unavailableWeight.Add(sibling.Weight)
		}
	}
	allocated := availableQuote
	denominator := decimal.NewFromInt(1).Sub(unavailableWeight)
	if denominator.IsNegative() {
		// Held sibling weights above 1 leave no share for this market.
		log.Debug("quote to allocate is 0, held weights exceed whole",
			observability.F("account", a.name),
			observability.F("symbol", market.Symbol),
			observability.F("unavailableWeight", unavailableWeight))
		return decimal.Zero
	}
	if denominator.IsPositive() {
		allocated = market.Weight.Mul(availableQuote).Div(denominator)
	}
	if allocated.GreaterThan(availableQuote) {
		allocated = availableQuote
	}
	allocated = allocated.Round(2)
	log.Debug("quote to allocate",
		observability.F("account", a.name),
		observability.F("symbol", market.Symbol),
		observability.F("allocated", allocated))
	return allocated
}

// OrderCost derives the buy order cost from the allocation, clamped to the
// market's cost ceiling and snapped to zero below the minimum order size.
// A zero result means skip, not a zero-sized order.
func (a *Account) OrderCost(market *schema.Market) decimal.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.orderCost(market)
}

func (a *Account) orderCost(market *schema.Market) decimal.Decimal {
	log := observability.Log()
	cost := a.quoteToAllocate(market)
	if cost.GreaterThan(market.MaxCost) {
		log.Warn("cost exceeds market max",
			observability.F("account", a.name),
			observability.F("symbol", market.Symbol),
			observability.F("cost", cost),
			observability.F("max", market.MaxCost))
		cost = market.MaxCost
	} else if cost.LessThan(a.minOrderQuote) {
		if cost.IsPositive() {
			log.Warn("cost is lower than minimum",
				observability.F("account", a.name),
				observability.F("symbol", market.Symbol),
				observability.F("cost", cost),
				observability.F("min", a.minOrderQuote))
		}
		cost = decimal.Zero
	}
	return cost
}

// ReleasePlanForQuote sizes per-market sell plans that together release the
// requested amount of quote currency. The drawdown is proportional to each
// market's target weight (plus a drift buffer), independent of position size.
func (a *Account) ReleasePlanForQuote(quote string, totalQuoteToRelease decimal.Decimal) schema.ReleasePlan {
	a.mu.RLock()
	defer a.mu.RUnlock()
	plan := make(schema.ReleasePlan)
	for _, market := range a.markets {
		if market.Quote != quote {
			continue
		}
		if !a.availableBase(market).IsPositive() {
			plan[market.Symbol] = schema.ReleaseLeg{Qty: decimal.Zero, Value: decimal.Zero}
			continue
		}
		expected := totalQuoteToRelease.Mul(market.Weight.Add(releaseBuffer))
		qty := a.balance.Quantity(market.Base)
		value := qty.Mul(market.LastPrice)
		if value.GreaterThan(expected) {
			value = expected
			qty = expected.Div(market.LastPrice)
		}
		plan[market.Symbol] = schema.ReleaseLeg{Qty: qty, Value: value}
	}
	return plan
}

// Buy submits a market buy sized in quote currency. ErrAllocationZero is
// returned when the cost is zero; the caller treats it as a skip.
func (a *Account) Buy(ctx context.Context, market *schema.Market, cost decimal.Decimal) (*schema.Order, error) {
	if cost.IsZero() {
		return nil, fmt.Errorf("%s: %w", market.Symbol, ErrAllocationZero)
	}
	observability.Log().Debug("sending buy order",
		observability.F("account", a.name),
		observability.F("symbol", market.Symbol),
		observability.F("cost", cost))
	order, err := a.exchange.CreateMarketBuyOrderWithCost(ctx, market.Symbol, cost)
	if err != nil {
		return nil, fmt.Errorf("buy %s: %w", market.Symbol, err)
	}
	return order, nil
}

// Sell submits a market sell for the given base quantity, or the full
// available base when qty is zero. A resolved quantity of zero is an error.
func (a *Account) Sell(ctx context.Context, market *schema.Market, qty decimal.Decimal) (*schema.Order, error) {
	if qty.IsZero() {
		qty = a.AvailableBase(market)
	}
	if qty.IsZero() {
		return nil, errs.New(a.exchange.Name(), errs.CodeInvalid,
			errs.WithMessage("order qty is 0 for "+market.Symbol))
	}
	observability.Log().Debug("sending sell order",
		observability.F("account", a.name),
		observability.F("symbol", market.Symbol),
		observability.F("qty", qty))
	order, err := a.exchange.CreateMarketSellOrder(ctx, market.Symbol, qty)
	if err != nil {
		return nil, fmt.Errorf("sell %s: %w", market.Symbol, err)
	}
	return order, nil
}

// SettleAndReload waits the settlement delay then refreshes the ledger. The
// delay is a fill-confirmation heuristic, not an order-status poll.
func (a *Account) SettleAndReload(ctx context.Context) {
	a.sleep(ctx, a.settleDelay)
	if err := a.LoadBalance(ctx); err != nil {
		observability.Log().Error("balance reload failed",
			observability.F("account", a.name), observability.F("error", err))
	}
}
