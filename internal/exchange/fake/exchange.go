// Package fake provides a deterministic in-memory exchange for tests and paper runs.
package fake

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/tradeflow/errs"
	"github.com/coachpo/tradeflow/internal/schema"
)

// Submission records one order accepted by the fake venue.
type Submission struct {
	Symbol string
	Side   schema.OrderSide
	Cost   decimal.Decimal
	Qty    decimal.Decimal
}

// Exchange is a scriptable in-memory venue. All state mutations are guarded
// by a single mutex so tests may drive it from multiple goroutines.
type Exchange struct {
	name string

	mu           sync.Mutex
	hasCreds     bool
	fillOrders   bool
	prices       map[string]decimal.Decimal
	balances     map[string]decimal.Decimal
	closedOrders map[string][]schema.ClosedOrder
	precision    map[string]int32

	failOrders  map[string]error
	balanceErr  error
	tickerErr   error
	marketsErr  error
	loadMarkets int
	submissions []Submission
	orderSeq    int
}

// New constructs a fake venue with credentials configured and fills enabled.
func New(name string) *Exchange {
	return &Exchange{
		name:         name,
		hasCreds:     true,
		fillOrders:   true,
		prices:       make(map[string]decimal.Decimal),
		balances:     make(map[string]decimal.Decimal),
		closedOrders: make(map[string][]schema.ClosedOrder),
		precision:    make(map[string]int32),
		failOrders:   make(map[string]error),
	}
}

// Name returns the venue identifier.
func (e *Exchange) Name() string { return e.name }

// HasCredentials reports whether the venue has an API key configured.
func (e *Exchange) HasCredentials() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasCreds
}

// SetCredentials toggles the configured-credentials state.
func (e *Exchange) SetCredentials(configured bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hasCreds = configured
}

// SetFillOrders controls whether accepted orders mutate balances.
func (e *Exchange) SetFillOrders(fill bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fillOrders = fill
}

// SetPrice scripts the last trade price for a symbol.
func (e *Exchange) SetPrice(symbol string, price decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[symbol] = price
}

// SetBalance scripts the total balance for an asset.
func (e *Exchange) SetBalance(asset string, qty decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balances[asset] = qty
}

// SetBalanceError makes subsequent FetchBalance calls fail.
func (e *Exchange) SetBalanceError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balanceErr = err
}

// SetTickerError makes subsequent ticker fetches fail.
func (e *Exchange) SetTickerError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tickerErr = err
}

// FailOrders makes order submissions for the symbol fail with err.
func (e *Exchange) FailOrders(symbol string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failOrders[symbol] = err
}

// AddClosedOrder appends a historical filled order for the symbol.
func (e *Exchange) AddClosedOrder(order schema.ClosedOrder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closedOrders[order.Symbol] = append(e.closedOrders[order.Symbol], order)
}

// SetPrecision scripts the base precision for a symbol.
func (e *Exchange) SetPrecision(symbol string, digits int32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.precision[symbol] = digits
}

// Submissions returns every order accepted so far.
func (e *Exchange) Submissions() []Submission {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Submission, len(e.submissions))
	copy(out, e.submissions)
	return out
}

// LoadMarketsCalls reports how many times LoadMarkets ran.
func (e *Exchange) LoadMarketsCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadMarkets
}

// LoadMarkets pretends to load venue metadata.
func (e *Exchange) LoadMarkets(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loadMarkets++
	return e.marketsErr
}

// FetchTickers returns scripted prices for the requested symbols.
func (e *Exchange) FetchTickers(_ context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tickerErr != nil {
		return nil, e.tickerErr
	}
	out := make(map[string]decimal.Decimal, len(symbols))
	for _, symbol := range symbols {
		if price, ok := e.prices[symbol]; ok {
			out[symbol] = price
		}
	}
	return out, nil
}

// FetchTicker returns the scripted price for a single symbol.
func (e *Exchange) FetchTicker(_ context.Context, symbol string) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tickerErr != nil {
		return decimal.Zero, e.tickerErr
	}
	price, ok := e.prices[symbol]
	if !ok {
		return decimal.Zero, errs.New(e.name, errs.CodeNotFound, errs.WithMessage("no ticker for "+symbol))
	}
	return price, nil
}

// FetchBalance returns the scripted per-asset totals.
func (e *Exchange) FetchBalance(context.Context) (map[string]decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.balanceErr != nil {
		return nil, e.balanceErr
	}
	out := make(map[string]decimal.Decimal, len(e.balances))
	for asset, qty := range e.balances {
		out[asset] = qty
	}
	return out, nil
}

// CreateMarketBuyOrderWithCost accepts a quote-sized market buy.
func (e *Exchange) CreateMarketBuyOrderWithCost(_ context.Context, symbol string, cost decimal.Decimal) (*schema.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.failOrders[symbol]; err != nil {
		return nil, err
	}
	price := e.prices[symbol]
	qty := decimal.Zero
	if price.IsPositive() {
		qty = cost.Div(price)
	}
	if e.fillOrders && price.IsPositive() {
		base, quote := schema.SplitSymbol(symbol)
		e.balances[base] = e.balances[base].Add(qty)
		e.balances[quote] = e.balances[quote].Sub(cost)
	}
	e.submissions = append(e.submissions, Submission{Symbol: symbol, Side: schema.SideBuy, Cost: cost, Qty: qty})
	return e.ack(symbol, schema.SideBuy, qty, price), nil
}

// CreateMarketSellOrder accepts a base-sized market sell.
func (e *Exchange) CreateMarketSellOrder(_ context.Context, symbol string, qty decimal.Decimal) (*schema.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.failOrders[symbol]; err != nil {
		return nil, err
	}
	price := e.prices[symbol]
	if e.fillOrders && price.IsPositive() {
		base, quote := schema.SplitSymbol(symbol)
		e.balances[base] = e.balances[base].Sub(qty)
		e.balances[quote] = e.balances[quote].Add(qty.Mul(price))
	}
	e.submissions = append(e.submissions, Submission{Symbol: symbol, Side: schema.SideSell, Qty: qty})
	return e.ack(symbol, schema.SideSell, qty, price), nil
}

// FetchClosedOrders lists scripted historical orders after since.
func (e *Exchange) FetchClosedOrders(_ context.Context, symbol string, since time.Time, limit int) ([]schema.ClosedOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []schema.ClosedOrder
	for _, order := range e.closedOrders[symbol] {
		if !since.IsZero() && !order.Timestamp.After(since) {
			continue
		}
		out = append(out, order)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// AmountToPrecision truncates qty to the scripted precision for the symbol.
func (e *Exchange) AmountToPrecision(symbol string, qty decimal.Decimal) decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	if digits, ok := e.precision[symbol]; ok {
		return qty.Truncate(digits)
	}
	return qty
}

// PriceToPrecision returns the price unchanged; the fake venue has no ticks.
func (e *Exchange) PriceToPrecision(_ string, price decimal.Decimal) decimal.Decimal {
	return price
}

func (e *Exchange) ack(symbol string, side schema.OrderSide, qty, price decimal.Decimal) *schema.Order {
	e.orderSeq++
	return &schema.Order{
		ID:        fmt.Sprintf("%s-%s", e.name, strconv.Itoa(e.orderSeq)),
		Symbol:    symbol,
		Side:      side,
		Status:    "closed",
		Filled:    qty,
		Average:   price,
		Timestamp: time.Now(),
	}
}
