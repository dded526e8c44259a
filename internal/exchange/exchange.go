// Package exchange defines the adapter contract between the engine and trading venues.
package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/tradeflow/internal/schema"
)

// Exchange is the capability surface the engine consumes from a trading venue.
//
// Implementations are expected to bound every call with their own request
// timeout; the engine adds no additional deadline or retry on top.
type Exchange interface {
	// Name returns the venue identifier, e.g. "pionex".
	Name() string

	// HasCredentials reports whether API credentials are configured. Balance
	// refreshes are skipped with a warning when no key is present.
	HasCredentials() bool

	// LoadMarkets fetches symbol and precision metadata. Implementations may
	// serve the result from a shared per-venue cache.
	LoadMarkets(ctx context.Context) error

	// FetchTickers returns the last trade price for each requested symbol.
	FetchTickers(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)

	// FetchTicker returns the last trade price for a single symbol.
	FetchTicker(ctx context.Context, symbol string) (decimal.Decimal, error)

	// FetchBalance returns authoritative per-asset total quantities.
	FetchBalance(ctx context.Context) (map[string]decimal.Decimal, error)

	// CreateMarketBuyOrderWithCost submits a market buy sized in quote currency.
	CreateMarketBuyOrderWithCost(ctx context.Context, symbol string, cost decimal.Decimal) (*schema.Order, error)

	// CreateMarketSellOrder submits a market sell sized in base currency.
	CreateMarketSellOrder(ctx context.Context, symbol string, qty decimal.Decimal) (*schema.Order, error)

	// FetchClosedOrders lists historical filled orders for the symbol, oldest first.
	FetchClosedOrders(ctx context.Context, symbol string, since time.Time, limit int) ([]schema.ClosedOrder, error)

	// AmountToPrecision rounds a base quantity to the venue's lot precision.
	AmountToPrecision(symbol string, qty decimal.Decimal) decimal.Decimal

	// PriceToPrecision rounds a price to the venue's tick precision.
	PriceToPrecision(symbol string, price decimal.Decimal) decimal.Decimal
}
