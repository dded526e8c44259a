// Package schema defines the canonical trading data model shared across tradeflow services.
package schema

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Market describes a tradable pair with its target allocation weight.
//
// Symbol is derived from base and quote at construction and never changes.
// LastPrice is refreshed on every price reload and by the live ticker stream.
type Market struct {
	Base      string
	Quote     string
	Weight    decimal.Decimal
	MaxCost   decimal.Decimal
	Symbol    string
	LastPrice decimal.Decimal
}

// NewMarket constructs a market for the base/quote pair.
func NewMarket(base, quote string, weight, maxCost decimal.Decimal) *Market {
	base = strings.ToUpper(strings.TrimSpace(base))
	quote = strings.ToUpper(strings.TrimSpace(quote))
	return &Market{
		Base:      base,
		Quote:     quote,
		Weight:    weight,
		MaxCost:   maxCost,
		Symbol:    base + "/" + quote,
		LastPrice: decimal.Zero,
	}
}

// SplitSymbol separates a "BASE/QUOTE" symbol into its components.
func SplitSymbol(symbol string) (base, quote string) {
	parts := strings.SplitN(symbol, "/", 2)
	if len(parts) != 2 {
		return symbol, ""
	}
	return parts[0], parts[1]
}
