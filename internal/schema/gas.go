package schema

import (
	"strings"

	"github.com/shopspring/decimal"
)

// GasPolicy keeps a fee-paying reserve asset funded relative to the quote balance.
//
// Rate is a percentage of the quote balance in [0,100]. Reserved is a floor
// quantity of the gas asset that is never counted as spendable.
type GasPolicy struct {
	Base     string
	Quote    string
	Symbol   string
	Rate     decimal.Decimal
	Reserved decimal.Decimal
}

// NewGasPolicy constructs an immutable gas policy for the base/quote pair.
func NewGasPolicy(base, quote string, rate, reserved decimal.Decimal) *GasPolicy {
	base = strings.ToUpper(strings.TrimSpace(base))
	quote = strings.ToUpper(strings.TrimSpace(quote))
	return &GasPolicy{
		Base:     base,
		Quote:    quote,
		Symbol:   base + "/" + quote,
		Rate:     rate,
		Reserved: reserved,
	}
}
