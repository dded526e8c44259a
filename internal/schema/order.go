package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is the exchange's acknowledgement of a submitted market order.
type Order struct {
	ID        string          `json:"id"`
	ClientID  string          `json:"clientId,omitempty"`
	Symbol    string          `json:"symbol"`
	Side      OrderSide       `json:"side"`
	Status    string          `json:"status"`
	Filled    decimal.Decimal `json:"filled"`
	Average   decimal.Decimal `json:"average"`
	Timestamp time.Time       `json:"timestamp"`
}

// ClosedOrder is a historical filled order returned by the exchange, consumed
// by the trade journal when pairing buys with sells.
type ClosedOrder struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Side      OrderSide       `json:"side"`
	Filled    decimal.Decimal `json:"filled"`
	Price     decimal.Decimal `json:"price"`
	Average   decimal.Decimal `json:"average"`
	Timestamp time.Time       `json:"timestamp"`
}

// FillPrice returns the effective execution price, preferring the average fill.
func (o ClosedOrder) FillPrice() decimal.Decimal {
	if o.Average.IsPositive() {
		return o.Average
	}
	return o.Price
}
