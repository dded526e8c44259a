package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/coachpo/tradeflow/internal/observability"
)

// RefillGas tops up the account's fee-paying gas asset when its quote-valued
// reserve drops below the configured percentage of the quote balance. The gas
// price is fetched live rather than read from the cached ledger because it
// moves independently of the portfolio markets. The reserved floor is never
// counted as spendable. It reports whether a top-up order was placed.
func (a *Account) RefillGas(ctx context.Context) (bool, error) {
	if a.gas == nil {
		return false, nil
	}
	a.mu.RLock()
	availableGas := a.balance.Quantity(a.gas.Base).Sub(a.gas.Reserved)
	availableQuote := a.balance.Quantity(a.gas.Quote)
	a.mu.RUnlock()

	neededGasQuote := availableQuote.Mul(a.gas.Rate).Div(decimal.NewFromInt(100))
	gasPrice, err := a.exchange.FetchTicker(ctx, a.gas.Symbol)
	if err != nil {
		return false, fmt.Errorf("gas ticker %s: %w", a.gas.Symbol, err)
	}
	availableGasQuote := availableGas.Mul(gasPrice)
	if neededGasQuote.LessThanOrEqual(availableGasQuote) {
		return false, nil
	}

	gasQuoteToBuy := neededGasQuote
	if gasQuoteToBuy.LessThan(a.minOrderQuote) {
		gasQuoteToBuy = a.minOrderQuote
	}
	observability.Log().Debug("buying gas",
		observability.F("account", a.name),
		observability.F("symbol", a.gas.Symbol),
		observability.F("cost", gasQuoteToBuy))
	if _, err := a.exchange.CreateMarketBuyOrderWithCost(ctx, a.gas.Symbol, gasQuoteToBuy); err != nil {
		return false, fmt.Errorf("buy gas %s: %w", a.gas.Symbol, err)
	}
	a.SettleAndReload(ctx)
	return true, nil
}
