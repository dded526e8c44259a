package schema

import "github.com/shopspring/decimal"

// Holding records the last-known quantity of an asset and its valuation in the
// account's reference quote currency.
type Holding struct {
	Quantity decimal.Decimal `json:"qty"`
	Value    decimal.Decimal `json:"value"`
}

// AccountBalance maps asset symbols to holdings. It is a snapshot of the
// exchange's authoritative totals at last refresh and is always replaced
// wholesale, never patched.
type AccountBalance map[string]Holding

// Quantity returns the held quantity for the asset, zero when absent.
func (b AccountBalance) Quantity(asset string) decimal.Decimal {
	if h, ok := b[asset]; ok {
		return h.Quantity
	}
	return decimal.Zero
}

// Clone returns an independent copy of the balance snapshot.
func (b AccountBalance) Clone() AccountBalance {
	out := make(AccountBalance, len(b))
	for asset, holding := range b {
		out[asset] = holding
	}
	return out
}

// ReleaseLeg is the per-market slice of a quote release plan.
type ReleaseLeg struct {
	Qty   decimal.Decimal `json:"qty"`
	Value decimal.Decimal `json:"value"`
}

// ReleasePlan maps market symbols to the quantity and value to liquidate.
type ReleasePlan map[string]ReleaseLeg
