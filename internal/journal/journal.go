// Package journal records completed round-trip trades and webhook
// subscriptions in Postgres.
package journal

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is one completed round trip: an opening buy paired with the sell that
// closed it.
type Trade struct {
	ID         string
	Account    string
	Symbol     string
	OpenedAt   time.Time
	OpenPrice  decimal.Decimal
	ClosedAt   time.Time
	ClosePrice decimal.Decimal
	Quantity   decimal.Decimal
}

// Webhook is a downstream signal subscriber with an expiry.
type Webhook struct {
	ID        string
	URL       string
	ExpiresAt time.Time
}

// Expired reports whether the subscription has lapsed at the given time.
func (w Webhook) Expired(now time.Time) bool {
	return !w.ExpiresAt.IsZero() && !w.ExpiresAt.After(now)
}
