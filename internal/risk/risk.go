// Package risk enforces dispatch-time guards on outgoing orders.
package risk

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Limits defines the order dispatch guards for the engine.
type Limits struct {
	// OrderThrottle is the maximum rate of orders per second. Zero disables
	// throttling.
	OrderThrottle float64 `yaml:"orderThrottle"`

	// MaxOrderNotional caps the quote value of a single order. Zero disables
	// the cap.
	MaxOrderNotional decimal.Decimal `yaml:"maxOrderNotional"`
}

// Manager applies risk limits before orders reach the exchange.
type Manager struct {
	limits  Limits
	limiter *rate.Limiter
}

// NewManager creates a risk manager with the given limits.
func NewManager(limits Limits) *Manager {
	var limiter *rate.Limiter
	if limits.OrderThrottle > 0 {
		limiter = rate.NewLimiter(rate.Limit(limits.OrderThrottle), 1)
	}
	return &Manager{limits: limits, limiter: limiter}
}

// CheckOrder blocks until the throttle admits the order and validates its
// notional value against the configured ceiling.
func (m *Manager) CheckOrder(ctx context.Context, symbol string, notional decimal.Decimal) error {
	if m == nil {
		return nil
	}
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("order throttle: %w", err)
		}
	}
	if m.limits.MaxOrderNotional.IsPositive() && notional.GreaterThan(m.limits.MaxOrderNotional) {
		return fmt.Errorf("order notional %s for %s exceeds limit %s",
			notional, symbol, m.limits.MaxOrderNotional)
	}
	return nil
}
