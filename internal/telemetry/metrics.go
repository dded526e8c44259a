package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const engineMeterName = "tradeflow/engine"

// EngineMetrics records signal processing and order dispatch counters.
// A nil receiver is a no-op, so wiring metrics stays optional.
type EngineMetrics struct {
	signalsReceived metric.Int64Counter
	ordersPlaced    metric.Int64Counter
	ordersFailed    metric.Int64Counter
	allocationSkips metric.Int64Counter
	gasTopUps       metric.Int64Counter
}

// NewEngineMetrics registers the engine instruments on the global meter provider.
func NewEngineMetrics() (*EngineMetrics, error) {
	meter := otel.GetMeterProvider().Meter(engineMeterName)
	m := new(EngineMetrics)
	var err error
	if m.signalsReceived, err = meter.Int64Counter("tradeflow.signals.received",
		metric.WithDescription("Signals accepted for processing")); err != nil {
		return nil, err
	}
	if m.ordersPlaced, err = meter.Int64Counter("tradeflow.orders.placed",
		metric.WithDescription("Market orders acknowledged by the exchange")); err != nil {
		return nil, err
	}
	if m.ordersFailed, err = meter.Int64Counter("tradeflow.orders.failed",
		metric.WithDescription("Market orders that failed at dispatch")); err != nil {
		return nil, err
	}
	if m.allocationSkips, err = meter.Int64Counter("tradeflow.allocation.skips",
		metric.WithDescription("Buys skipped because the computed cost was zero")); err != nil {
		return nil, err
	}
	if m.gasTopUps, err = meter.Int64Counter("tradeflow.gas.topups",
		metric.WithDescription("Gas reserve replenishment orders")); err != nil {
		return nil, err
	}
	return m, nil
}

// SignalReceived counts an accepted signal.
func (m *EngineMetrics) SignalReceived(ctx context.Context, side string) {
	if m == nil {
		return
	}
	m.signalsReceived.Add(ctx, 1, metric.WithAttributes(attribute.String("side", side)))
}

// OrderPlaced counts an acknowledged order.
func (m *EngineMetrics) OrderPlaced(ctx context.Context, account, symbol, side string) {
	if m == nil {
		return
	}
	m.ordersPlaced.Add(ctx, 1, metric.WithAttributes(
		attribute.String("account", account),
		attribute.String("symbol", symbol),
		attribute.String("side", side),
	))
}

// OrderFailed counts a dispatch failure.
func (m *EngineMetrics) OrderFailed(ctx context.Context, account, symbol, side string) {
	if m == nil {
		return
	}
	m.ordersFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("account", account),
		attribute.String("symbol", symbol),
		attribute.String("side", side),
	))
}

// AllocationSkipped counts a zero-cost buy skip.
func (m *EngineMetrics) AllocationSkipped(ctx context.Context, account, symbol string) {
	if m == nil {
		return
	}
	m.allocationSkips.Add(ctx, 1, metric.WithAttributes(
		attribute.String("account", account),
		attribute.String("symbol", symbol),
	))
}

// GasTopUp counts a gas replenishment.
func (m *EngineMetrics) GasTopUp(ctx context.Context, account string) {
	if m == nil {
		return
	}
	m.gasTopUps.Add(ctx, 1, metric.WithAttributes(attribute.String("account", account)))
}
