package schema

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestNewMarketDerivesSymbol(t *testing.T) {
	market := NewMarket("eth", " usdt ", decimal.NewFromFloat(0.4), decimal.NewFromInt(1000))
	if market.Symbol != "ETH/USDT" {
		t.Fatalf("expected derived symbol ETH/USDT, got %q", market.Symbol)
	}
	if !market.LastPrice.IsZero() {
		t.Fatalf("expected zero initial price, got %s", market.LastPrice)
	}
}

func TestSplitSymbol(t *testing.T) {
	base, quote := SplitSymbol("BTC/USDT")
	if base != "BTC" || quote != "USDT" {
		t.Fatalf("unexpected split: %q %q", base, quote)
	}
	base, quote = SplitSymbol("BTCUSDT")
	if base != "BTCUSDT" || quote != "" {
		t.Fatalf("expected passthrough for unseparated symbol, got %q %q", base, quote)
	}
}

func TestSignalValidate(t *testing.T) {
	cases := []struct {
		name   string
		signal Signal
		valid  bool
	}{
		{"valid buy", Signal{Asset: "ETH", Side: SideBuy}, true},
		{"valid sell", Signal{Asset: "BTC", Side: SideSell}, true},
		{"missing asset", Signal{Side: SideBuy}, false},
		{"missing side", Signal{Asset: "ETH"}, false},
		{"unknown side", Signal{Asset: "ETH", Side: "hold"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.signal.Validate()
			if tc.valid && err != nil {
				t.Fatalf("expected valid signal, got %v", err)
			}
			if !tc.valid && err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestSignalSizeMultiplierDefaultsToOne(t *testing.T) {
	signal := Signal{Asset: "ETH", Side: SideBuy}
	if got := signal.SizeMultiplier("aggressive"); !got.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected default multiplier 1, got %s", got)
	}
	signal.RiskSize = map[string]decimal.Decimal{
		"conservative": decimal.NewFromFloat(0.5),
	}
	if got := signal.SizeMultiplier("conservative"); !got.Equal(decimal.NewFromFloat(0.5)) {
		t.Fatalf("expected profile multiplier 0.5, got %s", got)
	}
	if got := signal.SizeMultiplier("aggressive"); !got.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected fallback multiplier 1, got %s", got)
	}
}

func TestAccountBalanceQuantityAndClone(t *testing.T) {
	balance := AccountBalance{
		"ETH": {Quantity: decimal.NewFromInt(2), Value: decimal.NewFromInt(2000)},
	}
	if got := balance.Quantity("ETH"); !got.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected quantity 2, got %s", got)
	}
	if got := balance.Quantity("SOL"); !got.IsZero() {
		t.Fatalf("expected zero quantity for missing asset, got %s", got)
	}
	clone := balance.Clone()
	clone["ETH"] = Holding{Quantity: decimal.NewFromInt(9), Value: decimal.Zero}
	if got := balance.Quantity("ETH"); !got.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("clone mutation leaked into original: %s", got)
	}
}

func TestClosedOrderFillPricePrefersAverage(t *testing.T) {
	order := ClosedOrder{Price: decimal.NewFromInt(100), Average: decimal.NewFromInt(101)}
	if got := order.FillPrice(); !got.Equal(decimal.NewFromInt(101)) {
		t.Fatalf("expected average fill price, got %s", got)
	}
	order.Average = decimal.Zero
	if got := order.FillPrice(); !got.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected order price fallback, got %s", got)
	}
}
