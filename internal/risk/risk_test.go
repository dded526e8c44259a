package risk

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestCheckOrderThrottle(t *testing.T) {
	manager := NewManager(Limits{OrderThrottle: 10})

	for i := 0; i < 10; i++ {
		if err := manager.CheckOrder(context.Background(), "ETH/USDT", decimal.NewFromInt(1)); err != nil {
			t.Fatalf("order %d should have passed, got %v", i+1, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := manager.CheckOrder(ctx, "ETH/USDT", decimal.NewFromInt(1)); err == nil {
		t.Fatal("11th order should have been throttled")
	}
}

func TestCheckOrderNotionalCeiling(t *testing.T) {
	manager := NewManager(Limits{MaxOrderNotional: decimal.NewFromInt(100)})

	if err := manager.CheckOrder(context.Background(), "ETH/USDT", decimal.NewFromInt(100)); err != nil {
		t.Fatalf("order at limit should pass, got %v", err)
	}
	if err := manager.CheckOrder(context.Background(), "ETH/USDT", decimal.NewFromInt(101)); err == nil {
		t.Fatal("order above limit should be rejected")
	}
}

func TestNilManagerAllowsEverything(t *testing.T) {
	var manager *Manager
	if err := manager.CheckOrder(context.Background(), "ETH/USDT", decimal.NewFromInt(1)); err != nil {
		t.Fatalf("nil manager should allow orders, got %v", err)
	}
}

func TestZeroLimitsDisableGuards(t *testing.T) {
	manager := NewManager(Limits{})
	for i := 0; i < 100; i++ {
		if err := manager.CheckOrder(context.Background(), "ETH/USDT", decimal.NewFromInt(1_000_000)); err != nil {
			t.Fatalf("unlimited manager rejected order: %v", err)
		}
	}
}
