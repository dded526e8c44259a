package schema

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/coachpo/tradeflow/errs"
)

// OrderSide identifies the direction of an order or signal.
type OrderSide string

const (
	// SideBuy opens or increases a position.
	SideBuy OrderSide = "buy"
	// SideSell closes or reduces a position.
	SideSell OrderSide = "sell"
)

// Valid reports whether the side is a known order direction.
func (s OrderSide) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Signal is a transient directional trading instruction received from an upstream source.
//
// Price, stop, and take-profit levels are advisory; the engine executes market orders.
// RiskSize maps a risk profile name to an order size multiplier.
type Signal struct {
	Asset      string                     `json:"asset"`
	Side       OrderSide                  `json:"side"`
	Price      *decimal.Decimal           `json:"price,omitempty"`
	StopLoss   *decimal.Decimal           `json:"sl,omitempty"`
	TakeProfit *decimal.Decimal           `json:"tp,omitempty"`
	Reason     string                     `json:"reason,omitempty"`
	Account    string                     `json:"account,omitempty"`
	RiskSize   map[string]decimal.Decimal `json:"riskSize,omitempty"`
}

// Validate checks the signal for required fields and a known side.
func (s *Signal) Validate() error {
	if s == nil {
		return errs.Invalid("signal is required")
	}
	if strings.TrimSpace(s.Asset) == "" {
		return errs.Invalid("asset is required")
	}
	if strings.TrimSpace(string(s.Side)) == "" {
		return errs.Invalid("side is required")
	}
	if !s.Side.Valid() {
		return errs.Invalid("invalid value for side: " + string(s.Side))
	}
	return nil
}

// SizeMultiplier resolves the order size multiplier for the given risk profile.
// Profiles without an entry use a multiplier of 1.
func (s *Signal) SizeMultiplier(profile string) decimal.Decimal {
	if s == nil || len(s.RiskSize) == 0 {
		return decimal.NewFromInt(1)
	}
	if mult, ok := s.RiskSize[profile]; ok && mult.IsPositive() {
		return mult
	}
	return decimal.NewFromInt(1)
}
