package engine

import (
	"fmt"
	"math"

	"autotrader/internal/domain"
)

// affordabilityBuffer keeps 5% of buying power back for slippage and fees.
const affordabilityBuffer = 0.95

// PositionSizer converts an entry price and account state into a share
// quantity under a fixed-fractional risk budget.
type PositionSizer struct {
	riskPerTrade float64
	stopLossPct  float64
}

// NewPositionSizer creates a PositionSizer risking riskPerTrade of portfolio
// value per trade with a stop stopLossPct below entry.
func NewPositionSizer(riskPerTrade, stopLossPct float64) *PositionSizer {
	return &PositionSizer{riskPerTrade: riskPerTrade, stopLossPct: stopLossPct}
}

// Size returns the quantity to buy at price. A zero quantity with a nil error
// means there is not enough capital for even one share, which is a normal
// outcome. Any positive result satisfies qty*price <= acct.BuyingPower.
func (s *PositionSizer) Size(price float64, acct domain.AccountState) (int64, error) {
	if !(price > 0) || math.IsInf(price, 0) {
		return 0, fmt.Errorf("price %v: %w", price, domain.ErrInvalidSizing)
	}
	riskAmount := acct.PortfolioValue * s.riskPerTrade
	stopLossAmount := price * s.stopLossPct
	if !(stopLossAmount > 0) {
		return 0, fmt.Errorf("stop loss amount %v: %w", stopLossAmount, domain.ErrInvalidSizing)
	}

	rawQty := math.Floor(riskAmount / stopLossAmount)
	affordableQty := math.Floor(acct.BuyingPower / price * affordabilityBuffer)
	qty := math.Min(rawQty, affordableQty)
	if !(qty >= 1) {
		return 0, nil
	}
	return int64(qty), nil
}
