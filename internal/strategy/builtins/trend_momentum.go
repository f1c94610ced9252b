// Package builtins provides the strategy implementations that ship with
// autotrader.
package builtins

import (
	"context"

	"autotrader/internal/domain"
	"autotrader/internal/indicator"
	"autotrader/internal/strategy"
)

// Compile-time interface check.
var _ strategy.SetStrategy = (*TrendMomentum)(nil)

// RSI bounds for the trend-momentum rule.
const (
	RSIOverbought = 70.0
	RSIOversold   = 30.0
)

// TrendMomentum buys when the short SMA is above the long SMA, RSI is below
// the overbought level and MACD is above its signal line, and sells on the
// mirror-image condition. Everything else, boundary values included, is HOLD.
type TrendMomentum struct{}

// NewTrendMomentum creates the trend-momentum strategy.
func NewTrendMomentum() *TrendMomentum {
	return &TrendMomentum{}
}

// Name returns "trend-momentum".
func (s *TrendMomentum) Name() string {
	return "trend-momentum"
}

// Evaluate computes indicators over bars and applies Decide to the result.
func (s *TrendMomentum) Evaluate(_ context.Context, symbol string, bars []domain.Bar) (domain.Signal, error) {
	set, err := indicator.Compute(bars)
	if err != nil {
		return domain.Signal{}, err
	}
	return s.EvaluateSet(symbol, set), nil
}

// EvaluateSet applies Decide to an already computed Set.
func (s *TrendMomentum) EvaluateSet(symbol string, set indicator.Set) domain.Signal {
	return domain.Signal{
		Symbol:    symbol,
		Timestamp: set.Timestamp,
		Price:     set.Close,
		Verdict:   Decide(set),
		Strategy:  s.Name(),
	}
}

// Decide applies the trend-momentum rule to a single indicator Set.
func Decide(set indicator.Set) domain.Verdict {
	switch {
	case set.SMA20 > set.SMA50 && set.RSI < RSIOverbought && set.MACD > set.MACDSignal:
		return domain.VerdictBuy
	case set.SMA20 < set.SMA50 && set.RSI > RSIOversold && set.MACD < set.MACDSignal:
		return domain.VerdictSell
	default:
		return domain.VerdictHold
	}
}

// Register adds every builtin strategy to r.
func Register(r *strategy.Registry) {
	r.Register(NewTrendMomentum())
	r.Register(NewSMACross(indicator.ShortSMAPeriod, indicator.LongSMAPeriod))
}
