package builtins

import (
	"context"
	"fmt"

	"autotrader/internal/domain"
	"autotrader/internal/indicator"
	"autotrader/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*SMACross)(nil)

// SMACross implements a simple moving average trend filter. It generates a
// buy signal while the short-period SMA is above the long-period SMA and a
// sell signal while it is below.
type SMACross struct {
	shortPeriod int
	longPeriod  int
}

// NewSMACross creates a new SMACross strategy with the specified short and
// long moving average periods.
func NewSMACross(short, long int) *SMACross {
	return &SMACross{
		shortPeriod: short,
		longPeriod:  long,
	}
}

// Name returns "sma-cross".
func (s *SMACross) Name() string {
	return "sma-cross"
}

// Evaluate compares the two SMAs on the most recent bar.
func (s *SMACross) Evaluate(_ context.Context, symbol string, bars []domain.Bar) (domain.Signal, error) {
	if len(bars) < s.longPeriod {
		return domain.Signal{}, fmt.Errorf("need %d bars, got %d: %w", s.longPeriod, len(bars), domain.ErrInsufficientHistory)
	}
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	short, err := indicator.SMA(closes, s.shortPeriod)
	if err != nil {
		return domain.Signal{}, err
	}
	long, err := indicator.SMA(closes, s.longPeriod)
	if err != nil {
		return domain.Signal{}, err
	}

	verdict := domain.VerdictHold
	switch {
	case short > long:
		verdict = domain.VerdictBuy
	case short < long:
		verdict = domain.VerdictSell
	}

	last := bars[len(bars)-1]
	return domain.Signal{
		Symbol:    symbol,
		Timestamp: last.Timestamp,
		Price:     last.Close,
		Verdict:   verdict,
		Strategy:  s.Name(),
	}, nil
}
