// Package marketdata supplies the chronologically ordered daily bars the
// trading cycle evaluates.
package marketdata

import (
	"context"

	"autotrader/internal/domain"
)

// Provider returns up to limit of the most recent bars for a symbol, oldest
// first. Failures and empty results wrap domain.ErrDataUnavailable.
type Provider interface {
	Bars(ctx context.Context, symbol string, limit int) ([]domain.Bar, error)
}

// tail returns the last n bars.
func tail(bars []domain.Bar, n int) []domain.Bar {
	if n > 0 && len(bars) > n {
		return bars[len(bars)-n:]
	}
	return bars
}
