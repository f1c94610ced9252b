package marketdata

import (
	"context"
	"fmt"

	"autotrader/internal/domain"
)

// Compile-time interface check.
var _ Provider = (*StoreProvider)(nil)

// LatestBarReader reads the tail of the local bar archive.
type LatestBarReader interface {
	LatestBars(ctx context.Context, symbol string, market string, limit int) ([]domain.Bar, error)
}

// StoreProvider serves bars from the local Parquet archive, for offline runs
// and paper trading against backfilled history.
type StoreProvider struct {
	store  LatestBarReader
	market domain.Market
}

// NewStoreProvider creates a provider reading market's bars from s.
func NewStoreProvider(s LatestBarReader, market domain.Market) *StoreProvider {
	return &StoreProvider{store: s, market: market}
}

// Bars returns the most recent limit archived bars for symbol.
func (p *StoreProvider) Bars(ctx context.Context, symbol string, limit int) ([]domain.Bar, error) {
	bars, err := p.store.LatestBars(ctx, symbol, string(p.market), limit)
	if err != nil {
		return nil, fmt.Errorf("reading archived bars for %s: %w: %v", symbol, domain.ErrDataUnavailable, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no archived bars for %s: %w", symbol, domain.ErrDataUnavailable)
	}
	return bars, nil
}
