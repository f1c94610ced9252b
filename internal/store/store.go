// Package store defines the persistence interfaces for the bar archive and
// the append-only trading ledger.
package store

import (
	"context"
	"time"

	"autotrader/internal/domain"
)

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars to storage.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within [start, end].
	ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market string) ([]string, error)
}

// Ledger is the append-only record of order outcomes, account snapshots and
// operator alerts. Rows are never updated in place.
type Ledger interface {
	// AppendTrade records an order outcome.
	AppendTrade(ctx context.Context, order domain.Order) error

	// AppendAccountSnapshot records the account state read at cycle start.
	AppendAccountSnapshot(ctx context.Context, acct domain.AccountState) error

	// AppendAlert records an operator alert.
	AppendAlert(ctx context.Context, alert domain.Alert) error

	// RecentTrades returns order records created at or after since, oldest
	// first.
	RecentTrades(ctx context.Context, since time.Time) ([]domain.Order, error)

	// RecentSnapshots returns account snapshots taken at or after since,
	// oldest first.
	RecentSnapshots(ctx context.Context, since time.Time) ([]domain.AccountState, error)

	Close() error
}
