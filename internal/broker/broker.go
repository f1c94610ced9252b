// Package broker defines the Broker interface and provides implementations
// for executing orders and reading account state across different brokerages.
package broker

import (
	"context"

	"autotrader/internal/domain"
)

// Broker abstracts brokerage operations for order execution and account
// management. Implementations classify failures with domain.ErrBrokerTimeout
// (transient, worth one retry) and domain.ErrBrokerRejected (permanent).
type Broker interface {
	// Name returns the broker identifier (e.g. "alpaca", "simulator").
	Name() string

	// GetAccount returns a fresh snapshot of the account's financial metrics.
	GetAccount(ctx context.Context) (*domain.AccountState, error)

	// GetPositions returns all nonzero positions held at the brokerage.
	GetPositions(ctx context.Context) ([]domain.Position, error)

	// HasOpenOrder reports whether an unresolved order exists for symbol.
	HasOpenOrder(ctx context.Context, symbol string) (bool, error)

	// SubmitOrder sends an order to the brokerage for execution.
	SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error)

	// GetOrder returns the current state of an order by its broker ID.
	// An unknown ID is domain.ErrBrokerRejected.
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)

	// CancelOrder requests cancellation of an open order by its broker ID.
	CancelOrder(ctx context.Context, orderID string) error
}

// PriceObserver is implemented by brokers that value positions from prices
// supplied by the caller rather than from their own feed.
type PriceObserver interface {
	ObservePrice(symbol string, price float64)
}

// SessionStarter is implemented by brokers that track the previous-close
// equity themselves and need to be told when a new session begins.
type SessionStarter interface {
	BeginSession()
}
