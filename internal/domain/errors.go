package domain

import (
	"context"
	"errors"
)

// Error taxonomy shared by every layer. Callers wrap these with fmt.Errorf
// and %w, and match with errors.Is.
var (
	ErrDataUnavailable     = errors.New("market data unavailable")
	ErrInsufficientHistory = errors.New("insufficient bar history")
	ErrInvalidSizing       = errors.New("invalid position sizing input")
	ErrDuplicateOrder      = errors.New("open order already outstanding for symbol")
	ErrBrokerTimeout       = errors.New("broker request timed out")
	ErrBrokerRejected      = errors.New("broker rejected request")
	ErrTradingHalted       = errors.New("trading halted")
	ErrRiskLimitBreached   = errors.New("daily loss limit breached")
)

// ReasonCode maps an error to the stable snake_case code reported in cycle
// results.
func ReasonCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDataUnavailable):
		return "data_unavailable"
	case errors.Is(err, ErrInsufficientHistory):
		return "insufficient_history"
	case errors.Is(err, ErrInvalidSizing):
		return "invalid_sizing"
	case errors.Is(err, ErrDuplicateOrder):
		return "duplicate_order"
	case errors.Is(err, ErrBrokerTimeout), errors.Is(err, context.DeadlineExceeded):
		return "broker_timeout"
	case errors.Is(err, ErrBrokerRejected):
		return "broker_rejected"
	case errors.Is(err, ErrTradingHalted):
		return "trading_halted"
	case errors.Is(err, ErrRiskLimitBreached):
		return "risk_limit_breached"
	default:
		return "error"
	}
}

// IsTransient reports whether err is worth exactly one retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrBrokerTimeout) || errors.Is(err, context.DeadlineExceeded)
}
