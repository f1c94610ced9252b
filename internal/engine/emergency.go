package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"autotrader/internal/alert"
	"autotrader/internal/broker"
	"autotrader/internal/domain"
)

// OrderOutcome is the result of one closing order.
type OrderOutcome struct {
	Symbol string        `json:"symbol"`
	Order  *domain.Order `json:"order,omitempty"`
	Reason string        `json:"reason,omitempty"`
}

// StopResult reports an emergency stop.
type StopResult struct {
	Halted bool           `json:"halted"`
	Orders []OrderOutcome `json:"orders"`
	Failed []string       `json:"failed,omitempty"`
}

// EmergencyStop halts trading and flattens every position with exit orders
// that bypass sizing and the risk gate. Symbols whose close failed stay
// pending and are retried by RetryPending until the broker shows them flat.
type EmergencyStop struct {
	broker   broker.Broker
	executor *OrderExecutor
	risk     *RiskManager
	alerts   alert.Sink
	timeout  time.Duration
	log      *slog.Logger

	mu sync.Mutex
	// pending holds symbols still to flatten; flattenAll is set when the
	// position list itself could not be read.
	pending    map[string]struct{}
	flattenAll bool
}

// NewEmergencyStop creates an EmergencyStop closing positions through x.
func NewEmergencyStop(b broker.Broker, x *OrderExecutor, risk *RiskManager, alerts alert.Sink, timeout time.Duration) *EmergencyStop {
	if alerts == nil {
		alerts = alert.Nop{}
	}
	return &EmergencyStop{
		broker:   b,
		executor: x,
		risk:     risk,
		alerts:   alerts,
		timeout:  timeout,
		log:      slog.Default().With("component", "emergency-stop"),
		pending:  make(map[string]struct{}),
	}
}

// Trigger halts trading, then cancels this process's pending orders and
// closes every nonzero position. With no positions it only halts.
func (s *EmergencyStop) Trigger(ctx context.Context, reason string) (*StopResult, error) {
	s.risk.Halt(reason)
	s.log.Warn("emergency stop triggered", "reason", reason)
	s.alerts.Notify(alert.KindEmergencyStop, map[string]any{"reason": reason})

	if n := s.executor.CancelPending(ctx); n > 0 {
		s.log.Info("cancelled pending orders", "count", n)
	}

	res := &StopResult{Halted: true, Orders: []OrderOutcome{}}
	positions, err := s.positions(ctx)
	if err != nil {
		s.mu.Lock()
		s.flattenAll = true
		s.mu.Unlock()
		s.alerts.Notify(alert.KindEmergencyCloseFailed, map[string]any{"symbol": "*", "error": err.Error()})
		return res, fmt.Errorf("emergency stop: reading positions: %w", err)
	}
	s.mu.Lock()
	s.flattenAll = false
	s.mu.Unlock()

	for _, p := range positions {
		out := s.close(ctx, p)
		res.Orders = append(res.Orders, out)
		if out.Reason != "" {
			res.Failed = append(res.Failed, p.Symbol)
		}
	}
	return res, nil
}

// RetryPending re-closes the symbols left over from failed emergency closes.
// A symbol no longer held is confirmed flat and dropped.
func (s *EmergencyStop) RetryPending(ctx context.Context) ([]OrderOutcome, error) {
	s.mu.Lock()
	all := s.flattenAll
	pending := make(map[string]struct{}, len(s.pending))
	for sym := range s.pending {
		pending[sym] = struct{}{}
	}
	s.mu.Unlock()
	if !all && len(pending) == 0 {
		return nil, nil
	}

	positions, err := s.positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("retrying emergency closes: %w", err)
	}
	held := make(map[string]domain.Position, len(positions))
	for _, p := range positions {
		held[p.Symbol] = p
	}

	var outcomes []OrderOutcome
	if all {
		s.mu.Lock()
		s.flattenAll = false
		s.mu.Unlock()
		for _, p := range positions {
			pending[p.Symbol] = struct{}{}
		}
	}
	syms := make([]string, 0, len(pending))
	for sym := range pending {
		syms = append(syms, sym)
	}
	sort.Strings(syms)

	for _, sym := range syms {
		p, ok := held[sym]
		if !ok {
			s.mu.Lock()
			delete(s.pending, sym)
			s.mu.Unlock()
			s.log.Info("emergency close confirmed flat", "symbol", sym)
			outcomes = append(outcomes, OrderOutcome{Symbol: sym, Reason: "flat"})
			continue
		}
		if s.executor.Busy(sym) {
			outcomes = append(outcomes, OrderOutcome{Symbol: sym, Reason: "close_pending"})
			continue
		}
		outcomes = append(outcomes, s.close(ctx, p))
	}
	return outcomes, nil
}

// Pending lists symbols awaiting a successful close, sorted.
func (s *EmergencyStop) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	syms := make([]string, 0, len(s.pending))
	for sym := range s.pending {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	return syms
}

// close submits the exit for p. A filled close clears the symbol; any other
// outcome leaves it pending until RetryPending sees it flat.
func (s *EmergencyStop) close(ctx context.Context, p domain.Position) OrderOutcome {
	side, qty := p.OpeningSide().Opposite(), p.Qty
	if qty < 0 {
		qty = -qty
	}
	s.mu.Lock()
	s.pending[p.Symbol] = struct{}{}
	s.mu.Unlock()

	order, err := s.executor.Execute(ctx, domain.OrderRequest{
		Symbol: p.Symbol,
		Side:   side,
		Type:   domain.OrderTypeMarket,
		Qty:    qty,
		Price:  p.CurrentPrice,
		Intent: domain.IntentExit,
	})
	if err == nil && order.Status == domain.OrderStatusFilled {
		s.mu.Lock()
		delete(s.pending, p.Symbol)
		s.mu.Unlock()
		return OrderOutcome{Symbol: p.Symbol, Order: order}
	}
	if err == nil {
		// Accepted but not filled yet: confirmed by a later RetryPending.
		return OrderOutcome{Symbol: p.Symbol, Order: order}
	}

	reason := domain.ReasonCode(err)
	s.log.Error("emergency close failed", "symbol", p.Symbol, "qty", qty, "side", side, "err", err)
	s.alerts.Notify(alert.KindEmergencyCloseFailed, map[string]any{
		"symbol": p.Symbol, "qty": qty, "side": string(side), "error": reason,
	})
	return OrderOutcome{Symbol: p.Symbol, Order: order, Reason: reason}
}

func (s *EmergencyStop) positions(ctx context.Context) ([]domain.Position, error) {
	return callBroker(ctx, s.timeout, 200*time.Millisecond, s.broker.GetPositions)
}
