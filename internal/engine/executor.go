package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"autotrader/internal/alert"
	"autotrader/internal/broker"
	"autotrader/internal/domain"
	"autotrader/internal/metrics"
	"autotrader/internal/util"
)

// TradeRecorder is the ledger method the executor writes through.
type TradeRecorder interface {
	AppendTrade(ctx context.Context, order domain.Order) error
}

// openOrder is the in-process marker for a symbol with an unresolved order.
type openOrder struct {
	correlationID string
	brokerID      string
	intent        domain.OrderIntent
	submitted     bool // false while the submission is still in flight
	since         time.Time
}

// OrderExecutor submits orders with at most one unresolved order per symbol
// and records every outcome in the ledger.
type OrderExecutor struct {
	broker     broker.Broker
	ledger     TradeRecorder
	risk       *RiskManager
	alerts     alert.Sink
	metrics    *metrics.Metrics
	timeout    time.Duration
	retryDelay time.Duration
	newID      func() string
	log        *slog.Logger

	mu   sync.Mutex
	open map[string]openOrder
}

// NewOrderExecutor creates an OrderExecutor. Broker calls are bounded by
// timeout and retried once on transient failure.
func NewOrderExecutor(b broker.Broker, ledger TradeRecorder, risk *RiskManager, alerts alert.Sink, m *metrics.Metrics, timeout time.Duration) *OrderExecutor {
	if alerts == nil {
		alerts = alert.Nop{}
	}
	return &OrderExecutor{
		broker:     b,
		ledger:     ledger,
		risk:       risk,
		alerts:     alerts,
		metrics:    m,
		timeout:    timeout,
		retryDelay: 200 * time.Millisecond,
		newID:      util.NewID,
		log:        slog.Default().With("component", "executor"),
		open:       make(map[string]openOrder),
	}
}

// Execute submits req. It returns domain.ErrDuplicateOrder without touching
// the broker's order endpoint while another order for the symbol is
// unresolved, and domain.ErrTradingHalted for entries while HALTED. Orders
// that reach the broker are recorded whatever the outcome; the recorded
// order is returned alongside any error.
func (x *OrderExecutor) Execute(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	if req.Qty < 1 {
		return nil, fmt.Errorf("quantity %d for %s: %w", req.Qty, req.Symbol, domain.ErrInvalidSizing)
	}
	if req.Type == "" {
		req.Type = domain.OrderTypeMarket
	}
	if req.CorrelationID == "" {
		req.CorrelationID = x.newID()
	}

	if !x.reserve(req.Symbol, req.CorrelationID) {
		x.metrics.Suppressed("duplicate_order")
		return nil, fmt.Errorf("%s: %w", req.Symbol, domain.ErrDuplicateOrder)
	}
	resolved := false
	defer func() {
		if resolved {
			x.release(req.Symbol, req.CorrelationID)
		}
	}()

	hasOpen, err := callBroker(ctx, x.timeout, x.retryDelay, func(ctx context.Context) (bool, error) {
		return x.broker.HasOpenOrder(ctx, req.Symbol)
	})
	if err != nil {
		resolved = true
		return nil, fmt.Errorf("checking open orders for %s: %w", req.Symbol, err)
	}
	if hasOpen {
		resolved = true
		x.metrics.Suppressed("duplicate_order")
		return nil, fmt.Errorf("%s has an open order at the broker: %w", req.Symbol, domain.ErrDuplicateOrder)
	}

	// The gate is consulted as late as possible so a halt raised while this
	// request was checking open orders still stops it.
	if req.Intent != domain.IntentExit {
		if err := x.risk.AllowEntry(); err != nil {
			resolved = true
			x.metrics.Suppressed("trading_halted")
			return nil, err
		}
	}

	x.metrics.Attempted()
	order, err := callBroker(ctx, x.timeout, x.retryDelay, func(ctx context.Context) (*domain.Order, error) {
		return x.broker.SubmitOrder(ctx, req)
	})
	if err != nil {
		resolved = true
		status := domain.OrderStatusFailed
		if errors.Is(err, domain.ErrBrokerRejected) {
			status = domain.OrderStatusRejected
		}
		failed := x.failedOrder(req, status, err)
		x.record(ctx, failed)
		x.metrics.Failed(failed.Reason)
		if status == domain.OrderStatusFailed {
			x.alerts.Notify(alert.KindOrderFailed, map[string]any{
				"symbol": req.Symbol, "side": string(req.Side), "qty": req.Qty,
				"correlation_id": req.CorrelationID, "error": err.Error(),
			})
		}
		return &failed, fmt.Errorf("submitting %s %d %s: %w", req.Side, req.Qty, req.Symbol, err)
	}

	x.metrics.Placed()
	x.record(ctx, *order)
	if order.Status.Terminal() {
		resolved = true
	} else {
		x.markPending(req.Symbol, req.CorrelationID, order.BrokerID, req.Intent)
	}
	x.log.Info("order submitted",
		"symbol", req.Symbol, "side", req.Side, "qty", req.Qty,
		"status", order.Status, "intent", req.Intent, "correlationID", req.CorrelationID)

	if order.Status == domain.OrderStatusRejected {
		return order, fmt.Errorf("%s order for %s: %w", order.Status, req.Symbol, domain.ErrBrokerRejected)
	}
	return order, nil
}

// Reconcile looks up every PENDING order at the broker. An order that
// reached a terminal status is appended to the ledger under its original
// correlation ID and its marker cleared; one still working keeps its marker.
// Orders the broker cannot find fall back to the open-order query. Broker
// failures leave the marker in place.
func (x *OrderExecutor) Reconcile(ctx context.Context) []string {
	var cleared []string
	for sym, o := range x.submitted() {
		if x.resolve(ctx, sym, o) {
			x.release(sym, o.correlationID)
			cleared = append(cleared, sym)
		}
	}
	sort.Strings(cleared)
	return cleared
}

func (x *OrderExecutor) resolve(ctx context.Context, symbol string, o openOrder) bool {
	if o.brokerID != "" {
		order, err := callBroker(ctx, x.timeout, x.retryDelay, func(ctx context.Context) (*domain.Order, error) {
			return x.broker.GetOrder(ctx, o.brokerID)
		})
		switch {
		case err == nil:
			if !order.Status.Terminal() {
				return false
			}
			final := *order
			final.CorrelationID = o.correlationID
			final.Intent = o.intent
			final.CreatedAt = time.Now().UTC()
			x.record(ctx, final)
			x.log.Info("pending order resolved",
				"symbol", symbol, "status", final.Status, "qty", final.Qty,
				"filledAvgPrice", final.FilledAvgPrice, "correlationID", o.correlationID)
			return true
		case !errors.Is(err, domain.ErrBrokerRejected):
			x.log.Warn("reconcile failed", "symbol", symbol, "brokerID", o.brokerID, "err", err)
			return false
		}
		x.log.Warn("broker has no record of pending order", "symbol", symbol, "brokerID", o.brokerID, "err", err)
	}

	hasOpen, err := callBroker(ctx, x.timeout, x.retryDelay, func(ctx context.Context) (bool, error) {
		return x.broker.HasOpenOrder(ctx, symbol)
	})
	if err != nil {
		x.log.Warn("reconcile failed", "symbol", symbol, "err", err)
		return false
	}
	return !hasOpen
}

// CancelPending asks the broker to cancel every PENDING order this process
// submitted and clears the markers of those it cancelled.
func (x *OrderExecutor) CancelPending(ctx context.Context) int {
	n := 0
	for sym, o := range x.submitted() {
		if o.brokerID == "" {
			continue
		}
		_, err := callBroker(ctx, x.timeout, x.retryDelay, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, x.broker.CancelOrder(ctx, o.brokerID)
		})
		if err != nil {
			x.log.Warn("cancel pending order failed", "symbol", sym, "brokerID", o.brokerID, "err", err)
			continue
		}
		x.release(sym, o.correlationID)
		n++
	}
	return n
}

// Pending lists symbols with an unresolved order, sorted.
func (x *OrderExecutor) Pending() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	syms := make([]string, 0, len(x.open))
	for s := range x.open {
		syms = append(syms, s)
	}
	sort.Strings(syms)
	return syms
}

// Busy reports whether symbol has an unresolved order.
func (x *OrderExecutor) Busy(symbol string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, ok := x.open[symbol]
	return ok
}

// submitted copies the markers of orders the broker accepted as PENDING.
func (x *OrderExecutor) submitted() map[string]openOrder {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make(map[string]openOrder, len(x.open))
	for sym, o := range x.open {
		if o.submitted {
			out[sym] = o
		}
	}
	return out
}

func (x *OrderExecutor) reserve(symbol, correlationID string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, busy := x.open[symbol]; busy {
		return false
	}
	x.open[symbol] = openOrder{correlationID: correlationID, since: time.Now()}
	return true
}

func (x *OrderExecutor) markPending(symbol, correlationID, brokerID string, intent domain.OrderIntent) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.open[symbol] = openOrder{correlationID: correlationID, brokerID: brokerID, intent: intent, submitted: true, since: time.Now()}
}

// release clears the marker only if it still belongs to correlationID.
func (x *OrderExecutor) release(symbol, correlationID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if o, ok := x.open[symbol]; ok && o.correlationID == correlationID {
		delete(x.open, symbol)
	}
}

func (x *OrderExecutor) failedOrder(req domain.OrderRequest, status domain.OrderStatus, cause error) domain.Order {
	return domain.Order{
		CorrelationID: req.CorrelationID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Qty:           req.Qty,
		Price:         req.Price,
		Status:        status,
		Intent:        req.Intent,
		Reason:        domain.ReasonCode(cause),
		CreatedAt:     time.Now().UTC(),
	}
}

// record appends to the ledger. The order already happened, so a ledger
// failure is logged rather than returned.
func (x *OrderExecutor) record(ctx context.Context, o domain.Order) {
	if x.ledger == nil {
		return
	}
	if err := x.ledger.AppendTrade(context.WithoutCancel(ctx), o); err != nil {
		x.log.Error("ledger append failed", "symbol", o.Symbol, "correlationID", o.CorrelationID, "err", err)
	}
}
