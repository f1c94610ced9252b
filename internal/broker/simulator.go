package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"autotrader/internal/domain"
)

// Compile-time interface checks.
var _ Broker = (*SimulatorBroker)(nil)
var _ PriceObserver = (*SimulatorBroker)(nil)
var _ SessionStarter = (*SimulatorBroker)(nil)

// SimulatorBroker implements the Broker interface for paper trading and
// backtesting. It fills market orders immediately at the request's reference
// price, tracks cash and positions in memory, and never shorts.
type SimulatorBroker struct {
	mu         sync.Mutex
	cash       float64
	lastEquity float64
	positions  map[string]*simPosition
	marks      map[string]float64
	orders     map[string]*domain.Order
	nextID     int
}

type simPosition struct {
	qty      int64
	avgPrice float64
}

// NewSimulatorBroker creates a new SimulatorBroker holding startingCash and
// no positions.
func NewSimulatorBroker(startingCash float64) *SimulatorBroker {
	return &SimulatorBroker{
		cash:       startingCash,
		lastEquity: startingCash,
		positions:  make(map[string]*simPosition),
		marks:      make(map[string]float64),
		orders:     make(map[string]*domain.Order),
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// ObservePrice updates the mark used to value a symbol's position.
func (b *SimulatorBroker) ObservePrice(symbol string, price float64) {
	if price <= 0 {
		return
	}
	b.mu.Lock()
	b.marks[symbol] = price
	b.mu.Unlock()
}

// BeginSession records current equity as the previous-close reference for
// daily P&L.
func (b *SimulatorBroker) BeginSession() {
	b.mu.Lock()
	b.lastEquity = b.equityLocked()
	b.mu.Unlock()
}

// SubmitOrder fills the order in memory at req.Price.
func (b *SimulatorBroker) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBrokerTimeout, err)
	}
	if req.Qty < 1 {
		return nil, fmt.Errorf("%w: quantity %d", domain.ErrBrokerRejected, req.Qty)
	}
	price := req.Price

	b.mu.Lock()
	defer b.mu.Unlock()

	if price <= 0 {
		price = b.marks[req.Symbol]
	}
	if price <= 0 {
		return nil, fmt.Errorf("%w: no price for %s", domain.ErrBrokerRejected, req.Symbol)
	}

	pos := b.positions[req.Symbol]
	switch req.Side {
	case domain.OrderSideBuy:
		cost := float64(req.Qty) * price
		if cost > b.cash {
			return nil, fmt.Errorf("%w: insufficient buying power for %d %s", domain.ErrBrokerRejected, req.Qty, req.Symbol)
		}
		if pos == nil {
			pos = &simPosition{}
			b.positions[req.Symbol] = pos
		}
		pos.avgPrice = (pos.avgPrice*float64(pos.qty) + cost) / float64(pos.qty+req.Qty)
		pos.qty += req.Qty
		b.cash -= cost
	case domain.OrderSideSell:
		if pos == nil || pos.qty < req.Qty {
			return nil, fmt.Errorf("%w: sell %d %s exceeds position", domain.ErrBrokerRejected, req.Qty, req.Symbol)
		}
		pos.qty -= req.Qty
		b.cash += float64(req.Qty) * price
		if pos.qty == 0 {
			delete(b.positions, req.Symbol)
		}
	default:
		return nil, fmt.Errorf("%w: unknown side %q", domain.ErrBrokerRejected, req.Side)
	}
	b.marks[req.Symbol] = price

	b.nextID++
	order := &domain.Order{
		CorrelationID:  req.CorrelationID,
		BrokerID:       fmt.Sprintf("sim-%d", b.nextID),
		Symbol:         req.Symbol,
		Side:           req.Side,
		Type:           req.Type,
		Qty:            req.Qty,
		Price:          req.Price,
		FilledAvgPrice: price,
		Status:         domain.OrderStatusFilled,
		Intent:         req.Intent,
		CreatedAt:      time.Now().UTC(),
	}
	b.orders[order.BrokerID] = order
	cp := *order
	return &cp, nil
}

// GetOrder returns a copy of a simulated order.
func (b *SimulatorBroker) GetOrder(_ context.Context, orderID string) (*domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown order %s", domain.ErrBrokerRejected, orderID)
	}
	cp := *o
	return &cp, nil
}

// CancelOrder always fails: simulated orders fill on submission.
func (b *SimulatorBroker) CancelOrder(_ context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.orders[orderID]; !ok {
		return fmt.Errorf("%w: unknown order %s", domain.ErrBrokerRejected, orderID)
	}
	return fmt.Errorf("%w: order %s already filled", domain.ErrBrokerRejected, orderID)
}

// HasOpenOrder is always false: nothing rests in the simulator.
func (b *SimulatorBroker) HasOpenOrder(_ context.Context, _ string) (bool, error) {
	return false, nil
}

// GetPositions returns all simulated positions sorted by symbol.
func (b *SimulatorBroker) GetPositions(_ context.Context) ([]domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	positions := make([]domain.Position, 0, len(b.positions))
	for sym, p := range b.positions {
		mark := b.markLocked(sym, p)
		positions = append(positions, domain.Position{
			Symbol:       sym,
			Qty:          p.qty,
			CostBasis:    p.avgPrice * float64(p.qty),
			CurrentPrice: mark,
			UnrealizedPL: (mark - p.avgPrice) * float64(p.qty),
		})
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return positions, nil
}

// GetAccount returns simulated account information.
func (b *SimulatorBroker) GetAccount(_ context.Context) (*domain.AccountState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	equity := b.equityLocked()
	return &domain.AccountState{
		Timestamp:      time.Now().UTC(),
		BuyingPower:    b.cash,
		Cash:           b.cash,
		PortfolioValue: equity,
		Equity:         equity,
		LastEquity:     b.lastEquity,
	}, nil
}

func (b *SimulatorBroker) equityLocked() float64 {
	equity := b.cash
	for sym, p := range b.positions {
		equity += float64(p.qty) * b.markLocked(sym, p)
	}
	return equity
}

func (b *SimulatorBroker) markLocked(symbol string, p *simPosition) float64 {
	if m, ok := b.marks[symbol]; ok {
		return m
	}
	return p.avgPrice
}
