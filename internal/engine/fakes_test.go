package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"autotrader/internal/domain"
)

// fakeBroker is a scriptable in-memory broker.
type fakeBroker struct {
	mu        sync.Mutex
	account   domain.AccountState
	acctErr   error
	positions map[string]domain.Position
	posErr    error
	openAt    map[string]bool
	orders    map[string]domain.Order // by broker ID
	// submit, when set, decides each submission; otherwise orders fill.
	submit    func(ctx context.Context, req domain.OrderRequest) (*domain.Order, error)
	submitted []domain.OrderRequest
	cancelled []string
	acctCalls int
}

func newFakeBroker(portfolio float64) *fakeBroker {
	return &fakeBroker{
		account: domain.AccountState{
			BuyingPower: portfolio, Cash: portfolio, PortfolioValue: portfolio,
			Equity: portfolio, LastEquity: portfolio,
		},
		positions: make(map[string]domain.Position),
		openAt:    make(map[string]bool),
		orders:    make(map[string]domain.Order),
	}
}

func (b *fakeBroker) Name() string { return "fake" }

func (b *fakeBroker) GetAccount(context.Context) (*domain.AccountState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acctCalls++
	if b.acctErr != nil {
		return nil, b.acctErr
	}
	a := b.account
	return &a, nil
}

func (b *fakeBroker) GetPositions(context.Context) ([]domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.posErr != nil {
		return nil, b.posErr
	}
	out := make([]domain.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (b *fakeBroker) HasOpenOrder(_ context.Context, symbol string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openAt[symbol], nil
}

func (b *fakeBroker) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	b.mu.Lock()
	b.submitted = append(b.submitted, req)
	submit := b.submit
	b.mu.Unlock()
	order, err := filledOrder(req), error(nil)
	if submit != nil {
		order, err = submit(ctx, req)
	}
	if order != nil && order.BrokerID != "" {
		b.mu.Lock()
		b.orders[order.BrokerID] = *order
		b.mu.Unlock()
	}
	return order, err
}

func (b *fakeBroker) GetOrder(_ context.Context, orderID string) (*domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown order %s", domain.ErrBrokerRejected, orderID)
	}
	return &o, nil
}

// settle moves a broker order to status, filling at price.
func (b *fakeBroker) settle(orderID string, status domain.OrderStatus, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o := b.orders[orderID]
	o.Status = status
	o.FilledAvgPrice = price
	o.CorrelationID = "" // brokers report their own view, not ours
	b.orders[orderID] = o
}

// forget drops a broker order as if the broker had no record of it.
func (b *fakeBroker) forget(orderID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.orders, orderID)
}

func (b *fakeBroker) CancelOrder(_ context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelled = append(b.cancelled, orderID)
	return nil
}

func (b *fakeBroker) submissions() []domain.OrderRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.OrderRequest(nil), b.submitted...)
}

func (b *fakeBroker) setPosition(symbol string, qty int64, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if qty == 0 {
		delete(b.positions, symbol)
		return
	}
	b.positions[symbol] = domain.Position{Symbol: symbol, Qty: qty, CostBasis: float64(qty) * price, CurrentPrice: price}
}

func filledOrder(req domain.OrderRequest) *domain.Order {
	return &domain.Order{
		CorrelationID: req.CorrelationID, BrokerID: "b-" + req.CorrelationID,
		Symbol: req.Symbol, Side: req.Side, Type: req.Type, Qty: req.Qty,
		Price: req.Price, FilledAvgPrice: req.Price, Status: domain.OrderStatusFilled,
		Intent: req.Intent, CreatedAt: time.Now().UTC(),
	}
}

// memLedger is an in-memory store.Ledger.
type memLedger struct {
	mu     sync.Mutex
	trades []domain.Order
	snaps  []domain.AccountState
	alerts []domain.Alert
}

func (l *memLedger) AppendTrade(_ context.Context, o domain.Order) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trades = append(l.trades, o)
	return nil
}

func (l *memLedger) AppendAccountSnapshot(_ context.Context, a domain.AccountState) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snaps = append(l.snaps, a)
	return nil
}

func (l *memLedger) AppendAlert(_ context.Context, a domain.Alert) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.alerts = append(l.alerts, a)
	return nil
}

func (l *memLedger) RecentTrades(_ context.Context, since time.Time) ([]domain.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Order
	for _, o := range l.trades {
		if !o.CreatedAt.Before(since) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (l *memLedger) RecentSnapshots(_ context.Context, since time.Time) ([]domain.AccountState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.AccountState
	for _, a := range l.snaps {
		if !a.Timestamp.Before(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (l *memLedger) Close() error { return nil }

func (l *memLedger) tradeList() []domain.Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.Order(nil), l.trades...)
}

// recordingSink collects alerts synchronously.
type recordingSink struct {
	mu    sync.Mutex
	kinds []string
}

func (s *recordingSink) Notify(kind string, _ map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kinds = append(s.kinds, kind)
}

func (s *recordingSink) list() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.kinds...)
}

// fakeData serves canned bars per symbol.
type fakeData struct {
	bars    map[string][]domain.Bar
	block   chan struct{} // when set, Bars waits on it
	entered chan struct{}
}

func (d *fakeData) Bars(ctx context.Context, symbol string, limit int) ([]domain.Bar, error) {
	if d.block != nil {
		if d.entered != nil {
			select {
			case d.entered <- struct{}{}:
			default:
			}
		}
		select {
		case <-d.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	bars, ok := d.bars[symbol]
	if !ok {
		return nil, fmt.Errorf("%s: %w", symbol, domain.ErrDataUnavailable)
	}
	if len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}

// zigzag builds an oscillating trend that ends on close start+slope*(n-1)+amp
// for odd n.
func zigzag(symbol string, n int, start, slope, amp float64) []domain.Bar {
	t0 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, n)
	for i := range bars {
		off := -amp
		if i%2 == 0 {
			off = amp
		}
		if slope < 0 {
			off = -off
		}
		c := start + slope*float64(i) + off
		bars[i] = domain.Bar{Symbol: symbol, Timestamp: t0.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c}
	}
	return bars
}

// flat builds n bars of a constant close: RSI 100 and SMA20 == SMA50, so
// trend-momentum holds.
func flat(symbol string, n int, price float64) []domain.Bar {
	return zigzag(symbol, n, price, 0, 0)
}
