// Package performance derives trading statistics from the ledger: FIFO lot
// matching of filled orders, win rate, average return and drawdown.
package performance

import (
	"sort"

	"autotrader/internal/domain"
)

// ClosedLot is a buy matched against a later sell of the same symbol.
type ClosedLot struct {
	Symbol     string  `json:"symbol"`
	Qty        int64   `json:"qty"`
	EntryPrice float64 `json:"entry_price"`
	ExitPrice  float64 `json:"exit_price"`
}

// Return is the fractional return of the lot.
func (c ClosedLot) Return() float64 {
	if c.EntryPrice == 0 {
		return 0
	}
	return (c.ExitPrice - c.EntryPrice) / c.EntryPrice
}

// PnL is the realised profit of the lot.
func (c ClosedLot) PnL() float64 {
	return float64(c.Qty) * (c.ExitPrice - c.EntryPrice)
}

type openLot struct {
	qty   int64
	price float64
}

// Matcher pairs sells with the oldest open buys of the same symbol. Sells
// with no open lot (positions opened before the window) are ignored.
type Matcher struct {
	open   map[string][]openLot
	closed []ClosedLot
}

// NewMatcher returns an empty Matcher.
func NewMatcher() *Matcher {
	return &Matcher{open: make(map[string][]openLot)}
}

// Fill records an execution.
func (m *Matcher) Fill(symbol string, side domain.OrderSide, qty int64, price float64) {
	if qty <= 0 {
		return
	}
	if side == domain.OrderSideBuy {
		m.open[symbol] = append(m.open[symbol], openLot{qty: qty, price: price})
		return
	}
	lots := m.open[symbol]
	for qty > 0 && len(lots) > 0 {
		n := min(qty, lots[0].qty)
		m.closed = append(m.closed, ClosedLot{Symbol: symbol, Qty: n, EntryPrice: lots[0].price, ExitPrice: price})
		lots[0].qty -= n
		qty -= n
		if lots[0].qty == 0 {
			lots = lots[1:]
		}
	}
	m.open[symbol] = lots
}

// Closed returns the lots closed so far in match order.
func (m *Matcher) Closed() []ClosedLot {
	return m.closed
}

// OpenQty returns the unmatched bought quantity for symbol.
func (m *Matcher) OpenQty(symbol string) int64 {
	var n int64
	for _, l := range m.open[symbol] {
		n += l.qty
	}
	return n
}

// Snapshot is the performance summary reported to operators.
type Snapshot struct {
	TradesToday       int     `json:"trades_today"`
	PortfolioChange   float64 `json:"portfolio_change"`
	WinRate           float64 `json:"win_rate"`
	AvgReturnPerTrade float64 `json:"avg_return_per_trade"`
	ClosedLots        int     `json:"closed_lots"`
	RealizedPnL       float64 `json:"realized_pnl"`
}

// Compute builds a Snapshot from the window's order records and account
// snapshots. Only FILLED orders count; both inputs may be in any order.
func Compute(orders []domain.Order, snaps []domain.AccountState) Snapshot {
	filled := make([]domain.Order, 0, len(orders))
	for _, o := range orders {
		if o.Status == domain.OrderStatusFilled {
			filled = append(filled, o)
		}
	}
	sort.SliceStable(filled, func(i, j int) bool { return filled[i].CreatedAt.Before(filled[j].CreatedAt) })

	m := NewMatcher()
	for _, o := range filled {
		m.Fill(o.Symbol, o.Side, o.Qty, o.FillPrice())
	}

	snap := Snapshot{TradesToday: len(filled)}
	snap.summarise(m.Closed())
	snap.PortfolioChange = portfolioChange(snaps)
	return snap
}

func (s *Snapshot) summarise(closed []ClosedLot) {
	s.ClosedLots = len(closed)
	if len(closed) == 0 {
		return
	}
	var wins int
	var sumRet float64
	for _, c := range closed {
		if c.ExitPrice > c.EntryPrice {
			wins++
		}
		sumRet += c.Return()
		s.RealizedPnL += c.PnL()
	}
	s.WinRate = float64(wins) / float64(len(closed))
	s.AvgReturnPerTrade = sumRet / float64(len(closed))
}

// portfolioChange is (last − first)/first over the snapshots' portfolio
// values in time order.
func portfolioChange(snaps []domain.AccountState) float64 {
	if len(snaps) < 2 {
		return 0
	}
	first, last := snaps[0], snaps[0]
	for _, s := range snaps[1:] {
		if s.Timestamp.Before(first.Timestamp) {
			first = s
		}
		if !s.Timestamp.Before(last.Timestamp) {
			last = s
		}
	}
	if first.PortfolioValue == 0 {
		return 0
	}
	return (last.PortfolioValue - first.PortfolioValue) / first.PortfolioValue
}

// MaxDrawdown returns the largest peak-to-trough decline of an equity curve
// as a positive fraction of the peak.
func MaxDrawdown(equity []float64) float64 {
	var peak, worst float64
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}
