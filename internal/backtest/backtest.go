// Package backtest replays archived bars through a strategy, the position
// sizer and a simulated broker to measure how the trading rules behave.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"autotrader/internal/broker"
	"autotrader/internal/domain"
	"autotrader/internal/engine"
	"autotrader/internal/indicator"
	"autotrader/internal/performance"
	"autotrader/internal/strategy"
)

// BarReader is the slice of store.BarStore the backtester reads from.
type BarReader interface {
	ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error)
}

// BacktestResult holds the summary metrics produced by a backtest run.
type BacktestResult struct {
	Strategy          string         `json:"strategy"`
	Start             time.Time      `json:"start"`
	End               time.Time      `json:"end"`
	InitialCapital    float64        `json:"initial_capital"`
	FinalEquity       float64        `json:"final_equity"`
	TotalReturn       float64        `json:"total_return"`
	SharpeRatio       float64        `json:"sharpe_ratio"`
	MaxDrawdown       float64        `json:"max_drawdown"`
	TotalTrades       int            `json:"total_trades"`
	ClosedLots        int            `json:"closed_lots"`
	WinRate           float64        `json:"win_rate"`
	AvgReturnPerTrade float64        `json:"avg_return_per_trade"`
	ProfitFactor      float64        `json:"profit_factor"`
	Orders            []domain.Order `json:"orders,omitempty"`
	Rejected          int            `json:"rejected"`
}

// Backtester replays historical bar data through a strategy and computes
// performance metrics.
type Backtester struct {
	store    BarReader
	registry *strategy.Registry
	sizer    *engine.PositionSizer
	market   string
	window   int
	log      *slog.Logger
}

// NewBacktester creates a Backtester that reads bars from the given store,
// looks up strategies in registry and sizes entries with sizer. Each
// evaluation sees at most window bars, except for strategy.SetStrategy
// implementations, which are fed from a per-symbol indicator.Stream over the
// whole replayed history.
func NewBacktester(barStore BarReader, registry *strategy.Registry, sizer *engine.PositionSizer, window int) *Backtester {
	if window < 1 {
		window = 100
	}
	return &Backtester{
		store:    barStore,
		registry: registry,
		sizer:    sizer,
		market:   string(domain.MarketUS),
		window:   window,
		log:      slog.Default().With("component", "backtest"),
	}
}

// Run executes a backtest for the named strategy over the specified symbols
// and date range, starting with initialCapital. Orders fill at the bar's
// close; entries follow the live rules (long only, no pyramiding) and SELL
// closes the whole position.
func (bt *Backtester) Run(
	ctx context.Context,
	strategyName string,
	symbols []string,
	start, end time.Time,
	initialCapital float64,
) (*BacktestResult, error) {
	strat, ok := bt.registry.Get(strategyName)
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (have %v)", strategyName, bt.registry.List())
	}
	if initialCapital <= 0 {
		return nil, fmt.Errorf("initial capital must be positive, got %v", initialCapital)
	}

	series := make(map[string][]domain.Bar, len(symbols))
	var stamps []time.Time
	seen := make(map[time.Time]bool)
	for _, sym := range symbols {
		bars, err := bt.store.ReadBars(ctx, sym, bt.market, start, end)
		if err != nil {
			return nil, fmt.Errorf("reading bars for %s: %w", sym, err)
		}
		series[sym] = bars
		for _, b := range bars {
			if !seen[b.Timestamp] {
				seen[b.Timestamp] = true
				stamps = append(stamps, b.Timestamp)
			}
		}
	}
	if len(stamps) == 0 {
		return nil, fmt.Errorf("no bars for %v between %s and %s: %w",
			symbols, start.Format(time.DateOnly), end.Format(time.DateOnly), domain.ErrDataUnavailable)
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })

	sim := broker.NewSimulatorBroker(initialCapital)
	res := &BacktestResult{Strategy: strat.Name(), Start: start, End: end, InitialCapital: initialCapital}
	cursor := make(map[string]int, len(symbols))
	equity := make([]float64, 0, len(stamps))
	streams := make(map[string]*indicator.Stream, len(symbols))
	if _, ok := strat.(strategy.SetStrategy); ok {
		for _, sym := range symbols {
			streams[sym] = indicator.NewStream()
		}
	}

	for _, ts := range stamps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sim.BeginSession()

		// Mark every symbol first so sizing sees today's equity.
		var due []string
		for _, sym := range symbols {
			bars := series[sym]
			i := cursor[sym]
			if i < len(bars) && bars[i].Timestamp.Equal(ts) {
				sim.ObservePrice(sym, bars[i].Close)
				if st := streams[sym]; st != nil {
					st.Push(bars[i])
				}
				cursor[sym] = i + 1
				due = append(due, sym)
			}
		}

		for _, sym := range due {
			n := cursor[sym]
			sig, err := bt.signal(ctx, strat, streams[sym], sym, series[sym][max(0, n-bt.window):n])
			if err != nil {
				// Warm-up bars carry no signal.
				continue
			}
			order, err := bt.step(ctx, sim, sym, sig)
			if err != nil {
				res.Rejected++
				bt.log.Debug("backtest order rejected", "symbol", sym, "date", ts.Format(time.DateOnly), "err", err)
				continue
			}
			if order != nil {
				order.CreatedAt = ts
				res.Orders = append(res.Orders, *order)
			}
		}

		acct, err := sim.GetAccount(ctx)
		if err != nil {
			return nil, err
		}
		equity = append(equity, acct.Equity)
	}

	res.FinalEquity = equity[len(equity)-1]
	res.TotalReturn = (res.FinalEquity - initialCapital) / initialCapital
	res.MaxDrawdown = performance.MaxDrawdown(equity)
	res.SharpeRatio = sharpe(equity)
	bt.summarise(res)

	bt.log.Info("backtest complete",
		"strategy", res.Strategy, "symbols", len(symbols), "bars", len(stamps),
		"trades", res.TotalTrades, "return", res.TotalReturn)
	return res, nil
}

// signal evaluates symbol on its stream when the strategy supports it and on
// the trailing window otherwise.
func (bt *Backtester) signal(ctx context.Context, strat strategy.Strategy, st *indicator.Stream, symbol string, window []domain.Bar) (domain.Signal, error) {
	if ss, ok := strat.(strategy.SetStrategy); ok && st != nil {
		set, err := st.Value()
		if err != nil {
			return domain.Signal{}, err
		}
		return ss.EvaluateSet(symbol, set), nil
	}
	return strat.Evaluate(ctx, symbol, window)
}

// step acts on one symbol's signal and places at most one order.
func (bt *Backtester) step(ctx context.Context, sim *broker.SimulatorBroker, symbol string, sig domain.Signal) (*domain.Order, error) {
	if !sig.Verdict.Actionable() {
		return nil, nil
	}
	held, err := heldQty(ctx, sim, symbol)
	if err != nil {
		return nil, err
	}

	switch sig.Verdict {
	case domain.VerdictBuy:
		if held > 0 {
			return nil, nil
		}
		acct, err := sim.GetAccount(ctx)
		if err != nil {
			return nil, err
		}
		qty, err := bt.sizer.Size(sig.Price, *acct)
		if err != nil || qty == 0 {
			return nil, err
		}
		return sim.SubmitOrder(ctx, domain.OrderRequest{
			Symbol: symbol, Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket,
			Qty: qty, Price: sig.Price, Intent: domain.IntentEntry,
		})
	case domain.VerdictSell:
		if held <= 0 {
			return nil, nil
		}
		return sim.SubmitOrder(ctx, domain.OrderRequest{
			Symbol: symbol, Side: domain.OrderSideSell, Type: domain.OrderTypeMarket,
			Qty: held, Price: sig.Price, Intent: domain.IntentExit,
		})
	}
	return nil, nil
}

func (bt *Backtester) summarise(res *BacktestResult) {
	snap := performance.Compute(res.Orders, nil)
	res.TotalTrades = snap.TradesToday
	res.ClosedLots = snap.ClosedLots
	res.WinRate = snap.WinRate
	res.AvgReturnPerTrade = snap.AvgReturnPerTrade

	m := performance.NewMatcher()
	for _, o := range res.Orders {
		m.Fill(o.Symbol, o.Side, o.Qty, o.FillPrice())
	}
	var gains, losses float64
	for _, lot := range m.Closed() {
		if pnl := lot.PnL(); pnl > 0 {
			gains += pnl
		} else {
			losses -= pnl
		}
	}
	// Left at zero without losing lots; +Inf does not encode as JSON.
	if losses > 0 {
		res.ProfitFactor = gains / losses
	}
}

func heldQty(ctx context.Context, sim *broker.SimulatorBroker, symbol string) (int64, error) {
	positions, err := sim.GetPositions(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range positions {
		if p.Symbol == symbol {
			return p.Qty, nil
		}
	}
	return 0, nil
}

// sharpe annualises the mean/stddev of per-bar equity returns over 252
// trading days. It is zero when returns do not vary.
func sharpe(equity []float64) float64 {
	if len(equity) < 3 {
		return 0
	}
	rets := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] > 0 {
			rets = append(rets, equity[i]/equity[i-1]-1)
		}
	}
	if len(rets) < 2 {
		return 0
	}
	var mean float64
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))
	var ss float64
	for _, r := range rets {
		ss += (r - mean) * (r - mean)
	}
	sd := math.Sqrt(ss / float64(len(rets)-1))
	if sd == 0 {
		return 0
	}
	return mean / sd * math.Sqrt(252)
}
