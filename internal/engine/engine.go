// Package engine runs the trading cycle: market-hours gate, per-symbol
// signal and order pipeline, daily-loss circuit breaker and emergency stop.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"autotrader/internal/alert"
	"autotrader/internal/broker"
	"autotrader/internal/domain"
	"autotrader/internal/marketdata"
	"autotrader/internal/metrics"
	"autotrader/internal/performance"
	"autotrader/internal/store"
	"autotrader/internal/strategy"
	"autotrader/internal/util"
)

// ErrCycleInProgress is returned when ExecuteCycle is called while another
// cycle is still running.
var ErrCycleInProgress = errors.New("cycle already in progress")

// Symbol actions.
const (
	ActionNone = "none"
	ActionBuy  = "buy"
	ActionSell = "sell"
)

// Config is the engine's validated trading configuration.
type Config struct {
	Symbols       []string
	RiskPerTrade  float64
	StopLossPct   float64
	LossLimit     float64
	BarLimit      int
	Workers       int
	BrokerTimeout time.Duration
}

// Options carries the engine's collaborators. Alerts and Metrics are
// optional.
type Options struct {
	Broker   broker.Broker
	Data     marketdata.Provider
	Strategy strategy.Strategy
	Ledger   store.Ledger
	Calendar *util.TradingCalendar
	Alerts   alert.Sink
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// SymbolOutcome is what happened to one symbol in a cycle. Reason is set
// whenever no order was accepted.
type SymbolOutcome struct {
	Symbol string         `json:"symbol"`
	Signal *domain.Signal `json:"signal,omitempty"`
	Action string         `json:"action"`
	Order  *domain.Order  `json:"order,omitempty"`
	Reason string         `json:"reason,omitempty"`
}

// CycleResult is the structured report of one ExecuteCycle call.
type CycleResult struct {
	ID               string               `json:"id"`
	StartedAt        time.Time            `json:"started_at"`
	FinishedAt       time.Time            `json:"finished_at"`
	Skipped          string               `json:"skipped,omitempty"`
	Account          *domain.AccountState `json:"account,omitempty"`
	EmergencyRetries []OrderOutcome       `json:"emergency_retries,omitempty"`
	Symbols          []SymbolOutcome      `json:"symbols"`
	Breached         bool                 `json:"breached"`
	Stop             *StopResult          `json:"stop,omitempty"`
	Risk             RiskState            `json:"risk"`
}

// Status is the engine state reported to operators.
type Status struct {
	Risk             RiskState    `json:"risk"`
	Running          bool         `json:"running"`
	Market           string       `json:"market"`
	PendingOrders    []string     `json:"pending_orders"`
	PendingEmergency []string     `json:"pending_emergency"`
	LastCycle        *CycleResult `json:"last_cycle,omitempty"`
}

// Engine owns all trading state for one process. There is no package-level
// state; every operation goes through an Engine value.
type Engine struct {
	cfg      Config
	broker   broker.Broker
	data     marketdata.Provider
	strategy strategy.Strategy
	ledger   store.Ledger
	calendar *util.TradingCalendar
	alerts   alert.Sink
	metrics  *metrics.Metrics
	log      *slog.Logger

	risk     *RiskManager
	sizer    *PositionSizer
	executor *OrderExecutor
	stop     *EmergencyStop

	cycleMu sync.Mutex // held for the whole cycle; TryLock only

	mu        sync.Mutex
	lastCycle *CycleResult

	now func() time.Time
}

// New wires an Engine.
func New(cfg Config, opts Options) (*Engine, error) {
	if opts.Broker == nil || opts.Data == nil || opts.Strategy == nil || opts.Ledger == nil || opts.Calendar == nil {
		return nil, errors.New("engine: broker, data, strategy, ledger and calendar are required")
	}
	if len(cfg.Symbols) == 0 {
		return nil, errors.New("engine: no symbols configured")
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.BarLimit < 1 {
		cfg.BarLimit = 100
	}
	if cfg.BrokerTimeout <= 0 {
		cfg.BrokerTimeout = 5 * time.Second
	}
	alerts := opts.Alerts
	if alerts == nil {
		alerts = alert.Nop{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	risk := NewRiskManager(cfg.LossLimit, cfg.RiskPerTrade)
	executor := NewOrderExecutor(opts.Broker, opts.Ledger, risk, alerts, opts.Metrics, cfg.BrokerTimeout)
	executor.log = log.With("component", "executor")
	stop := NewEmergencyStop(opts.Broker, executor, risk, alerts, cfg.BrokerTimeout)
	stop.log = log.With("component", "emergency-stop")
	return &Engine{
		cfg:      cfg,
		broker:   opts.Broker,
		data:     opts.Data,
		strategy: opts.Strategy,
		ledger:   opts.Ledger,
		calendar: opts.Calendar,
		alerts:   alerts,
		metrics:  opts.Metrics,
		log:      log.With("component", "engine"),
		risk:     risk,
		sizer:    NewPositionSizer(cfg.RiskPerTrade, cfg.StopLossPct),
		executor: executor,
		stop:     stop,
		now:      time.Now,
	}, nil
}

// ExecuteCycle runs one trading cycle. Overlapping calls return
// ErrCycleInProgress without doing anything. Per-symbol failures are
// reported in the result, never returned.
func (e *Engine) ExecuteCycle(ctx context.Context) (*CycleResult, error) {
	if !e.cycleMu.TryLock() {
		e.metrics.Skipped()
		e.log.Warn("cycle skipped, previous cycle still running")
		return nil, ErrCycleInProgress
	}
	defer e.cycleMu.Unlock()

	started := e.now()
	res := &CycleResult{ID: util.NewID(), StartedAt: started.UTC(), Symbols: []SymbolOutcome{}}
	defer func() {
		res.FinishedAt = e.now().UTC()
		res.Risk = e.risk.Snapshot()
		e.metrics.Risk(res.Risk.TradingActive, res.Risk.DailyPnLFraction)
		outcome := "completed"
		switch {
		case res.Skipped != "":
			outcome = res.Skipped
		case res.Breached:
			outcome = "breached"
		}
		e.metrics.Cycle(outcome, res.FinishedAt.Sub(res.StartedAt).Seconds())
		e.mu.Lock()
		e.lastCycle = res
		e.mu.Unlock()
	}()

	if !e.calendar.IsMarketOpen(started) {
		res.Skipped = "market_closed"
		e.log.Debug("market closed, cycle skipped")
		return res, nil
	}
	if session := e.calendar.SessionDate(started); e.risk.BeginSession(session) {
		if s, ok := e.broker.(broker.SessionStarter); ok {
			s.BeginSession()
		}
		e.log.Info("new trading session", "session", session, "tradingActive", e.risk.Active())
	}

	if cleared := e.executor.Reconcile(ctx); len(cleared) > 0 {
		e.log.Info("pending orders resolved", "symbols", cleared)
	}
	retries, err := e.stop.RetryPending(ctx)
	if err != nil {
		e.log.Error("emergency close retry failed", "err", err)
	}
	res.EmergencyRetries = retries

	acct, err := callBroker(ctx, e.cfg.BrokerTimeout, 200*time.Millisecond, e.broker.GetAccount)
	if err != nil {
		e.log.Error("account unavailable, cycle skipped", "err", err)
		res.Skipped = "account_unavailable"
		for _, sym := range e.cfg.Symbols {
			res.Symbols = append(res.Symbols, SymbolOutcome{Symbol: sym, Action: ActionNone, Reason: res.Skipped})
		}
		return res, nil
	}
	res.Account = acct
	e.recordSnapshot(ctx, *acct)
	e.risk.Update(acct.DailyPnL(), acct.PortfolioValue)

	// A loss carried in from earlier halts before any symbol is processed.
	e.checkBreaker(ctx, res)

	positions, posErr := callBroker(ctx, e.cfg.BrokerTimeout, 200*time.Millisecond, e.broker.GetPositions)
	if posErr != nil {
		e.log.Error("positions unavailable", "err", posErr)
	}
	held := make(map[string]domain.Position, len(positions))
	for _, p := range positions {
		held[p.Symbol] = p
	}

	budget := &cycleBudget{remaining: acct.BuyingPower}
	res.Symbols = make([]SymbolOutcome, len(e.cfg.Symbols))
	jobs := make(chan int, len(e.cfg.Symbols))
	for i := range e.cfg.Symbols {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < min(e.cfg.Workers, len(e.cfg.Symbols)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				sym := e.cfg.Symbols[i]
				pos, ok := held[sym]
				var pp *domain.Position
				if ok {
					pp = &pos
				}
				res.Symbols[i] = e.processSymbol(ctx, sym, *acct, pp, posErr, budget)
			}
		}()
	}
	wg.Wait()

	if fresh, err := callBroker(ctx, e.cfg.BrokerTimeout, 200*time.Millisecond, e.broker.GetAccount); err == nil {
		e.risk.Update(fresh.DailyPnL(), fresh.PortfolioValue)
	} else {
		e.log.Warn("post-cycle account refresh failed, using cycle-start P&L", "err", err)
	}
	e.checkBreaker(ctx, res)
	return res, nil
}

// checkBreaker runs the risk check and, on a fresh breach, the emergency stop.
func (e *Engine) checkBreaker(ctx context.Context, res *CycleResult) {
	err := e.risk.Check()
	if err == nil {
		return
	}
	res.Breached = true
	e.log.Error("daily loss limit breached", "err", err, "pnlFraction", e.risk.DailyPnLFraction())
	e.alerts.Notify(alert.KindRiskBreach, map[string]any{
		"daily_pnl_fraction": e.risk.DailyPnLFraction(),
		"loss_limit":         e.cfg.LossLimit,
	})
	stop, err := e.stop.Trigger(ctx, "risk_limit_breached")
	if err != nil {
		e.log.Error("emergency stop incomplete", "err", err)
	}
	res.Stop = stop
}

func (e *Engine) processSymbol(ctx context.Context, symbol string, acct domain.AccountState, pos *domain.Position, posErr error, budget *cycleBudget) SymbolOutcome {
	out := SymbolOutcome{Symbol: symbol, Action: ActionNone}
	log := e.log.With("symbol", symbol)

	bars, err := e.data.Bars(ctx, symbol, e.cfg.BarLimit)
	if err != nil {
		log.Warn("bars unavailable", "err", err)
		out.Reason = domain.ReasonCode(err)
		return out
	}
	if obs, ok := e.broker.(broker.PriceObserver); ok && len(bars) > 0 {
		obs.ObservePrice(symbol, bars[len(bars)-1].Close)
	}

	sig, err := e.strategy.Evaluate(ctx, symbol, bars)
	if err != nil {
		log.Info("no signal", "err", err)
		out.Reason = domain.ReasonCode(err)
		return out
	}
	out.Signal = &sig

	if !sig.Verdict.Actionable() {
		out.Reason = "hold"
		return out
	}
	if sig.Verdict == domain.VerdictBuy {
		return e.enter(ctx, out, sig, acct, pos, posErr, budget)
	}
	return e.exit(ctx, out, sig, pos, posErr)
}

func (e *Engine) enter(ctx context.Context, out SymbolOutcome, sig domain.Signal, acct domain.AccountState, pos *domain.Position, posErr error, budget *cycleBudget) SymbolOutcome {
	switch {
	case posErr != nil:
		out.Reason = domain.ReasonCode(posErr)
		return out
	case pos != nil && pos.Qty > 0:
		out.Reason = "already_long"
		return out
	case acct.TradingBlocked:
		out.Reason = "trading_blocked"
		return out
	}
	if err := e.risk.AllowEntry(); err != nil {
		e.metrics.Suppressed("trading_halted")
		out.Reason = domain.ReasonCode(err)
		return out
	}

	qty, cost, err := budget.size(e.sizer, sig.Price, acct)
	if err != nil {
		out.Reason = domain.ReasonCode(err)
		return out
	}
	if qty == 0 {
		out.Reason = "insufficient_capital"
		return out
	}

	order, err := e.executor.Execute(ctx, domain.OrderRequest{
		Symbol: sig.Symbol,
		Side:   domain.OrderSideBuy,
		Type:   domain.OrderTypeMarket,
		Qty:    qty,
		Price:  sig.Price,
		Intent: domain.IntentEntry,
	})
	out.Order = order
	if err != nil {
		budget.refund(cost)
		e.log.Warn("entry not placed", "symbol", sig.Symbol, "qty", qty, "err", err)
		out.Reason = domain.ReasonCode(err)
		return out
	}
	out.Action = ActionBuy
	return out
}

// exit closes a held long position on SELL. The engine never opens shorts.
func (e *Engine) exit(ctx context.Context, out SymbolOutcome, sig domain.Signal, pos *domain.Position, posErr error) SymbolOutcome {
	if posErr != nil {
		out.Reason = domain.ReasonCode(posErr)
		return out
	}
	if pos == nil || pos.Qty <= 0 {
		out.Reason = "no_position"
		return out
	}
	order, err := e.executor.Execute(ctx, domain.OrderRequest{
		Symbol: sig.Symbol,
		Side:   domain.OrderSideSell,
		Type:   domain.OrderTypeMarket,
		Qty:    pos.Qty,
		Price:  sig.Price,
		Intent: domain.IntentExit,
	})
	out.Order = order
	if err != nil {
		e.log.Warn("exit not placed", "symbol", sig.Symbol, "qty", pos.Qty, "err", err)
		out.Reason = domain.ReasonCode(err)
		return out
	}
	out.Action = ActionSell
	return out
}

// EmergencyStop halts trading and flattens all positions. It may run while
// a cycle is in progress: the halt is set first, so no worker starts a new
// entry afterwards.
func (e *Engine) EmergencyStop(ctx context.Context) (*StopResult, error) {
	res, err := e.stop.Trigger(ctx, "operator")
	snap := e.risk.Snapshot()
	e.metrics.Risk(snap.TradingActive, snap.DailyPnLFraction)
	return res, err
}

// ResetRisk returns the circuit breaker to ACTIVE. Only operators call it.
func (e *Engine) ResetRisk() RiskState {
	e.risk.Reset()
	snap := e.risk.Snapshot()
	e.metrics.Risk(snap.TradingActive, snap.DailyPnLFraction)
	e.log.Warn("risk state reset by operator")
	return snap
}

// Risk returns the current circuit breaker state.
func (e *Engine) Risk() RiskState {
	return e.risk.Snapshot()
}

// Status reports the engine state without touching the broker.
func (e *Engine) Status() Status {
	running := !e.cycleMu.TryLock()
	if !running {
		e.cycleMu.Unlock()
	}
	market := "closed"
	if e.calendar.IsMarketOpen(e.now()) {
		market = "open"
	}
	e.mu.Lock()
	last := e.lastCycle
	e.mu.Unlock()
	return Status{
		Risk:             e.risk.Snapshot(),
		Running:          running,
		Market:           market,
		PendingOrders:    e.executor.Pending(),
		PendingEmergency: e.stop.Pending(),
		LastCycle:        last,
	}
}

// PerformanceSnapshot computes today's statistics from the ledger.
func (e *Engine) PerformanceSnapshot(ctx context.Context) (performance.Snapshot, error) {
	now := e.now().In(e.calendar.Location())
	since := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	trades, err := e.ledger.RecentTrades(ctx, since)
	if err != nil {
		return performance.Snapshot{}, fmt.Errorf("reading trades: %w", err)
	}
	snaps, err := e.ledger.RecentSnapshots(ctx, since)
	if err != nil {
		return performance.Snapshot{}, fmt.Errorf("reading snapshots: %w", err)
	}
	return performance.Compute(trades, snaps), nil
}

func (e *Engine) recordSnapshot(ctx context.Context, acct domain.AccountState) {
	if err := e.ledger.AppendAccountSnapshot(ctx, acct); err != nil {
		e.log.Error("ledger snapshot failed", "err", err)
	}
}

// cycleBudget spreads one account snapshot's buying power across the entries
// of a cycle so concurrent workers do not size against the same dollars.
type cycleBudget struct {
	mu        sync.Mutex
	remaining float64
}

func (b *cycleBudget) size(s *PositionSizer, price float64, acct domain.AccountState) (int64, float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	acct.BuyingPower = b.remaining
	qty, err := s.Size(price, acct)
	if err != nil || qty == 0 {
		return 0, 0, err
	}
	cost := float64(qty) * price
	b.remaining -= cost
	return qty, cost, nil
}

func (b *cycleBudget) refund(cost float64) {
	b.mu.Lock()
	b.remaining += cost
	b.mu.Unlock()
}
