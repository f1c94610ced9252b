// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the engine's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	OrdersAttempted  prometheus.Counter
	OrdersPlaced     prometheus.Counter
	OrdersFailed     *prometheus.CounterVec
	OrdersSuppressed *prometheus.CounterVec
	Cycles           *prometheus.CounterVec
	CycleDuration    prometheus.Histogram
	SkippedTicks     prometheus.Counter
	TradingActive    prometheus.Gauge
	DailyPnL         prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrdersAttempted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autotrader_orders_attempted_total", Help: "Orders the executor tried to submit",
		}),
		OrdersPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autotrader_orders_placed_total", Help: "Orders accepted by the broker",
		}),
		OrdersFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_orders_failed_total", Help: "Orders rejected or failed after retry",
		}, []string{"reason"}),
		OrdersSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_orders_suppressed_total", Help: "Orders blocked before submission (duplicate, halted)",
		}, []string{"reason"}),
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_cycles_total", Help: "Trading cycles by outcome",
		}, []string{"outcome"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "autotrader_cycle_duration_seconds",
			Help:    "Wall time of executed cycles",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		SkippedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autotrader_skipped_ticks_total", Help: "Ticks skipped because a cycle was still running",
		}),
		TradingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "autotrader_trading_active", Help: "1 while trading is ACTIVE, 0 while HALTED",
		}),
		DailyPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "autotrader_daily_pnl_fraction", Help: "Daily P&L as a fraction of portfolio value",
		}),
	}
	reg.MustRegister(
		m.OrdersAttempted, m.OrdersPlaced, m.OrdersFailed, m.OrdersSuppressed,
		m.Cycles, m.CycleDuration, m.SkippedTicks, m.TradingActive, m.DailyPnL,
	)
	m.TradingActive.Set(1)
	return m
}

// Attempted counts an order handed to the broker.
func (m *Metrics) Attempted() {
	if m != nil {
		m.OrdersAttempted.Inc()
	}
}

// Placed counts an order the broker accepted.
func (m *Metrics) Placed() {
	if m != nil {
		m.OrdersPlaced.Inc()
	}
}

// Failed counts a rejected or failed order.
func (m *Metrics) Failed(reason string) {
	if m != nil {
		m.OrdersFailed.WithLabelValues(reason).Inc()
	}
}

// Suppressed counts an order blocked before submission.
func (m *Metrics) Suppressed(reason string) {
	if m != nil {
		m.OrdersSuppressed.WithLabelValues(reason).Inc()
	}
}

// Cycle records a finished cycle.
func (m *Metrics) Cycle(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(outcome).Inc()
	if seconds > 0 {
		m.CycleDuration.Observe(seconds)
	}
}

// Skipped counts a tick dropped because the previous cycle was running.
func (m *Metrics) Skipped() {
	if m != nil {
		m.SkippedTicks.Inc()
	}
}

// Risk publishes the current risk state.
func (m *Metrics) Risk(active bool, pnlFraction float64) {
	if m == nil {
		return
	}
	if active {
		m.TradingActive.Set(1)
	} else {
		m.TradingActive.Set(0)
	}
	m.DailyPnL.Set(pnlFraction)
}
