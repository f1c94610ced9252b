// Package alert delivers operator notifications (risk breaches, emergency
// stops, failed closes) without ever blocking the trading path.
package alert

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"autotrader/internal/domain"
)

// Alert kinds raised by the engine.
const (
	KindRiskBreach           = "risk_breach"
	KindEmergencyStop        = "emergency_stop"
	KindEmergencyCloseFailed = "emergency_close_failed"
	KindOrderFailed          = "order_failed"
)

// Sink accepts alerts fire-and-forget.
type Sink interface {
	Notify(kind string, payload map[string]any)
}

// Notifier delivers one alert to a destination.
type Notifier interface {
	Send(ctx context.Context, a domain.Alert) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, a domain.Alert) error

// Send calls f.
func (f NotifierFunc) Send(ctx context.Context, a domain.Alert) error { return f(ctx, a) }

// Nop discards every alert.
type Nop struct{}

// Notify does nothing.
func (Nop) Notify(string, map[string]any) {}

// Dispatcher is a Sink that queues alerts on a bounded buffer and fans them
// out to its notifiers from a single goroutine. When the buffer is full the
// alert is dropped and counted.
type Dispatcher struct {
	queue     chan domain.Alert
	notifiers []Notifier
	timeout   time.Duration
	dropped   atomic.Int64
	log       *slog.Logger
}

// NewDispatcher creates a Dispatcher with room for buffer pending alerts.
func NewDispatcher(buffer int, notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{
		queue:     make(chan domain.Alert, max(buffer, 1)),
		notifiers: notifiers,
		timeout:   10 * time.Second,
		log:       slog.Default().With("component", "alerts"),
	}
}

// Notify enqueues an alert and returns immediately.
func (d *Dispatcher) Notify(kind string, payload map[string]any) {
	a := domain.Alert{Kind: kind, Payload: payload, CreatedAt: time.Now().UTC()}
	select {
	case d.queue <- a:
	default:
		d.dropped.Add(1)
		d.log.Warn("alert dropped, queue full", "kind", kind)
	}
}

// Dropped returns how many alerts were discarded because the queue was full.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Run delivers queued alerts until ctx is cancelled, then flushes whatever is
// still queued.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case a := <-d.queue:
			d.deliver(ctx, a)
		case <-ctx.Done():
			for {
				select {
				case a := <-d.queue:
					d.deliver(context.WithoutCancel(ctx), a)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, a domain.Alert) {
	for _, n := range d.notifiers {
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		if err := n.Send(sendCtx, a); err != nil {
			d.log.Error("alert delivery failed", "kind", a.Kind, "err", err)
		}
		cancel()
	}
}

// AlertAppender is the ledger method used to record alerts.
type AlertAppender interface {
	AppendAlert(ctx context.Context, a domain.Alert) error
}

// LedgerNotifier records alerts in the ledger.
func LedgerNotifier(l AlertAppender) Notifier {
	return NotifierFunc(l.AppendAlert)
}
