// Package domain defines the core value types shared across the trading
// engine: bars, signals, account snapshots, positions, and orders.
package domain

import "time"

// Market identifies the exchange group a symbol trades on.
type Market string

const MarketUS Market = "us"

// Bar is a single OHLCV bar. Bars for a symbol form an append-only,
// chronologically ordered sequence.
type Bar struct {
	Symbol     string    `json:"symbol"`
	Timestamp  time.Time `json:"timestamp"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     int64     `json:"volume"`
	TradeCount int64     `json:"trade_count"`
	VWAP       float64   `json:"vwap"`
}

// Verdict is the outcome of evaluating the signal rule on a bar window.
type Verdict string

const (
	VerdictBuy  Verdict = "BUY"
	VerdictSell Verdict = "SELL"
	VerdictHold Verdict = "HOLD"
)

// Actionable reports whether the verdict can lead to an order.
func (v Verdict) Actionable() bool {
	return v == VerdictBuy || v == VerdictSell
}

// Signal is produced fresh every cycle and is never stored as authoritative
// state.
type Signal struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Verdict   Verdict   `json:"verdict"`
	Strategy  string    `json:"strategy,omitempty"`
}

// AccountState is a point-in-time snapshot of the brokerage account. It is
// read fresh each cycle and never reused for sizing across cycles.
type AccountState struct {
	Timestamp      time.Time `json:"timestamp"`
	BuyingPower    float64   `json:"buying_power"`
	Cash           float64   `json:"cash"`
	PortfolioValue float64   `json:"portfolio_value"`
	Equity         float64   `json:"equity"`
	LastEquity     float64   `json:"last_equity"` // equity at the previous session close
	DayTradeCount  int64     `json:"day_trade_count"`
	TradingBlocked bool      `json:"trading_blocked"`
}

// DailyPnL returns the change in equity since the previous session close.
func (a AccountState) DailyPnL() float64 {
	if a.LastEquity == 0 {
		return 0
	}
	return a.Equity - a.LastEquity
}

// Position is a nonzero holding in a single symbol. Qty is signed: negative
// quantities are short.
type Position struct {
	Symbol       string  `json:"symbol"`
	Qty          int64   `json:"qty"`
	CostBasis    float64 `json:"cost_basis"`
	CurrentPrice float64 `json:"current_price"`
	UnrealizedPL float64 `json:"unrealized_pl"`
}

// OpeningSide is the side of the order that opened p.
func (p Position) OpeningSide() OrderSide {
	if p.Qty < 0 {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the side that closes a position opened with s.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType is the execution style of an order.
type OrderType string

const OrderTypeMarket OrderType = "market"

// OrderStatus is the recorded status of an order. FILLED, REJECTED and
// FAILED are terminal; PENDING means the broker accepted it but has not
// filled it yet.
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "PENDING"
	OrderStatusFilled   OrderStatus = "FILLED"
	OrderStatusRejected OrderStatus = "REJECTED"
	OrderStatusFailed   OrderStatus = "FAILED"
)

// Terminal reports whether no further status will be observed for the order.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusRejected || s == OrderStatusFailed
}

// OrderIntent distinguishes exposure-increasing entries from exits. Exits
// bypass the risk gate.
type OrderIntent string

const (
	IntentEntry OrderIntent = "entry"
	IntentExit  OrderIntent = "exit"
)

// OrderRequest is what the executor hands to the broker.
type OrderRequest struct {
	CorrelationID string      `json:"correlation_id"`
	Symbol        string      `json:"symbol"`
	Side          OrderSide   `json:"side"`
	Type          OrderType   `json:"type"`
	Qty           int64       `json:"qty"`
	Price         float64     `json:"price"` // reference price at decision time
	Intent        OrderIntent `json:"intent"`
}

// Order is an order record. Once a terminal status is written it is never
// mutated; later observations are appended as new records.
type Order struct {
	CorrelationID  string      `json:"correlation_id"`
	BrokerID       string      `json:"broker_id,omitempty"`
	Symbol         string      `json:"symbol"`
	Side           OrderSide   `json:"side"`
	Type           OrderType   `json:"type"`
	Qty            int64       `json:"qty"`
	Price          float64     `json:"price"`
	FilledAvgPrice float64     `json:"filled_avg_price,omitempty"`
	Status         OrderStatus `json:"status"`
	Intent         OrderIntent `json:"intent"`
	Reason         string      `json:"reason,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// FillPrice returns the executed price when known, otherwise the reference
// price.
func (o Order) FillPrice() float64 {
	if o.FilledAvgPrice > 0 {
		return o.FilledAvgPrice
	}
	return o.Price
}

// Alert is an operator-facing notification recorded in the ledger.
type Alert struct {
	Kind      string         `json:"kind"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
