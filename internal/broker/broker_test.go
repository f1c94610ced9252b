package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrader/internal/domain"
)

func TestAlpacaBrokerName(t *testing.T) {
	b := NewAlpacaBroker("key", "secret", "https://paper-api.alpaca.markets", time.Second, 200)
	if got := b.Name(); got != "alpaca" {
		t.Errorf("AlpacaBroker.Name() = %q, want %q", got, "alpaca")
	}
}

func TestSimulatorBrokerName(t *testing.T) {
	b := NewSimulatorBroker(1000)
	if got := b.Name(); got != "simulator" {
		t.Errorf("SimulatorBroker.Name() = %q, want %q", got, "simulator")
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want error
	}{
		{"deadline", context.DeadlineExceeded, domain.ErrBrokerTimeout},
		{"server error", &alpaca.APIError{StatusCode: http.StatusBadGateway}, domain.ErrBrokerTimeout},
		{"rate limited", &alpaca.APIError{StatusCode: http.StatusTooManyRequests}, domain.ErrBrokerTimeout},
		{"unprocessable", fmt.Errorf("wrapped: %w", &alpaca.APIError{StatusCode: http.StatusUnprocessableEntity}), domain.ErrBrokerRejected},
		{"forbidden", &alpaca.APIError{StatusCode: http.StatusForbidden}, domain.ErrBrokerRejected},
		{"connection", errors.New("connection refused"), domain.ErrBrokerTimeout},
	}
	for _, tc := range cases {
		assert.ErrorIs(t, classify(tc.err), tc.want, tc.name)
	}
	assert.NoError(t, classify(nil))
}

func TestMapStatus(t *testing.T) {
	t.Parallel()

	assert.Equal(t, domain.OrderStatusFilled, mapStatus("filled"))
	assert.Equal(t, domain.OrderStatusRejected, mapStatus("rejected"))
	assert.Equal(t, domain.OrderStatusRejected, mapStatus("canceled"))
	assert.Equal(t, domain.OrderStatusPending, mapStatus("new"))
	assert.Equal(t, domain.OrderStatusPending, mapStatus("partially_filled"))
}

func TestSimulatorRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	b := NewSimulatorBroker(10000)
	order, err := b.SubmitOrder(ctx, domain.OrderRequest{
		CorrelationID: "c1", Symbol: "AAPL", Side: domain.OrderSideBuy,
		Type: domain.OrderTypeMarket, Qty: 10, Price: 100, Intent: domain.IntentEntry,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, order.Status)
	assert.Equal(t, "c1", order.CorrelationID)
	assert.Equal(t, 100.0, order.FilledAvgPrice)

	b.ObservePrice("AAPL", 110)
	acct, err := b.GetAccount(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 9000, acct.Cash, 1e-9)
	assert.InDelta(t, 10100, acct.Equity, 1e-9)
	assert.InDelta(t, 100, acct.DailyPnL(), 1e-9)

	positions, err := b.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(10), positions[0].Qty)
	assert.InDelta(t, 100, positions[0].UnrealizedPL, 1e-9)

	_, err = b.SubmitOrder(ctx, domain.OrderRequest{Symbol: "AAPL", Side: domain.OrderSideSell, Qty: 10, Price: 110})
	require.NoError(t, err)
	positions, err = b.GetPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)

	open, err := b.HasOpenOrder(ctx, "AAPL")
	require.NoError(t, err)
	assert.False(t, open)
}

func TestSimulatorRejects(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	b := NewSimulatorBroker(500)
	_, err := b.SubmitOrder(ctx, domain.OrderRequest{Symbol: "AAPL", Side: domain.OrderSideBuy, Qty: 10, Price: 100})
	assert.ErrorIs(t, err, domain.ErrBrokerRejected)

	_, err = b.SubmitOrder(ctx, domain.OrderRequest{Symbol: "AAPL", Side: domain.OrderSideSell, Qty: 1, Price: 100})
	assert.ErrorIs(t, err, domain.ErrBrokerRejected)

	_, err = b.SubmitOrder(ctx, domain.OrderRequest{Symbol: "AAPL", Side: domain.OrderSideBuy, Qty: 0, Price: 100})
	assert.ErrorIs(t, err, domain.ErrBrokerRejected)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = b.SubmitOrder(cancelled, domain.OrderRequest{Symbol: "AAPL", Side: domain.OrderSideBuy, Qty: 1, Price: 100})
	assert.ErrorIs(t, err, domain.ErrBrokerTimeout)
}

func TestSimulatorGetOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	b := NewSimulatorBroker(10000)
	placed, err := b.SubmitOrder(ctx, domain.OrderRequest{
		CorrelationID: "c1", Symbol: "AAPL", Side: domain.OrderSideBuy, Qty: 5, Price: 100,
	})
	require.NoError(t, err)

	got, err := b.GetOrder(ctx, placed.BrokerID)
	require.NoError(t, err)
	assert.Equal(t, *placed, *got)

	_, err = b.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrBrokerRejected)
}

func TestFromAlpaca(t *testing.T) {
	t.Parallel()

	qty := decimal.NewFromInt(10)
	price := decimal.RequireFromString("150.25")
	created := time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)
	base := alpaca.Order{
		ID: "o-1", ClientOrderID: "c-1", Symbol: "AAPL", Side: alpaca.Buy, Type: alpaca.Market,
		Qty: &qty, CreatedAt: created,
	}

	filled := base
	filled.Status = "filled"
	filled.FilledQty = qty
	filled.FilledAvgPrice = &price
	o := fromAlpaca(&filled)
	assert.Equal(t, domain.OrderStatusFilled, o.Status)
	assert.Equal(t, int64(10), o.Qty)
	assert.InDelta(t, 150.25, o.FilledAvgPrice, 1e-9)
	assert.Equal(t, "o-1", o.BrokerID)
	assert.Equal(t, "c-1", o.CorrelationID)
	assert.Equal(t, domain.OrderSideBuy, o.Side)
	assert.Equal(t, created, o.CreatedAt)

	partial := base
	partial.Status = "canceled"
	partial.FilledQty = decimal.NewFromInt(4)
	partial.FilledAvgPrice = &price
	o = fromAlpaca(&partial)
	assert.Equal(t, domain.OrderStatusFilled, o.Status, "partial fill before cancel")
	assert.Equal(t, int64(4), o.Qty)

	cancelled := base
	cancelled.Status = "canceled"
	assert.Equal(t, domain.OrderStatusRejected, fromAlpaca(&cancelled).Status)

	working := base
	working.Status = "new"
	o = fromAlpaca(&working)
	assert.Equal(t, domain.OrderStatusPending, o.Status)
	assert.Equal(t, int64(10), o.Qty)
	assert.Zero(t, o.FilledAvgPrice)
}

// alpacaServer answers order placement with a duplicate client order ID
// error and serves the existing order by client order ID.
func alpacaServer(t *testing.T, lookups *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/orders", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"code":40010001,"message":"client_order_id must be unique"}`)
	})
	mux.HandleFunc("GET /v2/orders:by_client_order_id", func(w http.ResponseWriter, r *http.Request) {
		lookups.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"o-1","client_order_id":%q,"symbol":"AAPL","side":"buy","type":"market",`+
			`"qty":"5","filled_qty":"0","status":"new","created_at":"2024-05-01T14:00:00Z"}`,
			r.URL.Query().Get("client_order_id"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestAlpacaSubmitResolvesExistingOrder(t *testing.T) {
	t.Parallel()
	var lookups atomic.Int32
	srv := alpacaServer(t, &lookups)
	b := NewAlpacaBroker("key", "secret", srv.URL, time.Second, 6000)

	order, err := b.SubmitOrder(context.Background(), domain.OrderRequest{
		CorrelationID: "c-1", Symbol: "AAPL", Side: domain.OrderSideBuy,
		Type: domain.OrderTypeMarket, Qty: 5, Price: 100, Intent: domain.IntentEntry,
	})
	require.NoError(t, err)
	assert.Equal(t, "o-1", order.BrokerID)
	assert.Equal(t, "c-1", order.CorrelationID)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, int32(1), lookups.Load())
}

func TestAlpacaSubmitLookupWaitsForRateLimit(t *testing.T) {
	t.Parallel()
	var lookups atomic.Int32
	srv := alpacaServer(t, &lookups)
	// One call a minute: the placement takes the only token.
	b := NewAlpacaBroker("key", "secret", srv.URL, time.Second, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := b.SubmitOrder(ctx, domain.OrderRequest{
		CorrelationID: "c-1", Symbol: "AAPL", Side: domain.OrderSideBuy,
		Type: domain.OrderTypeMarket, Qty: 5, Price: 100,
	})
	assert.ErrorIs(t, err, domain.ErrBrokerRejected)
	assert.Zero(t, lookups.Load(), "lookup held back by the limiter")
}
