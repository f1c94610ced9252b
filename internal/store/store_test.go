package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrader/internal/domain"
)

func dailyBars(symbol string, start time.Time, closes ...float64) []domain.Bar {
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{
			Symbol: symbol, Timestamp: start.AddDate(0, 0, i),
			Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1000, TradeCount: 10, VWAP: c,
		}
	}
	return bars
}

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")
	got := ps.barPath("aapl", "us", 2024)
	want := filepath.Join("/data", "us", "daily", "AAPL", "2024.parquet")
	if got != want {
		t.Errorf("barPath mismatch:\n  got  %s\n  want %s", got, want)
	}
}

func TestParquetStoreWriteReadBars(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	bars := dailyBars("AAPL", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), 185.5, 186.0)
	require.NoError(t, ps.WriteBars(ctx, bars))

	got, err := ps.ReadBars(ctx, "AAPL", "us",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 185.5, got[0].Close)
	assert.Equal(t, 186.0, got[1].Close)
	assert.True(t, got[0].Timestamp.Equal(bars[0].Timestamp))
}

func TestParquetStoreMergeBars(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, ps.WriteBars(ctx, dailyBars("MSFT", day, 403)))
	require.NoError(t, ps.WriteBars(ctx, dailyBars("MSFT", day.AddDate(0, 0, 3), 408)))
	// Rewriting an existing timestamp replaces it.
	require.NoError(t, ps.WriteBars(ctx, dailyBars("MSFT", day, 404)))

	got, err := ps.ReadBars(ctx, "MSFT", "us", day.AddDate(0, -1, 0), day.AddDate(0, 1, 0))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 404.0, got[0].Close)
}

func TestParquetStoreLatestBarsSpansYears(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, ps.WriteBars(ctx, dailyBars("AAPL", time.Date(2023, 12, 29, 0, 0, 0, 0, time.UTC), 1, 2, 3, 4, 5, 6)))

	got, err := ps.LatestBars(ctx, "AAPL", "us", 4)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, []float64{3, 4, 5, 6}, []float64{got[0].Close, got[1].Close, got[2].Close, got[3].Close})

	none, err := ps.LatestBars(ctx, "ZZZZ", "us", 4)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestParquetStoreListSymbols(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	empty, err := ps.ListSymbols(ctx, "us")
	require.NoError(t, err)
	assert.Empty(t, empty)

	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := append(dailyBars("GOOGL", day, 140.5), dailyBars("AAPL", day, 185.5)...)
	require.NoError(t, ps.WriteBars(ctx, bars))

	symbols, err := ps.ListSymbols(ctx, "us")
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "GOOGL"}, symbols)
}

func openLedger(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteLedgerTrades(t *testing.T) {
	s := openLedger(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	old := domain.Order{CorrelationID: "old", Symbol: "AAPL", Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket,
		Qty: 1, Price: 100, Status: domain.OrderStatusFilled, Intent: domain.IntentEntry, CreatedAt: now.Add(-48 * time.Hour)}
	fresh := domain.Order{CorrelationID: "fresh", BrokerID: "b-1", Symbol: "AAPL", Side: domain.OrderSideSell,
		Type: domain.OrderTypeMarket, Qty: 1, Price: 110, FilledAvgPrice: 110.5, Status: domain.OrderStatusFilled,
		Intent: domain.IntentExit, CreatedAt: now}
	failed := domain.Order{CorrelationID: "failed", Symbol: "MSFT", Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket,
		Qty: 3, Price: 400, Status: domain.OrderStatusFailed, Intent: domain.IntentEntry, Reason: "broker_timeout",
		CreatedAt: now.Add(time.Second)}

	for _, o := range []domain.Order{old, fresh, failed} {
		require.NoError(t, s.AppendTrade(ctx, o))
	}

	got, err := s.RecentTrades(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, fresh, got[0])
	assert.Equal(t, "broker_timeout", got[1].Reason)
	assert.Equal(t, domain.OrderStatusFailed, got[1].Status)
}

func TestSQLiteLedgerSnapshots(t *testing.T) {
	s := openLedger(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	snap := domain.AccountState{Timestamp: now, BuyingPower: 50000, Cash: 50000, PortfolioValue: 100000,
		Equity: 100000, LastEquity: 99000, DayTradeCount: 2, TradingBlocked: true}
	require.NoError(t, s.AppendAccountSnapshot(ctx, snap))

	got, err := s.RecentSnapshots(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, snap, got[0])

	later, err := s.RecentSnapshots(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, later)
}

func TestSQLiteLedgerAlerts(t *testing.T) {
	s := openLedger(t)
	ctx := context.Background()

	require.NoError(t, s.AppendAlert(ctx, domain.Alert{Kind: "risk_breach", Payload: map[string]any{"pnl": -0.06}}))
	require.NoError(t, s.AppendAlert(ctx, domain.Alert{Kind: "emergency_close_failed",
		Payload: map[string]any{"symbol": "AAPL"}, CreatedAt: time.Now().Add(time.Second)}))

	alerts, err := s.Alerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, "emergency_close_failed", alerts[0].Kind)
	assert.Equal(t, "AAPL", alerts[0].Payload["symbol"])
	assert.Equal(t, -0.06, alerts[1].Payload["pnl"])
}

func TestSQLiteLedgerConcurrentAppends(t *testing.T) {
	s := openLedger(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.AppendTrade(ctx, domain.Order{CorrelationID: string(rune('a' + i)), Symbol: "AAPL",
				Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, Qty: 1, Price: 1,
				Status: domain.OrderStatusFilled, Intent: domain.IntentEntry}))
		}(i)
	}
	wg.Wait()

	got, err := s.RecentTrades(ctx, time.Time{})
	require.NoError(t, err)
	assert.Len(t, got, 20)
}
