package engine

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrader/internal/domain"
)

func TestRiskManagerStartsActive(t *testing.T) {
	rm := NewRiskManager(0.05, 0.02)
	assert.True(t, rm.Active())
	assert.NoError(t, rm.AllowEntry())
	assert.NoError(t, rm.Check())
	assert.Equal(t, StateActive, rm.Snapshot().State)
}

func TestRiskManagerBreachHalts(t *testing.T) {
	rm := NewRiskManager(0.05, 0.02)
	rm.Update(-6000, 100000)
	assert.InDelta(t, -0.06, rm.DailyPnLFraction(), 1e-12)

	err := rm.Check()
	require.ErrorIs(t, err, domain.ErrRiskLimitBreached)
	assert.False(t, rm.Active())
	assert.ErrorIs(t, rm.AllowEntry(), domain.ErrTradingHalted)

	snap := rm.Snapshot()
	assert.Equal(t, StateHalted, snap.State)
	assert.NotNil(t, snap.HaltedAt)

	// Only the transition reports the breach.
	assert.NoError(t, rm.Check())
}

func TestRiskManagerBoundaryIsInclusive(t *testing.T) {
	rm := NewRiskManager(0.05, 0.02)
	rm.Update(-4999, 100000)
	assert.NoError(t, rm.Check())
	rm.Update(-5000, 100000)
	assert.ErrorIs(t, rm.Check(), domain.ErrRiskLimitBreached)
}

func TestRiskManagerHaltIsSticky(t *testing.T) {
	rm := NewRiskManager(0.05, 0.02)
	require.True(t, rm.Halt("operator"))
	assert.False(t, rm.Halt("again"))

	// A new session and a recovered P&L do not resume trading.
	assert.True(t, rm.BeginSession("2024-05-02"))
	rm.Update(1000, 100000)
	assert.NoError(t, rm.Check())
	assert.ErrorIs(t, rm.AllowEntry(), domain.ErrTradingHalted)
	assert.Zero(t, rm.Snapshot().DailyPnL-1000)

	rm.Reset()
	assert.NoError(t, rm.AllowEntry())
	assert.Nil(t, rm.Snapshot().HaltedAt)
}

func TestRiskManagerBeginSessionClearsPnL(t *testing.T) {
	rm := NewRiskManager(0.05, 0.02)
	rm.BeginSession("2024-05-01")
	rm.Update(-3000, 100000)
	assert.False(t, rm.BeginSession("2024-05-01"))
	assert.InDelta(t, -0.03, rm.DailyPnLFraction(), 1e-12)
	assert.True(t, rm.BeginSession("2024-05-02"))
	assert.Zero(t, rm.DailyPnLFraction())
}

func TestRiskManagerZeroPortfolio(t *testing.T) {
	rm := NewRiskManager(0.05, 0.02)
	rm.Update(-100, 0)
	assert.Zero(t, rm.DailyPnLFraction())
	assert.NoError(t, rm.Check())
}

func TestRiskManagerConcurrentCheckHaltsOnce(t *testing.T) {
	rm := NewRiskManager(0.05, 0.02)
	rm.Update(-10000, 100000)

	var breaches atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rm.Check() != nil {
				breaches.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), breaches.Load())
}
