package engine

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrader/internal/domain"
)

func TestPositionSizerWorkedExample(t *testing.T) {
	s := NewPositionSizer(0.02, 0.01)
	qty, err := s.Size(150, domain.AccountState{PortfolioValue: 100000, BuyingPower: 100000})
	require.NoError(t, err)
	// risk 2000 / stop 1.5 = 1333 shares, but only floor(100000/150*0.95) = 633 affordable.
	assert.Equal(t, int64(633), qty)
}

func TestPositionSizerRiskBound(t *testing.T) {
	s := NewPositionSizer(0.01, 0.05)
	qty, err := s.Size(100, domain.AccountState{PortfolioValue: 50000, BuyingPower: 1e9})
	require.NoError(t, err)
	assert.Equal(t, int64(100), qty) // 500 / 5
}

func TestPositionSizerNoCapital(t *testing.T) {
	s := NewPositionSizer(0.02, 0.01)
	for _, bp := range []float64{0, -10, 100} {
		qty, err := s.Size(150, domain.AccountState{PortfolioValue: 100000, BuyingPower: bp})
		assert.NoError(t, err, "buying power %v", bp)
		assert.Zero(t, qty, "buying power %v", bp)
	}
}

func TestPositionSizerInvalid(t *testing.T) {
	acct := domain.AccountState{PortfolioValue: 100000, BuyingPower: 100000}

	_, err := NewPositionSizer(0.02, 0.01).Size(0, acct)
	assert.ErrorIs(t, err, domain.ErrInvalidSizing)
	_, err = NewPositionSizer(0.02, 0.01).Size(-5, acct)
	assert.ErrorIs(t, err, domain.ErrInvalidSizing)
	_, err = NewPositionSizer(0.02, 0).Size(150, acct)
	assert.ErrorIs(t, err, domain.ErrInvalidSizing)
}

func TestPositionSizerNeverExceedsBuyingPower(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := NewPositionSizer(0.05, 0.002)
	for i := 0; i < 2000; i++ {
		price := 1 + rng.Float64()*1000
		acct := domain.AccountState{PortfolioValue: rng.Float64() * 1e6, BuyingPower: rng.Float64() * 1e5}
		qty, err := s.Size(price, acct)
		require.NoError(t, err)
		require.GreaterOrEqual(t, qty, int64(0))
		if qty > 0 {
			require.LessOrEqual(t, float64(qty)*price, acct.BuyingPower)
		}
	}
}
