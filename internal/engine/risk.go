package engine

import (
	"fmt"
	"math"
	"sync"
	"time"

	"autotrader/internal/domain"
)

// TradingState is the circuit breaker state.
type TradingState string

const (
	StateActive TradingState = "ACTIVE"
	StateHalted TradingState = "HALTED"
)

// RiskState is a point-in-time copy of the RiskManager.
type RiskState struct {
	State            TradingState `json:"state"`
	TradingActive    bool         `json:"trading_active"`
	DailyPnL         float64      `json:"daily_pnl"`
	DailyPnLFraction float64      `json:"daily_pnl_fraction"`
	LossLimit        float64      `json:"loss_limit"`
	RiskPerTrade     float64      `json:"risk_per_trade"`
	Session          string       `json:"session,omitempty"`
	HaltedAt         *time.Time   `json:"halted_at,omitempty"`
	HaltReason       string       `json:"halt_reason,omitempty"`
}

// RiskManager tracks the daily P&L fraction and owns the ACTIVE/HALTED
// circuit breaker. HALTED is sticky: only Reset leaves it. Every method holds
// the lock for the check-and-set only; no caller I/O happens under it.
type RiskManager struct {
	mu           sync.Mutex
	lossLimit    float64
	riskPerTrade float64

	halted     bool
	haltedAt   time.Time
	haltReason string

	pnl      float64
	fraction float64
	session  string

	now func() time.Time
}

// NewRiskManager creates an ACTIVE RiskManager that halts once the absolute
// daily P&L fraction reaches lossLimit.
func NewRiskManager(lossLimit, riskPerTrade float64) *RiskManager {
	return &RiskManager{
		lossLimit:    lossLimit,
		riskPerTrade: riskPerTrade,
		now:          time.Now,
	}
}

// Update recomputes the daily P&L fraction. A non-positive portfolio value
// leaves the fraction at zero.
func (rm *RiskManager) Update(pnl, portfolioValue float64) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.pnl = pnl
	if portfolioValue > 0 {
		rm.fraction = pnl / portfolioValue
	} else {
		rm.fraction = 0
	}
}

// DailyPnLFraction returns the last computed fraction.
func (rm *RiskManager) DailyPnLFraction() float64 {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.fraction
}

// Check trips the breaker when |fraction| >= loss limit. It returns
// domain.ErrRiskLimitBreached only on the ACTIVE to HALTED transition, so
// exactly one caller reacts to a breach.
func (rm *RiskManager) Check() error {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.halted || math.Abs(rm.fraction) < rm.lossLimit {
		return nil
	}
	rm.haltLocked(fmt.Sprintf("daily pnl fraction %.4f reached loss limit %.4f", rm.fraction, rm.lossLimit))
	return fmt.Errorf("daily pnl fraction %.4f, limit %.4f: %w", rm.fraction, rm.lossLimit, domain.ErrRiskLimitBreached)
}

// AllowEntry refuses new exposure while HALTED.
func (rm *RiskManager) AllowEntry() error {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.halted {
		return fmt.Errorf("%s: %w", rm.haltReason, domain.ErrTradingHalted)
	}
	return nil
}

// Halt forces HALTED. It reports whether the state changed.
func (rm *RiskManager) Halt(reason string) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.halted {
		return false
	}
	rm.haltLocked(reason)
	return true
}

func (rm *RiskManager) haltLocked(reason string) {
	rm.halted = true
	rm.haltedAt = rm.now().UTC()
	rm.haltReason = reason
}

// Reset is the operator's HALTED to ACTIVE transition.
func (rm *RiskManager) Reset() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.halted = false
	rm.haltedAt = time.Time{}
	rm.haltReason = ""
}

// BeginSession starts a new trading day: daily P&L is cleared, HALTED is not.
// It reports whether session differs from the current one.
func (rm *RiskManager) BeginSession(session string) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.session == session {
		return false
	}
	rm.session = session
	rm.pnl = 0
	rm.fraction = 0
	return true
}

// Active reports whether new entries are allowed.
func (rm *RiskManager) Active() bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return !rm.halted
}

// Snapshot returns a copy of the current state.
func (rm *RiskManager) Snapshot() RiskState {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	s := RiskState{
		State:            StateActive,
		TradingActive:    !rm.halted,
		DailyPnL:         rm.pnl,
		DailyPnLFraction: rm.fraction,
		LossLimit:        rm.lossLimit,
		RiskPerTrade:     rm.riskPerTrade,
		Session:          rm.session,
		HaltReason:       rm.haltReason,
	}
	if rm.halted {
		s.State = StateHalted
		t := rm.haltedAt
		s.HaltedAt = &t
	}
	return s
}
