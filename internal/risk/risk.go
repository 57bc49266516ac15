// Package risk provides the stateful safety gates consulted before every
// order dispatch: the risk manager (drawdown, loss streaks, volatility) and
// the martingale stake manager.
package risk

import (
	"log"
	"math"
	"sync"
)

// Limits defines configurable risk management thresholds.
type Limits struct {
	Enabled              bool    `json:"enabled"`
	DrawdownCap          float64 `json:"drawdown_cap"`     // session loss cap (account currency)
	MaxDrawdownPct       float64 `json:"max_drawdown_pct"` // percent decline from peak balance
	BalanceFloor         float64 `json:"balance_floor"`    // absolute balance halt level
	MaxConsecutiveLosses int     `json:"max_consec_losses"`
	MaxOpenTrades        int     `json:"max_open_trades"`
	VolatilityLimit      float64 `json:"volatility_limit"` // instantaneous |Δp|/p
}

// DefaultLimits returns conservative defaults matching the reference config.
func DefaultLimits() Limits {
	return Limits{
		Enabled:              true,
		DrawdownCap:          100,
		MaxDrawdownPct:       20,
		BalanceFloor:         0,
		MaxConsecutiveLosses: 4,
		MaxOpenTrades:        2,
		VolatilityLimit:      0.03,
	}
}

// Status is a read-only snapshot of the manager's state.
type Status struct {
	Halted            bool    `json:"halted"`
	HaltReason        string  `json:"halt_reason,omitempty"`
	Paused            bool    `json:"paused"`
	EmergencyStop     bool    `json:"emergency_stop"`
	ConsecutiveLosses int     `json:"consecutive_losses"`
	Wins              int     `json:"wins"`
	Losses            int     `json:"losses"`
	Balance           float64 `json:"balance"`
	PeakBalance       float64 `json:"peak_balance"`
	SessionPnL        float64 `json:"session_pnl"`
}

// Manager is a two-state (armed/halted) gate over account and market facts.
// A halt is sticky: it clears only via Reset, never because a later trade won.
type Manager struct {
	mu     sync.Mutex
	limits Limits

	halted     bool
	haltReason string

	paused        bool
	emergencyStop bool

	consecutiveLosses int
	wins              int
	losses            int
	balance           float64
	peakBalance       float64
	sessionPnL        float64
}

// NewManager creates an armed Manager with the given limits.
func NewManager(limits Limits) *Manager {
	return &Manager{limits: limits}
}

// CanTrade checks every gate for a prospective trade on symbol.
// openTrades is the caller's count of currently open positions; volatility is
// the symbol's instantaneous volatility. Returns (false, reason) on denial.
func (m *Manager) CanTrade(symbol string, openTrades int, volatility float64) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.limits.Enabled {
		return true, ""
	}
	if m.emergencyStop || m.paused {
		return false, "paused by safety controls"
	}
	if m.halted {
		return false, m.haltReason
	}
	if m.sessionPnL <= -math.Abs(m.limits.DrawdownCap) {
		m.haltLocked("drawdown cap reached")
		return false, m.haltReason
	}
	if m.consecutiveLosses >= m.limits.MaxConsecutiveLosses {
		m.haltLocked("consecutive loss cap reached")
		return false, m.haltReason
	}
	if openTrades >= m.limits.MaxOpenTrades {
		return false, "max open trades reached"
	}
	if m.limits.VolatilityLimit > 0 && volatility > m.limits.VolatilityLimit {
		return false, "volatility filter active"
	}
	return true, ""
}

// OnBalance records a balance update, tracks the peak and halts on drawdown
// or balance-floor breaches.
func (m *Manager) OnBalance(balance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.balance = balance
	if balance > m.peakBalance {
		m.peakBalance = balance
	}
	if !m.limits.Enabled || m.halted {
		return
	}
	if m.peakBalance > 0 && m.limits.MaxDrawdownPct > 0 {
		drawdown := (m.peakBalance - balance) / m.peakBalance * 100
		if drawdown >= m.limits.MaxDrawdownPct {
			m.haltLocked("max drawdown from peak exceeded")
			return
		}
	}
	if m.limits.BalanceFloor > 0 && balance <= m.limits.BalanceFloor {
		m.haltLocked("balance floor reached")
	}
}

// OnTradeResult records a settled trade's profit, updating the loss streak
// and session PnL. Breaching a cap halts the manager.
func (m *Manager) OnTradeResult(profit float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessionPnL += profit
	if profit < 0 {
		m.losses++
		m.consecutiveLosses++
	} else {
		m.wins++
		m.consecutiveLosses = 0
	}
	if !m.limits.Enabled || m.halted {
		return
	}
	if m.sessionPnL <= -math.Abs(m.limits.DrawdownCap) {
		m.haltLocked("drawdown cap reached")
		return
	}
	if m.consecutiveLosses >= m.limits.MaxConsecutiveLosses {
		m.haltLocked("consecutive loss cap reached")
	}
}

// EmergencyStop blocks all future approvals until Reset.
func (m *Manager) EmergencyStop() {
	m.mu.Lock()
	m.emergencyStop = true
	m.mu.Unlock()
	log.Printf("[risk] emergency stop engaged")
}

// SetPaused toggles the operator pause flag.
func (m *Manager) SetPaused(paused bool) {
	m.mu.Lock()
	m.paused = paused
	m.mu.Unlock()
}

// UpdateLimits swaps in new limits. Validation happens at the config layer.
func (m *Manager) UpdateLimits(limits Limits) {
	m.mu.Lock()
	m.limits = limits
	m.mu.Unlock()
}

// Reset re-arms the manager and clears session counters. This is the only
// way out of a halt.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.halted = false
	m.haltReason = ""
	m.emergencyStop = false
	m.paused = false
	m.consecutiveLosses = 0
	m.wins = 0
	m.losses = 0
	m.sessionPnL = 0
	m.peakBalance = m.balance
	log.Printf("[risk] state reset, manager re-armed")
}

// Status returns a snapshot of the current state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Halted:            m.halted,
		HaltReason:        m.haltReason,
		Paused:            m.paused,
		EmergencyStop:     m.emergencyStop,
		ConsecutiveLosses: m.consecutiveLosses,
		Wins:              m.wins,
		Losses:            m.losses,
		Balance:           m.balance,
		PeakBalance:       m.peakBalance,
		SessionPnL:        m.sessionPnL,
	}
}

func (m *Manager) haltLocked(reason string) {
	m.halted = true
	m.haltReason = reason
	log.Printf("[risk] halted: %s (pnl=%.2f streak=%d)", reason, m.sessionPnL, m.consecutiveLosses)
}
