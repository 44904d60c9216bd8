// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package agents

import (
	"os"
	"sync"

	"github.com/mevog/warden/internal/oplog"
)

// CapitalLock blocks trading once drawdown or cumulative losses cross their
// limits. The block is sticky: only a founder-approved unlock clears it.
type CapitalLock struct {
	mu             sync.Mutex
	maxDrawdownPct float64
	maxLossUSD     float64
	balanceUSD     float64
	losses         float64
	peakBalance    float64
	blocked        bool
	trades         []float64

	gate     *FounderGate
	registry *Registry
	log      *oplog.Logger
}

// CapitalStatus is a snapshot for gates output and the dashboard.
type CapitalStatus struct {
	BalanceUSD  float64 `json:"balance_usd"`
	PeakBalance float64 `json:"peak_balance_usd"`
	Losses      float64 `json:"losses_usd"`
	DrawdownPct float64 `json:"drawdown_pct"`
	Blocked     bool    `json:"blocked"`
	Trades      int     `json:"trades"`
}

// CapitalOption configures a CapitalLock.
type CapitalOption func(*CapitalLock)

// WithCapitalGate sets the founder gate consulted by Unlock.
func WithCapitalGate(g *FounderGate) CapitalOption {
	return func(c *CapitalLock) { c.gate = g }
}

// WithCapitalRegistry sets the registry the lock publishes to.
func WithCapitalRegistry(r *Registry) CapitalOption {
	return func(c *CapitalLock) { c.registry = r }
}

// WithCapitalLogger sets an explicit logger.
func WithCapitalLogger(l *oplog.Logger) CapitalOption {
	return func(c *CapitalLock) { c.log = l }
}

// NewCapitalLock builds a lock with the given limits and starting balance.
func NewCapitalLock(maxDrawdownPct, maxLossUSD, balanceUSD float64, opts ...CapitalOption) *CapitalLock {
	c := &CapitalLock{
		maxDrawdownPct: maxDrawdownPct,
		maxLossUSD:     maxLossUSD,
		balanceUSD:     balanceUSD,
		peakBalance:    balanceUSD,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.gate == nil {
		c.gate = NewFounderGate()
	}
	if c.registry == nil {
		c.registry = DefaultRegistry()
	}
	if c.log == nil {
		c.log = oplog.New("capital_lock")
	}
	return c
}

// RecordTrade applies a realized pnl to the balance and re-checks limits.
// Trades arriving while blocked are dropped and logged, not applied.
func (c *CapitalLock) RecordTrade(pnlUSD float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.blocked {
		_ = c.log.Log(oplog.Entry{Event: "trade_blocked", RiskLevel: "high", Error: "capital_locked"})
		return
	}
	c.balanceUSD += pnlUSD
	c.trades = append(c.trades, pnlUSD)
	if c.balanceUSD > c.peakBalance {
		c.peakBalance = c.balanceUSD
	}
	if pnlUSD < 0 {
		c.losses += -pnlUSD
	}
	c.checkLimits()
}

// checkLimits engages the block when either limit is breached. Caller holds mu.
func (c *CapitalLock) checkLimits() {
	if c.drawdownLocked() > c.maxDrawdownPct || c.losses > c.maxLossUSD {
		c.blocked = true
		c.registry.SetBool(KeyCapitalLocked, true)
		_ = c.log.Log(oplog.Entry{Event: "risk_block", RiskLevel: "high", Error: "loss_limit"})
	}
}

// drawdownLocked computes the drawdown percent from peak. Caller holds mu.
func (c *CapitalLock) drawdownLocked() float64 {
	if c.peakBalance <= 0 {
		return 0
	}
	return (c.peakBalance - c.balanceUSD) / c.peakBalance * 100
}

// TradeAllowed reports whether new trades may execute.
func (c *CapitalLock) TradeAllowed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.blocked
}

// Unlock clears the block. It requires both the caller's explicit approval
// flag and a founder token scoped to capital_unlock; loss counters reset and
// the peak rebases to the current balance so the old drawdown does not
// immediately re-trigger.
func (c *CapitalLock) Unlock(approved bool) bool {
	trace := os.Getenv("TRACE_ID")
	if !approved || !c.gate.Approved("capital_unlock") {
		_ = c.log.Log(oplog.Entry{Event: "unlock_rejected", RiskLevel: "low", TraceID: trace})
		return false
	}
	c.mu.Lock()
	c.blocked = false
	c.losses = 0
	c.peakBalance = c.balanceUSD
	c.mu.Unlock()
	c.registry.SetBool(KeyCapitalLocked, false)
	_ = c.log.Log(oplog.Entry{Event: "unlock", RiskLevel: "low", TraceID: trace})
	return true
}

// Status returns a snapshot of the lock.
func (c *CapitalLock) Status() CapitalStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CapitalStatus{
		BalanceUSD:  c.balanceUSD,
		PeakBalance: c.peakBalance,
		Losses:      c.losses,
		DrawdownPct: c.drawdownLocked(),
		Blocked:     c.blocked,
		Trades:      len(c.trades),
	}
}

// SetBlocked forces the lock state. Used by gates tooling reconstructing
// state from the registry, not by the trading path.
func (c *CapitalLock) SetBlocked(blocked bool) {
	c.mu.Lock()
	c.blocked = blocked
	c.mu.Unlock()
}
