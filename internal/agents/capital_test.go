// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package agents

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/mevog/warden/internal/oplog"
)

func newTestLock(t *testing.T, maxDrawdownPct, maxLossUSD, balance float64) (*CapitalLock, *Registry) {
	t.Helper()
	dir := t.TempDir()
	reg := NewLocalRegistry()
	lock := NewCapitalLock(maxDrawdownPct, maxLossUSD, balance,
		WithCapitalRegistry(reg),
		WithCapitalLogger(oplog.New("capital_lock", oplog.WithDir(dir))),
		WithCapitalGate(NewFounderGate(
			WithTokenPath(filepath.Join(dir, "founder.token")),
			WithFounderLogger(oplog.New("founder_gate", oplog.WithDir(dir))),
		)),
	)
	return lock, reg
}

func TestCapitalTracksPeakAndLosses(t *testing.T) {
	lock, _ := newTestLock(t, 50, 1000, 1000)
	lock.RecordTrade(500)
	lock.RecordTrade(-300)

	st := lock.Status()
	if st.BalanceUSD != 1200 {
		t.Errorf("balance = %v, want 1200", st.BalanceUSD)
	}
	if st.PeakBalance != 1500 {
		t.Errorf("peak = %v, want 1500", st.PeakBalance)
	}
	if st.Losses != 300 {
		t.Errorf("losses = %v, want 300", st.Losses)
	}
	if st.DrawdownPct != 20 {
		t.Errorf("drawdown = %v, want 20", st.DrawdownPct)
	}
	if st.Blocked || !lock.TradeAllowed() {
		t.Error("lock should not be engaged inside limits")
	}
}

func TestCapitalBlocksOnDrawdown(t *testing.T) {
	lock, reg := newTestLock(t, 10, 1e9, 1000)
	lock.RecordTrade(1000) // peak 2000
	lock.RecordTrade(-500) // drawdown 25%

	if lock.TradeAllowed() {
		t.Fatal("drawdown beyond limit should block trading")
	}
	if !reg.GetBool(KeyCapitalLocked, false) {
		t.Error("capital_locked not published to the registry")
	}

	// Further trades are dropped, not applied.
	before := lock.Status().BalanceUSD
	lock.RecordTrade(100)
	if lock.Status().BalanceUSD != before {
		t.Error("trade applied while blocked")
	}

	entries, err := oplog.ReadFile(lock.log.Path())
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var sawBlock, sawDropped bool
	for _, e := range entries {
		switch e.Event {
		case "risk_block":
			sawBlock = true
			if e.Error != "loss_limit" || e.RiskLevel != "high" {
				t.Errorf("risk_block entry wrong: %+v", e)
			}
		case "trade_blocked":
			sawDropped = true
		}
	}
	if !sawBlock || !sawDropped {
		t.Errorf("expected risk_block and trade_blocked entries, got %+v", entries)
	}
}

func TestCapitalBlocksOnLossLimit(t *testing.T) {
	lock, _ := newTestLock(t, 90, 100, 1000)
	lock.RecordTrade(-150)
	if lock.TradeAllowed() {
		t.Fatal("losses beyond limit should block trading")
	}
}

func TestCapitalUnlockRequiresFounder(t *testing.T) {
	lock, reg := newTestLock(t, 10, 1e9, 1000)
	lock.RecordTrade(1000)
	lock.RecordTrade(-500)
	if lock.TradeAllowed() {
		t.Fatal("setup: lock should be engaged")
	}

	t.Setenv(EnvFounderToken, "")
	if lock.Unlock(true) {
		t.Error("unlock without founder token must fail")
	}
	if lock.TradeAllowed() {
		t.Fatal("lock cleared without approval")
	}

	t.Setenv(EnvFounderToken, MintToken("capital_unlock", time.Now().Add(time.Hour)))
	if lock.Unlock(false) {
		t.Error("unlock without the caller's explicit approval must fail")
	}
	if !lock.Unlock(true) {
		t.Fatal("unlock with founder token and approval should succeed")
	}
	if !lock.TradeAllowed() {
		t.Error("lock still engaged after unlock")
	}
	if reg.GetBool(KeyCapitalLocked, true) {
		t.Error("registry still reports capital_locked")
	}

	st := lock.Status()
	if st.Losses != 0 {
		t.Errorf("losses not reset: %v", st.Losses)
	}
	if st.PeakBalance != st.BalanceUSD {
		t.Errorf("peak not rebased: peak %v balance %v", st.PeakBalance, st.BalanceUSD)
	}
}
