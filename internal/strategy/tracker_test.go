// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package strategy

import (
	"path/filepath"
	"testing"

	"github.com/mevog/warden/internal/metrics"
	"github.com/mevog/warden/internal/oplog"
)

func newTestTracker(t *testing.T, opts ...TrackerOption) (*Tracker, *metrics.Registry, string) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "tracker.jsonl")
	reg := metrics.NewRegistry()
	all := append([]TrackerOption{
		WithTrackerLogger(oplog.New("strategy_tracker", oplog.WithPath(logPath))),
		WithTrackerMetrics(reg),
	}, opts...)
	return NewTracker("spread_eth_usdc", all...), reg, logPath
}

func TestTrackerDisablesAfterFailureStreak(t *testing.T) {
	tr, reg, logPath := newTestTracker(t, WithTrackerLimit(3))

	tr.Record(false, 0)
	tr.Record(false, 0)
	if tr.Disabled() {
		t.Fatal("disabled before hitting the limit")
	}
	if tr.FailCount() != 2 {
		t.Fatalf("fail count = %d, want 2", tr.FailCount())
	}

	// a success resets the streak
	tr.Record(true, 5.5)
	if tr.FailCount() != 0 {
		t.Fatalf("fail count after success = %d, want 0", tr.FailCount())
	}

	// a quiet cycle also resets, without booking a trade
	tr.Record(false, 0)
	tr.Healthy()
	if tr.FailCount() != 0 {
		t.Fatalf("fail count after quiet cycle = %d, want 0", tr.FailCount())
	}
	if got := tr.PnL(); len(got) != 1 {
		t.Fatalf("pnl after quiet cycle = %v, want one trade", got)
	}

	tr.Record(false, 0)
	tr.Record(false, 0)
	tr.Record(false, 0)
	if !tr.Disabled() {
		t.Fatal("three straight failures should disable")
	}
	if reg.Value("strategy_prunes_total") != 1 {
		t.Fatalf("strategy_prunes_total = %v", reg.Value("strategy_prunes_total"))
	}
	if reg.Value("fails_total") != 6 {
		t.Fatalf("fails_total = %v", reg.Value("fails_total"))
	}

	entries, err := oplog.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Event != "auto_prune" || e.StrategyID != "spread_eth_usdc" || e.RiskLevel != "high" {
		t.Fatalf("entry = %+v", e)
	}
	if e.Extra["reason"] != "fail_threshold" || e.Extra["fail_count"] != float64(3) {
		t.Fatalf("extra = %v", e.Extra)
	}

	// results after disable are dropped
	tr.Record(true, 100)
	if got := tr.PnL(); len(got) != 1 || got[0] != 5.5 {
		t.Fatalf("pnl = %v, want [5.5]", got)
	}
}

func TestTrackerLimitFromEnv(t *testing.T) {
	t.Setenv(EnvPruneEpochs, "2")
	tr, _, _ := newTestTracker(t)
	tr.Record(false, 0)
	tr.Record(false, 0)
	if !tr.Disabled() {
		t.Fatal("env limit of 2 should disable after two failures")
	}
}
