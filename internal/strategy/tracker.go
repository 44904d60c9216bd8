// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package strategy

import (
	"os"
	"strconv"
	"sync"

	"github.com/mevog/warden/internal/metrics"
	"github.com/mevog/warden/internal/oplog"
)

// EnvPruneEpochs overrides the consecutive-failure allowance.
const EnvPruneEpochs = "PRUNE_EPOCHS"

// DefaultPruneEpochs disables a strategy after five straight failures.
const DefaultPruneEpochs = 5

// Tracker follows one strategy's results and disables it after too many
// consecutive failures. A success resets the streak.
type Tracker struct {
	mu       sync.Mutex
	id       string
	limit    int
	fails    int
	pnl      []float64
	disabled bool
	log      *oplog.Logger
	reg      *metrics.Registry
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithTrackerLimit overrides the failure allowance.
func WithTrackerLimit(n int) TrackerOption {
	return func(t *Tracker) { t.limit = n }
}

// WithTrackerLogger sets an explicit logger.
func WithTrackerLogger(l *oplog.Logger) TrackerOption {
	return func(t *Tracker) { t.log = l }
}

// WithTrackerMetrics sets the registry failure counters land in.
func WithTrackerMetrics(r *metrics.Registry) TrackerOption {
	return func(t *Tracker) { t.reg = r }
}

// NewTracker builds a tracker for the strategy id.
func NewTracker(id string, opts ...TrackerOption) *Tracker {
	t := &Tracker{id: id, limit: DefaultPruneEpochs}
	if v := os.Getenv(EnvPruneEpochs); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			t.limit = n
		}
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.log == nil {
		t.log = oplog.New("strategy_tracker")
	}
	if t.reg == nil {
		t.reg = metrics.Default()
	}
	return t
}

// Record applies one cycle result. Results arriving after the tracker
// disabled itself are dropped.
func (t *Tracker) Record(success bool, pnl float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disabled {
		return
	}
	if success {
		t.pnl = append(t.pnl, pnl)
		t.fails = 0
		return
	}
	t.fails++
	t.reg.Inc("fails_total")
	if t.fails >= t.limit {
		t.disabled = true
		t.reg.Inc("strategy_prunes_total")
		_ = t.log.Log(oplog.Entry{
			Event:      "auto_prune",
			StrategyID: t.id,
			RiskLevel:  "high",
			Extra: map[string]any{
				"reason":     "fail_threshold",
				"fail_count": t.fails,
			},
		})
	}
}

// Healthy clears the failure streak without recording a trade. A cycle
// that found nothing to do is still a working cycle.
func (t *Tracker) Healthy() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disabled {
		return
	}
	t.fails = 0
}

// Disabled reports whether the failure threshold tripped.
func (t *Tracker) Disabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disabled
}

// FailCount returns the current failure streak.
func (t *Tracker) FailCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fails
}

// PnL returns a copy of the recorded per-trade results.
func (t *Tracker) PnL() []float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]float64, len(t.pnl))
	copy(out, t.pnl)
	return out
}
