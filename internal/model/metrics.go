// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package model

import "time"

// StrategyMetrics is the rolling performance record used for scoring,
// pruning and mutation decisions. Values come from the strategy's own
// telemetry plus the drill and audit flags attached by the control plane.
type StrategyMetrics struct {
	StrategyID         string  `json:"strategy_id"`
	PnL                float64 `json:"pnl"`
	Sharpe             float64 `json:"sharpe"`
	WinRate            float64 `json:"win_rate"`
	Risk               float64 `json:"risk"`
	Volatility         float64 `json:"volatility"`
	LatencyMS          float64 `json:"latency_ms"`
	OpportunityDensity float64 `json:"opportunity_density"`
	ChaosFail          bool    `json:"chaos_fail"`
	AuditFail          bool    `json:"audit_fail"`
	RecordedAt         time.Time `json:"recorded_at"`
}

// ScoreRow is one ranked scoreboard line.
type ScoreRow struct {
	StrategyID string  `json:"strategy_id"`
	Score      float64 `json:"score"`
	Decayed    bool    `json:"decayed"`
	Rank       int     `json:"rank"`
}

// GateState is the traffic-light result of a single operational gate check.
type GateState struct {
	Name   string `json:"name"`
	Green  bool   `json:"green"`
	Detail string `json:"detail,omitempty"`
}

// GateReport aggregates every gate; AllGreen is the go/no-go answer.
type GateReport struct {
	CheckedAt time.Time   `json:"checked_at"`
	Gates     []GateState `json:"gates"`
	AllGreen  bool        `json:"all_green"`
}

// FirstRed returns the first failing gate, or nil when all are green.
func (r GateReport) FirstRed() *GateState {
	for i := range r.Gates {
		if !r.Gates[i].Green {
			return &r.Gates[i]
		}
	}
	return nil
}
