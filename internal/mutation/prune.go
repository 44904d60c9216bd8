// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package mutation

import (
	"fmt"
	"sort"

	"github.com/mevog/warden/internal/model"
	"github.com/mevog/warden/internal/oplog"
	"github.com/mevog/warden/internal/vote"
)

// Prune thresholds: negative pnl or risk past 1.0 flags a strategy.
const (
	PrunePnLFloor    = 0.0
	PruneRiskCeiling = 1.0
)

// PruneInput is the per-strategy evidence a prune pass considers.
type PruneInput struct {
	PnL       float64
	Risk      float64
	ChaosFail bool
	AuditFail bool
}

// PruneAction is one prune decision. When the pruner runs live the action
// carries the proposal id awaiting votes; in sim mode ProposalID is empty
// and the caller disables the strategy directly.
type PruneAction struct {
	StrategyID string
	Reason     string
	ProposalID string
}

// Pruner flags underperforming strategies. Live mode never removes
// anything itself; every removal goes through a prune proposal.
type Pruner struct {
	log    *oplog.Logger
	trail  *Log
	quorum *vote.Quorum
	live   bool
}

// PruneOption configures a Pruner.
type PruneOption func(*Pruner)

// WithPruneLogger sets an explicit logger.
func WithPruneLogger(l *oplog.Logger) PruneOption {
	return func(p *Pruner) { p.log = l }
}

// WithPruneTrail sets the mutation log decisions are recorded in.
func WithPruneTrail(t *Log) PruneOption {
	return func(p *Pruner) { p.trail = t }
}

// WithPruneQuorum wires the voting quorum and switches the pruner live.
func WithPruneQuorum(q *vote.Quorum) PruneOption {
	return func(p *Pruner) {
		p.quorum = q
		p.live = q != nil
	}
}

// NewPruner builds a pruner. Without a quorum it runs in sim mode.
func NewPruner(opts ...PruneOption) *Pruner {
	p := &Pruner{}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = oplog.New("strategy_prune")
	}
	if p.trail == nil {
		p.trail = NewLog()
	}
	return p
}

// reason names the first tripped flag, in severity order.
func reason(in PruneInput) (string, bool) {
	switch {
	case in.ChaosFail:
		return "chaos_fail", true
	case in.AuditFail:
		return "audit_fail", true
	case in.Risk > PruneRiskCeiling:
		return "high_risk", true
	case in.PnL < PrunePnLFloor:
		return "decayed_alpha", true
	}
	return "", false
}

// Prune evaluates every strategy and returns the actions taken, sorted by
// strategy id. Strategies that pass all checks produce no action.
func (p *Pruner) Prune(inputs map[string]PruneInput) ([]PruneAction, error) {
	ids := make([]string, 0, len(inputs))
	for sid := range inputs {
		ids = append(ids, sid)
	}
	sort.Strings(ids)

	var actions []PruneAction
	for _, sid := range ids {
		in := inputs[sid]
		why, flagged := reason(in)
		if !flagged {
			continue
		}
		_ = p.log.Log(oplog.Entry{
			Event:      "prune_flag",
			StrategyID: sid,
			MutationID: CurrentMutationID(),
			RiskLevel:  "high",
			Extra: map[string]any{
				"pnl":        in.PnL,
				"risk":       in.Risk,
				"chaos_fail": in.ChaosFail,
				"audit_fail": in.AuditFail,
			},
		})
		_ = p.trail.Record("prune_strategy", sid,
			map[string]float64{"pnl": in.PnL, "risk": in.Risk}, nil,
			map[string]any{"reason": why})

		action := PruneAction{StrategyID: sid, Reason: why}
		if p.live {
			payload := fmt.Sprintf(`{"reason":%q,"pnl":%g,"risk":%g}`, why, in.PnL, in.Risk)
			prop, err := p.quorum.Propose(model.KindPrune, sid, payload, "mutator", in.Risk)
			if err != nil {
				return actions, fmt.Errorf("file prune proposal for %s: %w", sid, err)
			}
			action.ProposalID = prop.ID
		}
		actions = append(actions, action)
	}
	return actions, nil
}
