// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package agents

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mevog/warden/internal/db"
	"github.com/mevog/warden/internal/drp"
	"github.com/mevog/warden/internal/killswitch"
	"github.com/mevog/warden/internal/model"
	"github.com/mevog/warden/internal/oplog"
)

// DefaultMaxExportAge is how stale the newest DRP archive may be before the
// freshness gate goes red. Two agent cycles of headroom.
const DefaultMaxExportAge = 12 * time.Hour

// criticalRisk is the proposer risk score at or above which a pending
// proposal blocks the proposals gate.
const criticalRisk = 0.7

// Gate is one named go/no-go signal with an operator-readable detail.
type Gate struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Gatekeeper aggregates the individual agent gates into a single answer to
// "may the system trade right now". Agents are optional; when one is not
// wired in, the gatekeeper falls back to the state it published through the
// registry, so a short-lived `warden gates` process judges the same facts
// as the long-running orchestrator.
type Gatekeeper struct {
	root         string
	kill         *killswitch.Switch
	lock         *CapitalLock
	ops          *OpsAgent
	drpAgent     *drp.Agent
	registry     *Registry
	maxExportAge time.Duration
	log          *oplog.Logger
}

// GatekeeperOption configures a Gatekeeper.
type GatekeeperOption func(*Gatekeeper)

// WithKillSwitch sets the kill switch consulted by the first gate.
func WithKillSwitch(s *killswitch.Switch) GatekeeperOption {
	return func(g *Gatekeeper) { g.kill = s }
}

// WithCapitalLock wires a live capital lock instead of the registry value.
func WithCapitalLock(l *CapitalLock) GatekeeperOption {
	return func(g *Gatekeeper) { g.lock = l }
}

// WithOpsAgent wires a live ops agent instead of the registry value.
func WithOpsAgent(a *OpsAgent) GatekeeperOption {
	return func(g *Gatekeeper) { g.ops = a }
}

// WithDRPAgent wires a live DRP agent for the freshness gate.
func WithDRPAgent(a *drp.Agent) GatekeeperOption {
	return func(g *Gatekeeper) { g.drpAgent = a }
}

// WithGatekeeperRegistry sets the fallback registry.
func WithGatekeeperRegistry(r *Registry) GatekeeperOption {
	return func(g *Gatekeeper) { g.registry = r }
}

// WithMaxExportAge overrides the DRP freshness bound.
func WithMaxExportAge(d time.Duration) GatekeeperOption {
	return func(g *Gatekeeper) { g.maxExportAge = d }
}

// WithGatekeeperLogger sets an explicit logger.
func WithGatekeeperLogger(l *oplog.Logger) GatekeeperOption {
	return func(g *Gatekeeper) { g.log = l }
}

// NewGatekeeper builds a gatekeeper rooted at the warden data directory.
func NewGatekeeper(root string, opts ...GatekeeperOption) *Gatekeeper {
	g := &Gatekeeper{
		root:         root,
		maxExportAge: DefaultMaxExportAge,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.kill == nil {
		g.kill = killswitch.New(root)
	}
	if g.registry == nil {
		g.registry = DefaultRegistry()
	}
	if g.log == nil {
		g.log = oplog.New("gatekeeper")
	}
	return g
}

// Gates evaluates every gate and returns them in a fixed order.
func (g *Gatekeeper) Gates() []Gate {
	return []Gate{
		g.killGate(),
		g.capitalGate(),
		g.opsGate(),
		g.drpGate(),
		g.proposalsGate(),
	}
}

// GatesGreen reports whether every gate allows execution, logging each red
// gate the way the agents it fronts would.
func (g *Gatekeeper) GatesGreen() bool {
	green := true
	for _, gate := range g.Gates() {
		if gate.OK {
			continue
		}
		green = false
		_ = g.log.Log(oplog.Entry{
			Event:     gateEvent(gate.Name),
			RiskLevel: "high",
			Extra:     map[string]any{"detail": gate.Detail},
		})
	}
	if green {
		_ = g.log.Log(oplog.Entry{Event: "all_green", RiskLevel: "low"})
	}
	return green
}

func gateEvent(name string) string {
	switch name {
	case "kill_switch":
		return "kill_switch"
	case "capital_lock":
		return "capital_lock"
	case "ops_pause":
		return "ops_paused"
	case "drp_fresh":
		return "drp_not_ready"
	default:
		return "critical_proposals"
	}
}

func (g *Gatekeeper) killGate() Gate {
	if g.kill.Engaged() {
		return Gate{Name: "kill_switch", OK: false, Detail: "kill switch engaged"}
	}
	return Gate{Name: "kill_switch", OK: true}
}

func (g *Gatekeeper) capitalGate() Gate {
	locked := false
	if g.lock != nil {
		locked = !g.lock.TradeAllowed()
	} else {
		locked = g.registry.GetBool(KeyCapitalLocked, false)
	}
	if locked {
		return Gate{Name: "capital_lock", OK: false, Detail: "capital lock engaged"}
	}
	return Gate{Name: "capital_lock", OK: true}
}

func (g *Gatekeeper) opsGate() Gate {
	paused := false
	switch {
	case g.ops != nil:
		paused = g.ops.Paused()
	default:
		paused = g.registry.GetBool(KeyOpsPaused, false)
		if !paused {
			// A flag file left by a dead agent still counts.
			if _, err := os.Stat(filepath.Join(g.root, filepath.FromSlash(PauseFlagName))); err == nil {
				paused = true
			}
		}
	}
	if paused {
		return Gate{Name: "ops_pause", OK: false, Detail: "ops agent paused trading"}
	}
	return Gate{Name: "ops_pause", OK: true}
}

func (g *Gatekeeper) drpGate() Gate {
	if g.drpAgent == nil {
		if !g.registry.GetBool(KeyDRPReady, true) {
			return Gate{Name: "drp_fresh", OK: false, Detail: "last export reported failed"}
		}
		return Gate{Name: "drp_fresh", OK: true, Detail: "from registry"}
	}
	h := g.drpAgent.Health()
	if h.ArchiveCount == 0 {
		return Gate{Name: "drp_fresh", OK: false, Detail: "no recovery archives exist"}
	}
	if h.LastExportAge > g.maxExportAge {
		return Gate{
			Name:   "drp_fresh",
			OK:     false,
			Detail: fmt.Sprintf("newest archive is %s old (max %s)", h.LastExportAge.Round(time.Minute), g.maxExportAge),
		}
	}
	return Gate{Name: "drp_fresh", OK: true, Detail: fmt.Sprintf("newest archive %s old", h.LastExportAge.Round(time.Minute))}
}

// proposalsGate goes red while destructive or high-risk proposals are open.
// Trading through a pending capital unlock or prune invites races between
// the vote outcome and the positions it was meant to govern.
func (g *Gatekeeper) proposalsGate() Gate {
	if !db.IsInitialized() {
		return Gate{Name: "proposals", OK: true, Detail: "not checked (no database)"}
	}
	pending, err := db.GetProposalsByStatus(model.ProposalPending)
	if err != nil {
		return Gate{Name: "proposals", OK: false, Detail: fmt.Sprintf("query failed: %v", err)}
	}
	critical := 0
	for _, p := range pending {
		if p.Kind == model.KindCapitalUnlock || p.Kind == model.KindPrune || p.Risk >= criticalRisk {
			critical++
		}
	}
	if critical > 0 {
		return Gate{Name: "proposals", OK: false, Detail: fmt.Sprintf("%d critical proposal(s) open", critical)}
	}
	return Gate{Name: "proposals", OK: true}
}
