// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

// package model defines the core data structures shared across the control
// plane: strategies, proposals and votes, audit entries, and gate reports.
package model // import "github.com/mevog/warden/internal/model"

import (
	"fmt"
	"time"
)

// StrategyStatus represents where a strategy sits in its lifecycle.
type StrategyStatus string

const (
	// StrategyCandidate is a bundle under strategies/ that has never been promoted.
	StrategyCandidate StrategyStatus = "candidate"

	// StrategyActive is a promoted bundle under active/ eligible for the orchestrator.
	StrategyActive StrategyStatus = "active"

	// StrategyDisabled is parked by TTL expiry or an operator without deleting state.
	StrategyDisabled StrategyStatus = "disabled"

	// StrategyPruned was removed by the pruner for sustained losses or risk.
	StrategyPruned StrategyStatus = "pruned"
)

// Strategy is the registry record for one trading strategy bundle.
type Strategy struct {
	ID         string             // Stable identifier, matches the bundle directory name.
	Name       string             // Human-readable name from the manifest.
	EdgeType   string             // The edge class the strategy trades (e.g. cross_domain_arb).
	Status     StrategyStatus     // Current lifecycle status.
	TTLHours   int                // Edge decay budget from the manifest; 0 means no TTL.
	Params     map[string]float64 // Tunable parameters, mutated only through proposals.
	PromotedAt *time.Time         // When the bundle was last promoted (nil if never).
	CreatedAt  time.Time          // First registration time.
}

// String returns the id plus status, the form used in logs and listings.
func (s Strategy) String() string {
	return fmt.Sprintf("%s[%s]", s.ID, s.Status)
}

// Expired reports whether the strategy's TTL has run out relative to now.
// Strategies without a TTL or without a promotion timestamp never expire.
func (s Strategy) Expired(now time.Time) bool {
	if s.TTLHours <= 0 || s.PromotedAt == nil {
		return false
	}
	return now.After(s.PromotedAt.Add(time.Duration(s.TTLHours) * time.Hour))
}

// AuditLogEntry represents a single, timestamped record of a CLI action.
type AuditLogEntry struct {
	ID        int
	Timestamp string
	Username  string
	Action    string
	Details   string
}

// AgentState is one row of the shared agent key/value store. Agents use it to
// publish status (capital lock, ops pause reason) visible to the gatekeeper.
type AgentState struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}
