// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package model

import (
	"testing"
	"time"
)

// TestStrategyStatusConstants tests the lifecycle status constants.
func TestStrategyStatusConstants(t *testing.T) {
	tests := []struct {
		name  string
		value StrategyStatus
		str   string
	}{
		{"Candidate", StrategyCandidate, "candidate"},
		{"Active", StrategyActive, "active"},
		{"Disabled", StrategyDisabled, "disabled"},
		{"Pruned", StrategyPruned, "pruned"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.value) != tt.str {
				t.Errorf("Expected %s, got %s", tt.str, string(tt.value))
			}
		})
	}
}

func TestStrategyString(t *testing.T) {
	s := Strategy{ID: "cross_domain_arb", Status: StrategyActive}
	if got := s.String(); got != "cross_domain_arb[active]" {
		t.Errorf("unexpected String(): %s", got)
	}
}

func TestStrategyExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	promoted := now.Add(-48 * time.Hour)

	tests := []struct {
		name string
		s    Strategy
		want bool
	}{
		{"no ttl", Strategy{TTLHours: 0, PromotedAt: &promoted}, false},
		{"never promoted", Strategy{TTLHours: 24}, false},
		{"within ttl", Strategy{TTLHours: 72, PromotedAt: &promoted}, false},
		{"past ttl", Strategy{TTLHours: 24, PromotedAt: &promoted}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.s.Expired(now); got != tt.want {
				t.Errorf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProposalStatusDecided(t *testing.T) {
	if ProposalPending.Decided() {
		t.Error("pending must not be decided")
	}
	for _, s := range []ProposalStatus{ProposalApproved, ProposalRejected, ProposalExpired, ProposalExecuted} {
		if !s.Decided() {
			t.Errorf("%s should be decided", s)
		}
	}
}

func TestVoteChoice(t *testing.T) {
	if (Vote{Approve: true}).Choice() != "approve" {
		t.Error("approve vote should read approve")
	}
	if (Vote{}).Choice() != "reject" {
		t.Error("zero vote should read reject")
	}
}

func TestGateReportFirstRed(t *testing.T) {
	r := GateReport{Gates: []GateState{
		{Name: "kill_switch", Green: true},
		{Name: "capital_lock", Green: false, Detail: "locked"},
		{Name: "ops", Green: false},
	}}
	red := r.FirstRed()
	if red == nil || red.Name != "capital_lock" {
		t.Fatalf("expected capital_lock first red, got %+v", red)
	}

	green := GateReport{Gates: []GateState{{Name: "kill_switch", Green: true}}}
	if green.FirstRed() != nil {
		t.Error("expected nil FirstRed for all-green report")
	}
}
