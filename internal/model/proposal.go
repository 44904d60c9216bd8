// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package model

import (
	"fmt"
	"time"
)

// ProposalStatus tracks a proposal through the quorum state machine.
type ProposalStatus string

const (
	// ProposalPending is open for votes.
	ProposalPending ProposalStatus = "pending"

	// ProposalApproved reached quorum with the approval ratio at or above threshold.
	ProposalApproved ProposalStatus = "approved"

	// ProposalRejected reached quorum with too many rejections.
	ProposalRejected ProposalStatus = "rejected"

	// ProposalExpired passed its expiry before reaching a decision.
	ProposalExpired ProposalStatus = "expired"

	// ProposalExecuted is an approved proposal whose change has been applied.
	ProposalExecuted ProposalStatus = "executed"
)

// Decided reports whether the status is terminal for voting purposes.
func (s ProposalStatus) Decided() bool {
	return s != ProposalPending
}

// ProposalKind names the change a proposal wants to make.
type ProposalKind string

const (
	KindParamMutation ProposalKind = "param_mutation"
	KindPromotion     ProposalKind = "promotion"
	KindDemotion      ProposalKind = "demotion"
	KindCapitalUnlock ProposalKind = "capital_unlock"
	KindPrune         ProposalKind = "prune"
)

// Proposal is a change request that must clear the voting quorum before it
// can be executed. Live-impacting kinds additionally require founder approval
// at execution time.
type Proposal struct {
	ID         string         // First 16 hex chars of the content hash.
	Kind       ProposalKind   // What the proposal wants to change.
	StrategyID string         // Target strategy, empty for system-wide kinds.
	Proposer   string         // Who filed it.
	Payload    string         // JSON-encoded change body.
	Risk       float64        // Proposer-estimated risk score in [0,1].
	Status     ProposalStatus // Current state machine position.
	Quorum     int            // Minimum votes before a decision is possible.
	Threshold  float64        // Approval ratio required, e.g. 0.66.
	CreatedAt  time.Time
	ExpiresAt  time.Time
	DecidedAt  *time.Time // When a terminal status was reached (nil while pending).
}

// String returns the short form used in listings and logs.
func (p Proposal) String() string {
	return fmt.Sprintf("%s %s(%s) %s", p.ID, p.Kind, p.StrategyID, p.Status)
}

// Vote is a single signed ballot on a proposal. One vote per voter per
// proposal is enforced by the store.
type Vote struct {
	ID         int
	ProposalID string
	Voter      string
	Approve    bool
	Reason     string
	Signature  string // HMAC-SHA256 over proposal_id|voter|approve, hex.
	CreatedAt  time.Time
}

// Choice returns the ballot as a log-friendly word.
func (v Vote) Choice() string {
	if v.Approve {
		return "approve"
	}
	return "reject"
}
