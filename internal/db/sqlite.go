// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"fmt"
	"time"

	"github.com/mevog/warden/internal/model"
	"github.com/uptrace/bun"
)

// SqliteStore is the SQLite implementation of the Store interface. It is the
// default backend; a single .db file next to the working tree survives a full
// host rebuild inside a recovery archive.
type SqliteStore struct {
	bun *bun.DB
}

// BunDB returns the underlying Bun handle.
func (s *SqliteStore) BunDB() *bun.DB { return s.bun }

// GetAllStrategies retrieves every registered strategy.
func (s *SqliteStore) GetAllStrategies() ([]model.Strategy, error) {
	return GetAllStrategiesBun(s.bun)
}

// GetStrategy retrieves a single strategy by id.
func (s *SqliteStore) GetStrategy(id string) (*model.Strategy, error) {
	return GetStrategyBun(s.bun, id)
}

// GetActiveStrategies retrieves strategies eligible for the orchestrator.
func (s *SqliteStore) GetActiveStrategies() ([]model.Strategy, error) {
	return GetActiveStrategiesBun(s.bun)
}

// UpsertStrategy inserts or updates a strategy record.
func (s *SqliteStore) UpsertStrategy(st model.Strategy) error {
	err := UpsertStrategyBun(s.bun, st)
	if err == nil {
		_ = s.LogAction("UPSERT_STRATEGY", fmt.Sprintf("strategy: %s, status: %s", st.ID, st.Status))
	}
	return err
}

// UpdateStrategyStatus moves a strategy to a new lifecycle status.
func (s *SqliteStore) UpdateStrategyStatus(id string, status model.StrategyStatus) error {
	err := UpdateStrategyStatusBun(s.bun, id, status)
	if err == nil {
		_ = s.LogAction("UPDATE_STRATEGY_STATUS", fmt.Sprintf("strategy: %s, new_status: %s", id, status))
	}
	return err
}

// DeleteStrategy removes a strategy record.
func (s *SqliteStore) DeleteStrategy(id string) error {
	err := DeleteStrategyBun(s.bun, id)
	if err == nil {
		_ = s.LogAction("DELETE_STRATEGY", fmt.Sprintf("strategy: %s", id))
	}
	return err
}

// CreateProposal files a new proposal.
func (s *SqliteStore) CreateProposal(p model.Proposal) error {
	err := CreateProposalBun(s.bun, p)
	if err == nil {
		_ = s.LogAction("CREATE_PROPOSAL", fmt.Sprintf("proposal: %s, kind: %s, strategy: %s", p.ID, p.Kind, p.StrategyID))
	}
	return err
}

// GetProposal retrieves a proposal by id.
func (s *SqliteStore) GetProposal(id string) (*model.Proposal, error) {
	return GetProposalBun(s.bun, id)
}

// GetProposalsByStatus retrieves proposals in the given state.
func (s *SqliteStore) GetProposalsByStatus(status model.ProposalStatus) ([]model.Proposal, error) {
	return GetProposalsByStatusBun(s.bun, status)
}

// GetExpiredProposals retrieves pending proposals past their expiry.
func (s *SqliteStore) GetExpiredProposals(now time.Time) ([]model.Proposal, error) {
	return GetExpiredProposalsBun(s.bun, now)
}

// UpdateProposalStatus records a decision for a proposal.
func (s *SqliteStore) UpdateProposalStatus(id string, status model.ProposalStatus, decidedAt time.Time) error {
	err := UpdateProposalStatusBun(s.bun, id, status, decidedAt)
	if err == nil {
		_ = s.LogAction("UPDATE_PROPOSAL_STATUS", fmt.Sprintf("proposal: %s, new_status: %s", id, status))
	}
	return err
}

// AddVote records a ballot.
// Voting is logged at a higher level with the voter identity; no audit entry here.
func (s *SqliteStore) AddVote(v model.Vote) error {
	return AddVoteBun(s.bun, v)
}

// GetVotesForProposal retrieves all ballots on a proposal.
func (s *SqliteStore) GetVotesForProposal(proposalID string) ([]model.Vote, error) {
	return GetVotesForProposalBun(s.bun, proposalID)
}

// CountVotes tallies approvals and rejections.
func (s *SqliteStore) CountVotes(proposalID string) (int, int, error) {
	return CountVotesBun(s.bun, proposalID)
}

// SetAgentState publishes a key/value pair to the shared agent state table.
func (s *SqliteStore) SetAgentState(key, value string) error {
	return SetAgentStateBun(s.bun, key, value)
}

// GetAgentState retrieves one agent state row.
func (s *SqliteStore) GetAgentState(key string) (*model.AgentState, error) {
	return GetAgentStateBun(s.bun, key)
}

// GetAllAgentState retrieves the full agent state table.
func (s *SqliteStore) GetAllAgentState() ([]model.AgentState, error) {
	return GetAllAgentStateBun(s.bun)
}

// GetAllAuditLogEntries retrieves the audit trail, most recent first.
func (s *SqliteStore) GetAllAuditLogEntries() ([]model.AuditLogEntry, error) {
	return GetAllAuditLogEntriesBun(s.bun)
}

// LogAction records an audit trail event.
func (s *SqliteStore) LogAction(action string, details string) error {
	return LogActionBun(s.bun, action, details)
}
