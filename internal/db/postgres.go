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

// PostgresStore is the PostgreSQL implementation of the Store interface.
// All methods delegate to the shared Bun helpers; dialect differences are
// handled by Bun's query formatter.
type PostgresStore struct {
	bun *bun.DB
}

// BunDB returns the underlying Bun handle.
func (s *PostgresStore) BunDB() *bun.DB { return s.bun }

func (s *PostgresStore) GetAllStrategies() ([]model.Strategy, error) {
	return GetAllStrategiesBun(s.bun)
}

func (s *PostgresStore) GetStrategy(id string) (*model.Strategy, error) {
	return GetStrategyBun(s.bun, id)
}

func (s *PostgresStore) GetActiveStrategies() ([]model.Strategy, error) {
	return GetActiveStrategiesBun(s.bun)
}

func (s *PostgresStore) UpsertStrategy(st model.Strategy) error {
	err := UpsertStrategyBun(s.bun, st)
	if err == nil {
		_ = s.LogAction("UPSERT_STRATEGY", fmt.Sprintf("strategy: %s, status: %s", st.ID, st.Status))
	}
	return err
}

func (s *PostgresStore) UpdateStrategyStatus(id string, status model.StrategyStatus) error {
	err := UpdateStrategyStatusBun(s.bun, id, status)
	if err == nil {
		_ = s.LogAction("UPDATE_STRATEGY_STATUS", fmt.Sprintf("strategy: %s, new_status: %s", id, status))
	}
	return err
}

func (s *PostgresStore) DeleteStrategy(id string) error {
	err := DeleteStrategyBun(s.bun, id)
	if err == nil {
		_ = s.LogAction("DELETE_STRATEGY", fmt.Sprintf("strategy: %s", id))
	}
	return err
}

func (s *PostgresStore) CreateProposal(p model.Proposal) error {
	err := CreateProposalBun(s.bun, p)
	if err == nil {
		_ = s.LogAction("CREATE_PROPOSAL", fmt.Sprintf("proposal: %s, kind: %s, strategy: %s", p.ID, p.Kind, p.StrategyID))
	}
	return err
}

func (s *PostgresStore) GetProposal(id string) (*model.Proposal, error) {
	return GetProposalBun(s.bun, id)
}

func (s *PostgresStore) GetProposalsByStatus(status model.ProposalStatus) ([]model.Proposal, error) {
	return GetProposalsByStatusBun(s.bun, status)
}

func (s *PostgresStore) GetExpiredProposals(now time.Time) ([]model.Proposal, error) {
	return GetExpiredProposalsBun(s.bun, now)
}

func (s *PostgresStore) UpdateProposalStatus(id string, status model.ProposalStatus, decidedAt time.Time) error {
	err := UpdateProposalStatusBun(s.bun, id, status, decidedAt)
	if err == nil {
		_ = s.LogAction("UPDATE_PROPOSAL_STATUS", fmt.Sprintf("proposal: %s, new_status: %s", id, status))
	}
	return err
}

func (s *PostgresStore) AddVote(v model.Vote) error {
	return AddVoteBun(s.bun, v)
}

func (s *PostgresStore) GetVotesForProposal(proposalID string) ([]model.Vote, error) {
	return GetVotesForProposalBun(s.bun, proposalID)
}

func (s *PostgresStore) CountVotes(proposalID string) (int, int, error) {
	return CountVotesBun(s.bun, proposalID)
}

func (s *PostgresStore) SetAgentState(key, value string) error {
	return SetAgentStateBun(s.bun, key, value)
}

func (s *PostgresStore) GetAgentState(key string) (*model.AgentState, error) {
	return GetAgentStateBun(s.bun, key)
}

func (s *PostgresStore) GetAllAgentState() ([]model.AgentState, error) {
	return GetAllAgentStateBun(s.bun)
}

func (s *PostgresStore) GetAllAuditLogEntries() ([]model.AuditLogEntry, error) {
	return GetAllAuditLogEntriesBun(s.bun)
}

func (s *PostgresStore) LogAction(action string, details string) error {
	return LogActionBun(s.bun, action, details)
}
