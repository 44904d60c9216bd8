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

// MySQLStore is the MySQL/MariaDB implementation of the Store interface.
type MySQLStore struct {
	bun *bun.DB
}

// BunDB returns the underlying Bun handle.
func (s *MySQLStore) BunDB() *bun.DB { return s.bun }

func (s *MySQLStore) GetAllStrategies() ([]model.Strategy, error) {
	return GetAllStrategiesBun(s.bun)
}

func (s *MySQLStore) GetStrategy(id string) (*model.Strategy, error) {
	return GetStrategyBun(s.bun, id)
}

func (s *MySQLStore) GetActiveStrategies() ([]model.Strategy, error) {
	return GetActiveStrategiesBun(s.bun)
}

func (s *MySQLStore) UpsertStrategy(st model.Strategy) error {
	err := UpsertStrategyBun(s.bun, st)
	if err == nil {
		_ = s.LogAction("UPSERT_STRATEGY", fmt.Sprintf("strategy: %s, status: %s", st.ID, st.Status))
	}
	return err
}

func (s *MySQLStore) UpdateStrategyStatus(id string, status model.StrategyStatus) error {
	err := UpdateStrategyStatusBun(s.bun, id, status)
	if err == nil {
		_ = s.LogAction("UPDATE_STRATEGY_STATUS", fmt.Sprintf("strategy: %s, new_status: %s", id, status))
	}
	return err
}

func (s *MySQLStore) DeleteStrategy(id string) error {
	err := DeleteStrategyBun(s.bun, id)
	if err == nil {
		_ = s.LogAction("DELETE_STRATEGY", fmt.Sprintf("strategy: %s", id))
	}
	return err
}

func (s *MySQLStore) CreateProposal(p model.Proposal) error {
	err := CreateProposalBun(s.bun, p)
	if err == nil {
		_ = s.LogAction("CREATE_PROPOSAL", fmt.Sprintf("proposal: %s, kind: %s, strategy: %s", p.ID, p.Kind, p.StrategyID))
	}
	return err
}

func (s *MySQLStore) GetProposal(id string) (*model.Proposal, error) {
	return GetProposalBun(s.bun, id)
}

func (s *MySQLStore) GetProposalsByStatus(status model.ProposalStatus) ([]model.Proposal, error) {
	return GetProposalsByStatusBun(s.bun, status)
}

func (s *MySQLStore) GetExpiredProposals(now time.Time) ([]model.Proposal, error) {
	return GetExpiredProposalsBun(s.bun, now)
}

func (s *MySQLStore) UpdateProposalStatus(id string, status model.ProposalStatus, decidedAt time.Time) error {
	err := UpdateProposalStatusBun(s.bun, id, status, decidedAt)
	if err == nil {
		_ = s.LogAction("UPDATE_PROPOSAL_STATUS", fmt.Sprintf("proposal: %s, new_status: %s", id, status))
	}
	return err
}

func (s *MySQLStore) AddVote(v model.Vote) error {
	return AddVoteBun(s.bun, v)
}

func (s *MySQLStore) GetVotesForProposal(proposalID string) ([]model.Vote, error) {
	return GetVotesForProposalBun(s.bun, proposalID)
}

func (s *MySQLStore) CountVotes(proposalID string) (int, int, error) {
	return CountVotesBun(s.bun, proposalID)
}

func (s *MySQLStore) SetAgentState(key, value string) error {
	return SetAgentStateBun(s.bun, key, value)
}

func (s *MySQLStore) GetAgentState(key string) (*model.AgentState, error) {
	return GetAgentStateBun(s.bun, key)
}

func (s *MySQLStore) GetAllAgentState() ([]model.AgentState, error) {
	return GetAllAgentStateBun(s.bun)
}

func (s *MySQLStore) GetAllAuditLogEntries() ([]model.AuditLogEntry, error) {
	return GetAllAuditLogEntriesBun(s.bun)
}

func (s *MySQLStore) LogAction(action string, details string) error {
	return LogActionBun(s.bun, action, details)
}
