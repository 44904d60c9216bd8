// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"time"

	"github.com/mevog/warden/internal/model"
	"github.com/uptrace/bun"
)

// Store defines the interface for all database operations. Each supported
// backend (SQLite, PostgreSQL, MySQL) provides an implementation; the rest of
// the control plane talks to this interface and never to a driver directly.
type Store interface {
	// Strategy methods
	GetAllStrategies() ([]model.Strategy, error)
	GetStrategy(id string) (*model.Strategy, error)
	GetActiveStrategies() ([]model.Strategy, error)
	UpsertStrategy(s model.Strategy) error
	UpdateStrategyStatus(id string, status model.StrategyStatus) error
	DeleteStrategy(id string) error

	// Proposal methods
	CreateProposal(p model.Proposal) error
	GetProposal(id string) (*model.Proposal, error)
	GetProposalsByStatus(status model.ProposalStatus) ([]model.Proposal, error)
	GetExpiredProposals(now time.Time) ([]model.Proposal, error)
	UpdateProposalStatus(id string, status model.ProposalStatus, decidedAt time.Time) error

	// Vote methods
	AddVote(v model.Vote) error
	GetVotesForProposal(proposalID string) ([]model.Vote, error)
	CountVotes(proposalID string) (approvals, rejections int, err error)

	// Agent state methods
	SetAgentState(key, value string) error
	GetAgentState(key string) (*model.AgentState, error)
	GetAllAgentState() ([]model.AgentState, error)

	// Audit log methods
	GetAllAuditLogEntries() ([]model.AuditLogEntry, error)
	LogAction(action string, details string) error

	// BunDB exposes the underlying Bun handle so adapters (audit writer,
	// maintenance helpers) can reuse the store's connection pool.
	BunDB() *bun.DB
}
