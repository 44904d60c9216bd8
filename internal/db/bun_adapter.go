// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os/user"
	"strings"
	"time"

	"github.com/mevog/warden/internal/model"
	"github.com/uptrace/bun"
)

// StrategyModel maps the strategies table.
type StrategyModel struct {
	bun.BaseModel `bun:"table:strategies"`
	ID            string     `bun:"id,pk"`
	Name          string     `bun:"name"`
	EdgeType      string     `bun:"edge_type"`
	Status        string     `bun:"status"`
	TTLHours      int        `bun:"ttl_hours"`
	Params        string     `bun:"params"`
	PromotedAt    *time.Time `bun:"promoted_at"`
	CreatedAt     time.Time  `bun:"created_at"`
}

// ProposalModel maps the proposals table.
type ProposalModel struct {
	bun.BaseModel `bun:"table:proposals"`
	ID            string     `bun:"id,pk"`
	Kind          string     `bun:"kind"`
	StrategyID    string     `bun:"strategy_id"`
	Proposer      string     `bun:"proposer"`
	Payload       string     `bun:"payload"`
	Risk          float64    `bun:"risk"`
	Status        string     `bun:"status"`
	Quorum        int        `bun:"quorum"`
	Threshold     float64    `bun:"threshold"`
	CreatedAt     time.Time  `bun:"created_at"`
	ExpiresAt     time.Time  `bun:"expires_at"`
	DecidedAt     *time.Time `bun:"decided_at"`
}

// VoteModel maps the votes table. The (proposal_id, voter) pair is unique.
type VoteModel struct {
	bun.BaseModel `bun:"table:votes"`
	ID            int       `bun:"id,pk,autoincrement"`
	ProposalID    string    `bun:"proposal_id"`
	Voter         string    `bun:"voter"`
	Approve       bool      `bun:"approve"`
	Reason        string    `bun:"reason"`
	Signature     string    `bun:"signature"`
	CreatedAt     time.Time `bun:"created_at"`
}

// AgentStateModel maps the agent_state table. The column is called "name"
// rather than "key" because KEY is reserved in MySQL.
type AgentStateModel struct {
	bun.BaseModel `bun:"table:agent_state"`
	Name          string    `bun:"name,pk"`
	Value         string    `bun:"value"`
	UpdatedAt     time.Time `bun:"updated_at"`
}

// AuditLogModel maps the audit_log table.
type AuditLogModel struct {
	bun.BaseModel `bun:"table:audit_log"`
	ID            int    `bun:"id,pk,autoincrement"`
	Timestamp     string `bun:"timestamp"`
	Username      string `bun:"username"`
	Action        string `bun:"action"`
	Details       string `bun:"details"`
}

func marshalParams(params map[string]float64) string {
	if len(params) == 0 {
		return "{}"
	}
	b, err := json.Marshal(params)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func unmarshalParams(s string) map[string]float64 {
	out := map[string]float64{}
	if s == "" {
		return out
	}
	_ = json.Unmarshal([]byte(s), &out)
	return out
}

func strategyModelToModel(m StrategyModel) model.Strategy {
	return model.Strategy{
		ID:         m.ID,
		Name:       m.Name,
		EdgeType:   m.EdgeType,
		Status:     model.StrategyStatus(m.Status),
		TTLHours:   m.TTLHours,
		Params:     unmarshalParams(m.Params),
		PromotedAt: m.PromotedAt,
		CreatedAt:  m.CreatedAt,
	}
}

func strategyModelFromModel(s model.Strategy) StrategyModel {
	return StrategyModel{
		ID:         s.ID,
		Name:       s.Name,
		EdgeType:   s.EdgeType,
		Status:     string(s.Status),
		TTLHours:   s.TTLHours,
		Params:     marshalParams(s.Params),
		PromotedAt: s.PromotedAt,
		CreatedAt:  s.CreatedAt,
	}
}

func proposalModelToModel(m ProposalModel) model.Proposal {
	return model.Proposal{
		ID:         m.ID,
		Kind:       model.ProposalKind(m.Kind),
		StrategyID: m.StrategyID,
		Proposer:   m.Proposer,
		Payload:    m.Payload,
		Risk:       m.Risk,
		Status:     model.ProposalStatus(m.Status),
		Quorum:     m.Quorum,
		Threshold:  m.Threshold,
		CreatedAt:  m.CreatedAt,
		ExpiresAt:  m.ExpiresAt,
		DecidedAt:  m.DecidedAt,
	}
}

func proposalModelFromModel(p model.Proposal) ProposalModel {
	return ProposalModel{
		ID:         p.ID,
		Kind:       string(p.Kind),
		StrategyID: p.StrategyID,
		Proposer:   p.Proposer,
		Payload:    p.Payload,
		Risk:       p.Risk,
		Status:     string(p.Status),
		Quorum:     p.Quorum,
		Threshold:  p.Threshold,
		CreatedAt:  p.CreatedAt,
		ExpiresAt:  p.ExpiresAt,
		DecidedAt:  p.DecidedAt,
	}
}

func voteModelToModel(m VoteModel) model.Vote {
	return model.Vote{
		ID:         m.ID,
		ProposalID: m.ProposalID,
		Voter:      m.Voter,
		Approve:    m.Approve,
		Reason:     m.Reason,
		Signature:  m.Signature,
		CreatedAt:  m.CreatedAt,
	}
}

// GetAllStrategiesBun returns every strategy, newest registration first.
func GetAllStrategiesBun(bdb *bun.DB) ([]model.Strategy, error) {
	ctx := context.Background()
	var sm []StrategyModel
	if err := bdb.NewSelect().Model(&sm).OrderExpr("created_at DESC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.Strategy, 0, len(sm))
	for _, m := range sm {
		out = append(out, strategyModelToModel(m))
	}
	return out, nil
}

// GetStrategyBun returns the strategy with the given id, or nil when absent.
func GetStrategyBun(bdb *bun.DB, id string) (*model.Strategy, error) {
	ctx := context.Background()
	var m StrategyModel
	err := bdb.NewSelect().Model(&m).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	s := strategyModelToModel(m)
	return &s, nil
}

// GetActiveStrategiesBun returns strategies with status "active".
func GetActiveStrategiesBun(bdb *bun.DB) ([]model.Strategy, error) {
	ctx := context.Background()
	var sm []StrategyModel
	if err := bdb.NewSelect().Model(&sm).Where("status = ?", string(model.StrategyActive)).OrderExpr("id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.Strategy, 0, len(sm))
	for _, m := range sm {
		out = append(out, strategyModelToModel(m))
	}
	return out, nil
}

// UpsertStrategyBun inserts the strategy or updates the existing row within a
// single transaction. Implemented as update-then-insert to stay portable
// across all three dialects.
func UpsertStrategyBun(bdb *bun.DB, s model.Strategy) error {
	ctx := context.Background()
	m := strategyModelFromModel(s)

	tx, err := bdb.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.NewUpdate().Model(&m).
		Column("name", "edge_type", "status", "ttl_hours", "params", "promoted_at").
		Where("id = ?", m.ID).
		Exec(ctx)
	if err != nil {
		return MapDBError(err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		if _, err := tx.NewInsert().Model(&m).Exec(ctx); err != nil {
			return MapDBError(err)
		}
	}
	return tx.Commit()
}

// UpdateStrategyStatusBun moves the strategy to a new status, stamping
// promoted_at when the new status is active.
func UpdateStrategyStatusBun(bdb *bun.DB, id string, status model.StrategyStatus) error {
	ctx := context.Background()
	if status == model.StrategyActive {
		now := time.Now().UTC()
		_, err := ExecRaw(ctx, bdb, "UPDATE strategies SET status = ?, promoted_at = ? WHERE id = ?", string(status), now, id)
		return MapDBError(err)
	}
	_, err := ExecRaw(ctx, bdb, "UPDATE strategies SET status = ? WHERE id = ?", string(status), id)
	return MapDBError(err)
}

// DeleteStrategyBun removes the strategy row.
func DeleteStrategyBun(bdb *bun.DB, id string) error {
	ctx := context.Background()
	_, err := bdb.NewDelete().Model((*StrategyModel)(nil)).Where("id = ?", id).Exec(ctx)
	return MapDBError(err)
}

// CreateProposalBun files a proposal. A duplicate id maps to ErrDuplicate.
func CreateProposalBun(bdb *bun.DB, p model.Proposal) error {
	ctx := context.Background()
	m := proposalModelFromModel(p)
	_, err := bdb.NewInsert().Model(&m).Exec(ctx)
	return MapDBError(err)
}

// GetProposalBun returns the proposal with the given id, or nil when absent.
func GetProposalBun(bdb *bun.DB, id string) (*model.Proposal, error) {
	ctx := context.Background()
	var m ProposalModel
	err := bdb.NewSelect().Model(&m).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	p := proposalModelToModel(m)
	return &p, nil
}

// GetProposalsByStatusBun returns proposals in the given state, newest first.
func GetProposalsByStatusBun(bdb *bun.DB, status model.ProposalStatus) ([]model.Proposal, error) {
	ctx := context.Background()
	var pm []ProposalModel
	if err := bdb.NewSelect().Model(&pm).Where("status = ?", string(status)).OrderExpr("created_at DESC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.Proposal, 0, len(pm))
	for _, m := range pm {
		out = append(out, proposalModelToModel(m))
	}
	return out, nil
}

// GetExpiredProposalsBun returns pending proposals whose expiry has passed.
func GetExpiredProposalsBun(bdb *bun.DB, now time.Time) ([]model.Proposal, error) {
	ctx := context.Background()
	var pm []ProposalModel
	err := bdb.NewSelect().Model(&pm).
		Where("status = ?", string(model.ProposalPending)).
		Where("expires_at < ?", now).
		OrderExpr("expires_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Proposal, 0, len(pm))
	for _, m := range pm {
		out = append(out, proposalModelToModel(m))
	}
	return out, nil
}

// UpdateProposalStatusBun records a decision. Pending is the only legal source
// state for a terminal transition, so the WHERE clause guards against races
// between concurrent deciders.
func UpdateProposalStatusBun(bdb *bun.DB, id string, status model.ProposalStatus, decidedAt time.Time) error {
	ctx := context.Background()
	if !status.Decided() {
		_, err := ExecRaw(ctx, bdb, "UPDATE proposals SET status = ? WHERE id = ?", string(status), id)
		return MapDBError(err)
	}
	// Executed follows approved; every other terminal state follows pending.
	from := string(model.ProposalPending)
	if status == model.ProposalExecuted {
		from = string(model.ProposalApproved)
	}
	res, err := ExecRaw(ctx, bdb, "UPDATE proposals SET status = ?, decided_at = ? WHERE id = ? AND status = ?", string(status), decidedAt, id, from)
	if err != nil {
		return MapDBError(err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("proposal %s: no transition from %s to %s: %w", id, from, status, ErrNotFound)
	}
	return nil
}

// AddVoteBun records a ballot. The unique (proposal_id, voter) constraint
// maps double votes to ErrDuplicate.
func AddVoteBun(bdb *bun.DB, v model.Vote) error {
	ctx := context.Background()
	m := VoteModel{
		ProposalID: v.ProposalID,
		Voter:      v.Voter,
		Approve:    v.Approve,
		Reason:     v.Reason,
		Signature:  v.Signature,
		CreatedAt:  v.CreatedAt,
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := bdb.NewInsert().Model(&m).Exec(ctx)
	return MapDBError(err)
}

// GetVotesForProposalBun returns all ballots on a proposal in cast order.
func GetVotesForProposalBun(bdb *bun.DB, proposalID string) ([]model.Vote, error) {
	ctx := context.Background()
	var vm []VoteModel
	if err := bdb.NewSelect().Model(&vm).Where("proposal_id = ?", proposalID).OrderExpr("id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.Vote, 0, len(vm))
	for _, m := range vm {
		out = append(out, voteModelToModel(m))
	}
	return out, nil
}

// CountVotesBun tallies approvals and rejections for a proposal.
func CountVotesBun(bdb *bun.DB, proposalID string) (int, int, error) {
	ctx := context.Background()
	approvals, err := bdb.NewSelect().Model((*VoteModel)(nil)).
		Where("proposal_id = ?", proposalID).
		Where("approve = ?", true).
		Count(ctx)
	if err != nil {
		return 0, 0, err
	}
	rejections, err := bdb.NewSelect().Model((*VoteModel)(nil)).
		Where("proposal_id = ?", proposalID).
		Where("approve = ?", false).
		Count(ctx)
	if err != nil {
		return 0, 0, err
	}
	return approvals, rejections, nil
}

// SetAgentStateBun publishes a key/value pair, replacing any previous value.
func SetAgentStateBun(bdb *bun.DB, key, value string) error {
	ctx := context.Background()
	now := time.Now().UTC()

	tx, err := bdb.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := ExecRaw(ctx, tx, "UPDATE agent_state SET value = ?, updated_at = ? WHERE name = ?", value, now, key)
	if err != nil {
		return MapDBError(err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		m := AgentStateModel{Name: key, Value: value, UpdatedAt: now}
		if _, err := tx.NewInsert().Model(&m).Exec(ctx); err != nil {
			return MapDBError(err)
		}
	}
	return tx.Commit()
}

// GetAgentStateBun returns one agent state row, or nil when unset.
func GetAgentStateBun(bdb *bun.DB, key string) (*model.AgentState, error) {
	ctx := context.Background()
	var m AgentStateModel
	err := bdb.NewSelect().Model(&m).Where("name = ?", key).Limit(1).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &model.AgentState{Key: m.Name, Value: m.Value, UpdatedAt: m.UpdatedAt}, nil
}

// GetAllAgentStateBun returns the full agent state table sorted by key.
func GetAllAgentStateBun(bdb *bun.DB) ([]model.AgentState, error) {
	ctx := context.Background()
	var am []AgentStateModel
	if err := bdb.NewSelect().Model(&am).OrderExpr("name ASC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.AgentState, 0, len(am))
	for _, m := range am {
		out = append(out, model.AgentState{Key: m.Name, Value: m.Value, UpdatedAt: m.UpdatedAt})
	}
	return out, nil
}

// GetAllAuditLogEntriesBun returns the audit trail, most recent first.
func GetAllAuditLogEntriesBun(bdb *bun.DB) ([]model.AuditLogEntry, error) {
	ctx := context.Background()
	var am []AuditLogModel
	if err := bdb.NewSelect().Model(&am).OrderExpr("timestamp DESC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.AuditLogEntry, 0, len(am))
	for _, a := range am {
		out = append(out, model.AuditLogEntry{ID: a.ID, Timestamp: a.Timestamp, Username: a.Username, Action: a.Action, Details: a.Details})
	}
	return out, nil
}

// LogActionBun records an audit trail event attributed to the current OS user.
func LogActionBun(bdb *bun.DB, action string, details string) error {
	ctx := context.Background()
	curUser, err := user.Current()
	username := "unknown"
	if err == nil {
		if parts := strings.Split(curUser.Username, `\`); len(parts) > 1 {
			username = parts[1]
		} else {
			username = curUser.Username
		}
	}
	_, err = ExecRaw(ctx, bdb, "INSERT INTO audit_log (username, action, details) VALUES (?, ?, ?)", username, action, details)
	return MapDBError(err)
}
