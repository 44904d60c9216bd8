// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/mevog/warden/internal/model"
	_ "modernc.org/sqlite"
)

func newTestDB(t *testing.T) string {
	t.Helper()
	dsn := "file:test_" + t.Name() + "?mode=memory&cache=shared"
	if err := InitDB("sqlite", dsn); err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	return dsn
}

func TestInitDB_Migrations_Applied(t *testing.T) {
	dsn := newTestDB(t)

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("failed to open sql.DB for inspection: %v", err)
	}
	defer func() { _ = sqlDB.Close() }()

	rows, err := sqlDB.Query("PRAGMA table_info(schema_migrations)")
	if err != nil {
		t.Fatalf("failed to query schema_migrations table info: %v", err)
	}
	defer func() { _ = rows.Close() }()

	foundAppliedAt := false
	for rows.Next() {
		var cid int
		var name string
		var typ string
		var notnull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			t.Fatalf("failed scanning pragma row: %v", err)
		}
		if name == "applied_at" {
			foundAppliedAt = true
			break
		}
	}
	if !foundAppliedAt {
		t.Fatalf("expected schema_migrations.applied_at column to exist after migrations")
	}
}

func TestStrategy_UpsertAndLifecycle(t *testing.T) {
	_ = newTestDB(t)

	s := model.Strategy{
		ID:        "cross-arb-v3",
		Name:      "Cross Domain Arb v3",
		EdgeType:  "cross_domain_arb",
		Status:    model.StrategyCandidate,
		TTLHours:  72,
		Params:    map[string]float64{"min_profit_usd": 50, "max_slippage_bps": 30},
		CreatedAt: time.Now().UTC(),
	}
	if err := UpsertStrategy(s); err != nil {
		t.Fatalf("unexpected error upserting strategy: %v", err)
	}

	got, err := GetStrategy("cross-arb-v3")
	if err != nil {
		t.Fatalf("unexpected error fetching strategy: %v", err)
	}
	if got == nil {
		t.Fatal("expected strategy to exist after upsert")
	}
	if got.EdgeType != "cross_domain_arb" || got.TTLHours != 72 {
		t.Errorf("round-trip mismatch: got %+v", got)
	}
	if got.Params["min_profit_usd"] != 50 {
		t.Errorf("expected params to survive round-trip, got %v", got.Params)
	}

	// Second upsert with the same id must update, not duplicate.
	s.Name = "Cross Domain Arb v3 (tuned)"
	if err := UpsertStrategy(s); err != nil {
		t.Fatalf("unexpected error re-upserting strategy: %v", err)
	}
	all, err := GetAllStrategies()
	if err != nil {
		t.Fatalf("unexpected error listing strategies: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 strategy after re-upsert, got %d", len(all))
	}
	if all[0].Name != "Cross Domain Arb v3 (tuned)" {
		t.Errorf("expected updated name, got %q", all[0].Name)
	}

	// Promotion stamps promoted_at and makes the strategy visible to the orchestrator.
	if err := UpdateStrategyStatus("cross-arb-v3", model.StrategyActive); err != nil {
		t.Fatalf("unexpected error promoting strategy: %v", err)
	}
	active, err := GetActiveStrategies()
	if err != nil {
		t.Fatalf("unexpected error listing active strategies: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected 1 active strategy, got %d", len(active))
	}
	if active[0].PromotedAt == nil || active[0].PromotedAt.IsZero() {
		t.Error("expected promoted_at to be stamped on promotion")
	}

	if err := UpdateStrategyStatus("cross-arb-v3", model.StrategyDisabled); err != nil {
		t.Fatalf("unexpected error disabling strategy: %v", err)
	}
	active, err = GetActiveStrategies()
	if err != nil {
		t.Fatalf("unexpected error listing active strategies: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active strategies after disable, got %d", len(active))
	}

	missing, err := GetStrategy("never-registered")
	if err != nil {
		t.Fatalf("unexpected error fetching missing strategy: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for missing strategy")
	}
}

func TestProposal_StateMachine(t *testing.T) {
	_ = newTestDB(t)

	now := time.Now().UTC()
	p := model.Proposal{
		ID:         "a1b2c3d4e5f60718",
		Kind:       model.KindParamMutation,
		StrategyID: "cross-arb-v3",
		Proposer:   "mutator",
		Payload:    `{"param":"min_profit_usd","value":75}`,
		Risk:       0.2,
		Status:     model.ProposalPending,
		Quorum:     2,
		Threshold:  0.66,
		CreatedAt:  now,
		ExpiresAt:  now.Add(24 * time.Hour),
	}
	if err := CreateProposal(p); err != nil {
		t.Fatalf("unexpected error creating proposal: %v", err)
	}
	if err := CreateProposal(p); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for repeated proposal id, got %v", err)
	}

	pending, err := GetProposalsByStatus(model.ProposalPending)
	if err != nil {
		t.Fatalf("unexpected error listing pending proposals: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending proposal, got %d", len(pending))
	}

	decided := now.Add(time.Hour)
	if err := UpdateProposalStatus(p.ID, model.ProposalApproved, decided); err != nil {
		t.Fatalf("unexpected error approving proposal: %v", err)
	}
	got, err := GetProposal(p.ID)
	if err != nil {
		t.Fatalf("unexpected error fetching proposal: %v", err)
	}
	if got == nil || got.Status != model.ProposalApproved {
		t.Fatalf("expected approved proposal, got %+v", got)
	}
	if got.DecidedAt == nil {
		t.Error("expected decided_at to be recorded")
	}

	// A second terminal transition from pending must fail: the row is approved now.
	if err := UpdateProposalStatus(p.ID, model.ProposalRejected, decided); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound re-deciding proposal, got %v", err)
	}

	// Approved to executed is the one legal follow-up transition.
	if err := UpdateProposalStatus(p.ID, model.ProposalExecuted, decided.Add(time.Minute)); err != nil {
		t.Fatalf("unexpected error executing proposal: %v", err)
	}
}

func TestProposal_ExpiredQuery(t *testing.T) {
	_ = newTestDB(t)

	now := time.Now().UTC()
	stale := model.Proposal{
		ID:        "feedfacecafe0001",
		Kind:      model.KindPromotion,
		Proposer:  "ops",
		Status:    model.ProposalPending,
		Quorum:    2,
		Threshold: 0.66,
		CreatedAt: now.Add(-48 * time.Hour),
		ExpiresAt: now.Add(-2 * time.Hour),
	}
	fresh := stale
	fresh.ID = "feedfacecafe0002"
	fresh.CreatedAt = now
	fresh.ExpiresAt = now.Add(24 * time.Hour)

	if err := CreateProposal(stale); err != nil {
		t.Fatalf("unexpected error creating stale proposal: %v", err)
	}
	if err := CreateProposal(fresh); err != nil {
		t.Fatalf("unexpected error creating fresh proposal: %v", err)
	}

	expired, err := GetExpiredProposals(now)
	if err != nil {
		t.Fatalf("unexpected error listing expired proposals: %v", err)
	}
	if len(expired) != 1 {
		t.Fatalf("expected 1 expired proposal, got %d", len(expired))
	}
	if expired[0].ID != stale.ID {
		t.Errorf("expected stale proposal %s, got %s", stale.ID, expired[0].ID)
	}
}

func TestVote_OneBallotPerVoter(t *testing.T) {
	_ = newTestDB(t)

	now := time.Now().UTC()
	p := model.Proposal{
		ID:        "0123456789abcdef",
		Kind:      model.KindPrune,
		Proposer:  "pruner",
		Status:    model.ProposalPending,
		Quorum:    2,
		Threshold: 0.66,
		CreatedAt: now,
		ExpiresAt: now.Add(24 * time.Hour),
	}
	if err := CreateProposal(p); err != nil {
		t.Fatalf("unexpected error creating proposal: %v", err)
	}

	if err := AddVote(model.Vote{ProposalID: p.ID, Voter: "risk_officer", Approve: true, Signature: "aa"}); err != nil {
		t.Fatalf("unexpected error adding first vote: %v", err)
	}
	if err := AddVote(model.Vote{ProposalID: p.ID, Voter: "risk_officer", Approve: false, Signature: "bb"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for double vote, got %v", err)
	}
	if err := AddVote(model.Vote{ProposalID: p.ID, Voter: "ops_lead", Approve: false, Reason: "too risky", Signature: "cc"}); err != nil {
		t.Fatalf("unexpected error adding second voter: %v", err)
	}

	approvals, rejections, err := CountVotes(p.ID)
	if err != nil {
		t.Fatalf("unexpected error counting votes: %v", err)
	}
	if approvals != 1 || rejections != 1 {
		t.Errorf("expected 1 approval and 1 rejection, got %d/%d", approvals, rejections)
	}

	votes, err := GetVotesForProposal(p.ID)
	if err != nil {
		t.Fatalf("unexpected error listing votes: %v", err)
	}
	if len(votes) != 2 {
		t.Fatalf("expected 2 votes, got %d", len(votes))
	}
	if votes[1].Reason != "too risky" {
		t.Errorf("expected reason to survive round-trip, got %q", votes[1].Reason)
	}
}

func TestAgentState_SetAndGet(t *testing.T) {
	_ = newTestDB(t)

	if err := SetAgentState("capital_lock", "locked"); err != nil {
		t.Fatalf("unexpected error setting agent state: %v", err)
	}
	if err := SetAgentState("capital_lock", "unlocked"); err != nil {
		t.Fatalf("unexpected error overwriting agent state: %v", err)
	}
	if err := SetAgentState("ops_pause", "feed_gap"); err != nil {
		t.Fatalf("unexpected error setting second key: %v", err)
	}

	got, err := GetAgentState("capital_lock")
	if err != nil {
		t.Fatalf("unexpected error fetching agent state: %v", err)
	}
	if got == nil || got.Value != "unlocked" {
		t.Fatalf("expected overwritten value, got %+v", got)
	}

	missing, err := GetAgentState("nonexistent")
	if err != nil {
		t.Fatalf("unexpected error fetching missing key: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for unset agent state key")
	}

	all, err := GetAllAgentState()
	if err != nil {
		t.Fatalf("unexpected error listing agent state: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 agent state rows, got %d", len(all))
	}
	if all[0].Key != "capital_lock" {
		t.Errorf("expected rows sorted by key, got %q first", all[0].Key)
	}
}

type fakeAuditWriter struct {
	actions []string
}

func (f *fakeAuditWriter) LogAction(action string, details string) error {
	f.actions = append(f.actions, action)
	return nil
}

func TestLogAction_PrefersInjectedWriter(t *testing.T) {
	_ = newTestDB(t)

	fw := &fakeAuditWriter{}
	SetDefaultAuditWriter(fw)
	defer ClearDefaultAuditWriter()

	if err := LogAction("TEST_ACTION", "detail"); err != nil {
		t.Fatalf("unexpected error logging action: %v", err)
	}
	if len(fw.actions) != 1 || fw.actions[0] != "TEST_ACTION" {
		t.Fatalf("expected injected writer to receive the action, got %v", fw.actions)
	}
}

func TestStoreMutations_WriteAuditTrail(t *testing.T) {
	_ = newTestDB(t)

	s := model.Strategy{ID: "audit-probe", Status: model.StrategyCandidate, CreatedAt: time.Now().UTC()}
	if err := UpsertStrategy(s); err != nil {
		t.Fatalf("unexpected error upserting strategy: %v", err)
	}

	entries, err := GetAllAuditLogEntries()
	if err != nil {
		t.Fatalf("unexpected error reading audit log: %v", err)
	}
	found := false
	for _, e := range entries {
		if e.Action == "UPSERT_STRATEGY" {
			found = true
			break
		}
	}
	if !found {
		t.Error("expected UPSERT_STRATEGY audit entry after mutation")
	}
}
