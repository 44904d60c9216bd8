// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package vote

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mevog/warden/internal/db"
	"github.com/mevog/warden/internal/model"
	"github.com/mevog/warden/internal/oplog"
	"github.com/mevog/warden/internal/security"
)

func newTestQuorum(t *testing.T, opts ...Option) (*Quorum, *time.Time) {
	t.Helper()
	t.Setenv(EnvVoteSecret, "test-vote-secret")
	current := time.Now().UTC()
	all := append([]Option{
		WithVoters("alice", "bob", "carol", "dave"),
		WithLogger(oplog.New("voting", oplog.WithPath(filepath.Join(t.TempDir(), "vote_log.jsonl")))),
		WithClock(func() time.Time { return current }),
	}, opts...)
	q, err := NewQuorum(all...)
	if err != nil {
		t.Fatalf("new quorum: %v", err)
	}
	return q, &current
}

func initVoteDB(t *testing.T) {
	t.Helper()
	dsn := "file:test_" + t.Name() + "?mode=memory&cache=shared"
	if err := db.InitDB("sqlite", dsn); err != nil {
		t.Fatalf("init db: %v", err)
	}
}

func logEvents(t *testing.T, q *Quorum) []string {
	t.Helper()
	entries, err := oplog.ReadFile(q.log.Path())
	if err != nil {
		t.Fatalf("read vote log: %v", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Event)
	}
	return out
}

func TestProposalIDShape(t *testing.T) {
	ts := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	id := ProposalID(model.KindParamMutation, "arb_v2", `{"gas":1.2}`, ts)
	if len(id) != 16 {
		t.Fatalf("expected 16 hex chars, got %q", id)
	}
	if strings.Trim(id, "0123456789abcdef") != "" {
		t.Fatalf("id %q is not lowercase hex", id)
	}
	if id != ProposalID(model.KindParamMutation, "arb_v2", `{"gas":1.2}`, ts) {
		t.Error("same content and time produced different ids")
	}
	if id == ProposalID(model.KindParamMutation, "arb_v2", `{"gas":1.2}`, ts.Add(time.Second)) {
		t.Error("different creation time produced the same id")
	}
}

func TestSignAndVerify(t *testing.T) {
	t.Setenv(EnvVoteSecret, "test-vote-secret")
	secret, err := security.Get(EnvVoteSecret)
	if err != nil {
		t.Fatal(err)
	}
	v := model.Vote{
		ProposalID: "aaaa111122223333",
		Voter:      "alice",
		Approve:    true,
	}
	v.Signature = Sign(secret, v.ProposalID, v.Voter, v.Approve)
	if len(v.Signature) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(v.Signature))
	}
	if err := VerifySignature(v); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}

	flipped := v
	flipped.Approve = false
	if err := VerifySignature(flipped); err == nil {
		t.Fatal("tampered ballot passed verification")
	}

	t.Setenv(EnvVoteSecret, "")
	if err := VerifySignature(v); err == nil {
		t.Fatal("verification succeeded without a secret")
	}
}

func TestQuorumNeedsEnoughVoters(t *testing.T) {
	_, err := NewQuorum(WithVoters("alice", "bob"), WithQuorum(3))
	if err == nil || !strings.Contains(err.Error(), "authorized voters") {
		t.Fatalf("expected voter shortfall error, got %v", err)
	}
}

func TestProposalApproval(t *testing.T) {
	initVoteDB(t)
	q, _ := newTestQuorum(t)

	p, err := q.Propose(model.KindParamMutation, "arb_v2", `{"gas_margin":1.3}`, "alice", 0.4)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if p.Status != model.ProposalPending {
		t.Fatalf("new proposal is %s", p.Status)
	}

	// Refiling the same content in the same second returns the original.
	dup, err := q.Propose(model.KindParamMutation, "arb_v2", `{"gas_margin":1.3}`, "bob", 0.4)
	if err != nil {
		t.Fatalf("duplicate propose: %v", err)
	}
	if dup.ID != p.ID || dup.Proposer != "alice" {
		t.Fatalf("duplicate filing created a new proposal: %+v", dup)
	}

	for _, voter := range []string{"alice", "bob"} {
		got, err := q.Cast(p.ID, voter, true, "")
		if err != nil {
			t.Fatalf("cast %s: %v", voter, err)
		}
		if got.Status != model.ProposalPending {
			t.Fatalf("decided below quorum after %s: %s", voter, got.Status)
		}
	}
	got, err := q.Cast(p.ID, "carol", true, "looks safe")
	if err != nil {
		t.Fatalf("cast carol: %v", err)
	}
	if got.Status != model.ProposalApproved {
		t.Fatalf("expected approved at quorum, got %s", got.Status)
	}
	if got.DecidedAt == nil {
		t.Error("DecidedAt not set on approval")
	}

	votes, err := db.GetVotesForProposal(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(votes) != 3 {
		t.Fatalf("expected 3 ballots, got %d", len(votes))
	}
	for _, v := range votes {
		if err := VerifySignature(v); err != nil {
			t.Errorf("stored ballot failed verification: %v", err)
		}
	}

	events := logEvents(t, q)
	want := []string{"proposal_created", "vote_cast", "vote_cast", "vote_cast", "proposal_approved"}
	if len(events) != len(want) {
		t.Fatalf("expected events %v, got %v", want, events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], events[i])
		}
	}
}

func TestProposalRejection(t *testing.T) {
	initVoteDB(t)
	q, _ := newTestQuorum(t)

	p, err := q.Propose(model.KindPromotion, "arb_v3", `{}`, "alice", 0.8)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := q.Cast(p.ID, "alice", true, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Cast(p.ID, "bob", false, "drawdown too fresh"); err != nil {
		t.Fatal(err)
	}
	got, err := q.Cast(p.ID, "carol", false, "")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.ProposalRejected {
		t.Fatalf("expected rejected at 1/3 approval, got %s", got.Status)
	}

	events := logEvents(t, q)
	if events[len(events)-1] != "proposal_rejected" {
		t.Fatalf("expected proposal_rejected last, got %v", events)
	}
}

func TestDoubleVoteRejected(t *testing.T) {
	initVoteDB(t)
	q, _ := newTestQuorum(t)

	p, err := q.Propose(model.KindParamMutation, "arb_v2", `{"a":1}`, "alice", 0.1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := q.Cast(p.ID, "alice", true, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Cast(p.ID, "alice", false, "changed my mind"); !errors.Is(err, ErrAlreadyVoted) {
		t.Fatalf("expected ErrAlreadyVoted, got %v", err)
	}
}

func TestUnauthorizedNames(t *testing.T) {
	initVoteDB(t)
	q, _ := newTestQuorum(t)

	if _, err := q.Propose(model.KindPrune, "arb_v1", `{}`, "mallory", 0.5); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("propose: expected ErrNotAuthorized, got %v", err)
	}
	p, err := q.Propose(model.KindPrune, "arb_v1", `{}`, "alice", 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := q.Cast(p.ID, "mallory", true, ""); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("cast: expected ErrNotAuthorized, got %v", err)
	}
	if err := q.Execute(p.ID, "mallory"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("execute: expected ErrNotAuthorized, got %v", err)
	}
}

func TestCastAfterDecision(t *testing.T) {
	initVoteDB(t)
	q, _ := newTestQuorum(t, WithQuorum(1))

	p, err := q.Propose(model.KindDemotion, "arb_v4", `{}`, "alice", 0.2)
	if err != nil {
		t.Fatal(err)
	}
	got, err := q.Cast(p.ID, "alice", true, "")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.ProposalApproved {
		t.Fatalf("expected approved with quorum 1, got %s", got.Status)
	}
	if _, err := q.Cast(p.ID, "bob", true, ""); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending, got %v", err)
	}
}

func TestExpiry(t *testing.T) {
	initVoteDB(t)
	q, current := newTestQuorum(t)

	p, err := q.Propose(model.KindParamMutation, "arb_v2", `{"b":2}`, "alice", 0.3)
	if err != nil {
		t.Fatal(err)
	}
	*current = current.Add(DefaultTTL + time.Hour)

	if _, err := q.Cast(p.ID, "bob", true, ""); !errors.Is(err, ErrProposalExpired) {
		t.Fatalf("expected ErrProposalExpired, got %v", err)
	}
	stored, _, err := q.Status(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != model.ProposalExpired {
		t.Fatalf("expected expired in store, got %s", stored.Status)
	}
	// The cast already swept it.
	n, err := q.ExpireStale()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected nothing left to expire, swept %d", n)
	}
}

func TestPendingSweepsExpired(t *testing.T) {
	initVoteDB(t)
	q, current := newTestQuorum(t)

	stale, err := q.Propose(model.KindParamMutation, "arb_v2", `{"old":true}`, "alice", 0.3)
	if err != nil {
		t.Fatal(err)
	}
	*current = current.Add(DefaultTTL + time.Hour)
	fresh, err := q.Propose(model.KindParamMutation, "arb_v2", `{"new":true}`, "alice", 0.3)
	if err != nil {
		t.Fatal(err)
	}

	pending, err := q.Pending()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != fresh.ID {
		t.Fatalf("expected only the fresh proposal, got %+v", pending)
	}
	swept, _, err := q.Status(stale.ID)
	if err != nil {
		t.Fatal(err)
	}
	if swept.Status != model.ProposalExpired {
		t.Fatalf("stale proposal is %s", swept.Status)
	}
	events := logEvents(t, q)
	found := false
	for _, e := range events {
		if e == "proposal_expired" {
			found = true
		}
	}
	if !found {
		t.Fatalf("no proposal_expired event in %v", events)
	}
}

func TestExecuteApproved(t *testing.T) {
	initVoteDB(t)
	q, _ := newTestQuorum(t, WithQuorum(1))

	p, err := q.Propose(model.KindCapitalUnlock, "", `{}`, "alice", 0.9)
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Execute(p.ID, "bob"); !errors.Is(err, ErrNotApproved) {
		t.Fatalf("executed a pending proposal: %v", err)
	}
	if _, err := q.Cast(p.ID, "alice", true, ""); err != nil {
		t.Fatal(err)
	}
	if err := q.Execute(p.ID, "bob"); err != nil {
		t.Fatalf("execute: %v", err)
	}
	stored, _, err := q.Status(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != model.ProposalExecuted {
		t.Fatalf("expected executed, got %s", stored.Status)
	}
	if err := q.Execute(p.ID, "bob"); !errors.Is(err, ErrNotApproved) {
		t.Fatalf("double execute: expected ErrNotApproved, got %v", err)
	}

	entries, err := oplog.ReadFile(q.log.Path())
	if err != nil {
		t.Fatal(err)
	}
	last := entries[len(entries)-1]
	if last.Event != "proposal_executed" {
		t.Fatalf("expected proposal_executed last, got %s", last.Event)
	}
	tx, _ := last.Extra["execution_tx"].(string)
	if !strings.HasPrefix(tx, "exec_"+p.ID) {
		t.Errorf("unexpected execution_tx %q", tx)
	}
}

func TestLoadVoters(t *testing.T) {
	t.Setenv(EnvVoterPrefix+"1", "ops1")
	t.Setenv(EnvVoterPrefix+"2", "ops2")

	got := loadVoters(filepath.Join(t.TempDir(), "missing.json"))
	if len(got) != 2 || got[0] != "ops1" || got[1] != "ops2" {
		t.Fatalf("env voters: got %v", got)
	}

	file := filepath.Join(t.TempDir(), "voters.json")
	if err := os.WriteFile(file, []byte(`["ops2","riskdesk"]`), 0o644); err != nil {
		t.Fatal(err)
	}
	got = loadVoters(file)
	if len(got) != 3 || got[2] != "riskdesk" {
		t.Fatalf("merged voters: got %v", got)
	}

	t.Setenv(EnvVoterPrefix+"1", "")
	t.Setenv(EnvVoterPrefix+"2", "")
	got = loadVoters(filepath.Join(t.TempDir(), "missing.json"))
	if len(got) != 5 || got[3] != "founder" {
		t.Fatalf("default voters: got %v", got)
	}
}
