// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

// Package vote runs the quorum state machine over strategy proposals. A
// proposal is filed by an authorized voter, collects signed ballots until
// quorum, and lands in approved, rejected or expired; approved proposals
// move to executed when acted on. Every transition is appended to the vote
// log and the database audit trail.
package vote

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mevog/warden/internal/db"
	"github.com/mevog/warden/internal/model"
	"github.com/mevog/warden/internal/oplog"
	"github.com/mevog/warden/internal/security"
)

// Defaults for the quorum state machine.
const (
	DefaultQuorum    = 3
	DefaultThreshold = 0.66
	DefaultTTL       = 24 * time.Hour
)

const (
	// EnvVoteSecret names the HMAC key every ballot is signed with. The
	// security package also honors VOTE_SECRET_FILE.
	EnvVoteSecret = "VOTE_SECRET"

	// EnvLogFile overrides the vote log location.
	EnvLogFile = "VOTE_LOG_FILE"

	// EnvVoterPrefix is the prefix for numbered voter env variables
	// (AUTHORIZED_VOTER_1 through AUTHORIZED_VOTER_9).
	EnvVoterPrefix = "AUTHORIZED_VOTER_"

	// DefaultVotersFile is the optional JSON list of voter names.
	DefaultVotersFile = "config/authorized_voters.json"
)

var (
	// ErrNotAuthorized is returned when a name outside the voter set tries
	// to propose, vote or execute.
	ErrNotAuthorized = errors.New("not an authorized voter")

	// ErrAlreadyVoted is returned on a second ballot from the same voter.
	ErrAlreadyVoted = errors.New("voter already voted on this proposal")

	// ErrProposalExpired is returned when a ballot arrives after expiry.
	ErrProposalExpired = errors.New("proposal expired")

	// ErrNotPending is returned when voting on a decided proposal.
	ErrNotPending = errors.New("proposal is no longer pending")

	// ErrNotApproved is returned when executing a proposal that is not in
	// the approved state.
	ErrNotApproved = errors.New("proposal is not approved")
)

// ProposalID derives the content-addressed id for a proposal: the first 16
// hex characters of sha256 over kind, strategy, payload and creation time.
func ProposalID(kind model.ProposalKind, strategyID, payload string, ts time.Time) string {
	content := strings.Join([]string{
		string(kind), strategyID, payload, ts.UTC().Format(time.RFC3339),
	}, "|")
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:16]
}

// Sign computes the ballot signature: HMAC-SHA256 over
// proposal_id|voter|approve keyed with the vote secret, hex encoded.
func Sign(secret security.Secret, proposalID, voter string, approve bool) string {
	mac := hmac.New(sha256.New, secret.Bytes())
	mac.Write([]byte(proposalID + "|" + voter + "|" + strconv.FormatBool(approve)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature recomputes a ballot's signature from the configured vote
// secret and compares it in constant time. The audit agent runs this over
// every stored ballot.
func VerifySignature(v model.Vote) error {
	secret, err := security.Get(EnvVoteSecret)
	if err != nil {
		return fmt.Errorf("resolve vote secret: %w", err)
	}
	want := Sign(secret, v.ProposalID, v.Voter, v.Approve)
	if !hmac.Equal([]byte(want), []byte(v.Signature)) {
		return fmt.Errorf("vote by %s on %s: signature mismatch", v.Voter, v.ProposalID)
	}
	return nil
}

// LoadAuthorizedVoters resolves the voter set: AUTHORIZED_VOTER_1..9 env
// variables plus the optional config/authorized_voters.json list. When both
// are empty the development defaults apply.
func LoadAuthorizedVoters() []string {
	return loadVoters(DefaultVotersFile)
}

func loadVoters(file string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
	}
	for i := 1; i < 10; i++ {
		add(os.Getenv(EnvVoterPrefix + strconv.Itoa(i)))
	}
	if data, err := os.ReadFile(filepath.FromSlash(file)); err == nil {
		var fromFile []string
		if err := json.Unmarshal(data, &fromFile); err == nil {
			for _, name := range fromFile {
				add(name)
			}
		}
	}
	if len(out) == 0 {
		out = []string{"voter1", "voter2", "voter3", "founder", "auditor"}
	}
	return out
}

// Quorum drives proposals through their lifecycle against the database.
type Quorum struct {
	quorum    int
	threshold float64
	ttl       time.Duration
	voters    map[string]bool
	log       *oplog.Logger
	now       func() time.Time
}

// Option configures a Quorum.
type Option func(*Quorum)

// WithQuorum sets the minimum ballot count before a decision.
func WithQuorum(n int) Option {
	return func(q *Quorum) { q.quorum = n }
}

// WithThreshold sets the approval ratio required, e.g. 0.66.
func WithThreshold(ratio float64) Option {
	return func(q *Quorum) { q.threshold = ratio }
}

// WithTTL sets how long proposals stay open for votes.
func WithTTL(d time.Duration) Option {
	return func(q *Quorum) { q.ttl = d }
}

// WithVoters replaces the resolved voter set.
func WithVoters(names ...string) Option {
	return func(q *Quorum) {
		q.voters = map[string]bool{}
		for _, name := range names {
			q.voters[name] = true
		}
	}
}

// WithLogger sets an explicit vote logger.
func WithLogger(l *oplog.Logger) Option {
	return func(q *Quorum) { q.log = l }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(q *Quorum) { q.now = now }
}

// NewQuorum builds the state machine. It fails when the voter set is
// smaller than the quorum, since such a configuration can never approve
// anything.
func NewQuorum(opts ...Option) (*Quorum, error) {
	q := &Quorum{
		quorum:    DefaultQuorum,
		threshold: DefaultThreshold,
		ttl:       DefaultTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.quorum < 1 {
		q.quorum = 1
	}
	if q.voters == nil {
		q.voters = map[string]bool{}
		for _, name := range LoadAuthorizedVoters() {
			q.voters[name] = true
		}
	}
	if len(q.voters) < q.quorum {
		return nil, fmt.Errorf("quorum %d needs at least %d authorized voters, have %d",
			q.quorum, q.quorum, len(q.voters))
	}
	if q.log == nil {
		logOpts := []oplog.Option{oplog.WithPath(filepath.Join("logs", "vote_log.jsonl"))}
		if p := os.Getenv(EnvLogFile); p != "" {
			logOpts = []oplog.Option{oplog.WithPath(p)}
		}
		q.log = oplog.New("voting", logOpts...)
	}
	return q, nil
}

// Voters returns the authorized voter names, sorted.
func (q *Quorum) Voters() []string {
	out := make([]string, 0, len(q.voters))
	for name := range q.voters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Propose files a new proposal and returns it. Filing the same content in
// the same second returns the existing proposal instead of erroring.
func (q *Quorum) Propose(kind model.ProposalKind, strategyID, payload, proposer string, risk float64) (*model.Proposal, error) {
	if !q.voters[proposer] {
		return nil, fmt.Errorf("proposer %s: %w", proposer, ErrNotAuthorized)
	}
	now := q.now().UTC()
	p := model.Proposal{
		ID:         ProposalID(kind, strategyID, payload, now),
		Kind:       kind,
		StrategyID: strategyID,
		Proposer:   proposer,
		Payload:    payload,
		Risk:       risk,
		Status:     model.ProposalPending,
		Quorum:     q.quorum,
		Threshold:  q.threshold,
		CreatedAt:  now,
		ExpiresAt:  now.Add(q.ttl),
	}
	if err := db.CreateProposal(p); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			return db.GetProposal(p.ID)
		}
		return nil, fmt.Errorf("file proposal: %w", err)
	}
	_ = q.log.Log(oplog.Entry{
		Event:      "proposal_created",
		StrategyID: strategyID,
		RiskLevel:  riskLevel(risk),
		Extra: map[string]any{
			"proposal_id": p.ID,
			"kind":        string(kind),
			"proposer":    proposer,
			"expires_at":  p.ExpiresAt.Format(time.RFC3339),
		},
	})
	return &p, nil
}

// Cast records a ballot and evaluates the proposal. The returned proposal
// reflects any status transition the ballot caused.
func (q *Quorum) Cast(proposalID, voter string, approve bool, reason string) (*model.Proposal, error) {
	if !q.voters[voter] {
		return nil, fmt.Errorf("voter %s: %w", voter, ErrNotAuthorized)
	}
	p, err := db.GetProposal(proposalID)
	if err != nil {
		return nil, fmt.Errorf("load proposal: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("proposal %s: %w", proposalID, db.ErrNotFound)
	}
	if p.Status != model.ProposalPending {
		return p, fmt.Errorf("proposal %s is %s: %w", p.ID, p.Status, ErrNotPending)
	}
	now := q.now().UTC()
	if now.After(p.ExpiresAt) {
		if err := q.expire(p, now); err != nil {
			return p, err
		}
		return p, fmt.Errorf("proposal %s: %w", p.ID, ErrProposalExpired)
	}

	secret, err := security.Get(EnvVoteSecret)
	if err != nil {
		return p, fmt.Errorf("ballots must be signed: %w", err)
	}
	v := model.Vote{
		ProposalID: p.ID,
		Voter:      voter,
		Approve:    approve,
		Reason:     reason,
		Signature:  Sign(secret, p.ID, voter, approve),
		CreatedAt:  now,
	}
	if err := db.AddVote(v); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			return p, fmt.Errorf("voter %s on %s: %w", voter, p.ID, ErrAlreadyVoted)
		}
		return p, fmt.Errorf("record vote: %w", err)
	}
	_ = db.LogAction("CAST_VOTE", fmt.Sprintf("proposal: %s, voter: %s, vote: %s", p.ID, voter, v.Choice()))

	approvals, rejections, err := db.CountVotes(p.ID)
	if err != nil {
		return p, fmt.Errorf("tally votes: %w", err)
	}
	total := approvals + rejections
	_ = q.log.Log(oplog.Entry{
		Event:      "vote_cast",
		StrategyID: p.StrategyID,
		Extra: map[string]any{
			"proposal_id": p.ID,
			"voter":       voter,
			"vote":        v.Choice(),
			"reason":      reason,
			"votes":       total,
			"quorum":      p.Quorum,
		},
	})

	if total < p.Quorum {
		return p, nil
	}
	ratio := float64(approvals) / float64(total)
	decided := model.ProposalRejected
	event := "proposal_rejected"
	if ratio >= p.Threshold {
		decided = model.ProposalApproved
		event = "proposal_approved"
	}
	if err := db.UpdateProposalStatus(p.ID, decided, now); err != nil {
		return p, fmt.Errorf("decide proposal: %w", err)
	}
	p.Status = decided
	p.DecidedAt = &now
	_ = q.log.Log(oplog.Entry{
		Event:      event,
		StrategyID: p.StrategyID,
		Extra: map[string]any{
			"proposal_id":   p.ID,
			"approvals":     approvals,
			"total_votes":   total,
			"approval_rate": ratio,
		},
	})
	return p, nil
}

// Execute moves an approved proposal to executed. The caller acts on the
// payload; this records that it happened and by whom.
func (q *Quorum) Execute(proposalID, executor string) error {
	if !q.voters[executor] {
		return fmt.Errorf("executor %s: %w", executor, ErrNotAuthorized)
	}
	p, err := db.GetProposal(proposalID)
	if err != nil {
		return fmt.Errorf("load proposal: %w", err)
	}
	if p == nil {
		return fmt.Errorf("proposal %s: %w", proposalID, db.ErrNotFound)
	}
	if p.Status != model.ProposalApproved {
		return fmt.Errorf("proposal %s is %s: %w", p.ID, p.Status, ErrNotApproved)
	}
	now := q.now().UTC()
	if err := db.UpdateProposalStatus(p.ID, model.ProposalExecuted, now); err != nil {
		return fmt.Errorf("mark executed: %w", err)
	}
	_ = q.log.Log(oplog.Entry{
		Event:      "proposal_executed",
		StrategyID: p.StrategyID,
		Extra: map[string]any{
			"proposal_id":  p.ID,
			"executor":     executor,
			"execution_tx": fmt.Sprintf("exec_%s_%d", p.ID, now.Unix()),
		},
	})
	return nil
}

// Status returns a proposal with its ballots, expiring it first when its
// deadline has passed unnoticed.
func (q *Quorum) Status(proposalID string) (*model.Proposal, []model.Vote, error) {
	p, err := db.GetProposal(proposalID)
	if err != nil {
		return nil, nil, fmt.Errorf("load proposal: %w", err)
	}
	if p == nil {
		return nil, nil, fmt.Errorf("proposal %s: %w", proposalID, db.ErrNotFound)
	}
	now := q.now().UTC()
	if p.Status == model.ProposalPending && now.After(p.ExpiresAt) {
		if err := q.expire(p, now); err != nil {
			return nil, nil, err
		}
	}
	votes, err := db.GetVotesForProposal(p.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("load votes: %w", err)
	}
	return p, votes, nil
}

// Pending returns open proposals after sweeping expired ones.
func (q *Quorum) Pending() ([]model.Proposal, error) {
	if _, err := q.ExpireStale(); err != nil {
		return nil, err
	}
	return db.GetProposalsByStatus(model.ProposalPending)
}

// ExpireStale flips every pending proposal past its deadline to expired and
// returns how many it touched.
func (q *Quorum) ExpireStale() (int, error) {
	now := q.now().UTC()
	stale, err := db.GetExpiredProposals(now)
	if err != nil {
		return 0, fmt.Errorf("find expired proposals: %w", err)
	}
	for i := range stale {
		if err := q.expire(&stale[i], now); err != nil {
			return i, err
		}
	}
	return len(stale), nil
}

func (q *Quorum) expire(p *model.Proposal, now time.Time) error {
	if err := db.UpdateProposalStatus(p.ID, model.ProposalExpired, now); err != nil {
		return fmt.Errorf("expire proposal %s: %w", p.ID, err)
	}
	p.Status = model.ProposalExpired
	p.DecidedAt = &now
	_ = q.log.Log(oplog.Entry{
		Event:      "proposal_expired",
		StrategyID: p.StrategyID,
		Extra: map[string]any{
			"proposal_id": p.ID,
			"expired_at":  p.ExpiresAt.Format(time.RFC3339),
		},
	})
	return nil
}

func riskLevel(risk float64) string {
	switch {
	case risk >= 0.7:
		return "high"
	case risk >= 0.3:
		return "medium"
	default:
		return "low"
	}
}
