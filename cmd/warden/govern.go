// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

// govern.go holds the governance commands: filing proposals, casting
// ballots, listing the docket and moving strategy bundles in and out of
// active service.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mevog/warden/internal/agents"
	"github.com/mevog/warden/internal/db"
	"github.com/mevog/warden/internal/i18n"
	"github.com/mevog/warden/internal/model"
	"github.com/mevog/warden/internal/mutation"
	"github.com/mevog/warden/internal/oplog"
	"github.com/mevog/warden/internal/strategy"
	"github.com/mevog/warden/internal/vote"
)

// newQuorum builds the vote state machine from the resolved configuration,
// with the ballot log rooted at the working tree.
func newQuorum() (*vote.Quorum, error) {
	votePath := filepath.Join(resolveRoot(), "logs", "vote_log.jsonl")
	if p := os.Getenv(vote.EnvLogFile); p != "" {
		votePath = p
	}
	opts := []vote.Option{
		vote.WithLogger(oplog.New("voting", oplog.WithPath(votePath))),
	}
	if n := viper.GetInt("quorum.size"); n > 0 {
		opts = append(opts, vote.WithQuorum(n))
	}
	if th := viper.GetFloat64("quorum.threshold"); th > 0 {
		opts = append(opts, vote.WithThreshold(th))
	}
	if h := viper.GetInt("quorum.ttl_hours"); h > 0 {
		opts = append(opts, vote.WithTTL(time.Duration(h)*time.Hour))
	}
	return vote.NewQuorum(opts...)
}

// parseKind validates a proposal kind from the command line.
func parseKind(s string) (model.ProposalKind, error) {
	switch k := model.ProposalKind(s); k {
	case model.KindParamMutation, model.KindPromotion, model.KindDemotion, model.KindCapitalUnlock, model.KindPrune:
		return k, nil
	}
	return "", fmt.Errorf("unknown proposal kind %q", s)
}

// scoreboardRow finds a strategy's persisted ranking entry when one exists.
func scoreboardRow(root, id string) (strategy.Score, bool) {
	board, err := strategy.ReadScoreboard(filepath.Join(root, strategy.DefaultScoreboardPath))
	if err != nil {
		return strategy.Score{}, false
	}
	for _, row := range board {
		if row.Strategy == id {
			return row, true
		}
	}
	return strategy.Score{}, false
}

// newPromoter roots the promoter's directories, trails and gate log at the
// working tree so a --root far from the CWD still lands everything in one
// place.
func newPromoter(root, src, dst string) *mutation.Promoter {
	gate := agents.NewFounderGate(
		agents.WithFounderLogger(oplog.New("founder_gate", oplog.WithDir(filepath.Join(root, "logs")))),
	)
	return mutation.NewPromoter(
		mutation.WithPromoteDirs(src, dst, filepath.Join(root, mutation.DefaultArchiveDir)),
		mutation.WithPromoteGate(gate),
		mutation.WithPromoteLogger(oplog.New("promote", oplog.WithDir(filepath.Join(root, "logs")))),
		mutation.WithPromoteTrail(newMutationTrail(root)),
	)
}

// newMutationTrail opens the mutation decision trail under the tree's logs.
func newMutationTrail(root string) *mutation.Log {
	path := filepath.Join(root, "logs", "mutation_log.json")
	if p := os.Getenv(mutation.EnvLogFile); p != "" {
		path = p
	}
	return mutation.NewLog(mutation.WithLogLogger(oplog.New("mutation_log", oplog.WithPath(path))))
}

// proposeCmd represents the 'propose' command.
var proposeCmd = &cobra.Command{
	Use:   "propose",
	Short: "File a governance proposal",
	Run: func(cmd *cobra.Command, args []string) {
		strategyID, _ := cmd.Flags().GetString("strategy")
		kindFlag, _ := cmd.Flags().GetString("kind")
		payload, _ := cmd.Flags().GetString("payload")
		risk, _ := cmd.Flags().GetFloat64("risk")

		kind, err := parseKind(kindFlag)
		if err != nil {
			log.Fatalf("%v", err)
		}
		quorum, err := newQuorum()
		if err != nil {
			log.Fatalf("%v", err)
		}
		p, err := quorum.Propose(kind, strategyID, payload, resolveActor(), risk)
		if err != nil {
			log.Fatalf("%v", err)
		}
		fmt.Println(i18n.T("propose.created", p.ID, p.ExpiresAt.Format(time.RFC3339)))
		_ = logAction("CREATE_PROPOSAL", fmt.Sprintf("proposal: %s, kind: %s, strategy: %s, risk: %.2f",
			p.ID, p.Kind, p.StrategyID, p.Risk))
	},
}

// voteCmd represents the 'vote' command.
var voteCmd = &cobra.Command{
	Use:   "vote <proposal-id>",
	Short: "Cast a ballot on a pending proposal",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		voter, _ := cmd.Flags().GetString("voter")
		approve, _ := cmd.Flags().GetBool("approve")
		reason, _ := cmd.Flags().GetString("reason")
		if voter == "" {
			voter = resolveActor()
		}

		quorum, err := newQuorum()
		if err != nil {
			log.Fatalf("%v", err)
		}
		p, err := quorum.Cast(args[0], voter, approve, reason)
		if err != nil {
			log.Fatalf("%v", err)
		}
		choice := "reject"
		if approve {
			choice = "approve"
		}
		fmt.Println(i18n.T("vote.recorded", p.ID, choice))
		if p.Status != model.ProposalPending {
			fmt.Println(i18n.T("vote.decided", p.ID, p.Status))
		}
		_ = logAction("CAST_VOTE", fmt.Sprintf("proposal: %s, voter: %s, choice: %s", p.ID, voter, choice))
	},
}

// proposalsCmd represents the 'proposals' command. Every listing starts
// with an expiry sweep so the docket never shows stale entries as open.
var proposalsCmd = &cobra.Command{
	Use:   "proposals",
	Short: "List proposals and retire expired ones",
	Run: func(cmd *cobra.Command, args []string) {
		statusFlag, _ := cmd.Flags().GetString("status")

		quorum, err := newQuorum()
		if err != nil {
			log.Fatalf("%v", err)
		}
		if expired, err := quorum.ExpireStale(); err == nil && expired > 0 {
			fmt.Println(i18n.T("proposals.expired_note", expired))
		}

		list, err := db.GetProposalsByStatus(model.ProposalStatus(statusFlag))
		if err != nil {
			log.Fatalf("%v", err)
		}
		if len(list) == 0 {
			fmt.Println(i18n.T("proposals.none"))
			return
		}
		for _, p := range list {
			approvals, rejections, err := db.CountVotes(p.ID)
			if err != nil {
				log.Fatalf("%v", err)
			}
			fmt.Printf("%-18s %-15s %-20s %-9s risk %.2f  %d/%d  %s %s\n",
				p.ID, p.Kind, p.StrategyID, p.Status, p.Risk,
				approvals+rejections, p.Quorum,
				i18n.T("proposals.expires"), p.ExpiresAt.Format(time.RFC3339))
		}
	},
}

// promoteCmd represents the 'promote' command. Promotion is founder gated;
// mint an approval with 'warden founder mint --action promote_<id>' first.
var promoteCmd = &cobra.Command{
	Use:   "promote <strategy-id>",
	Short: "Promote a staged strategy bundle into active service",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := args[0]
		root := resolveRoot()
		src, _ := cmd.Flags().GetString("src")
		dst, _ := cmd.Flags().GetString("dst")
		if src == "" {
			src = filepath.Join(root, "strategies")
		}
		if dst == "" {
			dst = filepath.Join(root, mutation.DefaultActiveDir)
		}

		evidence := map[string]any{"actor": resolveActor(), "source": "cli"}
		if row, ok := scoreboardRow(root, id); ok {
			evidence["score"] = row.Score
			evidence["pnl"] = row.PnL
		}
		if err := newPromoter(root, src, dst).Promote(id, evidence); err != nil {
			if errors.Is(err, agents.ErrFounderRequired) {
				fmt.Println(i18n.T("promote.gate_denied", "promote_"+id))
				os.Exit(2)
			}
			log.Fatalf("%v", err)
		}
		fmt.Println(i18n.T("promote.done", id, dst))
		_ = logAction("PROMOTE_STRATEGY", fmt.Sprintf("strategy: %s, src: %s, dst: %s", id, src, dst))
	},
}

// demoteCmd represents the 'demote' command. Demotion is deliberately
// ungated so a failing strategy can always be pulled fast.
var demoteCmd = &cobra.Command{
	Use:   "demote <strategy-id>",
	Short: "Pull a strategy out of active service",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := args[0]
		root := resolveRoot()
		reason, _ := cmd.Flags().GetString("reason")

		confirmOrAbort()
		promoter := newPromoter(root, filepath.Join(root, "strategies"), filepath.Join(root, mutation.DefaultActiveDir))
		if err := promoter.Demote(id, reason); err != nil {
			log.Fatalf("%v", err)
		}
		fmt.Println(i18n.T("demote.done", id, reason))
		_ = logAction("DEMOTE_STRATEGY", fmt.Sprintf("strategy: %s, reason: %s", id, reason))
	},
}

func init() {
	proposeCmd.Flags().String("strategy", "", "Strategy the proposal targets")
	proposeCmd.Flags().String("kind", "", "Proposal kind (param_mutation, promotion, demotion, capital_unlock, prune)")
	proposeCmd.Flags().String("payload", "{}", "JSON body describing the change")
	proposeCmd.Flags().Float64("risk", 0.5, "Proposer-estimated risk in [0,1]")
	_ = proposeCmd.MarkFlagRequired("strategy")
	_ = proposeCmd.MarkFlagRequired("kind")

	voteCmd.Flags().String("voter", "", "Ballot identity (default: WARDEN_VOTER or the OS user)")
	voteCmd.Flags().Bool("approve", false, "Vote in favor")
	voteCmd.Flags().Bool("reject", false, "Vote against")
	voteCmd.Flags().String("reason", "", "Free-form justification recorded with the ballot")
	voteCmd.MarkFlagsOneRequired("approve", "reject")
	voteCmd.MarkFlagsMutuallyExclusive("approve", "reject")

	proposalsCmd.Flags().String("status", "pending", "Filter by status (pending, approved, rejected, expired, executed)")

	promoteCmd.Flags().String("src", "", "Directory holding candidate bundles (default: <root>/strategies)")
	promoteCmd.Flags().String("dst", "", "Directory for active bundles (default: <root>/active)")

	demoteCmd.Flags().String("reason", "", "Why the strategy is being pulled")
	_ = demoteCmd.MarkFlagRequired("reason")
}
