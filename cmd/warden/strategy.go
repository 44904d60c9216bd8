// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

// strategy.go holds the strategy lifecycle commands: the scoreboard, the
// pruner, model-driven mutation and the orchestrator loop.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	log "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mevog/warden/internal/agents"
	"github.com/mevog/warden/internal/chaos"
	"github.com/mevog/warden/internal/db"
	"github.com/mevog/warden/internal/drp"
	"github.com/mevog/warden/internal/feeds"
	"github.com/mevog/warden/internal/i18n"
	"github.com/mevog/warden/internal/logging"
	"github.com/mevog/warden/internal/mutation"
	"github.com/mevog/warden/internal/oplog"
	"github.com/mevog/warden/internal/orchestrator"
	"github.com/mevog/warden/internal/strategy"
)

// parallelTask defines a generic task that is executed in parallel for
// multiple strategies. It holds the messaging, audit log actions and the
// task function itself.
type parallelTask struct {
	name       string
	startMsg   string
	successMsg string
	failMsg    string
	successLog string
	failLog    string
	taskFunc   func(id string) error
}

// runParallelTasks executes a task concurrently for a list of strategy ids,
// collecting results over a channel and printing them as they arrive.
func runParallelTasks(ids []string, task parallelTask) {
	if len(ids) == 0 {
		fmt.Println(i18n.T("parallel_task.no_targets", task.name))
		return
	}

	fmt.Println(task.startMsg)

	var wg sync.WaitGroup
	results := make(chan string, len(ids))
	for _, id := range ids {
		wg.Add(1)
		go func(sid string) {
			defer wg.Done()
			if err := task.taskFunc(sid); err != nil {
				results <- fmt.Sprintf(task.failMsg, sid, err)
				_ = logAction(task.failLog, fmt.Sprintf("strategy: %s, error: %v", sid, err))
				return
			}
			results <- fmt.Sprintf(task.successMsg, sid)
			_ = logAction(task.successLog, fmt.Sprintf("strategy: %s", sid))
		}(id)
	}
	go func() {
		wg.Wait()
		close(results)
	}()
	for res := range results {
		fmt.Println(res)
	}
	fmt.Println("\n" + i18n.T("parallel_task.complete_message", task.name))
}

// loadStrategyManifest reads a bundle manifest from active/, falling back to
// the staging area for not-yet-promoted candidates.
func loadStrategyManifest(root, id string) (strategy.Manifest, error) {
	for _, dir := range []string{mutation.DefaultActiveDir, "strategies"} {
		path := filepath.Join(root, dir, id, strategy.ManifestName)
		if _, err := os.Stat(path); err == nil {
			return strategy.LoadManifest(path)
		}
	}
	return strategy.Manifest{}, fmt.Errorf("no bundle manifest for %s under %s", id, root)
}

// scoreboardCmd represents the 'scoreboard' command. It only displays the
// persisted ranking; re-scoring happens inside the orchestrator loop.
var scoreboardCmd = &cobra.Command{
	Use:   "scoreboard",
	Short: "Show the persisted strategy ranking",
	Run: func(cmd *cobra.Command, args []string) {
		root := resolveRoot()
		asJSON, _ := cmd.Flags().GetBool("json")

		board, err := strategy.ReadScoreboard(filepath.Join(root, strategy.DefaultScoreboardPath))
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Println(i18n.T("scoreboard.empty"))
				return
			}
			log.Fatalf("%v", err)
		}
		if len(board) == 0 {
			fmt.Println(i18n.T("scoreboard.empty"))
			return
		}
		if asJSON {
			out, err := json.MarshalIndent(board, "", "  ")
			if err != nil {
				log.Fatalf("%v", err)
			}
			fmt.Println(string(out))
			return
		}
		for i, row := range board {
			marker := ""
			if row.Decayed {
				marker = "  " + i18n.T("scoreboard.status_decayed")
			}
			fmt.Printf("%2d. %-20s %8.4f  pnl %+8.4f  sharpe %5.2f  win %3.0f%%%s\n",
				i+1, row.Strategy, row.Score, row.PnL, row.Sharpe, row.WinRate*100, marker)
		}
	},
}

// pruneCmd represents the 'prune' command. Live pruning never deletes
// anything itself; every flagged strategy becomes a prune proposal for the
// quorum to decide.
var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Flag decayed or risky strategies for removal",
	Run: func(cmd *cobra.Command, args []string) {
		root := resolveRoot()
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		board, err := strategy.ReadScoreboard(filepath.Join(root, strategy.DefaultScoreboardPath))
		if err != nil && !os.IsNotExist(err) {
			log.Fatalf("%v", err)
		}
		inputs := make(map[string]mutation.PruneInput, len(board))
		for _, row := range board {
			inputs[row.Strategy] = mutation.PruneInput{PnL: row.PnL, Risk: row.Risk}
		}

		opts := []mutation.PruneOption{
			mutation.WithPruneLogger(oplog.New("strategy_prune", oplog.WithDir(filepath.Join(root, "logs")))),
			mutation.WithPruneTrail(newMutationTrail(root)),
		}
		if !dryRun {
			confirmOrAbort()
			quorum, err := newQuorum()
			if err != nil {
				log.Fatalf("%v", err)
			}
			opts = append(opts, mutation.WithPruneQuorum(quorum))
		}

		actions, err := mutation.NewPruner(opts...).Prune(inputs)
		if err != nil {
			log.Fatalf("%v", err)
		}
		if len(actions) == 0 {
			fmt.Println(i18n.T("prune.none"))
			return
		}
		for _, a := range actions {
			line := fmt.Sprintf("%-20s %s", a.StrategyID, a.Reason)
			if a.ProposalID != "" {
				line += "  " + a.ProposalID
			}
			fmt.Println(line)
		}
		fmt.Println(i18n.T("prune.flagged", len(actions)))
		if !dryRun {
			_ = logAction("PRUNE_FLAG", fmt.Sprintf("flagged: %d, evaluated: %d", len(actions), len(inputs)))
		}
	},
}

// newModelClient prefers the Gemini client and falls back to the offline
// stub when no API key is configured, so sim environments keep working.
func newModelClient(ctx context.Context) mutation.ModelClient {
	client, err := mutation.NewGeminiClient(ctx)
	if err != nil {
		logging.Debugf("model client unavailable, using offline stub: %v", err)
		return &mutation.StaticModel{}
	}
	return client
}

// mutateCmd represents the 'mutate' command. One id gets the detailed
// path; several ids fan out in parallel since model calls dominate the
// latency.
var mutateCmd = &cobra.Command{
	Use:   "mutate <strategy-id>...",
	Short: "Ask the model for parameter mutations and file them for vote",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		root := resolveRoot()
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		if dryRun {
			for _, id := range args {
				manifest, err := loadStrategyManifest(root, id)
				if err != nil {
					log.Fatalf("%v", err)
				}
				params, _ := json.Marshal(manifest.Params)
				fmt.Printf("%s: %s\n", id, params)
			}
			fmt.Println(i18n.T("mutate.dry_run"))
			return
		}

		quorum, err := newQuorum()
		if err != nil {
			log.Fatalf("%v", err)
		}
		mutator := mutation.NewMutator(newModelClient(cmd.Context()), quorum,
			mutation.WithMutatorLogger(oplog.New("mutator", oplog.WithDir(filepath.Join(root, "logs")))),
			mutation.WithMutatorTrail(newMutationTrail(root)),
		)

		if len(args) == 1 {
			id := args[0]
			manifest, err := loadStrategyManifest(root, id)
			if err != nil {
				log.Fatalf("%v", err)
			}
			row, _ := scoreboardRow(root, id)
			proposal, err := mutator.ProposeMutation(cmd.Context(), manifest, row)
			if err != nil {
				log.Fatalf("%v", err)
			}
			if proposal == nil {
				fmt.Println(i18n.T("mutate.no_change", id))
				return
			}
			fmt.Println(i18n.T("mutate.filed", proposal.ID, id))
			_ = logAction("MUTATION_PROPOSED", fmt.Sprintf("strategy: %s, proposal: %s", id, proposal.ID))
			return
		}

		runParallelTasks(args, parallelTask{
			name:       "mutation",
			startMsg:   i18n.T("parallel_task.start_message", "mutation", len(args)),
			successMsg: i18n.T("parallel_task.mutate_success_message"),
			failMsg:    i18n.T("parallel_task.mutate_fail_message"),
			successLog: "MUTATION_PROPOSED",
			failLog:    "MUTATION_FAIL",
			taskFunc: func(id string) error {
				manifest, err := loadStrategyManifest(root, id)
				if err != nil {
					return err
				}
				row, _ := scoreboardRow(root, id)
				_, err = mutator.ProposeMutation(cmd.Context(), manifest, row)
				return err
			},
		})
	},
}

// newFeed selects the market feed: the HTTP service when feed.url is
// configured, else the fixture file under state/. Live mode refuses to run
// against a fixture.
func newFeed(root string, live bool) (feeds.Feed, error) {
	if base := viper.GetString("feed.url"); base != "" {
		return feeds.NewHTTPFeed(base), nil
	}
	if live {
		return nil, errors.New("feed.url is not configured")
	}
	return feeds.NewFileFeed(filepath.Join(root, "state", "spreads.json")), nil
}

// resolveInterval picks the loop interval: the flag wins, then the config.
func resolveInterval(flagValue string) time.Duration {
	raw := flagValue
	if raw == "" {
		raw = viper.GetString("orchestrator.interval")
	}
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Fatalf("invalid interval %q: %v", raw, err)
	}
	return d
}

// offsitePusher adapts the export push helper to the DRP agent. It dials
// the configured replica per push, so a connection lost between agent
// cycles never wedges the loop.
type offsitePusher struct{ target string }

func (p offsitePusher) Push(ctx context.Context, localPath string) error {
	return pushArchive(ctx, p.target, localPath)
}

// runCmd represents the 'run' command: the orchestrator loop. Sim mode by
// default; --live requires founder approval and green gates and exits 2
// when either is missing. The standing loop also carries the deployment's
// background jobs: periodic DRP snapshots and the scheduled recovery
// drills.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the orchestrator loop (sim by default)",
	Run: func(cmd *cobra.Command, args []string) {
		root := resolveRoot()
		once, _ := cmd.Flags().GetBool("once")
		live, _ := cmd.Flags().GetBool("live")
		intervalFlag, _ := cmd.Flags().GetString("interval")
		noDrills, _ := cmd.Flags().GetBool("no-drills")

		feed, err := newFeed(root, live)
		if err != nil {
			fmt.Println(i18n.T("run.live_denied", err))
			os.Exit(2)
		}

		kill := newKillSwitch(root)
		logDir := filepath.Join(root, "logs")

		agentOpts := []drp.AgentOption{drp.WithStateSink(db.SetAgentState)}
		if host := viper.GetString("offsite.host"); host != "" {
			agentOpts = append(agentOpts, drp.WithPusher(offsitePusher{target: host}))
		}
		snap := drp.NewAgent(
			drp.NewExporter(root,
				drp.WithExportDir(resolveExportDir(root)),
				drp.WithRetentionDays(viper.GetInt("export.retention_days"))),
			agentOpts...,
		)

		keeperOpts := []agents.GatekeeperOption{
			agents.WithKillSwitch(kill),
			agents.WithGatekeeperLogger(oplog.New("gatekeeper", oplog.WithDir(logDir))),
		}
		if !once {
			// A single iteration judges DRP freshness from the registry,
			// like `warden gates` does; the standing loop judges its own
			// live agent.
			keeperOpts = append(keeperOpts, agents.WithDRPAgent(snap))
		}
		keeper := agents.NewGatekeeper(root, keeperOpts...)
		founder := agents.NewFounderGate(
			agents.WithFounderLogger(oplog.New("founder_gate", oplog.WithDir(logDir))),
		)

		opts := []orchestrator.Option{
			orchestrator.WithLive(live),
			orchestrator.WithKillSwitch(kill),
			orchestrator.WithGatekeeper(keeper),
			orchestrator.WithFounderGate(founder),
		}
		if !once {
			// Single iterations stay side-effect free; operators export
			// explicitly when they want an archive.
			opts = append(opts, orchestrator.WithDRPAgent(snap))
		}
		if interval := resolveInterval(intervalFlag); interval > 0 {
			opts = append(opts, orchestrator.WithInterval(interval))
		}
		orch := orchestrator.New(root, feed, opts...)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if !once {
			// Prime the freshness gate before the first iteration judges it.
			if err := snap.RunOnce(ctx); err != nil {
				log.Warnf("recovery snapshot: %v", err)
			}
			if !noDrills {
				sched := chaos.NewScheduler(chaos.New(root, chaos.WithKillSwitch(kill)))
				go func() {
					if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						log.Errorf("drill scheduler: %v", err)
					}
				}()
			}
		}

		_ = logAction("ORCH_RUN", fmt.Sprintf("live: %t, once: %t", live, once))

		if once {
			err = orch.RunOnce(ctx)
		} else {
			err = orch.Run(ctx)
		}
		switch {
		case err == nil:
		case errors.Is(err, agents.ErrFounderRequired):
			fmt.Println(i18n.T("run.live_denied", err))
			os.Exit(2)
		case errors.Is(err, orchestrator.ErrGatesRed):
			fmt.Println(i18n.T("run.halt", err))
			os.Exit(2)
		case errors.Is(err, context.Canceled):
			fmt.Println(i18n.T("run.halt", "interrupted"))
		default:
			log.Fatalf("%v", err)
		}
	},
}

func init() {
	scoreboardCmd.Flags().Bool("json", false, "Print the ranking as JSON")

	pruneCmd.Flags().Bool("dry-run", false, "Evaluate and report without filing prune proposals")

	mutateCmd.Flags().Bool("dry-run", false, "Show current parameters without calling the model")

	runCmd.Flags().Bool("once", false, "Run a single iteration and exit")
	runCmd.Flags().Bool("live", false, "Trade live (founder approval and green gates required)")
	runCmd.Flags().String("interval", "", "Pause between iterations, e.g. 30s (default from config)")
	runCmd.Flags().Bool("no-drills", false, "Skip the scheduled recovery drills")
}
