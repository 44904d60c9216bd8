// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

// Package orchestrator drives the strategy loop: gate check, TTL sweep,
// parallel signal detection, scoring and the periodic DRP snapshot. The
// loop halts cleanly when the kill switch engages or the context is
// cancelled; everything the loop decides lands in the orchestrator log.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mevog/warden/internal/agents"
	"github.com/mevog/warden/internal/drp"
	"github.com/mevog/warden/internal/feeds"
	"github.com/mevog/warden/internal/killswitch"
	"github.com/mevog/warden/internal/logging"
	"github.com/mevog/warden/internal/metrics"
	"github.com/mevog/warden/internal/oplog"
	"github.com/mevog/warden/internal/strategy"
)

// EnvLogFile overrides the orchestrator log location.
const EnvLogFile = "ORCHESTRATOR_LOG_FILE"

// Loop defaults.
const (
	DefaultInterval      = 30 * time.Second
	DefaultDetectTimeout = 10 * time.Second
	DefaultSnapshotEvery = time.Hour
)

// ErrGatesRed is returned when the gatekeeper vetoes an iteration.
var ErrGatesRed = errors.New("gates are red")

// Handler consumes a detected signal and returns the pnl to book for it.
// The sim handler books the spread as paper pnl; a live handler submits a
// transaction and books zero until the fill is known.
type Handler func(ctx context.Context, sig *strategy.Signal) (float64, error)

// Orchestrator owns the run loop and the strategies it loads from the
// active directory.
type Orchestrator struct {
	root          string
	activeDir     string
	live          bool
	interval      time.Duration
	detectTimeout time.Duration
	snapshotEvery time.Duration

	feed    feeds.Feed
	keeper  *agents.Gatekeeper
	kill    *killswitch.Switch
	founder *agents.FounderGate
	ttl     *strategy.TTLManager
	board   *strategy.Scoreboard
	drp     *drp.Agent
	handler Handler
	log     *oplog.Logger
	reg     *metrics.Registry
	now     func() time.Time

	mu           sync.Mutex
	strategies   map[string]strategy.Strategy
	trackers     map[string]*strategy.Tracker
	perf         map[string]*strategy.Metrics
	lastSnapshot time.Time

	killed atomic.Bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLive arms live mode, which requires founder approval and green
// gates before the loop starts.
func WithLive(live bool) Option {
	return func(o *Orchestrator) { o.live = live }
}

// WithInterval sets the pause between iterations.
func WithInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.interval = d }
}

// WithDetectTimeout bounds each strategy's Detect call.
func WithDetectTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.detectTimeout = d }
}

// WithSnapshotEvery sets the DRP snapshot interval. Zero disables
// snapshots even when an agent is wired.
func WithSnapshotEvery(d time.Duration) Option {
	return func(o *Orchestrator) { o.snapshotEvery = d }
}

// WithActiveDir overrides where promoted strategy bundles live.
func WithActiveDir(dir string) Option {
	return func(o *Orchestrator) { o.activeDir = dir }
}

// WithHandler sets the signal handler.
func WithHandler(h Handler) Option {
	return func(o *Orchestrator) { o.handler = h }
}

// WithGatekeeper sets the gate aggregate consulted before every iteration.
func WithGatekeeper(g *agents.Gatekeeper) Option {
	return func(o *Orchestrator) { o.keeper = g }
}

// WithKillSwitch sets the switch watched for mid-loop engagement.
func WithKillSwitch(s *killswitch.Switch) Option {
	return func(o *Orchestrator) { o.kill = s }
}

// WithFounderGate sets the gate that must approve live runs.
func WithFounderGate(g *agents.FounderGate) Option {
	return func(o *Orchestrator) { o.founder = g }
}

// WithTTLManager sets the sweep used to load and expire bundles.
func WithTTLManager(m *strategy.TTLManager) Option {
	return func(o *Orchestrator) { o.ttl = m }
}

// WithScoreboard sets the board updated after every iteration.
func WithScoreboard(b *strategy.Scoreboard) Option {
	return func(o *Orchestrator) { o.board = b }
}

// WithDRPAgent wires periodic state snapshots into the loop.
func WithDRPAgent(a *drp.Agent) Option {
	return func(o *Orchestrator) { o.drp = a }
}

// WithLogger sets an explicit logger.
func WithLogger(l *oplog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithMetrics sets the registry the loop publishes to.
func WithMetrics(r *metrics.Registry) Option {
	return func(o *Orchestrator) { o.reg = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New builds an orchestrator rooted at the warden data directory. The
// feed is required; everything else has working defaults.
func New(root string, feed feeds.Feed, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		root:          root,
		activeDir:     filepath.Join(root, "active"),
		interval:      DefaultInterval,
		detectTimeout: DefaultDetectTimeout,
		snapshotEvery: DefaultSnapshotEvery,
		feed:          feed,
		now:           time.Now,
		strategies:    map[string]strategy.Strategy{},
		trackers:      map[string]*strategy.Tracker{},
		perf:          map[string]*strategy.Metrics{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		logOpts := []oplog.Option{oplog.WithDir(filepath.Join(root, "logs"))}
		if p := os.Getenv(EnvLogFile); p != "" {
			logOpts = append(logOpts, oplog.WithPath(p))
		}
		o.log = oplog.New("orchestrator", logOpts...)
	}
	if o.reg == nil {
		o.reg = metrics.Default()
	}
	if o.kill == nil {
		o.kill = killswitch.New(root)
	}
	if o.keeper == nil {
		o.keeper = agents.NewGatekeeper(root, agents.WithKillSwitch(o.kill))
	}
	if o.founder == nil {
		o.founder = agents.NewFounderGate()
	}
	if o.ttl == nil {
		o.ttl = strategy.NewTTLManager(strategy.WithTTLLogger(o.log))
	}
	if o.board == nil {
		o.board = strategy.NewScoreboard(
			strategy.WithScoreboardPath(filepath.Join(root, "state", "scoreboard.json")),
			strategy.WithScoreboardLogger(o.log),
			strategy.WithScoreboardMetrics(o.reg),
		)
	}
	if o.handler == nil {
		o.handler = func(ctx context.Context, sig *strategy.Signal) (float64, error) {
			return sig.Spread, nil
		}
	}
	return o
}

// Run drives iterations until the kill switch engages, the gates go red
// or the context is cancelled. Kill and gate halts are clean stops.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.arm(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		_ = o.kill.Watch(ctx, func(engaged bool) {
			if engaged {
				o.killed.Store(true)
				cancel()
			}
		})
	}()

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		if err := o.RunOnce(ctx); err != nil {
			if errors.Is(err, ErrGatesRed) {
				o.halt("gates_red")
				return nil
			}
			if o.killed.Load() {
				o.halt("kill_switch")
				return nil
			}
			return err
		}
		select {
		case <-ctx.Done():
			if o.killed.Load() {
				o.halt("kill_switch")
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// arm enforces the live-mode preconditions. Sim mode always arms.
func (o *Orchestrator) arm() error {
	if !o.live {
		return nil
	}
	if err := o.founder.Require("live_run"); err != nil {
		return err
	}
	if !o.keeper.GatesGreen() {
		return ErrGatesRed
	}
	_ = o.log.Log(oplog.Entry{Event: "live_armed", RiskLevel: "high"})
	return nil
}

func (o *Orchestrator) halt(reason string) {
	_ = o.log.Log(oplog.Entry{
		Event:     "halt",
		RiskLevel: "high",
		Extra:     map[string]any{"reason": reason},
	})
}

// RunOnce performs a single iteration: gates, TTL sweep, parallel detect,
// scoreboard update and the snapshot check.
func (o *Orchestrator) RunOnce(ctx context.Context) error {
	if !o.keeper.GatesGreen() {
		o.reg.Inc("iterations_blocked_total")
		return ErrGatesRed
	}

	active, _, err := o.ttl.Sweep(o.activeDir)
	if err != nil {
		return fmt.Errorf("ttl sweep: %w", err)
	}
	o.syncStrategies(active)

	o.detectAll(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if _, err := o.board.Rank(o.perfSnapshot()); err != nil {
		logging.Warnf("scoreboard update: %v", err)
	}
	o.maybeSnapshot(ctx)

	o.reg.Inc("iterations_total")
	o.reg.Set("last_iteration_unix", float64(o.now().Unix()))
	_ = o.log.Log(oplog.Entry{
		Event:     "iteration_complete",
		RiskLevel: "low",
		Extra:     map[string]any{"strategies": len(o.Strategies())},
	})
	return nil
}

// syncStrategies loads bundles that appeared in the active directory and
// unloads the ones that left it.
func (o *Orchestrator) syncStrategies(active []strategy.Manifest) {
	o.mu.Lock()
	defer o.mu.Unlock()

	seen := make(map[string]bool, len(active))
	for _, man := range active {
		seen[man.StrategyID] = true
		if _, ok := o.strategies[man.StrategyID]; ok {
			continue
		}
		strat, err := strategy.Build(man)
		if err != nil {
			_ = o.log.Log(oplog.Entry{
				Event:      "load_fail",
				StrategyID: man.StrategyID,
				RiskLevel:  "medium",
				Error:      err.Error(),
			})
			continue
		}
		o.strategies[man.StrategyID] = strat
		o.trackers[man.StrategyID] = strategy.NewTracker(man.StrategyID,
			strategy.WithTrackerLogger(o.log),
			strategy.WithTrackerMetrics(o.reg),
		)
		o.perf[man.StrategyID] = &strategy.Metrics{}
		_ = o.log.Log(oplog.Entry{Event: "strategy_loaded", StrategyID: man.StrategyID, RiskLevel: "low"})
	}

	for id := range o.strategies {
		if seen[id] {
			continue
		}
		delete(o.strategies, id)
		delete(o.trackers, id)
		delete(o.perf, id)
		_ = o.log.Log(oplog.Entry{Event: "strategy_unloaded", StrategyID: id, RiskLevel: "low"})
	}
}

// detectAll runs every enabled strategy's Detect in parallel, each under
// its own timeout. A failing strategy is recorded against its tracker and
// never cancels its peers.
func (o *Orchestrator) detectAll(ctx context.Context) {
	type task struct {
		id      string
		strat   strategy.Strategy
		tracker *strategy.Tracker
	}
	o.mu.Lock()
	tasks := make([]task, 0, len(o.strategies))
	for id, s := range o.strategies {
		tr := o.trackers[id]
		if tr.Disabled() {
			continue
		}
		tasks = append(tasks, task{id: id, strat: s, tracker: tr})
	}
	o.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, tk := range tasks {
		g.Go(func() error {
			tctx, cancel := context.WithTimeout(gctx, o.detectTimeout)
			defer cancel()

			start := time.Now()
			sig, err := tk.strat.Detect(tctx, o.feed)
			o.observeLatency(tk.id, time.Since(start))

			if err != nil {
				if ctx.Err() != nil {
					// shutdown cancelled the detect, not the strategy's fault
					return nil
				}
				o.reg.Inc("detect_fail_total")
				_ = o.log.Log(oplog.Entry{
					Event:      "exec_fail",
					StrategyID: tk.id,
					RiskLevel:  "medium",
					Error:      err.Error(),
				})
				tk.tracker.Record(false, 0)
				return nil
			}
			if sig == nil {
				tk.tracker.Healthy()
				return nil
			}

			pnl, err := o.handler(gctx, sig)
			if err != nil {
				o.reg.Inc("signal_fail_total")
				_ = o.log.Log(oplog.Entry{
					Event:      "signal_fail",
					StrategyID: tk.id,
					RiskLevel:  "medium",
					Error:      err.Error(),
					Extra:      map[string]any{"pair": sig.Pair, "action": sig.Action},
				})
				tk.tracker.Record(false, 0)
				return nil
			}
			o.observeSignal(tk.id, pnl)
			tk.tracker.Record(true, pnl)
			o.reg.Inc("signals_total")
			_ = o.log.Log(oplog.Entry{
				Event:      "signal",
				StrategyID: tk.id,
				RiskLevel:  "low",
				Extra: map[string]any{
					"pair":   sig.Pair,
					"spread": sig.Spread,
					"action": sig.Action,
					"pnl":    pnl,
				},
			})
			return nil
		})
	}
	_ = g.Wait()
}

func (o *Orchestrator) observeLatency(id string, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if m, ok := o.perf[id]; ok {
		m.Latencies = append(m.Latencies, float64(d.Milliseconds()))
	}
}

func (o *Orchestrator) observeSignal(id string, pnl float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if m, ok := o.perf[id]; ok {
		m.Opportunities++
		m.PnL += pnl
		m.Returns = append(m.Returns, pnl)
		if pnl > 0 {
			m.Wins++
		} else if pnl < 0 {
			m.Losses++
		}
	}
}

func (o *Orchestrator) perfSnapshot() map[string]strategy.Metrics {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]strategy.Metrics, len(o.perf))
	for id, m := range o.perf {
		out[id] = *m
	}
	return out
}

// maybeSnapshot runs a DRP export when one is wired and due.
func (o *Orchestrator) maybeSnapshot(ctx context.Context) {
	if o.drp == nil || o.snapshotEvery <= 0 {
		return
	}
	o.mu.Lock()
	due := o.lastSnapshot.IsZero() || o.now().Sub(o.lastSnapshot) >= o.snapshotEvery
	if due {
		o.lastSnapshot = o.now()
	}
	o.mu.Unlock()
	if !due {
		return
	}
	if err := o.drp.RunOnce(ctx); err != nil {
		_ = o.log.Log(oplog.Entry{Event: "snapshot_fail", RiskLevel: "medium", Error: err.Error()})
	}
}

// Strategies returns the ids currently loaded, sorted.
func (o *Orchestrator) Strategies() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.strategies))
	for id := range o.strategies {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Tracker returns the failure tracker for a loaded strategy.
func (o *Orchestrator) Tracker(id string) (*strategy.Tracker, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	tr, ok := o.trackers[id]
	return tr, ok
}
