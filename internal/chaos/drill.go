// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

// Package chaos runs disaster recovery drills. A drill builds a synthetic
// working tree, exports it, damages the archive in a specific way and then
// proves the restore path refuses the damage. Drills never touch the real
// working tree; everything happens in a sandbox under <root>/chaos.
package chaos

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mevog/warden/internal/drp"
	"github.com/mevog/warden/internal/killswitch"
	"github.com/mevog/warden/internal/metrics"
	"github.com/mevog/warden/internal/oplog"
	"github.com/mevog/warden/internal/security"
)

// EnvMetricsFile overrides where drill metrics accumulate.
const EnvMetricsFile = "CHAOS_METRICS"

// DefaultCycles is how many times one Run walks the scenario list.
const DefaultCycles = 1

// ScenarioResult is the outcome of one scenario in one cycle. Held means
// the protection under test did its job.
type ScenarioResult struct {
	Name     string        `json:"name"`
	Cycle    int           `json:"cycle"`
	Held     bool          `json:"held"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report summarizes a full drill run.
type Report struct {
	StartedAt time.Time        `json:"started_at"`
	Cycles    int              `json:"cycles"`
	Results   []ScenarioResult `json:"results"`
	Breaches  int              `json:"breaches"`
	Aborted   bool             `json:"aborted"`
	Duration  time.Duration    `json:"duration"`
}

// Passed reports whether every scenario held and the drill ran to the end.
func (r *Report) Passed() bool { return !r.Aborted && r.Breaches == 0 }

// Drill owns the sandbox, the scenario list and the drill bookkeeping.
type Drill struct {
	root          string
	cycles        int
	keep          bool
	restoreBudget time.Duration
	metricsPath   string
	kill          *killswitch.Switch
	log           *oplog.Logger
	reg           *metrics.Registry
	now           func() time.Time
}

// Option configures a Drill.
type Option func(*Drill)

// WithCycles sets how many times the scenario list runs.
func WithCycles(n int) Option {
	return func(d *Drill) { d.cycles = n }
}

// WithKeep leaves the sandbox trees on disk for inspection.
func WithKeep(keep bool) Option {
	return func(d *Drill) { d.keep = keep }
}

// WithRestoreBudget sets the wall-clock limit a clean restore must meet.
func WithRestoreBudget(budget time.Duration) Option {
	return func(d *Drill) { d.restoreBudget = budget }
}

// WithMetricsPath overrides the drill metrics file.
func WithMetricsPath(path string) Option {
	return func(d *Drill) { d.metricsPath = path }
}

// WithKillSwitch sets the switch that aborts a running drill.
func WithKillSwitch(s *killswitch.Switch) Option {
	return func(d *Drill) { d.kill = s }
}

// WithLogger sets an explicit drill logger.
func WithLogger(l *oplog.Logger) Option {
	return func(d *Drill) { d.log = l }
}

// WithMetrics sets the registry drill counters publish to.
func WithMetrics(r *metrics.Registry) Option {
	return func(d *Drill) { d.reg = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Drill) { d.now = now }
}

// New builds a drill rooted at the warden data directory. Sandboxes live
// under <root>/chaos, metrics accumulate in <root>/state/drill_metrics.json
// unless CHAOS_METRICS points elsewhere.
func New(root string, opts ...Option) *Drill {
	d := &Drill{
		root:          root,
		cycles:        DefaultCycles,
		restoreBudget: drp.RestoreBudget,
		metricsPath:   filepath.Join(root, "state", "drill_metrics.json"),
		now:           time.Now,
	}
	if p := os.Getenv(EnvMetricsFile); p != "" {
		d.metricsPath = p
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.cycles < 1 {
		d.cycles = 1
	}
	if d.kill == nil {
		d.kill = killswitch.New(root)
	}
	if d.log == nil {
		d.log = oplog.New("chaos_drill", oplog.WithDir(filepath.Join(root, "logs")))
	}
	if d.reg == nil {
		d.reg = metrics.Default()
	}
	return d
}

// Run walks the scenario list cycles times. Scenarios inside a cycle run in
// parallel, each in its own sandbox. The returned error is only ever a
// context error; breached scenarios are reported, not returned.
func (d *Drill) Run(ctx context.Context) (*Report, error) {
	start := d.now()
	rep := &Report{StartedAt: start.UTC(), Cycles: d.cycles}
	_ = d.log.Log(oplog.Entry{
		Event:     "drill_start",
		RiskLevel: "low",
		Extra:     map[string]any{"cycles": d.cycles, "scenarios": len(scenarios)},
	})

	for cycle := 1; cycle <= d.cycles; cycle++ {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if d.kill.Engaged() {
			rep.Aborted = true
			_ = d.log.Log(oplog.Entry{
				Event:     "drill_aborted",
				RiskLevel: "high",
				Extra:     map[string]any{"cycle": cycle, "reason": "kill_switch"},
			})
			break
		}

		results := d.runCycle(ctx, cycle)
		for _, res := range results {
			rep.Results = append(rep.Results, res)
			if !res.Held {
				rep.Breaches++
			}
		}
		if err := d.updateMetricsFile(results); err != nil {
			_ = d.log.Log(oplog.Entry{
				Event:     "metrics_write_fail",
				RiskLevel: "medium",
				Error:     err.Error(),
			})
		}
	}

	rep.Duration = d.now().Sub(start)
	d.reg.Inc("drill_runs_total")
	d.reg.Add("drill_scenarios_total", float64(len(rep.Results)))
	d.reg.Add("drill_breaches_total", float64(rep.Breaches))
	d.reg.Set("last_drill_unix", float64(d.now().Unix()))

	risk := "low"
	if !rep.Passed() {
		risk = "high"
	}
	_ = d.log.Log(oplog.Entry{
		Event:     "drill_complete",
		RiskLevel: risk,
		Extra: map[string]any{
			"scenarios":   len(rep.Results),
			"breaches":    rep.Breaches,
			"passed":      rep.Passed(),
			"duration_ms": rep.Duration.Milliseconds(),
		},
	})
	return rep, nil
}

// runCycle fans the scenario list out in parallel. Every scenario gets its
// own sandbox, so concurrent export/restore runs cannot collide.
func (d *Drill) runCycle(ctx context.Context, cycle int) []ScenarioResult {
	results := make([]ScenarioResult, len(scenarios))
	g, gctx := errgroup.WithContext(ctx)
	for i, sc := range scenarios {
		g.Go(func() error {
			start := time.Now()
			res := ScenarioResult{Name: sc.name, Cycle: cycle, Held: true}

			box, err := d.newSandbox(sc.name, cycle)
			if err != nil {
				res.Held = false
				res.Detail = fmt.Sprintf("sandbox: %v", err)
			} else {
				if !d.keep {
					defer func() { _ = os.RemoveAll(box.dir) }()
				}
				if err := sc.run(d, gctx, box); err != nil {
					res.Held = false
					res.Detail = err.Error()
				}
			}
			res.Duration = time.Since(start)
			results[i] = res

			if res.Held {
				_ = d.log.Log(oplog.Entry{
					Event:     "scenario_held",
					RiskLevel: "low",
					Extra: map[string]any{
						"scenario":    sc.name,
						"cycle":       cycle,
						"duration_ms": res.Duration.Milliseconds(),
					},
				})
			} else {
				_ = d.log.Log(oplog.Entry{
					Event:     "scenario_breach",
					RiskLevel: "high",
					Error:     res.Detail,
					Extra:     map[string]any{"scenario": sc.name, "cycle": cycle},
				})
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// sandbox is one scenario's scratch space: a synthetic tree to export from
// and an empty target to restore into.
type sandbox struct {
	dir    string
	tree   string
	target string
	canary string
}

func (d *Drill) newSandbox(scenario string, cycle int) (*sandbox, error) {
	dir := filepath.Join(d.root, "chaos", fmt.Sprintf("%s_c%d_%d", scenario, cycle, time.Now().UnixNano()))
	box := &sandbox{
		dir:    dir,
		tree:   filepath.Join(dir, "tree"),
		target: filepath.Join(dir, "restored"),
		canary: fmt.Sprintf("drill %s cycle %d at %s\n", scenario, cycle, d.now().UTC().Format(time.RFC3339Nano)),
	}
	if err := os.MkdirAll(box.target, 0o755); err != nil {
		return nil, err
	}
	if err := seedTree(box.tree, box.canary); err != nil {
		return nil, err
	}
	return box, nil
}

// exporter builds an exporter pinned to the sandbox. Everything is set
// explicitly so ambient EXPORT_DIR/DRP_ENC_KEY overrides cannot leak a
// drill into the real export directory.
func (d *Drill) exporter(box *sandbox, passphrase security.Secret) *drp.Exporter {
	return drp.NewExporter(box.tree,
		drp.WithExportDir(filepath.Join(box.dir, "export")),
		drp.WithPassphrase(passphrase),
		drp.WithExportLogger(oplog.New("export_state", oplog.WithPath(filepath.Join(box.tree, "logs", "export_state.log")))),
		drp.WithErrorLogger(oplog.New("errors", oplog.WithPath(filepath.Join(box.tree, "logs", "errors.log")))),
	)
}

func (d *Drill) restorer(box *sandbox, passphrase security.Secret) *drp.Restorer {
	return drp.NewRestorer(box.target,
		drp.WithRestoreExportDir(filepath.Join(box.dir, "export")),
		drp.WithRestorePassphrase(passphrase),
		drp.WithRestoreBudget(d.restoreBudget),
		drp.WithRollbackLogger(oplog.New("rollback", oplog.WithPath(filepath.Join(box.dir, "rollback.log")))),
		drp.WithRestoreErrorLogger(oplog.New("errors", oplog.WithPath(filepath.Join(box.dir, "errors.log")))),
	)
}

// drillMetric is the per-scenario tally persisted across runs.
type drillMetric struct {
	Runs     int `json:"runs"`
	Failures int `json:"failures"`
}

// updateMetricsFile merge-increments the drill metrics file. An unreadable
// file starts a fresh tally rather than blocking the drill.
func (d *Drill) updateMetricsFile(results []ScenarioResult) error {
	tally := map[string]*drillMetric{}
	if raw, err := os.ReadFile(d.metricsPath); err == nil {
		if err := json.Unmarshal(raw, &tally); err != nil {
			tally = map[string]*drillMetric{}
		}
	}
	for _, res := range results {
		m := tally[res.Name]
		if m == nil {
			m = &drillMetric{}
			tally[res.Name] = m
		}
		m.Runs++
		if !res.Held {
			m.Failures++
		}
	}
	data, err := json.MarshalIndent(tally, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(d.metricsPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(d.metricsPath, data, 0o644)
}
