// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package chaos

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/mevog/warden/internal/logging"
	"github.com/mevog/warden/internal/oplog"
)

// EnvEvery overrides the scheduled drill period, as a Go duration string.
const EnvEvery = "CHAOS_INTERVAL"

// DefaultEvery is the scheduled drill period. Weekly keeps the restore path
// proven without drowning the logs.
const DefaultEvery = 7 * 24 * time.Hour

// Scheduler runs the drill on a fixed period until the context ends or the
// kill switch aborts a run.
type Scheduler struct {
	drill *Drill
	every time.Duration
	log   *oplog.Logger
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithEvery sets the period between drills.
func WithEvery(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.every = d }
}

// WithSchedulerLogger sets an explicit scheduler logger.
func WithSchedulerLogger(l *oplog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.log = l }
}

// NewScheduler wraps a drill in a periodic runner. CHAOS_INTERVAL is honored
// unless an option overrides it.
func NewScheduler(drill *Drill, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{drill: drill, every: DefaultEvery}
	if raw := os.Getenv(EnvEvery); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			s.every = d
		} else {
			logging.Warnf("ignoring %s=%q: not a positive duration", EnvEvery, raw)
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = oplog.New("chaos_scheduler", oplog.WithDir(filepath.Join(drill.root, "logs")))
	}
	return s
}

// Run drills immediately and then on every period tick. An aborted drill
// stops the scheduler; it restarts only once an operator has cleaned the
// kill switch and relaunched.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()

	for {
		rep, err := s.drill.Run(ctx)
		if err != nil {
			return err
		}
		if rep.Aborted {
			_ = s.log.Log(oplog.Entry{
				Event:     "scheduler_halt",
				RiskLevel: "high",
				Extra:     map[string]any{"reason": "kill_switch"},
			})
			return nil
		}
		risk := "low"
		if !rep.Passed() {
			risk = "high"
		}
		_ = s.log.Log(oplog.Entry{
			Event:     "scheduled_drill",
			RiskLevel: risk,
			Extra: map[string]any{
				"scenarios": len(rep.Results),
				"breaches":  rep.Breaches,
				"passed":    rep.Passed(),
			},
		})

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
