// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package drp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/mevog/warden/internal/logging"
	"github.com/mevog/warden/internal/oplog"
)

// Pusher replicates an archive off the host. The offsite package provides
// the SFTP implementation; tests inject fakes.
type Pusher interface {
	Push(ctx context.Context, localPath string) error
}

// Health is the agent's periodic self-report. It is logged and published to
// the agent state table so the gatekeeper can refuse live trading when the
// newest package is too old.
type Health struct {
	LastArchive   string        `json:"last_archive"`
	LastExportAge time.Duration `json:"last_export_age_ns"`
	ArchiveCount  int           `json:"archive_count"`
	DiskFreeBytes uint64        `json:"disk_free_bytes"`
}

// Agent runs the periodic export loop: export, optional offsite push,
// retention clean, health report.
type Agent struct {
	ex        *Exporter
	pusher    Pusher
	interval  time.Duration
	log       *oplog.Logger
	stateSink func(key, value string) error
	now       func() time.Time
}

// AgentOption configures an Agent.
type AgentOption func(*Agent)

// WithPusher enables offsite replication after each export.
func WithPusher(p Pusher) AgentOption {
	return func(a *Agent) { a.pusher = p }
}

// WithInterval sets the export cadence. Default is six hours.
func WithInterval(d time.Duration) AgentOption {
	return func(a *Agent) { a.interval = d }
}

// WithAgentLogger sets an explicit agent logger.
func WithAgentLogger(l *oplog.Logger) AgentOption {
	return func(a *Agent) { a.log = l }
}

// WithStateSink publishes each health report under the "drp_health" key.
// Callers wire this to the agent state table.
func WithStateSink(sink func(key, value string) error) AgentOption {
	return func(a *Agent) { a.stateSink = sink }
}

// WithAgentClock overrides the time source for tests.
func WithAgentClock(now func() time.Time) AgentOption {
	return func(a *Agent) { a.now = now }
}

// NewAgent wires an Agent around the given exporter.
func NewAgent(ex *Exporter, opts ...AgentOption) *Agent {
	a := &Agent{
		ex:       ex,
		interval: 6 * time.Hour,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = oplog.New("drp_agent", oplog.WithPath(filepath.Join(ex.root, "logs", "drp_agent.log")))
	}
	return a
}

// Run executes one cycle immediately, then repeats on the configured
// interval until ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.RunOnce(ctx); err != nil {
		logging.Errorf("drp agent cycle: %v", err)
	}
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.RunOnce(ctx); err != nil {
				logging.Errorf("drp agent cycle: %v", err)
			}
		}
	}
}

// RunOnce performs a single export cycle. Push and clean failures are logged
// but do not fail the cycle; the export itself is the part that must work.
func (a *Agent) RunOnce(ctx context.Context) error {
	res, err := a.ex.Export()
	if err != nil {
		_ = a.log.Log(oplog.Entry{Event: "export_failed", Error: err.Error()})
		return err
	}
	_ = a.log.Log(oplog.Entry{
		Event: "export",
		Extra: map[string]any{
			"archive":     res.Archive,
			"files":       res.Files,
			"bytes":       res.Bytes,
			"encrypted":   res.Encrypted,
			"duration_ms": res.Duration.Milliseconds(),
		},
	})

	if a.pusher != nil {
		if err := a.pusher.Push(ctx, res.Archive); err != nil {
			logging.Warnf("offsite push of %s: %v", filepath.Base(res.Archive), err)
			_ = a.log.Log(oplog.Entry{Event: "push_failed", Error: err.Error(), Extra: map[string]any{"archive": res.Archive}})
		} else {
			_ = a.log.Log(oplog.Entry{Event: "push", Extra: map[string]any{"archive": res.Archive}})
		}
	}

	if removed, err := a.ex.Clean(); err != nil {
		logging.Warnf("retention clean: %v", err)
	} else if len(removed) > 0 {
		_ = a.log.Log(oplog.Entry{Event: "clean", Extra: map[string]any{"removed": len(removed)}})
	}

	a.reportHealth()
	return nil
}

// Health inspects the export dir and returns the current self-report.
func (a *Agent) Health() Health {
	h := Health{}
	archives, err := ListArchives(a.ex.exportDir)
	if err != nil {
		return h
	}
	h.ArchiveCount = len(archives)
	if len(archives) > 0 {
		newest := archives[len(archives)-1]
		h.LastArchive = filepath.Base(newest)
		if fi, err := os.Stat(newest); err == nil {
			h.LastExportAge = a.now().Sub(fi.ModTime())
		}
	}
	h.DiskFreeBytes = DiskFree(a.ex.exportDir)
	return h
}

func (a *Agent) reportHealth() {
	h := a.Health()
	_ = a.log.Log(oplog.Entry{
		Event: "health",
		Extra: map[string]any{
			"last_archive":    h.LastArchive,
			"last_export_age": h.LastExportAge.String(),
			"archive_count":   h.ArchiveCount,
			"disk_free_bytes": h.DiskFreeBytes,
		},
	})
	if a.stateSink != nil {
		if data, err := json.Marshal(h); err == nil {
			if err := a.stateSink("drp_health", string(data)); err != nil {
				logging.Warnf("publish drp health: %v", err)
			}
		}
	}
}
