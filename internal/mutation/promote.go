// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package mutation

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mevog/warden/internal/agents"
	"github.com/mevog/warden/internal/oplog"
)

// Bundle layout: candidates wait in staging/, live strategies run from
// active/, replaced or demoted versions land in archive/.
const (
	DefaultStagingDir = "staging"
	DefaultActiveDir  = "active"
	DefaultArchiveDir = "archive"
)

// Promoter moves strategy bundles between staging and active. Promotion is
// founder-gated; every move leaves an evidence record inside the bundle
// and an entry in the mutation trail.
type Promoter struct {
	staging string
	active  string
	archive string
	gate    *agents.FounderGate
	log     *oplog.Logger
	trail   *Log
	now     func() time.Time
}

// PromoteOption configures a Promoter.
type PromoteOption func(*Promoter)

// WithPromoteDirs overrides the bundle directories.
func WithPromoteDirs(staging, active, archive string) PromoteOption {
	return func(p *Promoter) {
		p.staging = staging
		p.active = active
		p.archive = archive
	}
}

// WithPromoteGate sets the founder gate consulted before promotion.
func WithPromoteGate(g *agents.FounderGate) PromoteOption {
	return func(p *Promoter) { p.gate = g }
}

// WithPromoteLogger sets an explicit logger.
func WithPromoteLogger(l *oplog.Logger) PromoteOption {
	return func(p *Promoter) { p.log = l }
}

// WithPromoteTrail sets the mutation log moves are recorded in.
func WithPromoteTrail(t *Log) PromoteOption {
	return func(p *Promoter) { p.trail = t }
}

// WithPromoteClock overrides the clock.
func WithPromoteClock(now func() time.Time) PromoteOption {
	return func(p *Promoter) { p.now = now }
}

// NewPromoter builds a promoter rooted at the working tree.
func NewPromoter(opts ...PromoteOption) *Promoter {
	p := &Promoter{
		staging: DefaultStagingDir,
		active:  DefaultActiveDir,
		archive: DefaultArchiveDir,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.gate == nil {
		p.gate = agents.NewFounderGate()
	}
	if p.log == nil {
		p.log = oplog.New("promote")
	}
	if p.trail == nil {
		p.trail = NewLog()
	}
	return p
}

// Promote moves staging/<id> into active/<id>. A version already active is
// archived first so the move is reversible. The evidence map (scores, gate
// snapshot, approvals) is appended to the bundle's evidence.jsonl.
func (p *Promoter) Promote(id string, evidence map[string]any) error {
	if err := p.gate.Require("promote_" + id); err != nil {
		_ = p.log.Log(oplog.Entry{
			Event:      "promotion_rejected",
			StrategyID: id,
			RiskLevel:  "low",
			Extra:      map[string]any{"evidence": evidence},
		})
		return err
	}

	src := filepath.Join(p.staging, id)
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("no staged bundle for %s: %w", id, err)
	}
	dst := filepath.Join(p.active, id)

	replaced := ""
	if _, err := os.Stat(dst); err == nil {
		archived, aerr := p.archiveBundle(dst, id)
		if aerr != nil {
			return fmt.Errorf("archive replaced bundle: %w", aerr)
		}
		replaced = archived
	}

	if err := copyDir(src, dst); err != nil {
		_ = p.log.Log(oplog.Entry{
			Event:      "promotion_fail",
			StrategyID: id,
			RiskLevel:  "medium",
			Error:      err.Error(),
		})
		return fmt.Errorf("copy bundle: %w", err)
	}
	if err := p.appendEvidence(dst, "promote", evidence, replaced); err != nil {
		return err
	}

	_ = p.log.Log(oplog.Entry{
		Event:      "promotion",
		StrategyID: id,
		RiskLevel:  "low",
		Extra:      map[string]any{"src": src, "dst": dst, "replaced": replaced},
	})
	return p.trail.Record("promote_strategy", id, nil, nil, map[string]any{
		"dst":      dst,
		"replaced": replaced,
	})
}

// Demote pulls active/<id> out of rotation into the archive. No gate: an
// operator demoting a misbehaving strategy must not wait for a token.
func (p *Promoter) Demote(id, reason string) error {
	dst := filepath.Join(p.active, id)
	if _, err := os.Stat(dst); err != nil {
		return fmt.Errorf("no active bundle for %s: %w", id, err)
	}
	archived, err := p.archiveBundle(dst, id)
	if err != nil {
		_ = p.log.Log(oplog.Entry{
			Event:      "demotion_fail",
			StrategyID: id,
			RiskLevel:  "high",
			Error:      err.Error(),
		})
		return err
	}
	_ = p.log.Log(oplog.Entry{
		Event:      "demotion",
		StrategyID: id,
		RiskLevel:  "high",
		Error:      reason,
		Extra:      map[string]any{"archived": archived},
	})
	return p.trail.Record("demote_strategy", id, nil, nil, map[string]any{
		"reason":   reason,
		"archived": archived,
	})
}

// archiveBundle moves a bundle to archive/<id>_<stamp> and returns the
// destination.
func (p *Promoter) archiveBundle(dir, id string) (string, error) {
	stamp := p.now().UTC().Format("20060102T150405Z")
	dest := filepath.Join(p.archive, id+"_"+stamp)
	if err := os.MkdirAll(p.archive, 0o755); err != nil {
		return "", err
	}
	if err := os.Rename(dir, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func (p *Promoter) appendEvidence(bundle, action string, evidence map[string]any, replaced string) error {
	record := map[string]any{
		"timestamp": p.now().UTC().Format(time.RFC3339),
		"action":    action,
	}
	for k, v := range evidence {
		record[k] = v
	}
	if replaced != "" {
		record["replaced"] = replaced
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(bundle, "evidence.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open evidence file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("append evidence: %w", err)
	}
	return nil
}

// copyDir copies a bundle tree, preserving layout but not metadata.
func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := os.Create(target)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, in); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	})
}
