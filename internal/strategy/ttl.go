// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package strategy

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mevog/warden/internal/model"
	"github.com/mevog/warden/internal/oplog"
	"github.com/mevog/warden/internal/vote"
)

// TTLManager expires deployed strategies whose manifest lifetime has run
// out. Expired strategies leave the active set immediately; removal of the
// bundle itself goes through a prune proposal so humans stay in the loop.
type TTLManager struct {
	log    *oplog.Logger
	quorum *vote.Quorum
	now    func() time.Time
}

// TTLOption configures a TTLManager.
type TTLOption func(*TTLManager)

// WithTTLLogger sets an explicit logger.
func WithTTLLogger(l *oplog.Logger) TTLOption {
	return func(t *TTLManager) { t.log = l }
}

// WithTTLProposals makes expiry file a prune proposal through the quorum.
func WithTTLProposals(q *vote.Quorum) TTLOption {
	return func(t *TTLManager) { t.quorum = q }
}

// WithTTLClock overrides the clock.
func WithTTLClock(now func() time.Time) TTLOption {
	return func(t *TTLManager) { t.now = now }
}

// NewTTLManager builds a manager.
func NewTTLManager(opts ...TTLOption) *TTLManager {
	t := &TTLManager{now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	if t.log == nil {
		t.log = oplog.New("strategy_ttl")
	}
	return t
}

// Sweep walks dir for <id>/strategy.yaml bundles and partitions them into
// still-active and expired. Lifetime counts from the manifest file mtime; a
// zero ttl_hours never expires. Unparseable manifests are logged and kept
// active so a bad edit cannot silently retire a strategy.
func (t *TTLManager) Sweep(dir string) (active, expired []Manifest, err error) {
	pattern := filepath.Join(dir, "*", ManifestName)
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	for _, path := range paths {
		m, lerr := LoadManifest(path)
		if lerr != nil {
			_ = t.log.Log(oplog.Entry{
				Event:      "ttl_parse_fail",
				StrategyID: filepath.Base(filepath.Dir(path)),
				RiskLevel:  "medium",
				Error:      lerr.Error(),
			})
			m = Manifest{StrategyID: filepath.Base(filepath.Dir(path)), Path: path}
			active = append(active, m)
			continue
		}
		if m.TTLHours == 0 || !t.expiredAt(path, m.TTL()) {
			active = append(active, m)
			continue
		}
		expired = append(expired, m)
		_ = t.log.Log(oplog.Entry{
			Event:      "strategy_expired",
			StrategyID: m.StrategyID,
			RiskLevel:  "low",
			Extra:      map[string]any{"ttl_hours": m.TTLHours},
		})
		if t.quorum != nil {
			payload := fmt.Sprintf(`{"reason":"ttl_expired","ttl_hours":%d}`, m.TTLHours)
			if _, perr := t.quorum.Propose(model.KindPrune, m.StrategyID, payload, "strategy_ttl", 0.5); perr != nil {
				_ = t.log.Log(oplog.Entry{
					Event:      "ttl_proposal_fail",
					StrategyID: m.StrategyID,
					RiskLevel:  "medium",
					Error:      perr.Error(),
				})
			}
		}
	}
	return active, expired, nil
}

func (t *TTLManager) expiredAt(path string, ttl time.Duration) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !t.now().Before(info.ModTime().Add(ttl))
}
