// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

// Package mutation evolves the strategy fleet: it logs every parameter
// change, flags underperformers for pruning, moves bundles between staging
// and active with founder approval, and asks a model for parameter
// mutations that are only ever applied through an approved proposal.
package mutation

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mevog/warden/internal/db"
	"github.com/mevog/warden/internal/oplog"
)

// EnvLogFile overrides the mutation log location.
const EnvLogFile = "MUTATION_LOG"

// EnvMutationID tags log entries with the running mutation generation.
const EnvMutationID = "MUTATION_ID"

// CurrentMutationID returns the generation tag for log entries.
func CurrentMutationID() string {
	if id := os.Getenv(EnvMutationID); id != "" {
		return id
	}
	return "dev"
}

// Log is the append-only trail of every mutation decision, mirrored into
// the control-plane database when one is configured.
type Log struct {
	log *oplog.Logger
}

// LogOption configures a Log.
type LogOption func(*Log)

// WithLogLogger sets an explicit writer.
func WithLogLogger(l *oplog.Logger) LogOption {
	return func(m *Log) { m.log = l }
}

// NewLog opens the mutation trail at logs/mutation_log.json, or wherever
// MUTATION_LOG points.
func NewLog(opts ...LogOption) *Log {
	m := &Log{}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		logOpts := []oplog.Option{oplog.WithPath(filepath.Join("logs", "mutation_log.json"))}
		if p := os.Getenv(EnvLogFile); p != "" {
			logOpts = []oplog.Option{oplog.WithPath(p)}
		}
		m.log = oplog.New("mutation_log", logOpts...)
	}
	return m
}

// Record appends one mutation event. Before and after parameter maps are
// folded into the entry; extra carries event-specific fields.
func (m *Log) Record(event, strategyID string, before, after map[string]float64, extra map[string]any) error {
	e := oplog.Entry{
		Event:      event,
		StrategyID: strategyID,
		MutationID: CurrentMutationID(),
		Extra:      map[string]any{},
	}
	for k, v := range extra {
		e.Extra[k] = v
	}
	if before != nil {
		e.Extra["before"] = before
	}
	if after != nil {
		e.Extra["after"] = after
	}
	if err := m.log.Log(e); err != nil {
		return err
	}
	if db.IsInitialized() {
		_ = db.LogAction("MUTATION_"+strings.ToUpper(event), fmt.Sprintf("strategy: %s, mutation: %s", strategyID, e.MutationID))
	}
	return nil
}

// Read returns every recorded entry, oldest first.
func (m *Log) Read() ([]oplog.Entry, error) {
	return oplog.ReadFile(m.log.Path())
}

// Path returns where the trail is written.
func (m *Log) Path() string { return m.log.Path() }

// Events filters the trail by event name, preserving order.
func (m *Log) Events(names ...string) ([]oplog.Entry, error) {
	all, err := m.Read()
	if err != nil {
		return nil, err
	}
	want := map[string]bool{}
	for _, n := range names {
		want[n] = true
	}
	var out []oplog.Entry
	for _, e := range all {
		if want[e.Event] {
			out = append(out, e)
		}
	}
	return out, nil
}

// SortedStrategyIDs lists the distinct strategies the trail mentions.
func (m *Log) SortedStrategyIDs() ([]string, error) {
	all, err := m.Read()
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	for _, e := range all {
		if e.StrategyID != "" {
			seen[e.StrategyID] = true
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
