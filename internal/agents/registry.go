// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

// Package agents holds the risk and operations agents that gate live
// trading: the capital lock, the founder gate, multi-sig approval, the ops
// health agent and the gatekeeper that aggregates them. Agents publish
// their state through a shared registry so separate warden processes see
// the same picture.
package agents

import (
	"strconv"
	"sync"

	"github.com/mevog/warden/internal/db"
	"github.com/mevog/warden/internal/logging"
)

// Registry keys published by the agents in this package.
const (
	KeyCapitalLocked = "capital_locked"
	KeyOpsPaused     = "paused"
	KeyDRPReady      = "drp_ready"
)

// Registry is a process-local key/value store mirrored to the agent_state
// table. Reads prefer the local copy and fall back to the database, so a
// fresh process (warden gates in a cron job) sees what the long-running
// agents last published.
type Registry struct {
	mu      sync.RWMutex
	values  map[string]string
	persist bool
}

// NewRegistry returns a registry that mirrors writes to the database when
// one is initialized.
func NewRegistry() *Registry {
	return &Registry{values: map[string]string{}, persist: true}
}

// NewLocalRegistry returns a registry without the database mirror.
func NewLocalRegistry() *Registry {
	return &Registry{values: map[string]string{}}
}

// Set stores value under key and mirrors it to agent_state.
func (r *Registry) Set(key, value string) {
	r.mu.Lock()
	r.values[key] = value
	r.mu.Unlock()
	if r.persist && db.IsInitialized() {
		if err := db.SetAgentState(key, value); err != nil {
			logging.Warnf("agent registry: mirror %s: %v", key, err)
		}
	}
}

// SetBool stores a boolean under key.
func (r *Registry) SetBool(key string, v bool) {
	r.Set(key, strconv.FormatBool(v))
}

// Get returns the value under key. A local miss falls through to the
// agent_state table.
func (r *Registry) Get(key string) (string, bool) {
	r.mu.RLock()
	v, ok := r.values[key]
	r.mu.RUnlock()
	if ok {
		return v, true
	}
	if r.persist && db.IsInitialized() {
		row, err := db.GetAgentState(key)
		if err == nil && row != nil {
			return row.Value, true
		}
	}
	return "", false
}

// GetBool returns the boolean under key, or def when absent or unparseable.
func (r *Registry) GetBool(key string, def bool) bool {
	v, ok := r.Get(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// Snapshot returns a copy of the local values.
func (r *Registry) Snapshot() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the process-wide registry shared by agents that
// are not constructed with an explicit one.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() { defaultRegistry = NewRegistry() })
	return defaultRegistry
}
