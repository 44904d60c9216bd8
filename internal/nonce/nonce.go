// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

// Package nonce allocates per-address transaction nonces. Allocations are
// monotonic against both the local cache and the chain's pending count, so
// a restarted process never reuses a nonce it handed out before the crash.
// The cache lives in state/nonce_cache.json and every movement is logged.
package nonce

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mevog/warden/internal/chain"
	"github.com/mevog/warden/internal/oplog"
)

// DefaultCachePath is where allocations persist between runs. The DRP
// exporter captures the state directory, so recovery keeps nonce history.
const DefaultCachePath = "state/nonce_cache.json"

// EnvLogFile overrides the nonce log location.
const EnvLogFile = "NONCE_LOG_FILE"

// Manager hands out nonces. The cache maps address to the next unallocated
// nonce; the chain's pending count only ever raises it.
type Manager struct {
	mu        sync.Mutex
	client    chain.Client
	cachePath string
	nonces    map[string]uint64
	log       *oplog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClient wires the chain client used for pending-count syncs.
func WithClient(c chain.Client) Option {
	return func(m *Manager) { m.client = c }
}

// WithCachePath overrides the cache file location.
func WithCachePath(path string) Option {
	return func(m *Manager) { m.cachePath = path }
}

// WithLogger sets an explicit nonce logger.
func WithLogger(l *oplog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// NewManager loads the cache and returns a ready allocator. A missing or
// corrupt cache file starts empty; the chain sync in Next repairs it.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		cachePath: DefaultCachePath,
		nonces:    map[string]uint64{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		logOpts := []oplog.Option{oplog.WithPath(filepath.Join("logs", "nonce_log.json"))}
		if p := os.Getenv(EnvLogFile); p != "" {
			logOpts = []oplog.Option{oplog.WithPath(p)}
		}
		m.log = oplog.New("nonce", logOpts...)
	}
	if data, err := os.ReadFile(m.cachePath); err == nil {
		loaded := map[string]uint64{}
		if json.Unmarshal(data, &loaded) == nil {
			m.nonces = loaded
		}
	}
	return m
}

// Next allocates the nonce for address's next transaction. It takes the
// maximum of the local cache and the chain's pending count; a failing chain
// read falls back to the cache so submission keeps working through RPC
// flaps.
func (m *Manager) Next(ctx context.Context, address, txID string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.nonces[address]
	var onChain any
	if m.client != nil {
		pending, err := m.client.PendingNonce(ctx, address)
		if err != nil {
			_ = m.log.Log(oplog.Entry{
				Event: "chain_read_failed",
				TxID:  txID,
				Error: err.Error(),
				Extra: map[string]any{"address": address},
			})
		} else {
			onChain = pending
			if pending > next {
				next = pending
			}
		}
	}

	prev, had := m.nonces[address]
	m.nonces[address] = next + 1
	if err := m.persist(); err != nil {
		if had {
			m.nonces[address] = prev
		} else {
			delete(m.nonces, address)
		}
		return 0, fmt.Errorf("persist nonce cache: %w", err)
	}
	_ = m.log.Log(oplog.Entry{
		Event: "get",
		TxID:  txID,
		Extra: map[string]any{
			"address":        address,
			"on_chain_nonce": onChain,
			"local_nonce":    next,
		},
	})
	return next, nil
}

// Observe records a nonce consumed outside the allocator, raising the
// cache so the next allocation lands above it. Lower observations are
// ignored; the allocator never moves backwards.
func (m *Manager) Observe(address string, used uint64, txID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if used+1 <= m.nonces[address] {
		return nil
	}
	prev := m.nonces[address]
	m.nonces[address] = used + 1
	if err := m.persist(); err != nil {
		m.nonces[address] = prev
		return fmt.Errorf("persist nonce cache: %w", err)
	}
	return m.log.Log(oplog.Entry{
		Event: "observe",
		TxID:  txID,
		Extra: map[string]any{
			"address":     address,
			"local_nonce": used + 1,
		},
	})
}

// Reset drops the cached nonce for address so the next allocation resyncs
// from the chain. Used after a nonce-too-low rejection.
func (m *Manager) Reset(ctx context.Context, address, txID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, had := m.nonces[address]
	delete(m.nonces, address)
	if err := m.persist(); err != nil {
		if had {
			m.nonces[address] = prev
		}
		return fmt.Errorf("persist nonce cache: %w", err)
	}
	var onChain any
	if m.client != nil {
		if pending, err := m.client.PendingNonce(ctx, address); err == nil {
			onChain = pending
		}
	}
	return m.log.Log(oplog.Entry{
		Event: "reset",
		TxID:  txID,
		Extra: map[string]any{
			"address":        address,
			"on_chain_nonce": onChain,
		},
	})
}

// Current returns the next unallocated nonce for address without
// allocating it.
func (m *Manager) Current(address string) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nonces[address]
	return n, ok
}

// Snapshot writes the cache to path for inclusion in recovery packages.
func (m *Manager) Snapshot(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return writeAtomic(path, m.nonces)
}

// Restore replaces the cache with the snapshot at path and persists it.
func (m *Manager) Restore(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read nonce snapshot: %w", err)
	}
	loaded := map[string]uint64{}
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parse nonce snapshot: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nonces = loaded
	if err := m.persist(); err != nil {
		return fmt.Errorf("persist restored cache: %w", err)
	}
	return m.log.Log(oplog.Entry{
		Event: "restore",
		Extra: map[string]any{"addresses": len(loaded), "snapshot": path},
	})
}

// persist writes the cache atomically. Callers hold the mutex.
func (m *Manager) persist() error {
	return writeAtomic(m.cachePath, m.nonces)
}

// writeAtomic writes the map as JSON via a temp file rename, mode 0600.
// Capital-relevant state never hits disk partially written.
func writeAtomic(path string, nonces map[string]uint64) error {
	data, err := json.Marshal(nonces)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
