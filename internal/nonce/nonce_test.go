// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package nonce

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/mevog/warden/internal/chain"
	"github.com/mevog/warden/internal/oplog"
)

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	dir := t.TempDir()
	all := append([]Option{
		WithCachePath(filepath.Join(dir, "nonce_cache.json")),
		WithLogger(oplog.New("nonce", oplog.WithPath(filepath.Join(dir, "nonce_log.json")))),
	}, opts...)
	return NewManager(all...)
}

func TestNextWithoutClient(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	for want := uint64(0); want < 3; want++ {
		got, err := m.Next(ctx, "0xdead", "")
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("allocation %d: got %d", want, got)
		}
	}

	// A new manager over the same cache continues the sequence.
	reloaded := NewManager(
		WithCachePath(m.cachePath),
		WithLogger(oplog.New("nonce", oplog.WithPath(filepath.Join(t.TempDir(), "log.json")))),
	)
	got, err := reloaded.Next(ctx, "0xdead", "")
	if err != nil {
		t.Fatal(err)
	}
	if got != 3 {
		t.Fatalf("reloaded allocation: got %d, want 3", got)
	}
}

func TestNextSyncsWithChain(t *testing.T) {
	sim := chain.NewSimClient(chain.WithSimNonce("0xdead", 5))
	m := newTestManager(t, WithClient(sim))
	ctx := context.Background()

	got, err := m.Next(ctx, "0xdead", "tx1")
	if err != nil {
		t.Fatal(err)
	}
	if got != 5 {
		t.Fatalf("first allocation: got %d, want chain's 5", got)
	}

	// A lower chain count must not roll the allocator back.
	sim.SetNonce("0xdead", 2)
	got, err = m.Next(ctx, "0xdead", "tx2")
	if err != nil {
		t.Fatal(err)
	}
	if got != 6 {
		t.Fatalf("second allocation: got %d, want 6", got)
	}
}

func TestChainFlapFallsBackToCache(t *testing.T) {
	sim := chain.NewSimClient(chain.WithSimNonce("0xdead", 3))
	m := newTestManager(t, WithClient(sim))
	ctx := context.Background()

	if got, _ := m.Next(ctx, "0xdead", ""); got != 3 {
		t.Fatalf("seed allocation: got %d", got)
	}
	sim.FailNext("PendingNonce", errors.New("rpc unreachable"))
	got, err := m.Next(ctx, "0xdead", "")
	if err != nil {
		t.Fatalf("allocation failed during rpc flap: %v", err)
	}
	if got != 4 {
		t.Fatalf("flap allocation: got %d, want 4", got)
	}

	entries, err := oplog.ReadFile(m.log.Path())
	if err != nil {
		t.Fatal(err)
	}
	var sawFlap bool
	for _, e := range entries {
		if e.Event == "chain_read_failed" {
			sawFlap = true
		}
	}
	if !sawFlap {
		t.Error("rpc failure was not logged")
	}
}

func TestObserveRaisesOnly(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if err := m.Observe("0xdead", 9, "ext1"); err != nil {
		t.Fatal(err)
	}
	if got, _ := m.Next(ctx, "0xdead", ""); got != 10 {
		t.Fatalf("after observe 9: got %d, want 10", got)
	}
	if err := m.Observe("0xdead", 4, "ext2"); err != nil {
		t.Fatal(err)
	}
	if got, _ := m.Next(ctx, "0xdead", ""); got != 11 {
		t.Fatalf("low observe moved the allocator: got %d, want 11", got)
	}
}

func TestResetResyncsFromChain(t *testing.T) {
	sim := chain.NewSimClient()
	m := newTestManager(t, WithClient(sim))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := m.Next(ctx, "0xdead", ""); err != nil {
			t.Fatal(err)
		}
	}
	sim.SetNonce("0xdead", 2)
	if err := m.Reset(ctx, "0xdead", "drift"); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Current("0xdead"); ok {
		t.Fatal("reset left a cached value")
	}
	got, err := m.Next(ctx, "0xdead", "")
	if err != nil {
		t.Fatal(err)
	}
	if got != 2 {
		t.Fatalf("post-reset allocation: got %d, want chain's 2", got)
	}
}

func TestSnapshotRestore(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := m.Next(ctx, "0xdead", ""); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := m.Next(ctx, "0xbeef", ""); err != nil {
		t.Fatal(err)
	}

	snap := filepath.Join(t.TempDir(), "nonce_snapshot.json")
	if err := m.Snapshot(snap); err != nil {
		t.Fatal(err)
	}
	if runtime.GOOS != "windows" {
		fi, err := os.Stat(snap)
		if err != nil {
			t.Fatal(err)
		}
		if fi.Mode().Perm() != 0o600 {
			t.Errorf("snapshot mode = %o, want 0600", fi.Mode().Perm())
		}
	}

	// Drift the live allocator, then roll it back.
	for i := 0; i < 3; i++ {
		if _, err := m.Next(ctx, "0xdead", ""); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.Restore(snap); err != nil {
		t.Fatal(err)
	}
	got, err := m.Next(ctx, "0xdead", "")
	if err != nil {
		t.Fatal(err)
	}
	if got != 4 {
		t.Fatalf("post-restore allocation: got %d, want 4", got)
	}
	if got, _ := m.Next(ctx, "0xbeef", ""); got != 1 {
		t.Fatalf("post-restore allocation for 0xbeef: got %d, want 1", got)
	}
}

func TestCorruptCacheStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	cache := filepath.Join(dir, "nonce_cache.json")
	if err := os.WriteFile(cache, []byte("not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	m := NewManager(
		WithCachePath(cache),
		WithLogger(oplog.New("nonce", oplog.WithPath(filepath.Join(dir, "log.json")))),
	)
	got, err := m.Next(context.Background(), "0xdead", "")
	if err != nil {
		t.Fatal(err)
	}
	if got != 0 {
		t.Fatalf("corrupt cache seeded allocation %d", got)
	}
}
