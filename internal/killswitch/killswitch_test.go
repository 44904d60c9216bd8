// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package killswitch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mevog/warden/internal/oplog"
)

func newTestSwitch(t *testing.T) (*Switch, string) {
	t.Helper()
	root := t.TempDir()
	logPath := filepath.Join(root, "logs", "kill_switch.json")
	s := New(root,
		WithFlagPath(filepath.Join(root, "flags", "kill_switch.txt")),
		WithLogger(oplog.New("kill_switch", oplog.WithPath(logPath), oplog.WithChain())),
	)
	return s, logPath
}

func TestTriggerCleanCycle(t *testing.T) {
	s, logPath := newTestSwitch(t)

	if s.Engaged() {
		t.Fatal("fresh switch must not be engaged")
	}

	if err := s.Trigger("ops_lead", "feed divergence"); err != nil {
		t.Fatalf("unexpected error triggering: %v", err)
	}
	if !s.Engaged() {
		t.Fatal("expected switch engaged after trigger")
	}

	st, err := s.ReadState()
	if err != nil {
		t.Fatalf("unexpected error reading state: %v", err)
	}
	if st == nil || st.Actor != "ops_lead" || st.Reason != "feed divergence" {
		t.Fatalf("flag file content mismatch: %+v", st)
	}

	if err := s.Clean("ops_lead"); err != nil {
		t.Fatalf("unexpected error cleaning: %v", err)
	}
	if s.Engaged() {
		t.Fatal("expected switch disengaged after clean")
	}

	// Cleaning again is a no-op, not an error.
	if err := s.Clean("ops_lead"); err != nil {
		t.Fatalf("unexpected error on idempotent clean: %v", err)
	}

	entries, err := oplog.ReadFile(logPath)
	if err != nil {
		t.Fatalf("unexpected error reading log: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 log entries, got %d", len(entries))
	}
	if entries[0].Event != "trigger" || entries[1].Event != "clean" || entries[2].Event != "clean" {
		t.Errorf("unexpected event sequence: %s %s %s", entries[0].Event, entries[1].Event, entries[2].Event)
	}
	if entries[0].Module != "kill_switch" {
		t.Errorf("expected module kill_switch, got %q", entries[0].Module)
	}

	if _, err := oplog.VerifyChain(logPath); err != nil {
		t.Errorf("expected intact hash chain: %v", err)
	}
}

func TestDryRunLeavesNoFlag(t *testing.T) {
	s, logPath := newTestSwitch(t)

	if err := s.DryRun("drill"); err != nil {
		t.Fatalf("unexpected error on dry run: %v", err)
	}
	if s.Engaged() {
		t.Fatal("dry run must not engage the switch")
	}

	entries, err := oplog.ReadFile(logPath)
	if err != nil {
		t.Fatalf("unexpected error reading log: %v", err)
	}
	if len(entries) != 1 || entries[0].Event != "dry-run" {
		t.Fatalf("expected a single dry-run entry, got %+v", entries)
	}
}

func TestEnvOverrideWins(t *testing.T) {
	s, _ := newTestSwitch(t)

	t.Setenv(EnvOverride, "1")
	if !s.Engaged() {
		t.Fatal("expected KILL_SWITCH=1 to report engaged without a flag file")
	}

	t.Setenv(EnvOverride, "0")
	if s.Engaged() {
		t.Fatal("expected KILL_SWITCH=0 to fall back to the flag file")
	}
}

func TestUnparseableFlagStillEngaged(t *testing.T) {
	s, _ := newTestSwitch(t)

	if err := os.MkdirAll(filepath.Dir(s.FlagPath()), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.FlagPath(), []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if !s.Engaged() {
		t.Fatal("expected switch engaged for any existing flag file")
	}
	st, err := s.ReadState()
	if err != nil {
		t.Fatalf("unexpected error reading state: %v", err)
	}
	if st == nil {
		t.Fatal("expected non-nil state for existing flag file")
	}
	if st.EngagedAt.IsZero() {
		t.Error("expected engaged_at from file mtime for unparseable flag")
	}
}

func TestWatchSeesTransitions(t *testing.T) {
	s, _ := newTestSwitch(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan bool, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Watch(ctx, func(engaged bool) { changes <- engaged })
	}()

	// Give the watcher a moment to register before mutating the directory.
	time.Sleep(100 * time.Millisecond)

	if err := s.Trigger("drill", "watch test"); err != nil {
		t.Fatalf("unexpected error triggering: %v", err)
	}
	select {
	case engaged := <-changes:
		if !engaged {
			t.Fatal("expected engaged=true after trigger")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for trigger notification")
	}

	if err := s.Clean("drill"); err != nil {
		t.Fatalf("unexpected error cleaning: %v", err)
	}
	select {
	case engaged := <-changes:
		if engaged {
			t.Fatal("expected engaged=false after clean")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for clean notification")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop on context cancel")
	}
}
