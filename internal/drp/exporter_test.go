// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package drp

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mevog/warden/internal/oplog"
	"github.com/mevog/warden/internal/security"
)

func newTestExporter(t *testing.T, opts ...ExporterOption) (*Exporter, string, string) {
	t.Helper()
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"logs/export_state.log": "",
		"state/nonce.json":      `{"next":7}`,
		"active/arb/params.yml": "x: 1\n",
		"keys/hot_wallet.enc":   "Salted__garbage",
	})
	logPath := filepath.Join(root, "logs", "export_test.log")
	errPath := filepath.Join(root, "logs", "errors_test.log")
	base := []ExporterOption{
		WithExportLogger(oplog.New("export_state", oplog.WithPath(logPath))),
		WithErrorLogger(oplog.New("errors", oplog.WithPath(errPath))),
		WithPassphrase(nil),
	}
	e := NewExporter(root, append(base, opts...)...)
	return e, logPath, errPath
}

func TestExportCreatesArchiveAndSidecar(t *testing.T) {
	e, logPath, _ := newTestExporter(t)

	res, err := e.Export()
	if err != nil {
		t.Fatalf("unexpected export error: %v", err)
	}
	base := filepath.Base(res.Archive)
	if !strings.HasPrefix(base, "drp_export_") || !strings.HasSuffix(base, ".tar.gz") {
		t.Errorf("unexpected archive name %q", base)
	}
	if res.Encrypted {
		t.Error("expected plain archive without a passphrase")
	}
	if res.Files != 4 {
		t.Errorf("expected 4 files archived, got %d", res.Files)
	}
	if _, err := os.Stat(res.Archive); err != nil {
		t.Fatalf("archive missing: %v", err)
	}
	if _, err := os.Stat(res.Archive + ".sha256"); err != nil {
		t.Fatalf("checksum sidecar missing: %v", err)
	}

	sum, err := ReadChecksum(res.Archive)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.EqualFold(sum, res.SHA256) {
		t.Errorf("sidecar digest %s != result digest %s", sum, res.SHA256)
	}

	entries, err := oplog.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 export log line, got %d", len(entries))
	}
	if entries[0].Event != "export" || entries[0].Extra["mode"] != "export" {
		t.Errorf("expected mode=export line, got %+v", entries[0])
	}
	if entries[0].Extra["archive"] != res.Archive {
		t.Errorf("expected archive recorded in log, got %v", entries[0].Extra["archive"])
	}
	if u, ok := entries[0].Extra["user"].(string); !ok || u == "" {
		t.Errorf("expected user recorded in log, got %v", entries[0].Extra["user"])
	}
}

func TestExportEncryptedRoundTrip(t *testing.T) {
	e, _, _ := newTestExporter(t, WithPassphrase(security.FromString("drill-passphrase")))

	res, err := e.Export()
	if err != nil {
		t.Fatalf("unexpected export error: %v", err)
	}
	if !res.Encrypted || !strings.HasSuffix(res.Archive, ".tar.gz.enc") {
		t.Fatalf("expected encrypted archive, got %q", res.Archive)
	}

	rep, err := Verify(res.Archive, []byte("drill-passphrase"))
	if err != nil {
		t.Fatalf("unexpected verify error: %v", err)
	}
	if !rep.OK() || rep.Files != 4 {
		t.Fatalf("expected clean verify of 4 files, got %+v", rep)
	}

	if _, err := Verify(res.Archive, []byte("wrong")); err == nil {
		t.Fatal("expected verify failure with wrong passphrase")
	}
}

func TestDryRunWritesNothingButLog(t *testing.T) {
	e, logPath, _ := newTestExporter(t)

	plan, err := e.DryRun()
	if err != nil {
		t.Fatalf("unexpected dry-run error: %v", err)
	}
	if plan.Files != 4 || plan.Bytes == 0 {
		t.Errorf("unexpected plan %+v", plan)
	}

	archives, err := ListArchives(e.ExportDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(archives) != 0 {
		t.Fatalf("dry run must not create archives, found %v", archives)
	}

	entries, err := oplog.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Extra["mode"] != "dry-run" {
		t.Fatalf("expected a single mode=dry-run line, got %+v", entries)
	}
	if entries[0].Extra["archive"] != "" {
		t.Errorf("dry-run log must carry an empty archive field, got %v", entries[0].Extra["archive"])
	}
}

func TestCleanHonorsRetention(t *testing.T) {
	e, logPath, _ := newTestExporter(t, WithRetentionDays(7))

	res, err := e.Export()
	if err != nil {
		t.Fatal(err)
	}
	old := filepath.Join(e.ExportDir(), "drp_export_20200101T000000Z.tar.gz")
	if err := os.WriteFile(old, []byte("ancient"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := WriteChecksum(old); err != nil {
		t.Fatal(err)
	}
	ancient := time.Now().Add(-30 * 24 * time.Hour)
	if err := os.Chtimes(old, ancient, ancient); err != nil {
		t.Fatal(err)
	}

	removed, err := e.Clean()
	if err != nil {
		t.Fatalf("unexpected clean error: %v", err)
	}
	if len(removed) != 1 || removed[0] != old {
		t.Fatalf("expected only the ancient archive removed, got %v", removed)
	}
	if _, err := os.Stat(old + ".sha256"); !os.IsNotExist(err) {
		t.Error("expected sidecar removed with its archive")
	}
	if _, err := os.Stat(res.Archive); err != nil {
		t.Error("fresh archive must survive clean")
	}

	entries, err := oplog.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	last := entries[len(entries)-1]
	if last.Extra["mode"] != "clean" {
		t.Errorf("expected mode=clean line, got %+v", last)
	}
}

func TestAgentRunOncePushesAndReportsHealth(t *testing.T) {
	e, _, _ := newTestExporter(t)
	agentLog := filepath.Join(e.root, "logs", "drp_agent_test.log")

	var pushed []string
	var state = map[string]string{}
	a := NewAgent(e,
		WithPusher(pusherFunc(func(path string) error {
			pushed = append(pushed, path)
			return nil
		})),
		WithAgentLogger(oplog.New("drp_agent", oplog.WithPath(agentLog))),
		WithStateSink(func(key, value string) error {
			state[key] = value
			return nil
		}),
	)

	if err := a.RunOnce(context.Background()); err != nil {
		t.Fatalf("unexpected agent cycle error: %v", err)
	}
	if len(pushed) != 1 {
		t.Fatalf("expected one push, got %v", pushed)
	}
	if _, ok := state["drp_health"]; !ok {
		t.Fatal("expected drp_health published to the state sink")
	}

	h := a.Health()
	if h.ArchiveCount != 1 || h.LastArchive == "" {
		t.Errorf("unexpected health %+v", h)
	}

	entries, err := oplog.ReadFile(agentLog)
	if err != nil {
		t.Fatal(err)
	}
	var events []string
	for _, en := range entries {
		events = append(events, en.Event)
	}
	joined := strings.Join(events, ",")
	if !strings.Contains(joined, "export") || !strings.Contains(joined, "push") || !strings.Contains(joined, "health") {
		t.Errorf("expected export, push and health events, got %s", joined)
	}
}

type pusherFunc func(path string) error

func (f pusherFunc) Push(_ context.Context, path string) error { return f(path) }
