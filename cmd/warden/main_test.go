// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mevog/warden/internal/db"
	"github.com/mevog/warden/internal/drp"
	"github.com/mevog/warden/internal/i18n"
)

// setupTestEnv prepares an isolated working tree and an in-memory SQLite
// database for a test, and points the resolved configuration at both. It
// returns the tree root.
func setupTestEnv(t *testing.T) string {
	t.Helper()

	root := t.TempDir()

	// A stub config file keeps initConfig from writing a default one into
	// the real user config directory.
	stub := filepath.Join(root, "warden.yaml")
	if err := os.WriteFile(stub, []byte("language: en\n"), 0o600); err != nil {
		t.Fatalf("write stub config: %v", err)
	}
	oldCfg := cfgFile
	cfgFile = stub
	t.Cleanup(func() { cfgFile = oldCfg })

	// Use a unique in-memory database for each test run.
	// "cache=shared" is crucial to allow multiple connections to the same in-memory DB.
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"

	viper.Set("database.type", "sqlite")
	viper.Set("database.dsn", dsn)
	viper.Set("language", "en")
	viper.Set("root", root)

	i18n.Init("en")
	if err := db.InitDB("sqlite", dsn); err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}
	return root
}

// seedWorkingTree lays out the directories an export captures.
func seedWorkingTree(t *testing.T, root string) {
	t.Helper()

	files := map[string]string{
		"logs/app.log":                  "boot ok\n",
		"state/positions.json":          `{"open":0}`,
		"active/alpha_v1/strategy.yaml": "strategy_id: alpha_v1\nedge_type: dex_arb\nttl_hours: 24\nparams:\n  min_profit: 0.001\n",
		"keys/signer.key":               "test-key-material\n",
	}
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}
}

// resetCommandFlags clears flag values a previous execution parsed. The
// subcommands are package variables, so without this an earlier --dry-run
// would leak into the next invocation.
func resetCommandFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
	})
	for _, sub := range cmd.Commands() {
		resetCommandFlags(sub)
	}
}

// executeCommand runs a cobra command with the given arguments and captures its output.
// It can optionally take an `io.Reader` to mock stdin for interactive commands.
func executeCommand(t *testing.T, stdin io.Reader, args ...string) string {
	t.Helper()

	// Redirect stdout to a buffer
	oldOut := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	defer func() {
		os.Stdout = oldOut
	}()

	// Redirect stdin if a reader is provided
	if stdin != nil {
		oldIn := os.Stdin
		os.Stdin = stdin.(*os.File)
		defer func() {
			os.Stdin = oldIn
		}()
	}

	// Create a new root command for each test to ensure isolation
	root := newRootCmd()
	resetCommandFlags(root)
	root.SetArgs(args)

	// Execute the command
	if err := root.Execute(); err != nil {
		t.Fatalf("command execution failed: %v", err)
	}

	// Read the output from the buffer
	w.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		t.Fatalf("failed to read command output: %v", err)
	}

	return buf.String()
}

// confirmInput builds a stdin pipe pre-loaded with an answer for commands
// that prompt before acting.
func confirmInput(t *testing.T, answer string) *os.File {
	t.Helper()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.WriteString(answer); err != nil {
		t.Fatal(err)
	}
	w.Close()
	t.Cleanup(func() { r.Close() })
	return r
}

func TestExportCmd(t *testing.T) {
	root := setupTestEnv(t)
	seedWorkingTree(t, root)

	output := executeCommand(t, nil, "export")

	t.Run("should print the archive path and checksum", func(t *testing.T) {
		if !strings.Contains(output, "Export complete:") {
			t.Errorf("Expected output to contain the export success message. Output:\n%s", output)
		}
		if !strings.Contains(output, "Checksum:") {
			t.Errorf("Expected output to contain the checksum line. Output:\n%s", output)
		}
	})

	t.Run("should write the archive and its sidecar", func(t *testing.T) {
		archives, err := drp.ListArchives(filepath.Join(root, "export"))
		if err != nil {
			t.Fatalf("listing archives failed: %v", err)
		}
		if len(archives) != 1 {
			t.Fatalf("expected exactly one archive, got %d", len(archives))
		}
		if _, err := os.Stat(archives[0] + ".sha256"); err != nil {
			t.Errorf("expected a .sha256 sidecar next to %s: %v", archives[0], err)
		}
	})
}

func TestExportDryRun(t *testing.T) {
	root := setupTestEnv(t)
	seedWorkingTree(t, root)

	output := executeCommand(t, nil, "export", "--dry-run")

	if !strings.Contains(output, "DRY RUN: would archive logs") {
		t.Errorf("Expected the dry run to list the logs source. Output:\n%s", output)
	}
	if !strings.Contains(output, "DRY RUN: no archive will be written") {
		t.Errorf("Expected the dry run closing line. Output:\n%s", output)
	}

	archives, err := drp.ListArchives(filepath.Join(root, "export"))
	if err != nil {
		t.Fatalf("listing archives failed: %v", err)
	}
	if len(archives) != 0 {
		t.Errorf("dry run must not write archives, found %d", len(archives))
	}
}

func TestExportClean(t *testing.T) {
	root := setupTestEnv(t)

	exportDir := filepath.Join(root, "export")
	if err := os.MkdirAll(exportDir, 0o755); err != nil {
		t.Fatal(err)
	}
	stale := filepath.Join(exportDir, "drp_export_20200101T000000Z.tar.gz")
	if err := os.WriteFile(stale, []byte("stale"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(stale+".sha256", []byte("0000"), 0o600); err != nil {
		t.Fatal(err)
	}
	// Age the archive past the 30 day retention default.
	old := time.Now().Add(-40 * 24 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}

	output := executeCommand(t, nil, "export", "--clean")

	if !strings.Contains(output, "Removed 1 expired archive(s)") {
		t.Errorf("Expected the clean summary. Output:\n%s", output)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("expected the expired archive to be removed")
	}
	if _, err := os.Stat(stale + ".sha256"); !os.IsNotExist(err) {
		t.Errorf("expected the checksum sidecar to be removed with its archive")
	}
}

func TestVerifyCmd(t *testing.T) {
	root := setupTestEnv(t)
	seedWorkingTree(t, root)

	executeCommand(t, nil, "export")
	output := executeCommand(t, nil, "verify")

	if !strings.Contains(output, "verified:") {
		t.Errorf("Expected the archive to verify clean. Output:\n%s", output)
	}
}

func TestRollbackDryRun(t *testing.T) {
	root := setupTestEnv(t)
	seedWorkingTree(t, root)

	executeCommand(t, nil, "export")
	output := executeCommand(t, nil, "rollback", "--dry-run")

	if !strings.Contains(output, "validates clean") {
		t.Errorf("Expected the dry run validation message. Output:\n%s", output)
	}
}

func TestRollbackRestore(t *testing.T) {
	root := setupTestEnv(t)
	seedWorkingTree(t, root)

	executeCommand(t, nil, "export")

	// Simulate the damage a restore has to undo: tampered state, lost key.
	statePath := filepath.Join(root, "state", "positions.json")
	if err := os.WriteFile(statePath, []byte(`{"open":99}`), 0o600); err != nil {
		t.Fatal(err)
	}
	keyPath := filepath.Join(root, "keys", "signer.key")
	if err := os.Remove(keyPath); err != nil {
		t.Fatal(err)
	}

	output := executeCommand(t, confirmInput(t, "y\n"), "rollback")

	t.Run("should report the restore", func(t *testing.T) {
		if !strings.Contains(output, "Restore complete:") {
			t.Errorf("Expected the restore success message. Output:\n%s", output)
		}
	})

	t.Run("should put the captured files back", func(t *testing.T) {
		state, err := os.ReadFile(statePath)
		if err != nil {
			t.Fatalf("state file missing after restore: %v", err)
		}
		if string(state) != `{"open":0}` {
			t.Errorf("state not rolled back, got %s", state)
		}
		key, err := os.ReadFile(keyPath)
		if err != nil {
			t.Fatalf("key file missing after restore: %v", err)
		}
		if string(key) != "test-key-material\n" {
			t.Errorf("key content not restored, got %q", key)
		}
	})
}
