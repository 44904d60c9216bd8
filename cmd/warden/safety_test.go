// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"github.com/mevog/warden/internal/killswitch"
	"github.com/mevog/warden/internal/tui"
)

func TestKillCmd(t *testing.T) {
	root := setupTestEnv(t)
	t.Setenv(tui.EnvVoter, "op1")

	flagPath := filepath.Join(root, "flags", "kill_switch.txt")

	t.Run("dry run leaves the flag absent", func(t *testing.T) {
		output := executeCommand(t, nil, "kill", "--dry-run")
		if !strings.Contains(output, "DRY RUN: kill switch not touched") {
			t.Errorf("Expected the dry run message. Output:\n%s", output)
		}
		if _, err := os.Stat(flagPath); !os.IsNotExist(err) {
			t.Errorf("dry run must not write the flag file")
		}
	})

	t.Run("trigger engages the switch", func(t *testing.T) {
		output := executeCommand(t, confirmInput(t, "y\n"), "kill", "--reason", "drill")
		if !strings.Contains(output, "Kill switch ENGAGED by op1") {
			t.Errorf("Expected the engage message. Output:\n%s", output)
		}
		sw := killswitch.New(root)
		if !sw.Engaged() {
			t.Fatal("switch not engaged after trigger")
		}
		state, err := sw.ReadState()
		if err != nil {
			t.Fatalf("reading flag state failed: %v", err)
		}
		if state == nil || state.Actor != "op1" || state.Reason != "drill" {
			t.Errorf("flag state did not record actor and reason: %+v", state)
		}
	})

	t.Run("clean clears the flag", func(t *testing.T) {
		output := executeCommand(t, confirmInput(t, "y\n"), "kill", "--clean")
		if !strings.Contains(output, "Kill switch cleared by op1") {
			t.Errorf("Expected the clear message. Output:\n%s", output)
		}
		if killswitch.New(root).Engaged() {
			t.Error("switch still engaged after clean")
		}
	})

	t.Run("status reports clear", func(t *testing.T) {
		output := executeCommand(t, nil, "kill", "--status")
		if !strings.Contains(output, "Kill switch is clear") {
			t.Errorf("Expected the clear status. Output:\n%s", output)
		}
	})
}

func TestNewKillSwitch(t *testing.T) {
	root := setupTestEnv(t)

	t.Run("default flag path lives under the root", func(t *testing.T) {
		sw := newKillSwitch(root)
		want := filepath.Join(root, "flags", "kill_switch.txt")
		if sw.FlagPath() != want {
			t.Errorf("FlagPath() = %q, want %q", sw.FlagPath(), want)
		}
	})

	t.Run("config override resolves relative to the root", func(t *testing.T) {
		viper.Set("killswitch.flag_file", "custom/halt.flag")
		defer viper.Set("killswitch.flag_file", "flags/kill_switch.txt")

		sw := newKillSwitch(root)
		want := filepath.Join(root, "custom", "halt.flag")
		if sw.FlagPath() != want {
			t.Errorf("FlagPath() = %q, want %q", sw.FlagPath(), want)
		}
	})
}
