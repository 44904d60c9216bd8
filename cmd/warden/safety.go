// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

// safety.go holds the hard-stop commands: the kill switch and the go/no-go
// readiness gates.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mevog/warden/internal/agents"
	"github.com/mevog/warden/internal/i18n"
	"github.com/mevog/warden/internal/killswitch"
)

// newKillSwitch builds the switch for the working tree, honoring a custom
// flag file from the config. The KILL_SWITCH_FLAG_FILE env override still
// wins when the config carries the default.
func newKillSwitch(root string) *killswitch.Switch {
	var opts []killswitch.Option
	if ff := viper.GetString("killswitch.flag_file"); ff != "" && ff != "flags/kill_switch.txt" {
		if !filepath.IsAbs(ff) {
			ff = filepath.Join(root, ff)
		}
		opts = append(opts, killswitch.WithFlagPath(ff))
	}
	return killswitch.New(root, opts...)
}

// killCmd represents the 'kill' command. Engaging and clearing both ask for
// confirmation; --status exits 2 while the switch is engaged so scripts can
// branch on it.
var killCmd = &cobra.Command{
	Use:   "kill",
	Short: "Engage, clear or inspect the kill switch",
	Run: func(cmd *cobra.Command, args []string) {
		root := resolveRoot()
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		clean, _ := cmd.Flags().GetBool("clean")
		status, _ := cmd.Flags().GetBool("status")
		reason, _ := cmd.Flags().GetString("reason")
		actor := resolveActor()

		sw := newKillSwitch(root)

		switch {
		case status:
			state, err := sw.ReadState()
			if err != nil {
				log.Fatalf("%v", err)
			}
			if state == nil && !sw.Engaged() {
				fmt.Println(i18n.T("kill.status_clear"))
				return
			}
			since := "env override"
			if state != nil && !state.EngagedAt.IsZero() {
				since = state.EngagedAt.Format(time.RFC3339)
			}
			fmt.Println(i18n.T("kill.status_engaged", since))
			os.Exit(2)
		case dryRun:
			if err := sw.DryRun(actor); err != nil {
				log.Fatalf("%v", err)
			}
			fmt.Println(i18n.T("kill.dry_run"))
		case clean:
			confirmOrAbort()
			if err := sw.Clean(actor); err != nil {
				log.Fatalf("%v", err)
			}
			fmt.Println(i18n.T("kill.cleaned", actor))
			_ = logAction("KILL_CLEAN", fmt.Sprintf("actor: %s, flag: %s", actor, sw.FlagPath()))
		default:
			confirmOrAbort()
			if err := sw.Trigger(actor, reason); err != nil {
				log.Fatalf("%v", err)
			}
			fmt.Println(i18n.T("kill.triggered", actor))
			_ = logAction("KILL_TRIGGER", fmt.Sprintf("actor: %s, reason: %s", actor, reason))
		}
	},
}

// gatesCmd represents the 'gates' command. Exit code 2 means at least one
// gate is red.
var gatesCmd = &cobra.Command{
	Use:   "gates",
	Short: "Show go/no-go readiness gates",
	Run: func(cmd *cobra.Command, args []string) {
		root := resolveRoot()
		asJSON, _ := cmd.Flags().GetBool("json")

		keeper := agents.NewGatekeeper(root, agents.WithKillSwitch(newKillSwitch(root)))
		gates := keeper.Gates()

		if asJSON {
			out, err := json.MarshalIndent(gates, "", "  ")
			if err != nil {
				log.Fatalf("%v", err)
			}
			fmt.Println(string(out))
		}

		green := true
		for _, g := range gates {
			if g.OK {
				continue
			}
			green = false
			if !asJSON {
				fmt.Println(i18n.T("gates.red", g.Name, g.Detail))
			}
		}
		_ = logAction("GATE_CHECK", fmt.Sprintf("green: %t, gates: %d", green, len(gates)))
		if !green {
			os.Exit(2)
		}
		if !asJSON {
			fmt.Println(i18n.T("gates.green"))
		}
	},
}

func init() {
	killCmd.Flags().Bool("dry-run", false, "Walk the halt path without writing the flag file")
	killCmd.Flags().Bool("clean", false, "Clear an engaged kill switch")
	killCmd.Flags().Bool("status", false, "Report whether the switch is engaged")
	killCmd.Flags().String("reason", "manual", "Reason recorded with the halt")

	gatesCmd.Flags().Bool("json", false, "Print the per-gate detail as JSON")
}
