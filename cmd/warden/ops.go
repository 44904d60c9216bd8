// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

// ops.go holds the operational commands: log audits, secret scans, chaos
// drills, the metrics endpoint, offsite replica management and founder
// token handling.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	log "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/ssh"

	"github.com/mevog/warden/buildvars"
	"github.com/mevog/warden/internal/agents"
	"github.com/mevog/warden/internal/audit"
	"github.com/mevog/warden/internal/chaos"
	"github.com/mevog/warden/internal/i18n"
	"github.com/mevog/warden/internal/metrics"
	"github.com/mevog/warden/internal/offsite"
	"github.com/mevog/warden/internal/security"
)

// auditCmd represents the 'audit' command. It inspects the JSONL logs under
// the tree, verifies their hash chains and summarizes failures and
// anomalies. A failed verdict exits 1.
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect operational logs and verify their hash chains",
	Run: func(cmd *cobra.Command, args []string) {
		root := resolveRoot()
		tail, _ := cmd.Flags().GetInt("tail")
		asJSON, _ := cmd.Flags().GetBool("json")

		var opts []audit.Option
		if tail > 0 {
			opts = append(opts, audit.WithTail(tail))
		}
		report, err := audit.New(filepath.Join(root, "logs"), opts...).Run()
		if err != nil {
			log.Fatalf("%v", err)
		}
		_ = logAction("AUDIT_RUN", fmt.Sprintf("status: %s, events: %d, failures: %d",
			report.Status, report.TotalEvents, report.Failures))

		if asJSON {
			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				log.Fatalf("%v", err)
			}
			fmt.Println(string(out))
		} else {
			for _, lr := range report.Logs {
				verdict := "ok"
				switch {
				case lr.ReadError != "":
					verdict = "read error: " + lr.ReadError
				case lr.ChainError != "":
					verdict = "chain broken: " + lr.ChainError
				case lr.OpenKill:
					verdict = "open kill"
				case lr.Stale:
					verdict = "stale"
				}
				fmt.Printf("%-28s %6d events %4d failures  %s\n",
					filepath.Base(lr.Path), lr.Events, lr.Failures, verdict)
			}
			for _, a := range report.Anomalies {
				fmt.Println(a)
			}
			for _, s := range report.Suggestions {
				fmt.Println(s)
			}
		}
		if report.Failed() {
			os.Exit(1)
		}
		if !asJSON {
			fmt.Println(i18n.T("audit.clean", report.TotalEvents))
		}
	},
}

// secretsCmd groups credential hygiene helpers.
var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Credential hygiene helpers",
}

// secretsScanCmd walks the working tree (or the given paths) for leaked
// credentials. Findings print location and kind only, never the matched
// value.
var secretsScanCmd = &cobra.Command{
	Use:   "scan [path...]",
	Short: "Scan a tree for leaked credentials",
	Run: func(cmd *cobra.Command, args []string) {
		root := resolveRoot()
		failOnFound, _ := cmd.Flags().GetBool("fail-on-found")

		paths := args
		if len(paths) == 0 {
			paths = []string{root}
		}
		scanner := security.NewScanner()
		var findings []security.Finding
		for _, p := range paths {
			found, err := scanner.ScanTree(p)
			if err != nil {
				log.Fatalf("%v", err)
			}
			findings = append(findings, found...)
		}
		report := security.Summarize(root, findings)
		for _, f := range findings {
			fmt.Printf("%s:%d  %-18s %s\n", f.File, f.Line, f.Kind, f.Severity)
		}
		_ = logAction("SECRETS_SCAN", fmt.Sprintf("paths: %d, findings: %d, critical: %d",
			len(paths), len(findings), report.Critical))
		if len(findings) == 0 {
			fmt.Println(i18n.T("secrets.clean"))
			return
		}
		fmt.Println(i18n.T("secrets.found", len(findings)))
		if failOnFound {
			os.Exit(1)
		}
	},
}

// drillCmd represents the 'drill' command. A drill exports, corrupts and
// restores in a sandbox and fails loudly when an invariant does not hold.
var drillCmd = &cobra.Command{
	Use:   "drill",
	Short: "Run a disaster-recovery chaos drill",
	Run: func(cmd *cobra.Command, args []string) {
		root := resolveRoot()
		cycles, _ := cmd.Flags().GetInt("cycles")
		keep, _ := cmd.Flags().GetBool("keep")

		drill := chaos.New(root,
			chaos.WithCycles(cycles),
			chaos.WithKeep(keep),
			chaos.WithKillSwitch(newKillSwitch(root)),
		)
		report, err := drill.Run(cmd.Context())
		if err != nil {
			log.Fatalf("%v", err)
		}
		held := 0
		for _, r := range report.Results {
			mark := "✅"
			if r.Held {
				held++
			} else {
				mark = "💥"
			}
			fmt.Printf("%s cycle %d %-24s %s\n", mark, r.Cycle, r.Name, r.Detail)
		}
		fmt.Println(i18n.T("drill.done", held, len(report.Results)))
		_ = logAction("CHAOS_DRILL", fmt.Sprintf("cycles: %d, scenarios: %d, breaches: %d, aborted: %t",
			report.Cycles, len(report.Results), report.Breaches, report.Aborted))
		if !report.Passed() {
			os.Exit(1)
		}
	},
}

// metricsCmd serves the exposition endpoint until interrupted.
var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Serve the metrics endpoint",
	Run: func(cmd *cobra.Command, args []string) {
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = viper.GetString("metrics.addr")
		}
		fmt.Println(i18n.T("metrics.listening", addr))

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := metrics.Serve(ctx, addr, metrics.Default()); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("%v", err)
		}
	},
}

// offsiteCmd groups offsite replica management.
var offsiteCmd = &cobra.Command{
	Use:   "offsite",
	Short: "Manage the offsite archive replica",
}

// offsiteTrustHostCmd pins a replica host key after fingerprint review, the
// required first step before any push can verify the remote.
var offsiteTrustHostCmd = &cobra.Command{
	Use:   "trust-host <host[:port]>",
	Short: "Pin an offsite host key after fingerprint review",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		host := args[0]
		fmt.Println(i18n.T("offsite.retrieving_key", host))
		key, err := offsite.GetRemoteHostKey(host)
		if err != nil {
			log.Fatalf("%v", err)
		}

		fmt.Printf("\n"+i18n.T("offsite.authenticity_warning_1")+"\n", host)
		fmt.Printf(i18n.T("offsite.authenticity_warning_2")+"\n", key.Type(), ssh.FingerprintSHA256(key))

		// Require the full word so a stray keypress cannot pin a key.
		if promptForConfirmation(i18n.T("offsite.confirm_prompt")) != "yes" {
			fmt.Println(i18n.T("common.aborted"))
			os.Exit(1)
		}

		bare, _, err := offsite.ParseHostPort(host)
		if err != nil {
			log.Fatalf("%v", err)
		}
		if err := offsite.DefaultHostKeyStore().Trust(bare, string(ssh.MarshalAuthorizedKey(key))); err != nil {
			log.Fatalf("%v", err)
		}
		fmt.Println(i18n.T("offsite.trusted", host, key.Type()))
		_ = logAction("TRUST_HOST", fmt.Sprintf("host: %s, type: %s, fingerprint: %s",
			host, key.Type(), ssh.FingerprintSHA256(key)))
	},
}

// founderCmd groups founder approval helpers.
var founderCmd = &cobra.Command{
	Use:   "founder",
	Short: "Founder approval helpers",
}

// founderMintCmd mints a scoped approval token. With --install the token is
// written where the gate reads it; otherwise it prints for manual placement
// or the FOUNDER_TOKEN environment variable.
var founderMintCmd = &cobra.Command{
	Use:   "mint",
	Short: "Mint a scoped founder approval token",
	Run: func(cmd *cobra.Command, args []string) {
		action, _ := cmd.Flags().GetString("action")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		install, _ := cmd.Flags().GetBool("install")

		expiry := time.Now().Add(ttl)
		token := agents.MintToken(action, expiry)
		fmt.Println(i18n.T("founder.minted", action, expiry.UTC().Format(time.RFC3339)))
		if !install {
			fmt.Println(token)
			return
		}

		path := os.Getenv(agents.EnvFounderTokenFile)
		if path == "" {
			path = agents.DefaultTokenPath
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				log.Fatalf("%v", err)
			}
		}
		if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
			log.Fatalf("%v", err)
		}
		fmt.Println(i18n.T("founder.installed", path))
		_ = logAction("FOUNDER_MINT", fmt.Sprintf("action: %s, expires: %s", action, expiry.UTC().Format(time.RFC3339)))
	},
}

// versionCmd represents the 'version' command.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of Warden",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("warden " + buildvars.VersionOrDefault(version))
	},
}

func init() {
	auditCmd.Flags().Int("tail", 0, "Inspect only the last N entries per log (0 = auditor default)")
	auditCmd.Flags().Bool("json", false, "Print the full report as JSON")

	secretsScanCmd.Flags().Bool("fail-on-found", false, "Exit 1 when any finding turns up")
	secretsCmd.AddCommand(secretsScanCmd)

	drillCmd.Flags().Int("cycles", chaos.DefaultCycles, "How many times to walk the scenario list")
	drillCmd.Flags().Bool("keep", false, "Keep the drill sandbox for inspection")

	metricsCmd.Flags().String("addr", "", "Listen address (default from config, e.g. :9109)")

	offsiteCmd.AddCommand(offsiteTrustHostCmd)

	founderMintCmd.Flags().String("action", "", "Action the token approves, e.g. promote_sandwich_v2 or live_run")
	founderMintCmd.Flags().Duration("ttl", time.Hour, "How long the token stays valid")
	founderMintCmd.Flags().Bool("install", false, "Write the token to the gate's token file")
	_ = founderMintCmd.MarkFlagRequired("action")
	founderCmd.AddCommand(founderMintCmd)
}
