// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

// main.go sets up the command-line interface (CLI) for Warden using the Cobra
// library. It wires the root command, global configuration handling and the
// disaster-recovery commands (export, rollback, verify). The safety,
// governance, strategy and operations commands live in sibling files.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	log "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/mevog/warden/buildvars"
	"github.com/mevog/warden/internal/config"
	"github.com/mevog/warden/internal/db"
	"github.com/mevog/warden/internal/drp"
	"github.com/mevog/warden/internal/i18n"
	"github.com/mevog/warden/internal/logging"
	"github.com/mevog/warden/internal/offsite"
	"github.com/mevog/warden/internal/security"
	"github.com/mevog/warden/internal/tui"
)

var version = "dev" // this will be set by the linker
var cfgFile string

// main is the entry point of the application.
func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd *cobra.Command

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd = newRootCmd()

	// Seed viper with the full default tree so every key resolves even
	// before a config file exists. Config file, env and flags override.
	for key, value := range config.Defaults() {
		viper.SetDefault(key, value)
	}
}

// newRootCmd creates and configures a new root cobra command. This function
// is used to create the main application command as well as fresh instances
// for isolated testing.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "warden",
		Short: "Warden is an operations control plane for MEV trading",
		Long: `Warden guards a MEV trading stand: it snapshots and restores the
working tree, runs the kill switch and readiness gates, shepherds
strategy changes through quorum voting, and keeps every operator
action on a hash-chained audit log.

Run without arguments to open the interactive dashboard.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.SetDebug(viper.GetBool("debug"))
			i18n.Init(viper.GetString("language"))
			if err := db.InitDB(viper.GetString("database.type"), viper.GetString("database.dsn")); err != nil {
				return fmt.Errorf(i18n.T("config.error_init_db", err))
			}
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			// The database is already initialized by PersistentPreRunE.
			tui.SetConfigSaver(viperConfigSaver{})
			tui.Run()
		},
	}

	cmd.AddCommand(exportCmd)
	cmd.AddCommand(rollbackCmd)
	cmd.AddCommand(verifyCmd)
	cmd.AddCommand(killCmd)
	cmd.AddCommand(gatesCmd)
	cmd.AddCommand(proposeCmd)
	cmd.AddCommand(voteCmd)
	cmd.AddCommand(proposalsCmd)
	cmd.AddCommand(promoteCmd)
	cmd.AddCommand(demoteCmd)
	cmd.AddCommand(scoreboardCmd)
	cmd.AddCommand(pruneCmd)
	cmd.AddCommand(mutateCmd)
	cmd.AddCommand(runCmd)
	cmd.AddCommand(auditCmd)
	cmd.AddCommand(secretsCmd)
	cmd.AddCommand(drillCmd)
	cmd.AddCommand(metricsCmd)
	cmd.AddCommand(offsiteCmd)
	cmd.AddCommand(founderCmd)
	cmd.AddCommand(versionCmd)
	cmd.AddCommand(debugCmd)

	cmd.Version = buildvars.VersionOrDefault(version)

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default warden.yaml in the user config dir, /etc/warden or the current directory)")
	cmd.PersistentFlags().String("db-type", "sqlite", "Database type (e.g., sqlite, postgres, mysql)")
	cmd.PersistentFlags().String("db-dsn", "./warden.db", "Database connection string (DSN)")
	cmd.PersistentFlags().String("lang", "en", "Language for the CLI and TUI (e.g., en, de)")
	cmd.PersistentFlags().String("root", ".", "Working tree root holding logs/, state/, active/, flags/ and export/")
	cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	_ = viper.BindPFlag("database.type", cmd.PersistentFlags().Lookup("db-type"))
	_ = viper.BindPFlag("database.dsn", cmd.PersistentFlags().Lookup("db-dsn"))
	_ = viper.BindPFlag("language", cmd.PersistentFlags().Lookup("lang"))
	_ = viper.BindPFlag("root", cmd.PersistentFlags().Lookup("root"))
	_ = viper.BindPFlag("debug", cmd.PersistentFlags().Lookup("debug"))

	return cmd
}

// initConfig reads in a config file and ENV variables if set. It searches
// for warden.yaml in the user config dir, /etc/warden and the current
// directory, merges a legacy .warden.yaml when one is present, and writes a
// commented default file on first run so the settings are discoverable.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		if userPath, err := config.GetConfigPath(false); err == nil {
			viper.AddConfigPath(filepath.Dir(userPath))
		}
		if systemPath, err := config.GetConfigPath(true); err == nil {
			viper.AddConfigPath(filepath.Dir(systemPath))
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("warden")
	}

	viper.SetEnvPrefix("WARDEN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && cfgFile == "" {
			writeDefaultConfig()
		}
	}

	// Older releases kept settings in .warden.yaml next to the binary.
	if _, err := os.Stat(".warden.yaml"); err == nil {
		legacy := viper.New()
		legacy.SetConfigFile(".warden.yaml")
		if err := legacy.ReadInConfig(); err == nil {
			_ = viper.MergeConfigMap(legacy.AllSettings())
		}
	}
}

// writeDefaultConfig creates a commented warden.yaml in the user config
// directory. Failure to write is not fatal; the in-memory defaults apply
// either way.
func writeDefaultConfig() {
	path, err := config.GetConfigPath(false)
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return
	}
	defaultContent := `# Warden configuration file.
# This file is automatically generated with default values.
# You can modify these settings to configure Warden.

database:
  # The type of database to use. Supported values: "sqlite", "postgres", "mysql".
  type: sqlite
  # The Data Source Name (DSN) for the database connection.
  # For SQLite, this is the path to the database file.
  dsn: ./warden.db

# The language for the CLI and TUI. Supported values: "en", "de".
language: en

# The working tree root holding logs/, state/, active/, flags/ and export/.
root: .

export:
  # Directory where recovery archives are written, relative to the root
  # unless absolute.
  dir: export
  # Archives older than this many days are removed by 'warden export --clean'.
  retention_days: 30
  # Encrypt archives by default. Requires DRP_ENC_KEY or DRP_ENC_KEY_FILE.
  encrypt: false

killswitch:
  # Flag file, relative to the root, whose presence halts all trading.
  flag_file: flags/kill_switch.txt

quorum:
  # Ballots required before a proposal can be decided.
  size: 3
  # Approval ratio required, e.g. 0.66 for two thirds.
  threshold: 0.66
  # How long proposals stay open for votes, in hours.
  ttl_hours: 24

capital:
  max_drawdown_pct: 5.0
  max_loss_usd: 10000.0

orchestrator:
  # Pause between iterations, as a Go duration string.
  interval: 30s

metrics:
  # Listen address for the metrics endpoint.
  addr: ":9109"

# Offsite replica used by 'warden export --push' and the recovery agent.
# offsite:
#   host: backup.example.com
#   user: warden
#   path: /srv/warden/archives
#   key_file: /etc/warden/offsite_ed25519
`
	if err := os.WriteFile(path, []byte(defaultContent), 0o600); err == nil {
		fmt.Println(i18n.T("config.created_default", path))
	}
}

// viperConfigSaver persists the resolved configuration back to the user
// config file. The TUI calls it after the operator changes the language.
type viperConfigSaver struct{}

func (viperConfigSaver) Save() error {
	var c config.Config
	if err := viper.Unmarshal(&c); err != nil {
		return fmt.Errorf(i18n.T("config.error_write", err))
	}
	if err := config.WriteConfigFile(&c, false); err != nil {
		return fmt.Errorf(i18n.T("config.error_write", err))
	}
	return nil
}

// resolveRoot returns the working tree root from the resolved configuration.
func resolveRoot() string {
	if root := viper.GetString("root"); root != "" {
		return root
	}
	return "."
}

// resolveExportDir resolves the archive directory against the root, honoring
// the same EXPORT_DIR override the recovery packages respect.
func resolveExportDir(root string) string {
	if d := os.Getenv(drp.EnvExportDir); d != "" {
		return d
	}
	dir := viper.GetString("export.dir")
	if dir == "" {
		dir = "export"
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(root, dir)
}

// resolveActor names the operator for audit entries and ballots: the
// WARDEN_VOTER environment variable when set, else the OS username.
func resolveActor() string {
	if v := os.Getenv(tui.EnvVoter); v != "" {
		return v
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}

// promptForConfirmation displays a prompt and reads a line from stdin.
func promptForConfirmation(prompt string) string {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	answer, _ := reader.ReadString('\n')
	return strings.TrimSpace(strings.ToLower(answer))
}

// confirmOrAbort asks before a destructive operation and exits when the
// operator declines.
func confirmOrAbort() {
	if promptForConfirmation(i18n.T("prompt.confirm")) != i18n.T("common.yes") {
		fmt.Println(i18n.T("common.aborted"))
		os.Exit(1)
	}
}

// promptForPassphrase reads an archive passphrase without echoing it.
func promptForPassphrase() security.Secret {
	fmt.Print(i18n.T("export.prompt_passphrase"))
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return nil
	}
	return security.Secret(raw)
}

// exportCmd represents the 'export' command. It packages logs, state, active
// strategies and keys into a tar.gz archive with a sha256 sidecar, optionally
// encrypted and pushed to the offsite replica.
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Package logs, state, active strategies and keys into a recovery archive",
	Run: func(cmd *cobra.Command, args []string) {
		root := resolveRoot()
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		clean, _ := cmd.Flags().GetBool("clean")
		encrypt, _ := cmd.Flags().GetBool("encrypt")
		outDir, _ := cmd.Flags().GetString("out")
		pushTarget, _ := cmd.Flags().GetString("push")

		if outDir == "" {
			outDir = resolveExportDir(root)
		}
		opts := []drp.ExporterOption{
			drp.WithExportDir(outDir),
			drp.WithRetentionDays(viper.GetInt("export.retention_days")),
		}
		if encrypt || viper.GetBool("export.encrypt") {
			pass := security.GetOr(drp.EnvEncKey, nil)
			if pass.Empty() {
				pass = promptForPassphrase()
			}
			if pass.Empty() {
				log.Fatalf("encryption requested but no key material provided")
			}
			opts = append(opts, drp.WithPassphrase(pass))
		}
		exporter := drp.NewExporter(root, opts...)

		if clean {
			removed, err := exporter.Clean()
			if err != nil {
				log.Fatalf("%v", err)
			}
			fmt.Println(i18n.T("export.clean_done", len(removed)))
			_ = logAction("DRP_CLEAN", fmt.Sprintf("removed: %d, dir: %s", len(removed), outDir))
			return
		}

		if dryRun {
			plan, err := exporter.DryRun()
			if err != nil {
				log.Fatalf("%v", err)
			}
			for _, src := range plan.Sources {
				fmt.Println(i18n.T("export.dry_run_source", src))
			}
			fmt.Println(i18n.T("export.dry_run"))
			return
		}

		res, err := exporter.Export()
		if err != nil {
			var unsafe *drp.UnsafePathError
			if errors.As(err, &unsafe) {
				log.Fatalf("%s", i18n.T("export.error_unsafe", unsafe.Name))
			}
			log.Fatalf("%v", err)
		}
		fmt.Println(i18n.T("export.done", res.Archive))
		fmt.Println(i18n.T("export.checksum", res.SHA256))
		_ = logAction("DRP_EXPORT", fmt.Sprintf("archive: %s, files: %d, bytes: %d, encrypted: %t",
			filepath.Base(res.Archive), res.Files, res.Bytes, res.Encrypted))

		if pushTarget != "" {
			if err := pushArchive(cmd.Context(), pushTarget, res.Archive); err != nil {
				log.Fatalf("%v", err)
			}
			fmt.Println(i18n.T("export.pushed", pushTarget))
			_ = logAction("OFFSITE_PUSH", fmt.Sprintf("archive: %s, target: %s", filepath.Base(res.Archive), pushTarget))
		}
	},
}

// pushArchive replicates a finished archive to the offsite target. The
// target may be a full user@host:path spec or a bare host completed from the
// offsite config section.
func pushArchive(ctx context.Context, target, archive string) error {
	spec := target
	if !strings.Contains(spec, ":") {
		if u := viper.GetString("offsite.user"); u != "" && !strings.Contains(spec, "@") {
			spec = u + "@" + spec
		}
		if p := viper.GetString("offsite.path"); p != "" {
			spec = spec + ":" + p
		}
	}
	t, err := offsite.ParseTarget(spec)
	if err != nil {
		return err
	}
	var opts []offsite.Option
	if keyFile := viper.GetString("offsite.key_file"); keyFile != "" {
		key, err := os.ReadFile(keyFile)
		if err != nil {
			return fmt.Errorf("read offsite key: %w", err)
		}
		opts = append(opts, offsite.WithPrivateKey(security.Secret(key)))
	}
	client, err := offsite.Dial(t, opts...)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()
	return client.Push(ctx, archive)
}

// rollbackCmd represents the 'rollback' command. It restores the working
// tree from a recovery archive, newest first when none is named.
var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Restore the working tree from a recovery archive",
	Run: func(cmd *cobra.Command, args []string) {
		root := resolveRoot()
		archive, _ := cmd.Flags().GetString("archive")
		exportDir, _ := cmd.Flags().GetString("export-dir")
		sum, _ := cmd.Flags().GetString("sha256")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		if exportDir == "" {
			exportDir = resolveExportDir(root)
		}
		restorer := drp.NewRestorer(root, drp.WithRestoreExportDir(exportDir))

		if !dryRun {
			confirmOrAbort()
		}

		res, err := restorer.Restore(archive, drp.RestoreOptions{SHA256: sum, DryRun: dryRun})
		if err != nil {
			var unsafe *drp.UnsafePathError
			if errors.As(err, &unsafe) {
				log.Fatalf("%s", i18n.T("rollback.error_unsafe", unsafe.Name))
			}
			log.Fatalf("%v", err)
		}

		if dryRun {
			fmt.Println(i18n.T("rollback.dry_run_ok", filepath.Base(res.Archive)))
			return
		}
		fmt.Println(i18n.T("rollback.done", filepath.Base(res.Archive), res.Duration.Round(time.Millisecond)))
		_ = logAction("DRP_RESTORE", fmt.Sprintf("archive: %s, files: %d, duration: %s",
			filepath.Base(res.Archive), res.Files, res.Duration.Round(time.Millisecond)))
	},
}

// verifyCmd represents the 'verify' command. It checks the sha256 sidecar
// and walks every entry against the embedded manifest without extracting
// anything.
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify a recovery archive without extracting it",
	Run: func(cmd *cobra.Command, args []string) {
		root := resolveRoot()
		archive, _ := cmd.Flags().GetString("archive")
		exportDir, _ := cmd.Flags().GetString("export-dir")

		if exportDir == "" {
			exportDir = resolveExportDir(root)
		}
		if archive == "" {
			archives, err := drp.ListArchives(exportDir)
			if err != nil {
				log.Fatalf("%v", err)
			}
			if len(archives) == 0 {
				log.Fatalf("%s", i18n.T("rollback.error_no_archive", exportDir))
			}
			archive = archives[len(archives)-1]
		}

		key := security.GetOr(drp.EnvEncKey, nil)
		report, err := drp.Verify(archive, key.Bytes())
		if err != nil {
			log.Fatalf("%s", i18n.T("verify.error", err))
		}
		if !report.OK() {
			for _, p := range report.Problems {
				fmt.Println(p)
			}
			fmt.Println(i18n.T("verify.error", fmt.Sprintf("%d problem(s)", len(report.Problems))))
			os.Exit(1)
		}
		fmt.Println(i18n.T("verify.ok", filepath.Base(report.Archive), report.Files))
		_ = logAction("VERIFY_ARCHIVE", fmt.Sprintf("archive: %s, files: %d", filepath.Base(report.Archive), report.Files))
	},
}

func init() {
	exportCmd.Flags().Bool("dry-run", false, "List what would be archived without writing anything")
	exportCmd.Flags().Bool("clean", false, "Remove archives older than the retention window")
	exportCmd.Flags().Bool("encrypt", false, "Encrypt the archive (DRP_ENC_KEY or prompted passphrase)")
	exportCmd.Flags().String("out", "", "Directory to write the archive to")
	exportCmd.Flags().String("push", "", "Push the finished archive to user@host:path")

	rollbackCmd.Flags().String("archive", "", "Archive to restore (default: newest in the export dir)")
	rollbackCmd.Flags().String("export-dir", "", "Directory to look for archives in")
	rollbackCmd.Flags().String("sha256", "", "Require the archive to match this digest before extraction")
	rollbackCmd.Flags().Bool("dry-run", false, "Validate the archive without touching the working tree")

	verifyCmd.Flags().String("archive", "", "Archive to verify (default: newest in the export dir)")
	verifyCmd.Flags().String("export-dir", "", "Directory to look for archives in")
}
