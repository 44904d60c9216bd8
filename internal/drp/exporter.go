// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package drp

import (
	"io"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mevog/warden/buildvars"
	"github.com/mevog/warden/internal/logging"
	"github.com/mevog/warden/internal/oplog"
	"github.com/mevog/warden/internal/security"
)

const (
	// EnvExportDir overrides where archives are written.
	EnvExportDir = "EXPORT_DIR"

	// EnvExportLogFile overrides the export audit log location.
	EnvExportLogFile = "EXPORT_LOG_FILE"

	// EnvErrorLogFile overrides the shared error log location.
	EnvErrorLogFile = "ERROR_LOG_FILE"

	// EnvEncKey names the passphrase secret; resolution goes through
	// security.Get, so DRP_ENC_KEY_FILE works too.
	EnvEncKey = "DRP_ENC_KEY"

	archivePrefix = "drp_export_"
	archiveStamp  = "20060102T150405Z"
)

// DefaultSources are the working tree directories a package captures.
var DefaultSources = []string{"logs", "state", "active", "keys"}

// Exporter builds DRP archives from the working tree.
type Exporter struct {
	root          string
	exportDir     string
	sources       []string
	passphrase    security.Secret
	retentionDays int
	log           *oplog.Logger
	errLog        *oplog.Logger
	scanner       *security.Scanner
	now           func() time.Time
}

// ExporterOption configures an Exporter.
type ExporterOption func(*Exporter)

// WithExportDir sets the archive destination directory.
func WithExportDir(dir string) ExporterOption {
	return func(e *Exporter) { e.exportDir = dir }
}

// WithSources overrides the captured directories.
func WithSources(sources ...string) ExporterOption {
	return func(e *Exporter) { e.sources = sources }
}

// WithPassphrase forces a specific encryption passphrase. An empty secret
// disables encryption.
func WithPassphrase(p security.Secret) ExporterOption {
	return func(e *Exporter) { e.passphrase = p }
}

// WithRetentionDays sets how old an archive must be before Clean removes it.
func WithRetentionDays(days int) ExporterOption {
	return func(e *Exporter) { e.retentionDays = days }
}

// WithExportLogger sets an explicit export logger.
func WithExportLogger(l *oplog.Logger) ExporterOption {
	return func(e *Exporter) { e.log = l }
}

// WithErrorLogger sets an explicit error logger.
func WithErrorLogger(l *oplog.Logger) ExporterOption {
	return func(e *Exporter) { e.errLog = l }
}

// WithExportClock overrides the time source for tests.
func WithExportClock(now func() time.Time) ExporterOption {
	return func(e *Exporter) { e.now = now }
}

// NewExporter returns an Exporter rooted at the given working tree.
// EXPORT_DIR, EXPORT_LOG_FILE, ERROR_LOG_FILE and DRP_ENC_KEY are honored
// unless overridden by options.
func NewExporter(root string, opts ...ExporterOption) *Exporter {
	e := &Exporter{
		root:          root,
		exportDir:     filepath.Join(root, "export"),
		sources:       DefaultSources,
		passphrase:    security.GetOr(EnvEncKey, nil),
		retentionDays: 7,
		scanner:       security.NewScanner(),
		now:           time.Now,
	}
	if d := os.Getenv(EnvExportDir); d != "" {
		e.exportDir = d
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		path := filepath.Join(root, "logs", "export_state.log")
		if p := os.Getenv(EnvExportLogFile); p != "" {
			path = p
		}
		e.log = oplog.New("export_state", oplog.WithPath(path))
	}
	if e.errLog == nil {
		e.errLog = newErrorLogger(root)
	}
	return e
}

func newErrorLogger(root string) *oplog.Logger {
	path := filepath.Join(root, "logs", "errors.log")
	if p := os.Getenv(EnvErrorLogFile); p != "" {
		path = p
	}
	return oplog.New("errors", oplog.WithPath(path))
}

func currentUsername() string {
	u, err := user.Current()
	if err != nil {
		return "unknown"
	}
	if parts := strings.Split(u.Username, `\`); len(parts) > 1 {
		return parts[1]
	}
	return u.Username
}

// ExportDir returns the resolved archive destination.
func (e *Exporter) ExportDir() string { return e.exportDir }

// Encrypts reports whether archives will be encrypted.
func (e *Exporter) Encrypts() bool { return !e.passphrase.Empty() }

// Result describes a completed export.
type Result struct {
	Archive   string
	SHA256    string
	Files     int
	Bytes     int64
	Encrypted bool
	Duration  time.Duration
}

// Plan describes what an export would capture.
type Plan struct {
	Archive string
	Sources []string
	Files   int
	Bytes   int64
}

// preflight scans the non-key sources for leaked credentials. Findings never
// abort an export: in a disaster the package must still be produced. They are
// logged so the leak is visible before the archive leaves the host.
func (e *Exporter) preflight() {
	critical := 0
	for _, src := range e.sources {
		if src == "keys" {
			continue
		}
		dir := filepath.Join(e.root, src)
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		findings, err := e.scanner.ScanTree(dir)
		if err != nil {
			logging.Warnf("export preflight scan %s: %v", src, err)
			continue
		}
		for _, f := range findings {
			if f.Severity == security.SeverityCritical {
				critical++
			}
		}
	}
	if critical > 0 {
		logging.Warnf("export preflight: %d critical secret finding(s) outside keys/", critical)
		_ = e.log.Log(oplog.Entry{
			Event:     "preflight",
			RiskLevel: "high",
			Extra: map[string]any{
				"mode":              "export",
				"user":              currentUsername(),
				"critical_findings": critical,
			},
		})
	}
}

// Export archives the source directories into a new package. It returns an
// *UnsafePathError when a source path fails the safety check; that failure is
// appended to the error log before returning.
func (e *Exporter) Export() (*Result, error) {
	start := e.now()
	e.preflight()

	files, err := collectSources(e.root, e.sources)
	if err != nil {
		e.failExport(err)
		return nil, err
	}
	if err := os.MkdirAll(e.exportDir, 0o755); err != nil {
		e.failExport(err)
		return nil, err
	}

	name := archivePrefix + start.UTC().Format(archiveStamp) + ".tar.gz"
	encrypted := e.Encrypts()
	if encrypted {
		name += ".enc"
	}
	finalPath := filepath.Join(e.exportDir, name)
	tmpPath := finalPath + ".tmp"

	out, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		e.failExport(err)
		return nil, err
	}
	packErr := func() error {
		defer func() { _ = out.Close() }()
		if !encrypted {
			_, err := Pack(out, e.root, files, buildvars.VersionOrDefault("dev"))
			return err
		}
		pr, pw := io.Pipe()
		packDone := make(chan error, 1)
		go func() {
			_, perr := Pack(pw, e.root, files, buildvars.VersionOrDefault("dev"))
			pw.CloseWithError(perr)
			packDone <- perr
		}()
		encErr := Encrypt(out, pr, e.passphrase.Bytes())
		if encErr != nil {
			// Unblock the packer if encryption bailed mid-stream.
			_ = pr.CloseWithError(encErr)
		}
		if perr := <-packDone; perr != nil {
			return perr
		}
		return encErr
	}()
	if packErr != nil {
		_ = os.Remove(tmpPath)
		e.failExport(packErr)
		return nil, packErr
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		e.failExport(err)
		return nil, err
	}

	sum, err := WriteChecksum(finalPath)
	if err != nil {
		e.failExport(err)
		return nil, err
	}

	var total int64
	if fi, err := os.Stat(finalPath); err == nil {
		total = fi.Size()
	}
	res := &Result{
		Archive:   finalPath,
		SHA256:    sum,
		Files:     len(files),
		Bytes:     total,
		Encrypted: encrypted,
		Duration:  e.now().Sub(start),
	}
	logErr := e.log.Log(oplog.Entry{
		Event: "export",
		Extra: map[string]any{
			"mode":        "export",
			"user":        currentUsername(),
			"archive":     res.Archive,
			"sha256":      res.SHA256,
			"files":       res.Files,
			"bytes":       res.Bytes,
			"encrypted":   res.Encrypted,
			"duration_ms": res.Duration.Milliseconds(),
		},
	})
	if logErr != nil {
		return res, logErr
	}
	return res, nil
}

func (e *Exporter) failExport(cause error) {
	reason := "export_failed"
	if _, ok := cause.(*UnsafePathError); ok {
		reason = "unsafe_path"
	}
	_ = e.errLog.Log(oplog.Entry{
		Event: "error",
		Error: cause.Error(),
		Extra: map[string]any{"reason": reason, "mode": "export"},
	})
}

// DryRun reports what an export would capture. Nothing is written except the
// mode=dry-run log line.
func (e *Exporter) DryRun() (*Plan, error) {
	files, err := collectSources(e.root, e.sources)
	if err != nil {
		e.failExport(err)
		return nil, err
	}
	var total int64
	for _, rel := range files {
		if fi, err := os.Stat(filepath.Join(e.root, filepath.FromSlash(rel))); err == nil {
			total += fi.Size()
		}
	}
	name := archivePrefix + e.now().UTC().Format(archiveStamp) + ".tar.gz"
	if e.Encrypts() {
		name += ".enc"
	}
	plan := &Plan{
		Archive: filepath.Join(e.exportDir, name),
		Sources: e.sources,
		Files:   len(files),
		Bytes:   total,
	}
	err = e.log.Log(oplog.Entry{
		Event: "dry-run",
		Extra: map[string]any{
			"mode":    "dry-run",
			"user":    currentUsername(),
			"archive": "",
			"files":   plan.Files,
			"bytes":   plan.Bytes,
		},
	})
	return plan, err
}

// Clean removes archives older than the retention window, along with their
// checksum sidecars. It returns the removed archive paths.
func (e *Exporter) Clean() ([]string, error) {
	cutoff := e.now().Add(-time.Duration(e.retentionDays) * 24 * time.Hour)
	archives, err := ListArchives(e.exportDir)
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, a := range archives {
		fi, err := os.Stat(a)
		if err != nil {
			continue
		}
		if fi.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(a); err != nil {
			return removed, err
		}
		_ = os.Remove(a + ".sha256")
		removed = append(removed, a)
	}
	err = e.log.Log(oplog.Entry{
		Event: "clean",
		Extra: map[string]any{
			"mode":           "clean",
			"user":           currentUsername(),
			"archive":        "",
			"removed":        len(removed),
			"retention_days": e.retentionDays,
		},
	})
	return removed, err
}

// ListArchives returns every package in dir sorted oldest first. The
// timestamp is embedded in the name, so lexical order is chronological.
func ListArchives(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		name := ent.Name()
		if !strings.HasPrefix(name, archivePrefix) {
			continue
		}
		if !strings.HasSuffix(name, ".tar.gz") && !strings.HasSuffix(name, ".tar.gz.enc") {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out, nil
}
