// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package drp

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mevog/warden/internal/logging"
	"github.com/mevog/warden/internal/oplog"
	"github.com/mevog/warden/internal/security"
)

const (
	// EnvRollbackLogFile overrides the rollback log location.
	EnvRollbackLogFile = "ROLLBACK_LOG_FILE"

	// RestoreBudget is the wall-clock target for a full restore. Exceeding
	// it does not fail the restore; it is logged so drills catch the trend
	// before a real incident does.
	RestoreBudget = 60 * time.Second
)

// ErrGPGNotSupported rejects legacy .gpg archives. The one supported
// container is openssl enc; see the package docs for the recovery one-liner.
var ErrGPGNotSupported = errors.New("gpg archives are not supported; re-encrypt with openssl enc -aes-256-cbc -pbkdf2")

// Restorer restores DRP archives into the working tree.
type Restorer struct {
	root       string
	exportDir  string
	passphrase security.Secret
	log        *oplog.Logger
	errLog     *oplog.Logger
	budget     time.Duration
	now        func() time.Time
}

// RestorerOption configures a Restorer.
type RestorerOption func(*Restorer)

// WithRestoreExportDir sets where archives are looked up.
func WithRestoreExportDir(dir string) RestorerOption {
	return func(r *Restorer) { r.exportDir = dir }
}

// WithRestorePassphrase forces a specific decryption passphrase.
func WithRestorePassphrase(p security.Secret) RestorerOption {
	return func(r *Restorer) { r.passphrase = p }
}

// WithRollbackLogger sets an explicit rollback logger.
func WithRollbackLogger(l *oplog.Logger) RestorerOption {
	return func(r *Restorer) { r.log = l }
}

// WithRestoreErrorLogger sets an explicit error logger.
func WithRestoreErrorLogger(l *oplog.Logger) RestorerOption {
	return func(r *Restorer) { r.errLog = l }
}

// WithRestoreBudget overrides the wall-clock budget.
func WithRestoreBudget(d time.Duration) RestorerOption {
	return func(r *Restorer) { r.budget = d }
}

// WithRestoreClock overrides the time source for tests.
func WithRestoreClock(now func() time.Time) RestorerOption {
	return func(r *Restorer) { r.now = now }
}

// NewRestorer returns a Restorer rooted at the given working tree. EXPORT_DIR,
// ROLLBACK_LOG_FILE, ERROR_LOG_FILE and DRP_ENC_KEY are honored unless
// overridden by options.
func NewRestorer(root string, opts ...RestorerOption) *Restorer {
	r := &Restorer{
		root:       root,
		exportDir:  filepath.Join(root, "export"),
		passphrase: security.GetOr(EnvEncKey, nil),
		budget:     RestoreBudget,
		now:        time.Now,
	}
	if d := os.Getenv(EnvExportDir); d != "" {
		r.exportDir = d
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		path := filepath.Join(root, "logs", "rollback.log")
		if p := os.Getenv(EnvRollbackLogFile); p != "" {
			path = p
		}
		r.log = oplog.New("rollback", oplog.WithPath(path))
	}
	if r.errLog == nil {
		r.errLog = newErrorLogger(root)
	}
	return r
}

// LatestArchive returns the newest package in the export dir.
func (r *Restorer) LatestArchive() (string, error) {
	archives, err := ListArchives(r.exportDir)
	if err != nil {
		return "", err
	}
	if len(archives) == 0 {
		return "", fmt.Errorf("no %s*.tar.gz archives in %s", archivePrefix, r.exportDir)
	}
	return archives[len(archives)-1], nil
}

// RestoreOptions tune a single restore run.
type RestoreOptions struct {
	// SHA256, when set, must match the archive digest before extraction.
	SHA256 string
	// DryRun validates the archive without touching the working tree.
	DryRun bool
}

// RestoreResult describes a completed restore.
type RestoreResult struct {
	Archive    string
	Files      int
	Duration   time.Duration
	OverBudget bool
	DryRun     bool
}

// Restore installs the archive into the working tree. An empty archivePath
// selects the newest package in the export dir. Extraction is atomic per
// top-level directory: the archive unpacks into a temp sibling, current
// directories are moved aside, restored ones renamed into place, and the
// moved-aside copies removed only after every rename succeeded.
func (r *Restorer) Restore(archivePath string, opts RestoreOptions) (*RestoreResult, error) {
	start := r.now()

	if archivePath == "" {
		latest, err := r.LatestArchive()
		if err != nil {
			return nil, r.fail(archivePath, err)
		}
		archivePath = latest
	}
	if strings.HasSuffix(archivePath, ".gpg") {
		return nil, r.fail(archivePath, ErrGPGNotSupported)
	}

	if err := r.checkDigest(archivePath, opts.SHA256); err != nil {
		return nil, r.fail(archivePath, err)
	}

	plainPath, cleanup, err := r.decryptIfNeeded(archivePath)
	if err != nil {
		return nil, r.fail(archivePath, err)
	}
	defer cleanup()

	if opts.DryRun {
		rep, err := Verify(plainPath, nil)
		if err != nil {
			return nil, r.fail(archivePath, err)
		}
		if !rep.OK() {
			return nil, r.fail(archivePath, fmt.Errorf("archive failed verification: %s", strings.Join(rep.Problems, "; ")))
		}
		res := &RestoreResult{
			Archive:  archivePath,
			Files:    rep.Files,
			Duration: r.now().Sub(start),
			DryRun:   true,
		}
		err = r.log.Log(oplog.Entry{
			Event: "dry-run",
			Extra: map[string]any{
				"archive": archivePath,
				"files":   res.Files,
			},
		})
		return res, err
	}

	tmpDir := filepath.Join(r.root, fmt.Sprintf(".restore_tmp_%d", start.UnixNano()))
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, r.fail(archivePath, err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	f, err := os.Open(plainPath)
	if err != nil {
		return nil, r.fail(archivePath, err)
	}
	man, err := Unpack(f, tmpDir)
	_ = f.Close()
	if err != nil {
		return nil, r.fail(archivePath, err)
	}

	if err := r.install(tmpDir); err != nil {
		return nil, r.fail(archivePath, err)
	}

	dur := r.now().Sub(start)
	res := &RestoreResult{
		Archive:    archivePath,
		Files:      len(man.Files),
		Duration:   dur,
		OverBudget: dur > r.budget,
	}
	if res.OverBudget {
		logging.Warnf("restore of %s took %s, budget is %s", filepath.Base(archivePath), dur, r.budget)
	}
	err = r.log.Log(oplog.Entry{
		Event: "restore",
		Extra: map[string]any{
			"archive":     archivePath,
			"files":       res.Files,
			"duration_ms": dur.Milliseconds(),
			"over_budget": res.OverBudget,
		},
	})
	return res, err
}

// fail logs the failure to both the rollback log and the error log, then
// returns the original error for the caller's exit code.
func (r *Restorer) fail(archive string, cause error) error {
	reason := "restore_failed"
	var unsafeErr *UnsafePathError
	if errors.As(cause, &unsafeErr) {
		reason = "unsafe_path"
	}
	_ = r.errLog.Log(oplog.Entry{
		Event: "error",
		Error: cause.Error(),
		Extra: map[string]any{"reason": reason, "archive": archive},
	})
	_ = r.log.Log(oplog.Entry{
		Event: "failed",
		Error: cause.Error(),
		Extra: map[string]any{"archive": archive, "reason": reason},
	})
	return cause
}

// checkDigest verifies the archive against an explicit digest and, when
// present, the .sha256 sidecar written at export time.
func (r *Restorer) checkDigest(archivePath, want string) error {
	sidecar, err := ReadChecksum(archivePath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if want == "" && sidecar == "" {
		return nil
	}
	got, err := FileSHA256(archivePath)
	if err != nil {
		return err
	}
	if want != "" && !strings.EqualFold(got, want) {
		return fmt.Errorf("archive digest mismatch: have %s, want %s", got, want)
	}
	if sidecar != "" && !strings.EqualFold(got, sidecar) {
		return fmt.Errorf("archive digest does not match sidecar: have %s, sidecar %s", got, sidecar)
	}
	return nil
}

// decryptIfNeeded turns an .enc archive into a plain temp file. The returned
// cleanup removes the temp file; for plain archives it is a no-op.
func (r *Restorer) decryptIfNeeded(archivePath string) (string, func(), error) {
	if !strings.HasSuffix(archivePath, ".enc") {
		return archivePath, func() {}, nil
	}
	if r.passphrase.Empty() {
		return "", nil, fmt.Errorf("%s is encrypted and %s is not set", filepath.Base(archivePath), EnvEncKey)
	}
	in, err := os.Open(archivePath)
	if err != nil {
		return "", nil, err
	}
	defer func() { _ = in.Close() }()

	tmp, err := os.CreateTemp(filepath.Dir(archivePath), ".restore_dec_*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }
	if err := Decrypt(tmp, in, r.passphrase.Bytes()); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", nil, err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return tmp.Name(), cleanup, nil
}

// install moves restored top-level entries from tmpDir into the root. Current
// versions are parked with a .pre_restore suffix and removed on success; on
// a rename failure every completed rename is rolled back.
func (r *Restorer) install(tmpDir string) error {
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return err
	}

	type swap struct{ target, parked string }
	var done []swap
	rollback := func() {
		for i := len(done) - 1; i >= 0; i-- {
			_ = os.RemoveAll(done[i].target)
			if done[i].parked != "" {
				_ = os.Rename(done[i].parked, done[i].target)
			}
		}
	}

	for _, ent := range entries {
		name := ent.Name()
		if name == ManifestName {
			continue
		}
		target := filepath.Join(r.root, name)
		parked := ""
		if _, err := os.Stat(target); err == nil {
			parked = target + ".pre_restore"
			_ = os.RemoveAll(parked)
			if err := os.Rename(target, parked); err != nil {
				rollback()
				return fmt.Errorf("park %s: %w", name, err)
			}
		}
		if err := os.Rename(filepath.Join(tmpDir, name), target); err != nil {
			if parked != "" {
				_ = os.Rename(parked, target)
			}
			rollback()
			return fmt.Errorf("install %s: %w", name, err)
		}
		done = append(done, swap{target: target, parked: parked})
	}

	for _, s := range done {
		if s.parked != "" {
			_ = os.RemoveAll(s.parked)
		}
	}
	return nil
}
