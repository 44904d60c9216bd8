// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package chaos

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/mevog/warden/internal/drp"
	"github.com/mevog/warden/internal/oplog"
	"github.com/mevog/warden/internal/security"
	"github.com/mevog/warden/internal/strategy"
)

// A scenario damages one export/restore cycle in a specific way. run returns
// nil when the protection under test held and an error describing the breach
// otherwise.
type scenario struct {
	name string
	run  func(d *Drill, ctx context.Context, box *sandbox) error
}

var scenarios = []scenario{
	{"clean_cycle", runCleanCycle},
	{"bit_flip", runBitFlip},
	{"truncated", runTruncated},
	{"traversal_entry", runTraversalEntry},
	{"wrong_key", runWrongKey},
	{"secret_canary", runSecretCanary},
}

// seedTree builds a miniature working tree: a real orchestrator log line, a
// canary state file, a promoted strategy bundle and a placeholder key. The
// canary carries per-scenario content so a stale restore cannot pass.
func seedTree(tree, canary string) error {
	lgr := oplog.New("orchestrator", oplog.WithPath(filepath.Join(tree, "logs", "orchestrator.json")))
	if err := lgr.Log(oplog.Entry{
		Event:     "iteration_complete",
		RiskLevel: "low",
		Extra:     map[string]any{"strategies": 1},
	}); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Join(tree, "state"), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(tree, "state", "canary.txt"), []byte(canary), 0o644); err != nil {
		return err
	}

	bundle := filepath.Join(tree, "active", "spread_eth_usdc")
	if err := os.MkdirAll(bundle, 0o755); err != nil {
		return err
	}
	man := strategy.Manifest{
		StrategyID: "spread_eth_usdc",
		EdgeType:   strategy.EdgeSpreadMonitor,
		Pair:       "ETH/USDC",
		TTLHours:   48,
		Params:     map[string]float64{"threshold": 0.005},
	}
	if err := strategy.WriteManifest(filepath.Join(bundle, strategy.ManifestName), man); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Join(tree, "keys"), 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(tree, "keys", "signer.key"), []byte("drill placeholder material\n"), 0o600)
}

// archiveScanner scans restored archive contents. keys/ belongs in a DRP
// package, so the leak check skips it; every other file is fair game.
func archiveScanner() *security.Scanner {
	return &security.Scanner{ExcludeDirs: []string{"keys"}}
}

// runCleanCycle proves the happy path: export, restore with digest check,
// content intact, inside the time budget, and nothing credential-shaped
// outside keys/.
func runCleanCycle(d *Drill, ctx context.Context, box *sandbox) error {
	res, err := d.exporter(box, nil).Export()
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	rres, err := d.restorer(box, nil).Restore(res.Archive, drp.RestoreOptions{SHA256: res.SHA256})
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	if rres.OverBudget {
		return fmt.Errorf("restore took %s, budget is %s", rres.Duration, d.restoreBudget)
	}

	got, err := os.ReadFile(filepath.Join(box.target, "state", "canary.txt"))
	if err != nil {
		return fmt.Errorf("restored canary missing: %w", err)
	}
	if string(got) != box.canary {
		return errors.New("restored canary does not match the exported tree")
	}

	findings, err := archiveScanner().ScanTree(box.target)
	if err != nil {
		return fmt.Errorf("scan restored tree: %w", err)
	}
	if len(findings) > 0 {
		return fmt.Errorf("archive leaks %d credential-shaped value(s) outside keys/", len(findings))
	}
	return nil
}

// runBitFlip corrupts one byte mid-archive. The digest sidecar must refuse
// the restore and the target tree must stay untouched.
func runBitFlip(d *Drill, ctx context.Context, box *sandbox) error {
	res, err := d.exporter(box, nil).Export()
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	data, err := os.ReadFile(res.Archive)
	if err != nil {
		return err
	}
	data[len(data)/2] ^= 0xFF
	if err := os.WriteFile(res.Archive, data, 0o600); err != nil {
		return err
	}

	if _, err := d.restorer(box, nil).Restore(res.Archive, drp.RestoreOptions{}); err == nil {
		return errors.New("corrupted archive restored without complaint")
	}
	entries, err := os.ReadDir(box.target)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return fmt.Errorf("refused restore still wrote %d entrie(s) into the target", len(entries))
	}
	return nil
}

// runTruncated cuts the archive short and removes the sidecar, so the tar
// and gzip layers have to catch the damage on their own.
func runTruncated(d *Drill, ctx context.Context, box *sandbox) error {
	res, err := d.exporter(box, nil).Export()
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if err := os.Remove(res.Archive + ".sha256"); err != nil {
		return err
	}
	info, err := os.Stat(res.Archive)
	if err != nil {
		return err
	}
	if err := os.Truncate(res.Archive, info.Size()*3/5); err != nil {
		return err
	}

	if _, err := d.restorer(box, nil).Restore(res.Archive, drp.RestoreOptions{}); err == nil {
		return errors.New("truncated archive restored without complaint")
	}
	return nil
}

// runTraversalEntry hand-builds an archive whose second entry climbs out of
// the extraction directory. The entry name policy must reject it before
// anything is written.
func runTraversalEntry(d *Drill, ctx context.Context, box *sandbox) error {
	archive := filepath.Join(box.dir, "export", "evil.tar.gz")
	if err := writeTraversalArchive(archive); err != nil {
		return fmt.Errorf("build archive: %w", err)
	}

	_, err := d.restorer(box, nil).Restore(archive, drp.RestoreOptions{})
	if err == nil {
		return errors.New("traversal archive restored without complaint")
	}
	var unsafeErr *drp.UnsafePathError
	if !errors.As(err, &unsafeErr) {
		return fmt.Errorf("traversal rejected with the wrong error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(box.target, "escape.txt")); err == nil {
		return errors.New("traversal entry escaped into the target tree")
	}
	return nil
}

// writeTraversalArchive crafts a structurally valid package whose payload
// entry is named ../escape.txt.
func writeTraversalArchive(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	payload := []byte("climbed out\n")
	sum := sha256.Sum256(payload)

	man := drp.Manifest{
		CreatedAt: time.Now().UTC(),
		Host:      "drill",
		Version:   "drill",
		Files: []drp.ManifestFile{{
			Path:   "../escape.txt",
			Size:   int64(len(payload)),
			Mode:   0o644,
			SHA256: hex.EncodeToString(sum[:]),
		}},
	}
	manData, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	if err := tw.WriteHeader(&tar.Header{
		Name: drp.ManifestName, Mode: 0o644, Size: int64(len(manData)), ModTime: man.CreatedAt,
	}); err != nil {
		return err
	}
	if _, err := tw.Write(manData); err != nil {
		return err
	}
	if err := tw.WriteHeader(&tar.Header{
		Name: "../escape.txt", Mode: 0o644, Size: int64(len(payload)), ModTime: man.CreatedAt,
	}); err != nil {
		return err
	}
	if _, err := tw.Write(payload); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

// runWrongKey exports encrypted, then proves the wrong passphrase cannot
// open the archive while the right one still can.
func runWrongKey(d *Drill, ctx context.Context, box *sandbox) error {
	good := security.FromString("drill-good-key")
	bad := security.FromString("drill-bad-key")

	res, err := d.exporter(box, good).Export()
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if !res.Encrypted {
		return errors.New("export ignored the passphrase")
	}

	if _, err := d.restorer(box, bad).Restore(res.Archive, drp.RestoreOptions{SHA256: res.SHA256}); err == nil {
		return errors.New("wrong passphrase restored without complaint")
	}
	if _, err := d.restorer(box, good).Restore(res.Archive, drp.RestoreOptions{SHA256: res.SHA256}); err != nil {
		return fmt.Errorf("right passphrase failed after the wrong-key attempt: %w", err)
	}
	return nil
}

// runSecretCanary plants a credential-shaped value in the tree and proves
// the archive scan still spots it after export and restore.
func runSecretCanary(d *Drill, ctx context.Context, box *sandbox) error {
	planted := filepath.Join(box.tree, "state", "pipeline.env")
	line := "EXCHANGE_API_KEY=skdrill4f9xq7m2p8w3n6v1z5\n"
	if err := os.WriteFile(planted, []byte(line), 0o644); err != nil {
		return err
	}

	res, err := d.exporter(box, nil).Export()
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if _, err := d.restorer(box, nil).Restore(res.Archive, drp.RestoreOptions{SHA256: res.SHA256}); err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	findings, err := archiveScanner().ScanTree(box.target)
	if err != nil {
		return fmt.Errorf("scan restored tree: %w", err)
	}
	if len(findings) == 0 {
		return errors.New("planted credential went undetected in the restored archive")
	}
	return nil
}
