// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

// package drp builds, verifies and restores Disaster Recovery Packages:
// tar.gz archives of the working tree (logs, state, active bundles, keys)
// that a rescue host can replay to resume trading. Archives are optionally
// encrypted in the openssl enc container format so recovery never depends
// on this binary being available.
package drp // import "github.com/mevog/warden/internal/drp"

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// ManifestName is always the first entry of a package.
const ManifestName = "MANIFEST.json"

// entryNamePattern is the only character set allowed in archive entry names.
var entryNamePattern = regexp.MustCompile(`^[a-zA-Z0-9._/-]+$`)

// UnsafePathError marks an archive entry or source path that failed the
// safety check. Restores abort on the first one.
type UnsafePathError struct {
	Name   string
	Reason string
}

func (e *UnsafePathError) Error() string {
	return fmt.Sprintf("unsafe path %q: %s", e.Name, e.Reason)
}

// ValidateEntryName enforces the archive path policy: allowlisted characters
// only, relative, and no parent-directory escapes.
func ValidateEntryName(name string) error {
	if name == "" {
		return &UnsafePathError{Name: name, Reason: "empty name"}
	}
	if !entryNamePattern.MatchString(name) {
		return &UnsafePathError{Name: name, Reason: "character outside [a-zA-Z0-9._/-]"}
	}
	if strings.HasPrefix(name, "/") {
		return &UnsafePathError{Name: name, Reason: "absolute path"}
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return &UnsafePathError{Name: name, Reason: "parent directory traversal"}
		}
	}
	return nil
}

// ManifestFile describes one archived regular file.
type ManifestFile struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Mode   uint32 `json:"mode"`
	SHA256 string `json:"sha256"`
}

// Manifest is the machine-readable table of contents written as the first
// archive entry.
type Manifest struct {
	CreatedAt time.Time      `json:"created_at"`
	Host      string         `json:"host"`
	Version   string         `json:"version"`
	Files     []ManifestFile `json:"files"`
}

// collectSources walks the given source directories under root and returns
// the relative paths of all regular files, sorted. Missing sources are
// skipped: a fresh deployment has no state/ yet and must still export.
func collectSources(root string, sources []string) ([]string, error) {
	var files []string
	for _, src := range sources {
		base := filepath.Join(root, src)
		info, err := os.Stat(base)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		if !info.IsDir() {
			rel := filepath.ToSlash(src)
			if err := ValidateEntryName(rel); err != nil {
				return nil, err
			}
			files = append(files, rel)
			continue
		}
		err = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			if err := ValidateEntryName(rel); err != nil {
				return err
			}
			files = append(files, rel)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(files)
	return files, nil
}

func fileSHA256(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Pack writes a tar.gz archive of the given relative files to dst, with the
// manifest as the first entry. The returned manifest is the one written.
func Pack(dst io.Writer, root string, files []string, version string) (*Manifest, error) {
	host, _ := os.Hostname()
	man := &Manifest{
		CreatedAt: time.Now().UTC(),
		Host:      host,
		Version:   version,
		Files:     make([]ManifestFile, 0, len(files)),
	}
	for _, rel := range files {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		sum, size, err := fileSHA256(abs)
		if err != nil {
			return nil, fmt.Errorf("hash %s: %w", rel, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, err
		}
		man.Files = append(man.Files, ManifestFile{
			Path:   rel,
			Size:   size,
			Mode:   uint32(info.Mode().Perm()),
			SHA256: sum,
		})
	}

	gz := gzip.NewWriter(dst)
	tw := tar.NewWriter(gz)

	manData, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    ManifestName,
		Mode:    0o644,
		Size:    int64(len(manData)),
		ModTime: man.CreatedAt,
	}); err != nil {
		return nil, fmt.Errorf("write manifest header: %w", err)
	}
	if _, err := tw.Write(manData); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	for _, mf := range man.Files {
		abs := filepath.Join(root, filepath.FromSlash(mf.Path))
		f, err := os.Open(abs)
		if err != nil {
			return nil, err
		}
		hdr := &tar.Header{
			Name:    mf.Path,
			Mode:    int64(mf.Mode),
			Size:    mf.Size,
			ModTime: man.CreatedAt,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("write header %s: %w", mf.Path, err)
		}
		if _, err := io.Copy(tw, f); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("write %s: %w", mf.Path, err)
		}
		_ = f.Close()
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("close gzip: %w", err)
	}
	return man, nil
}

// Unpack extracts a package stream into destDir after validating every entry
// name. The manifest must be the first entry; it is parsed, returned, and
// also written into destDir so a restored tree keeps its provenance.
func Unpack(src io.Reader, destDir string) (*Manifest, error) {
	gz, err := gzip.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}
	defer func() { _ = gz.Close() }()
	tr := tar.NewReader(gz)

	var man *Manifest
	first := true
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar: %w", err)
		}
		name := filepath.ToSlash(hdr.Name)
		if err := ValidateEntryName(name); err != nil {
			return nil, err
		}

		if first {
			first = false
			if name != ManifestName {
				return nil, fmt.Errorf("archive does not start with %s", ManifestName)
			}
			data, err := io.ReadAll(tr)
			if err != nil {
				return nil, fmt.Errorf("read manifest: %w", err)
			}
			man = &Manifest{}
			if err := json.Unmarshal(data, man); err != nil {
				return nil, fmt.Errorf("parse manifest: %w", err)
			}
			if err := os.MkdirAll(destDir, 0o755); err != nil {
				return nil, err
			}
			if err := os.WriteFile(filepath.Join(destDir, ManifestName), data, 0o644); err != nil {
				return nil, err
			}
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(filepath.Join(destDir, filepath.FromSlash(name)), 0o755); err != nil {
				return nil, err
			}
		case tar.TypeReg:
			target := filepath.Join(destDir, filepath.FromSlash(name))
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return nil, err
			}
			mode := fs.FileMode(hdr.Mode & 0o777)
			if mode == 0 {
				mode = 0o644
			}
			out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
			if err != nil {
				return nil, err
			}
			if _, err := io.Copy(out, tr); err != nil {
				_ = out.Close()
				return nil, fmt.Errorf("extract %s: %w", name, err)
			}
			if err := out.Close(); err != nil {
				return nil, err
			}
		default:
			return nil, &UnsafePathError{Name: name, Reason: fmt.Sprintf("entry type %q not allowed", hdr.Typeflag)}
		}
	}
	if man == nil {
		return nil, fmt.Errorf("archive does not start with %s", ManifestName)
	}
	return man, nil
}

// FileSHA256 returns the hex digest of the file at path.
func FileSHA256(path string) (string, error) {
	sum, _, err := fileSHA256(path)
	return sum, err
}

// WriteChecksum writes the shasum-style sidecar next to an archive.
func WriteChecksum(archivePath string) (string, error) {
	sum, err := FileSHA256(archivePath)
	if err != nil {
		return "", err
	}
	line := fmt.Sprintf("%s  %s\n", sum, filepath.Base(archivePath))
	if err := os.WriteFile(archivePath+".sha256", []byte(line), 0o644); err != nil {
		return "", err
	}
	return sum, nil
}

// ReadChecksum parses the digest from an archive's .sha256 sidecar. A
// missing sidecar is reported via os.ErrNotExist.
func ReadChecksum(archivePath string) (string, error) {
	data, err := os.ReadFile(archivePath + ".sha256")
	if err != nil {
		return "", err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return "", fmt.Errorf("empty checksum file for %s", archivePath)
	}
	return fields[0], nil
}
