// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package drp

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// VerifyReport summarizes an archive audit.
type VerifyReport struct {
	Archive  string
	Files    int
	Bytes    int64
	Problems []string
}

// OK reports whether the archive passed every check.
func (r *VerifyReport) OK() bool { return len(r.Problems) == 0 }

// openArchiveStream opens the archive for reading, transparently decrypting
// .enc containers. The caller must close the returned reader.
func openArchiveStream(path string, passphrase []byte) (io.ReadCloser, error) {
	if strings.HasSuffix(path, ".gpg") {
		return nil, ErrGPGNotSupported
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".enc") {
		return f, nil
	}
	if len(passphrase) == 0 {
		_ = f.Close()
		return nil, fmt.Errorf("%s is encrypted and %s is not set", filepath.Base(path), EnvEncKey)
	}
	pr, pw := io.Pipe()
	go func() {
		err := Decrypt(pw, f, passphrase)
		_ = f.Close()
		pw.CloseWithError(err)
	}()
	return pr, nil
}

// Verify audits an archive without extracting it: gzip and tar structure,
// manifest presence, entry name policy, per-file digests against the
// manifest. Entry policy violations return an *UnsafePathError; content
// mismatches are collected in the report.
func Verify(archivePath string, passphrase []byte) (*VerifyReport, error) {
	src, err := openArchiveStream(archivePath, passphrase)
	if err != nil {
		return nil, err
	}
	defer func() { _ = src.Close() }()

	gz, err := gzip.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}
	defer func() { _ = gz.Close() }()
	tr := tar.NewReader(gz)

	rep := &VerifyReport{Archive: archivePath}
	var man *Manifest
	manifestDigests := map[string]string{}
	seen := map[string]bool{}
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
			for _, mf := range man.Files {
				manifestDigests[mf.Path] = mf.SHA256
			}
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			// nothing to check
		case tar.TypeReg:
			h := sha256.New()
			n, err := io.Copy(h, tr)
			if err != nil {
				return nil, fmt.Errorf("hash %s: %w", name, err)
			}
			rep.Files++
			rep.Bytes += n
			seen[name] = true
			want, listed := manifestDigests[name]
			if !listed {
				rep.Problems = append(rep.Problems, fmt.Sprintf("%s: not in manifest", name))
				continue
			}
			if got := hex.EncodeToString(h.Sum(nil)); !strings.EqualFold(got, want) {
				rep.Problems = append(rep.Problems, fmt.Sprintf("%s: digest mismatch", name))
			}
		default:
			return nil, &UnsafePathError{Name: name, Reason: fmt.Sprintf("entry type %q not allowed", hdr.Typeflag)}
		}
	}

	if man == nil {
		return nil, fmt.Errorf("archive does not start with %s", ManifestName)
	}
	for path := range manifestDigests {
		if !seen[path] {
			rep.Problems = append(rep.Problems, fmt.Sprintf("%s: listed in manifest but missing", path))
		}
	}
	return rep, nil
}
