// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package offsite

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mevog/warden/internal/drp"
	"github.com/mevog/warden/internal/oplog"
)

// Target is a replication destination in user@host:path form. Host may carry
// an explicit port; the path is interpreted by the remote SFTP server.
type Target struct {
	User string
	Host string
	Dir  string
}

// ParseTarget parses scp-style user@host:path, including bracketed IPv6 hosts.
func ParseTarget(s string) (Target, error) {
	rest := s
	var user string
	if i := strings.Index(rest, "@"); i >= 0 {
		user, rest = rest[:i], rest[i+1:]
	}
	if user == "" {
		return Target{}, fmt.Errorf("offsite target %q: missing user", s)
	}
	var host, dir string
	if strings.HasPrefix(rest, "[") {
		end := strings.Index(rest, "]")
		if end < 0 {
			return Target{}, fmt.Errorf("offsite target %q: unterminated bracket", s)
		}
		host = rest[:end+1]
		rest = rest[end+1:]
		if !strings.HasPrefix(rest, ":") {
			return Target{}, fmt.Errorf("offsite target %q: missing path", s)
		}
		dir = rest[1:]
	} else {
		i := strings.Index(rest, ":")
		if i < 0 {
			return Target{}, fmt.Errorf("offsite target %q: missing path", s)
		}
		host, dir = rest[:i], rest[i+1:]
	}
	if host == "" {
		return Target{}, fmt.Errorf("offsite target %q: missing host", s)
	}
	if dir == "" {
		return Target{}, fmt.Errorf("offsite target %q: missing path", s)
	}
	return Target{User: user, Host: host, Dir: dir}, nil
}

func (t Target) String() string {
	return t.User + "@" + t.Host + ":" + t.Dir
}

// ctxReader aborts a copy as soon as the context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}

// Push uploads an archive to the target directory. The transfer lands under a
// temporary name and is renamed into place, so a crashed push never leaves a
// half-written archive that looks restorable. A checksum sidecar next to the
// local file rides along. Satisfies the drp agent's Pusher.
func (c *Client) Push(ctx context.Context, localPath string) error {
	start := c.now()
	base := filepath.Base(localPath)

	if err := c.fs.MkdirAll(c.target.Dir); err != nil {
		return fmt.Errorf("failed to create remote dir %s: %w", c.target.Dir, err)
	}

	n, err := c.upload(ctx, localPath, path.Join(c.target.Dir, base))
	if err != nil {
		return err
	}

	// The sidecar is tiny and optional; missing is fine, a failed upload is not.
	sidecar := localPath + ".sha256"
	if _, statErr := os.Stat(sidecar); statErr == nil {
		if _, err := c.upload(ctx, sidecar, path.Join(c.target.Dir, base+".sha256")); err != nil {
			return err
		}
	}

	_ = c.log.Log(oplog.Entry{
		Event:  "push",
		Module: "offsite",
		Extra: map[string]any{
			"archive":     base,
			"host":        c.target.Host,
			"bytes":       n,
			"duration_ms": c.now().Sub(start).Milliseconds(),
		},
	})
	return nil
}

// upload copies one local file to remotePath via a temp name plus rename.
func (c *Client) upload(ctx context.Context, localPath, remotePath string) (int64, error) {
	src, err := os.Open(localPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", localPath, err)
	}

	tmpPath := fmt.Sprintf("%s.part.%d", remotePath, c.now().UnixNano())
	dst, err := c.fs.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create remote temp file: %w", err)
	}

	n, err := io.Copy(dst, ctxReader{ctx: ctx, r: src})
	if err != nil {
		dst.Close()
		_ = c.fs.Remove(tmpPath)
		return 0, fmt.Errorf("failed to write remote temp file: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = c.fs.Remove(tmpPath)
		return 0, fmt.Errorf("failed to close remote temp file: %w", err)
	}
	if n != info.Size() {
		_ = c.fs.Remove(tmpPath)
		return 0, fmt.Errorf("short upload of %s: wrote %d of %d bytes", localPath, n, info.Size())
	}

	if err := c.fs.Chmod(tmpPath, 0600); err != nil {
		_ = c.fs.Remove(tmpPath)
		return 0, fmt.Errorf("failed to chmod remote temp file: %w", err)
	}
	if err := c.fs.Rename(tmpPath, remotePath); err != nil {
		_ = c.fs.Remove(tmpPath)
		return 0, fmt.Errorf("failed to rename remote file into place: %w", err)
	}
	return n, nil
}

// List returns the archive names present in the remote directory, oldest
// first by name. Archive names embed a UTC timestamp, so lexical order is
// chronological order.
func (c *Client) List() ([]string, error) {
	infos, err := c.fs.ReadDir(c.target.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read remote dir %s: %w", c.target.Dir, err)
	}
	var names []string
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		name := info.Name()
		if !strings.HasPrefix(name, "drp_export_") {
			continue
		}
		if !strings.HasSuffix(name, ".tar.gz") && !strings.HasSuffix(name, ".tar.gz.enc") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Trim removes remote archives beyond the newest keep, sidecars included.
func (c *Client) Trim(keep int) error {
	if keep < 0 {
		keep = 0
	}
	names, err := c.List()
	if err != nil {
		return err
	}
	if len(names) <= keep {
		return nil
	}
	victims := names[:len(names)-keep]
	for _, name := range victims {
		if err := c.fs.Remove(path.Join(c.target.Dir, name)); err != nil {
			return fmt.Errorf("failed to remove remote archive %s: %w", name, err)
		}
		// Sidecar may not exist for older pushes.
		_ = c.fs.Remove(path.Join(c.target.Dir, name+".sha256"))
	}
	_ = c.log.Log(oplog.Entry{
		Event:  "trim",
		Module: "offsite",
		Extra: map[string]any{
			"host":    c.target.Host,
			"removed": len(victims),
			"kept":    keep,
		},
	})
	return nil
}

var _ drp.Pusher = (*Client)(nil)
