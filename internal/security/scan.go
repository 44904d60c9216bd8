// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package security

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// FindingSeverity ranks how bad a leaked match is.
type FindingSeverity string

const (
	SeverityCritical FindingSeverity = "critical"
	SeverityHigh     FindingSeverity = "high"
	SeverityMedium   FindingSeverity = "medium"
)

// Finding is one suspected secret occurrence. The matched value itself is
// never stored, only a digest, so scan reports are safe to archive.
type Finding struct {
	File      string          `json:"file"`
	Line      int             `json:"line"`
	Kind      string          `json:"kind"`
	Severity  FindingSeverity `json:"severity"`
	MatchHash string          `json:"match_hash"`
	Context   string          `json:"context"`
}

type pattern struct {
	kind     string
	severity FindingSeverity
	re       *regexp.Regexp
}

// patterns covers the credential shapes that have actually leaked from
// trading deployments: raw chain keys, exchange API keys, infra URLs with
// embedded credentials, signed tokens.
var patterns = []pattern{
	{"private_key", SeverityCritical, regexp.MustCompile(`(?i)["']?(?:private|priv|secret)[_-]?key["']?\s*[:=]\s*["']?(0x[a-fA-F0-9]{64}|[a-fA-F0-9]{64})["']?`)},
	{"private_key", SeverityCritical, regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`)},
	{"api_key", SeverityHigh, regexp.MustCompile(`(?i)["']?api[_-]?(?:key|secret)["']?\s*[:=]\s*["']?([a-zA-Z0-9_\-]{20,})["']?`)},
	{"aws_credential", SeverityHigh, regexp.MustCompile(`AKIA[A-Z0-9]{16}`)},
	{"database_url", SeverityHigh, regexp.MustCompile(`(?i)(?:postgres|postgresql|mysql|mongodb|redis)://[^\s"']+:[^\s"']+@[^\s"']+`)},
	{"jwt_token", SeverityMedium, regexp.MustCompile(`eyJ[a-zA-Z0-9_\-]{8,}\.[a-zA-Z0-9_\-]{8,}\.[a-zA-Z0-9_\-]{8,}`)},
	{"webhook_url", SeverityMedium, regexp.MustCompile(`(?i)(?:discord|slack)[_-]?webhook["']?\s*[:=]\s*["']?(https?://[^\s"']+)`)},
	{"generic_secret", SeverityMedium, regexp.MustCompile(`(?i)["']?(?:password|passwd)["']?\s*[:=]\s*["']?([^\s"']{8,})["']?`)},
}

// allowlist holds values that look like secrets but are well-known
// placeholders. Matches containing any of these are skipped.
var allowlist = []string{
	"0x" + strings.Repeat("0", 64),
	"0x0000000000000000000000000000000000000000",
	"YOUR_API_KEY_HERE",
	"YOUR_PRIVATE_KEY_HERE",
	"<your-api-key>",
	"example.com",
	"localhost",
	"127.0.0.1",
}

// Scanner walks a tree looking for leaked credentials. It is used by
// `warden secrets scan`, by the DRP exporter's keys/ preflight, and by the
// chaos drill when it audits a finished archive.
type Scanner struct {
	// ExcludeDirs are directory names skipped entirely.
	ExcludeDirs []string
	// Extensions limits which files are scanned; empty means scan every
	// regular file (the DRP preflight wants that).
	Extensions []string
	// MaxFileSize skips files larger than this many bytes. Zero means 10 MiB.
	MaxFileSize int64
}

// NewScanner returns a scanner with the defaults used across the tooling.
func NewScanner() *Scanner {
	return &Scanner{
		ExcludeDirs: []string{".git", "vendor", "node_modules", "testdata"},
		Extensions:  []string{".go", ".json", ".yaml", ".yml", ".env", ".sh", ".md", ".txt"},
		MaxFileSize: 10 << 20,
	}
}

// ScanTree walks root and returns every finding under it.
func (s *Scanner) ScanTree(root string) ([]Finding, error) {
	var findings []Finding
	maxSize := s.MaxFileSize
	if maxSize == 0 {
		maxSize = 10 << 20
	}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			for _, ex := range s.ExcludeDirs {
				if d.Name() == ex {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if len(s.Extensions) > 0 && !s.wantsExt(path) {
			return nil
		}
		if info, err := d.Info(); err == nil && info.Size() > maxSize {
			return nil
		}
		fileFindings, err := s.ScanFile(path)
		if err != nil {
			return fmt.Errorf("scan %s: %w", path, err)
		}
		findings = append(findings, fileFindings...)
		return nil
	})
	return findings, err
}

// ScanFile scans one file line by line.
func (s *Scanner) ScanFile(path string) ([]Finding, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var findings []Finding
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		for _, p := range patterns {
			match := p.re.FindString(line)
			if match == "" || allowlisted(match) {
				continue
			}
			sum := sha256.Sum256([]byte(match))
			findings = append(findings, Finding{
				File:      path,
				Line:      lineNo,
				Kind:      p.kind,
				Severity:  p.severity,
				MatchHash: hex.EncodeToString(sum[:8]),
				Context:   redactLine(line, match),
			})
		}
	}
	return findings, sc.Err()
}

func (s *Scanner) wantsExt(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, want := range s.Extensions {
		if ext == want {
			return true
		}
	}
	return false
}

func allowlisted(match string) bool {
	for _, a := range allowlist {
		if strings.Contains(match, a) {
			return true
		}
	}
	return false
}

// redactLine replaces the matched value so findings can be shown and logged
// without re-leaking the secret.
func redactLine(line, match string) string {
	redacted := strings.Replace(line, match, "[REDACTED]", 1)
	if len(redacted) > 160 {
		redacted = redacted[:160]
	}
	return strings.TrimSpace(redacted)
}

// Report summarizes a scan for the JSONL logs and drill metrics.
type Report struct {
	ScannedAt time.Time `json:"scanned_at"`
	Root      string    `json:"root"`
	Findings  []Finding `json:"findings"`
	Critical  int       `json:"critical"`
	High      int       `json:"high"`
	Medium    int       `json:"medium"`
}

// Summarize builds a Report with per-severity counts.
func Summarize(root string, findings []Finding) Report {
	r := Report{ScannedAt: time.Now().UTC(), Root: root, Findings: findings}
	for _, f := range findings {
		switch f.Severity {
		case SeverityCritical:
			r.Critical++
		case SeverityHigh:
			r.High++
		case SeverityMedium:
			r.Medium++
		}
	}
	return r
}
