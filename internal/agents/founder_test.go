// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package agents

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/mevog/warden/internal/oplog"
)

func newTestGate(t *testing.T) *FounderGate {
	t.Helper()
	dir := t.TempDir()
	return NewFounderGate(
		WithTokenPath(filepath.Join(dir, "founder.token")),
		WithFounderLogger(oplog.New("founder_gate", oplog.WithDir(dir))),
	)
}

func TestFounderApprovedScopedToken(t *testing.T) {
	t.Setenv(EnvFounderToken, MintToken("capital_unlock", time.Now().Add(time.Hour)))
	g := newTestGate(t)

	if !g.Approved("capital_unlock") {
		t.Error("token scoped to capital_unlock should approve it")
	}
	if g.Approved("prune") {
		t.Error("token scoped to capital_unlock must not approve prune")
	}

	entries, err := oplog.ReadFile(g.log.Path())
	if err != nil || len(entries) != 2 {
		t.Fatalf("expected 2 founder_check entries, got %d (err %v)", len(entries), err)
	}
	if entries[0].Event != "founder_check" || entries[0].Extra["approved"] != true {
		t.Errorf("first check entry wrong: %+v", entries[0])
	}
	if entries[1].Extra["approved"] != false {
		t.Errorf("second check entry wrong: %+v", entries[1])
	}
	if entries[0].Extra["source"] != "env" {
		t.Errorf("source = %v, want env", entries[0].Extra["source"])
	}
}

func TestFounderRejectsExpiredToken(t *testing.T) {
	t.Setenv(EnvFounderToken, MintToken("capital_unlock", time.Now().Add(-time.Minute)))
	g := newTestGate(t)
	if g.Approved("capital_unlock") {
		t.Error("expired token must not approve")
	}
}

func TestFounderAcceptsUnixExpiry(t *testing.T) {
	expiry := strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10)
	t.Setenv(EnvFounderToken, "prune:"+expiry)
	g := newTestGate(t)
	if !g.Approved("prune") {
		t.Error("unix-seconds expiry should be accepted")
	}
}

func TestFounderBareTokenApprovesAnything(t *testing.T) {
	t.Setenv(EnvFounderToken, "break-glass")
	g := newTestGate(t)
	if !g.Approved("capital_unlock") || !g.Approved("anything_else") {
		t.Error("bare token should approve any action")
	}
}

func TestFounderReadsTokenFile(t *testing.T) {
	t.Setenv(EnvFounderToken, "")
	dir := t.TempDir()
	tokenPath := filepath.Join(dir, "founder.token")
	token := MintToken("promote_live", time.Now().Add(time.Hour))
	if err := os.WriteFile(tokenPath, []byte(token+"\n"), 0o600); err != nil {
		t.Fatalf("write token: %v", err)
	}

	g := NewFounderGate(
		WithTokenPath(tokenPath),
		WithFounderLogger(oplog.New("founder_gate", oplog.WithDir(dir))),
	)
	if !g.Approved("promote_live") {
		t.Error("file token should approve")
	}

	entries, _ := oplog.ReadFile(g.log.Path())
	if len(entries) == 0 || entries[0].Extra["source"] != "file" {
		t.Errorf("expected source=file in log, got %+v", entries)
	}
}

func TestFounderRequire(t *testing.T) {
	t.Setenv(EnvFounderToken, "")
	g := newTestGate(t)
	err := g.Require("capital_unlock")
	if !errors.Is(err, ErrFounderRequired) {
		t.Fatalf("expected ErrFounderRequired, got %v", err)
	}

	t.Setenv(EnvFounderToken, MintToken("capital_unlock", time.Now().Add(time.Hour)))
	if err := g.Require("capital_unlock"); err != nil {
		t.Fatalf("Require with valid token failed: %v", err)
	}
}
