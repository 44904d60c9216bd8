// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package tui

import (
	"strings"
	"testing"

	"github.com/mevog/warden/internal/i18n"
	"github.com/mevog/warden/internal/model"
)

func TestAuditActionStyleAndRebuild(t *testing.T) {
	// Check styles render something non-empty
	s := auditActionStyle("MUTATION_APPLIED")
	if s.Render("x") == "" {
		t.Fatalf("expected non-empty render from high-risk style")
	}
	s2 := auditActionStyle("CREATE_PROPOSAL")
	if s2.Render("x") == "" {
		t.Fatalf("expected non-empty render from low-risk style")
	}

	// Test rebuildTableRows with entries
	m := &auditLogModel{
		allEntries: []model.AuditLogEntry{
			{Timestamp: "2026-01-01T00:00:00Z", Username: "alice", Action: "CREATE_PROPOSAL", Details: "promotion of sandwich_v2"},
			{Timestamp: "2026-01-02T00:00:00Z", Username: "bob", Action: "CAST_VOTE", Details: "approve on a1b2c3"},
		},
	}
	m.filter = ""
	m.filterCol = 0
	m.rebuildTableRows()
	rows := m.table.Rows()
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows after rebuild, got %d", len(rows))
	}

	// Try filter by username
	m.filter = "bob"
	m.filterCol = 2
	m.rebuildTableRows()
	rows = m.table.Rows()
	if len(rows) != 1 {
		t.Fatalf("expected 1 row when filtering by bob, got %d", len(rows))
	}

	// Filter on action column
	m.filter = "cast_vote"
	m.filterCol = 3
	m.rebuildTableRows()
	rows = m.table.Rows()
	if len(rows) != 1 {
		t.Fatalf("expected 1 row when filtering by action, got %d", len(rows))
	}

	// Non-matching filter empties the table
	m.filter = "nothing-matches-this"
	m.filterCol = 0
	m.rebuildTableRows()
	if len(m.table.Rows()) != 0 {
		t.Fatalf("expected 0 rows for non-matching filter, got %d", len(m.table.Rows()))
	}
}

func TestAuditActionStyleClasses(t *testing.T) {
	// Destructive and live-impacting actions share the attention color.
	if auditActionStyle("KILL_SWITCH_ENGAGED").GetForeground() != specialStyle.GetForeground() {
		t.Errorf("expected attention color for KILL_ prefix")
	}
	if auditActionStyle("DELETE_STRATEGY").GetForeground() != specialStyle.GetForeground() {
		t.Errorf("expected attention color for DELETE_ prefix")
	}
	if auditActionStyle("UPSERT_STRATEGY").GetForeground() != successStyle.GetForeground() {
		t.Errorf("expected success color for UPSERT_ prefix")
	}
	if auditActionStyle("VERIFY_ARCHIVE").GetForeground() != helpStyle.GetForeground() {
		t.Errorf("expected muted color for VERIFY_ prefix")
	}
	if auditActionStyle("SOMETHING_ELSE").GetForeground() == specialStyle.GetForeground() {
		t.Errorf("expected neutral fallback for unknown actions")
	}
}

func TestAuditLogViewTruncatesTimestamps(t *testing.T) {
	i18n.Init("en")
	m := &auditLogModel{
		allEntries: []model.AuditLogEntry{
			{Timestamp: "2026-01-01T00:00:00.123456Z", Username: "alice", Action: "CAST_VOTE", Details: "approve"},
		},
	}
	m.rebuildTableRows()
	rows := m.table.Rows()
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if got := rows[0][0]; got != "2026-01-01T00:00:00" {
		t.Fatalf("expected truncated timestamp, got %q", got)
	}
}

func TestAuditLogViewRendersEmptyState(t *testing.T) {
	i18n.Init("en")
	m := &auditLogModel{}
	m.rebuildTableRows()
	out := m.View()
	if out == "" {
		t.Fatalf("empty audit log view rendered nothing")
	}
	if !strings.Contains(out, i18n.T("audit_log.empty")) {
		t.Fatalf("expected empty-state message, got: %q", out)
	}
}
