// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import "github.com/uptrace/bun"

// AuditWriter is the minimal contract for emitting audit events.
type AuditWriter interface {
	LogAction(action, details string) error
}

// BunAuditWriter writes audit entries using a Bun DB handle.
type BunAuditWriter struct {
	bdb *bun.DB
}

// NewBunAuditWriter creates an AuditWriter backed by the given Bun DB.
func NewBunAuditWriter(bdb *bun.DB) AuditWriter {
	return &BunAuditWriter{bdb: bdb}
}

// NewAuditWriterFromStore creates an AuditWriter from any Store by using
// the underlying Bun DB.
func NewAuditWriterFromStore(s Store) AuditWriter {
	return NewBunAuditWriter(s.BunDB())
}

// LogAction delegates to the centralized Bun helper.
func (w *BunAuditWriter) LogAction(action string, details string) error {
	return LogActionBun(w.bdb, action, details)
}

// package-level override used primarily by tests to inject a fake audit writer.
var defaultAuditWriter AuditWriter

// DefaultAuditWriter returns an AuditWriter backed by the package-level
// `store` if available. It returns nil when the package store is not
// initialized; callers should handle nil by falling back to direct helpers.
func DefaultAuditWriter() AuditWriter {
	if defaultAuditWriter != nil {
		return defaultAuditWriter
	}
	if store == nil {
		return nil
	}
	return NewAuditWriterFromStore(store)
}

// SetDefaultAuditWriter sets a package-level AuditWriter that will be
// returned by DefaultAuditWriter(). Useful for tests to inject a fake.
func SetDefaultAuditWriter(w AuditWriter) {
	defaultAuditWriter = w
}

// ClearDefaultAuditWriter clears any previously set package-level audit writer.
func ClearDefaultAuditWriter() {
	defaultAuditWriter = nil
}
