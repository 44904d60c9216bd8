package main

import "github.com/mevog/warden/internal/db"

// logAction writes an audit entry through the default writer when one is
// available. Commands never fail just because the audit write did.
func logAction(action, details string) error {
	if w := db.DefaultAuditWriter(); w != nil {
		return w.LogAction(action, details)
	}
	if db.IsInitialized() {
		return db.LogAction(action, details)
	}
	return nil
}
