// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package agents

import (
	"testing"

	"github.com/mevog/warden/internal/db"
)

func TestRegistryLocalValues(t *testing.T) {
	reg := NewLocalRegistry()

	if _, ok := reg.Get(KeyCapitalLocked); ok {
		t.Fatal("empty registry returned a value")
	}
	if !reg.GetBool(KeyDRPReady, true) {
		t.Fatal("GetBool ignored the default on a miss")
	}

	reg.Set("cycle", "42")
	if v, ok := reg.Get("cycle"); !ok || v != "42" {
		t.Fatalf("Get returned %q, %v", v, ok)
	}
	if reg.GetBool("cycle", false) {
		t.Error("GetBool parsed a non-boolean as true instead of defaulting")
	}

	reg.SetBool(KeyOpsPaused, true)
	if !reg.GetBool(KeyOpsPaused, false) {
		t.Error("SetBool round trip failed")
	}

	snap := reg.Snapshot()
	snap["cycle"] = "tampered"
	if v, _ := reg.Get("cycle"); v != "42" {
		t.Error("Snapshot returned a live map, not a copy")
	}
}

func TestDefaultRegistryShared(t *testing.T) {
	if DefaultRegistry() != DefaultRegistry() {
		t.Fatal("DefaultRegistry returned distinct instances")
	}
}

func TestRegistryMirrorsToDatabase(t *testing.T) {
	dsn := "file:test_" + t.Name() + "?mode=memory&cache=shared"
	if err := db.InitDB("sqlite", dsn); err != nil {
		t.Fatalf("init db: %v", err)
	}

	writer := NewRegistry()
	writer.SetBool(KeyCapitalLocked, true)

	row, err := db.GetAgentState(KeyCapitalLocked)
	if err != nil {
		t.Fatalf("read agent state: %v", err)
	}
	if row == nil || row.Value != "true" {
		t.Fatalf("mirror missing, got %+v", row)
	}

	// A fresh process with an empty local map sees the published state.
	reader := NewRegistry()
	if !reader.GetBool(KeyCapitalLocked, false) {
		t.Fatal("fresh registry did not fall through to the database")
	}

	writer.SetBool(KeyCapitalLocked, false)
	row, err = db.GetAgentState(KeyCapitalLocked)
	if err != nil {
		t.Fatalf("read agent state: %v", err)
	}
	if row == nil || row.Value != "false" {
		t.Fatalf("mirror not updated, got %+v", row)
	}
}
