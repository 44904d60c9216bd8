// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package state

import (
	"bytes"
	"testing"
)

func TestPassphraseCacheRoundTrip(t *testing.T) {
	t.Cleanup(PassphraseCache.Clear)

	original := []byte("correct horse battery staple")
	PassphraseCache.Set(original)

	// Mutating the caller's slice must not affect the cached copy.
	original[0] = 'X'

	got := PassphraseCache.Get()
	if !bytes.Equal(got, []byte("correct horse battery staple")) {
		t.Fatalf("cache returned mutated value: %q", got)
	}

	// Wiping one reader's copy must not affect another reader.
	for i := range got {
		got[i] = 0
	}
	again := PassphraseCache.Get()
	if !bytes.Equal(again, []byte("correct horse battery staple")) {
		t.Fatalf("cache value corrupted by reader wipe: %q", again)
	}
}

func TestPassphraseCacheClear(t *testing.T) {
	PassphraseCache.Set([]byte("to-be-wiped"))
	PassphraseCache.Clear()
	if got := PassphraseCache.Get(); got != nil {
		t.Fatalf("expected nil after Clear, got %q", got)
	}
}

func TestPassphraseCacheNilSet(t *testing.T) {
	PassphraseCache.Set([]byte("something"))
	PassphraseCache.Set(nil)
	if got := PassphraseCache.Get(); got != nil {
		t.Fatalf("Set(nil) should clear the cache, got %q", got)
	}
}
