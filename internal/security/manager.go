// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

package security

import (
	"fmt"
	"os"
	"strings"
)

// Get resolves the named secret. It first checks the `<NAME>_FILE`
// environment variable for a file path holding the secret, then falls back
// to the `<NAME>` environment variable itself. File contents are trimmed of
// surrounding whitespace, matching how container secret mounts behave.
func Get(name string) (Secret, error) {
	fileVar := name + "_FILE"
	if path := os.Getenv(fileVar); path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return FromString(strings.TrimSpace(string(data))), nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read %s (%s): %w", fileVar, path, err)
		}
	}
	if val := os.Getenv(name); val != "" {
		return FromString(val), nil
	}
	return nil, fmt.Errorf("secret %s not found (tried %s, %s)", name, fileVar, name)
}

// GetOr resolves the named secret, returning the fallback when unset. Used
// for optional material like the metrics bearer token.
func GetOr(name string, fallback Secret) Secret {
	s, err := Get(name)
	if err != nil {
		return fallback
	}
	return s
}
