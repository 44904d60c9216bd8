// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

//go:build !unix

package drp

// DiskFree is not implemented off unix; the health report carries zero.
func DiskFree(dir string) uint64 { return 0 }
