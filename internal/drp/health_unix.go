// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

//go:build unix

package drp

import "syscall"

// DiskFree returns the free bytes on the filesystem holding dir, or zero
// when the statfs call fails. The ops agent reuses it for its disk gate.
func DiskFree(dir string) uint64 {
	var st syscall.Statfs_t
	if err := syscall.Statfs(dir, &st); err != nil {
		return 0
	}
	return st.Bavail * uint64(st.Bsize)
}
