// SPDX-License-Identifier: MIT

//go:build !windows

package fsutil

import (
	"fmt"
	"syscall"
)

// FreeBytes resolves path to its containing volume and returns the free
// space in bytes (spec.md §4.B), falling back through resolveExisting
// when path itself cannot be statted.
func FreeBytes(path string) (uint64, error) {
	resolved := resolveExisting(path)

	var stat syscall.Statfs_t
	if err := syscall.Statfs(resolved, &stat); err != nil {
		return 0, fmt.Errorf("fsutil: statfs %s: %w", resolved, err)
	}
	return uint64(stat.Bavail) * uint64(stat.Bsize), nil //nolint:unconvert // Bavail/Bsize width varies by platform
}

// TotalBytes resolves path to its containing volume and returns the
// volume's total capacity in bytes, for the health endpoint's disk
// usage reporting (spec.md §6).
func TotalBytes(path string) (uint64, error) {
	resolved := resolveExisting(path)

	var stat syscall.Statfs_t
	if err := syscall.Statfs(resolved, &stat); err != nil {
		return 0, fmt.Errorf("fsutil: statfs %s: %w", resolved, err)
	}
	return uint64(stat.Blocks) * uint64(stat.Bsize), nil //nolint:unconvert // Blocks/Bsize width varies by platform
}
