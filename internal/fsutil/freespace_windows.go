// SPDX-License-Identifier: MIT

//go:build windows

package fsutil

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// FreeBytes resolves path to its containing volume and returns the free
// space in bytes (spec.md §4.B), via the Windows GetDiskFreeSpaceEx API.
func FreeBytes(path string) (uint64, error) {
	resolved := resolveExisting(path)

	var freeBytesAvailable uint64
	ptr, err := windows.UTF16PtrFromString(resolved)
	if err != nil {
		return 0, fmt.Errorf("fsutil: encode path %s: %w", resolved, err)
	}
	if err := windows.GetDiskFreeSpaceEx(ptr, &freeBytesAvailable, nil, nil); err != nil {
		return 0, fmt.Errorf("fsutil: GetDiskFreeSpaceEx %s: %w", resolved, err)
	}
	return freeBytesAvailable, nil
}

// TotalBytes resolves path to its containing volume and returns the
// volume's total capacity in bytes, via the Windows GetDiskFreeSpaceEx API.
func TotalBytes(path string) (uint64, error) {
	resolved := resolveExisting(path)

	var totalBytes uint64
	ptr, err := windows.UTF16PtrFromString(resolved)
	if err != nil {
		return 0, fmt.Errorf("fsutil: encode path %s: %w", resolved, err)
	}
	if err := windows.GetDiskFreeSpaceEx(ptr, nil, &totalBytes, nil); err != nil {
		return 0, fmt.Errorf("fsutil: GetDiskFreeSpaceEx %s: %w", resolved, err)
	}
	return totalBytes, nil
}
