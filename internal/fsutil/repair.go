// SPDX-License-Identifier: MIT

package fsutil

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// RepairMP4 probes that a video stream header is present in path using
// ffprobe; if not, it remuxes the file to a sibling temp path with the
// ignore_err flag and atomically replaces the original on success,
// deleting the temp file on failure (spec.md §4.B).
//
// Grounded on the original surveillance-camera-system's
// fs_utils.py:repair_mp4_file.
func RepairMP4(ctx context.Context, ffprobePath, ffmpegPath, path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("fsutil: repair_mp4 stat %s: %w", path, err)
	}
	if info.Size() < MinFileSize {
		return false, nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	probe := exec.CommandContext(probeCtx, ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=codec_type",
		"-of", "csv=p=0",
		path,
	)
	var out bytes.Buffer
	probe.Stdout = &out
	_ = probe.Run()

	if strings.Contains(out.String(), "video") {
		return true, nil
	}

	tempPath := path + ".repaired.mp4"
	repairCtx, cancel2 := context.WithTimeout(ctx, 30*time.Second)
	defer cancel2()

	repair := exec.CommandContext(repairCtx, ffmpegPath,
		"-v", "warning",
		"-err_detect", "ignore_err",
		"-i", path,
		"-c", "copy",
		"-y", tempPath,
	)
	repairErr := repair.Run()

	tempInfo, statErr := os.Stat(tempPath)
	if repairErr != nil || statErr != nil || tempInfo.Size() < MinFileSize {
		_ = os.Remove(tempPath)
		return false, nil
	}

	backup := path + ".bak"
	if err := os.Rename(path, backup); err != nil {
		_ = os.Remove(tempPath)
		return false, fmt.Errorf("fsutil: repair_mp4 backup %s: %w", path, err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Rename(backup, path)
		return false, fmt.Errorf("fsutil: repair_mp4 replace %s: %w", path, err)
	}
	_ = os.Remove(backup)

	return true, nil
}
