// SPDX-License-Identifier: MIT

// Package fsutil implements the Filesystem Service: directory creation,
// free-space probing, timestamped archive paths, pruning, and MP4 repair.
//
// Grounded on the original surveillance-camera-system's fs_utils.py
// (ensure_directory_exists, get_free_space, cleanup_directory,
// check_disk_space, repair_mp4_file) and camera_utils.py's get_recordings,
// reworked into explicit functions operating on caller-supplied paths
// rather than module-level config globals.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"
)

// MinFileSize is the threshold below which a media file is considered
// suspect/corrupt (spec.md §3 invariant 5, §4.B).
const MinFileSize = 1024 // 1 KiB

// TimestampFormat is the 14-digit local-time format embedded in archive
// filenames (spec.md §6).
const TimestampFormat = "20060102150405"

// FileExists reports whether path names a regular, readable file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Stat is a thin wrapper over os.Stat, exported so callers outside this
// package can inspect an archive's size without importing "os"
// directly for a single call.
func Stat(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

// RemoveFile deletes path, treating an already-missing file as success.
func RemoveFile(path string) error {
	err := os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// EnsureDir creates path if absent, verifies it is a directory, sets a
// permissive mode on non-Windows platforms, and probes writability by
// creating and removing a marker file.
func EnsureDir(path string) error {
	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(path, 0o755); mkErr != nil {
			return fmt.Errorf("fsutil: create directory %s: %w", path, mkErr)
		}
		if chErr := chmodPermissive(path); chErr != nil {
			// Non-fatal: some filesystems (FAT, overlay, etc.) reject chmod.
			_ = chErr
		}
	case err != nil:
		return fmt.Errorf("fsutil: stat %s: %w", path, err)
	case !info.IsDir():
		return fmt.Errorf("fsutil: path exists but is not a directory: %s", path)
	}

	marker := filepath.Join(path, ".camkernel_write_test")
	if err := os.WriteFile(marker, []byte("test"), 0o644); err != nil {
		return fmt.Errorf("fsutil: directory %s is not writable: %w", path, err)
	}
	_ = os.Remove(marker)
	return nil
}

// chmodPermissive opens a freshly created directory's mode to 0777 on
// non-Windows platforms; on Windows it does nothing.
func chmodPermissive(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	return os.Chmod(path, 0o777)
}

// CleanDir removes every regular file directly inside dir, leaving the
// directory itself and any subdirectories in place. Used by the Stream
// Supervisor's spawner step to clear stale playlist/segment files ahead
// of a (re)spawn (spec.md §4.D: "cleans stale files, preserves the
// directory").
func CleanDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("fsutil: read dir %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		_ = os.Remove(filepath.Join(dir, entry.Name()))
	}
	return nil
}

// resolveExisting applies the fallback chain shared by both platform
// implementations of FreeBytes: try path, then its parent, then the
// process working directory.
func resolveExisting(path string) string {
	if _, err := os.Stat(path); err == nil {
		return path
	}
	parent := filepath.Dir(path)
	if _, err := os.Stat(parent); err == nil {
		return parent
	}
	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}
	return path
}

// CheckDiskSpace reports whether path has at least minFreeGB gigabytes of
// free space. The comparison is strict: exactly minFreeGB is insufficient
// (spec.md §8 boundary behavior).
func CheckDiskSpace(path string, minFreeGB float64) (bool, error) {
	free, err := FreeBytes(path)
	if err != nil {
		return false, err
	}
	freeGB := float64(free) / (1024 * 1024 * 1024)
	return freeGB > minFreeGB, nil
}

// ArchivePath returns the canonical archive path for camera id under root
// and ensures the camera's subdirectory exists (spec.md §3 invariant 3).
func ArchivePath(root, cameraID string, at time.Time) (string, error) {
	dir := filepath.Join(root, cameraID)
	if err := EnsureDir(dir); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%s.mp4", cameraID, at.Format(TimestampFormat))
	return filepath.Join(dir, name), nil
}

// Prune deletes files in dir whose name has the given suffix under three
// rules, in order: (1) files smaller than MinFileSize are always deleted
// as suspect; (2) of the survivors, those older than maxAge (if > 0) are
// deleted; (3) of what remains, the oldest are deleted until at most
// maxFiles remain (if > 0). It returns the count deleted.
func Prune(dir, suffix string, maxAge time.Duration, maxFiles int) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("fsutil: read dir %s: %w", dir, err)
	}

	type fileInfo struct {
		path  string
		mtime time.Time
	}
	var survivors []fileInfo
	deleted := 0
	now := time.Now()

	for _, entry := range entries {
		if entry.IsDir() || (suffix != "" && !strings.HasSuffix(entry.Name(), suffix)) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.Size() < MinFileSize {
			if rmErr := os.Remove(path); rmErr == nil {
				deleted++
			}
			continue
		}

		if maxAge > 0 && now.Sub(info.ModTime()) > maxAge {
			if rmErr := os.Remove(path); rmErr == nil {
				deleted++
			}
			continue
		}

		survivors = append(survivors, fileInfo{path: path, mtime: info.ModTime()})
	}

	if maxFiles > 0 && len(survivors) > maxFiles {
		sort.Slice(survivors, func(i, j int) bool { return survivors[i].mtime.Before(survivors[j].mtime) })
		excess := len(survivors) - maxFiles
		for i := 0; i < excess; i++ {
			if rmErr := os.Remove(survivors[i].path); rmErr == nil {
				deleted++
			}
		}
	}

	return deleted, nil
}

// Recording describes one archive file discovered by ListRecordings.
type Recording struct {
	CameraID string
	Path     string
	Size     int64
	Started  time.Time // parsed from filename, falling back to mtime
}

// ListRecordings walks root/<camera_id>/*.mp4, parsing each filename's
// embedded timestamp (spec.md §6 "filename temporal format"), skipping
// (not deleting) archives smaller than MinFileSize as possibly corrupt,
// and returns the result newest-first. Supplements spec.md §6's listing
// operation with the original implementation's ordering and corrupt-file
// handling (SPEC_FULL.md §12).
func ListRecordings(root string) ([]Recording, error) {
	cameraDirs, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fsutil: read root %s: %w", root, err)
	}

	var out []Recording
	for _, cd := range cameraDirs {
		if !cd.IsDir() {
			continue
		}
		cameraID := cd.Name()
		dir := filepath.Join(root, cameraID)
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".mp4") {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			if info.Size() < MinFileSize {
				continue
			}
			out = append(out, Recording{
				CameraID: cameraID,
				Path:     filepath.Join(dir, f.Name()),
				Size:     info.Size(),
				Started:  parseRecordingTimestamp(f.Name(), info.ModTime()),
			})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Started.After(out[j].Started) })
	return out, nil
}

// parseRecordingTimestamp extracts the 14-digit timestamp from a filename
// of the form "<camera_id>_<YYYYMMDDHHMMSS>.mp4", falling back to
// fallback (the file's mtime) if the name doesn't parse.
func parseRecordingTimestamp(name string, fallback time.Time) time.Time {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	idx := strings.LastIndex(base, "_")
	if idx < 0 {
		return fallback
	}
	ts := base[idx+1:]
	if _, err := strconv.Atoi(ts); err != nil || len(ts) != 14 {
		return fallback
	}
	t, err := time.ParseInLocation(TimestampFormat, ts, time.Local)
	if err != nil {
		return fallback
	}
	return t
}
