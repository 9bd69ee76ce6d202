// SPDX-License-Identifier: MIT

package stream

import (
	"os"
	"path/filepath"
	"time"
)

// freshnessSnapshot captures the two signals spec.md §3 defines as
// "freshness": the playlist's size and the mtime of its newest segment.
type freshnessSnapshot struct {
	playlistSize int64
	newestSegMod time.Time
}

// checkFreshness stats the playlist and its sibling segments, returning
// the current snapshot. A missing playlist leaves playlistSize at zero;
// two snapshots taken while neither the playlist nor any segment exists
// compare as unchanged, so a child that never produces output counts
// toward a stall.
func checkFreshness(tmpDir, cameraID string) freshnessSnapshot {
	var snap freshnessSnapshot

	playlist := filepath.Join(tmpDir, cameraID, cameraID+".m3u8")
	if info, err := os.Stat(playlist); err == nil {
		snap.playlistSize = info.Size()
	}

	entries, err := os.ReadDir(filepath.Join(tmpDir, cameraID))
	if err != nil {
		return snap
	}
	prefix := cameraID + "_"
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".ts" {
			continue
		}
		if len(e.Name()) < len(prefix) || e.Name()[:len(prefix)] != prefix {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(snap.newestSegMod) {
			snap.newestSegMod = info.ModTime()
		}
	}
	return snap
}

// unchanged reports whether next shows no sign of progress since prev:
// the playlist has not grown and no segment is newer than before.
func (prev freshnessSnapshot) unchanged(next freshnessSnapshot) bool {
	return prev.playlistSize == next.playlistSize && !next.newestSegMod.After(prev.newestSegMod)
}
