// SPDX-License-Identifier: MIT

// Package janitor implements the Janitor (spec.md §4.G): an HLS segment
// sweep that runs continuously as a supervised background service, plus
// an explicit archive/backup pruning operation invoked on demand.
//
// Grounded on the original surveillance-camera-system's fs_utils.py
// cleanup routines, restructured around the Filesystem Service's
// fsutil.Prune and fsutil.RepairMP4 rather than duplicating file-walk
// logic.
package janitor

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tomtom215/camkernel/internal/camera"
	"github.com/tomtom215/camkernel/internal/fsutil"
)

// SweepInterval is the HLS janitor's poll cadence (spec.md §4.G).
const SweepInterval = 15 * time.Second

// segmentGrace is the minimum age an unreferenced segment must reach
// before it is eligible for deletion, so a segment written just before
// the playlist is rewritten is not raced away (spec.md §4.G).
const segmentGrace = 60 * time.Second

// Registry is the subset of *camera.Registry the HLS sweep needs to
// discover which camera ids currently have a tmp directory to sweep.
type Registry interface {
	Sorted() []camera.Record
}

// HLSSweeper runs the HLS janitor as a supervised background service
// (kernelsup.Service): every SweepInterval, for each camera, it reads the
// live playlist to collect referenced segment names and deletes any
// `.ts` file in that camera's tmp directory that is neither referenced
// nor younger than segmentGrace.
type HLSSweeper struct {
	registry Registry
	tmpRoot  string
	interval time.Duration
	logger   *slog.Logger
}

// NewHLSSweeper builds an HLS janitor sweeping tmpRoot/<camera_id>/ for
// every camera the registry currently declares.
func NewHLSSweeper(registry Registry, tmpRoot string, logger *slog.Logger) *HLSSweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &HLSSweeper{registry: registry, tmpRoot: tmpRoot, interval: SweepInterval, logger: logger}
}

// Name implements kernelsup.Service.
func (s *HLSSweeper) Name() string { return "hls-janitor" }

// Run implements kernelsup.Service: it sweeps every interval until ctx is
// cancelled.
func (s *HLSSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *HLSSweeper) sweepOnce() {
	for _, rec := range s.registry.Sorted() {
		if err := s.sweepCamera(rec.ID); err != nil {
			s.logger.Warn("janitor: hls sweep failed", "camera", rec.ID, "error", err)
		}
	}
}

func (s *HLSSweeper) sweepCamera(cameraID string) error {
	dir := filepath.Join(s.tmpRoot, cameraID)
	playlistPath := filepath.Join(dir, cameraID+".m3u8")

	referenced, err := readPlaylistSegments(playlistPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // no live stream for this camera right now
		}
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("janitor: read dir %s: %w", dir, err)
	}

	now := time.Now()
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".ts") {
			continue
		}
		if referenced[entry.Name()] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < segmentGrace {
			continue
		}
		_ = os.Remove(filepath.Join(dir, entry.Name()))
	}
	return nil
}

// readPlaylistSegments parses an HLS playlist's non-comment lines as
// segment filenames.
func readPlaylistSegments(path string) (map[string]bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	segments := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		segments[line] = true
	}
	return segments, scanner.Err()
}

// PruneResult summarizes one archive-pruning pass.
type PruneResult struct {
	CameraID       string
	ArchivesPruned int
	BackupsPruned  int
}

// PruneArchives prunes each declared camera's record and backup
// directories (spec.md §4.G). Archive directories are pruned by
// maxRecordingHours*24h age and a 100-file cap; backup directories use
// a backupAgeMultiplier-times-longer age horizon and a 50-file cap.
// This operation is explicit, not automatic — its caller (cmd/camkernel's
// archive-prune loop, or an operator tool) invokes it on a schedule of its
// own choosing.
func PruneArchives(registry Registry, recordRoot, backupRoot string, maxRecordingHours float64, archiveMaxFiles, backupMaxFiles, backupAgeMultiplier int) ([]PruneResult, error) {
	archiveAge := time.Duration(maxRecordingHours * 24 * float64(time.Hour))
	backupAge := archiveAge * time.Duration(backupAgeMultiplier)

	var results []PruneResult
	for _, rec := range registry.Sorted() {
		var res PruneResult
		res.CameraID = rec.ID

		archiveDir := filepath.Join(recordRoot, rec.ID)
		n, err := fsutil.Prune(archiveDir, ".mp4", archiveAge, archiveMaxFiles)
		if err != nil {
			return results, fmt.Errorf("janitor: prune archives for %s: %w", rec.ID, err)
		}
		res.ArchivesPruned = n

		backupDir := filepath.Join(backupRoot, rec.ID)
		n, err = fsutil.Prune(backupDir, "", backupAge, backupMaxFiles)
		if err != nil {
			return results, fmt.Errorf("janitor: prune backups for %s: %w", rec.ID, err)
		}
		res.BackupsPruned = n

		results = append(results, res)
	}
	return results, nil
}

// RepairCorruptArchives attempts fsutil.RepairMP4 on each path in
// candidates, in order, and returns the paths it repaired or found
// intact; recordRoot is not read. It stops at the first repair error.
// RepairMP4 is the supplemented standalone repair operation
// (SPEC_FULL.md §12), invoked on demand rather than as part of every
// prune pass since remuxing is comparatively expensive.
func RepairCorruptArchives(ctx context.Context, recordRoot, ffprobePath, ffmpegPath string, candidates []string) (repaired []string, err error) {
	for _, path := range candidates {
		ok, rerr := fsutil.RepairMP4(ctx, ffprobePath, ffmpegPath, path)
		if rerr != nil {
			return repaired, fmt.Errorf("janitor: repair %s: %w", path, rerr)
		}
		if ok {
			repaired = append(repaired, path)
		}
	}
	return repaired, nil
}
