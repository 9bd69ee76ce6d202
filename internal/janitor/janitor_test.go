package janitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tomtom215/camkernel/internal/camera"
)

type fakeRegistry struct {
	records []camera.Record
}

func (f *fakeRegistry) Sorted() []camera.Record { return f.records }

func TestHLSSweeperRemovesUnreferencedStaleSegments(t *testing.T) {
	tmpRoot := t.TempDir()
	camDir := filepath.Join(tmpRoot, "cam1")
	if err := os.MkdirAll(camDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	playlist := filepath.Join(camDir, "cam1.m3u8")
	if err := os.WriteFile(playlist, []byte("#EXTM3U\ncam1_003.ts\ncam1_004.ts\n"), 0o644); err != nil {
		t.Fatalf("write playlist: %v", err)
	}

	stale := filepath.Join(camDir, "cam1_001.ts")
	referenced := filepath.Join(camDir, "cam1_003.ts")
	if err := os.WriteFile(stale, []byte("x"), 0o644); err != nil {
		t.Fatalf("write stale: %v", err)
	}
	if err := os.WriteFile(referenced, []byte("x"), 0o644); err != nil {
		t.Fatalf("write referenced: %v", err)
	}
	oldTime := time.Now().Add(-2 * time.Minute)
	if err := os.Chtimes(stale, oldTime, oldTime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	reg := &fakeRegistry{records: []camera.Record{{ID: "cam1", Name: "Front", RTSPURL: "rtsp://x"}}}
	sweeper := NewHLSSweeper(reg, tmpRoot, nil)
	sweeper.sweepOnce()

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("unreferenced stale segment should have been deleted")
	}
	if _, err := os.Stat(referenced); err != nil {
		t.Error("referenced segment should survive")
	}
}

func TestHLSSweeperKeepsYoungUnreferencedSegments(t *testing.T) {
	tmpRoot := t.TempDir()
	camDir := filepath.Join(tmpRoot, "cam1")
	if err := os.MkdirAll(camDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(camDir, "cam1.m3u8"), []byte("#EXTM3U\n"), 0o644); err != nil {
		t.Fatalf("write playlist: %v", err)
	}
	fresh := filepath.Join(camDir, "cam1_009.ts")
	if err := os.WriteFile(fresh, []byte("x"), 0o644); err != nil {
		t.Fatalf("write fresh: %v", err)
	}

	reg := &fakeRegistry{records: []camera.Record{{ID: "cam1", Name: "Front", RTSPURL: "rtsp://x"}}}
	sweeper := NewHLSSweeper(reg, tmpRoot, nil)
	sweeper.sweepOnce()

	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh unreferenced segment should survive within the grace window")
	}
}

func TestHLSSweeperNoPlaylistIsNoop(t *testing.T) {
	tmpRoot := t.TempDir()
	reg := &fakeRegistry{records: []camera.Record{{ID: "cam1", Name: "Front", RTSPURL: "rtsp://x"}}}
	sweeper := NewHLSSweeper(reg, tmpRoot, nil)
	sweeper.sweepOnce() // must not panic or error when no camera dir exists yet
}

func writeFileAt(t *testing.T, path string, size int, mtime time.Time) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

func TestPruneArchives(t *testing.T) {
	recordRoot := t.TempDir()
	backupRoot := t.TempDir()

	now := time.Now()
	writeFileAt(t, filepath.Join(recordRoot, "cam1", "cam1_old.mp4"), 2048, now.Add(-48*time.Hour))
	writeFileAt(t, filepath.Join(recordRoot, "cam1", "cam1_new.mp4"), 2048, now)
	writeFileAt(t, filepath.Join(backupRoot, "cam1", "cam1_archived.mp4"), 2048, now.Add(-20*24*time.Hour))

	reg := &fakeRegistry{records: []camera.Record{{ID: "cam1", Name: "Front", RTSPURL: "rtsp://x"}}}

	results, err := PruneArchives(reg, recordRoot, backupRoot, 1 /*maxRecordingHours*/, 100, 50, 7)
	if err != nil {
		t.Fatalf("PruneArchives: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].ArchivesPruned != 1 {
		t.Errorf("ArchivesPruned = %d, want 1 (the 48h-old file exceeds the 24h horizon)", results[0].ArchivesPruned)
	}
	if _, err := os.Stat(filepath.Join(recordRoot, "cam1", "cam1_new.mp4")); err != nil {
		t.Error("recent archive should survive pruning")
	}
}

func TestRepairCorruptArchives(t *testing.T) {
	// No real ffprobe/ffmpeg available in this environment; verify the
	// function handles an empty candidate list without requiring an
	// external binary.
	repaired, err := RepairCorruptArchives(context.Background(), t.TempDir(), "ffprobe", "ffmpeg", nil)
	if err != nil {
		t.Fatalf("RepairCorruptArchives with no candidates: %v", err)
	}
	if len(repaired) != 0 {
		t.Errorf("expected no repairs, got %v", repaired)
	}
}
