// SPDX-License-Identifier: MIT

package fsutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEnsureDirCreatesAndVerifiesWritable(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "a", "b")

	if err := EnsureDir(target); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	info, err := os.Stat(target)
	if err != nil || !info.IsDir() {
		t.Fatalf("expected directory to exist: %v", err)
	}
}

func TestEnsureDirRejectsFileAtPath(t *testing.T) {
	root := t.TempDir()
	filePath := filepath.Join(root, "notadir")
	if err := os.WriteFile(filePath, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := EnsureDir(filePath); err == nil {
		t.Fatal("expected error when path exists but is not a directory")
	}
}

func TestArchivePathMatchesInvariant(t *testing.T) {
	root := t.TempDir()
	at := time.Date(2024, 3, 4, 5, 6, 7, 0, time.Local)

	path, err := ArchivePath(root, "cam1", at)
	if err != nil {
		t.Fatalf("ArchivePath: %v", err)
	}
	want := filepath.Join(root, "cam1", "cam1_20240304050607.mp4")
	if path != want {
		t.Errorf("ArchivePath = %q, want %q", path, want)
	}
}

func TestPruneDeletesSmallOldAndExcess(t *testing.T) {
	dir := t.TempDir()

	mk := func(name string, size int, age time.Duration) {
		path := filepath.Join(dir, name)
		data := make([]byte, size)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		old := time.Now().Add(-age)
		if err := os.Chtimes(path, old, old); err != nil {
			t.Fatalf("chtimes %s: %v", name, err)
		}
	}

	mk("tiny.ts", 10, 0)                     // below MinFileSize: always deleted
	mk("old.ts", 2048, 48*time.Hour)         // older than maxAge: deleted
	mk("recent1.ts", 2048, 1*time.Hour)      // survivor
	mk("recent2.ts", 2048, 2*time.Hour)      // survivor, but excess beyond maxFiles
	mk("recent3.ts", 2048, 30*time.Minute)   // survivor, newest

	deleted, err := Prune(dir, ".ts", 24*time.Hour, 2)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if deleted != 3 {
		t.Fatalf("expected 3 deletions (tiny, old, one excess), got %d", deleted)
	}

	remaining, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("expected 2 files remaining, got %d", len(remaining))
	}
}

func TestListRecordingsOrdersNewestFirstAndSkipsSmall(t *testing.T) {
	root := t.TempDir()
	camDir := filepath.Join(root, "cam1")
	if err := os.MkdirAll(camDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	write := func(name string, size int) {
		if err := os.WriteFile(filepath.Join(camDir, name), make([]byte, size), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	write("cam1_20240101000000.mp4", 2048)
	write("cam1_20240102000000.mp4", 2048)
	write("cam1_20240103000000.mp4", 100) // corrupt, skipped

	recs, err := ListRecordings(root)
	if err != nil {
		t.Fatalf("ListRecordings: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 recordings, got %d", len(recs))
	}
	if recs[0].Started.Before(recs[1].Started) {
		t.Error("expected newest-first ordering")
	}
}
