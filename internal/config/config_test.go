package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	testConfig := `
roots:
  base: /data/camkernel
  tmp_root: /data/camkernel/tmp
  record_root: /data/camkernel/record
  backup_root: /data/camkernel/backup
  lock_dir: /data/camkernel/lock
  camera_config_path: /data/camkernel/cam_config.txt
  log_path: /data/camkernel/streaming.log

transcoder:
  ffmpeg_path: /usr/bin/ffmpeg
  ffprobe_path: /usr/bin/ffprobe

recording:
  min_disk_space_gb: 2
  max_recording_hours: 2

janitor:
  hls_sweep_interval_seconds: 15
  archive_max_files: 100
  backup_max_files: 50
  backup_age_multiplier: 7

health:
  addr: 127.0.0.1:9998
`
	if err := os.WriteFile(configPath, []byte(testConfig), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Roots.Base != "/data/camkernel" {
		t.Errorf("Roots.Base = %q, want /data/camkernel", cfg.Roots.Base)
	}
	if cfg.Recording.MaxRecordingHours != 2 {
		t.Errorf("Recording.MaxRecordingHours = %v, want 2", cfg.Recording.MaxRecordingHours)
	}
	if cfg.Transcoder.FFmpegPath != "/usr/bin/ffmpeg" {
		t.Errorf("Transcoder.FFmpegPath = %q, want /usr/bin/ffmpeg", cfg.Transcoder.FFmpegPath)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/config.yaml"); err == nil {
		t.Error("LoadConfig() with missing file should error")
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("not: valid: yaml: ["), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadConfig(configPath); err == nil {
		t.Error("LoadConfig() with invalid YAML should error")
	}
}

func TestLoadConfigRejectsMaxRecordingMinutes(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	testConfig := `
recording:
  max_recording_minutes: 90
`
	if err := os.WriteFile(configPath, []byte(testConfig), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	_, err := LoadConfig(configPath)
	if err == nil {
		t.Fatal("LoadConfig() should reject max_recording_minutes")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig() fails Validate(): %v", err)
	}
	if cfg.Recording.MinDiskSpaceGB != 1 {
		t.Errorf("MinDiskSpaceGB = %v, want 1", cfg.Recording.MinDiskSpaceGB)
	}
	if cfg.Recording.MaxRecordingHours != 1 {
		t.Errorf("MaxRecordingHours = %v, want 1", cfg.Recording.MaxRecordingHours)
	}
	if cfg.Janitor.HLSSweepIntervalSeconds != 15 {
		t.Errorf("HLSSweepIntervalSeconds = %d, want 15", cfg.Janitor.HLSSweepIntervalSeconds)
	}
	if cfg.Janitor.ArchiveMaxFiles != 100 {
		t.Errorf("ArchiveMaxFiles = %d, want 100", cfg.Janitor.ArchiveMaxFiles)
	}
	if cfg.Janitor.BackupMaxFiles != 50 {
		t.Errorf("BackupMaxFiles = %d, want 50", cfg.Janitor.BackupMaxFiles)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid default", func(*Config) {}, false},
		{"zero max recording hours", func(c *Config) { c.Recording.MaxRecordingHours = 0 }, true},
		{"negative min disk space", func(c *Config) { c.Recording.MinDiskSpaceGB = -1 }, true},
		{"empty ffmpeg path", func(c *Config) { c.Transcoder.FFmpegPath = "" }, true},
		{"empty ffprobe path", func(c *Config) { c.Transcoder.FFprobePath = "" }, true},
		{"empty base root", func(c *Config) { c.Roots.Base = "" }, true},
		{"zero sweep interval", func(c *Config) { c.Janitor.HLSSweepIntervalSeconds = 0 }, true},
		{"zero archive cap", func(c *Config) { c.Janitor.ArchiveMaxFiles = 0 }, true},
		{"zero backup cap", func(c *Config) { c.Janitor.BackupMaxFiles = 0 }, true},
		{"zero backup multiplier", func(c *Config) { c.Janitor.BackupAgeMultiplier = 0 }, true},
		{"legacy minutes field set", func(c *Config) {
			m := 90.0
			c.Recording.MaxRecordingMinutes = &m
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSaveConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Recording.MaxRecordingHours = 4
	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig() after Save() error = %v", err)
	}
	if loaded.Recording.MaxRecordingHours != 4 {
		t.Errorf("MaxRecordingHours = %v, want 4", loaded.Recording.MaxRecordingHours)
	}
}

func TestSaveConfigAtomic(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	initial := DefaultConfig()
	initial.Recording.MaxRecordingHours = 1
	if err := initial.Save(configPath); err != nil {
		t.Fatalf("initial Save() error = %v", err)
	}
	initialData, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("ReadFile initial: %v", err)
	}

	updated := DefaultConfig()
	updated.Recording.MaxRecordingHours = 6
	if err := updated.Save(configPath); err != nil {
		t.Fatalf("overwrite Save() error = %v", err)
	}

	resultData, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("ReadFile result: %v", err)
	}
	if string(resultData) == string(initialData) {
		t.Error("file content was not updated by Save()")
	}

	loaded, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig() after atomic Save(): %v", err)
	}
	if loaded.Recording.MaxRecordingHours != 6 {
		t.Errorf("MaxRecordingHours = %v, want 6", loaded.Recording.MaxRecordingHours)
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "config.yaml" {
			t.Errorf("unexpected leftover file: %s", e.Name())
		}
	}
}

func TestSaveConfigAtomicPermissions(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := DefaultConfig().Save(configPath); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	info, err := os.Stat(configPath)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm()&0640 != 0640 {
		t.Errorf("permissions = %o, want at least 0640", info.Mode().Perm())
	}
}

func TestSaveConfigToNonexistentDir(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Save("/nonexistent_dir_12345/config.yaml"); err == nil {
		t.Error("Save() to nonexistent directory should fail")
	}
}

// mockAtomicFile implements atomicFile for error-path injection.
type mockAtomicFile struct {
	name     string
	realFile *os.File
	writeErr error
	syncErr  error
	chmodErr error
	closeErr error
}

func (m *mockAtomicFile) Write(p []byte) (int, error) {
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	return len(p), nil
}
func (m *mockAtomicFile) Sync() error              { return m.syncErr }
func (m *mockAtomicFile) Chmod(_ os.FileMode) error { return m.chmodErr }
func (m *mockAtomicFile) Close() error {
	if m.realFile != nil {
		_ = m.realFile.Close()
	}
	return m.closeErr
}
func (m *mockAtomicFile) Name() string { return m.name }

func newMockCreateTemp(dir string, mock *mockAtomicFile) atomicCreateTemp {
	return func(d, pattern string) (atomicFile, error) {
		f, err := os.CreateTemp(dir, pattern)
		if err != nil {
			return nil, err
		}
		mock.realFile = f
		mock.name = f.Name()
		return mock, nil
	}
}

func TestSaveWithInjectableErrors(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("write error", func(t *testing.T) {
		tmpDir := t.TempDir()
		mock := &mockAtomicFile{writeErr: errors.New("disk full")}
		err := cfg.saveWith(filepath.Join(tmpDir, "config.yaml"), newMockCreateTemp(tmpDir, mock))
		if err == nil {
			t.Error("expected write error to propagate")
		}
		if _, statErr := os.Stat(mock.name); !os.IsNotExist(statErr) {
			t.Error("temp file should be cleaned up on write error")
		}
	})

	t.Run("sync error", func(t *testing.T) {
		tmpDir := t.TempDir()
		mock := &mockAtomicFile{syncErr: errors.New("sync failed")}
		err := cfg.saveWith(filepath.Join(tmpDir, "config.yaml"), newMockCreateTemp(tmpDir, mock))
		if err == nil {
			t.Error("expected sync error to propagate")
		}
	})

	t.Run("chmod error", func(t *testing.T) {
		tmpDir := t.TempDir()
		mock := &mockAtomicFile{chmodErr: errors.New("chmod failed")}
		err := cfg.saveWith(filepath.Join(tmpDir, "config.yaml"), newMockCreateTemp(tmpDir, mock))
		if err == nil {
			t.Error("expected chmod error to propagate")
		}
	})

	t.Run("create temp error", func(t *testing.T) {
		err := cfg.saveWith("/irrelevant/config.yaml", func(dir, pattern string) (atomicFile, error) {
			return nil, errors.New("cannot create temp file")
		})
		if err == nil {
			t.Error("expected create-temp error to propagate")
		}
	})
}
