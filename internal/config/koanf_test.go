package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeYAML(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestKoanfConfig_LoadYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	writeYAML(t, configPath, `
roots:
  base: /srv/camkernel
recording:
  max_recording_hours: 3
  min_disk_space_gb: 5
`)

	kc, err := NewKoanfConfig(WithYAMLFile(configPath))
	if err != nil {
		t.Fatalf("NewKoanfConfig() error = %v", err)
	}

	cfg, err := kc.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Roots.Base != "/srv/camkernel" {
		t.Errorf("Roots.Base = %q, want /srv/camkernel", cfg.Roots.Base)
	}
	if cfg.Recording.MaxRecordingHours != 3 {
		t.Errorf("MaxRecordingHours = %v, want 3", cfg.Recording.MaxRecordingHours)
	}
	if cfg.Recording.MinDiskSpaceGB != 5 {
		t.Errorf("MinDiskSpaceGB = %v, want 5", cfg.Recording.MinDiskSpaceGB)
	}
	// Fields not in the file fall back to defaults.
	if cfg.Transcoder.FFmpegPath != "ffmpeg" {
		t.Errorf("FFmpegPath = %q, want default ffmpeg", cfg.Transcoder.FFmpegPath)
	}
}

func TestKoanfConfig_LoadWithEnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	writeYAML(t, configPath, `
recording:
  max_recording_hours: 2
`)

	t.Setenv("CAMKERNEL_RECORDING_MAX_RECORDING_HOURS", "8")
	t.Setenv("CAMKERNEL_ROOTS_BASE", "/override/base")

	kc, err := NewKoanfConfig(WithYAMLFile(configPath))
	if err != nil {
		t.Fatalf("NewKoanfConfig() error = %v", err)
	}

	cfg, err := kc.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Recording.MaxRecordingHours != 8 {
		t.Errorf("MaxRecordingHours = %v, want 8 (env override)", cfg.Recording.MaxRecordingHours)
	}
	if cfg.Roots.Base != "/override/base" {
		t.Errorf("Roots.Base = %q, want /override/base (env override)", cfg.Roots.Base)
	}
}

func TestKoanfConfig_Reload(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	writeYAML(t, configPath, `
recording:
  max_recording_hours: 1
`)

	kc, err := NewKoanfConfig(WithYAMLFile(configPath))
	if err != nil {
		t.Fatalf("NewKoanfConfig() error = %v", err)
	}

	cfg, err := kc.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Recording.MaxRecordingHours != 1 {
		t.Fatalf("MaxRecordingHours = %v, want 1", cfg.Recording.MaxRecordingHours)
	}

	writeYAML(t, configPath, `
recording:
  max_recording_hours: 9
`)

	if err := kc.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	cfg, err = kc.Load()
	if err != nil {
		t.Fatalf("Load() after Reload() error = %v", err)
	}
	if cfg.Recording.MaxRecordingHours != 9 {
		t.Errorf("MaxRecordingHours = %v, want 9 after reload", cfg.Recording.MaxRecordingHours)
	}
}

func TestKoanfConfig_Watch(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	writeYAML(t, configPath, `
recording:
  max_recording_hours: 1
`)

	kc, err := NewKoanfConfig(WithYAMLFile(configPath))
	if err != nil {
		t.Fatalf("NewKoanfConfig() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan string, 4)

	go func() {
		_ = kc.Watch(ctx, func(event string, err error) {
			events <- event
		})
	}()

	time.Sleep(50 * time.Millisecond)
	writeYAML(t, configPath, `
recording:
  max_recording_hours: 5
`)

	select {
	case <-events:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watch event")
	}

	cancel()
}

func TestKoanfConfig_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	writeYAML(t, configPath, "not: valid: yaml: [")

	if _, err := NewKoanfConfig(WithYAMLFile(configPath)); err == nil {
		t.Error("NewKoanfConfig() with invalid YAML should error")
	}
}

func TestKoanfConfig_MissingFile(t *testing.T) {
	if _, err := NewKoanfConfig(WithYAMLFile("/nonexistent/config.yaml")); err == nil {
		t.Error("NewKoanfConfig() with missing file should error")
	}
}

func TestKoanfConfig_GetMethods(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	writeYAML(t, configPath, `
roots:
  base: /srv/camkernel
recording:
  max_recording_hours: 4
janitor:
  archive_max_files: 200
`)

	kc, err := NewKoanfConfig(WithYAMLFile(configPath))
	if err != nil {
		t.Fatalf("NewKoanfConfig() error = %v", err)
	}

	if got := kc.GetString("roots.base"); got != "/srv/camkernel" {
		t.Errorf("GetString(roots.base) = %q, want /srv/camkernel", got)
	}
	if got := kc.GetFloat64("recording.max_recording_hours"); got != 4 {
		t.Errorf("GetFloat64(recording.max_recording_hours) = %v, want 4", got)
	}
	if got := kc.GetInt("janitor.archive_max_files"); got != 200 {
		t.Errorf("GetInt(janitor.archive_max_files) = %v, want 200", got)
	}
	if !kc.Exists("roots.base") {
		t.Error("Exists(roots.base) = false, want true")
	}
	if kc.Exists("roots.nonexistent") {
		t.Error("Exists(roots.nonexistent) = true, want false")
	}
}

func TestKoanfConfig_NoFile(t *testing.T) {
	kc, err := NewKoanfConfig()
	if err != nil {
		t.Fatalf("NewKoanfConfig() with no file error = %v", err)
	}
	cfg, err := kc.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Roots.Base != DefaultConfig().Roots.Base {
		t.Errorf("Roots.Base = %q, want default", cfg.Roots.Base)
	}
}

func TestKoanfConfig_All(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	writeYAML(t, configPath, `
roots:
  base: /srv/camkernel
`)

	kc, err := NewKoanfConfig(WithYAMLFile(configPath))
	if err != nil {
		t.Fatalf("NewKoanfConfig() error = %v", err)
	}

	all := kc.All()
	if len(all) == 0 {
		t.Error("All() returned empty map")
	}
}

func TestKoanfConfig_WatchNoFile(t *testing.T) {
	kc, err := NewKoanfConfig()
	if err != nil {
		t.Fatalf("NewKoanfConfig() error = %v", err)
	}
	if err := kc.Watch(context.Background(), func(string, error) {}); err == nil {
		t.Error("Watch() with no file path should error")
	}
}

func TestKoanfConfig_WatchContextCancellation(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	writeYAML(t, configPath, "roots:\n  base: /srv/camkernel\n")

	kc, err := NewKoanfConfig(WithYAMLFile(configPath))
	if err != nil {
		t.Fatalf("NewKoanfConfig() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- kc.Watch(ctx, func(string, error) {})
	}()

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch() returned error on cancellation: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch() did not return after context cancellation")
	}
}

func TestKoanfConfig_ConcurrentReloadAndRead(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	writeYAML(t, configPath, "recording:\n  max_recording_hours: 1\n")

	kc, err := NewKoanfConfig(WithYAMLFile(configPath))
	if err != nil {
		t.Fatalf("NewKoanfConfig() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			_ = kc.Reload()
		}
	}()

	for i := 0; i < 20; i++ {
		_ = kc.GetString("roots.base")
		_, _ = kc.Load()
	}
	<-done
}
