// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigFilePath is the default location for the kernel's operational
// configuration file.
const ConfigFilePath = "/etc/camkernel/config.yaml"

// Config is the camera kernel's own operational configuration: the
// directory roots, external tool paths, and policy thresholds named
// throughout spec.md §4 and §6. It is distinct from the camera
// declaration file (internal/camera), whose fixed comma-separated
// grammar is not a koanf/YAML document.
type Config struct {
	Roots      RootsConfig      `yaml:"roots" koanf:"roots"`
	Transcoder TranscoderConfig `yaml:"transcoder" koanf:"transcoder"`
	Recording  RecordingConfig  `yaml:"recording" koanf:"recording"`
	Janitor    JanitorConfig    `yaml:"janitor" koanf:"janitor"`
	Health     HealthConfig     `yaml:"health" koanf:"health"`
}

// RootsConfig names every directory spec.md §6's layout depends on.
type RootsConfig struct {
	Base             string `yaml:"base" koanf:"base"`                             // <base>
	TmpRoot          string `yaml:"tmp_root" koanf:"tmp_root"`                     // <base>/tmp
	RecordRoot       string `yaml:"record_root" koanf:"record_root"`               // <base>/record
	BackupRoot       string `yaml:"backup_root" koanf:"backup_root"`               // <base>/backup
	LockDir          string `yaml:"lock_dir" koanf:"lock_dir"`                     // per-camera lock files
	CameraConfigPath string `yaml:"camera_config_path" koanf:"camera_config_path"` // <base>/cam_config.txt
	LogPath          string `yaml:"log_path" koanf:"log_path"`                     // <base>/streaming.log
}

// TranscoderConfig names the external media tool binaries the
// Transcoder Driver (spec.md §4.A) invokes.
type TranscoderConfig struct {
	FFmpegPath  string `yaml:"ffmpeg_path" koanf:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path" koanf:"ffprobe_path"`
}

// RecordingConfig holds the Recording Supervisor's policy thresholds
// (spec.md §4.E).
//
// MaxRecordingHours is the accepted open-question (a) field name
// (SPEC_FULL.md §13): a config document setting the legacy
// max_recording_minutes key instead is rejected at load rather than
// silently honored, since the source carried both names inconsistently.
type RecordingConfig struct {
	MinDiskSpaceGB      float64  `yaml:"min_disk_space_gb" koanf:"min_disk_space_gb"`
	MaxRecordingHours   float64  `yaml:"max_recording_hours" koanf:"max_recording_hours"`
	MaxRecordingMinutes *float64 `yaml:"max_recording_minutes,omitempty" koanf:"max_recording_minutes"`
}

// JanitorConfig holds the Janitor's sweep cadence and prune caps
// (spec.md §4.G).
type JanitorConfig struct {
	HLSSweepIntervalSeconds int `yaml:"hls_sweep_interval_seconds" koanf:"hls_sweep_interval_seconds"`
	ArchiveMaxFiles         int `yaml:"archive_max_files" koanf:"archive_max_files"`
	BackupMaxFiles          int `yaml:"backup_max_files" koanf:"backup_max_files"`
	BackupAgeMultiplier     int `yaml:"backup_age_multiplier" koanf:"backup_age_multiplier"`
}

// HealthConfig holds the in-process health/metrics HTTP listener address
// (spec.md §6: "read system status" is an in-process operation; §1
// excludes the HTTP control surface itself, but a bare health probe is
// ambient infrastructure, not a control surface).
type HealthConfig struct {
	Addr string `yaml:"addr" koanf:"addr"`
}

// DefaultConfig returns a configuration with the defaults named in
// spec.md: 1 GiB minimum free space, 1-hour archives, a 15s HLS janitor
// cadence, a 100-file archive cap and a 50-file/7x-age backup cap
// (spec.md §4.G).
func DefaultConfig() *Config {
	return &Config{
		Roots: RootsConfig{
			Base:             "/var/lib/camkernel",
			TmpRoot:          "/var/lib/camkernel/tmp",
			RecordRoot:       "/var/lib/camkernel/record",
			BackupRoot:       "/var/lib/camkernel/backup",
			LockDir:          "/var/lib/camkernel/lock",
			CameraConfigPath: "/var/lib/camkernel/cam_config.txt",
			LogPath:          "/var/lib/camkernel/streaming.log",
		},
		Transcoder: TranscoderConfig{
			FFmpegPath:  "ffmpeg",
			FFprobePath: "ffprobe",
		},
		Recording: RecordingConfig{
			MinDiskSpaceGB:    1,
			MaxRecordingHours: 1,
		},
		Janitor: JanitorConfig{
			HLSSweepIntervalSeconds: 15,
			ArchiveMaxFiles:         100,
			BackupMaxFiles:          50,
			BackupAgeMultiplier:     7,
		},
		Health: HealthConfig{
			Addr: "127.0.0.1:9998",
		},
	}
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 - Config path is from administrator-controlled configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := *DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// atomicFile abstracts file operations used by Save for testability.
type atomicFile interface {
	Write([]byte) (int, error)
	Sync() error
	Chmod(os.FileMode) error
	Close() error
	Name() string
}

// atomicCreateTemp is the injectable temp-file creator used by Save.
// Tests can replace this with a function returning a mock atomicFile.
type atomicCreateTemp func(dir, pattern string) (atomicFile, error)

func defaultCreateTemp(dir, pattern string) (atomicFile, error) {
	return os.CreateTemp(dir, pattern) // #nosec G304
}

// Save writes the configuration to path using a create-temp-in-same-dir
// -> write -> fsync -> chmod -> rename atomic-write sequence, matching
// the teacher's config.Save pattern.
func (c *Config) Save(path string) error {
	return c.saveWith(path, defaultCreateTemp)
}

func (c *Config) saveWith(path string, createTemp atomicCreateTemp) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)

	tmpFile, err := createTemp(dir, ".config.*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write temp config file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp config file: %w", err)
	}
	// Config may name disk-space and recording thresholds operators tune
	// at runtime; restrict to owner+group only.
	if err := tmpFile.Chmod(0640); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp config file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp config file: %w", err)
	}

	success = true
	return nil
}

// Validate checks the configuration for invalid or contradictory values.
//
// MaxRecordingMinutes is rejected outright (SPEC_FULL.md §13 open
// question (a)): the source used MaxRecordingHours and, in a newer
// file, MaxRecordingMinutes inconsistently; this implementation accepts
// only the former and fails loudly on the latter rather than silently
// picking one.
func (c *Config) Validate() error {
	if c.Recording.MaxRecordingMinutes != nil {
		return fmt.Errorf("recording.max_recording_minutes is not supported; set recording.max_recording_hours instead")
	}
	if c.Recording.MaxRecordingHours <= 0 {
		return fmt.Errorf("recording.max_recording_hours must be positive")
	}
	if c.Recording.MinDiskSpaceGB < 0 {
		return fmt.Errorf("recording.min_disk_space_gb must not be negative")
	}
	if c.Transcoder.FFmpegPath == "" {
		return fmt.Errorf("transcoder.ffmpeg_path must not be empty")
	}
	if c.Transcoder.FFprobePath == "" {
		return fmt.Errorf("transcoder.ffprobe_path must not be empty")
	}
	if c.Roots.Base == "" {
		return fmt.Errorf("roots.base must not be empty")
	}
	if c.Janitor.HLSSweepIntervalSeconds <= 0 {
		return fmt.Errorf("janitor.hls_sweep_interval_seconds must be positive")
	}
	if c.Janitor.ArchiveMaxFiles <= 0 {
		return fmt.Errorf("janitor.archive_max_files must be positive")
	}
	if c.Janitor.BackupMaxFiles <= 0 {
		return fmt.Errorf("janitor.backup_max_files must be positive")
	}
	if c.Janitor.BackupAgeMultiplier <= 0 {
		return fmt.Errorf("janitor.backup_age_multiplier must be positive")
	}
	return nil
}
