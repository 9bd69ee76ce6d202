// Package main implements the camkernel daemon: it loads the camera
// declaration file and the kernel's own operational configuration,
// starts the Stream and Recording Supervisors, runs the HLS Janitor
// under the background service supervisor, and serves a health/metrics
// HTTP endpoint until asked to shut down.
//
// Usage:
//
//	camkernel [options]
//
// Options:
//
//	-config PATH    Path to the kernel's own YAML config (default: /etc/camkernel/config.yaml)
//	-log-level LEVEL debug, info, warn, error (default: info)
//	-help           Show this help message
//
// The daemon automatically:
//   - Loads the camera declaration file and watches it for changes
//   - Auto-starts recording for every enabled, auto_record camera
//   - Restarts failed stream/recording workers with backoff
//   - Sweeps stale HLS segments and prunes old archives
//   - Handles SIGINT/SIGTERM for graceful shutdown
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/camkernel/internal/camera"
	"github.com/tomtom215/camkernel/internal/config"
	"github.com/tomtom215/camkernel/internal/fsutil"
	"github.com/tomtom215/camkernel/internal/health"
	"github.com/tomtom215/camkernel/internal/janitor"
	"github.com/tomtom215/camkernel/internal/kernel"
	"github.com/tomtom215/camkernel/internal/kernelsup"
	"github.com/tomtom215/camkernel/internal/record"
	"github.com/tomtom215/camkernel/internal/stream"
	"github.com/tomtom215/camkernel/internal/transcoder"
)

// Build information (set by ldflags).
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath = flag.String("config", config.ConfigFilePath, "Path to the kernel's YAML configuration file")
	logLevel   = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	showHelp   = flag.Bool("help", false, "Show help message")
)

func main() {
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	logger := newLogger(*logLevel)
	logger.Info("camkernel starting", "version", Version, "commit", Commit, "built", BuildTime)

	kc, err := config.NewKoanfConfig(config.WithYAMLFile(*configPath))
	if err != nil {
		logger.Error("failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	cfg, err := kc.Load()
	if err != nil {
		logger.Error("failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}

	if err := prepareRoots(cfg); err != nil {
		logger.Error("failed to prepare directory roots", "error", err)
		os.Exit(1)
	}

	registry := camera.NewRegistry(cfg.Roots.CameraConfigPath, camera.WithLogger(logger))
	if _, err := registry.Load(true); err != nil {
		logger.Error("failed to load camera declaration file", "path", cfg.Roots.CameraConfigPath, "error", err)
		os.Exit(1)
	}

	driver := transcoder.NewDriver(cfg.Transcoder.FFmpegPath, cfg.Transcoder.FFprobePath)
	driver.Logger = logger

	streams := stream.NewSupervisor(driver, cfg.Roots.TmpRoot, cfg.Roots.LockDir, logger)
	records := record.NewSupervisor(driver, cfg.Roots.RecordRoot, cfg.Roots.TmpRoot, cfg.Roots.LockDir,
		cfg.Recording.MinDiskSpaceGB, cfg.Recording.MaxRecordingHours, record.WithLogger(logger))
	defer records.Close()

	k := kernel.New(registry, driver, streams, records, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sup := kernelsup.New(kernelsup.Config{ShutdownTimeout: 30 * time.Second})
	hlsSweeper := janitor.NewHLSSweeper(registry, cfg.Roots.TmpRoot, logger)
	if err := sup.Add(hlsSweeper); err != nil {
		logger.Error("failed to register hls janitor", "error", err)
	}
	if err := sup.Add(registryWatcherService{registry: registry}); err != nil {
		logger.Error("failed to register camera registry watcher", "error", err)
	}

	go runArchivePruneLoop(ctx, registry, cfg, logger)

	healthHandler := health.NewHandler(k).WithSystemInfo(systemInfoProvider{roots: cfg.Roots, minDiskSpaceGB: cfg.Recording.MinDiskSpaceGB})
	healthSrv := &http.Server{Addr: cfg.Health.Addr, Handler: healthHandler, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("health endpoint listening", "addr", cfg.Health.Addr)
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	for _, res := range k.StartAllRecordings(ctx) {
		if !res.OK {
			logger.Warn("auto-record start failed", "camera", res.CameraID, "error", res.Error)
		}
	}

	logger.Info("camkernel ready", "cameras", len(registry.Sorted()))

	if err := sup.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("supervisor stopped with error", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)

	logger.Info("stopping all recordings")
	stopResult := k.StopAllRecordings(shutdownCtx)
	if stopResult.Escalated {
		logger.Warn("recording shutdown required escalation", "workers_left", stopResult.WorkersLeft)
	}
	streams.StopAll()

	logger.Info("camkernel shutdown complete")
}

// prepareRoots ensures every configured directory root exists and is
// writable before any worker is started (spec.md §4.B, §6).
func prepareRoots(cfg *config.Config) error {
	for _, dir := range []string{cfg.Roots.Base, cfg.Roots.TmpRoot, cfg.Roots.RecordRoot, cfg.Roots.BackupRoot, cfg.Roots.LockDir} {
		if err := fsutil.EnsureDir(dir); err != nil {
			return fmt.Errorf("root %s: %w", dir, err)
		}
	}
	return nil
}

// registryWatcherService runs the Camera Registry's background change
// monitor as a supervised service (spec.md §4.C).
type registryWatcherService struct {
	registry *camera.Registry
}

func (registryWatcherService) Name() string { return "camera-registry-watch" }

func (s registryWatcherService) Run(ctx context.Context) error {
	s.registry.WatchChanges(ctx, nil)
	return nil
}

// runArchivePruneLoop invokes the Janitor's explicit archive/backup
// pruning pass once every 20 HLS sweep intervals (every 5 minutes at the
// default 15 s interval), since spec.md §4.G treats pruning as an
// on-demand operation rather than part of the HLS sweep loop itself.
func runArchivePruneLoop(ctx context.Context, registry *camera.Registry, cfg *config.Config, logger *slog.Logger) {
	interval := time.Duration(cfg.Janitor.HLSSweepIntervalSeconds) * time.Second * 20
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			results, err := janitor.PruneArchives(registry, cfg.Roots.RecordRoot, cfg.Roots.BackupRoot,
				cfg.Recording.MaxRecordingHours, cfg.Janitor.ArchiveMaxFiles, cfg.Janitor.BackupMaxFiles, cfg.Janitor.BackupAgeMultiplier)
			if err != nil {
				logger.Warn("archive prune failed", "error", err)
				continue
			}
			for _, r := range results {
				if r.ArchivesPruned > 0 || r.BackupsPruned > 0 {
					logger.Info("pruned archives", "camera", r.CameraID, "archives", r.ArchivesPruned, "backups", r.BackupsPruned)
				}
			}
		}
	}
}

// systemInfoProvider implements health.SystemInfoProvider over the
// configured record root's free space and a best-effort NTP sync check.
type systemInfoProvider struct {
	roots          config.RootsConfig
	minDiskSpaceGB float64
}

func (s systemInfoProvider) SystemInfo() health.SystemInfo {
	free, _ := fsutil.FreeBytes(s.roots.RecordRoot)
	total, _ := fsutil.TotalBytes(s.roots.RecordRoot)
	ok, _ := fsutil.CheckDiskSpace(s.roots.RecordRoot, s.minDiskSpaceGB)

	synced, msg := checkNTPSync()
	return health.SystemInfo{
		DiskFreeBytes:  free,
		DiskTotalBytes: total,
		DiskLowWarning: !ok,
		NTPSynced:      synced,
		NTPMessage:     msg,
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func printUsage() {
	fmt.Println("camkernel - camera fleet supervision daemon")
	fmt.Printf("Version: %s (%s)\n\n", Version, Commit)
	fmt.Println("Usage: camkernel [options]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Signals:")
	fmt.Println("  SIGINT, SIGTERM  Graceful shutdown")
}
