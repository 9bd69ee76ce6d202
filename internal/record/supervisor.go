// SPDX-License-Identifier: MIT

package record

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tomtom215/camkernel/internal/backoff"
	"github.com/tomtom215/camkernel/internal/lock"
	"github.com/tomtom215/camkernel/internal/transcoder"
)

// crashSweepInterval is the shared crash-recovery sweep's cadence
// (spec.md §4.E: "every 30 s").
const crashSweepInterval = 30 * time.Second

type trackedWorker struct {
	worker      *Worker
	fileLock    *lock.FileLock
	backoff     *backoff.Backoff
	rtspURL     string
	lastRestart time.Time
	nextAttempt time.Time
}

// Supervisor owns one Worker per camera with recording enabled, plus
// the shared crash-recovery sweep goroutine (spec.md §4.E, §4.F).
type Supervisor struct {
	driver            *transcoder.Driver
	recordRoot        string
	tmpRoot           string
	lockDir           string
	minDiskSpaceGB    float64
	maxRecordingHours float64
	hlsPlaylistURL    func(cameraID string) string
	logger            *slog.Logger

	mu      sync.Mutex
	workers map[string]*trackedWorker

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithHLSPlaylistURL supplies the function used to build the probe_hls
// address for a camera's locally-served playlist. Omit it if no HLS
// fallback server is deployed; RTSP-only recording still works.
func WithHLSPlaylistURL(f func(cameraID string) string) Option {
	return func(s *Supervisor) { s.hlsPlaylistURL = f }
}

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = logger }
}

// NewSupervisor builds a Recording Supervisor and starts its shared
// crash-recovery sweep.
func NewSupervisor(driver *transcoder.Driver, recordRoot, tmpRoot, lockDir string, minDiskSpaceGB, maxRecordingHours float64, opts ...Option) *Supervisor {
	s := &Supervisor{
		driver:            driver,
		recordRoot:        recordRoot,
		tmpRoot:           tmpRoot,
		lockDir:           lockDir,
		minDiskSpaceGB:    minDiskSpaceGB,
		maxRecordingHours: maxRecordingHours,
		workers:           make(map[string]*trackedWorker),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.sweepCancel = cancel
	s.sweepDone = make(chan struct{})
	go s.runCrashSweep(ctx)

	return s
}

func recordLockPath(lockDir, cameraID string) string {
	return lockDir + "/" + cameraID + ".record.lock"
}

// Start begins recording cameraID, acquiring its per-camera record
// lock for the lifetime of the tracked worker.
func (s *Supervisor) Start(ctx context.Context, cameraID, rtspURL string) error {
	s.mu.Lock()
	_, exists := s.workers[cameraID]
	s.mu.Unlock()
	if exists {
		return nil
	}

	fl, err := lock.NewFileLock(recordLockPath(s.lockDir, cameraID))
	if err != nil {
		return fmt.Errorf("record %s: lock: %w", cameraID, err)
	}
	if err := fl.AcquireContext(ctx, 30*time.Second); err != nil {
		return fmt.Errorf("record %s: acquire lock: %w", cameraID, err)
	}

	var playlistURL string
	if s.hlsPlaylistURL != nil {
		playlistURL = s.hlsPlaylistURL(cameraID)
	}

	w := NewWorker(Config{
		CameraID:          cameraID,
		RTSPURL:           rtspURL,
		RecordRoot:        s.recordRoot,
		TmpRoot:           s.tmpRoot,
		LockDir:           s.lockDir,
		HLSPlaylistURL:    playlistURL,
		MinDiskSpaceGB:    s.minDiskSpaceGB,
		MaxRecordingHours: s.maxRecordingHours,
		Logger:            s.logger,
	}, NewTranscoderAdapter(s.driver))

	tw := &trackedWorker{worker: w, fileLock: fl, backoff: backoff.NewRecording(), rtspURL: rtspURL, lastRestart: time.Now()}

	if err := w.Start(ctx); err != nil {
		_ = fl.Release()
		return fmt.Errorf("record %s: %w", cameraID, err)
	}

	s.mu.Lock()
	s.workers[cameraID] = tw
	s.mu.Unlock()
	return nil
}

// Stop stops cameraID's recording, tears down its rotation watcher, and
// releases its record lock.
func (s *Supervisor) Stop(ctx context.Context, cameraID string) error {
	s.mu.Lock()
	tw, exists := s.workers[cameraID]
	if exists {
		delete(s.workers, cameraID)
	}
	s.mu.Unlock()
	if !exists {
		return nil
	}

	err := tw.worker.Stop(ctx)
	tw.worker.ShutdownRotationWatcher()
	if relErr := tw.fileLock.Release(); relErr != nil && err == nil {
		err = relErr
	}
	return err
}

// StopAll stops every tracked recording (spec.md §4.F
// stop_all_recordings's normal pass, before any escalation).
func (s *Supervisor) StopAll(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		_ = s.Stop(ctx, id)
	}
}

// Status reports cameraID's recording status.
func (s *Supervisor) Status(cameraID string) (status Status, source SourceKind, archivePath string, lastErr string, ok bool) {
	s.mu.Lock()
	tw, exists := s.workers[cameraID]
	s.mu.Unlock()
	if !exists {
		return StatusStopped, SourceRTSP, "", "", false
	}
	st, src, path, errMsg := tw.worker.Status()
	return st, src, path, errMsg, true
}

// StatusAll reports every tracked worker's status, keyed by camera id.
func (s *Supervisor) StatusAll() map[string]Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Status, len(s.workers))
	for id, tw := range s.workers {
		st, _, _, _ := tw.worker.Status()
		out[id] = st
	}
	return out
}

// Running reports whether cameraID is currently tracked.
func (s *Supervisor) Running(cameraID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.workers[cameraID]
	return ok
}

// TrackedIDs returns the camera ids currently tracked, for callers (the
// Kernel Facade's bulk operations) that need to report a per-id result
// for every recording that was running before a bulk stop.
func (s *Supervisor) TrackedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	return ids
}

// Close stops the crash-recovery sweep goroutine. It does not stop any
// tracked recording; call StopAll first for a clean shutdown.
func (s *Supervisor) Close() {
	s.sweepCancel()
	<-s.sweepDone
}

// runCrashSweep restarts any tracked worker whose child exited on its
// own, applying per-camera exponential backoff and resetting it after
// a 30s survival (spec.md §4.E crash recovery).
func (s *Supervisor) runCrashSweep(ctx context.Context) {
	defer close(s.sweepDone)
	ticker := time.NewTicker(crashSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.sweepOnce(ctx, now)
		}
	}
}

func (s *Supervisor) sweepOnce(ctx context.Context, now time.Time) {
	s.mu.Lock()
	snapshot := make([]*trackedWorker, 0, len(s.workers))
	for _, tw := range s.workers {
		snapshot = append(snapshot, tw)
	}
	s.mu.Unlock()

	for _, tw := range snapshot {
		if tw.worker.IsRunning() {
			if now.Sub(tw.lastRestart) >= crashSweepInterval {
				tw.backoff.Reset()
			}
			continue
		}
		if now.Before(tw.nextAttempt) {
			continue
		}
		delay := tw.backoff.RecordFailure()
		tw.nextAttempt = now.Add(delay)
		go func(tw *trackedWorker) {
			if delay > 0 {
				_ = tw.backoff.Wait(ctx, delay)
			}
			if err := tw.worker.Start(ctx); err == nil {
				tw.lastRestart = time.Now()
			}
		}(tw)
	}
}
