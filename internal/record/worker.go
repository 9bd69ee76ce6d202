// SPDX-License-Identifier: MIT

package record

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tomtom215/camkernel/internal/fsutil"
	"github.com/tomtom215/camkernel/internal/transcoder"
)

const (
	rotationPollInterval   = 1 * time.Second
	stopExistingWait       = 3 * time.Second
	postSpawnCheckDelay    = 2 * time.Second
	fileExistenceRetries   = 10
	minArchiveBytes        = 1024 * 1024 // 1 MiB (spec.md §3 invariant 5)
	recordTerminateTimeout = 10 * time.Second
)

// Config describes one camera's recording worker.
type Config struct {
	CameraID   string
	RTSPURL    string
	RecordRoot string
	TmpRoot    string
	LockDir    string

	// HLSPlaylistURL, if non-empty, is the URL the kernel's external
	// HLS server exposes this camera's playlist at. Static file
	// serving is out of this kernel's scope (spec.md §1); this string
	// is only the address probe_hls calls against.
	HLSPlaylistURL string

	MinDiskSpaceGB    float64
	MaxRecordingHours float64

	Logger *slog.Logger
}

// Worker supervises one camera's rotating archive sequence: start
// sequence, rotation watcher, and stop sequence (spec.md §4.E). Crash
// recovery is NOT owned by Worker — it is a Supervisor-level sweep
// that restarts a Worker whose child exited on its own.
type Worker struct {
	cfg    Config
	driver transcoderDriver

	mu          sync.Mutex
	running     bool
	child       transcoderChild
	childExit   <-chan error // result of the current child's Wait(), read exactly once
	archivePath string
	startTime   time.Time
	sourceKind  SourceKind
	status      Status
	lastErr     string

	rotateCancel context.CancelFunc
	rotateDone   chan struct{}
}

// NewWorker constructs a Worker in StatusStopped (not yet started).
func NewWorker(cfg Config, driver transcoderDriver) *Worker {
	return &Worker{cfg: cfg, driver: driver, status: StatusStopped}
}

// Status reports the worker's current lifecycle state and source kind.
func (w *Worker) Status() (status Status, source SourceKind, archivePath string, lastErr string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status, w.sourceKind, w.archivePath, w.lastErr
}

// IsRunning reports whether a child is currently live.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Worker) setStatus(s Status, errMsg string) {
	w.mu.Lock()
	w.status = s
	w.lastErr = errMsg
	w.mu.Unlock()
}

func (w *Worker) logf(level slog.Level, msg string, args ...any) {
	if w.cfg.Logger == nil {
		return
	}
	allArgs := append([]any{"camera", w.cfg.CameraID}, args...)
	w.cfg.Logger.Log(context.Background(), level, msg, allArgs...)
}

// Start runs the spec.md §4.E start sequence: stop any existing
// archive for this id, enforce free disk space, probe reachability and
// audio presence, decide source_kind, spawn, and verify survival. On
// the very first successful start for this camera it also launches the
// rotation watcher, which then runs for the camera's whole recording
// lifetime.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	alreadyRunning := w.running
	w.mu.Unlock()
	if alreadyRunning {
		if err := w.Stop(ctx); err != nil {
			return fmt.Errorf("record %s: stop existing: %w", w.cfg.CameraID, err)
		}
		time.Sleep(stopExistingWait)
	}

	w.setStatus(StatusStarting, "")

	recordDir := w.cfg.RecordRoot + "/" + w.cfg.CameraID
	if err := fsutil.EnsureDir(recordDir); err != nil {
		w.setStatus(StatusError, err.Error())
		return fmt.Errorf("record %s: ensure dir: %w", w.cfg.CameraID, err)
	}
	ok, err := fsutil.CheckDiskSpace(recordDir, w.cfg.MinDiskSpaceGB)
	if err != nil {
		w.setStatus(StatusError, err.Error())
		return fmt.Errorf("record %s: disk check: %w", w.cfg.CameraID, err)
	}
	if !ok {
		w.setStatus(StatusError, "insufficient free disk space")
		return fmt.Errorf("record %s: insufficient free disk space", w.cfg.CameraID)
	}

	reachable, msg := w.driver.ProbeReachable(ctx, w.cfg.RTSPURL, 5*time.Second)
	hlsUp := w.cfg.HLSPlaylistURL != "" && w.driver.ProbeHLS(ctx, w.cfg.HLSPlaylistURL)

	archivePath, err := fsutil.ArchivePath(w.cfg.RecordRoot, w.cfg.CameraID, time.Now())
	if err != nil {
		w.setStatus(StatusError, err.Error())
		return fmt.Errorf("record %s: archive path: %w", w.cfg.CameraID, err)
	}

	var source SourceKind
	var argv []string
	switch {
	case reachable:
		source = SourceRTSP
		argv = w.rtspArgv(ctx, archivePath)
	case hlsUp:
		source = SourceHLS
		argv = transcoder.BuildHLSRecordArgs(w.cfg.HLSPlaylistURL, archivePath)
	default:
		w.setStatus(StatusError, msg)
		return fmt.Errorf("record %s: neither rtsp nor hls reachable: %s", w.cfg.CameraID, msg)
	}

	if err := w.spawnAndVerify(ctx, argv, source, archivePath); err != nil {
		w.setStatus(StatusError, err.Error())
		return fmt.Errorf("record %s: %w", w.cfg.CameraID, err)
	}

	w.mu.Lock()
	alreadyWatching := w.rotateCancel != nil
	if !alreadyWatching {
		rotateCtx, cancel := context.WithCancel(context.Background())
		w.rotateCancel = cancel
		w.rotateDone = make(chan struct{})
		w.mu.Unlock()
		go w.runRotationWatcher(rotateCtx)
	} else {
		w.mu.Unlock()
	}

	return nil
}

func (w *Worker) rtspArgv(ctx context.Context, archivePath string) []string {
	if w.driver.ProbeAudio(ctx, w.cfg.RTSPURL) {
		return transcoder.BuildRTSPRecordArgs(w.cfg.RTSPURL, archivePath)
	}
	return transcoder.BuildRTSPRecordArgsVideoOnly(w.cfg.RTSPURL, archivePath)
}

// spawnAndVerify spawns argv, verifies it survives spec.md §4.E step 6,
// and on success installs it as the worker's live child, starting the
// shared exit-watcher goroutine exactly once per child.
func (w *Worker) spawnAndVerify(ctx context.Context, argv []string, source SourceKind, archivePath string) error {
	child, err := w.driver.Spawn(ctx, argv, nil, false)
	if err != nil {
		return fmt.Errorf("spawn: %w", err)
	}

	exitCh := make(chan error, 1)
	go func() { exitCh <- child.Wait() }()

	if err := w.verifySurvived(exitCh, archivePath); err != nil {
		_ = w.driver.Terminate(child, recordTerminateTimeout)
		return err
	}

	w.mu.Lock()
	w.running = true
	w.child = child
	w.childExit = exitCh
	w.archivePath = archivePath
	w.startTime = time.Now()
	w.sourceKind = source
	w.status = StatusRecording
	w.lastErr = ""
	w.mu.Unlock()

	go w.watchExit(child, exitCh)
	return nil
}

// verifySurvived waits 2s then checks the archive file exists, retrying
// up to 10 more times at 1s intervals, failing early if exitCh fires
// (spec.md §4.E step 6).
func (w *Worker) verifySurvived(exitCh <-chan error, archivePath string) error {
	select {
	case err := <-exitCh:
		return fmt.Errorf("child exited immediately: %v", err)
	case <-time.After(postSpawnCheckDelay):
	}

	for i := 0; i <= fileExistenceRetries; i++ {
		select {
		case err := <-exitCh:
			return fmt.Errorf("child exited during verification: %v", err)
		default:
		}
		if fsutil.FileExists(archivePath) {
			return nil
		}
		time.Sleep(1 * time.Second)
	}
	return fmt.Errorf("archive file never appeared: %s", archivePath)
}

// watchExit blocks until exitCh fires (the one and only read of that
// child's Wait() result) and marks the worker not-running so the
// Supervisor's crash-recovery sweep can pick it up.
func (w *Worker) watchExit(child transcoderChild, exitCh <-chan error) {
	err := <-exitCh

	w.mu.Lock()
	if w.child == child {
		w.running = false
		w.status = StatusStopped
		if err != nil {
			w.status = StatusError
			w.lastErr = err.Error()
		}
	}
	w.mu.Unlock()

	if err != nil {
		w.logf(slog.LevelWarn, "recording child exited", "error", err)
	}
}

// runRotationWatcher polls once a second and rotates the archive once
// MaxRecordingHours has elapsed since start_time. One watcher per
// camera id, started on first Start and surviving every rotation
// (spec.md §9).
func (w *Worker) runRotationWatcher(ctx context.Context) {
	w.mu.Lock()
	done := w.rotateDone
	w.mu.Unlock()
	defer close(done)

	ticker := time.NewTicker(rotationPollInterval)
	defer ticker.Stop()

	threshold := time.Duration(w.cfg.MaxRecordingHours * float64(time.Hour))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.Lock()
			running := w.running
			elapsed := time.Since(w.startTime)
			w.mu.Unlock()
			if !running || elapsed < threshold {
				continue
			}
			if err := w.rotate(ctx); err != nil {
				w.logf(slog.LevelError, "rotation failed", "error", err)
			}
		}
	}
}

// rotate stops the current archive and spawns a successor using the
// same source_kind whenever possible (sticky source selection,
// spec.md §4.E).
func (w *Worker) rotate(ctx context.Context) error {
	w.mu.Lock()
	previousSource := w.sourceKind
	w.mu.Unlock()

	if err := w.stopCurrent(ctx); err != nil {
		return fmt.Errorf("stop for rotation: %w", err)
	}
	time.Sleep(2 * time.Second)

	hlsUp := w.cfg.HLSPlaylistURL != "" && w.driver.ProbeHLS(ctx, w.cfg.HLSPlaylistURL)
	reachable, _ := w.driver.ProbeReachable(ctx, w.cfg.RTSPURL, 5*time.Second)

	preferHLS := previousSource == SourceHLS && hlsUp
	preferRTSP := previousSource == SourceRTSP && reachable
	if !preferHLS && !preferRTSP {
		// Sticky choice unavailable; fall back to whichever is up.
		preferRTSP = reachable
		preferHLS = !reachable && hlsUp
	}

	archivePath, err := fsutil.ArchivePath(w.cfg.RecordRoot, w.cfg.CameraID, time.Now())
	if err != nil {
		return fmt.Errorf("archive path: %w", err)
	}

	var argv []string
	var source SourceKind
	switch {
	case preferRTSP:
		source = SourceRTSP
		argv = w.rtspArgv(ctx, archivePath)
	case preferHLS:
		source = SourceHLS
		argv = transcoder.BuildHLSRecordArgs(w.cfg.HLSPlaylistURL, archivePath)
	default:
		return fmt.Errorf("neither rtsp nor hls available for rotation")
	}

	return w.spawnAndVerify(ctx, argv, source, archivePath)
}

// Stop runs the stop sequence: terminate, then finalize, delete-as-
// corrupt, or warn depending on the produced file's size (spec.md
// §4.E). The rotation watcher keeps running; only the live child is
// stopped.
func (w *Worker) Stop(ctx context.Context) error {
	if err := w.stopCurrent(ctx); err != nil {
		return err
	}
	w.setStatus(StatusStopped, "")
	return nil
}

func (w *Worker) stopCurrent(ctx context.Context) error {
	w.mu.Lock()
	child := w.child
	path := w.archivePath
	running := w.running
	w.mu.Unlock()

	if !running || child == nil {
		return nil
	}

	if err := w.driver.Terminate(child, recordTerminateTimeout); err != nil {
		w.logf(slog.LevelWarn, "terminate failed", "error", err)
	}

	w.mu.Lock()
	w.running = false
	w.child = nil
	w.childExit = nil
	w.startTime = time.Time{}
	w.mu.Unlock()

	info, statErr := fsutil.Stat(path)
	switch {
	case statErr != nil:
		w.logf(slog.LevelWarn, "archive missing at stop", "path", path)
		return nil
	case info.Size() >= minArchiveBytes:
		if err := w.driver.Finalize(ctx, path); err != nil {
			return fmt.Errorf("finalize %s: %w", path, err)
		}
		return nil
	case info.Size() > 0:
		w.logf(slog.LevelWarn, "deleting corrupt archive", "path", path, "size", info.Size())
		return fsutil.RemoveFile(path)
	default:
		return fsutil.RemoveFile(path)
	}
}

// ShutdownRotationWatcher stops the per-camera rotation watcher. Call
// once the camera's recording is permanently disabled, not on an
// ordinary Stop (the watcher must survive rotations and transient
// stop/start cycles).
func (w *Worker) ShutdownRotationWatcher() {
	w.mu.Lock()
	cancel := w.rotateCancel
	done := w.rotateDone
	w.rotateCancel = nil
	w.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}
