// SPDX-License-Identifier: MIT

package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tomtom215/camkernel/internal/backoff"
	"github.com/tomtom215/camkernel/internal/fsutil"
	"github.com/tomtom215/camkernel/internal/lock"
	"github.com/tomtom215/camkernel/internal/transcoder"
)

const (
	// freshnessCheckInterval is how often the watchdog samples the
	// playlist and its segments (spec.md §4.D).
	freshnessCheckInterval = 10 * time.Second

	// stallThreshold is the number of consecutive unchanged samples
	// that mark a stream stalled: 2 × freshnessCheckInterval = 20s.
	stallThreshold = 2

	// reachableProbeTimeout bounds probe_reachable (spec.md §5).
	reachableProbeTimeout = 5 * time.Second

	// terminateTimeout bounds the graceful-then-forceful shutdown
	// sequence (spec.md §5: "terminate ~10s worst case").
	terminateTimeout = 10 * time.Second
)

// Config describes one camera's stream worker.
type Config struct {
	CameraID string
	RTSPURL  string
	TmpRoot  string
	LockDir  string
	Logger   *slog.Logger
}

// Worker supervises a single camera's HLS-producing transcoder child:
// spawn, exit-watch, and freshness-watchdog, looping under a
// linear-capped restart backoff (spec.md §4.D).
type Worker struct {
	cfg     Config
	driver  transcoderDriver
	backoff *backoff.Backoff

	mu      sync.RWMutex
	status  Status
	lastErr string
}

// NewWorker constructs a Worker in StatusInitializing.
func NewWorker(cfg Config, driver transcoderDriver) *Worker {
	return &Worker{
		cfg:     cfg,
		driver:  driver,
		backoff: backoff.NewStream(),
		status:  StatusInitializing,
	}
}

// Status returns the worker's current state and, if any, its last
// observed error message.
func (w *Worker) Status() (Status, string) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status, w.lastErr
}

// RetryCount reports the worker's current consecutive-restart count
// (spec.md §3's retry_count), reset on any observed freshness success.
func (w *Worker) RetryCount() int {
	return w.backoff.Attempt()
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

// Run is the worker's main loop. It blocks until ctx is cancelled,
// holding one lock file for the camera's stream kind for its whole
// lifetime so a second supervisor instance can never double-spawn this
// camera (spec.md §3 invariant 1).
func (w *Worker) Run(ctx context.Context) error {
	fl, err := lock.NewFileLock(streamLockPath(w.cfg.LockDir, w.cfg.CameraID))
	if err != nil {
		w.setStatus(StatusError, err.Error())
		return fmt.Errorf("stream %s: lock: %w", w.cfg.CameraID, err)
	}
	if err := fl.AcquireContext(ctx, 30*time.Second); err != nil {
		w.setStatus(StatusError, err.Error())
		return fmt.Errorf("stream %s: acquire lock: %w", w.cfg.CameraID, err)
	}
	defer func() { _ = fl.Release() }()

	camTmpDir := w.cfg.TmpRoot + "/" + w.cfg.CameraID
	if err := fsutil.EnsureDir(camTmpDir); err != nil {
		w.setStatus(StatusError, err.Error())
		return fmt.Errorf("stream %s: ensure tmp dir: %w", w.cfg.CameraID, err)
	}

	for {
		select {
		case <-ctx.Done():
			w.setStatus(StatusStopped, "")
			return ctx.Err()
		default:
		}

		// Spawner prep (spec.md §4.D): kill any orphaned transcoder this
		// camera left behind (a prior crash, a stale lock-holder) and
		// clear stale playlist/segment files before the next spawn.
		_ = w.driver.KillAll(w.cfg.TmpRoot, w.cfg.CameraID)
		_ = fsutil.CleanDir(camTmpDir)

		w.setStatus(StatusInitializing, "")
		ok, msg := w.driver.ProbeReachable(ctx, w.cfg.RTSPURL, reachableProbeTimeout)
		if ok {
			w.setStatus(StatusConnected, "")
		} else {
			// Non-fatal (spec.md §4.D): spawn anyway so the transcoder's
			// own reconnect logic recovers from a transient upstream
			// outage, matching the original's "start the process anyway"
			// behavior around a failed reachability probe.
			w.setStatus(StatusConnectionFailed, msg)
		}

		exitErr := w.runOneChild(ctx)
		if ctx.Err() != nil {
			w.setStatus(StatusStopped, "")
			return ctx.Err()
		}
		if exitErr != nil {
			w.logf(slog.LevelWarn, "stream child exited", "error", exitErr)
		}

		if waitErr := w.backoff.Wait(ctx, w.backoff.RecordFailure()); waitErr != nil {
			w.setStatus(StatusStopped, "")
			return waitErr
		}
	}
}

// runOneChild spawns one transcoder child, runs its freshness watchdog
// alongside, and returns when the child exits, the watchdog declares a
// stall, or ctx is cancelled (in which case the child is terminated
// first).
func (w *Worker) runOneChild(ctx context.Context) error {
	camTmpDir := w.cfg.TmpRoot + "/" + w.cfg.CameraID
	playlist := transcoder.PlaylistPath(camTmpDir, w.cfg.CameraID)
	segments := transcoder.SegmentPattern(camTmpDir, w.cfg.CameraID)
	argv := transcoder.BuildHLSArgs(w.cfg.RTSPURL, playlist, segments)

	child, err := w.driver.Spawn(ctx, argv, nil, false)
	if err != nil {
		w.setStatus(StatusProcessDied, err.Error())
		return err
	}
	w.setStatus(StatusStreaming, "")

	childCtx, cancelChild := context.WithCancel(ctx)
	defer cancelChild()

	stallCh := make(chan struct{}, 1)
	go w.watchFreshness(childCtx, stallCh)

	done := make(chan error, 1)
	go func() { done <- child.Wait() }()

	select {
	case <-ctx.Done():
		_ = w.driver.Terminate(child, terminateTimeout)
		<-done
		return ctx.Err()

	case <-stallCh:
		w.setStatus(StatusRestarting, "stalled, restarting")
		_ = w.driver.Terminate(child, terminateTimeout)
		<-done
		return fmt.Errorf("stream %s: stalled", w.cfg.CameraID)

	case err := <-done:
		if err != nil {
			w.setStatus(StatusProcessDied, err.Error())
		} else {
			w.setStatus(StatusProcessDied, "exited cleanly")
		}
		return err
	}
}

// watchFreshness polls the playlist and segments every
// freshnessCheckInterval and signals stallCh once stallThreshold
// consecutive samples show no progress (spec.md §4.D).
func (w *Worker) watchFreshness(ctx context.Context, stallCh chan<- struct{}) {
	ticker := time.NewTicker(freshnessCheckInterval)
	defer ticker.Stop()

	prev := checkFreshness(w.cfg.TmpRoot, w.cfg.CameraID)
	consecutive := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			next := checkFreshness(w.cfg.TmpRoot, w.cfg.CameraID)
			if prev.unchanged(next) {
				consecutive++
			} else {
				consecutive = 0
				w.backoff.Reset()
				w.setStatus(StatusStreaming, "")
			}
			prev = next

			if consecutive == 1 {
				w.setStatus(StatusStalled, "")
			}
			if consecutive >= stallThreshold {
				select {
				case stallCh <- struct{}{}:
				default:
				}
				return
			}
		}
	}
}

func streamLockPath(lockDir, cameraID string) string {
	return lockDir + "/" + cameraID + ".stream.lock"
}
