// SPDX-License-Identifier: MIT

package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tomtom215/camkernel/internal/transcoder"
)

// entry pairs a running worker with the cancel function that stops it.
type entry struct {
	worker *Worker
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor owns one Worker per camera and is the Stream Supervisor's
// entry point from the Kernel Facade (spec.md §4.D, §4.F). A single
// mutex guards the worker map, matching spec.md §5's one-mutex-per-map
// concurrency model.
type Supervisor struct {
	driver  *transcoder.Driver
	tmpRoot string
	lockDir string
	logger  *slog.Logger

	mu      sync.Mutex
	workers map[string]*entry
}

// NewSupervisor builds a Stream Supervisor. tmpRoot is the HLS staging
// root (<base>/tmp) and lockDir holds per-camera stream lock files.
func NewSupervisor(driver *transcoder.Driver, tmpRoot, lockDir string, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		driver:  driver,
		tmpRoot: tmpRoot,
		lockDir: lockDir,
		logger:  logger,
		workers: make(map[string]*entry),
	}
}

// Start launches (or no-ops if already running) a stream worker for
// cameraID/rtspURL.
func (s *Supervisor) Start(cameraID, rtspURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workers[cameraID]; exists {
		return nil
	}

	w := NewWorker(Config{
		CameraID: cameraID,
		RTSPURL:  rtspURL,
		TmpRoot:  s.tmpRoot,
		LockDir:  s.lockDir,
		Logger:   s.logger,
	}, NewTranscoderAdapter(s.driver))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e := &entry{worker: w, cancel: cancel, done: done}
	s.workers[cameraID] = e

	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	return nil
}

// Stop cancels cameraID's stream worker and waits for it to exit.
func (s *Supervisor) Stop(cameraID string) error {
	s.mu.Lock()
	e, exists := s.workers[cameraID]
	if exists {
		delete(s.workers, cameraID)
	}
	s.mu.Unlock()

	if !exists {
		return nil
	}
	e.cancel()
	<-e.done
	return nil
}

// Restart stops and restarts cameraID's stream worker (spec.md §4.F
// restart_stream).
func (s *Supervisor) Restart(cameraID, rtspURL string) error {
	if err := s.Stop(cameraID); err != nil {
		return fmt.Errorf("restart %s: stop: %w", cameraID, err)
	}
	return s.Start(cameraID, rtspURL)
}

// StopAll stops every running stream worker.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		_ = s.Stop(id)
	}
}

// Status reports cameraID's current worker status. ok is false if no
// worker is running for that camera.
func (s *Supervisor) Status(cameraID string) (status Status, lastErr string, ok bool) {
	s.mu.Lock()
	e, exists := s.workers[cameraID]
	s.mu.Unlock()
	if !exists {
		return StatusStopped, "", false
	}
	st, msg := e.worker.Status()
	return st, msg, true
}

// RetryCount reports cameraID's current consecutive-restart count. ok is
// false if no worker is running for that camera.
func (s *Supervisor) RetryCount(cameraID string) (count int, ok bool) {
	s.mu.Lock()
	e, exists := s.workers[cameraID]
	s.mu.Unlock()
	if !exists {
		return 0, false
	}
	return e.worker.RetryCount(), true
}

// StatusAll reports every running worker's status, keyed by camera id.
func (s *Supervisor) StatusAll() map[string]Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Status, len(s.workers))
	for id, e := range s.workers {
		st, _ := e.worker.Status()
		out[id] = st
	}
	return out
}

// Running reports whether a worker exists for cameraID.
func (s *Supervisor) Running(cameraID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.workers[cameraID]
	return ok
}
