// SPDX-License-Identifier: MIT

package stream

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"
)

// fakeChild is a transcoderChild a test controls directly.
type fakeChild struct {
	exitCh chan error
}

func newFakeChild() *fakeChild { return &fakeChild{exitCh: make(chan error, 1)} }

func (c *fakeChild) Wait() error    { return <-c.exitCh }
func (c *fakeChild) Stderr() string { return "" }

// fakeDriver is a transcoderDriver whose behavior a test configures.
type fakeDriver struct {
	mu sync.Mutex

	reachable    bool
	reachableMsg string
	spawnErr     error
	spawnCount   int
	terminated   []transcoderChild
	children     []*fakeChild
}

func (d *fakeDriver) ProbeReachable(ctx context.Context, rtspURL string, timeout time.Duration) (bool, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reachable, d.reachableMsg
}

func (d *fakeDriver) Spawn(ctx context.Context, argv []string, logSink io.Writer, highPriority bool) (transcoderChild, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.spawnCount++
	if d.spawnErr != nil {
		return nil, d.spawnErr
	}
	c := newFakeChild()
	d.children = append(d.children, c)
	return c, nil
}

func (d *fakeDriver) spawns() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.spawnCount
}

func (d *fakeDriver) Terminate(child transcoderChild, timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.terminated = append(d.terminated, child)
	if fc, ok := child.(*fakeChild); ok {
		select {
		case fc.exitCh <- nil:
		default:
		}
	}
	return nil
}

func (d *fakeDriver) KillAll(tmpRoot, cameraID string) error { return nil }

// TestWorkerSpawnsAnywayOnProbeFailure verifies spec.md §4.D's "spawn
// proceeds even on probe failure" rule: a failed reachability probe
// must still lead to a spawned transcoder child (relying on the
// transcoder's own reconnect logic), not an endless re-probe loop.
func TestWorkerSpawnsAnywayOnProbeFailure(t *testing.T) {
	d := &fakeDriver{reachable: false, reachableMsg: "host unreachable"}

	w := NewWorker(Config{CameraID: "cam1", RTSPURL: "rtsp://x/1", TmpRoot: t.TempDir(), LockDir: t.TempDir()}, d)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && d.spawns() == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if d.spawns() == 0 {
		t.Fatal("worker never spawned a transcoder despite a failed probe")
	}

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st, _ := w.Status(); st == StatusStreaming {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if st, _ := w.Status(); st != StatusStreaming {
		t.Fatalf("status = %v, want streaming after spawning despite failed probe", st)
	}

	cancel()
	<-errCh
}

func TestWorkerReachesStreamingAfterSpawn(t *testing.T) {
	d := &fakeDriver{reachable: true}

	w := NewWorker(Config{CameraID: "cam1", RTSPURL: "rtsp://x/1", TmpRoot: t.TempDir(), LockDir: t.TempDir()}, d)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-errCh
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st, _ := w.Status(); st == StatusStreaming {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("worker never reached StatusStreaming")
}

func TestWorkerStopsOnContextCancel(t *testing.T) {
	d := &fakeDriver{reachable: true}
	w := NewWorker(Config{CameraID: "cam1", RTSPURL: "rtsp://x/1", TmpRoot: t.TempDir(), LockDir: t.TempDir()}, d)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st, _ := w.Status(); st == StatusStreaming {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancel")
	}

	if st, _ := w.Status(); st != StatusStopped {
		t.Fatalf("status after cancel = %v, want stopped", st)
	}
}
