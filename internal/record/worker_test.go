// SPDX-License-Identifier: MIT

package record

import (
	"context"
	"io"
	"os"
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

// fakeDriver is a transcoderDriver whose behavior a test configures. On
// Spawn it writes archiveSize bytes to the argv's output path (its
// final element, per the real argument vectors' shape) so
// verifySurvived's file-existence check has something to find.
type fakeDriver struct {
	mu sync.Mutex

	reachable   bool
	hlsUp       bool
	audio       bool
	archiveSize int64
	spawnErr    error

	children []*fakeChild
}

func (d *fakeDriver) ProbeReachable(ctx context.Context, rtspURL string, timeout time.Duration) (bool, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.reachable {
		return true, ""
	}
	return false, "unreachable"
}

func (d *fakeDriver) ProbeAudio(ctx context.Context, rtspURL string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.audio
}

func (d *fakeDriver) ProbeHLS(ctx context.Context, playlistURL string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hlsUp
}

func (d *fakeDriver) Spawn(ctx context.Context, argv []string, logSink io.Writer, highPriority bool) (transcoderChild, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.spawnErr != nil {
		return nil, d.spawnErr
	}
	if len(argv) > 0 {
		outputPath := argv[len(argv)-1]
		data := make([]byte, d.archiveSize)
		_ = os.WriteFile(outputPath, data, 0o644)
	}
	c := newFakeChild()
	d.children = append(d.children, c)
	return c, nil
}

func (d *fakeDriver) Terminate(child transcoderChild, timeout time.Duration) error {
	if fc, ok := child.(*fakeChild); ok {
		select {
		case fc.exitCh <- nil:
		default:
		}
	}
	return nil
}

func (d *fakeDriver) Finalize(ctx context.Context, path string) error { return nil }

func TestStartSucceedsOverRTSPWithoutAudio(t *testing.T) {
	d := &fakeDriver{reachable: true, audio: false, archiveSize: 2 * minArchiveBytes}
	w := NewWorker(Config{
		CameraID:          "cam1",
		RTSPURL:           "rtsp://x/1",
		RecordRoot:        t.TempDir(),
		MinDiskSpaceGB:    0,
		MaxRecordingHours: 1,
	}, d)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.ShutdownRotationWatcher()

	status, source, path, _ := w.Status()
	if status != StatusRecording {
		t.Fatalf("status = %v, want recording", status)
	}
	if source != SourceRTSP {
		t.Fatalf("source = %v, want rtsp", source)
	}
	if path == "" {
		t.Fatal("expected non-empty archive path")
	}
}

func TestStartFallsBackToHLSWhenRTSPUnreachable(t *testing.T) {
	d := &fakeDriver{reachable: false, hlsUp: true, archiveSize: 2 * minArchiveBytes}
	w := NewWorker(Config{
		CameraID:          "cam1",
		RTSPURL:           "rtsp://x/1",
		RecordRoot:        t.TempDir(),
		HLSPlaylistURL:    "http://127.0.0.1/cam1.m3u8",
		MinDiskSpaceGB:    0,
		MaxRecordingHours: 1,
	}, d)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.ShutdownRotationWatcher()

	status, source, _, _ := w.Status()
	if status != StatusRecording || source != SourceHLS {
		t.Fatalf("status/source = %v/%v, want recording/hls", status, source)
	}
}

func TestStartFailsWhenNeitherSourceIsUp(t *testing.T) {
	d := &fakeDriver{reachable: false, hlsUp: false}
	w := NewWorker(Config{
		CameraID:          "cam1",
		RTSPURL:           "rtsp://x/1",
		RecordRoot:        t.TempDir(),
		MinDiskSpaceGB:    0,
		MaxRecordingHours: 1,
	}, d)

	if err := w.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail when neither source is reachable")
	}
}

func TestStopDeletesCorruptArchive(t *testing.T) {
	d := &fakeDriver{reachable: true, archiveSize: 100}
	w := NewWorker(Config{
		CameraID:          "cam1",
		RTSPURL:           "rtsp://x/1",
		RecordRoot:        t.TempDir(),
		MinDiskSpaceGB:    0,
		MaxRecordingHours: 1,
	}, d)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.ShutdownRotationWatcher()

	_, _, path, _ := w.Status()
	if err := w.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected corrupt archive %s to be deleted, stat err = %v", path, err)
	}
}
