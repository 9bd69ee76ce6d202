// SPDX-License-Identifier: MIT

package stream

import (
	"testing"
	"time"

	"github.com/tomtom215/camkernel/internal/transcoder"
)

func TestSupervisorStartIsIdempotentAndStopWaits(t *testing.T) {
	d := transcoder.NewDriver("/bin/false", "/bin/false")
	sup := NewSupervisor(d, t.TempDir(), t.TempDir(), nil)

	if err := sup.Start("cam1", "rtsp://x/1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sup.Start("cam1", "rtsp://x/1"); err != nil {
		t.Fatalf("second Start should be a no-op, got: %v", err)
	}
	if !sup.Running("cam1") {
		t.Fatal("expected cam1 to be running")
	}

	if err := sup.Stop("cam1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sup.Running("cam1") {
		t.Fatal("expected cam1 to be stopped")
	}
}

func TestSupervisorStopAllClearsEveryWorker(t *testing.T) {
	d := transcoder.NewDriver("/bin/false", "/bin/false")
	sup := NewSupervisor(d, t.TempDir(), t.TempDir(), nil)

	_ = sup.Start("cam1", "rtsp://x/1")
	_ = sup.Start("cam2", "rtsp://x/2")

	done := make(chan struct{})
	go func() {
		sup.StopAll()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("StopAll did not return")
	}

	if len(sup.StatusAll()) != 0 {
		t.Fatalf("StatusAll after StopAll = %v, want empty", sup.StatusAll())
	}
}
