// SPDX-License-Identifier: MIT

package kernel

import (
	"context"
	"testing"

	"github.com/tomtom215/camkernel/internal/camera"
	"github.com/tomtom215/camkernel/internal/record"
	"github.com/tomtom215/camkernel/internal/stream"
	"github.com/tomtom215/camkernel/internal/transcoder"
)

type fakeRegistry struct {
	records []camera.Record
}

func (f *fakeRegistry) ByID(id string) (camera.Record, bool) {
	for _, r := range f.records {
		if r.ID == id {
			return r, true
		}
	}
	return camera.Record{}, false
}

func (f *fakeRegistry) Sorted() []camera.Record { return f.records }

func newTestKernel(t *testing.T, recs []camera.Record) *Kernel {
	t.Helper()
	tmpRoot := t.TempDir()
	lockDir := t.TempDir()
	recordRoot := t.TempDir()

	driver := transcoder.NewDriver("/bin/false", "/bin/false")
	streams := stream.NewSupervisor(driver, tmpRoot, lockDir, nil)
	records := record.NewSupervisor(driver, recordRoot, tmpRoot, lockDir, 1.0, 24.0)
	t.Cleanup(records.Close)

	reg := &fakeRegistry{records: recs}
	return New(reg, driver, streams, records, nil)
}

func TestStartStreamUnknownCamera(t *testing.T) {
	k := newTestKernel(t, nil)
	res := k.StartStream("ghost")
	if res.OK {
		t.Fatal("expected failure for unknown camera id")
	}
	if res.CameraID != "ghost" {
		t.Errorf("CameraID = %q, want %q", res.CameraID, "ghost")
	}
	if res.Error == "" {
		t.Error("expected a non-empty error message")
	}
}

func TestStartRecordingUnknownCamera(t *testing.T) {
	k := newTestKernel(t, nil)
	res := k.StartRecording(context.Background(), "ghost")
	if res.OK {
		t.Fatal("expected failure for unknown camera id")
	}
}

func TestRestartStreamUnknownCamera(t *testing.T) {
	k := newTestKernel(t, nil)
	res := k.RestartStream("ghost")
	if res.OK {
		t.Fatal("expected failure for unknown camera id")
	}
}

func TestStopRecordingUnknownCameraIsIdempotent(t *testing.T) {
	// Stopping a camera that was never started is a no-op success: the
	// Supervisor's Stop only reports an error for an actual stop failure,
	// not for "nothing was tracked".
	k := newTestKernel(t, nil)
	res := k.StopRecording(context.Background(), "never-started")
	if !res.OK {
		t.Errorf("expected idempotent stop to succeed, got error %q", res.Error)
	}
}

func TestStartAllRecordingsSkipsDisabledAndNonAutoRecord(t *testing.T) {
	recs := []camera.Record{
		{ID: "cam1", Name: "One", RTSPURL: "rtsp://x/1", Enabled: boolPtr(true), AutoRecord: boolPtr(true)},
		{ID: "cam2", Name: "Two", RTSPURL: "rtsp://x/2", Enabled: boolPtr(false), AutoRecord: boolPtr(true)},
		{ID: "cam3", Name: "Three", RTSPURL: "rtsp://x/3", Enabled: boolPtr(true), AutoRecord: boolPtr(false)},
	}
	k := newTestKernel(t, recs)

	results := k.StartAllRecordings(context.Background())
	if len(results) != 1 {
		t.Fatalf("expected 1 result (only cam1 qualifies), got %d: %+v", len(results), results)
	}
	if results[0].CameraID != "cam1" {
		t.Errorf("CameraID = %q, want cam1", results[0].CameraID)
	}
}

func TestStopAllRecordingsNoWorkersDoesNotEscalate(t *testing.T) {
	k := newTestKernel(t, nil)
	res := k.StopAllRecordings(context.Background())
	if res.Escalated {
		t.Error("no tracked recordings should never trigger the escalation cascade")
	}
	if res.WorkersLeft != 0 {
		t.Errorf("WorkersLeft = %d, want 0", res.WorkersLeft)
	}
	if len(res.Results) != 0 {
		t.Errorf("expected no per-camera results, got %+v", res.Results)
	}
}

func TestStatusReportsDeclaredCamerasWithNoRunningWorkers(t *testing.T) {
	recs := []camera.Record{
		{ID: "cam1", Name: "Front Door", RTSPURL: "rtsp://x/1", Enabled: boolPtr(true), AutoRecord: boolPtr(true)},
	}
	k := newTestKernel(t, recs)

	snaps := k.Status()
	if len(snaps) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(snaps))
	}
	snap := snaps[0]
	if snap.ID != "cam1" || snap.Name != "Front Door" {
		t.Errorf("unexpected snapshot identity: %+v", snap)
	}
	if snap.StreamRunning || snap.RecordRunning {
		t.Error("neither worker was started, both should report not-running")
	}
}

func TestServicesOmitsCamerasWithNoRunningWorker(t *testing.T) {
	recs := []camera.Record{
		{ID: "cam1", Name: "Front Door", RTSPURL: "rtsp://x/1", Enabled: boolPtr(true), AutoRecord: boolPtr(true)},
	}
	k := newTestKernel(t, recs)

	services := k.Services()
	if len(services) != 0 {
		t.Errorf("expected no service entries when nothing is running, got %+v", services)
	}
}

func boolPtr(b bool) *bool { return &b }
