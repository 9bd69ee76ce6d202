// SPDX-License-Identifier: MIT

// Package kernel implements the Kernel Facade (spec.md §4.F): it
// aggregates operations across the Stream and Recording Supervisors,
// exposing per-camera and bulk start/stop/restart/status operations and
// owning the shared lifecycle (the crash-sweep and janitor background
// services run for as long as the Facade does).
//
// Every operation returns a structured result rather than propagating a
// bare error to the caller, matching spec.md §4.F's "partial failures
// are reported, never thrown through to the caller".
package kernel

import (
	"context"
	"log/slog"

	"github.com/tomtom215/camkernel/internal/camera"
	"github.com/tomtom215/camkernel/internal/health"
	"github.com/tomtom215/camkernel/internal/record"
	"github.com/tomtom215/camkernel/internal/stream"
	"github.com/tomtom215/camkernel/internal/transcoder"
)

// Registry is the subset of *camera.Registry the Facade depends on.
type Registry interface {
	ByID(id string) (camera.Record, bool)
	Sorted() []camera.Record
}

// Driver is the subset of *transcoder.Driver the Facade calls directly
// (the rest is reached through the two supervisors).
type Driver interface {
	KillAllTranscoders() error
}

// Kernel is the Facade. It is constructed with already-built supervisors
// so the caller (cmd/camkernel) controls their configuration.
type Kernel struct {
	registry Registry
	driver   Driver
	streams  *stream.Supervisor
	records  *record.Supervisor
	logger   *slog.Logger
}

// New builds a Kernel Facade over an already-configured registry, driver,
// and pair of supervisors.
func New(registry Registry, driver *transcoder.Driver, streams *stream.Supervisor, records *record.Supervisor, logger *slog.Logger) *Kernel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Kernel{registry: registry, driver: driver, streams: streams, records: records, logger: logger}
}

// Result is the structured outcome of a per-camera operation.
type Result struct {
	CameraID string
	OK       bool
	Error    string
}

func ok(id string) Result { return Result{CameraID: id, OK: true} }

func failed(id string, err error) Result {
	return Result{CameraID: id, OK: false, Error: err.Error()}
}

// StartStream starts id's HLS stream worker (spec.md §4.F start_stream).
func (k *Kernel) StartStream(id string) Result {
	rec, exists := k.registry.ByID(id)
	if !exists {
		return failed(id, errUnknownCamera(id))
	}
	if err := k.streams.Start(rec.ID, rec.RTSPURL); err != nil {
		return failed(id, err)
	}
	return ok(id)
}

// StartRecording starts id's recording worker (spec.md §4.F
// start_recording).
func (k *Kernel) StartRecording(ctx context.Context, id string) Result {
	rec, exists := k.registry.ByID(id)
	if !exists {
		return failed(id, errUnknownCamera(id))
	}
	if err := k.records.Start(ctx, rec.ID, rec.RTSPURL); err != nil {
		return failed(id, err)
	}
	return ok(id)
}

// StopRecording stops id's recording worker (spec.md §4.F
// stop_recording).
func (k *Kernel) StopRecording(ctx context.Context, id string) Result {
	if err := k.records.Stop(ctx, id); err != nil {
		return failed(id, err)
	}
	return ok(id)
}

// RestartStream restarts id's stream worker (spec.md §4.F
// restart_stream).
func (k *Kernel) RestartStream(id string) Result {
	rec, exists := k.registry.ByID(id)
	if !exists {
		return failed(id, errUnknownCamera(id))
	}
	if err := k.streams.Restart(rec.ID, rec.RTSPURL); err != nil {
		return failed(id, err)
	}
	return ok(id)
}

// StartAllRecordings starts recording for every declared camera whose
// auto_record flag is set (spec.md §4.F start_all_recordings).
func (k *Kernel) StartAllRecordings(ctx context.Context) []Result {
	var results []Result
	for _, rec := range k.registry.Sorted() {
		if !rec.IsEnabled() || !rec.IsAutoRecord() {
			continue
		}
		results = append(results, k.StartRecording(ctx, rec.ID))
	}
	return results
}

// BulkStopResult is the outcome of StopAllRecordings. Escalated reports
// whether the normal stop pass failed for some camera or left a worker
// tracked; the escalation cascade itself runs either way.
type BulkStopResult struct {
	Results     []Result
	Escalated   bool
	WorkersLeft int
}

// StopAllRecordings is idempotent and, after its normal pass, runs the
// escalation cascade spec.md §4.F describes: per-child terminate (the
// normal Stop pass) → scorched-earth transcoder kill
// (driver.KillAllTranscoders) → OS-level tree-kill of any remaining
// transcoder by image name (already performed inside KillAllTranscoders
// via killMatching) → assert the worker map is empty.
//
// record.Supervisor.Stop removes a camera's map entry before it finishes
// stopping that camera's child (so the child can be re-started even if
// the stop itself is still in flight), which means TrackedIDs is never a
// reliable signal that every transcoder actually exited. The escalation
// cascade therefore always runs after the normal pass rather than being
// gated on worker-map membership — it is cheap and idempotent when
// nothing survived, and it is the only way to guarantee the "no
// transcoder processes remain" property when a child ignored its
// terminate sequence.
func (k *Kernel) StopAllRecordings(ctx context.Context) BulkStopResult {
	ids := k.records.TrackedIDs()

	var results []Result
	failed := false
	for _, id := range ids {
		res := k.StopRecording(ctx, id)
		if !res.OK {
			failed = true
		}
		results = append(results, res)
	}

	if err := k.driver.KillAllTranscoders(); err != nil {
		k.logger.Error("kernel: scorched-earth kill failed", "error", err)
	}

	remaining := k.records.TrackedIDs()
	for _, id := range remaining {
		_ = k.records.Stop(ctx, id)
	}

	return BulkStopResult{
		Results:     results,
		Escalated:   failed || len(remaining) > 0,
		WorkersLeft: len(k.records.TrackedIDs()),
	}
}

// errUnknownCamera formats the "id not found in the declaration file"
// failure mode uniformly across operations.
func errUnknownCamera(id string) error {
	return &unknownCameraError{id: id}
}

type unknownCameraError struct{ id string }

func (e *unknownCameraError) Error() string {
	return "unknown camera id: " + e.id
}

// CameraSnapshot is one camera's aggregated status, combining its
// declaration, stream worker, and recording worker state (spec.md §4.F
// status()).
type CameraSnapshot struct {
	ID            string
	Name          string
	Enabled       bool
	AutoRecord    bool
	StreamStatus  string
	StreamRetries int
	StreamRunning bool
	RecordStatus  string
	RecordSource  string
	RecordArchive string
	RecordRunning bool
}

// Status aggregates every declared camera's state (spec.md §4.F
// status()).
func (k *Kernel) Status() []CameraSnapshot {
	var out []CameraSnapshot
	for _, rec := range k.registry.Sorted() {
		snap := CameraSnapshot{ID: rec.ID, Name: rec.Name, Enabled: rec.IsEnabled(), AutoRecord: rec.IsAutoRecord()}

		if st, _, ok := k.streams.Status(rec.ID); ok {
			snap.StreamRunning = true
			snap.StreamStatus = st.String()
			if n, ok := k.streams.RetryCount(rec.ID); ok {
				snap.StreamRetries = n
			}
		}

		if st, src, path, _, ok := k.records.Status(rec.ID); ok {
			snap.RecordRunning = true
			snap.RecordStatus = st.String()
			snap.RecordSource = src.String()
			snap.RecordArchive = path
		}

		out = append(out, snap)
	}
	return out
}

// Services implements health.StatusProvider, translating the aggregated
// camera snapshot into the generic per-worker service list the health
// endpoint renders.
func (k *Kernel) Services() []health.ServiceInfo {
	var out []health.ServiceInfo
	for _, snap := range k.Status() {
		if snap.StreamRunning {
			out = append(out, health.ServiceInfo{
				Name:     snap.ID + ":stream",
				State:    snap.StreamStatus,
				Healthy:  snap.StreamStatus == "streaming" || snap.StreamStatus == "connected",
				Restarts: snap.StreamRetries,
			})
		}
		if snap.RecordRunning {
			out = append(out, health.ServiceInfo{
				Name:    snap.ID + ":record",
				State:   snap.RecordStatus,
				Healthy: snap.RecordStatus == "recording",
			})
		}
	}
	return out
}
