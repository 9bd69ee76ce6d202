// SPDX-License-Identifier: MIT

package record

import (
	"context"
	"io"
	"time"

	"github.com/tomtom215/camkernel/internal/transcoder"
)

// transcoderChild mirrors internal/stream's narrowing of
// *transcoder.Child down to what a worker actually calls.
type transcoderChild interface {
	Wait() error
	Stderr() string
}

// transcoderDriver is the subset of *transcoder.Driver the Recording
// Supervisor calls, narrowed to an interface for fake substitution in
// tests (same rationale as internal/stream's transcoderDriver).
type transcoderDriver interface {
	ProbeReachable(ctx context.Context, rtspURL string, timeout time.Duration) (bool, string)
	ProbeAudio(ctx context.Context, rtspURL string) bool
	ProbeHLS(ctx context.Context, playlistURL string) bool
	Spawn(ctx context.Context, argv []string, logSink io.Writer, highPriority bool) (transcoderChild, error)
	Terminate(child transcoderChild, timeout time.Duration) error
	Finalize(ctx context.Context, path string) error
}

type driverAdapter struct {
	d *transcoder.Driver
}

// NewTranscoderAdapter builds the record package's Driver view over a
// concrete transcoder.Driver.
func NewTranscoderAdapter(d *transcoder.Driver) *driverAdapter {
	return &driverAdapter{d: d}
}

func (a *driverAdapter) ProbeReachable(ctx context.Context, rtspURL string, timeout time.Duration) (bool, string) {
	return a.d.ProbeReachable(ctx, rtspURL, timeout)
}

func (a *driverAdapter) ProbeAudio(ctx context.Context, rtspURL string) bool {
	return a.d.ProbeAudio(ctx, rtspURL)
}

func (a *driverAdapter) ProbeHLS(ctx context.Context, playlistURL string) bool {
	return a.d.ProbeHLS(ctx, playlistURL)
}

func (a *driverAdapter) Spawn(ctx context.Context, argv []string, logSink io.Writer, highPriority bool) (transcoderChild, error) {
	return a.d.Spawn(ctx, argv, logSink, highPriority)
}

func (a *driverAdapter) Terminate(child transcoderChild, timeout time.Duration) error {
	c, ok := child.(*transcoder.Child)
	if !ok {
		return nil
	}
	return a.d.Terminate(c, timeout)
}

func (a *driverAdapter) Finalize(ctx context.Context, path string) error {
	return a.d.Finalize(ctx, path)
}
