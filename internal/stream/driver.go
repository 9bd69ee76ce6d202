// SPDX-License-Identifier: MIT

package stream

import (
	"context"
	"io"
	"time"

	"github.com/tomtom215/camkernel/internal/transcoder"
)

// transcoderChild is the subset of *transcoder.Child a stream worker
// needs; expressed as an interface so tests can substitute a fake
// without spawning a real process.
type transcoderChild interface {
	Wait() error
	Stderr() string
}

// transcoderDriver is the subset of *transcoder.Driver a stream worker
// calls. Narrowing it to an interface here (rather than depending on
// the concrete type directly) is what lets worker_test.go exercise the
// state machine with a fake.
type transcoderDriver interface {
	ProbeReachable(ctx context.Context, rtspURL string, timeout time.Duration) (bool, string)
	Spawn(ctx context.Context, argv []string, logSink io.Writer, highPriority bool) (transcoderChild, error)
	Terminate(child transcoderChild, timeout time.Duration) error
	KillAll(tmpRoot, cameraID string) error
}

// driverAdapter wraps a *transcoder.Driver so it satisfies
// transcoderDriver; transcoder.Driver can't implement the interface
// directly since Go requires exact method signatures and Spawn/
// Terminate there traffic in the concrete *transcoder.Child.
type driverAdapter struct {
	d *transcoder.Driver
}

// NewTranscoderAdapter builds the stream package's Driver view over a
// concrete transcoder.Driver.
func NewTranscoderAdapter(d *transcoder.Driver) *driverAdapter {
	return &driverAdapter{d: d}
}

func (a *driverAdapter) ProbeReachable(ctx context.Context, rtspURL string, timeout time.Duration) (bool, string) {
	return a.d.ProbeReachable(ctx, rtspURL, timeout)
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

func (a *driverAdapter) KillAll(tmpRoot, cameraID string) error {
	return a.d.KillAll(tmpRoot, cameraID)
}
