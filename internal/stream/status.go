// SPDX-License-Identifier: MIT

// Package stream implements the Stream Supervisor (spec.md §4.D): one
// worker per camera that keeps an HLS-producing transcoder child alive,
// watches the playlist for freshness, and restarts on stall or exit
// under a linear-capped backoff.
package stream

import "fmt"

// Status is a stream worker's position in the spec.md §4.D state
// machine.
type Status int

const (
	StatusInitializing Status = iota
	StatusConnected
	StatusConnectionFailed
	StatusStreaming
	StatusStalled
	StatusRestarting
	StatusProcessDied
	StatusError
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusInitializing:
		return "initializing"
	case StatusConnected:
		return "connected"
	case StatusConnectionFailed:
		return "connection_failed"
	case StatusStreaming:
		return "streaming"
	case StatusStalled:
		return "stalled"
	case StatusRestarting:
		return "restarting"
	case StatusProcessDied:
		return "process_died"
	case StatusError:
		return "error"
	case StatusStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}
