// SPDX-License-Identifier: MIT

//go:build windows

package transcoder

import (
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/windows"
)

// applyPlatformAttrs sets the hidden-console creation flag required on
// Windows (spec.md §4.A, "on platforms with a hidden-console spawn flag
// it MUST be used"), matching ffmpeg_utils.py:start_ffmpeg_process's
// CREATE_NO_WINDOW branch.
func applyPlatformAttrs(cmd *exec.Cmd, highPriority bool) {
	flags := uint32(windows.CREATE_NO_WINDOW)
	if highPriority {
		flags |= windows.HIGH_PRIORITY_CLASS
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: flags}
}

// applyPriority is a no-op on Windows: the priority class is set at
// spawn time via CreationFlags in applyPlatformAttrs, matching the
// original's separate HIGH_PRIORITY_CLASS branch for os.name == 'nt'.
func applyPriority(pid int) {}

func sendTerminate(cmd *exec.Cmd) error {
	// Windows has no SIGTERM; Terminate's stdin 'q' write is the graceful
	// path here, so this directly escalates to process termination.
	return cmd.Process.Kill()
}

func sendKill(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

// killTree invokes the platform task-kill on the process tree rooted at
// pid (spec.md §4.A, "on Windows, invoke the platform task-kill on the
// tree"), matching ffmpeg_utils.py:terminate_process's taskkill fallback.
func killTree(pid int) {
	cmd := exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(pid))
	_ = cmd.Run()
}

// killMatching enumerates running processes via tasklist and terminates
// those whose image name matches ffmpegPath's basename and whose command
// line (read via WMI-free tasklist /V output) satisfies match.
//
// Grounded on ffmpeg_utils.py:kill_ffmpeg_processes's psutil-based
// enumeration, reimplemented against the platform's own process listing
// tool since the corpus has no Windows-side process enumeration library
// and gopsutil was not otherwise justified (see DESIGN.md).
func killMatching(ffmpegPath string, match func(cmdline string) bool) error {
	out, err := exec.Command("tasklist", "/FO", "CSV", "/V").Output()
	if err != nil {
		return err
	}
	for _, line := range splitCSVLines(string(out)) {
		pid, cmdline, ok := parseTasklistLine(line)
		if !ok || !match(cmdline) {
			continue
		}
		_ = exec.Command("taskkill", "/PID", strconv.Itoa(pid)).Run()
		time.Sleep(2 * time.Second)
		killTree(pid)
	}
	return nil
}
