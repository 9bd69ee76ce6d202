// SPDX-License-Identifier: MIT

// Package diagnostics runs preflight health checks against a camkernel
// deployment: external tool availability, the camera declaration file,
// directory roots, host resource headroom, and per-camera RTSP
// reachability.
package diagnostics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/camkernel/internal/camera"
	"github.com/tomtom215/camkernel/internal/config"
	"github.com/tomtom215/camkernel/internal/fsutil"
	"github.com/tomtom215/camkernel/internal/transcoder"
)

// CheckResult is the outcome of a single diagnostic check.
type CheckResult struct {
	Name        string        `json:"name"`
	Category    string        `json:"category"`
	Status      CheckStatus   `json:"status"`
	Message     string        `json:"message"`
	Details     string        `json:"details,omitempty"`
	Duration    time.Duration `json:"duration"`
	Suggestions []string      `json:"suggestions,omitempty"`
}

// CheckStatus classifies a CheckResult.
type CheckStatus string

const (
	StatusOK       CheckStatus = "OK"
	StatusWarning  CheckStatus = "WARNING"
	StatusCritical CheckStatus = "CRITICAL"
	StatusError    CheckStatus = "ERROR"
)

// Report aggregates every check run in a single pass.
type Report struct {
	Timestamp  time.Time     `json:"timestamp"`
	Duration   time.Duration `json:"duration"`
	SystemInfo *SystemInfo   `json:"system_info"`
	Checks     []CheckResult `json:"checks"`
	Summary    *Summary      `json:"summary"`
	Healthy    bool          `json:"healthy"`
}

// SystemInfo is host information printed alongside the report.
type SystemInfo struct {
	Hostname     string `json:"hostname"`
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
	CPUs         int    `json:"cpus"`
	Memory       int64  `json:"memory_bytes"`
	Uptime       string `json:"uptime"`
	GoVersion    string `json:"go_version"`
}

// Summary tallies check results by status.
type Summary struct {
	Total    int `json:"total"`
	OK       int `json:"ok"`
	Warning  int `json:"warning"`
	Critical int `json:"critical"`
	Error    int `json:"error"`
}

// Thresholds mirror the percentages a deployed fleet is expected to stay
// under; these are not configurable via camkernel's own config file since
// they describe host health rather than fleet policy.
const (
	DiskUsageCriticalPercent = 95
	DiskUsageWarningPercent  = 85
	FDUsageCriticalPercent   = 80
	FDUsageWarningPercent    = 50
	MemoryUsageCriticalPercent = 90
	MemoryUsageWarningPercent  = 75
)

// Runner executes the camera-fleet diagnostic checks against a loaded
// Config and camera Registry.
type Runner struct {
	cfg      *config.Config
	registry *camera.Registry
	driver   *transcoder.Driver
	probeRTSP bool
}

// NewRunner builds a Runner. probeRTSP controls whether each declared
// camera's RTSP URL is dialed; callers running against an offline fleet
// (e.g. during initial setup) should pass false.
func NewRunner(cfg *config.Config, registry *camera.Registry, probeRTSP bool) *Runner {
	return &Runner{
		cfg:       cfg,
		registry:  registry,
		driver:    transcoder.NewDriver(cfg.Transcoder.FFmpegPath, cfg.Transcoder.FFprobePath),
		probeRTSP: probeRTSP,
	}
}

// Run executes every check in order and returns the aggregate report.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{
		Timestamp:  start,
		SystemInfo: collectSystemInfo(),
		Summary:    &Summary{},
	}

	checks := []func(context.Context) CheckResult{
		r.checkTranscoderBinaries,
		r.checkCameraDeclarationFile,
		r.checkRoots,
		r.checkDiskSpace,
		r.checkFileDescriptors,
		r.checkMemory,
		r.checkTimeSync,
		r.checkCameraReachability,
	}

	for _, check := range checks {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
		}
		result := check(ctx)
		report.Checks = append(report.Checks, result)
		report.Summary.Total++
		switch result.Status {
		case StatusOK:
			report.Summary.OK++
		case StatusWarning:
			report.Summary.Warning++
		case StatusCritical:
			report.Summary.Critical++
		case StatusError:
			report.Summary.Error++
		}
	}

	report.Duration = time.Since(start)
	report.Healthy = report.Summary.Critical == 0 && report.Summary.Error == 0
	return report, nil
}

func collectSystemInfo() *SystemInfo {
	info := &SystemInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		CPUs:         runtime.NumCPU(),
		GoVersion:    runtime.Version(),
	}
	if h, err := os.Hostname(); err == nil {
		info.Hostname = h
	}
	if data, err := os.ReadFile("/proc/meminfo"); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if strings.HasPrefix(line, "MemTotal:") {
				fields := strings.Fields(line)
				if len(fields) >= 2 {
					if kb, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
						info.Memory = kb * 1024
					}
				}
				break
			}
		}
	}
	if data, err := os.ReadFile("/proc/uptime"); err == nil {
		fields := strings.Fields(string(data))
		if len(fields) >= 1 {
			if secs, err := strconv.ParseFloat(fields[0], 64); err == nil {
				info.Uptime = formatDuration(time.Duration(secs) * time.Second)
			}
		}
	}
	return info
}

func (r *Runner) checkTranscoderBinaries(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "Transcoder Binaries", Category: "Tools"}

	var missing []string
	for _, path := range []string{r.cfg.Transcoder.FFmpegPath, r.cfg.Transcoder.FFprobePath} {
		if !lookPathOK(path) {
			missing = append(missing, path)
		}
	}
	if len(missing) > 0 {
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("missing required tools: %s", strings.Join(missing, ", "))
		result.Suggestions = append(result.Suggestions, "install ffmpeg/ffprobe or correct transcoder.ffmpeg_path/ffprobe_path")
	} else {
		result.Status = StatusOK
		result.Message = "ffmpeg and ffprobe are on PATH"
	}
	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkCameraDeclarationFile(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "Camera Declaration File", Category: "Config"}

	records, err := r.registry.Load(true)
	if err != nil {
		result.Status = StatusCritical
		result.Message = "failed to parse camera declaration file"
		result.Details = err.Error()
		result.Duration = time.Since(start)
		return result
	}
	if len(records) == 0 {
		result.Status = StatusWarning
		result.Message = "camera declaration file has no entries"
		result.Suggestions = append(result.Suggestions, "add a camera with camkernel-wizard")
	} else {
		result.Status = StatusOK
		result.Message = fmt.Sprintf("%d camera(s) declared", len(records))
	}
	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkRoots(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "Directory Roots", Category: "Config"}

	roots := []string{r.cfg.Roots.Base, r.cfg.Roots.TmpRoot, r.cfg.Roots.RecordRoot, r.cfg.Roots.BackupRoot, r.cfg.Roots.LockDir}
	var bad []string
	for _, dir := range roots {
		if err := fsutil.EnsureDir(dir); err != nil {
			bad = append(bad, dir)
		}
	}
	if len(bad) > 0 {
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("unwritable root(s): %s", strings.Join(bad, ", "))
	} else {
		result.Status = StatusOK
		result.Message = "all roots exist and are writable"
	}
	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkDiskSpace(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "Disk Space", Category: "Resources"}

	ok, err := fsutil.CheckDiskSpace(r.cfg.Roots.RecordRoot, r.cfg.Recording.MinDiskSpaceGB)
	if err != nil {
		result.Status = StatusError
		result.Message = "failed to check disk space"
		result.Details = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	free, _ := fsutil.FreeBytes(r.cfg.Roots.RecordRoot)
	total, _ := fsutil.TotalBytes(r.cfg.Roots.RecordRoot)
	var usedPercent float64
	if total > 0 {
		usedPercent = 100.0 - (float64(free)/float64(total))*100.0
	}

	switch {
	case !ok:
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("below the configured %.1f GiB floor (%s free)", r.cfg.Recording.MinDiskSpaceGB, formatBytes(int64(free)))
		result.Suggestions = append(result.Suggestions, "prune archives or grow the volume")
	case usedPercent > DiskUsageCriticalPercent:
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("disk usage critical: %.1f%%", usedPercent)
	case usedPercent > DiskUsageWarningPercent:
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("disk usage high: %.1f%%", usedPercent)
	default:
		result.Status = StatusOK
		result.Message = fmt.Sprintf("disk usage %.1f%% (%s free)", usedPercent, formatBytes(int64(free)))
	}
	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkFileDescriptors(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "File Descriptors", Category: "Resources"}

	data, err := os.ReadFile("/proc/sys/fs/file-nr")
	if err != nil {
		result.Status = StatusError
		result.Message = "failed to read file descriptor info"
		result.Duration = time.Since(start)
		return result
	}
	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		result.Status = StatusError
		result.Message = "unexpected file-nr format"
		result.Duration = time.Since(start)
		return result
	}
	used, _ := strconv.ParseInt(fields[0], 10, 64)
	max, _ := strconv.ParseInt(fields[2], 10, 64)
	var usedPercent float64
	if max > 0 {
		usedPercent = float64(used) / float64(max) * 100
	}

	switch {
	case usedPercent > FDUsageCriticalPercent:
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("fd usage critical: %.1f%% (%d/%d)", usedPercent, used, max)
	case usedPercent > FDUsageWarningPercent:
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("fd usage elevated: %.1f%% (%d/%d)", usedPercent, used, max)
	default:
		result.Status = StatusOK
		result.Message = fmt.Sprintf("fd usage normal: %.1f%% (%d/%d)", usedPercent, used, max)
	}
	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkMemory(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "Memory", Category: "Resources"}

	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		result.Status = StatusError
		result.Message = "failed to read memory info"
		result.Duration = time.Since(start)
		return result
	}
	var total, available int64
	for _, line := range strings.Split(string(data), "\n") {
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			if f := strings.Fields(line); len(f) >= 2 {
				total, _ = strconv.ParseInt(f[1], 10, 64)
				total *= 1024
			}
		case strings.HasPrefix(line, "MemAvailable:"):
			if f := strings.Fields(line); len(f) >= 2 {
				available, _ = strconv.ParseInt(f[1], 10, 64)
				available *= 1024
			}
		}
	}
	var usedPercent float64
	if total > 0 {
		usedPercent = 100.0 - (float64(available)/float64(total))*100.0
	}

	switch {
	case usedPercent > MemoryUsageCriticalPercent:
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("memory usage critical: %.1f%%", usedPercent)
	case usedPercent > MemoryUsageWarningPercent:
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("memory usage elevated: %.1f%%", usedPercent)
	default:
		result.Status = StatusOK
		result.Message = fmt.Sprintf("memory usage %.1f%% (%s available)", usedPercent, formatBytes(available))
	}
	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkTimeSync(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "Time Sync", Category: "System"}

	synced, msg := checkNTPSync(ctx)
	if synced {
		result.Status = StatusOK
		result.Message = "system clock is NTP-synchronized"
	} else {
		result.Status = StatusWarning
		result.Message = msg
		result.Suggestions = append(result.Suggestions, "archive filenames encode local time; an unsynced clock can misorder or collide archives across a restart")
	}
	result.Duration = time.Since(start)
	return result
}

// checkCameraReachability probes every enabled camera's RTSP URL with
// transcoder.Driver.ProbeReachable (spec.md §4.A); disabled cameras are
// skipped.
func (r *Runner) checkCameraReachability(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "Camera Reachability", Category: "Network"}

	if !r.probeRTSP {
		result.Status = StatusOK
		result.Message = "skipped (probe disabled)"
		result.Duration = time.Since(start)
		return result
	}

	records, err := r.registry.Load(false)
	if err != nil {
		result.Status = StatusError
		result.Message = "could not read camera declaration file"
		result.Duration = time.Since(start)
		return result
	}

	var unreachable []string
	for _, rec := range records {
		if !rec.IsEnabled() {
			continue
		}
		if ok, _ := r.driver.ProbeReachable(ctx, rec.RTSPURL, 2*time.Second); !ok {
			unreachable = append(unreachable, rec.ID)
		}
	}

	switch {
	case len(unreachable) == 0:
		result.Status = StatusOK
		result.Message = "all enabled cameras are reachable"
	case len(unreachable) == len(records):
		result.Status = StatusCritical
		result.Message = "no enabled camera is reachable"
	default:
		result.Status = StatusWarning
		result.Message = fmt.Sprintf("unreachable: %s", strings.Join(unreachable, ", "))
	}
	result.Duration = time.Since(start)
	return result
}

func lookPathOK(path string) bool {
	if strings.Contains(path, "/") {
		_, err := os.Stat(path)
		return err == nil
	}
	_, err := exec.LookPath(path)
	return err == nil
}

// checkNTPSync reports whether the host clock is NTP-synchronized, via
// timedatectl; when timedatectl cannot be run it reports synced.
func checkNTPSync(ctx context.Context) (synced bool, message string) {
	out, err := exec.CommandContext(ctx, "timedatectl", "show", "-p", "NTPSynchronized", "--value").Output() // #nosec G204 -- fixed argv, no user input
	if err != nil {
		return true, "timedatectl unavailable; assuming synced"
	}
	if strings.TrimSpace(string(out)) == "yes" {
		return true, ""
	}
	return false, "system clock is not NTP-synchronized"
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// PrintReport writes a human-readable rendering of report to w.
func PrintReport(w io.Writer, report *Report) {
	_, _ = fmt.Fprintf(w, "camkernel preflight diagnostics\n================================\n\n")
	_, _ = fmt.Fprintf(w, "Host: %s (%s/%s, %d cpus)\n", report.SystemInfo.Hostname, report.SystemInfo.OS, report.SystemInfo.Architecture, report.SystemInfo.CPUs)
	_, _ = fmt.Fprintf(w, "Uptime: %s\n", report.SystemInfo.Uptime)
	_, _ = fmt.Fprintf(w, "Time: %s\n\n", report.Timestamp.Format(time.RFC3339))

	categories := make(map[string][]CheckResult)
	var order []string
	for _, c := range report.Checks {
		if _, seen := categories[c.Category]; !seen {
			order = append(order, c.Category)
		}
		categories[c.Category] = append(categories[c.Category], c)
	}

	for _, category := range order {
		_, _ = fmt.Fprintf(w, "%s\n%s\n", category, strings.Repeat("-", len(category)))
		for _, check := range categories[category] {
			status := "OK"
			switch check.Status {
			case StatusWarning:
				status = "WARN"
			case StatusCritical:
				status = "CRIT"
			case StatusError:
				status = "ERR "
			}
			_, _ = fmt.Fprintf(w, "[%s] %s: %s\n", status, check.Name, check.Message)
			if check.Details != "" {
				_, _ = fmt.Fprintf(w, "     %s\n", check.Details)
			}
			for _, s := range check.Suggestions {
				_, _ = fmt.Fprintf(w, "     -> %s\n", s)
			}
		}
		_, _ = fmt.Fprintln(w)
	}

	_, _ = fmt.Fprintf(w, "Summary: total %d, ok %d, warning %d, critical %d, error %d\n",
		report.Summary.Total, report.Summary.OK, report.Summary.Warning, report.Summary.Critical, report.Summary.Error)
	if report.Healthy {
		_, _ = fmt.Fprintln(w, "Status: HEALTHY")
	} else {
		_, _ = fmt.Fprintln(w, "Status: ISSUES DETECTED")
	}
}

// ToJSON renders the report as indented JSON.
func (r *Report) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// rtspHostPort returns the host[:port] part of an RTSP URL; kept local to
// avoid exporting a second parser from the transcoder package. Nothing in
// this package calls it.
func rtspHostPort(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	return u.Host, nil
}
