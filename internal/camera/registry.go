// SPDX-License-Identifier: MIT

// Package camera implements the Camera Registry: it loads, caches, and
// watches the camera declaration file and resolves camera ids to records.
//
// Grounded on the original surveillance-camera-system's camera_utils.py
// (read_config/write_config/monitor_config_changes), restructured as an
// instance rather than module-level globals per the "global mutable maps
// collapsed into objects" design note.
package camera

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// CheckInterval is the cache validity window and the background monitor's
// poll cadence (spec.md §4.C).
const CheckInterval = 60 * time.Second

// Record is one camera declaration (spec.md §3).
type Record struct {
	ID         string
	Name       string
	RTSPURL    string
	Enabled    *bool
	AutoRecord *bool
}

// IsEnabled reports the enabled flag, defaulting to true when unset —
// a camera with no enabled column is assumed active.
func (r Record) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// IsAutoRecord reports the auto_record flag, defaulting to false when unset.
func (r Record) IsAutoRecord() bool {
	return r.AutoRecord != nil && *r.AutoRecord
}

// line renders the record in the declaration file's comma-separated grammar.
func (r Record) line() string {
	fields := []string{r.ID, r.Name, r.RTSPURL}
	if r.Enabled != nil || r.AutoRecord != nil {
		fields = append(fields, boolField(r.Enabled))
	}
	if r.AutoRecord != nil {
		fields = append(fields, boolField(r.AutoRecord))
	}
	return strings.Join(fields, ",")
}

func boolField(b *bool) string {
	if b != nil && *b {
		return "1"
	}
	return "0"
}

// Registry owns the cached, mutex-guarded view of the declaration file.
type Registry struct {
	path   string
	logger *slog.Logger

	mu           sync.Mutex
	records      []Record
	byID         map[string]Record
	lastLoadTime time.Time
	lastModTime  time.Time
	loaded       bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger overrides the registry's logger (default: slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates a Registry backed by the declaration file at path.
// The file is not read until the first Load call.
func NewRegistry(path string, opts ...Option) *Registry {
	r := &Registry{
		path:   path,
		logger: slog.Default(),
		byID:   make(map[string]Record),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load returns the current camera records, reloading from disk if the
// cache is stale or forceReload is set. Reads under a valid cache do not
// enter the critical section beyond the initial mutex acquisition,
// matching spec.md §4.C's "reads under a valid cache do not enter it" —
// here implemented as a fast path inside the same lock rather than a
// separate read lock, since parsing only happens on a cache miss.
func (r *Registry) Load(forceReload bool) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !forceReload && r.loaded && time.Since(r.lastLoadTime) < CheckInterval {
		if mt, err := modTime(r.path); err == nil && mt.Equal(r.lastModTime) {
			return r.records, nil
		}
	}

	records, mt, err := r.parse()
	if err != nil {
		return nil, err
	}

	r.records = records
	r.byID = make(map[string]Record, len(records))
	for _, rec := range records {
		r.byID[rec.ID] = rec
	}
	r.lastLoadTime = time.Now()
	r.lastModTime = mt
	r.loaded = true

	return r.records, nil
}

func modTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// parse reads and validates the declaration file, per spec.md §4.C.
func (r *Registry) parse() ([]Record, time.Time, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("camera registry: open %s: %w", r.path, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("camera registry: stat %s: %w", r.path, err)
	}

	var records []Record
	seen := make(map[string]int)

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, ",")
		if len(parts) < 3 {
			r.logger.Warn("camera registry: invalid format", "file", r.path, "line", lineNo)
			continue
		}

		id := strings.TrimSpace(parts[0])
		name := strings.TrimSpace(parts[1])
		url := strings.TrimSpace(parts[2])

		if id == "" || name == "" {
			r.logger.Warn("camera registry: missing id or name", "file", r.path, "line", lineNo)
			continue
		}
		if url == "" {
			r.logger.Warn("camera registry: empty rtsp url", "file", r.path, "line", lineNo)
			continue
		}
		if !validID(id) {
			r.logger.Warn("camera registry: invalid camera id", "file", r.path, "line", lineNo, "id", id)
			continue
		}
		if prev, dup := seen[id]; dup {
			r.logger.Warn("camera registry: duplicate camera id", "file", r.path, "line", lineNo, "id", id, "first_seen_line", prev)
			continue
		}
		seen[id] = lineNo

		rec := Record{ID: id, Name: name, RTSPURL: url}
		if len(parts) > 3 && strings.TrimSpace(parts[3]) != "" {
			v := truthy(parts[3])
			rec.Enabled = &v
		}
		if len(parts) > 4 && strings.TrimSpace(parts[4]) != "" {
			v := truthy(parts[4])
			rec.AutoRecord = &v
		}

		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, time.Time{}, fmt.Errorf("camera registry: read %s: %w", r.path, err)
	}

	return records, info.ModTime(), nil
}

// ByID resolves a camera id to its record using the cached view.
func (r *Registry) ByID(id string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	return rec, ok
}

// Names returns an id→name map from the cached view.
func (r *Registry) Names() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.byID))
	for id, rec := range r.byID {
		out[id] = rec.Name
	}
	return out
}

// Write persists records to the declaration file: a .bak sibling is made
// of any existing file first, then the file is overwritten, then the
// cache is invalidated so the next Load re-parses (spec.md §4.C).
func (r *Registry) Write(records []Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make(map[string]bool, len(records))
	for _, rec := range records {
		if ids[rec.ID] {
			return fmt.Errorf("camera registry: duplicate camera id %q in write set", rec.ID)
		}
		ids[rec.ID] = true
	}

	if existing, err := os.ReadFile(r.path); err == nil {
		if err := os.WriteFile(r.path+".bak", existing, 0o644); err != nil {
			return fmt.Errorf("camera registry: backup %s: %w", r.path, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("camera registry: read existing %s: %w", r.path, err)
	}

	var sb strings.Builder
	sb.WriteString("# camera declaration file\n")
	sb.WriteString("# id,name,rtsp_url,enabled,auto_record\n")
	sb.WriteString(fmt.Sprintf("# written %s\n", time.Now().Format(time.RFC3339)))
	for _, rec := range records {
		sb.WriteString(rec.line())
		sb.WriteString("\n")
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("camera registry: create dir for %s: %w", r.path, err)
	}
	if err := os.WriteFile(r.path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("camera registry: write %s: %w", r.path, err)
	}

	r.loaded = false
	return nil
}

// WatchChanges runs a background loop that polls the declaration file's
// mtime on CheckInterval and invokes onChange after a reload whenever the
// mtime shifts (spec.md §4.C, "background change monitor"). It blocks
// until ctx is cancelled; cmd/camkernel runs it as a kernelsup service.
func (r *Registry) WatchChanges(ctx context.Context, onChange func([]Record)) {
	ticker := time.NewTicker(CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mt, err := modTime(r.path)
			if err != nil {
				continue
			}
			r.mu.Lock()
			changed := !mt.Equal(r.lastModTime)
			r.mu.Unlock()
			if !changed {
				continue
			}
			records, err := r.Load(true)
			if err != nil {
				r.logger.Error("camera registry: reload failed", "error", err)
				continue
			}
			if onChange != nil {
				onChange(records)
			}
		}
	}
}

// ConnectionChecker probes an RTSP URL for reachability. *transcoder.Driver
// satisfies this via its ProbeReachable method.
type ConnectionChecker interface {
	ProbeReachable(ctx context.Context, rtspURL string, timeout time.Duration) (bool, string)
}

// CheckCameraConnection resolves id to its RTSP URL in the cached view and
// probes it with checker, a convenience that saves callers from having to
// look up the record themselves before checking reachability. Nothing in
// this module calls it.
func (r *Registry) CheckCameraConnection(ctx context.Context, checker ConnectionChecker, id string, timeout time.Duration) (reachable bool, detail string, err error) {
	rec, ok := r.ByID(id)
	if !ok {
		return false, "", fmt.Errorf("camera registry: unknown camera id %q", id)
	}
	reachable, detail = checker.ProbeReachable(ctx, rec.RTSPURL, timeout)
	return reachable, detail, nil
}

// Sorted returns the cached records ordered by id, useful for deterministic
// listings and tests.
func (r *Registry) Sorted() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]Record(nil), r.records...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
