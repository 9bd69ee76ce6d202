// SPDX-License-Identifier: MIT

package camera

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type fakeChecker struct {
	reachable bool
	detail    string
}

func (f *fakeChecker) ProbeReachable(ctx context.Context, rtspURL string, timeout time.Duration) (bool, string) {
	return f.reachable, f.detail
}

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cam_config.txt")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadParsesScenarioOne(t *testing.T) {
	path := writeTempConfig(t, "cam1,Front,rtsp://192.0.2.10:554/s,1,0\n# comment\ncam2,Back,rtsp://192.0.2.11:554/s\n")

	reg := NewRegistry(path)
	records, err := reg.Load(false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	cam1, ok := reg.ByID("cam1")
	if !ok {
		t.Fatal("cam1 not found")
	}
	if !cam1.IsEnabled() {
		t.Error("cam1 should be enabled")
	}
	if cam1.IsAutoRecord() {
		t.Error("cam1 auto_record should be false")
	}

	cam2, ok := reg.ByID("cam2")
	if !ok {
		t.Fatal("cam2 not found")
	}
	if cam2.Enabled != nil {
		t.Error("cam2 enabled should be unset")
	}
	if !cam2.IsEnabled() {
		t.Error("cam2 should default to enabled when unset")
	}
}

func TestLoadSkipsMalformedLines(t *testing.T) {
	path := writeTempConfig(t, strings.Join([]string{
		"bad_line_only_two_fields,Name",
		"cam1,Front,",
		"cam1,Front,rtsp://host/s",
		"cam1,Dup,rtsp://host/dup",
		"../evil,Name,rtsp://host/s",
		"good,Good,rtsp://host/good",
	}, "\n"))

	reg := NewRegistry(path)
	records, err := reg.Load(false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(records) != 2 {
		t.Fatalf("expected 2 valid records (cam1, good), got %d: %+v", len(records), records)
	}
	if _, ok := reg.ByID("../evil"); ok {
		t.Error("path-traversal id must be rejected")
	}
}

func TestWriteCreatesBackupAndRoundTrips(t *testing.T) {
	path := writeTempConfig(t, "cam1,Front,rtsp://host/s,1,1\n")

	reg := NewRegistry(path)
	if _, err := reg.Load(false); err != nil {
		t.Fatalf("Load: %v", err)
	}

	enabled := true
	autoRec := false
	newRecords := []Record{
		{ID: "cam1", Name: "Front", RTSPURL: "rtsp://host/s", Enabled: &enabled, AutoRecord: &autoRec},
		{ID: "cam2", Name: "Back", RTSPURL: "rtsp://host/s2"},
	}
	if err := reg.Write(newRecords); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if _, err := os.Stat(path + ".bak"); err != nil {
		t.Errorf("expected .bak sibling: %v", err)
	}

	records, err := reg.Load(true)
	if err != nil {
		t.Fatalf("reload after write: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records after round trip, got %d", len(records))
	}
}

func TestWriteRejectsDuplicateIDs(t *testing.T) {
	path := writeTempConfig(t, "cam1,Front,rtsp://host/s\n")
	reg := NewRegistry(path)

	err := reg.Write([]Record{
		{ID: "cam1", Name: "A", RTSPURL: "rtsp://host/a"},
		{ID: "cam1", Name: "B", RTSPURL: "rtsp://host/b"},
	})
	if err == nil {
		t.Fatal("expected error for duplicate ids in write set")
	}
}

func TestCheckCameraConnection(t *testing.T) {
	path := writeTempConfig(t, "cam1,Front,rtsp://192.0.2.10:554/s\n")
	reg := NewRegistry(path)
	if _, err := reg.Load(false); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ok, detail, err := reg.CheckCameraConnection(context.Background(), &fakeChecker{reachable: true, detail: "tcp ok"}, "cam1", time.Second)
	if err != nil {
		t.Fatalf("CheckCameraConnection: %v", err)
	}
	if !ok {
		t.Error("expected reachable=true")
	}
	if detail != "tcp ok" {
		t.Errorf("detail = %q, want tcp ok", detail)
	}
}

func TestCheckCameraConnectionUnknownID(t *testing.T) {
	path := writeTempConfig(t, "cam1,Front,rtsp://192.0.2.10:554/s\n")
	reg := NewRegistry(path)
	if _, err := reg.Load(false); err != nil {
		t.Fatalf("Load: %v", err)
	}

	_, _, err := reg.CheckCameraConnection(context.Background(), &fakeChecker{}, "nonexistent", time.Second)
	if err == nil {
		t.Fatal("expected error for unknown camera id")
	}
}
