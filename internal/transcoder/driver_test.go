// SPDX-License-Identifier: MIT

package transcoder

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestBuildHLSArgsContainsBitExactFlags(t *testing.T) {
	argv := BuildHLSArgs("rtsp://host/s", "/tmp/cam1/cam1.m3u8", "/tmp/cam1/cam1_%03d.ts")
	want := []string{
		"-rtsp_transport", "tcp", "-i", "rtsp://host/s",
		"-c:v", "copy", "-c:a", "copy", "-f", "hls",
		"-hls_time", "2", "-hls_list_size", "5",
		"-hls_flags", "delete_segments",
		"-hls_segment_filename", "/tmp/cam1/cam1_%03d.ts",
		"/tmp/cam1/cam1.m3u8",
	}
	assertEqualArgs(t, argv, want)
}

func TestBuildRTSPRecordArgsContainsBitExactFlags(t *testing.T) {
	argv := BuildRTSPRecordArgs("rtsp://host/s", "/rec/cam1/cam1_20240101000000.mp4")
	mustContainSequence(t, argv, []string{"-reconnect", "1", "-reconnect_at_eof", "1"})
	mustContainSequence(t, argv, []string{"-c:a", "aac", "-b:a", "96k", "-ar", "44100", "-ac", "2"})
	mustContainSequence(t, argv, []string{"-movflags", "+faststart"})
}

func assertEqualArgs(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("argv length = %d, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("argv[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func mustContainSequence(t *testing.T, argv, seq []string) {
	t.Helper()
	joined := strings.Join(argv, " ")
	if !strings.Contains(joined, strings.Join(seq, " ")) {
		t.Errorf("argv %v missing sequence %v", argv, seq)
	}
}

func TestProbeHLSRequiresHeaderToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("#EXTM3U\n#EXT-X-VERSION:3\n"))
	}))
	defer srv.Close()

	d := NewDriver("ffmpeg", "ffprobe")
	if !d.ProbeHLS(context.Background(), srv.URL) {
		t.Error("expected ProbeHLS to succeed against a valid playlist")
	}
}

func TestProbeHLSRejectsNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := NewDriver("ffmpeg", "ffprobe")
	if d.ProbeHLS(context.Background(), srv.URL) {
		t.Error("expected ProbeHLS to fail against a 404")
	}
}

func TestProbeHLSRejectsWrongBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not a playlist"))
	}))
	defer srv.Close()

	d := NewDriver("ffmpeg", "ffprobe")
	if d.ProbeHLS(context.Background(), srv.URL) {
		t.Error("expected ProbeHLS to fail against a non-HLS body")
	}
}

func TestKillAllIsNoOpWithoutCameraID(t *testing.T) {
	d := NewDriver("ffmpeg", "ffprobe")
	if err := d.KillAll("/tmp", ""); err != nil {
		t.Errorf("KillAll with empty camera id should be a no-op, got error: %v", err)
	}
}

func TestProbeReachableRejectsInvalidURL(t *testing.T) {
	d := NewDriver("ffmpeg", "ffprobe")
	ok, msg := d.ProbeReachable(context.Background(), "not-a-url", 0)
	if ok {
		t.Error("expected failure for invalid rtsp url")
	}
	if msg == "" {
		t.Error("expected a non-empty error message")
	}
}
