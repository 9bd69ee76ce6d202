// SPDX-License-Identifier: MIT

// Package transcoder implements the Transcoder Driver: argument-vector
// construction, upstream probing, and portable child-process spawn/signal/
// reap for the external media tool (spec.md §4.A).
//
// Argument vectors are grounded bit-for-bit on the original
// surveillance-camera-system's ffmpeg_utils.py
// (get_ffmpeg_hls_command, get_ffmpeg_record_command); process
// spawn/terminate sequencing is grounded on the same file's
// start_ffmpeg_process/terminate_process, generalized from the teacher's
// internal/stream/manager.go buildFFmpegCommand/startFFmpeg/stop shape.
package transcoder

import "fmt"

// BuildHLSArgs constructs the argv for live HLS streaming (spec.md §4.A,
// "HLS streaming").
func BuildHLSArgs(rtspURL, playlistPath, segmentPattern string) []string {
	return []string{
		"-rtsp_transport", "tcp",
		"-i", rtspURL,
		"-c:v", "copy",
		"-c:a", "copy",
		"-f", "hls",
		"-hls_time", "2",
		"-hls_list_size", "5",
		"-hls_flags", "delete_segments",
		"-hls_segment_filename", segmentPattern,
		playlistPath,
	}
}

// BuildRTSPRecordArgs constructs the argv for direct-from-RTSP recording
// (spec.md §4.A, "RTSP recording").
func BuildRTSPRecordArgs(rtspURL, outputPath string) []string {
	return []string{
		"-rtsp_transport", "tcp",
		"-use_wallclock_as_timestamps", "1",
		"-i", rtspURL,
		"-reset_timestamps", "1",
		"-reconnect", "1",
		"-reconnect_at_eof", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "2",
		"-thread_queue_size", "1024",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "96k",
		"-ar", "44100",
		"-ac", "2",
		"-async", "1",
		"-max_delay", "500000",
		"-movflags", "+faststart",
		"-y", outputPath,
	}
}

// BuildRTSPRecordArgsVideoOnly constructs the argv for direct-from-RTSP
// recording when probe_audio found no advertised audio stream, omitting
// the audio codec branch entirely rather than encoding silence
// (spec.md §4.E step 3: "used to choose the audio branch").
func BuildRTSPRecordArgsVideoOnly(rtspURL, outputPath string) []string {
	return []string{
		"-rtsp_transport", "tcp",
		"-use_wallclock_as_timestamps", "1",
		"-i", rtspURL,
		"-reset_timestamps", "1",
		"-reconnect", "1",
		"-reconnect_at_eof", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "2",
		"-thread_queue_size", "1024",
		"-c:v", "copy",
		"-an",
		"-max_delay", "500000",
		"-movflags", "+faststart",
		"-y", outputPath,
	}
}

// BuildHLSRecordArgs constructs the argv for recording from the camera's
// own local HLS playlist when RTSP is unavailable but a local stream is
// serving (spec.md §4.A, "HLS recording (fallback)").
func BuildHLSRecordArgs(localPlaylistURL, outputPath string) []string {
	return []string{
		"-protocol_whitelist", "file,http,https,tcp,tls",
		"-i", localPlaylistURL,
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "128k",
		"-max_muxing_queue_size", "2048",
		"-fflags", "+igndts+discardcorrupt",
		"-avoid_negative_ts", "make_zero",
		"-vsync", "cfr",
		"-movflags", "+frag_keyframe+empty_moov+faststart",
		"-y", outputPath,
	}
}

// SegmentPattern returns the per-camera HLS segment filename pattern
// (spec.md §3 invariant 4).
func SegmentPattern(tmpDir, cameraID string) string {
	return fmt.Sprintf("%s/%s_%%03d.ts", tmpDir, cameraID)
}

// PlaylistPath returns the per-camera HLS playlist path (spec.md §3
// invariant 4).
func PlaylistPath(tmpDir, cameraID string) string {
	return fmt.Sprintf("%s/%s.m3u8", tmpDir, cameraID)
}
