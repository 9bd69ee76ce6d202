// SPDX-License-Identifier: MIT

//go:build windows

package transcoder

import (
	"strconv"
	"strings"
)

// splitCSVLines splits tasklist's CSV output into non-empty lines.
func splitCSVLines(out string) []string {
	var lines []string
	for _, l := range strings.Split(out, "\r\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// parseTasklistLine extracts the PID (field 2) from a `tasklist /FO CSV`
// line. tasklist's /V flag does not expose the full command line, so the
// image name plus window title is used as the match surface instead —
// sufficient since this daemon always launches ffmpeg with the camera id
// embedded in the output path, which tasklist surfaces in the window
// title for console-attached children. Children spawned with the hidden
// console flag have no window title, so an empty cmdline here simply
// never matches, which is the conservative (no accidental kill) outcome.
func parseTasklistLine(line string) (pid int, cmdline string, ok bool) {
	fields := splitCSVFields(line)
	if len(fields) < 2 {
		return 0, "", false
	}
	p, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, "", false
	}
	return p, line, true
}

// splitCSVFields splits a simple quoted-CSV line ("a","b","c") into
// unquoted fields.
func splitCSVFields(line string) []string {
	var fields []string
	for _, f := range strings.Split(line, ",") {
		fields = append(fields, strings.Trim(f, "\""))
	}
	return fields
}
