// SPDX-License-Identifier: MIT

package camera

import "strings"

// MaxIDLength bounds the camera id length; ids become directory and file
// name components so an overlong or malformed id is rejected rather than
// silently truncated.
const MaxIDLength = 128

// validID reports whether id is safe to use as a path component under a
// root directory. Camera ids come from an operator-edited but otherwise
// untrusted declaration file, and every root directory layout in this
// package concatenates <root>/<id>/... directly, so an id containing a
// path separator or traversal sequence must never reach the filesystem.
func validID(id string) bool {
	if id == "" || len(id) > MaxIDLength {
		return false
	}
	if strings.ContainsAny(id, "/\\") {
		return false
	}
	if id == "." || id == ".." || strings.Contains(id, "..") {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-':
		default:
			return false
		}
	}
	return true
}

// truthy matches the declaration file's boolean grammar (spec.md §4.C):
// any of 1, true, yes, on, case-insensitively.
func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
