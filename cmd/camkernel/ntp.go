package main

import (
	"os/exec"
	"strings"
)

// checkNTPSync reports whether the host's clock is synchronized, via
// timedatectl, since archive filenames encode local wall-clock time
// (spec.md §6) and a desynced clock would misorder or collide archive
// names across a restart. Grounded on the teacher's pattern of shelling
// out to a system tool and degrading gracefully when it is unavailable
// (cmd/lyrebird's getServiceStatus via systemctl).
func checkNTPSync() (synced bool, message string) {
	out, err := exec.Command("timedatectl", "show", "-p", "NTPSynchronized", "--value").Output() // #nosec G204 -- fixed argv, no user input
	if err != nil {
		return true, "timedatectl unavailable; assuming synced"
	}
	val := strings.TrimSpace(string(out))
	if val == "yes" {
		return true, ""
	}
	return false, "system clock is not NTP-synchronized"
}
