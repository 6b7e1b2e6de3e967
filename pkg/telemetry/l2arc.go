package telemetry

import (
	"bufio"
	"io"
	"os/exec"
	"strings"
)

// DetectL2ARC reports whether a pool has cache-class vdevs. It is asked
// once, before collector construction; the answer fixes the ARC field
// schema for the whole run. A pool that cannot be inspected is treated
// as having no cache tier.
func DetectL2ARC(pool string) bool {
	out, err := exec.Command("zpool", "status", pool).Output()
	if err != nil {
		return false
	}
	return hasCacheSection(strings.NewReader(string(out)))
}

// hasCacheSection scans zpool status topology output for a cache vdev
// group. The section header is a line whose sole content is "cache";
// it only counts when at least one device line follows it.
func hasCacheSection(r io.Reader) bool {
	scanner := bufio.NewScanner(r)
	inCache := false
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "cache" {
			inCache = true
			continue
		}
		if !inCache {
			continue
		}
		if trimmed == "" || !strings.HasPrefix(line, "\t") {
			// Section ended without a device.
			return false
		}
		return true
	}
	return false
}
