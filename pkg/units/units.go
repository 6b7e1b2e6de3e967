// Package units parses the magnitude-suffixed scalar tokens emitted by the
// storage statistics tools. The suffix tables here are the de facto wire
// format: if the external tool's output changes, these tables change with it.
package units

import (
	"strconv"
	"strings"
)

// Decimal multipliers used by zpool iostat for throughput and op counts.
// These are decimal (1K = 1000), not binary.
var magnitudeSuffixes = map[byte]float64{
	'K': 1e3,
	'M': 1e6,
	'G': 1e9,
	'T': 1e12,
}

// ParseMagnitude parses a token like "1.77K", "292M" or "0" into a plain
// float. A "-" or empty token is a missing value. Malformed tokens return
// ok=false so the caller can record a parse warning; the value is always 0
// in that case, never NaN.
func ParseMagnitude(token string) (float64, bool) {
	token = strings.TrimSpace(token)
	if token == "" || token == "-" {
		return 0, false
	}

	last := token[len(token)-1]
	if mult, found := magnitudeSuffixes[last]; found {
		n, err := strconv.ParseFloat(token[:len(token)-1], 64)
		if err != nil {
			return 0, false
		}
		return n * mult, true
	}

	n, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ParseBandwidthMBps parses a bytes-per-second token ("12.3M") into MB/s.
// Canonical bandwidth unit for the whole pipeline is MB/s (decimal).
func ParseBandwidthMBps(token string) (float64, bool) {
	bytesPerSec, ok := ParseMagnitude(token)
	if !ok {
		return 0, false
	}
	return bytesPerSec / 1e6, true
}

// ParseLatencyMs parses a time token into canonical milliseconds.
// zpool iostat prints latencies with ns/us/ms/s suffixes; with -p it prints
// bare nanosecond counts, so an unsuffixed number is treated as ns.
func ParseLatencyMs(token string) (float64, bool) {
	token = strings.TrimSpace(token)
	if token == "" || token == "-" {
		return 0, false
	}

	// Order matters: check the two-byte suffixes before the one-byte "s".
	switch {
	case strings.HasSuffix(token, "ns"):
		return parseScaled(token[:len(token)-2], 1e-6)
	case strings.HasSuffix(token, "us"):
		return parseScaled(token[:len(token)-2], 1e-3)
	case strings.HasSuffix(token, "ms"):
		return parseScaled(token[:len(token)-2], 1)
	case strings.HasSuffix(token, "s"):
		return parseScaled(token[:len(token)-1], 1e3)
	default:
		return parseScaled(token, 1e-6) // bare nanoseconds
	}
}

func parseScaled(num string, toMs float64) (float64, bool) {
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	return n * toMs, true
}

// BytesToGiB converts a raw byte count (arcstat -p sizes) to GiB.
func BytesToGiB(b float64) float64 {
	return b / (1024 * 1024 * 1024)
}

// BytesToMBps converts raw bytes/sec to MB/s for throughput fields.
func BytesToMBps(b float64) float64 {
	return b / (1024 * 1024)
}
