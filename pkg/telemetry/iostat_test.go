package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePoolLineGolden(t *testing.T) {
	// One scripted-mode line with every suffix family represented. The
	// latency columns are interleaved read/write pairs; the per-pair
	// assertions below are the regression guard for the column table.
	line := "tank\t1.23T\t2.5T\t1.77K\t350\t292M\t45.5M\t500us\t1.2ms\t300us\t800us\t10us\t20us\t150us\t900us\t1.5ms\t-"

	s, warnings, ok := parsePoolLine(line)
	require.True(t, ok)
	assert.Empty(t, warnings)

	assert.InDelta(t, 1.23e12/(1<<30), s.CapacityUsedGiB, 1e-6)
	assert.InDelta(t, 2.5e12/(1<<30), s.CapacityAvailGiB, 1e-6)

	assert.InDelta(t, 1770, s.ReadIOPS, 1e-9)
	assert.InDelta(t, 350, s.WriteIOPS, 1e-9)

	assert.InDelta(t, 292, s.ReadBandwidthMBps, 1e-9)
	assert.InDelta(t, 45.5, s.WriteBandwidthMBps, 1e-9)

	// total_wait pair, then disk_wait pair, then the queue pairs.
	assert.InDelta(t, 0.5, s.ReadTotalWaitMs, 1e-9)
	assert.InDelta(t, 1.2, s.WriteTotalWaitMs, 1e-9)
	assert.InDelta(t, 0.3, s.ReadDiskWaitMs, 1e-9)
	assert.InDelta(t, 0.8, s.WriteDiskWaitMs, 1e-9)
	assert.InDelta(t, 0.01, s.ReadSyncQWaitMs, 1e-9)
	assert.InDelta(t, 0.02, s.WriteSyncQWaitMs, 1e-9)
	assert.InDelta(t, 0.15, s.ReadAsyncQWaitMs, 1e-9)
	assert.InDelta(t, 0.9, s.WriteAsyncQWaitMs, 1e-9)

	// Scrub running, no trim in flight.
	assert.InDelta(t, 1.5, s.ScrubWaitMs, 1e-9)
	assert.Zero(t, s.TrimWaitMs)
}

func TestParsePoolLineBareNanoseconds(t *testing.T) {
	// With -p zpool prints raw nanosecond counts; an unsuffixed latency
	// token must be read as ns, not ms.
	line := "tank 0 0 10 10 1M 1M 1500000 2000000 500000 500000 0 0 0 0 0 0"

	s, warnings, ok := parsePoolLine(line)
	require.True(t, ok)
	assert.Empty(t, warnings)
	assert.InDelta(t, 1.5, s.ReadTotalWaitMs, 1e-9)
	assert.InDelta(t, 2.0, s.WriteTotalWaitMs, 1e-9)
	assert.InDelta(t, 0.5, s.ReadDiskWaitMs, 1e-9)
}

func TestParsePoolLineSkipsNonData(t *testing.T) {
	for _, line := range []string{
		"",
		"tank 100 200", // truncated
		"pool alloc free read write read write read write read write read write read write",
		"---------- ----- ----- ----- ----- ----- ----- ----- ----- ----- ----- ----- ----- ----- -----",
	} {
		_, _, ok := parsePoolLine(line)
		assert.False(t, ok, "line %q should be skipped", line)
	}
}

func TestParsePoolLineMalformedToken(t *testing.T) {
	// A single garbage token zeroes that field and warns; the rest of the
	// sample survives. Losing one field must not lose the whole interval.
	line := "tank 100 200 abc 350 292M 45.5M 500us 1.2ms 300us 800us 10us 20us 150us 900us 0 0"

	s, warnings, ok := parsePoolLine(line)
	require.True(t, ok)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "iops_read")
	assert.Contains(t, warnings[0], `"abc"`)

	assert.Zero(t, s.ReadIOPS)
	assert.InDelta(t, 350, s.WriteIOPS, 1e-9)
	assert.InDelta(t, 292, s.ReadBandwidthMBps, 1e-9)
}

func TestParsePoolLineDashIsMissing(t *testing.T) {
	// "-" means no activity in the interval: zero value, no warning.
	line := "tank 100 200 - - - - - - - - - - - - - -"

	s, warnings, ok := parsePoolLine(line)
	require.True(t, ok)
	assert.Empty(t, warnings)
	assert.Zero(t, s.ReadIOPS)
	assert.Zero(t, s.WriteTotalWaitMs)
}

func TestIntervalSeconds(t *testing.T) {
	// A zero interval token would make the stats tools print once and
	// exit instead of streaming.
	assert.Equal(t, "1", intervalSeconds(500*time.Millisecond))
	assert.Equal(t, "1", intervalSeconds(time.Second))
	assert.Equal(t, "5", intervalSeconds(5*time.Second))
}

func TestClassifyPhase(t *testing.T) {
	tests := []struct {
		name        string
		read, write float64
		want        Phase
	}{
		{"both quiet", 0, 0, PhaseIdle},
		{"background chatter below epsilon", 0.5, 0.9, PhaseIdle},
		{"read only", 1200, 0.2, PhaseRead},
		{"write only", 0, 800, PhaseWrite},
		{"both active", 600, 600, PhaseMixed},
		{"exactly epsilon is still idle", 1.0, 1.0, PhaseIdle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyPhase(tt.read, tt.write, 1.0))
		})
	}
}
