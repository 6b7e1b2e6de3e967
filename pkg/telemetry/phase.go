package telemetry

// ClassifyPhase labels a sample from its read/write activity magnitudes.
// Both sides at or below epsilon is idle; one active side gives READ or
// WRITE; both active gives MIXED. Epsilon absorbs the background chatter
// ZFS produces even on a quiet pool.
func ClassifyPhase(readOps, writeOps, epsilon float64) Phase {
	readActive := readOps > epsilon
	writeActive := writeOps > epsilon

	switch {
	case !readActive && !writeActive:
		return PhaseIdle
	case readActive && writeActive:
		return PhaseMixed
	case writeActive:
		return PhaseWrite
	default:
		return PhaseRead
	}
}
