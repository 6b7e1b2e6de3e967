// Package stats is the single statistics engine for all telemetry consumers.
// Both the collectors and the analytics layer compute per-metric summaries
// through Compute; there is deliberately no second implementation anywhere.
package stats

import (
	"math"
	"sort"
)

// Stats summarizes one metric over a group of samples.
type Stats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	StdDev float64 `json:"std_dev"`
	P50    float64 `json:"p50"`
	P75    float64 `json:"p75"`
	P90    float64 `json:"p90"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`
	// CVPercent is stddev/mean*100. When the mean is 0 the ratio is
	// undefined; it is reported as 0 with CVUndefined set.
	CVPercent   float64 `json:"cv_percent"`
	CVUndefined bool    `json:"cv_undefined,omitempty"`
}

// Compute calculates summary statistics for a group of values.
// Empty input yields a zero Stats, never an error: a segment with no
// steady-state samples is a valid thing to report. Output never contains
// NaN or Inf.
func Compute(values []float64) Stats {
	n := len(values)
	if n == 0 {
		return Stats{}
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)

	var median float64
	mid := n / 2
	if n%2 == 1 {
		median = sorted[mid]
	} else {
		median = (sorted[mid-1] + sorted[mid]) / 2
	}

	// Sample (n-1) standard deviation; 0 for a single observation.
	var stddev float64
	if n > 1 {
		var sq float64
		for _, v := range values {
			d := v - mean
			sq += d * d
		}
		stddev = math.Sqrt(sq / float64(n-1))
	}

	s := Stats{
		Count:  n,
		Mean:   mean,
		Median: median,
		Min:    sorted[0],
		Max:    sorted[n-1],
		StdDev: stddev,
		P50:    Percentile(sorted, 50),
		P75:    Percentile(sorted, 75),
		P90:    Percentile(sorted, 90),
		P95:    Percentile(sorted, 95),
		P99:    Percentile(sorted, 99),
	}

	if mean != 0 {
		s.CVPercent = stddev / mean * 100
	} else {
		s.CVUndefined = true
	}
	return s
}

// Percentile returns the p-th percentile (0-100) of an already-sorted slice
// using linear interpolation between order statistics at rank (n-1)*p/100.
// This is the convention every call site in the repo uses; do not mix it
// with nearest-rank elsewhere.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}

	idx := p / 100 * float64(n-1)
	lower := int(idx)
	if lower >= n-1 {
		return sorted[n-1]
	}
	frac := idx - float64(lower)
	return sorted[lower] + frac*(sorted[lower+1]-sorted[lower])
}
