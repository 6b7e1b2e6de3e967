package analyze

// kneeThreads locates the flattening point of a concave scaling curve
// using the Kneedle method: normalize both axes to [0,1] and take the
// point furthest above the diagonal. xs must be sorted ascending.
// Returns 0 when the curve is degenerate (too few points, or flat on
// either axis).
func kneeThreads(xs, ys []float64) int {
	if len(xs) < 3 {
		return 0
	}

	minX, maxX := xs[0], xs[len(xs)-1]
	minY, maxY := ys[0], ys[0]
	for _, y := range ys {
		if y < minY {
			minY = y
		}
		if y > maxY {
			maxY = y
		}
	}
	if maxX == minX || maxY == minY {
		return 0
	}

	maxDist := -1.0
	knee := 0
	for i := range xs {
		xNorm := (xs[i] - minX) / (maxX - minX)
		yNorm := (ys[i] - minY) / (maxY - minY)
		if dist := yNorm - xNorm; dist > maxDist {
			maxDist = dist
			knee = int(xs[i])
		}
	}
	return knee
}
