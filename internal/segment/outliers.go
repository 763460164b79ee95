package segment

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// outlierZThreshold is the z-score on first-difference slopes above which a
// sample counts as a spike candidate.
const outlierZThreshold = 2.5

// findOutliers flags single-sample spikes in a series: points whose
// neighbouring first-difference slopes are extreme in opposite directions
// (a jump immediately undone is measurement noise, not evolution). Series
// endpoints with one extreme difference are flagged too. Returns the indices
// to drop, in increasing order.
func findOutliers(x, y []float64) []int {
	n := len(y)
	if n < 3 {
		return nil
	}

	deriv := make([]float64, n-1)
	for i := 0; i < n-1; i++ {
		dx := x[i+1] - x[i]
		if dx == 0 {
			deriv[i] = 0
			continue
		}
		deriv[i] = (y[i+1] - y[i]) / dx
	}

	mean, std := stat.MeanStdDev(deriv, nil)
	z := make([]float64, len(deriv))
	for i, d := range deriv {
		if std > 0 {
			z[i] = (d - mean) / std
		}
	}

	high := func(i int) bool { return z[i] > outlierZThreshold || math.IsNaN(z[i]) }
	low := func(i int) bool { return -z[i] > outlierZThreshold || math.IsNaN(z[i]) }

	var out []int
	if high(0) || low(0) {
		out = append(out, 0)
	}
	for i := 1; i < n-1; i++ {
		// deriv[i-1] enters point i, deriv[i] leaves it.
		if (low(i-1) && high(i)) || (high(i-1) && low(i)) {
			out = append(out, i)
		}
	}
	if high(n-2) || low(n-2) {
		out = append(out, n-1)
	}
	return out
}

// dropIndices removes the listed positions from the working series while
// keeping the original-index mapping aligned.
func dropIndices(x, y []float64, orig []int, drop []int) ([]float64, []float64, []int) {
	if len(drop) == 0 {
		return x, y, orig
	}
	isDrop := make(map[int]bool, len(drop))
	for _, i := range drop {
		isDrop[i] = true
	}
	keptX := x[:0]
	keptY := y[:0]
	keptOrig := orig[:0]
	for i := range x {
		if isDrop[i] {
			continue
		}
		keptX = append(keptX, x[i])
		keptY = append(keptY, y[i])
		keptOrig = append(keptOrig, orig[i])
	}
	return keptX, keptY, keptOrig
}
