package segment

import "math"

// Least-squares line fits over arbitrary sub-ranges of a series, backed by
// prefix sums so any range costs O(1) after O(n) setup. The breakpoint search
// evaluates O(k·n²) candidate segments; without this it would be O(k·n³).

type prefixSums struct {
	x, y, xx, xy, yy []float64
}

func newPrefixSums(x, y []float64) *prefixSums {
	n := len(x)
	p := &prefixSums{
		x:  make([]float64, n+1),
		y:  make([]float64, n+1),
		xx: make([]float64, n+1),
		xy: make([]float64, n+1),
		yy: make([]float64, n+1),
	}
	for i := 0; i < n; i++ {
		p.x[i+1] = p.x[i] + x[i]
		p.y[i+1] = p.y[i] + y[i]
		p.xx[i+1] = p.xx[i] + x[i]*x[i]
		p.xy[i+1] = p.xy[i] + x[i]*y[i]
		p.yy[i+1] = p.yy[i] + y[i]*y[i]
	}
	return p
}

// lineFit is the least-squares line over one candidate segment.
type lineFit struct {
	Slope     float64
	Intercept float64
	SSR       float64
}

// fitRange fits y = slope·x + intercept over the half-open sample range
// [i, j) and returns the fit with its residual sum of squares.
func (p *prefixSums) fitRange(i, j int) lineFit {
	n := float64(j - i)
	sx := p.x[j] - p.x[i]
	sy := p.y[j] - p.y[i]
	sxx := p.xx[j] - p.xx[i]
	sxy := p.xy[j] - p.xy[i]
	syy := p.yy[j] - p.yy[i]

	det := n*sxx - sx*sx
	if det <= 0 || j-i < 2 {
		// Single sample or repeated x: a flat line through the mean.
		mean := sy / n
		return lineFit{Slope: 0, Intercept: mean, SSR: syy - 2*mean*sy + n*mean*mean}
	}

	slope := (n*sxy - sx*sy) / det
	intercept := (sy - slope*sx) / n

	// SSR = Σ(y − slope·x − intercept)²  expanded into prefix terms.
	ssr := syy +
		slope*slope*sxx +
		n*intercept*intercept -
		2*slope*sxy -
		2*intercept*sy +
		2*slope*intercept*sx
	if ssr < 0 {
		ssr = 0 // numerical round-off on near-exact fits
	}
	return lineFit{Slope: slope, Intercept: intercept, SSR: ssr}
}

// breakpointSearch finds the boundary placement minimising total SSR for a
// fixed segment count via dynamic programming over candidate boundaries.
// boundaries[s] is the first sample index of segment s; the implicit final
// boundary is n. Equal-SSR placements prefer boundaries nearer the series
// midpoint. candidateStride > 1 coarsens the interior boundary grid for long
// series; segment ends are always admissible so minimum lengths stay exact.
func breakpointSearch(p *prefixSums, n, segments, minSeg, candidateStride int) ([]int, float64) {
	if segments == 1 {
		return []int{0}, p.fitRange(0, n).SSR
	}

	admissible := func(i int) bool {
		return candidateStride <= 1 || i%candidateStride == 0
	}

	const tieEps = 1e-12
	mid := float64(n) / 2

	// cost[s][j]: best total SSR for the first s segments covering [0, j);
	// from[s][j] reconstructs the boundary before j.
	inf := math.Inf(1)
	cost := make([][]float64, segments+1)
	from := make([][]int, segments+1)
	for s := range cost {
		cost[s] = make([]float64, n+1)
		from[s] = make([]int, n+1)
		for j := range cost[s] {
			cost[s][j] = inf
			from[s][j] = -1
		}
	}
	cost[0][0] = 0

	for s := 1; s <= segments; s++ {
		jHi := n
		if s < segments {
			jHi = n - (segments-s)*minSeg
		}
		for j := s * minSeg; j <= jHi; j++ {
			if s < segments && !admissible(j) && j != n {
				continue
			}
			if s == segments && j != n {
				continue
			}
			for i := (s - 1) * minSeg; i+minSeg <= j; i++ {
				if cost[s-1][i] == inf {
					continue
				}
				c := cost[s-1][i] + p.fitRange(i, j).SSR
				switch {
				case c < cost[s][j]-tieEps:
					cost[s][j] = c
					from[s][j] = i
				case math.Abs(c-cost[s][j]) <= tieEps && from[s][j] >= 0:
					if math.Abs(float64(i)-mid) < math.Abs(float64(from[s][j])-mid) {
						from[s][j] = i
					}
				}
			}
		}
	}

	if cost[segments][n] == inf {
		return nil, inf
	}

	boundaries := make([]int, segments)
	j := n
	for s := segments; s >= 1; s-- {
		i := from[s][j]
		boundaries[s-1] = i
		j = i
	}
	return boundaries, cost[segments][n]
}
