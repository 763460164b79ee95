package segment

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func indexAxis(n int) []float64 {
	x := make([]float64, n)
	for i := range x {
		x[i] = float64(i)
	}
	return x
}

// risePlateauFall builds the canonical three-phase profile: linear growth to
// frame 10, a plateau to frame 20, linear decay afterwards, with small
// deterministic perturbations.
func risePlateauFall(n int) []float64 {
	y := make([]float64, n)
	for i := range y {
		switch {
		case i <= 10:
			y[i] = float64(i)
		case i <= 20:
			y[i] = 10
		default:
			y[i] = 10 - float64(i-20)
		}
		if i%2 == 0 {
			y[i] += 0.01
		} else {
			y[i] -= 0.01
		}
	}
	return y
}

func TestSegmentRisePlateauFall(t *testing.T) {
	n := 30
	seg := NewSegmenter(DefaultConfig())

	phases, err := seg.Segment(indexAxis(n), risePlateauFall(n))
	require.NoError(t, err)
	require.Len(t, phases, 3)

	assert.Equal(t, LabelForming, phases[0].Label)
	assert.Equal(t, LabelStable, phases[1].Label)
	assert.Equal(t, LabelDecaying, phases[2].Label)

	assert.InDelta(t, 10, phases[1].StartIndex, 1, "first breakpoint")
	assert.InDelta(t, 20, phases[2].StartIndex, 1, "second breakpoint")

	assert.Greater(t, phases[0].Slope, 0.0)
	assert.InDelta(t, 0, phases[1].Slope, 0.01)
	assert.Less(t, phases[2].Slope, 0.0)
}

func TestSegmentTooShort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PhaseCountMin = 3
	cfg.PhaseCountMax = 3
	cfg.MinSegmentLength = 3

	seg := NewSegmenter(cfg)
	_, err := seg.Segment(indexAxis(5), []float64{1, 2, 3, 2, 1})
	require.Error(t, err)

	var insufficient *InsufficientDataError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, 5, insufficient.Samples)
	assert.Equal(t, 3, insufficient.PhaseCount)
	assert.Equal(t, 3, insufficient.MinSegment)
}

// Scaling and shifting the quantity must not move breakpoints; slopes scale
// with the input.
func TestSegmentAffineInvariance(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NormalizeSeries = false
	cfg.RejectOutliers = false
	cfg.PhaseCountMin = 2
	cfg.PhaseCountMax = 2
	seg := NewSegmenter(cfg)

	n := 24
	x := indexAxis(n)
	y := make([]float64, n)
	for i := range y {
		if i < 12 {
			y[i] = 2 * float64(i)
		} else {
			y[i] = 24 - 0.5*float64(i-12)
		}
	}

	scaled := make([]float64, n)
	for i, v := range y {
		scaled[i] = 3.5*v + 7
	}

	base, err := seg.Segment(x, y)
	require.NoError(t, err)
	other, err := seg.Segment(x, scaled)
	require.NoError(t, err)
	require.Len(t, other, len(base))

	for i := range base {
		assert.Equal(t, base[i].StartIndex, other[i].StartIndex)
		assert.Equal(t, base[i].EndIndex, other[i].EndIndex)
		assert.InDelta(t, 3.5*base[i].Slope, other[i].Slope, 1e-9)
	}
}

// Phases are contiguous, non-overlapping and cover the whole input index
// range even when samples were dropped in preprocessing.
func TestSegmentFullCoverageWithDropouts(t *testing.T) {
	n := 30
	y := risePlateauFall(n)
	y[3] = math.NaN()
	y[17] = math.NaN()
	y[29] = math.Inf(1)

	seg := NewSegmenter(DefaultConfig())
	phases, err := seg.Segment(indexAxis(n), y)
	require.NoError(t, err)
	require.NotEmpty(t, phases)

	next := 0
	for _, p := range phases {
		assert.Equal(t, next, p.StartIndex)
		assert.GreaterOrEqual(t, p.EndIndex, p.StartIndex)
		next = p.EndIndex + 1
	}
	assert.Equal(t, n, next)
}

// The dynamic program matches exhaustive enumeration of boundary placements.
func TestBreakpointSearchMatchesBruteForce(t *testing.T) {
	n := 14
	x := indexAxis(n)
	y := []float64{0, 1.1, 1.9, 3.2, 4, 4.1, 3.9, 4, 4.2, 3.8, 3, 2.1, 0.8, 0.1}
	minSeg := 2
	segments := 3

	p := newPrefixSums(x, y)
	got, gotSSR := breakpointSearch(p, n, segments, minSeg, 1)
	require.Len(t, got, segments)

	bestSSR := math.Inf(1)
	for b1 := minSeg; b1+minSeg <= n-minSeg; b1++ {
		for b2 := b1 + minSeg; b2+minSeg <= n; b2++ {
			ssr := p.fitRange(0, b1).SSR + p.fitRange(b1, b2).SSR + p.fitRange(b2, n).SSR
			if ssr < bestSSR {
				bestSSR = ssr
			}
		}
	}
	assert.InDelta(t, bestSSR, gotSSR, 1e-9)
}

// The coarsened candidate grid still yields a valid covering partition.
func TestSegmentSearchBudget(t *testing.T) {
	n := 100
	x := indexAxis(n)
	y := make([]float64, n)
	for i := range y {
		if i < 50 {
			y[i] = float64(i)
		} else {
			y[i] = 50 - float64(i-50)
		}
	}

	cfg := DefaultConfig()
	cfg.NormalizeSeries = false
	cfg.RejectOutliers = false
	cfg.PhaseCountMin = 2
	cfg.PhaseCountMax = 2
	cfg.SearchBudget = 16
	seg := NewSegmenter(cfg)

	phases, err := seg.Segment(x, y)
	require.NoError(t, err)
	require.Len(t, phases, 2)
	assert.Equal(t, 0, phases[0].StartIndex)
	assert.Equal(t, n-1, phases[1].EndIndex)
	// Grid stride is 7 for this budget; the breakpoint lands near the peak.
	assert.InDelta(t, 50, phases[1].StartIndex, 7)
}

// A clean linear trend should not be over-segmented under BIC.
func TestSegmentSingleTrendBIC(t *testing.T) {
	n := 40
	x := indexAxis(n)
	y := make([]float64, n)
	for i := range y {
		y[i] = 0.5 * float64(i)
		// Alternating perturbation: invisible to any piecewise-linear model.
		if i%2 == 0 {
			y[i] += 0.02
		} else {
			y[i] -= 0.02
		}
	}

	cfg := DefaultConfig()
	cfg.NormalizeSeries = false
	cfg.RejectOutliers = false
	cfg.ModelSelection = SelectBIC
	seg := NewSegmenter(cfg)

	phases, err := seg.Segment(x, y)
	require.NoError(t, err)
	require.Len(t, phases, 1)
	assert.Equal(t, LabelForming, phases[0].Label)
	assert.InDelta(t, 0.5, phases[0].Slope, 0.01)
}

func TestFindOutliersFlagsSpike(t *testing.T) {
	n := 21
	x := indexAxis(n)
	y := make([]float64, n)
	for i := range y {
		y[i] = 5
		if i%4 == 0 {
			y[i] += 0.01
		}
	}
	y[10] = 50 // single-frame spike

	out := findOutliers(x, y)
	assert.Equal(t, []int{10}, out)
}

func TestLabelPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SlopeThreshold = 0.1
	seg := NewSegmenter(cfg)

	cases := []struct {
		name         string
		index, count int
		slope        float64
		want         Label
	}{
		{"single rising", 0, 1, 0.5, LabelForming},
		{"single falling", 0, 1, -0.5, LabelDecaying},
		{"single flat", 0, 1, 0.05, LabelStable},
		{"first rising", 0, 3, 0.5, LabelForming},
		{"first falling stays stable", 0, 3, -0.5, LabelStable},
		{"interior rising", 1, 3, 0.5, LabelForming},
		{"interior falling", 1, 3, -0.5, LabelDecaying},
		{"interior flat", 1, 3, 0.0, LabelStable},
		{"last falling", 2, 3, -0.5, LabelDecaying},
		{"last rising stays stable", 2, 3, 0.5, LabelStable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, seg.label(tc.index, tc.count, tc.slope))
		})
	}
}

func TestCustomLabeler(t *testing.T) {
	seg := NewSegmenter(DefaultConfig())
	seg.Labeler = func(index, count int, slope, threshold float64) Label {
		return LabelStable
	}

	phases, err := seg.Segment(indexAxis(30), risePlateauFall(30))
	require.NoError(t, err)
	for _, p := range phases {
		assert.Equal(t, LabelStable, p.Label)
	}
}
