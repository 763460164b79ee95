// Package segment partitions a track's scalar time series into contiguous
// evolutionary phases by fitting piecewise-linear models and searching
// breakpoint placements globally. Phase labels (forming, stable, decaying)
// come from segment slopes against a configurable threshold; they are
// phenomenological, so the policy itself is swappable.
package segment

import (
	"math"

	"github.com/sunspot-data/evolution.report/internal/config"
)

// Label classifies one phase of a feature's evolution.
type Label string

const (
	LabelForming  Label = "forming"
	LabelStable   Label = "stable"
	LabelDecaying Label = "decaying"
)

// Phase is one labeled contiguous sub-interval of a series. Indices are
// inclusive bounds into the caller's original sample order; consecutive
// phases share no index and together cover the full series.
type Phase struct {
	Label      Label
	StartIndex int
	EndIndex   int

	Slope         float64
	Intercept     float64
	RelativeSlope float64
	SSR           float64
}

// Model selection criteria for choosing the phase count.
const (
	SelectSSR = "ssr" // relative SSR improvement with grace attempts
	SelectAIC = "aic"
	SelectBIC = "bic"
)

// LabelFunc assigns a label to segment index of count with the given slope.
type LabelFunc func(index, count int, slope, threshold float64) Label

// Config holds the segmentation tuning for one segmenter.
type Config struct {
	MinSegmentLength  int
	SlopeThreshold    float64
	PhaseCountMin     int
	PhaseCountMax     int
	SearchBudget      int
	ModelSelection    string // SelectSSR, SelectAIC or SelectBIC
	MinRelImprovement float64
	GraceAttempts     int
	NormalizeSeries   bool
	RejectOutliers    bool
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	min, max := cfg.GetPhaseCountRange()
	return Config{
		MinSegmentLength:  cfg.GetMinSegmentLength(),
		SlopeThreshold:    cfg.GetSlopeThreshold(),
		PhaseCountMin:     min,
		PhaseCountMax:     max,
		SearchBudget:      cfg.GetSearchBudget(),
		ModelSelection:    cfg.GetModelSelection(),
		MinRelImprovement: cfg.GetMinRelImprovement(),
		GraceAttempts:     cfg.GetGraceAttempts(),
		NormalizeSeries:   cfg.GetNormalizeSeries(),
		RejectOutliers:    cfg.GetRejectOutliers(),
	}
}

// DefaultConfig returns the canonical defaults.
func DefaultConfig() Config {
	return ConfigFromTuning(config.EmptyTuningConfig())
}

// Segmenter fits and labels phase partitions. Safe for concurrent use: it
// holds no per-call state, so one instance serves a pool of track workers.
type Segmenter struct {
	cfg Config

	// Labeler overrides the default slope-threshold labeling policy when
	// non-nil.
	Labeler LabelFunc
}

// NewSegmenter creates a segmenter with the given tuning.
func NewSegmenter(cfg Config) *Segmenter {
	return &Segmenter{cfg: cfg}
}

// Segment partitions the series y(x) into labeled phases. x must be strictly
// increasing (the track's time axis); non-finite y values are skipped, and
// single-sample spikes are dropped when outlier rejection is enabled. The
// returned phases carry inclusive index bounds into the input order and
// always cover [0, len(y)-1].
//
// Breakpoint placement is invariant under affine rescaling of y; reported
// slopes and intercepts scale with the input unless NormalizeSeries is on,
// in which case fits run on y divided by its maximum magnitude.
func (s *Segmenter) Segment(x, y []float64) ([]Phase, error) {
	if len(x) != len(y) {
		return nil, &InsufficientDataError{Samples: 0, PhaseCount: s.cfg.PhaseCountMin, MinSegment: s.cfg.MinSegmentLength}
	}
	n := len(y)

	// Working copy with the original-index mapping.
	wx := make([]float64, 0, n)
	wy := make([]float64, 0, n)
	orig := make([]int, 0, n)
	for i := range y {
		if !math.IsInf(y[i], 0) && !math.IsNaN(y[i]) {
			wx = append(wx, x[i])
			wy = append(wy, y[i])
			orig = append(orig, i)
		}
	}

	if s.cfg.RejectOutliers {
		wx, wy, orig = dropIndices(wx, wy, orig, findOutliers(wx, wy))
	}

	minSeg := s.cfg.MinSegmentLength
	if minSeg < 1 {
		minSeg = 1
	}
	kMin := s.cfg.PhaseCountMin
	if kMin < 1 {
		kMin = 1
	}
	if len(wy) < minSeg*kMin {
		return nil, &InsufficientDataError{Samples: len(wy), PhaseCount: kMin, MinSegment: minSeg}
	}

	if s.cfg.NormalizeSeries {
		wy = normalized(wy)
	}

	boundaries, fits := s.selectModel(wx, wy, minSeg, kMin)
	return s.buildPhases(boundaries, fits, wx, orig, n), nil
}

// normalized divides the series by its maximum magnitude so slope thresholds
// compare across features of very different size.
func normalized(y []float64) []float64 {
	var max float64
	for _, v := range y {
		if a := math.Abs(v); a > max {
			max = a
		}
	}
	if max == 0 {
		return y
	}
	out := make([]float64, len(y))
	for i, v := range y {
		out[i] = v / max
	}
	return out
}

// fitted is one candidate model: a boundary placement with its per-segment
// fits and total SSR.
type fitted struct {
	boundaries []int
	fits       []lineFit
	ssr        float64
}

// selectModel fits every feasible phase count in the configured range and
// picks one. SSR selection stops early once relative improvement stays under
// the minimum for the allowed number of grace attempts, each attempt raising
// the bar; AIC/BIC selection scans the whole range.
func (s *Segmenter) selectModel(x, y []float64, minSeg, kMin int) ([]int, []lineFit) {
	m := len(y)
	p := newPrefixSums(x, y)

	kMax := s.cfg.PhaseCountMax
	if kMax < kMin {
		kMax = kMin
	}
	if feasible := m / minSeg; kMax > feasible {
		kMax = feasible
	}

	stride := 1
	if s.cfg.SearchBudget > 0 && m > s.cfg.SearchBudget {
		stride = (m + s.cfg.SearchBudget - 1) / s.cfg.SearchBudget
	}

	fit := func(k int) (fitted, bool) {
		boundaries, ssr := breakpointSearch(p, m, k, minSeg, stride)
		if boundaries == nil && stride > 1 {
			// The coarsened grid can starve a feasible placement.
			boundaries, ssr = breakpointSearch(p, m, k, minSeg, 1)
		}
		if boundaries == nil {
			return fitted{}, false
		}
		fits := make([]lineFit, k)
		for si := 0; si < k; si++ {
			end := m
			if si+1 < k {
				end = boundaries[si+1]
			}
			fits[si] = p.fitRange(boundaries[si], end)
		}
		return fitted{boundaries: boundaries, fits: fits, ssr: ssr}, true
	}

	const attenuation = 5.0
	minRel := s.cfg.MinRelImprovement
	grace := s.cfg.GraceAttempts
	if minRel > 0 {
		if maxGrace := int(math.Floor((1/minRel - 1) * attenuation)); grace > maxGrace {
			grace = maxGrace
		}
	}
	if grace < 1 {
		grace = 1
	}

	var (
		best      fitted
		bestScore = math.Inf(1)
		haveBest  bool
		prevSSR   float64
		baseline  float64
		useBase   bool
		poor      int
	)

	for k := kMin; k <= kMax; k++ {
		model, ok := fit(k)
		if !ok {
			break
		}

		if s.cfg.ModelSelection == SelectSSR && k > kMin {
			var rel float64
			if !useBase {
				rel = math.Abs((prevSSR - model.ssr) / prevSSR)
				if rel < minRel {
					baseline = prevSSR
					useBase = true
					poor = 1
				}
			} else {
				rel = math.Abs((baseline - model.ssr) / baseline)
				if rel < minRel*(1+float64(poor)/attenuation) {
					poor++
				} else {
					useBase = false
					poor = 0
				}
			}
			if poor >= grace {
				break
			}
			if poor > 0 {
				prevSSR = model.ssr
				continue // not a candidate while on probation
			}
		}

		score := model.ssr
		switch s.cfg.ModelSelection {
		case SelectAIC:
			score = informationCriterion(model.ssr, m, k, 2)
		case SelectBIC:
			score = informationCriterion(model.ssr, m, k, math.Log(float64(m)))
		}
		if score < bestScore {
			bestScore = score
			best = model
			haveBest = true
		}
		prevSSR = model.ssr
	}

	if !haveBest {
		// kMin is always feasible past the length check, so this only
		// guards the theoretical nil-search case.
		model, _ := fit(kMin)
		best = model
	}
	return best.boundaries, best.fits
}

// informationCriterion computes n·ln(SSR/n) + penalty·(k+1) with the SSR
// floored to keep the logarithm finite on exact fits.
func informationCriterion(ssr float64, n, k int, penalty float64) float64 {
	const floor = 1e-300
	if ssr < floor {
		ssr = floor
	}
	return float64(n)*math.Log(ssr/float64(n)) + penalty*float64(k+1)
}

// buildPhases maps kept-sample boundaries back to original indices and
// labels each segment. Samples dropped in preprocessing attach to the phase
// of their nearest following kept sample, so coverage of [0, n) is total.
func (s *Segmenter) buildPhases(boundaries []int, fits []lineFit, x []float64, orig []int, n int) []Phase {
	k := len(boundaries)
	phases := make([]Phase, k)
	start := 0
	for si := 0; si < k; si++ {
		endKept := len(orig) - 1
		if si+1 < k {
			endKept = boundaries[si+1] - 1
		}
		end := orig[endKept]
		if si == k-1 {
			end = n - 1
		}

		f := fits[si]
		x0 := x[boundaries[si]]
		y0 := f.Slope*x0 + f.Intercept
		rel := math.NaN()
		if y0 != 0 {
			rel = f.Slope / y0
		}

		phases[si] = Phase{
			Label:         s.label(si, k, f.Slope),
			StartIndex:    start,
			EndIndex:      end,
			Slope:         f.Slope,
			Intercept:     f.Intercept,
			RelativeSlope: rel,
			SSR:           f.SSR,
		}
		start = end + 1
	}
	return phases
}

// label applies the labeling policy: rising first segments form, falling
// last segments decay, interior segments follow their slope sign when its
// magnitude clears the threshold, everything else is stable.
func (s *Segmenter) label(index, count int, slope float64) Label {
	if s.Labeler != nil {
		return s.Labeler(index, count, slope, s.cfg.SlopeThreshold)
	}
	thr := s.cfg.SlopeThreshold
	switch {
	case count == 1:
		if slope > thr {
			return LabelForming
		}
		if slope < -thr {
			return LabelDecaying
		}
		return LabelStable
	case index == 0:
		if slope > thr {
			return LabelForming
		}
		return LabelStable
	case index == count-1:
		if slope < -thr {
			return LabelDecaying
		}
		return LabelStable
	default:
		if slope > thr {
			return LabelForming
		}
		if slope < -thr {
			return LabelDecaying
		}
		return LabelStable
	}
}
