// Package stats reduces phase-labeled tracks to descriptive summary tables.
// It consumes closed tracks and their phase rows read-only and groups values
// by phase label; per-track failures are reported, never silently dropped.
package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/sunspot-data/evolution.report/internal/segment"
	"github.com/sunspot-data/evolution.report/internal/tracking"
)

// QuantityArea selects the derived polygon-area series instead of a named
// measurement.
const QuantityArea = "area"

// Summary is one group's descriptive statistics.
type Summary struct {
	Count  int
	Mean   float64
	Median float64
	Std    float64
	Min    float64
	Max    float64
	P25    float64
	P75    float64
}

// Failure records a track that could not contribute to a reduction.
type Failure struct {
	TrackID int64
	Err     error
}

// TrackPhases pairs a closed track with its phase labeling for one quantity.
type TrackPhases struct {
	Track  *tracking.Track
	Phases []segment.Phase
}

// Summarize computes descriptive statistics over the finite values of the
// input. Non-finite values are skipped; an all-empty input yields a zero
// Summary with NaN moments.
func Summarize(values []float64) Summary {
	finite := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		nan := math.NaN()
		return Summary{Mean: nan, Median: nan, Std: nan, Min: nan, Max: nan, P25: nan, P75: nan}
	}
	sort.Float64s(finite)

	s := Summary{
		Count: len(finite),
		Mean:  stat.Mean(finite, nil),
		Min:   finite[0],
		Max:   finite[len(finite)-1],
	}
	if len(finite) > 1 {
		s.Std = stat.StdDev(finite, nil)
	}
	s.Median = stat.Quantile(0.5, stat.Empirical, finite, nil)
	s.P25 = stat.Quantile(0.25, stat.Empirical, finite, nil)
	s.P75 = stat.Quantile(0.75, stat.Empirical, finite, nil)
	return s
}

// seriesValues returns the track's value sequence for the quantity, aligned
// with its record order.
func seriesValues(t *tracking.Track, quantity string) ([]float64, error) {
	var samples []tracking.Sample
	if quantity == QuantityArea {
		samples = t.AreaSeries()
	} else {
		var err error
		samples, err = t.Series(quantity)
		if err != nil {
			return nil, err
		}
	}
	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.Value
	}
	return values, nil
}

// SummarizeByLabel groups every in-phase sample value by its phase label and
// summarizes each group. Tracks whose series cannot be derived are returned
// as failures.
func SummarizeByLabel(items []TrackPhases, quantity string) (map[segment.Label]Summary, []Failure) {
	buckets := make(map[segment.Label][]float64)
	var failures []Failure

	for _, item := range items {
		values, err := seriesValues(item.Track, quantity)
		if err != nil {
			failures = append(failures, Failure{TrackID: item.Track.ID, Err: err})
			continue
		}
		for _, p := range item.Phases {
			for i := p.StartIndex; i <= p.EndIndex && i < len(values); i++ {
				buckets[p.Label] = append(buckets[p.Label], values[i])
			}
		}
	}

	out := make(map[segment.Label]Summary, len(buckets))
	for label, values := range buckets {
		out[label] = Summarize(values)
	}
	return out, failures
}

// TransitionValues summarizes the quantity's value at phase entries: for
// every phase after a track's first, the sample where the new phase begins.
// This is the distribution of, say, the flux at which features settle into
// their stable phase.
func TransitionValues(items []TrackPhases, quantity string) (map[segment.Label]Summary, []Failure) {
	buckets := make(map[segment.Label][]float64)
	var failures []Failure

	for _, item := range items {
		values, err := seriesValues(item.Track, quantity)
		if err != nil {
			failures = append(failures, Failure{TrackID: item.Track.ID, Err: err})
			continue
		}
		for pi, p := range item.Phases {
			if pi == 0 || p.StartIndex >= len(values) {
				continue
			}
			buckets[p.Label] = append(buckets[p.Label], values[p.StartIndex])
		}
	}

	out := make(map[segment.Label]Summary, len(buckets))
	for label, values := range buckets {
		out[label] = Summarize(values)
	}
	return out, failures
}

// SummarizePopulation reduces each track to its mean quantity value and
// summarizes the per-track means, giving a population-level distribution
// that is not dominated by long-lived tracks.
func SummarizePopulation(tracks []*tracking.Track, quantity string) (Summary, []Failure) {
	var means []float64
	var failures []Failure

	for _, t := range tracks {
		values, err := seriesValues(t, quantity)
		if err != nil {
			failures = append(failures, Failure{TrackID: t.ID, Err: err})
			continue
		}
		finite := values[:0]
		for _, v := range values {
			if !math.IsNaN(v) && !math.IsInf(v, 0) {
				finite = append(finite, v)
			}
		}
		if len(finite) == 0 {
			continue
		}
		means = append(means, stat.Mean(finite, nil))
	}
	return Summarize(means), failures
}

// PhaseDurations summarizes, per label, how many samples tracks spend in
// phases of that label.
func PhaseDurations(items []TrackPhases) map[segment.Label]Summary {
	buckets := make(map[segment.Label][]float64)
	for _, item := range items {
		for _, p := range item.Phases {
			buckets[p.Label] = append(buckets[p.Label], float64(p.EndIndex-p.StartIndex+1))
		}
	}
	out := make(map[segment.Label]Summary, len(buckets))
	for label, values := range buckets {
		out[label] = Summarize(values)
	}
	return out
}
