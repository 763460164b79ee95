package stats

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunspot-data/evolution.report/internal/contour"
	"github.com/sunspot-data/evolution.report/internal/geom"
	"github.com/sunspot-data/evolution.report/internal/segment"
	"github.com/sunspot-data/evolution.report/internal/tracking"
)

var statsEpoch = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func statsTrack(t *testing.T, id int64, intensities []float64) *tracking.Track {
	t.Helper()
	records := make([]*contour.Record, len(intensities))
	for i, v := range intensities {
		poly := geom.Polygon{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}}
		meas := map[string]float64{"intensity_mean": v}
		if math.IsNaN(v) {
			meas = nil
		}
		rec, err := contour.NewRecord(i, statsEpoch.Add(time.Duration(i)*45*time.Second),
			contour.ClassPore, poly, meas)
		require.NoError(t, err)
		records[i] = rec
	}
	tr, err := tracking.RestoreTrack(id, nil, nil, records)
	require.NoError(t, err)
	return tr
}

func TestSummarize(t *testing.T) {
	s := Summarize([]float64{4, 1, 3, 2, math.NaN(), math.Inf(1)})
	assert.Equal(t, 4, s.Count)
	assert.InDelta(t, 2.5, s.Mean, 1e-9)
	assert.InDelta(t, 1, s.Min, 1e-9)
	assert.InDelta(t, 4, s.Max, 1e-9)
	assert.InDelta(t, 2, s.Median, 1)
	assert.Greater(t, s.Std, 0.0)
	assert.LessOrEqual(t, s.P25, s.Median)
	assert.LessOrEqual(t, s.Median, s.P75)
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	assert.Equal(t, 0, s.Count)
	assert.True(t, math.IsNaN(s.Mean))
	assert.True(t, math.IsNaN(s.Median))
}

func TestSummarizeByLabel(t *testing.T) {
	items := []TrackPhases{
		{
			Track: statsTrack(t, 1, []float64{1, 2, 3, 5, 5, 5}),
			Phases: []segment.Phase{
				{Label: segment.LabelForming, StartIndex: 0, EndIndex: 2},
				{Label: segment.LabelStable, StartIndex: 3, EndIndex: 5},
			},
		},
		{
			Track: statsTrack(t, 2, []float64{4, 4}),
			Phases: []segment.Phase{
				{Label: segment.LabelStable, StartIndex: 0, EndIndex: 1},
			},
		},
	}

	got, failures := SummarizeByLabel(items, "intensity_mean")
	assert.Empty(t, failures)

	require.Contains(t, got, segment.LabelForming)
	require.Contains(t, got, segment.LabelStable)
	assert.Equal(t, 3, got[segment.LabelForming].Count)
	assert.InDelta(t, 2, got[segment.LabelForming].Mean, 1e-9)
	assert.Equal(t, 5, got[segment.LabelStable].Count)
	assert.InDelta(t, (5.0*3+4*2)/5, got[segment.LabelStable].Mean, 1e-9)
}

func TestSummarizeByLabelRecordsFailures(t *testing.T) {
	items := []TrackPhases{
		{
			Track:  statsTrack(t, 7, []float64{math.NaN(), math.NaN()}),
			Phases: []segment.Phase{{Label: segment.LabelStable, StartIndex: 0, EndIndex: 1}},
		},
	}

	got, failures := SummarizeByLabel(items, "intensity_mean")
	assert.Empty(t, got)
	require.Len(t, failures, 1)
	assert.Equal(t, int64(7), failures[0].TrackID)

	var unknown *tracking.UnknownQuantityError
	assert.ErrorAs(t, failures[0].Err, &unknown)
}

func TestSummarizeByLabelAreaQuantity(t *testing.T) {
	items := []TrackPhases{
		{
			Track:  statsTrack(t, 1, []float64{math.NaN(), math.NaN(), math.NaN()}),
			Phases: []segment.Phase{{Label: segment.LabelStable, StartIndex: 0, EndIndex: 2}},
		},
	}

	got, failures := SummarizeByLabel(items, QuantityArea)
	assert.Empty(t, failures, "area derives from geometry, no measurements needed")
	require.Contains(t, got, segment.LabelStable)
	assert.Equal(t, 3, got[segment.LabelStable].Count)
	assert.InDelta(t, 100, got[segment.LabelStable].Mean, 1e-9)
}

func TestTransitionValues(t *testing.T) {
	items := []TrackPhases{
		{
			Track: statsTrack(t, 1, []float64{1, 2, 3, 7, 7, 7}),
			Phases: []segment.Phase{
				{Label: segment.LabelForming, StartIndex: 0, EndIndex: 2},
				{Label: segment.LabelStable, StartIndex: 3, EndIndex: 5},
			},
		},
	}

	got, failures := TransitionValues(items, "intensity_mean")
	assert.Empty(t, failures)
	assert.NotContains(t, got, segment.LabelForming, "a track's first phase has no entry transition")
	require.Contains(t, got, segment.LabelStable)
	assert.Equal(t, 1, got[segment.LabelStable].Count)
	assert.InDelta(t, 7, got[segment.LabelStable].Mean, 1e-9)
}

func TestSummarizePopulation(t *testing.T) {
	tracks := []*tracking.Track{
		statsTrack(t, 1, []float64{2, 2, 2, 2, 2, 2, 2, 2}), // long track
		statsTrack(t, 2, []float64{6, 6}),                   // short track
	}

	got, failures := SummarizePopulation(tracks, "intensity_mean")
	assert.Empty(t, failures)
	assert.Equal(t, 2, got.Count)
	assert.InDelta(t, 4, got.Mean, 1e-9, "per-track means weight tracks equally")
}

func TestPhaseDurations(t *testing.T) {
	items := []TrackPhases{
		{
			Track: statsTrack(t, 1, []float64{1, 1, 1, 1, 1}),
			Phases: []segment.Phase{
				{Label: segment.LabelForming, StartIndex: 0, EndIndex: 1},
				{Label: segment.LabelStable, StartIndex: 2, EndIndex: 4},
			},
		},
	}

	got := PhaseDurations(items)
	assert.InDelta(t, 2, got[segment.LabelForming].Mean, 1e-9)
	assert.InDelta(t, 3, got[segment.LabelStable].Mean, 1e-9)
}
