package tracking

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTrack(t *testing.T, frames []int, meas []map[string]float64) *Track {
	t.Helper()
	require.NotEmpty(t, frames)
	tr := newTrack(1, record(t, frames[0], square(0, 0, 10), meas[0]))
	for i := 1; i < len(frames); i++ {
		require.NoError(t, tr.append(record(t, frames[i], square(0, 0, 10), meas[i])))
	}
	return tr
}

func TestTrackAppendOrderAndClose(t *testing.T) {
	tr := newTrack(1, record(t, 0, square(0, 0, 10), nil))

	require.NoError(t, tr.append(record(t, 1, square(0, 0, 10), nil)))
	assert.Error(t, tr.append(record(t, 1, square(0, 0, 10), nil)), "same timestamp")
	assert.Error(t, tr.append(record(t, 0, square(0, 0, 10), nil)), "earlier timestamp")

	tr.close()
	assert.False(t, tr.IsOpen())
	assert.Error(t, tr.append(record(t, 2, square(0, 0, 10), nil)))
	assert.Equal(t, 2, tr.Len())
}

func TestTrackSeries(t *testing.T) {
	tr := testTrack(t, []int{0, 1, 2}, []map[string]float64{
		{"intensity_mean": 0.8},
		nil, // instrument dropout on this frame
		{"intensity_mean": 0.6},
	})

	samples, err := tr.Series("intensity_mean")
	require.NoError(t, err)
	require.Len(t, samples, 3)
	assert.Equal(t, 0.8, samples[0].Value)
	assert.True(t, math.IsNaN(samples[1].Value))
	assert.Equal(t, 0.6, samples[2].Value)

	_, err = tr.Series("magnetic_flux")
	var unknown *UnknownQuantityError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "magnetic_flux", unknown.Quantity)
	assert.Equal(t, int64(1), unknown.TrackID)
}

func TestTrackAreaSeriesAndSpan(t *testing.T) {
	tr := testTrack(t, []int{2, 3, 5}, []map[string]float64{nil, nil, nil})

	first, last := tr.FrameSpan()
	assert.Equal(t, 2, first)
	assert.Equal(t, 5, last)
	assert.Equal(t, 3*frameInterval, tr.Duration())

	areas := tr.AreaSeries()
	require.Len(t, areas, 3)
	for _, s := range areas {
		assert.InDelta(t, 100, s.Value, 1e-9)
	}
}

func TestTrackGaps(t *testing.T) {
	tr := testTrack(t, []int{0, 1, 4, 5}, []map[string]float64{nil, nil, nil, nil})

	gaps := tr.Gaps(frameInterval, 1.5)
	require.Len(t, gaps, 1)
	assert.Equal(t, frameEpoch.Add(1*frameInterval), gaps[0].Start)
	assert.Equal(t, frameEpoch.Add(4*frameInterval), gaps[0].End)

	assert.Empty(t, tr.Gaps(0, 1.5), "non-positive nominal interval")
	assert.Empty(t, tr.Gaps(10*time.Minute, 1.5), "generous interval absorbs everything")
}

func TestTrackCentroidPath(t *testing.T) {
	tr := newTrack(1, record(t, 0, square(0, 0, 10), nil))
	require.NoError(t, tr.append(record(t, 1, square(2, 0, 10), nil)))

	path := tr.CentroidPath()
	require.Len(t, path, 2)
	assert.InDelta(t, 5, path[0].X, 1e-9)
	assert.InDelta(t, 7, path[1].X, 1e-9)
	assert.InDelta(t, 5, path[1].Y, 1e-9)
}
