package tracking

import (
	"fmt"
	"time"

	"github.com/sunspot-data/evolution.report/internal/contour"
	"github.com/sunspot-data/evolution.report/internal/geom"
)

// UnknownQuantityError reports a request for a series that was never measured
// on any record of the track.
type UnknownQuantityError struct {
	TrackID  int64
	Quantity string
}

func (e *UnknownQuantityError) Error() string {
	return fmt.Sprintf("track %d: quantity %q was never measured", e.TrackID, e.Quantity)
}

// Sample is one point of a derived time series.
type Sample struct {
	Timestamp time.Time
	Value     float64
}

// Gap is a span between consecutive records that exceeds the nominal frame
// interval by more than the configured factor.
type Gap struct {
	Start time.Time
	End   time.Time
}

// Track is one persistent feature identity: an ordered sequence of contour
// records with strictly increasing timestamps. The linker extends a track
// while it is open; Close seals it permanently. Lineage relations are kept as
// id references only.
type Track struct {
	ID    int64
	Class contour.FeatureClass

	// ParentIDs is set when the track opened from a split or merge event.
	ParentIDs []int64
	// ChildIDs is set when the track closed into a split or merge event.
	ChildIDs []int64

	records []*contour.Record
	open    bool

	// Linker bookkeeping: consecutive frames without an association.
	misses int
}

// newTrack opens a track seeded with its first record.
func newTrack(id int64, first *contour.Record) *Track {
	return &Track{
		ID:      id,
		Class:   first.Class,
		records: []*contour.Record{first},
		open:    true,
	}
}

// append extends an open track. Only the linker reaches this; records must
// arrive in strictly increasing timestamp order.
func (t *Track) append(r *contour.Record) error {
	if !t.open {
		return fmt.Errorf("track %d: append to closed track", t.ID)
	}
	if n := len(t.records); n > 0 && !r.Timestamp.After(t.records[n-1].Timestamp) {
		return fmt.Errorf("track %d: record timestamp not increasing", t.ID)
	}
	t.records = append(t.records, r)
	t.misses = 0
	return nil
}

// RestoreTrack rebuilds a closed track from archived state. Records must be
// non-empty and strictly increasing by timestamp.
func RestoreTrack(id int64, parents, children []int64, records []*contour.Record) (*Track, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("track %d: restore with no records", id)
	}
	for i := 1; i < len(records); i++ {
		if !records[i].Timestamp.After(records[i-1].Timestamp) {
			return nil, fmt.Errorf("track %d: archived records out of order at %d", id, i)
		}
	}
	return &Track{
		ID:        id,
		Class:     records[0].Class,
		ParentIDs: parents,
		ChildIDs:  children,
		records:   records,
	}, nil
}

// close seals the track. Append attempts afterwards fail.
func (t *Track) close() {
	t.open = false
}

// IsOpen reports whether the linker may still extend the track.
func (t *Track) IsOpen() bool {
	return t.open
}

// Len returns the number of records.
func (t *Track) Len() int {
	return len(t.records)
}

// Records returns the track's records in time order. The slice is shared;
// callers must treat it as read-only.
func (t *Track) Records() []*contour.Record {
	return t.records
}

// First returns the earliest record, or nil for an empty track.
func (t *Track) First() *contour.Record {
	if len(t.records) == 0 {
		return nil
	}
	return t.records[0]
}

// Last returns the most recent record, or nil for an empty track.
func (t *Track) Last() *contour.Record {
	if len(t.records) == 0 {
		return nil
	}
	return t.records[len(t.records)-1]
}

// FrameSpan returns the first and last observed frame indices.
func (t *Track) FrameSpan() (int, int) {
	if len(t.records) == 0 {
		return 0, -1
	}
	return t.records[0].FrameIndex, t.records[len(t.records)-1].FrameIndex
}

// Duration returns the wall-clock span between first and last records.
func (t *Track) Duration() time.Duration {
	if len(t.records) < 2 {
		return 0
	}
	return t.records[len(t.records)-1].Timestamp.Sub(t.records[0].Timestamp)
}

// Series returns the (timestamp, value) sequence for the named quantity, one
// sample per record in record order. Records lacking the quantity contribute
// NaN samples (the segmenter drops non-finite values); a quantity missing
// from every record is an UnknownQuantityError.
func (t *Track) Series(quantity string) ([]Sample, error) {
	samples := make([]Sample, len(t.records))
	found := false
	for i, r := range t.records {
		v, ok := r.Measurement(quantity)
		if !ok {
			v = nan
		} else {
			found = true
		}
		samples[i] = Sample{Timestamp: r.Timestamp, Value: v}
	}
	if !found {
		return nil, &UnknownQuantityError{TrackID: t.ID, Quantity: quantity}
	}
	return samples, nil
}

// AreaSeries returns the derived polygon-area series.
func (t *Track) AreaSeries() []Sample {
	samples := make([]Sample, len(t.records))
	for i, r := range t.records {
		samples[i] = Sample{Timestamp: r.Timestamp, Value: r.Area}
	}
	return samples
}

// CentroidPath returns the centroid positions in record order.
func (t *Track) CentroidPath() []geom.Point {
	path := make([]geom.Point, len(t.records))
	for i, r := range t.records {
		path[i] = r.Centroid
	}
	return path
}

// Gaps returns the spans where consecutive records are separated by more than
// factor times the nominal frame interval.
func (t *Track) Gaps(nominal time.Duration, factor float64) []Gap {
	if nominal <= 0 || len(t.records) < 2 {
		return nil
	}
	limit := time.Duration(float64(nominal) * factor)
	var gaps []Gap
	for i := 1; i < len(t.records); i++ {
		prev := t.records[i-1].Timestamp
		cur := t.records[i].Timestamp
		if cur.Sub(prev) > limit {
			gaps = append(gaps, Gap{Start: prev, End: cur})
		}
	}
	return gaps
}
