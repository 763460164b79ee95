// Package contour defines the per-frame feature snapshot consumed by the
// linker. A Record is one extracted feature contour at one timestamp with its
// derived geometry and measured scalar quantities. Records carry no identity
// of their own; track ids are assigned by the linker.
package contour

import (
	"time"

	"github.com/sunspot-data/evolution.report/internal/geom"
)

// FeatureClass distinguishes the contour populations extracted at different
// intensity thresholds.
type FeatureClass string

const (
	ClassPenumbra FeatureClass = "penumbra" // outer sunspot boundary
	ClassUmbra    FeatureClass = "umbra"    // inner dark core
	ClassPore     FeatureClass = "pore"     // penumbra-less small feature
)

// Record is a single immutable feature snapshot: one contour in one frame.
// Derived geometry (centroid, area, perimeter) is computed once at creation
// and never recomputed. Records are shared by reference after linking; they
// must not be mutated.
type Record struct {
	FrameIndex int
	Timestamp  time.Time
	Class      FeatureClass

	Polygon      geom.Polygon
	Measurements map[string]float64

	// Derived at creation.
	Centroid  geom.Point
	Area      float64
	Perimeter float64
}

// NewRecord builds a Record and computes its derived geometry. The polygon
// and measurement map are retained as-is; callers hand over ownership.
func NewRecord(frame int, ts time.Time, class FeatureClass, poly geom.Polygon, measurements map[string]float64) (*Record, error) {
	if len(poly) < 3 {
		return nil, &MalformedInputError{
			Frame:  frame,
			Reason: "polygon has fewer than 3 vertices",
		}
	}
	area := poly.Area()
	if area == 0 {
		return nil, &MalformedInputError{
			Frame:  frame,
			Reason: "polygon encloses no area",
		}
	}
	if measurements == nil {
		measurements = map[string]float64{}
	}
	return &Record{
		FrameIndex:   frame,
		Timestamp:    ts,
		Class:        class,
		Polygon:      poly,
		Measurements: measurements,
		Centroid:     poly.Centroid(),
		Area:         area,
		Perimeter:    poly.Perimeter(),
	}, nil
}

// Measurement returns the named scalar and whether it was measured for this
// record.
func (r *Record) Measurement(name string) (float64, bool) {
	v, ok := r.Measurements[name]
	return v, ok
}

// FrameBatch is the set of Records extracted from one frame. All records in a
// batch share the batch timestamp.
type FrameBatch struct {
	FrameIndex int
	Timestamp  time.Time
	Records    []*Record
}

// ValidateSequence checks the extraction contract for a batch sequence:
// timestamps strictly increasing across batches, no duplicate timestamps, and
// every record polygon non-degenerate. A violation is fatal for the run since
// all downstream track identities depend on a consistent frame order.
func ValidateSequence(batches []FrameBatch) error {
	for i, b := range batches {
		if i > 0 && !b.Timestamp.After(batches[i-1].Timestamp) {
			return &MalformedInputError{
				Frame:  b.FrameIndex,
				Reason: "frame timestamps must be strictly increasing",
			}
		}
		for _, r := range b.Records {
			if len(r.Polygon) < 3 {
				return &MalformedInputError{
					Frame:  b.FrameIndex,
					Reason: "record polygon has fewer than 3 vertices",
				}
			}
			if !r.Timestamp.Equal(b.Timestamp) {
				return &MalformedInputError{
					Frame:  b.FrameIndex,
					Reason: "record timestamp disagrees with its batch",
				}
			}
		}
	}
	return nil
}
