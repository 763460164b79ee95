package tracking

import (
	"sort"

	"github.com/sunspot-data/evolution.report/internal/contour"
	"github.com/sunspot-data/evolution.report/internal/geom"
	"github.com/sunspot-data/evolution.report/internal/monitoring"
)

// SuppressNested removes tracks of the same class that sit inside a larger
// track for every frame both were observed: a contour detector sometimes
// reports an interior boundary as a second feature, and the duplicate would
// otherwise double-count area statistics. Records of suppressed tracks are
// demoted to Unlinked.
func SuppressNested(result *LinkResult, minContainment, cell float64) {
	ids := sortedIDs(result.Tracks)
	suppressed := make(map[int64]bool)

	for _, innerID := range ids {
		inner := result.Tracks[innerID]
		for _, outerID := range ids {
			if innerID == outerID || suppressed[outerID] {
				continue
			}
			outer := result.Tracks[outerID]
			if inner.Class != outer.Class {
				continue
			}
			if nestedInside(inner, outer, minContainment, cell) {
				suppressed[innerID] = true
				break
			}
		}
	}

	for _, id := range ids {
		if !suppressed[id] {
			continue
		}
		result.Unlinked = append(result.Unlinked, result.Tracks[id].Records()...)
		delete(result.Tracks, id)
	}
	if len(suppressed) > 0 {
		monitoring.Logf("linker: suppressed %d nested duplicate tracks", len(suppressed))
	}
}

// nestedInside reports whether every shared frame shows the inner track's
// polygon contained in the outer's at or above the threshold. Tracks with no
// shared frames are never nested, and the inner must be the smaller of the
// two on average.
func nestedInside(inner, outer *Track, minContainment, cell float64) bool {
	if meanArea(inner) >= meanArea(outer) {
		return false
	}
	byFrame := recordsByFrame(outer)
	shared := 0
	for _, rec := range inner.Records() {
		out, ok := byFrame[rec.FrameIndex]
		if !ok {
			continue
		}
		shared++
		if geom.ContainmentRatio(rec.Polygon, out.Polygon, cell) < minContainment {
			return false
		}
	}
	return shared > 0
}

// AssociateNestedTracks runs the umbra-to-penumbra association over a link
// result and records the mapping on it. Umbrae contained by no penumbra
// track stay unmapped.
func AssociateNestedTracks(result *LinkResult, minContainment, cell float64) {
	inner := make(map[int64]*Track)
	outer := make(map[int64]*Track)
	for id, t := range result.Tracks {
		switch t.Class {
		case contour.ClassUmbra:
			inner[id] = t
		case contour.ClassPenumbra:
			outer[id] = t
		}
	}
	result.NestedOuter = AssociateNested(inner, outer, minContainment, cell)
}

// AssociateNested attaches each inner-class track (umbra) to the outer-class
// track (penumbra) that contains it, by majority vote over shared frames
// with per-frame containment at or above the threshold. Ties go to the lower
// outer id. Inner tracks contained by nothing are absent from the result.
func AssociateNested(inner, outer map[int64]*Track, minContainment, cell float64) map[int64]int64 {
	out := make(map[int64]int64)
	outerIDs := sortedIDs(outer)

	outerByFrame := make(map[int64]map[int]*contour.Record, len(outer))
	for _, oid := range outerIDs {
		outerByFrame[oid] = recordsByFrame(outer[oid])
	}

	for _, iid := range sortedIDs(inner) {
		votes := make(map[int64]int)
		for _, rec := range inner[iid].Records() {
			for _, oid := range outerIDs {
				orec, ok := outerByFrame[oid][rec.FrameIndex]
				if !ok {
					continue
				}
				if geom.ContainmentRatio(rec.Polygon, orec.Polygon, cell) >= minContainment {
					votes[oid]++
				}
			}
		}
		if best, ok := winningVote(votes); ok {
			out[iid] = best
		}
	}
	return out
}

func winningVote(votes map[int64]int) (int64, bool) {
	ids := make([]int64, 0, len(votes))
	for id := range votes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	best, bestVotes := int64(0), 0
	for _, id := range ids {
		if votes[id] > bestVotes {
			best, bestVotes = id, votes[id]
		}
	}
	return best, bestVotes > 0
}

func recordsByFrame(t *Track) map[int]*contour.Record {
	m := make(map[int]*contour.Record, t.Len())
	for _, rec := range t.Records() {
		m[rec.FrameIndex] = rec
	}
	return m
}

func meanArea(t *Track) float64 {
	if t.Len() == 0 {
		return 0
	}
	var sum float64
	for _, rec := range t.Records() {
		sum += rec.Area
	}
	return sum / float64(t.Len())
}
