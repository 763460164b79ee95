// Package pipeline fans independent per-track work out to a bounded worker
// pool. Linking is sequential by nature; segmentation is not, so once a run
// is linked each track segments on its own worker with read-only input.
package pipeline

import (
	"sort"
	"sync"

	"github.com/sunspot-data/evolution.report/internal/monitoring"
	"github.com/sunspot-data/evolution.report/internal/segment"
	"github.com/sunspot-data/evolution.report/internal/stats"
	"github.com/sunspot-data/evolution.report/internal/tracking"
)

// SegmentReport is the outcome of segmenting a run: phase rows per track and
// the tracks that could not be segmented, each with its reason. Failures are
// reported, never silently dropped.
type SegmentReport struct {
	Phases   map[int64][]segment.Phase
	Failures []stats.Failure
}

// SegmentTracks segments every track's series for the quantity on a pool of
// workers. Track-local errors (too short, unknown quantity) go into the
// report; they never abort the run.
func SegmentTracks(tracks map[int64]*tracking.Track, quantity string, seg *segment.Segmenter, workers int) *SegmentReport {
	if workers < 1 {
		workers = 1
	}

	ids := make([]int64, 0, len(tracks))
	for id := range tracks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	type outcome struct {
		id     int64
		phases []segment.Phase
		err    error
	}

	jobs := make(chan int64)
	results := make(chan outcome)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				phases, err := segmentTrack(tracks[id], quantity, seg)
				results <- outcome{id: id, phases: phases, err: err}
			}
		}()
	}
	go func() {
		for _, id := range ids {
			jobs <- id
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	report := &SegmentReport{Phases: make(map[int64][]segment.Phase, len(tracks))}
	for out := range results {
		if out.err != nil {
			report.Failures = append(report.Failures, stats.Failure{TrackID: out.id, Err: out.err})
			continue
		}
		report.Phases[out.id] = out.phases
	}
	sort.Slice(report.Failures, func(i, j int) bool {
		return report.Failures[i].TrackID < report.Failures[j].TrackID
	})

	monitoring.Logf("pipeline: segmented %d/%d tracks (%d failures)",
		len(report.Phases), len(tracks), len(report.Failures))
	return report
}

// segmentTrack derives the track's series for the quantity and segments it.
// The x axis is the frame index, so breakpoints line up with record order
// even across observation gaps.
func segmentTrack(t *tracking.Track, quantity string, seg *segment.Segmenter) ([]segment.Phase, error) {
	var samples []tracking.Sample
	if quantity == stats.QuantityArea {
		samples = t.AreaSeries()
	} else {
		var err error
		samples, err = t.Series(quantity)
		if err != nil {
			return nil, err
		}
	}

	x := make([]float64, len(samples))
	y := make([]float64, len(samples))
	for i, rec := range t.Records() {
		x[i] = float64(rec.FrameIndex)
		y[i] = samples[i].Value
	}
	return seg.Segment(x, y)
}

// Labeled pairs the run's tracks with their phase rows for the statistics
// stage, skipping tracks that failed segmentation.
func (r *SegmentReport) Labeled(tracks map[int64]*tracking.Track) []stats.TrackPhases {
	ids := make([]int64, 0, len(r.Phases))
	for id := range r.Phases {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]stats.TrackPhases, 0, len(ids))
	for _, id := range ids {
		t, ok := tracks[id]
		if !ok {
			continue
		}
		out = append(out, stats.TrackPhases{Track: t, Phases: r.Phases[id]})
	}
	return out
}
