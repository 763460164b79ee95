// Package tracking links per-frame contour records into persistent track
// identities and records their lineage. Linking is strictly sequential over
// the time axis: each frame's associations depend on the open-track state
// left by the previous frame, so there is nothing to parallelise here.
// Downstream consumers (segmentation, statistics) fan out per track instead.
package tracking

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/sunspot-data/evolution.report/internal/config"
	"github.com/sunspot-data/evolution.report/internal/contour"
	"github.com/sunspot-data/evolution.report/internal/geom"
	"github.com/sunspot-data/evolution.report/internal/monitoring"
)

var nan = math.NaN()

// Deterministic tie-breaking: exact score ties prefer the pair with greater
// spatial overlap, then the lower track id. Implemented as perturbations far
// below any physically meaningful score difference.
const (
	overlapTieEpsilon = 1e-9
	trackIDTieEpsilon = 1e-12
)

// AssociationAmbiguityError reports a best/second-best score gap below the
// configured strict-mode margin. Raised instead of silently guessing so that
// strict reproducibility runs fail loudly.
type AssociationAmbiguityError struct {
	FrameIndex    int
	RecordIndex   int
	BestTrackID   int64
	SecondTrackID int64
	Margin        float64
}

func (e *AssociationAmbiguityError) Error() string {
	return fmt.Sprintf(
		"ambiguous association at frame %d record %d: tracks %d and %d within margin %g",
		e.FrameIndex, e.RecordIndex, e.BestTrackID, e.SecondTrackID, e.Margin)
}

// IDAllocator hands out track ids. One allocator is shared by every linker in
// a pipeline run so ids are process-wide monotonic and never reused; it is
// initialised once per run and never reset mid-run.
type IDAllocator struct {
	mu   sync.Mutex
	next int64
}

// NewIDAllocator returns an allocator whose first id is 1.
func NewIDAllocator() *IDAllocator {
	return &IDAllocator{next: 1}
}

// Next returns the next track id.
func (a *IDAllocator) Next() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.next
	a.next++
	return id
}

// LinkerConfig holds the association tuning for one linker.
type LinkerConfig struct {
	// Class restricts the linker to records of one feature class; empty
	// accepts every record in the batch.
	Class contour.FeatureClass

	// Score weights; IoU + area similarity + quantity similarity.
	IoUWeight      float64
	AreaWeight     float64
	QuantityWeight float64
	MatchQuantity  string

	ScoreThreshold float64 // minimum combined score for candidacy
	GapTolerance   int     // consecutive unmatched frames before death
	AreaRatioMin   float64 // early rejection: new/old area ratio bounds
	AreaRatioMax   float64
	RasterCell     float64 // sampling cell for rasterised IoU

	// AmbiguityMargin > 0 enables strict mode: a best/second-best score gap
	// below the margin aborts the run.
	AmbiguityMargin float64

	// MinTrackFrames demotes shorter tracks (without lineage relations) to
	// unlinked noise after linking.
	MinTrackFrames int
}

// LinkerConfigFromTuning builds a LinkerConfig from a loaded TuningConfig.
func LinkerConfigFromTuning(cfg *config.TuningConfig) LinkerConfig {
	min, max := cfg.GetAreaRatioBounds()
	return LinkerConfig{
		IoUWeight:       cfg.GetIoUWeight(),
		AreaWeight:      cfg.GetAreaWeight(),
		QuantityWeight:  cfg.GetQuantityWeight(),
		MatchQuantity:   cfg.GetMatchQuantity(),
		ScoreThreshold:  cfg.GetScoreThreshold(),
		GapTolerance:    cfg.GetGapToleranceFrames(),
		AreaRatioMin:    min,
		AreaRatioMax:    max,
		RasterCell:      cfg.GetRasterCellSize(),
		AmbiguityMargin: cfg.GetAmbiguityMargin(),
		MinTrackFrames:  cfg.GetMinTrackFrames(),
	}
}

// DefaultLinkerConfig returns the canonical defaults.
func DefaultLinkerConfig() LinkerConfig {
	return LinkerConfigFromTuning(config.EmptyTuningConfig())
}

// LinkResult is the output of one linking run: the track partition, the
// lineage event log, and the records demoted to noise.
type LinkResult struct {
	Tracks   map[int64]*Track
	Events   []Event
	Unlinked []*contour.Record

	// NestedOuter maps an umbra track id to the penumbra track containing
	// it. Populated by AssociateNestedTracks; nil until then.
	NestedOuter map[int64]int64
}

// Linker assigns persistent track identities to per-frame contour records.
// Not safe for concurrent use; frame order is the serialisation point.
type Linker struct {
	cfg   LinkerConfig
	alloc *IDAllocator

	open   map[int64]*Track
	closed map[int64]*Track
	events []Event
}

// NewLinker creates a linker sharing the given id allocator.
func NewLinker(cfg LinkerConfig, alloc *IDAllocator) *Linker {
	if alloc == nil {
		alloc = NewIDAllocator()
	}
	return &Linker{
		cfg:    cfg,
		alloc:  alloc,
		open:   make(map[int64]*Track),
		closed: make(map[int64]*Track),
	}
}

// candidate is one admissible record/track pair.
type candidate struct {
	trackID int64
	score   float64
	overlap float64
}

// Link processes the batch sequence in time order and returns the track
// partition with its lineage log. The input contract (strictly increasing
// timestamps, non-degenerate polygons) is validated up front; violations are
// fatal because every downstream identity depends on a consistent order.
func (l *Linker) Link(batches []contour.FrameBatch) (*LinkResult, error) {
	if err := contour.ValidateSequence(batches); err != nil {
		return nil, err
	}

	for _, batch := range batches {
		if err := l.step(batch); err != nil {
			return nil, err
		}
	}

	// End of series: remaining open tracks close without a death event —
	// the feature may well outlive the observation window.
	for _, id := range sortedIDs(l.open) {
		t := l.open[id]
		t.close()
		l.closed[id] = t
		delete(l.open, id)
	}

	result := &LinkResult{
		Tracks: l.closed,
		Events: l.events,
	}
	l.pruneShortTracks(result)

	monitoring.Logf("linker: %d tracks, %d lineage events, %d unlinked records",
		len(result.Tracks), len(result.Events), len(result.Unlinked))
	return result, nil
}

// step links one frame against the open-track set.
func (l *Linker) step(batch contour.FrameBatch) error {
	records := l.filterClass(batch.Records)
	openIDs := sortedIDs(l.open)

	// Candidate scores per record, gated and sorted best-first.
	cands := make([][]candidate, len(records))
	for ri, rec := range records {
		cands[ri] = l.candidatesFor(rec, openIDs)
	}

	if l.cfg.AmbiguityMargin > 0 {
		if err := l.checkAmbiguity(batch.FrameIndex, cands); err != nil {
			return err
		}
	}

	assign := l.solveAssignment(records, openIDs, cands)

	matchedRecord := make(map[int64]int) // track id -> record index
	for ri, tj := range assign {
		if tj >= 0 {
			matchedRecord[openIDs[tj]] = ri
		}
	}

	consumedTracks := make(map[int64]bool)
	consumedRecords := make(map[int]bool)

	// Merges first: a record admissible to several open tracks where the
	// losers would otherwise go unmatched means the features coalesced.
	for ri := range records {
		parents := mergeParents(cands[ri], matchedRecord, ri)
		if len(parents) < 2 {
			continue
		}
		skip := false
		for _, pid := range parents {
			if consumedTracks[pid] {
				skip = true // already part of an earlier merge this frame
				break
			}
		}
		if skip {
			continue
		}
		childID := l.alloc.Next()
		child := newTrack(childID, records[ri])
		child.ParentIDs = parents
		for _, pid := range parents {
			parent := l.open[pid]
			parent.ChildIDs = append(parent.ChildIDs, childID)
			parent.close()
			l.closed[pid] = parent
			delete(l.open, pid)
			consumedTracks[pid] = true
		}
		l.open[childID] = child
		consumedRecords[ri] = true
		l.events = append(l.events, Event{
			Kind:       EventMerge,
			FrameIndex: batch.FrameIndex,
			Parents:    parents,
			Children:   []int64{childID},
		})
	}

	// Splits: a matched track also claimed by unmatched records fragmented
	// into several features. The parent closes; every claiming record opens
	// a child.
	for _, tid := range openIDs {
		if consumedTracks[tid] {
			continue
		}
		ri, matched := matchedRecord[tid]
		if !matched || consumedRecords[ri] {
			continue
		}
		extras := splitChildren(cands, assign, consumedRecords, tid, ri)
		if len(extras) == 0 {
			continue
		}
		children := append([]int{ri}, extras...)
		sort.Ints(children)

		parent := l.open[tid]
		childIDs := make([]int64, 0, len(children))
		for _, ci := range children {
			childID := l.alloc.Next()
			child := newTrack(childID, records[ci])
			child.ParentIDs = []int64{tid}
			l.open[childID] = child
			childIDs = append(childIDs, childID)
			consumedRecords[ci] = true
		}
		parent.ChildIDs = append(parent.ChildIDs, childIDs...)
		parent.close()
		l.closed[tid] = parent
		delete(l.open, tid)
		consumedTracks[tid] = true

		l.events = append(l.events, Event{
			Kind:       EventSplit,
			FrameIndex: batch.FrameIndex,
			Parents:    []int64{tid},
			Children:   childIDs,
		})
	}

	// Plain extensions.
	for _, tid := range openIDs {
		if consumedTracks[tid] {
			continue
		}
		ri, matched := matchedRecord[tid]
		if !matched || consumedRecords[ri] {
			continue
		}
		if err := l.open[tid].append(records[ri]); err != nil {
			return err
		}
		consumedRecords[ri] = true
		consumedTracks[tid] = true
	}

	// Births: remaining records open fresh tracks.
	for ri, rec := range records {
		if consumedRecords[ri] {
			continue
		}
		id := l.alloc.Next()
		l.open[id] = newTrack(id, rec)
		l.events = append(l.events, Event{
			Kind:       EventBirth,
			FrameIndex: batch.FrameIndex,
			Children:   []int64{id},
		})
	}

	// Misses: open tracks that saw nothing this frame accumulate a gap and
	// die once the tolerance is exhausted. A later reappearance is a new
	// birth, never a resurrection.
	for _, tid := range sortedIDs(l.open) {
		t := l.open[tid]
		if consumedTracks[tid] || t.Last().FrameIndex == batch.FrameIndex {
			continue
		}
		t.misses++
		if t.misses >= maxInt(l.cfg.GapTolerance, 1) {
			t.close()
			l.closed[tid] = t
			delete(l.open, tid)
			l.events = append(l.events, Event{
				Kind:       EventDeath,
				FrameIndex: batch.FrameIndex,
				Parents:    []int64{tid},
			})
		}
	}

	return nil
}

// filterClass keeps the records this linker is responsible for.
func (l *Linker) filterClass(records []*contour.Record) []*contour.Record {
	if l.cfg.Class == "" {
		return records
	}
	out := make([]*contour.Record, 0, len(records))
	for _, r := range records {
		if r.Class == l.cfg.Class {
			out = append(out, r)
		}
	}
	return out
}

// candidatesFor scores a record against every open track, gating on spatial
// overlap, area ratio, and the combined score threshold. The returned slice
// is sorted best-first with deterministic tie-breaks.
func (l *Linker) candidatesFor(rec *contour.Record, openIDs []int64) []candidate {
	var out []candidate
	for _, tid := range openIDs {
		prev := l.open[tid].Last()

		// Early area-ratio rejection avoids rasterising hopeless pairs.
		if prev.Area > 0 {
			ratio := rec.Area / prev.Area
			if ratio < l.cfg.AreaRatioMin || ratio > l.cfg.AreaRatioMax {
				continue
			}
		}

		iou := geom.IoU(prev.Polygon, rec.Polygon, l.cfg.RasterCell)
		if iou <= 0 {
			continue // association requires spatial overlap
		}

		score := l.score(prev, rec, iou)
		if score < l.cfg.ScoreThreshold {
			continue
		}
		out = append(out, candidate{trackID: tid, score: score, overlap: iou})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		if out[i].overlap != out[j].overlap {
			return out[i].overlap > out[j].overlap
		}
		return out[i].trackID < out[j].trackID
	})
	return out
}

// score combines spatial overlap with area and measured-quantity similarity.
// When the match quantity is absent on either side its weight folds into the
// area term, so scores remain comparable across records.
func (l *Linker) score(prev, rec *contour.Record, iou float64) float64 {
	areaSim := similarity(prev.Area, rec.Area)

	qKey := l.cfg.MatchQuantity
	if qKey != "" {
		qPrev, okPrev := prev.Measurement(qKey)
		qRec, okRec := rec.Measurement(qKey)
		if okPrev && okRec {
			return l.cfg.IoUWeight*iou +
				l.cfg.AreaWeight*areaSim +
				l.cfg.QuantityWeight*similarity(qPrev, qRec)
		}
	}
	return l.cfg.IoUWeight*iou + (l.cfg.AreaWeight+l.cfg.QuantityWeight)*areaSim
}

// similarity maps two scalars to [0, 1]: 1 for identical values, falling
// linearly with their relative difference.
func similarity(a, b float64) float64 {
	am, bm := math.Abs(a), math.Abs(b)
	max := math.Max(am, bm)
	if max == 0 {
		return 1
	}
	s := 1 - math.Abs(a-b)/max
	if s < 0 {
		return 0
	}
	return s
}

// checkAmbiguity enforces strict mode: any record whose two best candidates
// sit within the margin aborts the run.
func (l *Linker) checkAmbiguity(frame int, cands [][]candidate) error {
	for ri, cc := range cands {
		if len(cc) < 2 {
			continue
		}
		if cc[0].score-cc[1].score < l.cfg.AmbiguityMargin {
			return &AssociationAmbiguityError{
				FrameIndex:    frame,
				RecordIndex:   ri,
				BestTrackID:   cc[0].trackID,
				SecondTrackID: cc[1].trackID,
				Margin:        l.cfg.AmbiguityMargin,
			}
		}
	}
	return nil
}

// solveAssignment builds the gated cost matrix and solves the optimal
// one-to-one assignment. Tie-break perturbations keep equal-score optima
// deterministic: greater overlap wins, then lower track id.
func (l *Linker) solveAssignment(records []*contour.Record, openIDs []int64, cands [][]candidate) []int {
	if len(records) == 0 || len(openIDs) == 0 {
		assign := make([]int, len(records))
		for i := range assign {
			assign[i] = -1
		}
		return assign
	}

	colIndex := make(map[int64]int, len(openIDs))
	for j, tid := range openIDs {
		colIndex[tid] = j
	}

	cost := make([][]float64, len(records))
	for ri := range records {
		cost[ri] = make([]float64, len(openIDs))
		for j := range cost[ri] {
			cost[ri][j] = forbiddenCost
		}
		for _, c := range cands[ri] {
			j := colIndex[c.trackID]
			cost[ri][j] = (1 - c.score) -
				overlapTieEpsilon*c.overlap +
				trackIDTieEpsilon*float64(j)
		}
	}

	return hungarianAssign(cost)
}

// mergeParents decides whether record ri is a merge point: its admissible
// tracks, beyond the one the assignment gave it, would all go unmatched this
// frame. Returns the sorted parent ids (including the assigned track) when
// there are at least two.
func mergeParents(cc []candidate, matchedRecord map[int64]int, ri int) []int64 {
	if len(cc) < 2 {
		return nil
	}
	var parents []int64
	for _, c := range cc {
		other, matched := matchedRecord[c.trackID]
		if !matched {
			parents = append(parents, c.trackID)
			continue
		}
		if other == ri {
			parents = append(parents, c.trackID)
		}
		// A candidate track matched to a different record stays its own
		// feature; it is not merging into this one.
	}
	if len(parents) < 2 {
		return nil
	}
	sort.Slice(parents, func(i, j int) bool { return parents[i] < parents[j] })
	return parents
}

// splitChildren returns the indices of unassigned records that also claim
// track tid (score above threshold), i.e. the extra fragments of a split.
// The record already matched to tid is excluded here and re-added by the
// caller.
func splitChildren(cands [][]candidate, assign []int, consumedRecords map[int]bool, tid int64, matchedRi int) []int {
	var extras []int
	for ri := range cands {
		if ri == matchedRi || consumedRecords[ri] || assign[ri] >= 0 {
			continue
		}
		for _, c := range cands[ri] {
			if c.trackID == tid {
				extras = append(extras, ri)
				break
			}
		}
	}
	return extras
}

// pruneShortTracks demotes tracks below the minimum lifetime to unlinked
// noise. Tracks woven into the lineage graph (split/merge parents or
// children) are kept regardless, so the graph never dangles.
func (l *Linker) pruneShortTracks(result *LinkResult) {
	if l.cfg.MinTrackFrames <= 1 {
		return
	}
	pruned := make(map[int64]bool)
	for _, id := range sortedIDs(result.Tracks) {
		t := result.Tracks[id]
		if t.Len() >= l.cfg.MinTrackFrames {
			continue
		}
		if len(t.ParentIDs) > 0 || len(t.ChildIDs) > 0 {
			continue
		}
		result.Unlinked = append(result.Unlinked, t.Records()...)
		delete(result.Tracks, id)
		pruned[id] = true
	}
	if len(pruned) == 0 {
		return
	}

	// Drop birth/death events that referenced only pruned tracks.
	kept := result.Events[:0]
	for _, ev := range result.Events {
		drop := false
		if ev.Kind == EventBirth && len(ev.Children) == 1 {
			drop = pruned[ev.Children[0]]
		}
		if ev.Kind == EventDeath && len(ev.Parents) == 1 {
			drop = pruned[ev.Parents[0]]
		}
		if !drop {
			kept = append(kept, ev)
		}
	}
	result.Events = kept
}

func sortedIDs(m map[int64]*Track) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
