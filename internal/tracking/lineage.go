package tracking

// EventKind labels a lineage event.
type EventKind string

const (
	EventBirth EventKind = "birth" // a record with no acceptable association opened a track
	EventDeath EventKind = "death" // an open track exceeded the gap tolerance
	EventSplit EventKind = "split" // one parent track gave rise to several records
	EventMerge EventKind = "merge" // several parent tracks resolved to one record
)

// Event is one entry of the append-only lineage log. Tracks are referenced by
// id only; the log never holds track objects, so split/merge relations stay
// acyclic by construction.
type Event struct {
	Kind       EventKind
	FrameIndex int

	// Parents are the track ids closed by the event (death, split, merge).
	Parents []int64
	// Children are the track ids opened by the event (birth, split, merge).
	Children []int64
}
