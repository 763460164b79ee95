package segment

import "fmt"

// InsufficientDataError reports a series too short to segment at the
// requested phase count. The caller decides whether the track is skipped or
// pooled into an unclassified bucket; segmentation never guesses.
type InsufficientDataError struct {
	Samples    int
	PhaseCount int
	MinSegment int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("series of %d samples cannot hold %d phases of at least %d samples each",
		e.Samples, e.PhaseCount, e.MinSegment)
}
