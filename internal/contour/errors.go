package contour

import "fmt"

// MalformedInputError reports a violation of the extraction contract:
// non-monotonic or duplicate frame timestamps, or degenerate polygons.
// It aborts the whole run — downstream track identities are meaningless
// once the frame order is inconsistent.
type MalformedInputError struct {
	Frame  int
	Reason string
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("malformed input at frame %d: %s", e.Frame, e.Reason)
}
