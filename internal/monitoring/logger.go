// Package monitoring carries the pipeline's diagnostic logging hook. Batch
// stages log progress (frames linked, tracks closed, segmentation failures)
// through Logf so tests and library consumers can redirect or mute output.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but
// may be replaced by SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
