package vmux

import "github.com/zimwip/vmux/internal/leak"

// LeakRecord describes a tracked resource that has not been freed.
type LeakRecord = leak.Record

// DumpLeaks returns all tracked resources that have not been freed.
// Tracking is only compiled in with -tags leakcheck; otherwise the
// result is always empty.
func DumpLeaks() []LeakRecord { return leak.Dump() }

// ResetTracker clears all tracking state.
func ResetTracker() { leak.Reset() }

// TrackedCount returns the number of currently tracked resources.
func TrackedCount() int { return leak.Count() }
