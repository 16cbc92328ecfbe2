//go:build leakcheck

package leak

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"
)

var (
	trackerMu sync.Mutex
	tracked   = make(map[uintptr]Record)
)

func callerStack(skip int) string {
	var pcs [8]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])
	result := ""
	for {
		frame, more := frames.Next()
		result += fmt.Sprintf("  %s:%d %s\n", frame.File, frame.Line, frame.Function)
		if !more {
			break
		}
	}
	return result
}

// Alloc records a resource allocation for leak detection.
func Alloc(kind Kind, ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	trackerMu.Lock()
	defer trackerMu.Unlock()
	tracked[uintptr(ptr)] = Record{
		Kind:  kind,
		Addr:  uintptr(ptr),
		Stack: callerStack(2),
	}
}

// Free records that a resource has been released.
func Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	trackerMu.Lock()
	defer trackerMu.Unlock()
	delete(tracked, uintptr(ptr))
}

// Dump returns all tracked resources that have not been freed.
func Dump() []Record {
	trackerMu.Lock()
	defer trackerMu.Unlock()
	result := make([]Record, 0, len(tracked))
	for _, rec := range tracked {
		result = append(result, rec)
	}
	return result
}

// Reset clears all tracking state. Useful between test runs.
func Reset() {
	trackerMu.Lock()
	defer trackerMu.Unlock()
	tracked = make(map[uintptr]Record)
}

// Count returns the number of currently tracked (un-freed) resources.
func Count() int {
	trackerMu.Lock()
	defer trackerMu.Unlock()
	return len(tracked)
}

// Enabled reports whether tracking is compiled in.
func Enabled() bool { return true }
