//go:build !leakcheck

package leak

import "unsafe"

// No-op implementations for production builds.

func Alloc(_ Kind, _ unsafe.Pointer) {}
func Free(_ unsafe.Pointer)          {}

// Dump always returns nil in production builds.
func Dump() []Record { return nil }

// Reset is a no-op in production builds.
func Reset() {}

// Count always returns 0 in production builds.
func Count() int { return 0 }

// Enabled reports whether tracking is compiled in.
func Enabled() bool { return false }
