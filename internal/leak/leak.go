// Package leak tracks native and pooled media resources so tests and
// long-running programs can detect buffers or contexts that were never
// released.
//
// Usage: build with -tags leakcheck to enable tracking.
// In production builds (default), all tracker calls are no-ops.
//
// Example:
//
//	m, _ := vmux.NewMuxer(engine).AddEncoder(enc).Open(w)
//	_ = m.Close()
//	leaks := vmux.DumpLeaks() // returns all un-freed resources (empty if no leaks)
package leak

// Kind identifies the type of tracked resource.
type Kind string

const (
	PacketBuffer   Kind = "PacketBuffer"
	FormatContext  Kind = "AVFormatContext"
	CodecContext   Kind = "AVCodecContext"
	Frame          Kind = "AVFrame"
	NativePacket   Kind = "AVPacket"
	IOContext      Kind = "AVIOContext"
	FilterGraph    Kind = "AVFilterGraph"
	ContainerState Kind = "Container"
)

// Record describes a tracked resource that has not been freed.
type Record struct {
	Kind  Kind
	Addr  uintptr
	Stack string // call stack at allocation time (when available)
}
