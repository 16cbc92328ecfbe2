package vmux

import "io"

// Capability is a set of encoder capability flags.
type Capability int

const (
	// CapDelay marks an encoder that may hold frames internally
	// and must be drained explicitly at end of stream.
	CapDelay Capability = 1 << iota
)

// Frame is one raw input unit for a stream encoder.
// Engines accept their own concrete frame types.
type Frame interface {
	// PTS is the presentation timestamp in the encoder time base.
	PTS() int64
}

// Codec is one encoder instance supplied by a media engine.
//
// SendFrame with a nil frame signals end of input. ReceivePacket
// returns ErrorAgain when no packet is ready yet and ErrorEndOfFile
// once the encoder is fully drained. Close must be safe on a
// codec that was never opened.
type Codec interface {
	Name() string
	Capabilities() Capability
	TimeBase() Rational
	SetGlobalHeader()
	Open() error
	SendFrame(frame Frame) error
	ReceivePacket() (*Packet, error)
	Close()
}

// Slot is the container-side stream bound to one encoder.
type Slot interface {
	Index() int
	SetID(id int)
	// TimeBase may change while the header is written;
	// it is read for every packet.
	TimeBase() Rational
	CopyParameters(codec Codec) error
}

// Container is an output context of a media engine.
type Container interface {
	FormatName() string
	FormatLongName() string
	// GlobalHeader reports whether codec configuration must be
	// stored out of band, in the container header.
	GlobalHeader() bool
	SetSink(w io.Writer)
	NewStream(codec Codec) (Slot, error)
	WriteHeader(options map[string]string) error
	// WritePacket feeds one packet for interleaving; the container
	// decides the ordering across streams. The caller keeps its
	// handle, so a container holding the packet must Ref it.
	WritePacket(pkt *Packet) error
	WriteTrailer() error
	// Duration is expressed in TimeBase units, <= 0 if unknown.
	Duration() int64
	Free()
}

// Engine resolves container formats.
type Engine interface {
	// OpenContainer resolves a format from the explicit format
	// name or, if empty, from the output name. It fails with
	// ErrUnknownFormat when nothing matches.
	OpenContainer(name, format string) (Container, error)
}
