package vmux

import (
	"sync/atomic"
	"unsafe"

	"github.com/zimwip/vmux/internal/leak"
)

// PacketFlags describe properties of a compressed packet.
type PacketFlags int

const (
	// FlagKey marks a packet that starts a keyframe.
	FlagKey PacketFlags = 1 << iota
	// FlagDiscard marks a packet the decoder may drop.
	FlagDiscard
)

// packetBuffer is the storage shared by every handle
// referring to the same compressed data.
type packetBuffer struct {
	refs   atomic.Int32
	data   []byte
	native any
	free   func()
}

func (buf *packetBuffer) unref() {
	if buf.refs.Add(-1) != 0 {
		return
	}
	leak.Free(unsafe.Pointer(buf))
	if buf.free != nil {
		buf.free()
	}
	buf.data = nil
	buf.native = nil
}

// Packet is a reference-counted handle to one unit of
// compressed data produced by an encoder.
//
// Every handle carries its own timestamps and stream index;
// the payload is shared. The payload stays valid until the
// last handle is released.
type Packet struct {
	buf *packetBuffer

	StreamIndex int
	PTS         int64
	DTS         int64
	Duration    int64
	Flags       PacketFlags
}

// NewPacket takes ownership of data and returns the
// only handle to it.
func NewPacket(data []byte) *Packet {
	return AcquirePacket(data, nil, nil)
}

// AcquirePacket takes unique ownership of a packet produced
// elsewhere. native is an engine-specific value reachable
// through Native; free runs exactly once, when the last
// handle is released.
func AcquirePacket(data []byte, native any, free func()) *Packet {
	buf := &packetBuffer{
		data:   data,
		native: native,
		free:   free,
	}
	buf.refs.Store(1)
	leak.Alloc(leak.PacketBuffer, unsafe.Pointer(buf))

	return &Packet{
		buf:         buf,
		StreamIndex: -1,
		PTS:         NoPTS,
		DTS:         NoPTS,
	}
}

// Ref returns a new handle to the same payload. The metadata
// is copied; the receiver is left untouched.
func (pkt *Packet) Ref() *Packet {
	if pkt.buf == nil {
		panic("vmux: Ref of a released packet")
	}
	pkt.buf.refs.Add(1)

	clone := *pkt
	return &clone
}

// Release drops this handle. The payload is freed when the
// last handle goes away. Releasing twice is a no-op.
func (pkt *Packet) Release() {
	if pkt == nil || pkt.buf == nil {
		return
	}
	buf := pkt.buf
	pkt.buf = nil
	buf.unref()
}

// Released reports whether the handle has been released.
func (pkt *Packet) Released() bool {
	return pkt.buf == nil
}

// RefCount returns the number of live handles sharing the
// payload, or 0 for a released handle.
func (pkt *Packet) RefCount() int {
	if pkt.buf == nil {
		return 0
	}
	return int(pkt.buf.refs.Load())
}

// Data returns the payload without copying.
// The slice must not be used after the handle is released.
func (pkt *Packet) Data() []byte {
	if pkt.buf == nil {
		return nil
	}
	return pkt.buf.data
}

// Size returns the payload size.
func (pkt *Packet) Size() int {
	return len(pkt.Data())
}

// Native returns the engine value the packet was acquired with.
func (pkt *Packet) Native() any {
	if pkt.buf == nil {
		return nil
	}
	return pkt.buf.native
}

// IsKeyFrame reports whether FlagKey is set.
func (pkt *Packet) IsKeyFrame() bool {
	return pkt.Flags&FlagKey != 0
}

// Inspect consumes the handle: fn receives a read-only view
// that is only valid during the call, and the handle is
// released when fn returns.
func (pkt *Packet) Inspect(fn func(PacketView)) {
	defer pkt.Release()
	fn(PacketView{pkt: pkt})
}

// PacketView is a non-owning, read-only view of a packet.
type PacketView struct {
	pkt *Packet
}

func (v PacketView) Data() []byte       { return v.pkt.Data() }
func (v PacketView) StreamIndex() int   { return v.pkt.StreamIndex }
func (v PacketView) PTS() int64         { return v.pkt.PTS }
func (v PacketView) DTS() int64         { return v.pkt.DTS }
func (v PacketView) Duration() int64    { return v.pkt.Duration }
func (v PacketView) Flags() PacketFlags { return v.pkt.Flags }
func (v PacketView) IsKeyFrame() bool   { return v.pkt.IsKeyFrame() }
