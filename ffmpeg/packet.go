package ffmpeg

/*
#cgo pkg-config: libavcodec
#include <libavcodec/avcodec.h>
*/
import "C"

import (
	"unsafe"

	"github.com/zimwip/vmux"
	"github.com/zimwip/vmux/internal/leak"
)

// acquirePacket hands an encoded AVPacket to vmux. The payload is
// not copied; the AVPacket is freed with the last handle.
func acquirePacket(pkt *C.AVPacket) *vmux.Packet {
	leak.Alloc(leak.NativePacket, unsafe.Pointer(pkt))

	var data []byte
	if pkt.size > 0 {
		data = unsafe.Slice((*byte)(unsafe.Pointer(pkt.data)), int(pkt.size))
	}

	p := vmux.AcquirePacket(data, pkt, func() {
		leak.Free(unsafe.Pointer(pkt))
		C.av_packet_free(&pkt)
	})
	p.PTS = int64(pkt.pts)
	p.DTS = int64(pkt.dts)
	p.Duration = int64(pkt.duration)
	if pkt.flags&C.AV_PKT_FLAG_KEY != 0 {
		p.Flags |= vmux.FlagKey
	}
	if pkt.flags&C.AV_PKT_FLAG_DISCARD != 0 {
		p.Flags |= vmux.FlagDiscard
	}
	return p
}

// nativePacket returns the AVPacket behind p, or nil for packets
// produced elsewhere.
func nativePacket(p *vmux.Packet) *C.AVPacket {
	pkt, _ := p.Native().(*C.AVPacket)
	return pkt
}
