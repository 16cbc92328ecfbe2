// Package ffmpeg is a vmux media engine backed by libavformat
// and libavcodec.
package ffmpeg

/*
#cgo pkg-config: libavformat libavcodec libavutil
#include <libavformat/avformat.h>
#include <libavcodec/avcodec.h>
#include <libavutil/dict.h>
#include <stdlib.h>
#include <string.h>
*/
import "C"

import (
	"io"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/zimwip/vmux"
	"github.com/zimwip/vmux/internal/leak"
)

// Engine opens FFmpeg output containers.
type Engine struct{}

// NewEngine returns the FFmpeg engine.
func NewEngine() *Engine {
	return &Engine{}
}

// OpenContainer allocates an output context for the named format,
// or guesses the format from name when format is empty.
func (e *Engine) OpenContainer(name, format string) (vmux.Container, error) {
	var cName, cFormat *C.char
	if name != "" {
		cName = C.CString(name)
		defer C.free(unsafe.Pointer(cName))
	}
	if format != "" {
		cFormat = C.CString(format)
		defer C.free(unsafe.Pointer(cFormat))
	}

	var ctx *C.AVFormatContext
	st := C.avformat_alloc_output_context2(&ctx, nil, cFormat, cName)
	if vmux.ErrorType(st) == vmux.ErrorNoMemory {
		return nil, errors.Wrap(vmux.ErrOutOfMemory, "allocate output context")
	}
	if st < 0 || ctx == nil {
		return nil, errors.Wrapf(vmux.ErrUnknownFormat, "format %q, name %q: %v",
			format, name, avError(st, "allocate output context"))
	}
	leak.Alloc(leak.FormatContext, unsafe.Pointer(ctx))

	return &container{ctx: ctx}, nil
}

type slot struct {
	st *C.AVStream
}

func (s *slot) Index() int   { return int(s.st.index) }
func (s *slot) SetID(id int) { s.st.id = C.int(id) }

// TimeBase returns the stream time base. The muxer may replace
// it while writing the header.
func (s *slot) TimeBase() vmux.Rational {
	return vmux.R(int(s.st.time_base.num), int(s.st.time_base.den))
}

func (s *slot) CopyParameters(codec vmux.Codec) error {
	enc, ok := codec.(*VideoEncoder)
	if !ok || enc.context() == nil {
		return errors.Wrapf(vmux.ErrorInvalidValue, "codec %s is not an FFmpeg encoder", codec.Name())
	}
	if st := C.avcodec_parameters_from_context(s.st.codecpar, enc.context()); st < 0 {
		return avError(st, "copy codec parameters")
	}
	s.st.time_base = enc.context().time_base
	return nil
}

type container struct {
	ctx  *C.AVFormatContext
	sink io.Writer
	out  *outputIO
	// Largest packet end seen per stream, in vmux.TimeBase units.
	ends map[int]int64
}

func (c *container) FormatName() string {
	return C.GoString(c.ctx.oformat.name)
}

func (c *container) FormatLongName() string {
	return C.GoString(c.ctx.oformat.long_name)
}

func (c *container) GlobalHeader() bool {
	return c.ctx.oformat.flags&C.AVFMT_GLOBALHEADER != 0
}

func (c *container) SetSink(w io.Writer) {
	c.sink = w
}

func (c *container) NewStream(codec vmux.Codec) (vmux.Slot, error) {
	st := C.avformat_new_stream(c.ctx, nil)
	if st == nil {
		return nil, errors.Wrap(vmux.ErrorNoMemory, "allocate stream")
	}
	return &slot{st: st}, nil
}

// WriteHeader binds the sink and writes the header. Options the
// format does not recognise are ignored.
func (c *container) WriteHeader(options map[string]string) error {
	if c.sink == nil {
		return errors.Wrap(vmux.ErrorInvalidValue, "no sink")
	}

	out, err := newOutputIO(c.sink)
	if err != nil {
		return err
	}
	c.out = out
	c.ctx.pb = out.ctx
	c.ctx.flags |= C.AVFMT_FLAG_CUSTOM_IO

	var opts *C.AVDictionary
	defer C.av_dict_free(&opts)
	for key, value := range options {
		cKey := C.CString(key)
		cValue := C.CString(value)
		C.av_dict_set(&opts, cKey, cValue, 0)
		C.free(unsafe.Pointer(cKey))
		C.free(unsafe.Pointer(cValue))
	}

	if st := C.avformat_write_header(c.ctx, &opts); st < 0 {
		return avError(st, "write header")
	}
	c.ends = make(map[int]int64)
	return nil
}

// WritePacket hands a new reference to the payload to the
// interleaving queue of the muxer.
func (c *container) WritePacket(pkt *vmux.Packet) error {
	out := C.av_packet_alloc()
	if out == nil {
		return errors.Wrap(vmux.ErrorNoMemory, "allocate packet")
	}
	defer C.av_packet_free(&out)

	if native := nativePacket(pkt); native != nil {
		if st := C.av_packet_ref(out, native); st < 0 {
			return avError(st, "reference packet")
		}
	} else {
		if st := C.av_new_packet(out, C.int(pkt.Size())); st < 0 {
			return avError(st, "allocate packet payload")
		}
		if pkt.Size() > 0 {
			C.memcpy(unsafe.Pointer(out.data), unsafe.Pointer(&pkt.Data()[0]), C.size_t(pkt.Size()))
		}
	}

	out.stream_index = C.int(pkt.StreamIndex)
	out.pts = C.int64_t(pkt.PTS)
	out.dts = C.int64_t(pkt.DTS)
	out.duration = C.int64_t(pkt.Duration)
	out.flags = 0
	if pkt.IsKeyFrame() {
		out.flags |= C.AV_PKT_FLAG_KEY
	}

	c.track(pkt)

	if st := C.av_interleaved_write_frame(c.ctx, out); st < 0 {
		return avError(st, "write packet")
	}
	return nil
}

func (c *container) track(pkt *vmux.Packet) {
	end := pkt.PTS
	if end == vmux.NoPTS {
		end = pkt.DTS
	}
	if end == vmux.NoPTS || pkt.StreamIndex < 0 || pkt.StreamIndex >= int(c.ctx.nb_streams) {
		return
	}
	if pkt.Duration > 0 {
		end += pkt.Duration
	}

	streams := unsafe.Slice(c.ctx.streams, int(c.ctx.nb_streams))
	tb := (&slot{st: streams[pkt.StreamIndex]}).TimeBase()
	if us := vmux.Rescale(end, tb, vmux.R(1, vmux.TimeBase)); us > c.ends[pkt.StreamIndex] {
		c.ends[pkt.StreamIndex] = us
	}
}

func (c *container) WriteTrailer() error {
	if st := C.av_write_trailer(c.ctx); st < 0 {
		return avError(st, "write trailer")
	}
	return nil
}

// Duration returns the container duration when the format sets
// one, else the end of the longest stream written.
func (c *container) Duration() int64 {
	if c.ctx.duration > 0 {
		return int64(c.ctx.duration)
	}
	var d int64
	for _, end := range c.ends {
		d = max(d, end)
	}
	return d
}

// Free releases the output context. Bytes still buffered in the
// IO context reach the sink first.
func (c *container) Free() {
	if c.ctx == nil {
		return
	}
	if c.out != nil {
		c.ctx.pb = nil
		c.out.close()
		c.out = nil
	}
	leak.Free(unsafe.Pointer(c.ctx))
	C.avformat_free_context(c.ctx)
	c.ctx = nil
}
