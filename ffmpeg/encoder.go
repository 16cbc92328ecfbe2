package ffmpeg

/*
#cgo pkg-config: libavcodec libavutil
#include <libavcodec/avcodec.h>
#include <libavutil/dict.h>
#include <libavutil/pixdesc.h>
#include <stdlib.h>
*/
import "C"

import (
	"unsafe"

	"github.com/pkg/errors"

	"github.com/zimwip/vmux"
	"github.com/zimwip/vmux/internal/leak"
)

// VideoEncoderConfig describes a video encoder. Zero values take
// the defaults noted on each field.
type VideoEncoderConfig struct {
	// Codec is the encoder name (e.g., "libx264", "mpeg4").
	Codec  string
	Width  int
	Height int
	// PixelFormat is the encoder input format. Defaults to yuv420p.
	PixelFormat string
	// TimeBase is the unit of frame timestamps. Defaults to 1/30.
	TimeBase vmux.Rational
	// BitRate in bits per second. Defaults to 1 Mbps.
	BitRate int64
	// GOPSize defaults to 12.
	GOPSize int
	// MaxBFrames is the number of B-frames between references.
	MaxBFrames int
	// Filter is an optional filter chain run before the pixel
	// format conversion (e.g., "hflip").
	Filter string
	// Options are private encoder options (e.g., "preset").
	Options map[string]string
}

// VideoEncoder encodes RGBA frames with a libavcodec encoder.
type VideoEncoder struct {
	cfg    VideoEncoderConfig
	codec  *C.AVCodec
	ctx    *C.AVCodecContext
	filter *filterGraph

	// Filtered frames the encoder has not accepted yet.
	pending []*C.AVFrame
	eof     bool
	eofSent bool
}

// NewVideoEncoder looks up the named encoder and allocates its
// context. The encoder is opened by the muxer.
func NewVideoEncoder(cfg VideoEncoderConfig) (*VideoEncoder, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, errors.Wrapf(vmux.ErrorInvalidValue, "frame size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.PixelFormat == "" {
		cfg.PixelFormat = "yuv420p"
	}
	if cfg.TimeBase == (vmux.Rational{}) {
		cfg.TimeBase = vmux.R(1, 30)
	}
	if cfg.BitRate == 0 {
		cfg.BitRate = 1000000
	}
	if cfg.GOPSize == 0 {
		cfg.GOPSize = 12
	}

	codec, err := findEncoder(cfg.Codec)
	if err != nil {
		return nil, err
	}

	cPixFmt := C.CString(cfg.PixelFormat)
	defer C.free(unsafe.Pointer(cPixFmt))
	pixFmt := C.av_get_pix_fmt(cPixFmt)
	if pixFmt == C.AV_PIX_FMT_NONE {
		return nil, errors.Wrapf(vmux.ErrorInvalidValue, "unknown pixel format %q", cfg.PixelFormat)
	}

	ctx := C.avcodec_alloc_context3(codec)
	if ctx == nil {
		return nil, errors.Wrap(vmux.ErrorNoMemory, "allocate encoder context")
	}
	leak.Alloc(leak.CodecContext, unsafe.Pointer(ctx))

	ctx.width = C.int(cfg.Width)
	ctx.height = C.int(cfg.Height)
	ctx.pix_fmt = int32(pixFmt)
	ctx.time_base = C.AVRational{num: C.int(cfg.TimeBase.Num), den: C.int(cfg.TimeBase.Den)}
	ctx.framerate = C.AVRational{num: C.int(cfg.TimeBase.Den), den: C.int(cfg.TimeBase.Num)}
	ctx.bit_rate = C.int64_t(cfg.BitRate)
	ctx.gop_size = C.int(cfg.GOPSize)
	ctx.max_b_frames = C.int(cfg.MaxBFrames)

	return &VideoEncoder{cfg: cfg, codec: codec, ctx: ctx}, nil
}

// findEncoder finds an encoder by name.
func findEncoder(name string) (*C.AVCodec, error) {
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))

	codec := C.avcodec_find_encoder_by_name(cName)
	if codec == nil {
		return nil, errors.Wrapf(vmux.ErrorEncoder, "%q", name)
	}
	if codec._type != C.AVMEDIA_TYPE_VIDEO {
		return nil, errors.Wrapf(vmux.ErrorInvalidValue, "%q is not a video encoder", name)
	}
	return codec, nil
}

func (enc *VideoEncoder) Name() string {
	return C.GoString(enc.codec.name)
}

// Capabilities reports CapDelay for encoders that buffer frames.
func (enc *VideoEncoder) Capabilities() vmux.Capability {
	if enc.codec.capabilities&C.AV_CODEC_CAP_DELAY != 0 {
		return vmux.CapDelay
	}
	return 0
}

// TimeBase returns the context time base, which the encoder may
// adjust when it opens.
func (enc *VideoEncoder) TimeBase() vmux.Rational {
	if enc.ctx == nil {
		return enc.cfg.TimeBase
	}
	return vmux.R(int(enc.ctx.time_base.num), int(enc.ctx.time_base.den))
}

func (enc *VideoEncoder) SetGlobalHeader() {
	if enc.ctx == nil {
		return
	}
	enc.ctx.flags |= C.AV_CODEC_FLAG_GLOBAL_HEADER
}

// GlobalHeader reports whether the encoder stores its
// parameter sets out of band.
func (enc *VideoEncoder) GlobalHeader() bool {
	return enc.ctx != nil && enc.ctx.flags&C.AV_CODEC_FLAG_GLOBAL_HEADER != 0
}

// Open opens the encoder and builds the input filter graph.
func (enc *VideoEncoder) Open() error {
	if enc.ctx == nil {
		return errors.Wrap(vmux.ErrorInvalidValue, "encoder closed")
	}

	var opts *C.AVDictionary
	defer C.av_dict_free(&opts)
	for key, value := range enc.cfg.Options {
		cKey := C.CString(key)
		cValue := C.CString(value)
		C.av_dict_set(&opts, cKey, cValue, 0)
		C.free(unsafe.Pointer(cKey))
		C.free(unsafe.Pointer(cValue))
	}

	if st := C.avcodec_open2(enc.ctx, enc.codec, &opts); st < 0 {
		return avError(st, "open encoder "+enc.Name())
	}

	fg, err := newFilterGraph(enc.cfg.Width, enc.cfg.Height, enc.TimeBase(),
		buildFilterSpec(enc.cfg.Filter, enc.cfg.PixelFormat))
	if err != nil {
		return err
	}
	enc.filter = fg
	return nil
}

// SendFrame converts and queues a *Frame. A nil frame flushes the
// filter graph and then signals end of input to the encoder.
func (enc *VideoEncoder) SendFrame(frame vmux.Frame) error {
	if enc.filter == nil {
		return errors.Wrap(vmux.ErrorInvalidValue, "encoder not open")
	}
	if enc.eof {
		return vmux.ErrorEndOfFile
	}

	if frame == nil {
		enc.eof = true
		if err := enc.filter.push(nil); err != nil {
			return err
		}
	} else {
		f, ok := frame.(*Frame)
		if !ok {
			return errors.Wrapf(vmux.ErrorInvalidValue, "unexpected frame %T", frame)
		}
		if b := f.Image.Bounds(); b.Dx() != enc.cfg.Width || b.Dy() != enc.cfg.Height {
			return errors.Wrapf(vmux.ErrorInvalidValue, "frame size %dx%d, encoder expects %dx%d",
				b.Dx(), b.Dy(), enc.cfg.Width, enc.cfg.Height)
		}

		av, err := f.avFrame()
		if err != nil {
			return err
		}
		err = enc.filter.push(av)
		freeFrame(av)
		if err != nil {
			return err
		}
	}

	for {
		filtered, err := enc.filter.pull()
		if err != nil {
			return err
		}
		if filtered == nil {
			break
		}
		filtered.pict_type = C.AV_PICTURE_TYPE_NONE
		enc.pending = append(enc.pending, filtered)
	}
	return enc.feed()
}

// feed hands queued frames to the encoder until it is full.
func (enc *VideoEncoder) feed() error {
	for len(enc.pending) > 0 {
		st := C.avcodec_send_frame(enc.ctx, enc.pending[0])
		if vmux.ErrorType(st) == vmux.ErrorAgain {
			return nil
		}
		freeFrame(enc.pending[0])
		enc.pending = enc.pending[1:]
		if st < 0 {
			return avError(st, "send frame to encoder")
		}
	}

	if enc.eof && !enc.eofSent {
		if st := C.avcodec_send_frame(enc.ctx, nil); st < 0 && vmux.ErrorType(st) != vmux.ErrorEndOfFile {
			return avError(st, "flush encoder")
		}
		enc.eofSent = true
	}
	return nil
}

// ReceivePacket returns the next encoded packet. The packet keeps
// the AVPacket alive until its last handle is released.
func (enc *VideoEncoder) ReceivePacket() (*vmux.Packet, error) {
	if enc.filter == nil {
		return nil, errors.Wrap(vmux.ErrorInvalidValue, "encoder not open")
	}

	for {
		pkt := C.av_packet_alloc()
		if pkt == nil {
			return nil, errors.Wrap(vmux.ErrorNoMemory, "allocate packet")
		}

		st := C.avcodec_receive_packet(enc.ctx, pkt)
		if st == 0 {
			return acquirePacket(pkt), nil
		}
		C.av_packet_free(&pkt)

		// The encoder drained its queue; retry with the frames
		// it refused earlier.
		if vmux.ErrorType(st) == vmux.ErrorAgain && (len(enc.pending) > 0 || (enc.eof && !enc.eofSent)) {
			if err := enc.feed(); err != nil {
				return nil, err
			}
			continue
		}
		return nil, status(st, "receive packet")
	}
}

// Close frees the encoder. It is safe on an encoder that was
// never opened and when called twice.
func (enc *VideoEncoder) Close() {
	for _, f := range enc.pending {
		freeFrame(f)
	}
	enc.pending = nil

	if enc.filter != nil {
		enc.filter.close()
		enc.filter = nil
	}
	if enc.ctx != nil {
		leak.Free(unsafe.Pointer(enc.ctx))
		C.avcodec_free_context(&enc.ctx)
	}
}

// context exposes the codec context to stream setup.
func (enc *VideoEncoder) context() *C.AVCodecContext {
	return enc.ctx
}
