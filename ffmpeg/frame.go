package ffmpeg

/*
#cgo pkg-config: libavutil
#include <libavutil/frame.h>
#include <libavutil/pixfmt.h>
#include <string.h>
*/
import "C"

import (
	"image"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/zimwip/vmux"
	"github.com/zimwip/vmux/internal/leak"
)

// Frame is a raw RGBA picture with a timestamp in the time base
// of the encoder it is sent to.
type Frame struct {
	Image *image.RGBA
	Time  int64
}

// PTS implements vmux.Frame.
func (f *Frame) PTS() int64 {
	return f.Time
}

// avFrame copies the picture into a newly allocated AVFrame.
func (f *Frame) avFrame() (*C.AVFrame, error) {
	bounds := f.Image.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	frame := C.av_frame_alloc()
	if frame == nil {
		return nil, errors.Wrap(vmux.ErrorNoMemory, "allocate frame")
	}
	frame.width = C.int(width)
	frame.height = C.int(height)
	frame.format = C.AV_PIX_FMT_RGBA
	frame.pts = C.int64_t(f.Time)

	if st := C.av_frame_get_buffer(frame, 0); st < 0 {
		C.av_frame_free(&frame)
		return nil, avError(st, "allocate frame buffer")
	}

	stride := int(frame.linesize[0])
	dst := unsafe.Slice((*byte)(unsafe.Pointer(frame.data[0])), stride*height)
	for y := 0; y < height; y++ {
		row := f.Image.Pix[f.Image.PixOffset(bounds.Min.X, bounds.Min.Y+y):]
		copy(dst[y*stride:y*stride+width*4], row[:width*4])
	}

	leak.Alloc(leak.Frame, unsafe.Pointer(frame))
	return frame, nil
}

func freeFrame(frame *C.AVFrame) {
	leak.Free(unsafe.Pointer(frame))
	C.av_frame_free(&frame)
}
