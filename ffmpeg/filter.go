package ffmpeg

/*
#cgo pkg-config: libavfilter libavutil
#include <libavfilter/avfilter.h>
#include <libavfilter/buffersink.h>
#include <libavfilter/buffersrc.h>
#include <libavutil/frame.h>
#include <libavutil/mem.h>
#include <stdlib.h>
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/zimwip/vmux"
	"github.com/zimwip/vmux/internal/leak"
)

// filterGraph converts RGBA input frames into the pixel format
// of an encoder, optionally through a user filter chain.
type filterGraph struct {
	graph *C.AVFilterGraph
	src   *C.AVFilterContext
	sink  *C.AVFilterContext
}

// buildFilterSpec appends the pixel format conversion to the
// user filter chain.
func buildFilterSpec(userFilter, pixFmt string) string {
	if userFilter == "" {
		return fmt.Sprintf("format=%s", pixFmt)
	}
	return fmt.Sprintf("%s,format=%s", userFilter, pixFmt)
}

func newFilterGraph(width, height int, timeBase vmux.Rational, spec string) (*filterGraph, error) {
	fg := &filterGraph{graph: C.avfilter_graph_alloc()}
	if fg.graph == nil {
		return nil, errors.Wrap(vmux.ErrorNoMemory, "allocate filter graph")
	}
	leak.Alloc(leak.FilterGraph, unsafe.Pointer(fg.graph))

	if err := fg.build(width, height, timeBase, spec); err != nil {
		fg.close()
		return nil, err
	}
	return fg, nil
}

func (fg *filterGraph) build(width, height int, timeBase vmux.Rational, spec string) error {
	cBuffer := C.CString("buffer")
	defer C.free(unsafe.Pointer(cBuffer))
	cBufferSink := C.CString("buffersink")
	defer C.free(unsafe.Pointer(cBufferSink))

	buffer := C.avfilter_get_by_name(cBuffer)
	bufferSink := C.avfilter_get_by_name(cBufferSink)
	if buffer == nil || bufferSink == nil {
		return errors.Wrap(vmux.ErrorInvalidValue, "buffer filters not available")
	}

	args := fmt.Sprintf("video_size=%dx%d:pix_fmt=%d:time_base=%d/%d:pixel_aspect=1/1",
		width, height, C.AV_PIX_FMT_RGBA, timeBase.Num, timeBase.Den)
	cArgs := C.CString(args)
	defer C.free(unsafe.Pointer(cArgs))
	cIn := C.CString("in")
	defer C.free(unsafe.Pointer(cIn))
	cOut := C.CString("out")
	defer C.free(unsafe.Pointer(cOut))

	if st := C.avfilter_graph_create_filter(&fg.src, buffer, cIn, cArgs, nil, fg.graph); st < 0 {
		return avError(st, "create buffer source")
	}
	if st := C.avfilter_graph_create_filter(&fg.sink, bufferSink, cOut, nil, nil, fg.graph); st < 0 {
		return avError(st, "create buffer sink")
	}

	// The parser consumes the in/out lists it links; whatever
	// is left is freed here.
	outputs := C.avfilter_inout_alloc()
	inputs := C.avfilter_inout_alloc()
	defer C.avfilter_inout_free(&inputs)
	defer C.avfilter_inout_free(&outputs)
	if outputs == nil || inputs == nil {
		return errors.Wrap(vmux.ErrorNoMemory, "allocate filter pads")
	}

	outputs.name = C.av_strdup(cIn)
	outputs.filter_ctx = fg.src
	outputs.pad_idx = 0
	outputs.next = nil

	inputs.name = C.av_strdup(cOut)
	inputs.filter_ctx = fg.sink
	inputs.pad_idx = 0
	inputs.next = nil

	cSpec := C.CString(spec)
	defer C.free(unsafe.Pointer(cSpec))

	if st := C.avfilter_graph_parse_ptr(fg.graph, cSpec, &inputs, &outputs, nil); st < 0 {
		return avError(st, fmt.Sprintf("parse filter %q", spec))
	}
	if st := C.avfilter_graph_config(fg.graph, nil); st < 0 {
		return avError(st, "configure filter graph")
	}
	return nil
}

// push feeds one frame into the graph. A nil frame marks the end
// of input, so the graph flushes whatever it buffers.
func (fg *filterGraph) push(frame *C.AVFrame) error {
	if st := C.av_buffersrc_add_frame(fg.src, frame); st < 0 {
		return avError(st, "push frame into filter graph")
	}
	return nil
}

// pull returns the next filtered frame, or nil when the graph
// needs more input or is drained.
func (fg *filterGraph) pull() (*C.AVFrame, error) {
	frame := C.av_frame_alloc()
	if frame == nil {
		return nil, errors.Wrap(vmux.ErrorNoMemory, "allocate filtered frame")
	}

	st := C.av_buffersink_get_frame(fg.sink, frame)
	switch vmux.ErrorType(st) {
	case vmux.ErrorAgain, vmux.ErrorEndOfFile:
		C.av_frame_free(&frame)
		return nil, nil
	}
	if st < 0 {
		C.av_frame_free(&frame)
		return nil, avError(st, "pull frame from filter graph")
	}

	leak.Alloc(leak.Frame, unsafe.Pointer(frame))
	return frame, nil
}

func (fg *filterGraph) close() {
	if fg.graph == nil {
		return
	}
	leak.Free(unsafe.Pointer(fg.graph))
	C.avfilter_graph_free(&fg.graph)
}
