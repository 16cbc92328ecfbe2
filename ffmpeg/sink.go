package ffmpeg

/*
#cgo pkg-config: libavformat libavutil
#include <libavformat/avformat.h>
#include <libavformat/avio.h>
#include <stdint.h>

int goSinkWrite(void *opaque, uint8_t *buf, int buf_size);
int64_t goSinkSeek(void *opaque, int64_t offset, int whence);

static int cSinkWrite(void *opaque, const uint8_t *buf, int buf_size) {
    return goSinkWrite(opaque, (uint8_t*)buf, buf_size);
}

static int64_t cSinkSeek(void *opaque, int64_t offset, int whence) {
    return goSinkSeek(opaque, offset, whence);
}

// Non-seekable sinks get no seek callback, so muxers that
// need to patch their output fail instead of corrupting it.
static AVIOContext* newSinkAVIO(size_t opaque, uint8_t *buffer, int buffer_size, int seekable) {
    return avio_alloc_context(
        buffer,
        buffer_size,
        1,
        (void*)opaque,
        NULL,
        cSinkWrite,
        seekable ? cSinkSeek : NULL
    );
}
*/
import "C"

import (
	"io"
	"sync"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/zimwip/vmux"
	"github.com/zimwip/vmux/internal/leak"
)

// avseekSize is AVSEEK_SIZE, FFmpeg asking for the stream size.
const avseekSize = 0x10000

const ioBufferSize = 4096

// Callbacks reach Go writers through an id, since Go pointers
// must not be kept by C.
var (
	sinks      = make(map[uintptr]io.Writer)
	sinksMu    sync.RWMutex
	sinkNextID uintptr
)

func registerSink(w io.Writer) uintptr {
	sinksMu.Lock()
	defer sinksMu.Unlock()
	sinkNextID++
	sinks[sinkNextID] = w
	return sinkNextID
}

func unregisterSink(id uintptr) {
	sinksMu.Lock()
	defer sinksMu.Unlock()
	delete(sinks, id)
}

func lookupSink(id uintptr) io.Writer {
	sinksMu.RLock()
	defer sinksMu.RUnlock()
	return sinks[id]
}

//export goSinkWrite
func goSinkWrite(opaque unsafe.Pointer, buf *C.uint8_t, bufSize C.int) C.int {
	w := lookupSink(uintptr(opaque))
	if w == nil {
		return C.int(vmux.ErrorIO)
	}

	n, err := w.Write(C.GoBytes(unsafe.Pointer(buf), bufSize))
	if err != nil {
		return C.int(vmux.ErrorIO)
	}
	return C.int(n)
}

//export goSinkSeek
func goSinkSeek(opaque unsafe.Pointer, offset C.int64_t, whence C.int) C.int64_t {
	seeker, ok := lookupSink(uintptr(opaque)).(io.Seeker)
	if !ok || int(whence)&avseekSize != 0 {
		return -1
	}

	pos, err := seeker.Seek(int64(offset), int(whence))
	if err != nil {
		return -1
	}
	return C.int64_t(pos)
}

// outputIO is a write AVIO context bound to a registered sink.
type outputIO struct {
	ctx *C.AVIOContext
	id  uintptr
}

func newOutputIO(w io.Writer) (*outputIO, error) {
	_, seekable := w.(io.Seeker)
	id := registerSink(w)

	buf := C.av_malloc(bufferSize(ioBufferSize))
	if buf == nil {
		unregisterSink(id)
		return nil, errors.Wrap(vmux.ErrorNoMemory, "allocate IO buffer")
	}

	flag := C.int(0)
	if seekable {
		flag = 1
	}
	ctx := C.newSinkAVIO(C.size_t(id), (*C.uint8_t)(buf), ioBufferSize, flag)
	if ctx == nil {
		C.av_free(buf)
		unregisterSink(id)
		return nil, errors.Wrap(vmux.ErrorNoMemory, "allocate write AVIO context")
	}
	leak.Alloc(leak.IOContext, unsafe.Pointer(ctx))

	return &outputIO{ctx: ctx, id: id}, nil
}

// close flushes pending bytes to the sink and frees the context.
// The buffer may have been reallocated by FFmpeg, so it is read
// back from the context.
func (o *outputIO) close() {
	if o.ctx == nil {
		return
	}
	C.avio_flush(o.ctx)
	leak.Free(unsafe.Pointer(o.ctx))
	C.av_freep(unsafe.Pointer(&o.ctx.buffer))
	C.avio_context_free(&o.ctx)
	unregisterSink(o.id)
}
