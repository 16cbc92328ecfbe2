package ffmpeg

/*
#cgo pkg-config: libavutil
#include <libavutil/error.h>
*/
import "C"

import (
	"github.com/pkg/errors"

	"github.com/zimwip/vmux"
)

// avError turns a negative FFmpeg status into an error carrying
// the status as a vmux.ErrorType, so vmux.CodeOf recovers it.
func avError(status C.int, what string) error {
	var buf [C.AV_ERROR_MAX_STRING_SIZE]C.char
	C.av_strerror(status, &buf[0], C.AV_ERROR_MAX_STRING_SIZE)
	return errors.Wrapf(vmux.ErrorType(status), "%s: %s", what, C.GoString(&buf[0]))
}

// status maps the statuses the muxer loop branches on and
// wraps everything else.
func status(st C.int, what string) error {
	switch vmux.ErrorType(st) {
	case vmux.ErrorAgain, vmux.ErrorEndOfFile:
		return vmux.ErrorType(st)
	}
	return avError(st, what)
}
