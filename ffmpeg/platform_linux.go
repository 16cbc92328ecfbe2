package ffmpeg

import "C"

func bufferSize(size C.int) C.ulong {
	return C.ulong(size)
}
