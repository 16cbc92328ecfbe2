package ffmpeg

import "C"

func bufferSize(size C.int) C.ulonglong {
	return C.ulonglong(size)
}
