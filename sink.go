package vmux

import (
	"io"

	"github.com/pkg/errors"
)

// sink is the destination bound to a muxer. It counts the bytes
// the container writes and is released only after the container
// context, since finalization may still write through it.
type sink struct {
	dst     io.Writer
	written int64
}

func (s *sink) Write(p []byte) (int, error) {
	n, err := s.dst.Write(p)
	s.written += int64(n)
	return n, err
}

// seekSink exposes Seek for destinations that support it,
// so engines can detect seekable output by type assertion.
type seekSink struct {
	*sink
	seeker io.Seeker
}

func (s seekSink) Seek(offset int64, whence int) (int64, error) {
	return s.seeker.Seek(offset, whence)
}

// newSink wraps dst. The returned writer is what the container
// writes to; it is an io.WriteSeeker when dst is seekable.
func newSink(dst io.Writer) (*sink, io.Writer) {
	s := &sink{dst: dst}
	if seeker, ok := dst.(io.Seeker); ok {
		return s, seekSink{sink: s, seeker: seeker}
	}
	return s, s
}

// faststart relocates the moov box of a finished mp4 file.
func (s *sink) faststart() error {
	rws, ok := s.dst.(readWriteSeeker)
	if !ok {
		return errors.New("output must support reading for faststart (e.g., *os.File)")
	}
	return relocateMoov(rws)
}

// release closes the destination if it is closable.
func (s *sink) release() error {
	if c, ok := s.dst.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
