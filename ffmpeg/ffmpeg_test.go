package ffmpeg

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zimwip/vmux"
)

const (
	testWidth  = 64
	testHeight = 48
)

// memFile is an in-memory read-write-seeker.
type memFile struct {
	data []byte
	pos  int
}

func (f *memFile) Read(p []byte) (int, error) {
	if f.pos >= len(f.data) {
		return 0, io.EOF
	}
	n := copy(p, f.data[f.pos:])
	f.pos += n
	return n, nil
}

func (f *memFile) Write(p []byte) (int, error) {
	if end := f.pos + len(p); end > len(f.data) {
		f.data = append(f.data, make([]byte, end-len(f.data))...)
	}
	copy(f.data[f.pos:], p)
	f.pos += len(p)
	return len(p), nil
}

func (f *memFile) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekCurrent:
		offset += int64(f.pos)
	case io.SeekEnd:
		offset += int64(len(f.data))
	}
	if offset < 0 {
		return 0, errors.New("negative seek")
	}
	f.pos = int(offset)
	return offset, nil
}

func testFrame(i int) *Frame {
	img := image.NewRGBA(image.Rect(0, 0, testWidth, testHeight))
	for y := 0; y < testHeight; y++ {
		for x := 0; x < testWidth; x++ {
			img.SetRGBA(x, y, color.RGBA{uint8(x * 4), uint8(y * 5), uint8(i * 8), 255})
		}
	}
	return &Frame{Image: img, Time: int64(i)}
}

func newTestEncoder(t *testing.T, cfg VideoEncoderConfig) *VideoEncoder {
	t.Helper()
	if cfg.Codec == "" {
		cfg.Codec = "mpeg4"
	}
	cfg.Width, cfg.Height = testWidth, testHeight
	enc, err := NewVideoEncoder(cfg)
	require.NoError(t, err)
	return enc
}

func topLevelBoxes(data []byte) []string {
	var types []string
	for pos := 0; pos+8 <= len(data); {
		size := int(binary.BigEndian.Uint32(data[pos:]))
		types = append(types, string(data[pos+4:pos+8]))
		if size < 8 {
			break
		}
		pos += size
	}
	return types
}

func TestBuildFilterSpec(t *testing.T) {
	assert.Equal(t, "format=yuv420p", buildFilterSpec("", "yuv420p"))
	assert.Equal(t, "hflip,format=yuv420p", buildFilterSpec("hflip", "yuv420p"))
}

func TestOpenUnknownFormat(t *testing.T) {
	_, err := NewEngine().OpenContainer("", "no-such-format")
	assert.True(t, errors.Is(err, vmux.ErrUnknownFormat))

	_, err = NewEngine().OpenContainer("out.unknownext", "")
	assert.True(t, errors.Is(err, vmux.ErrUnknownFormat))
}

func TestNewVideoEncoderErrors(t *testing.T) {
	_, err := NewVideoEncoder(VideoEncoderConfig{Codec: "no-such-encoder", Width: 16, Height: 16})
	assert.Equal(t, vmux.ErrorEncoder, vmux.CodeOf(err))

	_, err = NewVideoEncoder(VideoEncoderConfig{Codec: "mpeg4"})
	assert.Equal(t, vmux.ErrorInvalidValue, vmux.CodeOf(err))

	_, err = NewVideoEncoder(VideoEncoderConfig{Codec: "mpeg4", Width: 16, Height: 16, PixelFormat: "nope"})
	assert.Equal(t, vmux.ErrorInvalidValue, vmux.CodeOf(err))
}

func TestEncoderCloseWithoutOpen(t *testing.T) {
	enc := newTestEncoder(t, VideoEncoderConfig{})
	enc.Close()
	enc.Close()
}

func TestReuseClosedEncoder(t *testing.T) {
	enc := newTestEncoder(t, VideoEncoderConfig{})
	enc.Close()

	_, err := vmux.NewMuxer(NewEngine()).FormatName("mp4").AddEncoder(enc).Open(&memFile{})
	assert.True(t, errors.Is(err, vmux.ErrEncoderOpenFailed))
	assert.False(t, enc.GlobalHeader())
}

func TestMuxMP4(t *testing.T) {
	out := &memFile{}
	enc := newTestEncoder(t, VideoEncoderConfig{MaxBFrames: 2})

	m, err := vmux.NewMuxer(NewEngine()).
		Name("out.mp4").
		AddEncoder(enc).
		Option("movflags", "+faststart").
		Open(out)
	require.NoError(t, err)
	assert.Equal(t, "mp4", m.FormatName())
	assert.True(t, enc.GlobalHeader(), "mp4 stores codec parameters out of band")

	for i := 0; i < 30; i++ {
		_, err := m.SendFrame(0, testFrame(i))
		require.NoError(t, err)
	}
	require.NoError(t, m.Close())

	assert.Equal(t, 30, m.Stats().Packets[0])
	assert.LessOrEqual(t, m.Duration(), uint32(1))

	boxes := topLevelBoxes(out.data)
	moov, mdat := -1, -1
	for i, typ := range boxes {
		switch typ {
		case "moov":
			moov = i
		case "mdat":
			mdat = i
		}
	}
	require.NotEqual(t, -1, moov, "boxes: %v", boxes)
	require.NotEqual(t, -1, mdat, "boxes: %v", boxes)
	assert.Less(t, moov, mdat)
}

func TestMuxMPEGTS(t *testing.T) {
	var out bytes.Buffer

	m, err := vmux.NewMuxer(NewEngine()).
		FormatName("mpegts").
		AddEncoder(newTestEncoder(t, VideoEncoderConfig{Filter: "hflip"})).
		Open(&out)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := m.SendFrame(0, testFrame(i))
		require.NoError(t, err)
	}
	require.NoError(t, m.Close())

	require.NotZero(t, out.Len())
	assert.Zero(t, out.Len()%188)
	assert.Equal(t, byte(0x47), out.Bytes()[0])
}

func TestMP4NeedsSeekableOutput(t *testing.T) {
	enc := newTestEncoder(t, VideoEncoderConfig{})

	_, err := vmux.NewMuxer(NewEngine()).FormatName("mp4").AddEncoder(enc).Open(&bytes.Buffer{})
	assert.True(t, errors.Is(err, vmux.ErrHeaderWriteFailed))
	assert.Nil(t, enc.context(), "encoder released after failed open")
}

func TestEncoderOpenFailure(t *testing.T) {
	enc := newTestEncoder(t, VideoEncoderConfig{PixelFormat: "rgb24"})

	_, err := vmux.NewMuxer(NewEngine()).FormatName("matroska").AddEncoder(enc).Open(&memFile{})
	assert.True(t, errors.Is(err, vmux.ErrEncoderOpenFailed))
	assert.Less(t, int(vmux.CodeOf(err)), 0)
	assert.Zero(t, vmux.TrackedCount())
}

func TestSendWrongFrame(t *testing.T) {
	m, err := vmux.NewMuxer(NewEngine()).
		FormatName("matroska").
		AddEncoder(newTestEncoder(t, VideoEncoderConfig{})).
		Open(&memFile{})
	require.NoError(t, err)
	defer m.Close()

	small := &Frame{Image: image.NewRGBA(image.Rect(0, 0, 8, 8))}
	_, err = m.SendFrame(0, small)
	assert.True(t, errors.Is(err, vmux.ErrEncodingFailed))
	assert.Equal(t, vmux.ErrorInvalidValue, vmux.CodeOf(err))
}

func TestSinkRegistry(t *testing.T) {
	var buf bytes.Buffer

	id := registerSink(&buf)
	require.NotZero(t, id)
	assert.Same(t, &buf, lookupSink(id))

	other := registerSink(&memFile{})
	assert.NotEqual(t, id, other)

	unregisterSink(id)
	assert.Nil(t, lookupSink(id))
	unregisterSink(other)
}

func TestFindEncoder(t *testing.T) {
	_, err := findEncoder("mpeg4")
	assert.NoError(t, err)

	_, err = findEncoder("aac")
	assert.Equal(t, vmux.ErrorInvalidValue, vmux.CodeOf(err), "audio encoder rejected")
}
