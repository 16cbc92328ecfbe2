package vmux

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
)

// fakeFrame is a raw frame carrying only a timestamp.
type fakeFrame struct {
	pts int64
}

func (f fakeFrame) PTS() int64 { return f.pts }

// fakeEngine counts the contexts and codecs it hands out so tests
// can verify every failure path releases them.
type fakeEngine struct {
	globalHeader bool
	failStream   bool
	failHeader   bool
	failTrailer  bool
	failWriteAt  int // 1-based packet write that fails; 0 = never
	streamTB     Rational

	// finalizeOnFree makes Free write "FIN" through the sink, like a
	// context that flushes buffered output when it is finalized.
	finalizeOnFree bool

	liveContexts int
	contexts     []*fakeContainer
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{streamTB: R(1, 1000)}
}

func (e *fakeEngine) OpenContainer(name, format string) (Container, error) {
	if format == "" {
		format = map[string]string{".ts": "mpegts", ".mp4": "mp4", ".bin": "raw"}[path.Ext(name)]
	}
	switch format {
	case "mpegts", "mp4", "raw":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	c := &fakeContainer{engine: e, format: format}
	e.liveContexts++
	e.contexts = append(e.contexts, c)
	return c, nil
}

func (e *fakeEngine) last() *fakeContainer {
	return e.contexts[len(e.contexts)-1]
}

type fakeSlot struct {
	index int
	id    int
	tb    Rational
	codec string
}

func (s *fakeSlot) Index() int         { return s.index }
func (s *fakeSlot) SetID(id int)       { s.id = id }
func (s *fakeSlot) TimeBase() Rational { return s.tb }
func (s *fakeSlot) CopyParameters(codec Codec) error {
	if fc, ok := codec.(*fakeCodec); ok && fc.failCopy {
		return ErrorInvalidValue
	}
	s.codec = codec.Name()
	return nil
}

// written records one packet as the container saw it.
type written struct {
	stream int
	pts    int64
	dts    int64
	data   string
}

type fakeContainer struct {
	engine  *fakeEngine
	format  string
	sink    io.Writer
	slots   []*fakeSlot
	options map[string]string

	headers  int
	trailers int
	packets  []written
	freed    bool
	freeErr  error
	duration int64
}

func (c *fakeContainer) FormatName() string     { return c.format }
func (c *fakeContainer) FormatLongName() string { return "fake " + c.format }
func (c *fakeContainer) GlobalHeader() bool     { return c.engine.globalHeader }
func (c *fakeContainer) SetSink(w io.Writer)    { c.sink = w }
func (c *fakeContainer) Duration() int64        { return c.duration }

func (c *fakeContainer) NewStream(codec Codec) (Slot, error) {
	if c.engine.failStream {
		return nil, ErrorNoMemory
	}
	slot := &fakeSlot{index: len(c.slots), id: -1, tb: c.engine.streamTB}
	c.slots = append(c.slots, slot)
	return slot, nil
}

func (c *fakeContainer) WriteHeader(options map[string]string) error {
	if c.engine.failHeader {
		return ErrorIO
	}
	c.options = options
	c.headers++
	if c.format == "mp4" {
		_, err := c.sink.Write(fakeBox("ftyp", []byte("isom\x00\x00\x00\x00")))
		return err
	}
	_, err := c.sink.Write([]byte("HDR"))
	return err
}

func (c *fakeContainer) WritePacket(pkt *Packet) error {
	c.packets = append(c.packets, written{
		stream: pkt.StreamIndex,
		pts:    pkt.PTS,
		dts:    pkt.DTS,
		data:   string(pkt.Data()),
	})
	if c.engine.failWriteAt == len(c.packets) {
		return ErrorIO
	}
	c.duration = pkt.PTS * TimeBase / int64(c.engine.streamTB.Den)
	if c.format == "mp4" {
		return nil
	}
	_, err := c.sink.Write(pkt.Data())
	return err
}

func (c *fakeContainer) WriteTrailer() error {
	if c.engine.failTrailer {
		return ErrorIO
	}
	c.trailers++
	if c.format == "mp4" {
		return c.writeMovie()
	}
	_, err := c.sink.Write([]byte("TRL"))
	return err
}

// writeMovie lays out mdat then moov, the order a plain
// mp4 muxer produces.
func (c *fakeContainer) writeMovie() error {
	var payload bytes.Buffer
	for _, p := range c.packets {
		payload.WriteString(p.data)
	}
	mdatOffset := uint32(len(fakeBox("ftyp", []byte("isom\x00\x00\x00\x00"))))
	stco := make([]byte, 12)
	stco[7] = 1
	stco[8], stco[9], stco[10], stco[11] = byte((mdatOffset+8)>>24), byte((mdatOffset+8)>>16), byte((mdatOffset+8)>>8), byte(mdatOffset+8)

	moov := fakeBox("moov", fakeBox("trak", fakeBox("mdia", fakeBox("minf", fakeBox("stbl", fakeBox("stco", stco))))))
	if _, err := c.sink.Write(fakeBox("mdat", payload.Bytes())); err != nil {
		return err
	}
	_, err := c.sink.Write(moov)
	return err
}

func (c *fakeContainer) Free() {
	if c.freed {
		panic("container freed twice")
	}
	c.freed = true
	c.engine.liveContexts--
	if c.engine.finalizeOnFree {
		_, c.freeErr = c.sink.Write([]byte("FIN"))
	}
}

func fakeBox(typ string, payload []byte) []byte {
	size := 8 + len(payload)
	buf := make([]byte, 0, size)
	buf = append(buf, byte(size>>24), byte(size>>16), byte(size>>8), byte(size))
	buf = append(buf, typ...)
	return append(buf, payload...)
}

// fakeCodec holds delay frames before emitting one packet per
// frame, like an encoder with a look-ahead buffer.
type fakeCodec struct {
	name      string
	tb        Rational
	delay     int
	delayed   bool
	failOpen  ErrorType
	failCopy  bool
	failDrain bool
	failSend  bool

	// againOnFlush is the number of flush polls answered with
	// ErrorAgain before the buffered packets are released.
	againOnFlush int

	globalHeader bool
	opened       bool
	closed       int
	flushing     bool
	flushCalls   int
	flushPolls   int
	queue        []int64
	buffersLive  int
}

func newFakeCodec(delay int) *fakeCodec {
	return &fakeCodec{name: "fake", tb: R(1, 30), delay: delay, delayed: delay > 0}
}

func (c *fakeCodec) Name() string       { return c.name }
func (c *fakeCodec) TimeBase() Rational { return c.tb }
func (c *fakeCodec) SetGlobalHeader()   { c.globalHeader = true }
func (c *fakeCodec) Close()             { c.closed++ }

func (c *fakeCodec) Capabilities() Capability {
	if c.delayed {
		return CapDelay
	}
	return 0
}

func (c *fakeCodec) Open() error {
	if c.failOpen != 0 {
		return c.failOpen
	}
	c.opened = true
	return nil
}

func (c *fakeCodec) SendFrame(frame Frame) error {
	if frame == nil {
		c.flushCalls++
		if c.flushing {
			return ErrorEndOfFile
		}
		c.flushing = true
		return nil
	}
	if c.failSend {
		return ErrorInvalidValue
	}
	c.queue = append(c.queue, frame.PTS())
	return nil
}

func (c *fakeCodec) ReceivePacket() (*Packet, error) {
	if c.flushing {
		c.flushPolls++
		if c.failDrain {
			return nil, ErrorInvalidValue
		}
		if c.againOnFlush > 0 {
			c.againOnFlush--
			return nil, ErrorAgain
		}
	}
	if len(c.queue) == 0 || (!c.flushing && len(c.queue) <= c.delay) {
		if c.flushing {
			return nil, ErrorEndOfFile
		}
		return nil, ErrorAgain
	}

	pts := c.queue[0]
	c.queue = c.queue[1:]
	c.buffersLive++
	pkt := AcquirePacket([]byte(fmt.Sprintf("<%d>", pts)), nil, func() { c.buffersLive-- })
	pkt.PTS, pkt.DTS = pts, pts
	if pts == 0 {
		pkt.Flags |= FlagKey
	}
	return pkt, nil
}

// closeTracker is a sink that records Close.
type closeTracker struct {
	bytes.Buffer
	closed int
}

func (w *closeTracker) Write(p []byte) (int, error) {
	if w.closed > 0 {
		return 0, errors.New("write after close")
	}
	return w.Buffer.Write(p)
}

func (w *closeTracker) Close() error {
	w.closed++
	return nil
}
