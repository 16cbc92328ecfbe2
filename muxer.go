package vmux

import (
	"fmt"
	"io"
	"runtime"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// flushState is a step of the close sequence.
type flushState int

const (
	stateDraining flushState = iota
	stateTrailerPending
	stateDone
	stateFailed
)

func (s flushState) String() string {
	switch s {
	case stateDraining:
		return "draining"
	case stateTrailerPending:
		return "trailer-pending"
	case stateDone:
		return "done"
	}
	return "failed"
}

// muxStream pairs a container slot with the encoder feeding it.
type muxStream struct {
	index int
	slot  Slot
	enc   *StreamEncoder
}

// Stats counts what a muxer has written so far.
type Stats struct {
	// Packets holds the packets written per stream.
	Packets []int
	// Drained counts the packets written while draining on close.
	Drained int
	// Bytes is the number of bytes that reached the sink.
	Bytes int64
}

// Muxer interleaves the packets of its stream encoders into one
// container written to a sink. It is not safe for concurrent use.
//
// A Muxer must be closed with Close. If it is garbage collected
// while still open, the same drain and trailer sequence runs on a
// best-effort basis and its errors are logged and discarded.
type Muxer struct {
	container Container
	// sink is released after the container, which may still
	// write buffered bytes while it is freed.
	sink      *sink
	streams   []muxStream
	faststart bool

	formatName     string
	formatLongName string
	duration       int64

	log     *zap.Logger
	packets []int
	drained int
	closed  bool
}

// NewMuxer starts the configuration of a muxer backed by engine.
func NewMuxer(engine Engine) *MuxerBuilder {
	return newMuxerBuilder(engine)
}

// StreamCount returns the number of streams.
func (m *Muxer) StreamCount() int {
	return len(m.streams)
}

// Duration returns the container duration in whole seconds,
// floored. It is 0 while the duration is unknown, so content
// shorter than a second also reports 0.
func (m *Muxer) Duration() uint32 {
	dur := m.duration
	if !m.closed {
		dur = m.container.Duration()
	}
	if dur <= 0 {
		return 0
	}
	return uint32(dur / TimeBase)
}

// FormatName returns the short name of the container format.
func (m *Muxer) FormatName() string {
	return m.formatName
}

// FormatLongName returns the descriptive name of the container format.
func (m *Muxer) FormatLongName() string {
	return m.formatLongName
}

// Encoders returns the stream encoders in stream order.
func (m *Muxer) Encoders() []*StreamEncoder {
	encoders := make([]*StreamEncoder, len(m.streams))
	for i := range m.streams {
		encoders[i] = m.streams[i].enc
	}
	return encoders
}

// Stats returns a snapshot of the write counters.
func (m *Muxer) Stats() Stats {
	packets := make([]int, len(m.packets))
	copy(packets, m.packets)

	return Stats{
		Packets: packets,
		Drained: m.drained,
		Bytes:   m.sink.written,
	}
}

// SendFrame encodes frame on the given stream and writes every
// packet the encoder emits. Encoders may buffer, so the packets
// written need not belong to this frame. On error some packets
// may already have been written.
func (m *Muxer) SendFrame(streamIndex int, frame Frame) (int, error) {
	if m.closed {
		return 0, ErrClosed
	}
	if streamIndex < 0 || streamIndex >= len(m.streams) {
		return 0, errors.Wrapf(ErrStreamIndex, "stream %d of %d", streamIndex, len(m.streams))
	}
	if frame == nil {
		return 0, errors.Wrapf(ErrorInvalidValue, "nil frame for stream %d", streamIndex)
	}

	st := &m.streams[streamIndex]
	return st.enc.send(frame, func(pkt *Packet) error {
		return m.writePacket(st, pkt)
	})
}

// writePacket rescales pkt from the encoder time base to the
// stream time base, tags it and hands it to the container.
func (m *Muxer) writePacket(st *muxStream, pkt *Packet) error {
	from, to := st.enc.TimeBase(), st.slot.TimeBase()
	pkt.PTS = Rescale(pkt.PTS, from, to)
	pkt.DTS = Rescale(pkt.DTS, from, to)
	if pkt.Duration > 0 {
		pkt.Duration = Rescale(pkt.Duration, from, to)
	}
	pkt.StreamIndex = st.slot.Index()

	if ce := m.log.Check(zap.DebugLevel, "write packet"); ce != nil {
		ce.Write(
			zap.Int("stream", pkt.StreamIndex),
			zap.Int64("pts", pkt.PTS),
			zap.Int64("dts", pkt.DTS),
			zap.Int("size", pkt.Size()),
			zap.Bool("key", pkt.IsKeyFrame()))
	}

	if err := m.container.WritePacket(pkt); err != nil {
		return withCode(ErrWriteFailed, err)
	}
	m.packets[st.index]++

	return nil
}

// Close drains every encoder, writes the trailer and releases
// the container, the sink and the encoders, in that order.
// Resources are released even when draining fails.
func (m *Muxer) Close() error {
	if m.closed {
		return ErrClosed
	}
	m.closed = true
	runtime.SetFinalizer(m, nil)

	err := m.finish()
	if terr := m.teardown(); err == nil {
		err = terr
	}
	return err
}

// release is the implicit close path taken by the finalizer.
func (m *Muxer) release() {
	if m.closed {
		return
	}
	m.closed = true

	if err := m.finish(); err != nil {
		m.log.Warn("implicit close failed", zap.Error(err))
	}
	if err := m.teardown(); err != nil {
		m.log.Warn("implicit teardown failed", zap.Error(err))
	}
}

// finish runs the flush state machine to a terminal state.
func (m *Muxer) finish() error {
	state := stateDraining
	var err error

	for {
		switch state {
		case stateDraining:
			var produced bool
			produced, err = m.drainRound()
			switch {
			case err != nil:
				state = stateFailed
			case !produced:
				state = stateTrailerPending
			}

		case stateTrailerPending:
			if werr := m.container.WriteTrailer(); werr != nil {
				err = withCode(ErrTrailerWriteFailed, werr)
				state = stateFailed
			} else {
				state = stateDone
			}

		case stateDone:
			m.log.Debug("muxer finished",
				zap.Int("drained", m.drained),
				zap.Int64("bytes", m.sink.written))
			return nil

		case stateFailed:
			m.log.Debug("muxer close failed", zap.Error(err))
			return err
		}
	}
}

// drainRound polls every delayed encoder once and reports
// whether any of them still produced a packet.
func (m *Muxer) drainRound() (bool, error) {
	produced := false

	for i := range m.streams {
		st := &m.streams[i]
		if !st.enc.Delayed() {
			continue
		}

		pkt, status, err := st.enc.drainOne()
		if err != nil {
			return produced, err
		}
		if status != drainPacket {
			continue
		}

		err = m.writePacket(st, pkt)
		pkt.Release()
		if err != nil {
			return produced, err
		}
		m.drained++
		produced = true
	}

	return produced, nil
}

// teardown frees the container first while the sink is still
// live, then runs fast-start relocation, releases the sink, and
// finally closes the encoders.
func (m *Muxer) teardown() error {
	m.duration = m.container.Duration()
	m.container.Free()
	m.container = nil

	var err error
	if m.faststart {
		err = m.sink.faststart()
	}
	if serr := m.sink.release(); err == nil && serr != nil {
		err = errors.Wrap(serr, "release sink")
	}

	for i := range m.streams {
		m.streams[i].enc.close()
	}
	return err
}

// Dump writes a description of the output layout to w.
func (m *Muxer) Dump(w io.Writer) {
	fmt.Fprintf(w, "Output #0, %s:\n", m.formatName)
	for i, st := range m.streams {
		fmt.Fprintf(w, "  Stream #0:%d: %s (encoder tb %s, delayed=%t)\n",
			i, st.enc.Name(), st.enc.TimeBase(), st.enc.Delayed())
	}
}

func (m *Muxer) String() string {
	return fmt.Sprintf("Muxer{streams: %d, duration: %d seconds, format: %s (%s)}",
		m.StreamCount(), m.Duration(), m.formatName, m.formatLongName)
}
