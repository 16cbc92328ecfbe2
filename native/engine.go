// Package native is a pure-Go media engine for vmux. It writes
// H.264 streams into MPEG-TS, FLV, MP4 and fragmented MP4.
package native

import (
	"io"
	"math"
	"time"
	"unsafe"

	"github.com/nareix/joy4/av"
	"github.com/pkg/errors"

	"github.com/zimwip/vmux"
	"github.com/zimwip/vmux/internal/leak"
)

var nanos = vmux.R(1, int(time.Second))

// ParameterSource is implemented by codecs that can describe
// their stream parameters to a container.
type ParameterSource interface {
	CodecData() av.CodecData
}

// Engine opens native containers.
type Engine struct{}

// NewEngine returns the native engine.
func NewEngine() *Engine {
	return &Engine{}
}

// OpenContainer allocates a container for the named format, or
// the format inferred from name when format is empty.
func (e *Engine) OpenContainer(name, format string) (vmux.Container, error) {
	f, ok := LookupFormat(format, name)
	if !ok {
		if format == "" {
			return nil, errors.Wrapf(vmux.ErrUnknownFormat, "cannot infer format from %q", name)
		}
		return nil, errors.Wrapf(vmux.ErrUnknownFormat, "%q", format)
	}

	c := &container{format: f}
	leak.Alloc(leak.ContainerState, unsafe.Pointer(c))
	return c, nil
}

type slot struct {
	index int
	id    int
	tb    vmux.Rational
	codec av.CodecData
}

func (s *slot) Index() int              { return s.index }
func (s *slot) SetID(id int)            { s.id = id }
func (s *slot) TimeBase() vmux.Rational { return s.tb }

func (s *slot) CopyParameters(codec vmux.Codec) error {
	src, ok := codec.(ParameterSource)
	if !ok {
		return errors.Wrapf(vmux.ErrorInvalidValue, "codec %s has no stream parameters", codec.Name())
	}
	s.codec = src.CodecData()
	return nil
}

// container adapts a joy4 muxer to vmux.Container. Packets pass
// through an interleaver so the muxer sees them in DTS order.
type container struct {
	format *Format
	w      io.Writer
	slots  []*slot
	muxer  av.Muxer
	queue  interleaver
	ends   []int64
	freed  bool
}

func (c *container) FormatName() string     { return c.format.Name }
func (c *container) FormatLongName() string { return c.format.LongName }
func (c *container) GlobalHeader() bool     { return c.format.GlobalHeader }
func (c *container) SetSink(w io.Writer)    { c.w = w }

func (c *container) NewStream(codec vmux.Codec) (vmux.Slot, error) {
	// av.Packet addresses streams with an int8.
	if len(c.slots) > math.MaxInt8 {
		return nil, errors.Wrapf(vmux.ErrorInvalidValue, "at most %d streams", math.MaxInt8+1)
	}
	s := &slot{index: len(c.slots), id: -1, tb: c.format.TimeBase}
	c.slots = append(c.slots, s)
	return s, nil
}

// WriteHeader writes the container header. Native formats take
// no options; any passed are ignored.
func (c *container) WriteHeader(options map[string]string) error {
	if c.w == nil {
		return errors.Wrap(vmux.ErrorInvalidValue, "no sink")
	}
	if _, ok := c.w.(io.WriteSeeker); c.format.Seekable && !ok {
		return errors.Wrapf(vmux.ErrorInvalidValue, "%s needs a seekable output", c.format.Name)
	}

	streams := make([]av.CodecData, len(c.slots))
	for i, s := range c.slots {
		if s.codec == nil {
			return errors.Wrapf(vmux.ErrorInvalidValue, "stream %d has no parameters", i)
		}
		if !c.format.Supports(s.codec.Type()) {
			return errors.Wrapf(vmux.ErrorInvalidValue, "%s does not support %v", c.format.Name, s.codec.Type())
		}
		streams[i] = s.codec
	}

	c.muxer = c.format.newMuxer(c.w)
	c.queue.reset(len(c.slots))
	c.ends = make([]int64, len(c.slots))

	if err := c.muxer.WriteHeader(streams); err != nil {
		return errors.Wrap(vmux.ErrorIO, err.Error())
	}
	return nil
}

// WritePacket queues a reference to pkt and writes every packet
// the interleaver releases.
func (c *container) WritePacket(pkt *vmux.Packet) error {
	if c.muxer == nil {
		return errors.Wrap(vmux.ErrorInvalidValue, "header not written")
	}
	if pkt.StreamIndex < 0 || pkt.StreamIndex >= len(c.slots) {
		return errors.Wrapf(vmux.ErrorInvalidValue, "stream %d", pkt.StreamIndex)
	}

	c.queue.push(pkt.Ref(), c.dts(pkt))
	return c.drain(false)
}

func (c *container) WriteTrailer() error {
	if c.muxer == nil {
		return errors.Wrap(vmux.ErrorInvalidValue, "header not written")
	}
	if err := c.drain(true); err != nil {
		return err
	}
	if err := c.muxer.WriteTrailer(); err != nil {
		return errors.Wrap(vmux.ErrorIO, err.Error())
	}
	return nil
}

func (c *container) drain(all bool) error {
	for {
		pkt := c.queue.pop(all)
		if pkt == nil {
			return nil
		}
		err := c.write(pkt)
		pkt.Release()
		if err != nil {
			return err
		}
	}
}

func (c *container) write(pkt *vmux.Packet) error {
	tb := c.slots[pkt.StreamIndex].tb
	pts, dts := pkt.PTS, pkt.DTS
	if dts == vmux.NoPTS {
		dts = pts
	}
	if pts == vmux.NoPTS {
		pts = dts
	}

	data, err := c.format.payload(pkt.Data())
	if err != nil {
		return err
	}

	err = c.muxer.WritePacket(av.Packet{
		IsKeyFrame:      pkt.IsKeyFrame(),
		Idx:             int8(pkt.StreamIndex),
		Time:            time.Duration(vmux.Rescale(dts, tb, nanos)),
		CompositionTime: time.Duration(vmux.Rescale(pts-dts, tb, nanos)),
		Data:            data,
	})
	if err != nil {
		return errors.Wrap(vmux.ErrorIO, err.Error())
	}

	end := pts
	if pkt.Duration > 0 {
		end += pkt.Duration
	}
	if us := vmux.Rescale(end, tb, vmux.R(1, vmux.TimeBase)); us > c.ends[pkt.StreamIndex] {
		c.ends[pkt.StreamIndex] = us
	}
	return nil
}

func (c *container) dts(pkt *vmux.Packet) int64 {
	ts := pkt.DTS
	if ts == vmux.NoPTS {
		ts = pkt.PTS
	}
	if ts == vmux.NoPTS {
		return vmux.NoPTS
	}
	return vmux.Rescale(ts, c.slots[pkt.StreamIndex].tb, vmux.R(1, vmux.TimeBase))
}

// Duration returns the end of the longest stream written so
// far, in vmux.TimeBase units.
func (c *container) Duration() int64 {
	var d int64
	for _, end := range c.ends {
		d = max(d, end)
	}
	return d
}

func (c *container) Free() {
	if c.freed {
		return
	}
	c.freed = true
	c.queue.reset(0)
	leak.Free(unsafe.Pointer(c))
}
