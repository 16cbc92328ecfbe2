package native

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/nareix/joy4/av"
	"github.com/nareix/joy4/codec/h264parser"
	"github.com/pkg/errors"

	"github.com/zimwip/vmux"
)

// AccessUnit is one coded H.264 picture: the NAL units that
// belong to it and its timestamp in the codec time base.
type AccessUnit struct {
	NALUs [][]byte
	Time  int64
}

// PTS implements vmux.Frame.
func (au *AccessUnit) PTS() int64 { return au.Time }

// IsRandomAccess reports whether the unit holds an IDR slice.
func (au *AccessUnit) IsRandomAccess() bool {
	for _, nalu := range au.NALUs {
		if len(nalu) > 0 && h264.NALUType(nalu[0]&0x1f) == h264.NALUTypeIDR {
			return true
		}
	}
	return false
}

// H264Config configures an H264Codec.
type H264Config struct {
	SPS []byte
	PPS []byte
	// TimeBase is the unit of AccessUnit.Time. One access unit
	// lasts one tick. Defaults to 1/30.
	TimeBase vmux.Rational
	// Delay is the number of access units held back before the
	// first packet is emitted, like an encoder with look-ahead.
	Delay int
}

// H264Codec packages already-coded H.264 access units into
// length-prefixed packets. It does not transcode.
type H264Codec struct {
	cfg       H264Config
	codecData h264parser.CodecData

	globalHeader bool
	opened       bool
	flushing     bool
	queue        []*AccessUnit
}

// NewH264Codec validates the parameter sets and returns a codec.
func NewH264Codec(cfg H264Config) (*H264Codec, error) {
	if cfg.TimeBase == (vmux.Rational{}) {
		cfg.TimeBase = vmux.R(1, 30)
	}
	if !cfg.TimeBase.Valid() || cfg.Delay < 0 {
		return nil, errors.Wrap(vmux.ErrorInvalidValue, "h264: invalid time base or delay")
	}

	if len(cfg.SPS) < 4 || len(cfg.PPS) == 0 {
		return nil, errors.Wrap(vmux.ErrorInvalidValue, "h264: missing parameter sets")
	}

	cd, err := h264parser.NewCodecDataFromSPSAndPPS(cfg.SPS, cfg.PPS)
	if err != nil {
		return nil, errors.Wrapf(vmux.ErrorInvalidValue, "h264: %v", err)
	}

	return &H264Codec{cfg: cfg, codecData: cd}, nil
}

func (c *H264Codec) Name() string            { return "h264" }
func (c *H264Codec) TimeBase() vmux.Rational { return c.cfg.TimeBase }
func (c *H264Codec) SetGlobalHeader()        { c.globalHeader = true }
func (c *H264Codec) CodecData() av.CodecData { return c.codecData }
func (c *H264Codec) Width() int              { return c.codecData.Width() }
func (c *H264Codec) Height() int             { return c.codecData.Height() }
func (c *H264Codec) Close()                  { c.queue = nil }

func (c *H264Codec) Capabilities() vmux.Capability {
	if c.cfg.Delay > 0 {
		return vmux.CapDelay
	}
	return 0
}

func (c *H264Codec) Open() error {
	c.opened = true
	return nil
}

// SendFrame queues an *AccessUnit. A nil frame signals end of input.
func (c *H264Codec) SendFrame(frame vmux.Frame) error {
	if !c.opened {
		return errors.Wrap(vmux.ErrorInvalidValue, "h264: codec not open")
	}
	if c.flushing {
		return vmux.ErrorEndOfFile
	}
	if frame == nil {
		c.flushing = true
		return nil
	}

	au, ok := frame.(*AccessUnit)
	if !ok {
		return errors.Wrapf(vmux.ErrorInvalidValue, "h264: unexpected frame %T", frame)
	}
	if au = c.filter(au); len(au.NALUs) > 0 {
		c.queue = append(c.queue, au)
	}
	return nil
}

// filter drops delimiters and, with a global header, the
// parameter sets the container already stores.
func (c *H264Codec) filter(au *AccessUnit) *AccessUnit {
	kept := make([][]byte, 0, len(au.NALUs))
	for _, nalu := range au.NALUs {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1f) {
		case h264.NALUTypeAccessUnitDelimiter:
			continue
		case h264.NALUTypeSPS, h264.NALUTypePPS:
			if c.globalHeader {
				continue
			}
		}
		kept = append(kept, nalu)
	}
	return &AccessUnit{NALUs: kept, Time: au.Time}
}

func (c *H264Codec) ReceivePacket() (*vmux.Packet, error) {
	if len(c.queue) == 0 || (!c.flushing && len(c.queue) <= c.cfg.Delay) {
		if c.flushing {
			return nil, vmux.ErrorEndOfFile
		}
		return nil, vmux.ErrorAgain
	}

	au := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]

	data, err := h264.AVCC(au.NALUs).Marshal()
	if err != nil {
		return nil, errors.Wrapf(vmux.ErrorInvalidValue, "h264: %v", err)
	}

	pkt := vmux.NewPacket(data)
	pkt.PTS, pkt.DTS = au.Time, au.Time
	pkt.Duration = 1
	if au.IsRandomAccess() {
		pkt.Flags |= vmux.FlagKey
	}
	return pkt, nil
}
