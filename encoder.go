package vmux

import "github.com/pkg/errors"

type drainStatus int

const (
	drainPacket drainStatus = iota
	drainAgain
	drainEnd
)

// StreamEncoder drives one codec bound to one output stream.
// It is owned by exactly one Muxer slot once the muxer is open.
type StreamEncoder struct {
	codec    Codec
	timeBase Rational
	opened   bool
	flushing bool
}

// NewStreamEncoder wraps a pre-configured engine codec.
func NewStreamEncoder(codec Codec) *StreamEncoder {
	return &StreamEncoder{codec: codec}
}

// Codec returns the wrapped engine codec.
func (enc *StreamEncoder) Codec() Codec {
	return enc.codec
}

// Name returns the codec name.
func (enc *StreamEncoder) Name() string {
	return enc.codec.Name()
}

// TimeBase returns the encoder time base. Once the encoder
// is open the value is fixed for its lifetime.
func (enc *StreamEncoder) TimeBase() Rational {
	if enc.opened {
		return enc.timeBase
	}
	return enc.codec.TimeBase()
}

// Capabilities returns the codec capability flags.
func (enc *StreamEncoder) Capabilities() Capability {
	return enc.codec.Capabilities()
}

// Delayed reports whether the encoder may buffer output
// and therefore needs draining at end of stream.
func (enc *StreamEncoder) Delayed() bool {
	return enc.Capabilities()&CapDelay != 0
}

func (enc *StreamEncoder) open(globalHeader bool) error {
	if globalHeader {
		enc.codec.SetGlobalHeader()
	}
	if err := enc.codec.Open(); err != nil {
		return err
	}
	enc.timeBase = enc.codec.TimeBase()
	enc.opened = true

	return nil
}

// send submits one frame and hands every packet the codec
// emits to emit, in emission order. Each packet is released
// after emit returns. It returns the number of packets emit
// accepted.
func (enc *StreamEncoder) send(frame Frame, emit func(*Packet) error) (int, error) {
	if err := enc.codec.SendFrame(frame); err != nil {
		return 0, withCode(ErrEncodingFailed, err)
	}

	written := 0
	for {
		pkt, err := enc.codec.ReceivePacket()
		if errors.Is(err, ErrorAgain) || errors.Is(err, ErrorEndOfFile) {
			return written, nil
		}
		if err != nil {
			return written, withCode(ErrEncodingFailed, err)
		}

		err = emit(pkt)
		pkt.Release()
		if err != nil {
			return written, err
		}
		written++
	}
}

// drainOne performs one drain step: end of input is signalled
// on the first call, then at most one packet is received.
func (enc *StreamEncoder) drainOne() (*Packet, drainStatus, error) {
	if !enc.flushing {
		enc.flushing = true
		err := enc.codec.SendFrame(nil)
		if err != nil && !errors.Is(err, ErrorEndOfFile) {
			return nil, drainEnd, withCode(ErrEncodingFailed, err)
		}
	}

	pkt, err := enc.codec.ReceivePacket()
	switch {
	case err == nil:
		return pkt, drainPacket, nil
	case errors.Is(err, ErrorAgain):
		return nil, drainAgain, nil
	case errors.Is(err, ErrorEndOfFile):
		return nil, drainEnd, nil
	}
	return nil, drainEnd, withCode(ErrEncodingFailed, err)
}

func (enc *StreamEncoder) close() {
	enc.codec.Close()
}
