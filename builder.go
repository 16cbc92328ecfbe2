package vmux

import (
	"io"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// MuxerBuilder collects the configuration of a muxer. It is
// consumed by a single call to Open.
type MuxerBuilder struct {
	engine     Engine
	name       string
	formatName string
	encoders   []*StreamEncoder
	options    map[string]string
	faststart  bool
	log        *zap.Logger
	consumed   bool
}

func newMuxerBuilder(engine Engine) *MuxerBuilder {
	return &MuxerBuilder{
		engine:  engine,
		options: make(map[string]string),
		log:     zap.NewNop(),
	}
}

// Name sets the name of the output. If no format is set
// explicitly, the name is used to infer it.
func (b *MuxerBuilder) Name(name string) *MuxerBuilder {
	b.name = name
	return b
}

// FormatName sets the container format (e.g., "mp4", "mpegts").
// If unset, the output name is used to infer the format.
func (b *MuxerBuilder) FormatName(format string) *MuxerBuilder {
	b.formatName = format
	return b
}

// AddEncoder appends an encoder. Stream indexes follow
// insertion order.
func (b *MuxerBuilder) AddEncoder(codec Codec) *MuxerBuilder {
	b.encoders = append(b.encoders, NewStreamEncoder(codec))
	return b
}

// Option sets a format option passed when the header is written.
// A "faststart" flag in movflags is handled by the muxer itself.
func (b *MuxerBuilder) Option(key, value string) *MuxerBuilder {
	if key == "movflags" {
		var found bool
		if value, found = stripFaststart(value); found {
			b.faststart = true
		}
		if value == "" {
			delete(b.options, key)
			return b
		}
	}
	b.options[key] = value
	return b
}

// Faststart moves the mp4 index in front of the media data once
// the trailer is written. The sink must support reading and seeking.
func (b *MuxerBuilder) Faststart() *MuxerBuilder {
	b.faststart = true
	return b
}

// Logger sets the logger used by the muxer.
func (b *MuxerBuilder) Logger(log *zap.Logger) *MuxerBuilder {
	if log != nil {
		b.log = log
	}
	return b
}

// Open resolves the container, opens every encoder, writes the
// header to dst and returns the ready muxer. The muxer owns dst
// from now on and closes it on teardown if it is an io.Closer.
//
// On failure, everything allocated so far is released, dst and
// the encoders included, before the error is returned.
func (b *MuxerBuilder) Open(dst io.Writer) (*Muxer, error) {
	if b.consumed {
		return nil, ErrBuilderConsumed
	}
	b.consumed = true

	encoders := b.encoders
	b.encoders = nil

	s, w := newSink(dst)
	m, err := b.open(s, w, encoders)
	if err != nil {
		if serr := s.release(); serr != nil {
			b.log.Debug("release sink after failed open", zap.Error(serr))
		}
		for _, enc := range encoders {
			enc.close()
		}
		return nil, err
	}

	runtime.SetFinalizer(m, (*Muxer).release)
	return m, nil
}

func (b *MuxerBuilder) open(s *sink, w io.Writer, encoders []*StreamEncoder) (*Muxer, error) {
	for _, name := range []string{b.name, b.formatName} {
		if strings.ContainsRune(name, 0) {
			return nil, errors.Wrapf(ErrInvalidName, "%q", name)
		}
	}

	container, err := b.engine.OpenContainer(b.name, b.formatName)
	if err != nil {
		if errors.Is(err, ErrUnknownFormat) || errors.Is(err, ErrOutOfMemory) {
			return nil, err
		}
		return nil, withCode(ErrUnknownFormat, err)
	}

	// From here on the container must be freed on every error path.
	fail := func(err error) (*Muxer, error) {
		container.Free()
		return nil, err
	}

	container.SetSink(w)

	streams := make([]muxStream, 0, len(encoders))
	for i, enc := range encoders {
		slot, err := container.NewStream(enc.Codec())
		if err != nil {
			return fail(errors.Wrapf(ErrStreamAllocationFailed, "stream %d: %v", i, err))
		}
		slot.SetID(slot.Index())

		if err := enc.open(container.GlobalHeader()); err != nil {
			return fail(withCode(ErrEncoderOpenFailed, err))
		}
		if err := slot.CopyParameters(enc.Codec()); err != nil {
			return fail(withCode(ErrParameterCopyFailed, err))
		}

		streams = append(streams, muxStream{index: i, slot: slot, enc: enc})
	}

	if err := container.WriteHeader(b.options); err != nil {
		return fail(withCode(ErrHeaderWriteFailed, err))
	}

	log := b.log.With(
		zap.String("session", uuid.NewString()),
		zap.String("format", container.FormatName()))
	log.Debug("muxer opened", zap.Int("streams", len(streams)))

	return &Muxer{
		container:      container,
		sink:           s,
		streams:        streams,
		faststart:      b.faststart,
		formatName:     container.FormatName(),
		formatLongName: container.FormatLongName(),
		log:            log,
		packets:        make([]int, len(streams)),
	}, nil
}
