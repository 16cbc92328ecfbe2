package native

import (
	"io"
	"path"
	"sort"
	"strings"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/nareix/joy4/av"
	"github.com/nareix/joy4/av/avutil"
	"github.com/nareix/joy4/format/flv"
	"github.com/nareix/joy4/format/mp4"
	"github.com/nareix/joy4/format/ts"
	"github.com/pkg/errors"

	"github.com/zimwip/vmux"
)

// Format describes a container format the engine can write.
type Format struct {
	// Name is the short name used to select the format.
	Name string
	// LongName is the descriptive name.
	LongName string
	// Extension is the file extension the format is inferred from.
	Extension string
	// TimeBase is the time base of every stream of the format.
	TimeBase vmux.Rational
	// GlobalHeader reports whether codec parameters are stored
	// out of band, so encoders must not repeat them in-band.
	GlobalHeader bool
	// Seekable reports whether the format patches its output
	// and therefore needs an io.WriteSeeker sink.
	Seekable bool
	// CodecTypes lists the codecs the format accepts.
	CodecTypes []av.CodecType

	newMuxer func(io.Writer) av.Muxer
	payload  func([]byte) ([]byte, error)
}

var formats = map[string]*Format{}

func register(f *Format, handler func(*avutil.RegisterHandler)) {
	var h avutil.RegisterHandler
	handler(&h)

	f.Extension = h.Ext
	f.newMuxer = h.WriterMuxer
	if len(h.CodecTypes) > 0 {
		f.CodecTypes = h.CodecTypes
	}
	if f.payload == nil {
		f.payload = passPayload
	}
	formats[f.Name] = f
}

func init() {
	register(&Format{
		Name:       "mpegts",
		LongName:   "MPEG-TS (MPEG-2 Transport Stream)",
		TimeBase:   vmux.R(1, 90000),
		CodecTypes: []av.CodecType{av.H264, av.AAC},
	}, ts.Handler)

	register(&Format{
		Name:         "flv",
		LongName:     "FLV (Flash Video)",
		TimeBase:     vmux.R(1, 1000),
		GlobalHeader: true,
	}, flv.Handler)

	register(&Format{
		Name:         "mp4",
		LongName:     "MP4 (MPEG-4 Part 14)",
		TimeBase:     vmux.R(1, 90000),
		GlobalHeader: true,
		Seekable:     true,
		payload:      singleNALU,
	}, mp4.Handler)

	register(&Format{
		Name:         "fmp4",
		LongName:     "Fragmented MP4",
		TimeBase:     vmux.R(1, fmp4TimeScale),
		GlobalHeader: true,
	}, fmp4Handler)
}

// Formats returns the registered formats sorted by name.
func Formats() []*Format {
	list := make([]*Format, 0, len(formats))
	for _, f := range formats {
		list = append(list, f)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// LookupFormat resolves a format by short name or, when name is
// empty, by the extension of filename.
func LookupFormat(name, filename string) (*Format, bool) {
	if name != "" {
		f, ok := formats[name]
		return f, ok
	}

	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		return nil, false
	}
	for _, f := range formats {
		if f.Extension == ext {
			return f, true
		}
	}
	return nil, false
}

// Supports reports whether the format accepts codec type typ.
func (f *Format) Supports(typ av.CodecType) bool {
	for _, t := range f.CodecTypes {
		if t == typ {
			return true
		}
	}
	return false
}

func passPayload(au []byte) ([]byte, error) {
	return au, nil
}

// singleNALU unwraps a length-prefixed access unit holding one
// NAL unit. The mp4 writer keeps the sample until the next packet
// arrives, so the result is a copy.
func singleNALU(au []byte) ([]byte, error) {
	var nalus h264.AVCC
	if err := nalus.Unmarshal(au); err != nil {
		return nil, errors.Wrapf(vmux.ErrorInvalidValue, "mp4: %v", err)
	}
	if len(nalus) != 1 {
		return nil, errors.Wrapf(vmux.ErrorInvalidValue, "mp4: %d NAL units in one access unit", len(nalus))
	}
	return append([]byte(nil), nalus[0]...), nil
}
