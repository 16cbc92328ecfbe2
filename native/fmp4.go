package native

import (
	"fmt"
	"io"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
	"github.com/nareix/joy4/av"
	"github.com/nareix/joy4/av/avutil"
	"github.com/nareix/joy4/codec/h264parser"

	"github.com/zimwip/vmux"
)

const fmp4TimeScale = 90000

// defaultSampleDuration is used for the last sample of a track
// when no earlier sample gave a duration (one frame at 30 fps).
const defaultSampleDuration = fmp4TimeScale / 30

func fmp4Handler(h *avutil.RegisterHandler) {
	h.Ext = ".m4s"
	h.WriterMuxer = func(w io.Writer) av.Muxer {
		return &fmp4Muxer{w: w, seq: 1}
	}
	h.CodecTypes = []av.CodecType{av.H264}
}

type fmp4Track struct {
	id       int
	pending  *av.Packet
	duration uint32
}

// fmp4Muxer writes an init segment followed by one fragment per
// sample. A sample is held until the next one on its track gives
// its duration.
type fmp4Muxer struct {
	w      io.Writer
	tracks []*fmp4Track
	seq    uint32
}

func (m *fmp4Muxer) WriteHeader(streams []av.CodecData) error {
	init := &fmp4.Init{}
	for i, stream := range streams {
		cd, ok := stream.(h264parser.CodecData)
		if !ok {
			return fmt.Errorf("fmp4: stream %d: unsupported codec %v", i, stream.Type())
		}

		t := &fmp4Track{id: i + 1}
		m.tracks = append(m.tracks, t)
		init.Tracks = append(init.Tracks, &fmp4.InitTrack{
			ID:        t.id,
			TimeScale: fmp4TimeScale,
			Codec:     &mp4.CodecH264{SPS: cd.SPS(), PPS: cd.PPS()},
		})
	}

	var buf seekablebuffer.Buffer
	if err := init.Marshal(&buf); err != nil {
		return fmt.Errorf("fmp4: marshal init: %w", err)
	}
	_, err := m.w.Write(buf.Bytes())
	return err
}

func (m *fmp4Muxer) WritePacket(pkt av.Packet) error {
	if int(pkt.Idx) >= len(m.tracks) {
		return fmt.Errorf("fmp4: no track for stream %d", pkt.Idx)
	}
	t := m.tracks[pkt.Idx]

	if t.pending != nil {
		if d := ticks(pkt.Time - t.pending.Time); d > 0 {
			t.duration = uint32(d)
		}
		if err := m.writeSample(t); err != nil {
			return err
		}
	}

	pkt.Data = append([]byte(nil), pkt.Data...)
	t.pending = &pkt
	return nil
}

func (m *fmp4Muxer) WriteTrailer() error {
	for _, t := range m.tracks {
		if t.pending == nil {
			continue
		}
		if err := m.writeSample(t); err != nil {
			return err
		}
	}
	return nil
}

func (m *fmp4Muxer) writeSample(t *fmp4Track) error {
	pkt := t.pending
	t.pending = nil

	duration := t.duration
	if duration == 0 {
		duration = defaultSampleDuration
	}

	part := &fmp4.Part{
		SequenceNumber: m.seq,
		Tracks: []*fmp4.PartTrack{{
			ID:       t.id,
			BaseTime: uint64(max(ticks(pkt.Time), 0)),
			Samples: []*fmp4.Sample{{
				Duration:        duration,
				PTSOffset:       int32(ticks(pkt.CompositionTime)),
				IsNonSyncSample: !pkt.IsKeyFrame,
				Payload:         pkt.Data,
			}},
		}},
	}

	var buf seekablebuffer.Buffer
	if err := part.Marshal(&buf); err != nil {
		return fmt.Errorf("fmp4: marshal part %d: %w", m.seq, err)
	}
	if _, err := m.w.Write(buf.Bytes()); err != nil {
		return err
	}
	m.seq++
	return nil
}

func ticks(d time.Duration) int64 {
	return vmux.Rescale(int64(d), nanos, vmux.R(1, fmp4TimeScale))
}
