package native

import (
	"io"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/pkg/errors"
)

// AccessUnitReader splits an Annex-B elementary stream into
// access units, numbered from zero.
type AccessUnitReader struct {
	nalus [][]byte
	pos   int
	next  int64

	sps []byte
	pps []byte
}

// NewAccessUnitReader reads the whole stream from r.
func NewAccessUnitReader(r io.Reader) (*AccessUnitReader, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var nalus h264.AnnexB
	if err := nalus.Unmarshal(buf); err != nil {
		return nil, errors.Wrap(err, "parse annex-b stream")
	}

	ar := &AccessUnitReader{nalus: nalus}
	for _, nalu := range nalus {
		switch h264.NALUType(nalu[0] & 0x1f) {
		case h264.NALUTypeSPS:
			if ar.sps == nil {
				ar.sps = nalu
			}
		case h264.NALUTypePPS:
			if ar.pps == nil {
				ar.pps = nalu
			}
		}
	}
	return ar, nil
}

// ParameterSets returns the first SPS and PPS of the stream.
func (r *AccessUnitReader) ParameterSets() (sps, pps []byte, ok bool) {
	return r.sps, r.pps, r.sps != nil && r.pps != nil
}

// Read returns the next access unit, or io.EOF.
func (r *AccessUnitReader) Read() (*AccessUnit, error) {
	if r.pos >= len(r.nalus) {
		return nil, io.EOF
	}

	au := &AccessUnit{Time: r.next}
	hasSlice := false
	for ; r.pos < len(r.nalus); r.pos++ {
		nalu := r.nalus[r.pos]
		if len(nalu) == 0 {
			continue
		}
		if hasSlice && startsAccessUnit(nalu) {
			break
		}
		au.NALUs = append(au.NALUs, nalu)
		if isSlice(nalu) {
			hasSlice = true
		}
	}

	r.next++
	return au, nil
}

func isSlice(nalu []byte) bool {
	typ := h264.NALUType(nalu[0] & 0x1f)
	return typ >= h264.NALUTypeNonIDR && typ <= h264.NALUTypeIDR
}

// startsAccessUnit reports whether nalu opens a new access unit
// once the current one already holds a slice. A slice starts a
// new picture when first_mb_in_slice is zero, coded as a single
// set bit.
func startsAccessUnit(nalu []byte) bool {
	switch h264.NALUType(nalu[0] & 0x1f) {
	case h264.NALUTypeAccessUnitDelimiter, h264.NALUTypeSPS, h264.NALUTypePPS, h264.NALUTypeSEI:
		return true
	}
	return isSlice(nalu) && len(nalu) > 1 && nalu[1]&0x80 != 0
}
