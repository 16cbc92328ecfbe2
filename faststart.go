package vmux

import (
	"encoding/binary"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// readWriteSeeker combines read, write, and seek capabilities.
type readWriteSeeker interface {
	io.Reader
	io.Writer
	io.Seeker
}

// box locates one top-level ISO BMFF box in a file.
type box struct {
	typ    string
	offset int64
	size   int64
}

// stripFaststart removes "faststart" from a +-separated movflags value.
// It returns the remaining flags and whether faststart was present.
func stripFaststart(movflags string) (string, bool) {
	var kept []string
	found := false
	for _, flag := range strings.Split(movflags, "+") {
		switch flag {
		case "":
		case "faststart":
			found = true
		default:
			kept = append(kept, flag)
		}
	}
	return strings.Join(kept, "+"), found
}

// relocateMoov moves the moov box in front of mdat so players can
// start before the whole file is downloaded. Chunk offsets inside
// moov are shifted by the size of the moved box.
func relocateMoov(rws readWriteSeeker) error {
	boxes, err := scanBoxes(rws)
	if err != nil {
		return err
	}

	moov, mdat := -1, -1
	for i, b := range boxes {
		switch {
		case b.typ == "moov":
			moov = i
		case b.typ == "mdat" && mdat < 0:
			mdat = i
		}
	}
	if moov < 0 {
		return errors.New("faststart: no moov box found")
	}
	if mdat < 0 {
		return errors.New("faststart: no mdat box found")
	}
	if boxes[moov].offset < boxes[mdat].offset {
		return nil
	}

	from, to, size := boxes[mdat].offset, boxes[moov].offset, boxes[moov].size

	moovData := make([]byte, size)
	if _, err := rws.Seek(to, io.SeekStart); err != nil {
		return err
	}
	if _, err := io.ReadFull(rws, moovData); err != nil {
		return errors.Wrap(err, "faststart: read moov")
	}
	if len(moovData) < 8 {
		return errors.New("faststart: moov too short")
	}
	shiftChunkOffsets(moovData[8:], size)

	if err := moveUp(rws, from, to, size); err != nil {
		return errors.Wrap(err, "faststart: move media data")
	}
	if _, err := rws.Seek(from, io.SeekStart); err != nil {
		return err
	}
	_, err = rws.Write(moovData)
	return err
}

// scanBoxes walks the top-level box headers of rs.
func scanBoxes(rs io.ReadSeeker) ([]box, error) {
	end, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}

	var boxes []box
	var hdr [16]byte
	for pos := int64(0); pos < end; {
		if _, err := rs.Seek(pos, io.SeekStart); err != nil {
			return nil, err
		}
		if _, err := io.ReadFull(rs, hdr[:8]); err != nil {
			break
		}

		size := int64(binary.BigEndian.Uint32(hdr[:4]))
		switch size {
		case 0:
			size = end - pos
		case 1:
			if _, err := io.ReadFull(rs, hdr[8:16]); err != nil {
				return boxes, nil
			}
			size = int64(binary.BigEndian.Uint64(hdr[8:16]))
		}
		if size < 8 {
			break
		}

		boxes = append(boxes, box{typ: string(hdr[4:8]), offset: pos, size: size})
		pos += size
	}

	return boxes, nil
}

// shiftChunkOffsets adds delta to every stco/co64 entry
// found in the child boxes of data.
func shiftChunkOffsets(data []byte, delta int64) {
	for pos := 0; pos+8 <= len(data); {
		size := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		typ := string(data[pos+4 : pos+8])
		hdr := 8

		switch {
		case size == 1 && pos+16 <= len(data):
			size = int(binary.BigEndian.Uint64(data[pos+8 : pos+16]))
			hdr = 16
		case size == 0:
			size = len(data) - pos
		}
		if size < hdr || pos+size > len(data) {
			return
		}

		body := data[pos+hdr : pos+size]
		switch typ {
		case "moov", "trak", "mdia", "minf", "stbl", "edts", "udta", "mvex":
			shiftChunkOffsets(body, delta)
		case "stco":
			patchOffsets(body, 4, delta)
		case "co64":
			patchOffsets(body, 8, delta)
		}

		pos += size
	}
}

// patchOffsets rewrites the entries of a full box laid out as
// version(1) + flags(3) + entry_count(4) + entries(width each).
func patchOffsets(body []byte, width int, delta int64) {
	if len(body) < 8 {
		return
	}
	count := int(binary.BigEndian.Uint32(body[4:8]))
	for i := 0; i < count; i++ {
		off := 8 + i*width
		if off+width > len(body) {
			return
		}
		entry := body[off : off+width]
		if width == 4 {
			binary.BigEndian.PutUint32(entry, uint32(int64(binary.BigEndian.Uint32(entry))+delta))
		} else {
			binary.BigEndian.PutUint64(entry, uint64(int64(binary.BigEndian.Uint64(entry))+delta))
		}
	}
}

// moveUp copies [from, to) to [from+dist, to+dist), last chunk
// first, so overlapping ranges are safe.
func moveUp(rws readWriteSeeker, from, to, dist int64) error {
	const chunk = 1 << 20
	buf := make([]byte, chunk)

	for rem := to - from; rem > 0; {
		n := min(int64(chunk), rem)
		src := from + rem - n

		if _, err := rws.Seek(src, io.SeekStart); err != nil {
			return err
		}
		if _, err := io.ReadFull(rws, buf[:n]); err != nil {
			return err
		}
		if _, err := rws.Seek(src+dist, io.SeekStart); err != nil {
			return err
		}
		if _, err := rws.Write(buf[:n]); err != nil {
			return err
		}
		rem -= n
	}
	return nil
}
