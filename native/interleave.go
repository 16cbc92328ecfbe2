package native

import "github.com/zimwip/vmux"

type queued struct {
	pkt *vmux.Packet
	dts int64
}

// interleaver orders packets of several streams by DTS. A packet
// is released once every stream has one queued, so no later
// packet can precede it.
type interleaver struct {
	streams [][]queued
}

func (il *interleaver) reset(n int) {
	for _, q := range il.streams {
		for _, e := range q {
			e.pkt.Release()
		}
	}
	il.streams = make([][]queued, n)
}

func (il *interleaver) push(pkt *vmux.Packet, dts int64) {
	i := pkt.StreamIndex
	il.streams[i] = append(il.streams[i], queued{pkt: pkt, dts: dts})
}

// pop returns the packet with the lowest DTS, or nil when a
// stream without queued packets could still deliver an earlier
// one. With all set, the queues are flushed regardless.
func (il *interleaver) pop(all bool) *vmux.Packet {
	best := -1
	for i, q := range il.streams {
		if len(q) == 0 {
			if !all {
				return nil
			}
			continue
		}
		if best < 0 || q[0].dts < il.streams[best][0].dts {
			best = i
		}
	}
	if best < 0 {
		return nil
	}

	e := il.streams[best][0]
	il.streams[best][0] = queued{}
	il.streams[best] = il.streams[best][1:]
	return e.pkt
}

func (il *interleaver) len() int {
	n := 0
	for _, q := range il.streams {
		n += len(q)
	}
	return n
}
