package native

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zimwip/vmux"
)

func TestH264CodecRejectsBadParameters(t *testing.T) {
	_, err := NewH264Codec(H264Config{SPS: []byte{0x67}, PPS: testPPS})
	assert.ErrorIs(t, err, vmux.ErrorInvalidValue)

	_, err = NewH264Codec(H264Config{SPS: testSPS, PPS: testPPS, Delay: -1})
	assert.ErrorIs(t, err, vmux.ErrorInvalidValue)
}

func TestH264CodecDefaults(t *testing.T) {
	codec := newTestCodec(t, 0)

	assert.Equal(t, "h264", codec.Name())
	assert.Equal(t, vmux.R(1, 30), codec.TimeBase())
	assert.Zero(t, codec.Capabilities())
	assert.NotNil(t, codec.CodecData())

	assert.Equal(t, vmux.CapDelay, newTestCodec(t, 3).Capabilities())
}

func TestH264CodecDelay(t *testing.T) {
	codec := newTestCodec(t, 2)
	require.NoError(t, codec.Open())

	var got []int64
	receive := func() {
		for {
			pkt, err := codec.ReceivePacket()
			if err != nil {
				return
			}
			got = append(got, pkt.PTS)
			pkt.Release()
		}
	}

	for _, au := range gop(4) {
		require.NoError(t, codec.SendFrame(au))
		receive()
	}
	assert.Equal(t, []int64{0, 1}, got)

	require.NoError(t, codec.SendFrame(nil))
	receive()
	assert.Equal(t, []int64{0, 1, 2, 3}, got)

	_, err := codec.ReceivePacket()
	assert.ErrorIs(t, err, vmux.ErrorEndOfFile)
	assert.ErrorIs(t, codec.SendFrame(nil), vmux.ErrorEndOfFile)
}

func TestH264CodecPacket(t *testing.T) {
	codec := newTestCodec(t, 0)
	require.NoError(t, codec.Open())

	aud := []byte{0x09, 0xf0}
	require.NoError(t, codec.SendFrame(&AccessUnit{NALUs: [][]byte{aud, testSPS, testPPS, testIDR}, Time: 7}))

	pkt, err := codec.ReceivePacket()
	require.NoError(t, err)
	defer pkt.Release()

	assert.Equal(t, avcc(testSPS, testPPS, testIDR), pkt.Data())
	assert.True(t, pkt.IsKeyFrame())
	assert.EqualValues(t, 7, pkt.PTS)
	assert.EqualValues(t, 7, pkt.DTS)
	assert.EqualValues(t, 1, pkt.Duration)
}

func TestH264CodecGlobalHeader(t *testing.T) {
	codec := newTestCodec(t, 0)
	codec.SetGlobalHeader()
	require.NoError(t, codec.Open())

	// A unit holding only parameter sets produces no packet.
	require.NoError(t, codec.SendFrame(&AccessUnit{NALUs: [][]byte{testSPS, testPPS}}))
	_, err := codec.ReceivePacket()
	assert.ErrorIs(t, err, vmux.ErrorAgain)

	require.NoError(t, codec.SendFrame(&AccessUnit{NALUs: [][]byte{testSPS, testPPS, testIDR}}))
	pkt, err := codec.ReceivePacket()
	require.NoError(t, err)
	assert.Equal(t, avcc(testIDR), pkt.Data())
	pkt.Release()

	require.NoError(t, codec.SendFrame(&AccessUnit{NALUs: [][]byte{testP}, Time: 1}))
	pkt, err = codec.ReceivePacket()
	require.NoError(t, err)
	assert.False(t, pkt.IsKeyFrame())
	pkt.Release()
}

func TestH264CodecFrameType(t *testing.T) {
	codec := newTestCodec(t, 0)
	assert.ErrorIs(t, codec.SendFrame(&AccessUnit{}), vmux.ErrorInvalidValue, "codec not open")

	require.NoError(t, codec.Open())
	assert.ErrorIs(t, codec.SendFrame(otherFrame(1)), vmux.ErrorInvalidValue)
}

type otherFrame int64

func (f otherFrame) PTS() int64 { return int64(f) }
