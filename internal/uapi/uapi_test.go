package uapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVirtqDescRoundTrip(t *testing.T) {
	want := VirtqDesc{Addr: 0xdeadbeef, Len: 4096, Flags: DescFNext | DescFWrite, Next: 7}
	buf := make([]byte, 16)
	require.NoError(t, PutVirtqDesc(buf, want))

	got, err := GetVirtqDesc(buf)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestVirtqDescShortBuffer(t *testing.T) {
	_, err := GetVirtqDesc(make([]byte, 4))
	assert.ErrorIs(t, err, ErrInsufficientData)
	assert.ErrorIs(t, PutVirtqDesc(make([]byte, 4), VirtqDesc{}), ErrInsufficientData)
}

func TestAvailRingRoundTrip(t *testing.T) {
	buf := make([]byte, 4+2*QueueSize)
	require.NoError(t, PutAvailHeader(buf, VirtqAvailHeader{Flags: 0, Idx: 3}))
	require.NoError(t, PutAvailRingEntry(buf, 0, 10))
	require.NoError(t, PutAvailRingEntry(buf, 1, 20))

	hdr, err := GetAvailHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, uint16(3), hdr.Idx)

	e0, err := GetAvailRingEntry(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, uint16(10), e0)

	e1, err := GetAvailRingEntry(buf, 1)
	require.NoError(t, err)
	assert.Equal(t, uint16(20), e1)
}

func TestUsedRingRoundTrip(t *testing.T) {
	buf := make([]byte, 4+8*QueueSize)
	require.NoError(t, PutUsedHeader(buf, VirtqUsedHeader{Idx: 5}))
	require.NoError(t, PutUsedElem(buf, 0, VirtqUsedElem{ID: 2, Len: 512}))

	hdr, err := GetUsedHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, uint16(5), hdr.Idx)

	elem, err := GetUsedElem(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, VirtqUsedElem{ID: 2, Len: 512}, elem)
}

func TestBlockReqHeaderRoundTrip(t *testing.T) {
	want := BlockReqHeader{Type: BlockReqOut, Sector: 128}
	buf := make([]byte, 16)
	require.NoError(t, PutBlockReqHeader(buf, want))

	got, err := GetBlockReqHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestNetHeaderRoundTrip(t *testing.T) {
	want := NetHeader{Flags: 1, GSOType: 0, HdrLen: 12, NumBuffers: 1}
	buf := make([]byte, 12)
	require.NoError(t, PutNetHeader(buf, want))

	got, err := GetNetHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestMagicValue(t *testing.T) {
	assert.Equal(t, uint32(0x74726976), uint32(MagicValue))
}
