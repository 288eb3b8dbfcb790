package uapi

import "unsafe"

// VirtqDesc is one entry of the descriptor table. Matches the VirtIO 1.1
// split virtqueue layout exactly (16 bytes), since this struct is read
// and written directly out of the device's shared descriptor memory.
type VirtqDesc struct {
	Addr  uint64 // guest-physical (here: simulator-buffer) address
	Len   uint32 // length in bytes
	Flags uint16 // DescF*
	Next  uint16 // next descriptor index, valid iff Flags&DescFNext
}

var _ [16]byte = [unsafe.Sizeof(VirtqDesc{})]byte{}

// VirtqAvailHeader is the fixed prefix of the available ring; Ring and
// UsedEvent follow it directly in memory and are addressed by the
// transport rather than modeled as Go slice fields (the ring length is
// only known at queue-setup time).
type VirtqAvailHeader struct {
	Flags uint16
	Idx   uint16
}

var _ [4]byte = [unsafe.Sizeof(VirtqAvailHeader{})]byte{}

// VirtqUsedElem is one entry of the used ring.
type VirtqUsedElem struct {
	ID  uint32 // head descriptor index of the completed chain
	Len uint32 // total bytes written by the device into that chain
}

var _ [8]byte = [unsafe.Sizeof(VirtqUsedElem{})]byte{}

// VirtqUsedHeader is the fixed prefix of the used ring; Ring (of
// VirtqUsedElem) and AvailEvent follow it.
type VirtqUsedHeader struct {
	Flags uint16
	Idx   uint16
}

var _ [4]byte = [unsafe.Sizeof(VirtqUsedHeader{})]byte{}

// BlockReqHeader precedes the data payload of every virtio-blk request.
// A one-byte status (BlockStatus*) follows the payload in a descriptor
// of its own, written by the device.
type BlockReqHeader struct {
	Type     uint32 // BlockReq*
	Reserved uint32 // ioprio in VirtIO 1.1; unused here, kept zero
	Sector   uint64 // starting sector, 512-byte units
}

var _ [16]byte = [unsafe.Sizeof(BlockReqHeader{})]byte{}

// NetHeader precedes every virtio-net packet buffer, on both the
// transmit and (when VIRTIO_NET_F_MRG_RXBUF is negotiated) receive
// paths. 12 bytes: the 10-byte legacy header plus NumBuffers.
type NetHeader struct {
	Flags      uint8
	GSOType    uint8
	HdrLen     uint16
	GSOSize    uint16
	CsumStart  uint16
	CsumOffset uint16
	NumBuffers uint16
}

var _ [12]byte = [unsafe.Sizeof(NetHeader{})]byte{}
