package uapi

import "encoding/binary"

// MarshalError reports a buffer too short to hold the struct being
// (un)marshaled.
type MarshalError string

func (e MarshalError) Error() string { return string(e) }

const ErrInsufficientData MarshalError = "insufficient data for unmarshaling"

// PutVirtqDesc writes d into buf[0:16] using the queue's native
// (little-endian) byte order.
func PutVirtqDesc(buf []byte, d VirtqDesc) error {
	if len(buf) < 16 {
		return ErrInsufficientData
	}
	binary.LittleEndian.PutUint64(buf[0:8], d.Addr)
	binary.LittleEndian.PutUint32(buf[8:12], d.Len)
	binary.LittleEndian.PutUint16(buf[12:14], d.Flags)
	binary.LittleEndian.PutUint16(buf[14:16], d.Next)
	return nil
}

// GetVirtqDesc reads a VirtqDesc from buf[0:16].
func GetVirtqDesc(buf []byte) (VirtqDesc, error) {
	if len(buf) < 16 {
		return VirtqDesc{}, ErrInsufficientData
	}
	return VirtqDesc{
		Addr:  binary.LittleEndian.Uint64(buf[0:8]),
		Len:   binary.LittleEndian.Uint32(buf[8:12]),
		Flags: binary.LittleEndian.Uint16(buf[12:14]),
		Next:  binary.LittleEndian.Uint16(buf[14:16]),
	}, nil
}

// PutAvailHeader writes the avail ring's flags/idx prefix.
func PutAvailHeader(buf []byte, h VirtqAvailHeader) error {
	if len(buf) < 4 {
		return ErrInsufficientData
	}
	binary.LittleEndian.PutUint16(buf[0:2], h.Flags)
	binary.LittleEndian.PutUint16(buf[2:4], h.Idx)
	return nil
}

// GetAvailHeader reads the avail ring's flags/idx prefix.
func GetAvailHeader(buf []byte) (VirtqAvailHeader, error) {
	if len(buf) < 4 {
		return VirtqAvailHeader{}, ErrInsufficientData
	}
	return VirtqAvailHeader{
		Flags: binary.LittleEndian.Uint16(buf[0:2]),
		Idx:   binary.LittleEndian.Uint16(buf[2:4]),
	}, nil
}

// PutAvailRingEntry writes the ring[idx] slot of an avail ring, whose
// entries start immediately after the 4-byte header.
func PutAvailRingEntry(buf []byte, idx uint16, descHead uint16) error {
	off := 4 + int(idx)*2
	if len(buf) < off+2 {
		return ErrInsufficientData
	}
	binary.LittleEndian.PutUint16(buf[off:off+2], descHead)
	return nil
}

// GetAvailRingEntry reads the ring[idx] slot of an avail ring.
func GetAvailRingEntry(buf []byte, idx uint16) (uint16, error) {
	off := 4 + int(idx)*2
	if len(buf) < off+2 {
		return 0, ErrInsufficientData
	}
	return binary.LittleEndian.Uint16(buf[off : off+2]), nil
}

// PutUsedHeader writes the used ring's flags/idx prefix.
func PutUsedHeader(buf []byte, h VirtqUsedHeader) error {
	if len(buf) < 4 {
		return ErrInsufficientData
	}
	binary.LittleEndian.PutUint16(buf[0:2], h.Flags)
	binary.LittleEndian.PutUint16(buf[2:4], h.Idx)
	return nil
}

// GetUsedHeader reads the used ring's flags/idx prefix.
func GetUsedHeader(buf []byte) (VirtqUsedHeader, error) {
	if len(buf) < 4 {
		return VirtqUsedHeader{}, ErrInsufficientData
	}
	return VirtqUsedHeader{
		Flags: binary.LittleEndian.Uint16(buf[0:2]),
		Idx:   binary.LittleEndian.Uint16(buf[2:4]),
	}, nil
}

// PutUsedElem writes the ring[idx] slot of a used ring, whose 8-byte
// entries start immediately after the 4-byte header.
func PutUsedElem(buf []byte, idx uint16, e VirtqUsedElem) error {
	off := 4 + int(idx)*8
	if len(buf) < off+8 {
		return ErrInsufficientData
	}
	binary.LittleEndian.PutUint32(buf[off:off+4], e.ID)
	binary.LittleEndian.PutUint32(buf[off+4:off+8], e.Len)
	return nil
}

// GetUsedElem reads the ring[idx] slot of a used ring.
func GetUsedElem(buf []byte, idx uint16) (VirtqUsedElem, error) {
	off := 4 + int(idx)*8
	if len(buf) < off+8 {
		return VirtqUsedElem{}, ErrInsufficientData
	}
	return VirtqUsedElem{
		ID:  binary.LittleEndian.Uint32(buf[off : off+4]),
		Len: binary.LittleEndian.Uint32(buf[off+4 : off+8]),
	}, nil
}

// PutBlockReqHeader writes h into buf[0:16].
func PutBlockReqHeader(buf []byte, h BlockReqHeader) error {
	if len(buf) < 16 {
		return ErrInsufficientData
	}
	binary.LittleEndian.PutUint32(buf[0:4], h.Type)
	binary.LittleEndian.PutUint32(buf[4:8], h.Reserved)
	binary.LittleEndian.PutUint64(buf[8:16], h.Sector)
	return nil
}

// GetBlockReqHeader reads a BlockReqHeader from buf[0:16].
func GetBlockReqHeader(buf []byte) (BlockReqHeader, error) {
	if len(buf) < 16 {
		return BlockReqHeader{}, ErrInsufficientData
	}
	return BlockReqHeader{
		Type:     binary.LittleEndian.Uint32(buf[0:4]),
		Reserved: binary.LittleEndian.Uint32(buf[4:8]),
		Sector:   binary.LittleEndian.Uint64(buf[8:16]),
	}, nil
}

// PutNetHeader writes h into buf[0:12].
func PutNetHeader(buf []byte, h NetHeader) error {
	if len(buf) < 12 {
		return ErrInsufficientData
	}
	buf[0] = h.Flags
	buf[1] = h.GSOType
	binary.LittleEndian.PutUint16(buf[2:4], h.HdrLen)
	binary.LittleEndian.PutUint16(buf[4:6], h.GSOSize)
	binary.LittleEndian.PutUint16(buf[6:8], h.CsumStart)
	binary.LittleEndian.PutUint16(buf[8:10], h.CsumOffset)
	binary.LittleEndian.PutUint16(buf[10:12], h.NumBuffers)
	return nil
}

// GetNetHeader reads a NetHeader from buf[0:12].
func GetNetHeader(buf []byte) (NetHeader, error) {
	if len(buf) < 12 {
		return NetHeader{}, ErrInsufficientData
	}
	return NetHeader{
		Flags:      buf[0],
		GSOType:    buf[1],
		HdrLen:     binary.LittleEndian.Uint16(buf[2:4]),
		GSOSize:    binary.LittleEndian.Uint16(buf[4:6]),
		CsumStart:  binary.LittleEndian.Uint16(buf[6:8]),
		CsumOffset: binary.LittleEndian.Uint16(buf[8:10]),
		NumBuffers: binary.LittleEndian.Uint16(buf[10:12]),
	}, nil
}
