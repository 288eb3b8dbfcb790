// Package virtio implements the split virtqueue: descriptor table,
// available ring and used ring, laid out exactly as VirtIO 1.1 section
// 2.7 describes, plus the MMIO transport's feature-negotiation state
// machine (transport.go). It knows nothing about what a descriptor's
// bytes mean (block request, net packet); that's internal/drivers.
//
// One limitation the spec calls out explicitly: this kernel runs hosted
// (see internal/platform/simplatform), not on bare metal, so there is
// no real physical address space to write into VirtqDesc.Addr. Each
// queue instead keeps a parallel Go-native buffer per descriptor index
// and treats Addr as an opaque handle into that table; Len, Flags and
// Next are the real wire values a genuine device implementation would
// see.
package virtio

import "github.com/vqkernel/vqkernel/internal/uapi"

// Queue is one split virtqueue: a descriptor table plus available and
// used rings, all backed by one flat byte arena so the wire layout
// (and the uapi marshal helpers) are exercised on every access rather
// than only at a translation boundary.
type Queue struct {
	size int
	mem  []byte

	descOff  int
	availOff int
	usedOff  int

	buffers [][]byte // descriptor index -> backing buffer, simulator-only

	freeHead  int
	freeCount int

	avail    uint16 // next avail-ring slot this side will publish into
	lastUsed uint16 // next used-ring index not yet consumed by PopUsed
}

// NewQueue allocates a queue of the given descriptor-table size (must be
// a power of two per the VirtIO spec; this kernel always uses
// uapi.QueueSize or a device-advertised value at or below it).
func NewQueue(size int) *Queue {
	descBytes := 16 * size
	availBytes := 4 + 2*size
	usedBytes := 4 + 8*size

	q := &Queue{
		size:     size,
		mem:      make([]byte, descBytes+availBytes+usedBytes),
		descOff:  0,
		availOff: descBytes,
		usedOff:  descBytes + availBytes,
		buffers:  make([][]byte, size),
	}
	for i := 0; i < size; i++ {
		next := uint16(i + 1)
		_ = uapi.PutVirtqDesc(q.descBytes(i), uapi.VirtqDesc{Next: next})
	}
	q.freeHead = 0
	q.freeCount = size
	return q
}

// Size returns the queue's descriptor-table capacity.
func (q *Queue) Size() int { return q.size }

func (q *Queue) descBytes(i int) []byte { return q.mem[q.descOff+i*16 : q.descOff+i*16+16] }
func (q *Queue) availBytes() []byte     { return q.mem[q.availOff:q.usedOff] }
func (q *Queue) usedBytes() []byte      { return q.mem[q.usedOff:] }

// AllocChain removes n descriptors from the free list and returns their
// indices, or ok=false if fewer than n are free. The returned indices
// are NOT yet linked into a chain; the caller must call SetDesc on each
// with the appropriate Next/DescFNext before publishing.
func (q *Queue) AllocChain(n int) (indices []int, ok bool) {
	if n <= 0 || n > q.freeCount {
		return nil, false
	}
	out := make([]int, n)
	cur := q.freeHead
	for i := 0; i < n; i++ {
		out[i] = cur
		d, _ := uapi.GetVirtqDesc(q.descBytes(cur))
		cur = int(d.Next)
	}
	q.freeHead = cur
	q.freeCount -= n
	return out, true
}

// FreeCount reports how many descriptors are currently unallocated.
func (q *Queue) FreeCount() int { return q.freeCount }

// SetDesc writes descriptor idx's wire fields and records buf as its
// simulator-side backing buffer.
func (q *Queue) SetDesc(idx int, buf []byte, flags uint16, next uint16) error {
	q.buffers[idx] = buf
	return uapi.PutVirtqDesc(q.descBytes(idx), uapi.VirtqDesc{
		Addr:  uint64(idx),
		Len:   uint32(len(buf)),
		Flags: flags,
		Next:  next,
	})
}

// Desc reads descriptor idx's wire fields.
func (q *Queue) Desc(idx int) (uapi.VirtqDesc, error) {
	return uapi.GetVirtqDesc(q.descBytes(idx))
}

// Buffer returns the simulator-side backing buffer for descriptor idx.
func (q *Queue) Buffer(idx int) []byte { return q.buffers[idx] }

// FreeChain walks the DescFNext chain starting at head and returns every
// descriptor in it to the free list. head must be a chain this side
// itself allocated and fully linked via SetDesc.
func (q *Queue) FreeChain(head int) {
	idx := head
	n := 0
	for {
		d, _ := uapi.GetVirtqDesc(q.descBytes(idx))
		q.buffers[idx] = nil
		n++
		if d.Flags&uapi.DescFNext == 0 {
			d.Next = uint16(q.freeHead)
			d.Flags = 0
			_ = uapi.PutVirtqDesc(q.descBytes(idx), d)
			break
		}
		idx = int(d.Next)
	}
	q.freeHead = head
	q.freeCount += n
}

// PublishAvail appends descHead to the available ring and bumps the
// published index. Does not notify the device; callers batch several
// PublishAvail calls and notify once (see Transport.Notify).
func (q *Queue) PublishAvail(descHead int) {
	_ = uapi.PutAvailRingEntry(q.availBytes(), q.avail%uint16(q.size), uint16(descHead))
	q.avail++
	_ = uapi.PutAvailHeader(q.availBytes(), uapi.VirtqAvailHeader{Idx: q.avail})
}

// PopUsed returns the next unconsumed used-ring entry, or ok=false if
// the driver has caught up with the device.
func (q *Queue) PopUsed() (descHead int, length uint32, ok bool) {
	hdr, _ := uapi.GetUsedHeader(q.usedBytes())
	if q.lastUsed == hdr.Idx {
		return 0, 0, false
	}
	e, _ := uapi.GetUsedElem(q.usedBytes(), q.lastUsed%uint16(q.size))
	q.lastUsed++
	return int(e.ID), e.Len, true
}

// DeviceSide is the other end of the same ring pair, used by the
// simulated device (internal/platform/simplatform) to consume avail
// entries and produce used entries. It keeps its own read cursor,
// independent of the driver side's PopUsed/PublishAvail cursors, since
// a real device and driver never share state beyond the ring memory
// itself.
type DeviceSide struct {
	q             *Queue
	lastAvailSeen uint16
}

// Device returns a device-side view of q.
func (q *Queue) Device() *DeviceSide { return &DeviceSide{q: q} }

// PopAvail returns the next descriptor head the driver has published,
// or ok=false if the device has caught up with the driver.
func (d *DeviceSide) PopAvail() (descHead int, ok bool) {
	hdr, _ := uapi.GetAvailHeader(d.q.availBytes())
	if d.lastAvailSeen == hdr.Idx {
		return 0, false
	}
	v, _ := uapi.GetAvailRingEntry(d.q.availBytes(), d.lastAvailSeen%uint16(d.q.size))
	d.lastAvailSeen++
	return int(v), true
}

// Desc reads descriptor idx's wire fields, from the device's side of
// the same memory the driver wrote.
func (d *DeviceSide) Desc(idx int) (uapi.VirtqDesc, error) { return d.q.Desc(idx) }

// Buffer returns the simulator-side backing buffer for descriptor idx.
func (d *DeviceSide) Buffer(idx int) []byte { return d.q.buffers[idx] }

// PushUsed appends a completion to the used ring.
func (d *DeviceSide) PushUsed(descHead int, length uint32) {
	hdr, _ := uapi.GetUsedHeader(d.q.usedBytes())
	_ = uapi.PutUsedElem(d.q.usedBytes(), hdr.Idx%uint16(d.q.size), uapi.VirtqUsedElem{
		ID:  uint32(descHead),
		Len: length,
	})
	hdr.Idx++
	_ = uapi.PutUsedHeader(d.q.usedBytes(), hdr)
}
