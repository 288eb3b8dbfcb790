// Package block drives the virtio-blk device: each request is a
// descriptor chain of a read-only header, zero or more data
// descriptors, and a trailing device-written status byte.
package block

import (
	"fmt"

	"github.com/vqkernel/vqkernel"
	"github.com/vqkernel/vqkernel/internal/uapi"
	"github.com/vqkernel/vqkernel/internal/virtio"
)

const sectorSize = 512

// Driver owns the block device's single virtqueue.
type Driver struct {
	transport *virtio.Transport
	queue     *virtio.Queue
	device    *virtio.DeviceSide

	inflight map[int]*inflightReq // header descriptor index -> bookkeeping

	metrics *vqkernel.Metrics
}

type inflightReq struct {
	req       *vqkernel.BlockRequest
	headerBuf []byte
	statusBuf []byte
}

// New negotiates and brings up the block device at mmio.
func New(mmio virtio.MMIO, queueDepth int, metrics *vqkernel.Metrics) (*Driver, error) {
	tr := virtio.NewTransport(mmio, uapi.DeviceIDBlock)
	if _, err := tr.NegotiateFeatures(uapi.FeatureVersionOne | uapi.FeatureBlkFlush); err != nil {
		return nil, fmt.Errorf("block: negotiate: %w", err)
	}
	q := virtio.NewQueue(queueDepth)
	if err := tr.SetupQueue(0, q); err != nil {
		tr.Fail()
		return nil, fmt.Errorf("block: setup queue: %w", err)
	}
	if err := tr.DriverOK(); err != nil {
		return nil, fmt.Errorf("block: driver-ok: %w", err)
	}
	return &Driver{
		transport: tr,
		queue:     q,
		device:    q.Device(),
		inflight:  make(map[int]*inflightReq),
		metrics:   metrics,
	}, nil
}

func blockReqType(op vqkernel.BlockOp) uint32 {
	switch op {
	case vqkernel.BlockOpWrite:
		return uapi.BlockReqOut
	case vqkernel.BlockOpFlush:
		return uapi.BlockReqFlush
	default:
		return uapi.BlockReqIn
	}
}

// Submit builds r's descriptor chain (header, one descriptor per
// segment, trailing status byte) and posts it to the device. Returns
// NoSpace if the queue cannot supply enough descriptors for the whole
// chain; no partial chain is ever left allocated.
func (d *Driver) Submit(r *vqkernel.BlockRequest) vqkernel.Result {
	n := 1 + len(r.Segments) + 1
	indices, ok := d.queue.AllocChain(n)
	if !ok {
		d.metrics.RecordDescriptorExhaustion()
		return vqkernel.ResultNoSpace
	}

	var sector uint64
	if len(r.Segments) > 0 {
		sector = r.Segments[0].Sector
	}
	headerBuf := make([]byte, 16)
	_ = uapi.PutBlockReqHeader(headerBuf, uapi.BlockReqHeader{
		Type:   blockReqType(r.BlockOp),
		Sector: sector,
	})
	statusBuf := make([]byte, 1)

	head := indices[0]
	for i, idx := range indices {
		last := i == len(indices)-1
		flags := uint16(uapi.DescFNext)
		if last {
			flags = 0
		}
		var next uint16
		if !last {
			next = uint16(indices[i+1])
		}

		switch {
		case i == 0:
			_ = d.queue.SetDesc(idx, headerBuf, flags, next)
		case last:
			_ = d.queue.SetDesc(idx, statusBuf, uapi.DescFWrite, 0)
		default:
			segFlags := flags
			if r.BlockOp != vqkernel.BlockOpWrite {
				segFlags |= uapi.DescFWrite // device writes the read data back
			}
			_ = d.queue.SetDesc(idx, r.Segments[i-1].Buffer, segFlags, next)
		}
	}
	r.DescHeads = []int{head}

	d.inflight[head] = &inflightReq{req: r, headerBuf: headerBuf, statusBuf: statusBuf}
	d.queue.PublishAvail(head)
	d.transport.Notify(0)
	return vqkernel.ResultOk
}

// ProcessCompletions drains the used ring and completes each matching
// request, mapping the device's status byte onto the kernel's Result
// taxonomy and reflecting transferred sectors into each segment.
func (d *Driver) ProcessCompletions(k *vqkernel.Kernel) {
	for {
		head, length, ok := d.queue.PopUsed()
		if !ok {
			return
		}
		ir, known := d.inflight[head]
		if !known {
			continue
		}
		delete(d.inflight, head)
		d.queue.FreeChain(head)

		result := vqkernel.ResultOk
		switch ir.statusBuf[0] {
		case uapi.BlockStatusOK:
			result = vqkernel.ResultOk
		case uapi.BlockStatusIOErr:
			result = vqkernel.ResultIoError
		case uapi.BlockStatusUnsupp:
			result = vqkernel.ResultNoDevice
		}
		if result == vqkernel.ResultOk {
			// length is the device-reported byte count actually
			// transferred; apportion it across segments in order rather
			// than assuming every segment's whole buffer transferred, so
			// a short transfer is reflected accurately.
			remaining := length
			for i := range ir.req.Segments {
				seg := &ir.req.Segments[i]
				segBytes := uint32(len(seg.Buffer))
				if segBytes > remaining {
					segBytes = remaining
				}
				seg.CompletedSectors = segBytes / sectorSize
				remaining -= segBytes
			}
		}
		k.Complete(&ir.req.Work, result)
	}
}

// Device exposes the device-side ring view for the hosted simulator's
// block backend.
func (d *Driver) Device() *virtio.DeviceSide { return d.device }

// Shutdown sets the device's FAILED status bit; used on a fatal kernel
// abort to stop the transport from accepting further requests.
func (d *Driver) Shutdown() { d.transport.Fail() }
