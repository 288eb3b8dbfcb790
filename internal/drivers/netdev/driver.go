// Package netdev drives the virtio-net device's two virtqueues.
// Receive only supports the standing pattern: a ring of buffers posted
// once and re-armed by the caller after each packet. Transmit sends one
// packet at a time, one descriptor chain outstanding per request.
package netdev

import (
	"fmt"

	"github.com/vqkernel/vqkernel"
	"github.com/vqkernel/vqkernel/internal/uapi"
	"github.com/vqkernel/vqkernel/internal/virtio"
)

const (
	rxQueueIdx = 0
	txQueueIdx = 1

	netHeaderSize = 12 // size of uapi.NetHeader on the wire
)

// rxSlot records which standing request and ring slot a header+data
// descriptor chain belongs to, plus the header buffer the device writes
// into on each receive.
type rxSlot struct {
	req       *vqkernel.NetRecvRequest
	bufIdx    int
	headerBuf []byte
}

// Driver owns the network device's receive and transmit virtqueues.
type Driver struct {
	transport *virtio.Transport

	rxQueue    *virtio.Queue
	rxDevice   *virtio.DeviceSide
	rxInflight map[int]rxSlot // header descriptor head -> slot; entries persist across completions until release/cancel

	txQueue    *virtio.Queue
	txDevice   *virtio.DeviceSide
	txInflight map[int]*vqkernel.NetSendRequest // header descriptor head -> request

	metrics *vqkernel.Metrics
}

// New negotiates the device and brings up both its queues.
func New(mmio virtio.MMIO, rxDepth, txDepth int, metrics *vqkernel.Metrics) (*Driver, error) {
	tr := virtio.NewTransport(mmio, uapi.DeviceIDNetwork)
	if _, err := tr.NegotiateFeatures(uapi.FeatureVersionOne); err != nil {
		return nil, fmt.Errorf("netdev: negotiate: %w", err)
	}
	rxQ := virtio.NewQueue(rxDepth)
	if err := tr.SetupQueue(rxQueueIdx, rxQ); err != nil {
		tr.Fail()
		return nil, fmt.Errorf("netdev: setup rx queue: %w", err)
	}
	txQ := virtio.NewQueue(txDepth)
	if err := tr.SetupQueue(txQueueIdx, txQ); err != nil {
		tr.Fail()
		return nil, fmt.Errorf("netdev: setup tx queue: %w", err)
	}
	if err := tr.DriverOK(); err != nil {
		return nil, fmt.Errorf("netdev: driver-ok: %w", err)
	}
	return &Driver{
		transport:  tr,
		rxQueue:    rxQ,
		rxDevice:   rxQ.Device(),
		rxInflight: make(map[int]rxSlot),
		txQueue:    txQ,
		txDevice:   txQ.Device(),
		txInflight: make(map[int]*vqkernel.NetSendRequest),
		metrics:    metrics,
	}, nil
}

// SubmitRecv allocates a header+data descriptor chain per ring buffer
// and posts all of them to the receive queue. Called exactly once per
// request, on its first submission; re-arming a single buffer after a
// completion goes through ReleaseBuffer instead.
func (d *Driver) SubmitRecv(r *vqkernel.NetRecvRequest) vqkernel.Result {
	allocated := make([]int, 0, len(r.Ring))
	for i := range r.Ring {
		indices, ok := d.rxQueue.AllocChain(2)
		if !ok {
			d.metrics.RecordDescriptorExhaustion()
			for _, head := range allocated {
				delete(d.rxInflight, head)
				d.rxQueue.FreeChain(head)
			}
			return vqkernel.ResultNoSpace
		}
		headerBuf := make([]byte, netHeaderSize)
		_ = d.rxQueue.SetDesc(indices[0], headerBuf, uapi.DescFWrite|uapi.DescFNext, uint16(indices[1]))
		_ = d.rxQueue.SetDesc(indices[1], r.Ring[i].Buffer, uapi.DescFWrite, 0)

		head := indices[0]
		r.DescHeads[i] = head
		d.rxInflight[head] = rxSlot{req: r, bufIdx: i, headerBuf: headerBuf}
		d.rxQueue.PublishAvail(head)
		allocated = append(allocated, head)
	}
	d.transport.Notify(rxQueueIdx)
	return vqkernel.ResultOk
}

// ReleaseBuffer re-posts the descriptor chain backing ring slot idx of
// req to the device, after the caller has finished reading the packet
// delivered to it.
func (d *Driver) ReleaseBuffer(req *vqkernel.NetRecvRequest, idx int) {
	if idx < 0 || idx >= len(req.DescHeads) {
		return
	}
	head := req.DescHeads[idx]
	if head < 0 {
		return
	}
	d.rxQueue.PublishAvail(head)
	d.transport.Notify(rxQueueIdx)
}

// CancelRecv synchronously tears down every persistent descriptor chain
// belonging to req and completes it with Cancelled. Called by the
// platform when a standing NetRecv's cancellation reaches the driver
// layer (the kernel core never resolves a NetRecv cancellation itself).
func (d *Driver) CancelRecv(k *vqkernel.Kernel, req *vqkernel.NetRecvRequest) {
	for i, head := range req.DescHeads {
		if head < 0 {
			continue
		}
		delete(d.rxInflight, head)
		d.rxQueue.FreeChain(head)
		req.DescHeads[i] = -1
	}
	k.Complete(&req.Work, vqkernel.ResultCancelled)
}

// ProcessRecvCompletions drains the receive queue's used ring. The
// descriptor chain is deliberately not freed: the buffer is "with the
// user" until ReleaseBuffer reposts it.
func (d *Driver) ProcessRecvCompletions(k *vqkernel.Kernel) {
	for {
		head, length, ok := d.rxQueue.PopUsed()
		if !ok {
			return
		}
		slot, known := d.rxInflight[head]
		if !known {
			continue
		}
		pktLen := int(length) - netHeaderSize
		if pktLen < 0 {
			pktLen = 0
		}
		slot.req.Ring[slot.bufIdx].PacketLength = pktLen
		slot.req.LastFilled = slot.bufIdx
		k.Complete(&slot.req.Work, vqkernel.ResultOk)
	}
}

// SubmitSend posts the first unsent packet of r. Subsequent packets are
// posted automatically from ProcessSendCompletions as earlier ones
// finish; only one chain is ever outstanding per request.
func (d *Driver) SubmitSend(r *vqkernel.NetSendRequest) vqkernel.Result {
	return d.postNextPacket(r)
}

func (d *Driver) postNextPacket(r *vqkernel.NetSendRequest) vqkernel.Result {
	indices, ok := d.txQueue.AllocChain(2)
	if !ok {
		d.metrics.RecordDescriptorExhaustion()
		return vqkernel.ResultNoSpace
	}
	headerBuf := make([]byte, netHeaderSize) // zeroed; TX header carries no GSO/checksum offload in this driver
	_ = d.txQueue.SetDesc(indices[0], headerBuf, uapi.DescFNext, uint16(indices[1]))
	_ = d.txQueue.SetDesc(indices[1], r.Packets[r.Sent], 0, 0)

	head := indices[0]
	r.DescIdx = head
	d.txInflight[head] = r
	d.txQueue.PublishAvail(head)
	d.transport.Notify(txQueueIdx)
	return vqkernel.ResultOk
}

// ProcessSendCompletions drains the transmit queue's used ring, frees
// each finished chain, and either posts the request's next packet or
// completes it once every packet has gone out.
func (d *Driver) ProcessSendCompletions(k *vqkernel.Kernel) {
	for {
		head, _, ok := d.txQueue.PopUsed()
		if !ok {
			return
		}
		r, known := d.txInflight[head]
		if !known {
			continue
		}
		delete(d.txInflight, head)
		d.txQueue.FreeChain(head)
		r.Sent++

		if r.Sent < len(r.Packets) {
			// The two-descriptor chain freed just above is exactly what the
			// next packet's chain needs, and nothing else allocates from the
			// transmit queue in between, so this post always finds space.
			d.postNextPacket(r)
			continue
		}
		k.Complete(&r.Work, vqkernel.ResultOk)
	}
}

// RXDevice exposes the receive queue's device-side ring view, for the
// hosted simulator's network backend.
func (d *Driver) RXDevice() *virtio.DeviceSide { return d.rxDevice }

// Shutdown sets the device's FAILED status bit; used on a fatal kernel
// abort to stop the transport from accepting further requests.
func (d *Driver) Shutdown() { d.transport.Fail() }

// TXDevice exposes the transmit queue's device-side ring view.
func (d *Driver) TXDevice() *virtio.DeviceSide { return d.txDevice }
