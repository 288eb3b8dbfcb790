// Package entropy drives the virtio-entropy (virtio-rng) device: a
// single queue where every request is one device-writable descriptor
// pointing at the caller's buffer.
package entropy

import (
	"fmt"

	"github.com/vqkernel/vqkernel"
	"github.com/vqkernel/vqkernel/internal/uapi"
	"github.com/vqkernel/vqkernel/internal/virtio"
)

// Driver owns the entropy device's single virtqueue and the table
// mapping an in-flight descriptor chain back to the request it serves.
type Driver struct {
	transport *virtio.Transport
	queue     *virtio.Queue
	device    *virtio.DeviceSide // simulator-only: lets tests/the hosted sim feed completions

	inflight map[int]*vqkernel.RngRequest // descriptor head -> request

	metrics *vqkernel.Metrics
}

// New constructs a driver bound to mmio, running feature negotiation
// and queue setup immediately. If queueDepth exceeds the device's
// advertised maximum, Transport.SetupQueue rejects it and New fails.
func New(mmio virtio.MMIO, queueDepth int, metrics *vqkernel.Metrics) (*Driver, error) {
	tr := virtio.NewTransport(mmio, uapi.DeviceIDEntropy)
	if _, err := tr.NegotiateFeatures(uapi.FeatureVersionOne); err != nil {
		return nil, fmt.Errorf("entropy: negotiate: %w", err)
	}
	q := virtio.NewQueue(queueDepth)
	if err := tr.SetupQueue(0, q); err != nil {
		tr.Fail()
		return nil, fmt.Errorf("entropy: setup queue: %w", err)
	}
	if err := tr.DriverOK(); err != nil {
		return nil, fmt.Errorf("entropy: driver-ok: %w", err)
	}
	return &Driver{
		transport: tr,
		queue:     q,
		device:    q.Device(),
		inflight:  make(map[int]*vqkernel.RngRequest),
		metrics:   metrics,
	}, nil
}

// Submit posts r's buffer to the device. Returns NoSpace if the queue
// has no free descriptor.
func (d *Driver) Submit(r *vqkernel.RngRequest) vqkernel.Result {
	indices, ok := d.queue.AllocChain(1)
	if !ok {
		d.metrics.RecordDescriptorExhaustion()
		return vqkernel.ResultNoSpace
	}
	head := indices[0]
	if err := d.queue.SetDesc(head, r.Buffer, uapi.DescFWrite, 0); err != nil {
		d.queue.FreeChain(head)
		return vqkernel.ResultInvalid
	}
	r.DescIdx = head
	d.inflight[head] = r
	d.queue.PublishAvail(head)
	d.transport.Notify(0)
	return vqkernel.ResultOk
}

// Cancel is intentionally absent: RngRequest does not implement
// Cancellable. Kernel.Cancel still accepts an entropy request, but the
// platform dispatcher drops the forwarded cancellation before it
// reaches this driver; ProcessCompletions below completes the request
// normally once the device responds.

// ProcessCompletions drains every used-ring entry currently available
// and completes the matching request via k.Complete. Called from the
// platform's Tick once per device pointer the IRQ ring hands it.
func (d *Driver) ProcessCompletions(k *vqkernel.Kernel) {
	for {
		head, length, ok := d.queue.PopUsed()
		if !ok {
			return
		}
		r, known := d.inflight[head]
		if !known {
			continue
		}
		delete(d.inflight, head)
		d.queue.FreeChain(head)

		r.Completed = int(length)
		k.Complete(&r.Work, vqkernel.ResultOk)
	}
}

// Device exposes the device-side ring view, used only by the hosted
// simulator's entropy backend to consume avail entries and push used
// entries.
func (d *Driver) Device() *virtio.DeviceSide { return d.device }

// Shutdown sets the device's FAILED status bit, the spec-mandated
// response to a fatal kernel abort; no further requests are serviced.
func (d *Driver) Shutdown() { d.transport.Fail() }

// PollOnce synchronously checks the used ring a single time and
// completes anything already posted there, without waiting on the IRQ
// ring. It exists only for CSPRNG bootstrap callers that want to pump
// the entropy device directly before the rest of the platform's
// interrupt pipeline is up; ordinary completions always flow through
// ProcessCompletions from the platform's Tick instead.
func (d *Driver) PollOnce(k *vqkernel.Kernel) {
	d.ProcessCompletions(k)
}
