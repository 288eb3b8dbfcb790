package simplatform

import (
	"crypto/rand"
	"time"

	"github.com/vqkernel/vqkernel/internal/interfaces"
	"github.com/vqkernel/vqkernel/internal/uapi"
	"github.com/vqkernel/vqkernel/internal/virtio"
)

// usedBufferInterrupt is VIRTIO_MMIO_INT_VRING (bit 0 of
// RegInterruptStatus): "a virtqueue has buffers pending in the used
// ring". This kernel never uses VIRTIO_MMIO_INT_CONFIG_CHANGE, so it's
// the only bit any simulated device ever raises.
const usedBufferInterrupt = 1

// pollInterval bounds how long a device loop can go without checking
// its stop channel when its doorbell channel is otherwise quiet; the
// doorbell wakes it immediately in the common case.
const pollInterval = 50 * time.Millisecond

// deviceLoop is the shape every simulated device below follows: wait
// for a doorbell ring (or the poll timeout, cheap insurance against a
// missed wakeup), drain every avail entry presently posted, service
// each with fn, and raise the completion interrupt once per drain pass
// rather than once per descriptor.
func deviceLoop(stop <-chan struct{}, doorbell <-chan uint32, mmio *MMIORegion, irq *interruptSource, dev *virtio.DeviceSide, fn func(head int)) {
	for {
		select {
		case <-stop:
			return
		case <-doorbell:
		case <-time.After(pollInterval):
		}
		drained := false
		for {
			head, ok := dev.PopAvail()
			if !ok {
				break
			}
			fn(head)
			drained = true
		}
		if drained {
			mmio.RaiseInterrupt(usedBufferInterrupt)
			irq.notify()
		}
	}
}

// runEntropyDevice services the entropy device's single queue: every
// avail entry is one device-writable descriptor that this loop fills
// with bytes from the host's CSPRNG, standing in for a real virtio-rng
// device's hardware entropy source.
func runEntropyDevice(stop <-chan struct{}, mmio *MMIORegion, irq *interruptSource, dev *virtio.DeviceSide) {
	deviceLoop(stop, mmio.Doorbell(), mmio, irq, dev, func(head int) {
		buf := dev.Buffer(head)
		n, _ := rand.Read(buf)
		dev.PushUsed(head, uint32(n))
	})
}

// runBlockDevice services the block device's single queue against
// store: each avail entry is a header + zero-or-more data + status
// descriptor chain; the header names the op and starting sector, each
// data descriptor one sector's worth of transfer, and the trailing
// descriptor is where this loop writes the completion status byte.
func runBlockDevice(stop <-chan struct{}, mmio *MMIORegion, irq *interruptSource, dev *virtio.DeviceSide, store interfaces.BlockStore) {
	deviceLoop(stop, mmio.Doorbell(), mmio, irq, dev, func(head int) {
		chain := collectChain(dev, head)
		if len(chain) < 2 {
			return // malformed chain: at minimum header + status
		}
		dataDescs := chain[1 : len(chain)-1]
		header, err := uapi.GetBlockReqHeader(dev.Buffer(chain[0]))
		var status uint32 = uapi.BlockStatusOK
		if err != nil {
			status = uapi.BlockStatusIOErr
		} else {
			status = serviceBlockChain(dev, store, header, dataDescs)
		}
		statusBuf := dev.Buffer(chain[len(chain)-1])
		if len(statusBuf) > 0 {
			statusBuf[0] = byte(status)
		}
		// The used length reports bytes actually transferred across the
		// data descriptors, the same quantity a real virtio-blk device
		// reports; the driver derives each segment's CompletedSectors
		// from this rather than assuming the whole buffer transferred.
		var transferred uint32
		if status == uapi.BlockStatusOK {
			for _, idx := range dataDescs {
				transferred += uint32(len(dev.Buffer(idx)))
			}
		}
		dev.PushUsed(head, transferred)
	})
}

func serviceBlockChain(dev *virtio.DeviceSide, store interfaces.BlockStore, header uapi.BlockReqHeader, dataDescs []int) uint32 {
	sector := header.Sector
	for _, idx := range dataDescs {
		buf := dev.Buffer(idx)
		var err error
		switch header.Type {
		case uapi.BlockReqIn:
			err = store.ReadSector(sector, buf)
		case uapi.BlockReqOut:
			err = store.WriteSector(sector, buf)
		case uapi.BlockReqFlush:
			err = store.Flush()
		default:
			return uapi.BlockStatusUnsupp
		}
		if err != nil {
			return uapi.BlockStatusIOErr
		}
		sector += uint64(len(buf)) / sectorSize
	}
	if header.Type == uapi.BlockReqFlush {
		if err := store.Flush(); err != nil {
			return uapi.BlockStatusIOErr
		}
	}
	return uapi.BlockStatusOK
}

// collectChain walks a descriptor chain from head, following NEXT
// flags, and returns every descriptor index in order.
func collectChain(dev *virtio.DeviceSide, head int) []int {
	var chain []int
	idx := head
	for {
		chain = append(chain, idx)
		d, err := dev.Desc(idx)
		if err != nil || d.Flags&uapi.DescFNext == 0 {
			return chain
		}
		idx = int(d.Next)
	}
}

// netLoopback wires the network device's transmit queue straight back
// into its receive queue: every packet a driver sends is delivered to
// whichever standing receive buffer is posted next, exactly as if the
// simulated NIC sat on a wire with only itself at the other end. This
// is what lets an integration test exercise a full NetSend/NetRecv
// round trip (e.g. a UDP echo rewrite) without any real host
// networking.
type netLoopback struct {
	mmio *MMIORegion
	irq  *interruptSource
	rx   *virtio.DeviceSide
	tx   *virtio.DeviceSide
}

func runNetworkDevice(stop <-chan struct{}, mmio *MMIORegion, irq *interruptSource, rx, tx *virtio.DeviceSide) {
	nl := &netLoopback{mmio: mmio, irq: irq, rx: rx, tx: tx}
	deviceLoop(stop, mmio.Doorbell(), mmio, irq, tx, nl.serviceTxPacket)
}

func (nl *netLoopback) serviceTxPacket(head int) {
	chain := collectChain(nl.tx, head)
	var packet []byte
	for _, idx := range chain {
		packet = append(packet, nl.tx.Buffer(idx)...)
	}
	nl.tx.PushUsed(head, uint32(len(packet)))

	rxHead, ok := nl.rx.PopAvail()
	if !ok {
		return // no standing buffer posted; the packet is simply lost, as on any real wire with no listener
	}
	rxChain := collectChain(nl.rx, rxHead)
	copied := copyToChain(nl.rx, rxChain, packet)
	nl.rx.PushUsed(rxHead, uint32(copied))
	nl.mmio.RaiseInterrupt(usedBufferInterrupt)
	nl.irq.notify()
}

func copyToChain(dev *virtio.DeviceSide, chain []int, data []byte) int {
	copied := 0
	for _, idx := range chain {
		buf := dev.Buffer(idx)
		n := copy(buf, data[copied:])
		copied += n
		if copied >= len(data) {
			break
		}
	}
	return copied
}
