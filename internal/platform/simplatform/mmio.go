package simplatform

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/vqkernel/vqkernel/internal/uapi"
	"github.com/vqkernel/vqkernel/internal/virtio"
)

// regionSize is large enough to hold every register offset uapi defines
// plus the device-specific config space that follows RegConfig.
const regionSize = 4096

// MMIORegion simulates one device's memory-mapped register window.
// There is no real physical device behind it to map, so the backing
// store is an anonymous mmap (golang.org/x/sys/unix.Mmap with
// MAP_PRIVATE|MAP_ANONYMOUS) rather than a real BAR — the same
// raw-mmap mechanism the teacher uses to map ublk queue descriptor
// memory, repurposed here to give each simulated device its own
// page-backed register file instead of a Go-native struct, so reads
// and writes go through the same byte-offset addressing real MMIO
// would use.
type MMIORegion struct {
	mu       sync.Mutex
	mem      []byte
	irqs     uint32      // pending interrupt status bits, set by the device goroutine
	notifyCh chan uint32 // doorbell: queue index written to RegQueueNotify
}

// NewMMIORegion allocates and initializes a register window for the
// given device ID (one of uapi.DeviceID*).
func NewMMIORegion(deviceID uint32) (*MMIORegion, error) {
	mem, err := unix.Mmap(-1, 0, regionSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("simplatform: mmap register window: %w", err)
	}
	r := &MMIORegion{mem: mem, notifyCh: make(chan uint32, 8)}
	binary.LittleEndian.PutUint32(r.mem[uapi.RegMagicValue:], uapi.MagicValue)
	binary.LittleEndian.PutUint32(r.mem[uapi.RegDeviceID:], deviceID)
	binary.LittleEndian.PutUint32(r.mem[uapi.RegQueueNumMax:], uapi.QueueSize)
	return r, nil
}

// Close unmaps the register window.
func (r *MMIORegion) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mem == nil {
		return nil
	}
	err := unix.Munmap(r.mem)
	r.mem = nil
	return err
}

// Read32 implements virtio.MMIO.
func (r *MMIORegion) Read32(offset uintptr) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if offset == uapi.RegInterruptStatus {
		return r.irqs
	}
	return binary.LittleEndian.Uint32(r.mem[offset:])
}

// Write32 implements virtio.MMIO.
func (r *MMIORegion) Write32(offset uintptr, v uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch offset {
	case uapi.RegInterruptACK:
		r.irqs &^= v
		return
	case uapi.RegQueueNumMax:
		return // device-advertised, read-only from the driver's side
	case uapi.RegQueueNotify:
		select {
		case r.notifyCh <- v:
		default:
			// Channel full: the device loop hasn't caught up yet, but it
			// will still find the new avail entry on its next drain pass.
		}
	}
	binary.LittleEndian.PutUint32(r.mem[offset:], v)
}

// Doorbell returns the channel the device-side loop selects on to wake
// promptly after Notify, instead of busy-polling the avail ring.
func (r *MMIORegion) Doorbell() <-chan uint32 { return r.notifyCh }

// RaiseInterrupt ORs bits into the pending interrupt-status register,
// called by a device's simulated completion goroutine after pushing to
// the used ring — the hosted analogue of a real device asserting its
// IRQ line.
func (r *MMIORegion) RaiseInterrupt(bits uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.irqs |= bits
}

var _ virtio.MMIO = (*MMIORegion)(nil)
