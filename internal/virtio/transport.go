package virtio

import (
	"fmt"

	"github.com/vqkernel/vqkernel/internal/uapi"
)

// MMIO is the register-level surface a virtio-mmio device window
// exposes. internal/platform/simplatform implements it over an mmap'd
// region; tests implement it over a plain map for speed.
type MMIO interface {
	Read32(offset uintptr) uint32
	Write32(offset uintptr, v uint32)
}

// Transport drives one device's MMIO register window through the
// VirtIO feature-negotiation and queue-setup state machine (VirtIO 1.1
// section 3.1). Stateless beyond the device it's bound to at
// construction; safe to discard after DriverOK or Fail.
type Transport struct {
	mmio     MMIO
	deviceID uint32
}

// NewTransport binds a Transport to a device's MMIO window, without
// touching any register yet.
func NewTransport(mmio MMIO, deviceID uint32) *Transport {
	return &Transport{mmio: mmio, deviceID: deviceID}
}

// Reset clears the device's status register, returning it to its
// power-on state. Callers do this before any negotiation attempt,
// including to recover after a prior Fail.
func (t *Transport) Reset() {
	t.mmio.Write32(uapi.RegStatus, 0)
}

func (t *Transport) status() uint32 { return t.mmio.Read32(uapi.RegStatus) }

func (t *Transport) setStatus(bit uint32) {
	t.mmio.Write32(uapi.RegStatus, t.status()|bit)
}

// Fail sets the FAILED status bit, the spec-mandated response to any
// negotiation step failing. The device is expected to reject further
// commands until Reset.
func (t *Transport) Fail() {
	t.setStatus(uapi.StatusFAILED)
}

// NegotiateFeatures runs ACKNOWLEDGE -> DRIVER -> read device features
// -> write driver-accepted subset -> FEATURES_OK -> verify. want is the
// full set of feature bits this kernel is prepared to use; the device
// may offer fewer, never more than it advertised. Returns the actual
// negotiated set.
func (t *Transport) NegotiateFeatures(want uint64) (uint64, error) {
	magic := t.mmio.Read32(uapi.RegMagicValue)
	if magic != uapi.MagicValue {
		return 0, fmt.Errorf("virtio: bad magic %#x at device window", magic)
	}
	gotID := t.mmio.Read32(uapi.RegDeviceID)
	if gotID != t.deviceID {
		return 0, fmt.Errorf("virtio: device id mismatch: want %d, got %d", t.deviceID, gotID)
	}

	t.Reset()
	t.setStatus(uapi.StatusACKNOWLEDGE)
	t.setStatus(uapi.StatusDRIVER)

	t.mmio.Write32(uapi.RegDeviceFeaturesSel, 0)
	lo := t.mmio.Read32(uapi.RegDeviceFeatures)
	t.mmio.Write32(uapi.RegDeviceFeaturesSel, 1)
	hi := t.mmio.Read32(uapi.RegDeviceFeatures)
	offered := uint64(lo) | uint64(hi)<<32

	negotiated := offered & want

	t.mmio.Write32(uapi.RegDriverFeaturesSel, 0)
	t.mmio.Write32(uapi.RegDriverFeatures, uint32(negotiated))
	t.mmio.Write32(uapi.RegDriverFeaturesSel, 1)
	t.mmio.Write32(uapi.RegDriverFeatures, uint32(negotiated>>32))

	t.setStatus(uapi.StatusFEATURES_OK)
	if t.status()&uapi.StatusFEATURES_OK == 0 {
		t.Fail()
		return 0, fmt.Errorf("virtio: device rejected feature set %#x", negotiated)
	}
	return negotiated, nil
}

// SetupQueue selects queueIdx and maps q into it. Returns an error if q
// is larger than the device's advertised maximum for that queue.
func (t *Transport) SetupQueue(queueIdx uint32, q *Queue) error {
	t.mmio.Write32(uapi.RegQueueSel, queueIdx)
	max := t.mmio.Read32(uapi.RegQueueNumMax)
	if max == 0 {
		return fmt.Errorf("virtio: queue %d not available", queueIdx)
	}
	if uint32(q.Size()) > max {
		return fmt.Errorf("virtio: queue %d size %d exceeds device max %d", queueIdx, q.Size(), max)
	}
	t.mmio.Write32(uapi.RegQueueNum, uint32(q.Size()))

	// A real transport would write the physical addresses of the
	// descriptor table, available ring and used ring here. This kernel
	// runs hosted (see package doc), so there is no physical address to
	// publish; the simulated device is handed *Queue directly instead.
	// The registers are still written, with the queue's in-process
	// identity as a stand-in value, so the negotiation sequence itself
	// is exercised faithfully.
	t.mmio.Write32(uapi.RegQueueDescLow, uint32(queueIdx))
	t.mmio.Write32(uapi.RegQueueDescHigh, 0)
	t.mmio.Write32(uapi.RegQueueDriverLow, uint32(queueIdx))
	t.mmio.Write32(uapi.RegQueueDriverHigh, 0)
	t.mmio.Write32(uapi.RegQueueDeviceLow, uint32(queueIdx))
	t.mmio.Write32(uapi.RegQueueDeviceHigh, 0)

	t.mmio.Write32(uapi.RegQueueReady, 1)
	return nil
}

// DriverOK sets the final DRIVER_OK status bit, after which the device
// may begin processing the queues set up via SetupQueue.
func (t *Transport) DriverOK() error {
	if t.status()&uapi.StatusDEVICE_NEEDS_RST != 0 {
		return fmt.Errorf("virtio: device requested reset during negotiation")
	}
	t.setStatus(uapi.StatusDRIVER_OK)
	return nil
}

// Notify rings the device's doorbell for queueIdx.
func (t *Transport) Notify(queueIdx uint32) {
	t.mmio.Write32(uapi.RegQueueNotify, queueIdx)
}

// InterruptStatus reads and acknowledges the device's pending interrupt
// reasons in one step, matching how a real ISR must ack before it can
// see the next edge.
func (t *Transport) InterruptStatus() uint32 {
	s := t.mmio.Read32(uapi.RegInterruptStatus)
	if s != 0 {
		t.mmio.Write32(uapi.RegInterruptACK, s)
	}
	return s
}
