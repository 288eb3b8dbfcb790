// Package uapi holds the wire-level constants and structs the kernel's
// VirtIO transport and drivers marshal onto the MMIO transport: feature
// bits, status bits, descriptor flags, device IDs and the per-device
// request headers (block, network). Nothing in this package allocates
// or does I/O; it is pure layout.
package uapi

// MMIO register offsets, relative to a device's MMIO window. Matches the
// "virtio-mmio" transport layout (VirtIO 1.1 spec, section 4.2.2).
const (
	RegMagicValue        = 0x000
	RegVersion           = 0x004
	RegDeviceID          = 0x008
	RegVendorID          = 0x00c
	RegDeviceFeatures    = 0x010
	RegDeviceFeaturesSel = 0x014
	RegDriverFeatures    = 0x020
	RegDriverFeaturesSel = 0x024
	RegQueueSel          = 0x030
	RegQueueNumMax       = 0x034
	RegQueueNum          = 0x038
	RegQueueReady        = 0x044
	RegQueueNotify       = 0x050
	RegInterruptStatus   = 0x060
	RegInterruptACK      = 0x064
	RegStatus            = 0x070
	RegQueueDescLow      = 0x080
	RegQueueDescHigh     = 0x084
	RegQueueDriverLow    = 0x090
	RegQueueDriverHigh   = 0x094
	RegQueueDeviceLow    = 0x0a0
	RegQueueDeviceHigh   = 0x0a4
	RegConfigGeneration  = 0x0fc
	RegConfig            = 0x100
)

// MagicValue is the little-endian ASCII value of "virt", read from
// RegMagicValue to confirm the window holds a virtio-mmio device.
const MagicValue = 0x74726976

// Device status bits (RegStatus), written in the order a driver must
// negotiate them: reset (0) -> Acknowledge -> Driver -> (read features,
// write subset back) -> FeaturesOK -> (map queues) -> DriverOK.
const (
	StatusACKNOWLEDGE      = 1 << 0
	StatusDRIVER           = 1 << 1
	StatusDRIVER_OK        = 1 << 2
	StatusFEATURES_OK      = 1 << 3
	StatusDEVICE_NEEDS_RST = 1 << 6
	StatusFAILED           = 1 << 7
)

// Device IDs, from RegDeviceID.
const (
	DeviceIDNetwork = 1
	DeviceIDBlock   = 2
	DeviceIDEntropy = 4
)

// Feature bits this kernel negotiates. VersionOne is required by the
// MMIO transport's "modern" mode; the rest are device-specific and
// negotiated only against the matching device ID.
const (
	FeatureVersionOne  = 1 << 32 // VIRTIO_F_VERSION_1 (bit 32, spans the hi feature word)
	FeatureRingEventID = 1 << 29 // VIRTIO_F_RING_EVENT_IDX
	FeatureNetMrgRxBuf = 1 << 15 // VIRTIO_NET_F_MRG_RXBUF
	FeatureBlkFlush    = 1 << 9  // VIRTIO_BLK_F_FLUSH
)

// Descriptor flags (VirtqDesc.Flags).
const (
	DescFNext     = 1 << 0 // descriptor continues via Next
	DescFWrite    = 1 << 1 // device-writable (as opposed to device-readable)
	DescFIndirect = 1 << 2 // descriptor points at an indirect table; unused here
)

// Block request types (BlockReqHeader.Type).
const (
	BlockReqIn    = 0 // read
	BlockReqOut   = 1 // write
	BlockReqFlush = 4
)

// Block request status byte, appended after the data payload.
const (
	BlockStatusOK     = 0
	BlockStatusIOErr  = 1
	BlockStatusUnsupp = 2
)

// QueueSize is the fixed split-virtqueue depth used for every device
// this kernel drives. A real virtio-mmio device advertises its own max
// via RegQueueNumMax; this kernel always requests the full advertised
// depth up to QueueSize and fails negotiation if the device offers less.
const QueueSize = 256
