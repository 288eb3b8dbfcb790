package vqkernel

// Tunables governing the kernel core. These are re-exported constants,
// not configuration: changing them changes the kernel's behavior, and
// unlike the teacher's ublk tunables there is no runtime Options struct
// for most of them, since a bare-metal kernel has no config file to read
// them from.
const (
	// DebugHistoryDepth bounds the ring of recent state transitions kept
	// for diagnostics (Kernel.History). Zero disables history tracking.
	DebugHistoryDepth = 16

	// MaxWaitMs caps how long cmd/vqkerneld's event loop blocks in
	// Platform.WaitForInterrupt between Ticks, whether Kernel.NextDelay
	// reports a later timer or no timer at all, so a wedged interrupt
	// source cannot stall the loop forever. NextDelay itself does not
	// consult it.
	MaxWaitMs = 2000

	// DefaultQueueDepth mirrors uapi.QueueSize, the descriptor count of
	// every virtqueue the hosted platform sets up. A device advertising a
	// smaller maximum is not given a shallower queue: Transport.SetupQueue
	// rejects the oversized queue and the driver fails to come up.
	DefaultQueueDepth = 256

	// MaxNetRecvRing names an upper bound on how many buffers a single
	// NetRecvRequest posts. Neither InitNetRecv nor the network driver
	// checks it: a larger ring is accepted as long as the receive queue
	// has free descriptors for it.
	MaxNetRecvRing = 128
)
