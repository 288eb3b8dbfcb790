package vqkernel

// Platform is the narrow surface the kernel core drives each tick. It
// knows nothing about VirtIO, MMIO or descriptor tables: those live in
// internal/virtio and internal/drivers, wired together by a concrete
// Platform implementation (internal/platform/simplatform for the
// hosted simulator). The kernel only ever calls these five methods.
type Platform interface {
	// Submit hands the platform every item that left the submit queue
	// since the last Tick (non-timer ops only; timers are handled
	// entirely inside the kernel) plus every non-timer cancellation
	// requested since the last Tick. Submit must not block.
	Submit(submissions []*Work, cancellations []*Work)

	// Tick lets the platform drain its interrupt ring and invoke each
	// device's completion processor. Device code calls k.Complete(w,
	// result) for every Work item a used-ring entry resolves to. Tick
	// must not block.
	Tick(k *Kernel)

	// WaitForInterrupt blocks the caller's event loop (not the kernel
	// itself, which has no loop of its own) until either an interrupt
	// arrives or timeoutMs elapses, and returns the platform's current
	// clock reading in milliseconds for use as Tick's nowMs.
	WaitForInterrupt(timeoutMs int64) (nowMs int64)

	// ReleaseNetBuffer returns ring slot bufferIndex of req to the
	// device's available ring so it can be filled again. Called by
	// Kernel.ReleaseNetBuffer after validating bufferIndex is in range.
	ReleaseNetBuffer(req *NetRecvRequest, bufferIndex int)

	// Abort tears down every device transport immediately; used on fatal
	// kernel errors where continuing to tick would be unsafe.
	Abort()
}
