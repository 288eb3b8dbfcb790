// Package platform implements the dispatch glue between vqkernel.Kernel
// and a concrete set of device drivers: routing each Op in a tick's
// submissions and cancellations to the matching driver, and draining
// each driver's completions back into the kernel. It has no opinion on
// how MMIO registers or interrupts are actually delivered — that is
// internal/platform/simplatform's job (or a future bare-metal one).
package platform

import (
	"fmt"
	"unsafe"

	"github.com/vqkernel/vqkernel"
)

// EntropyDriver is the subset of internal/drivers/entropy.Driver the
// dispatcher needs.
type EntropyDriver interface {
	Submit(r *vqkernel.RngRequest) vqkernel.Result
	ProcessCompletions(k *vqkernel.Kernel)
}

// BlockDriver is the subset of internal/drivers/block.Driver the
// dispatcher needs.
type BlockDriver interface {
	Submit(r *vqkernel.BlockRequest) vqkernel.Result
	ProcessCompletions(k *vqkernel.Kernel)
}

// NetDriver is the subset of internal/drivers/netdev.Driver the
// dispatcher needs.
type NetDriver interface {
	SubmitRecv(r *vqkernel.NetRecvRequest) vqkernel.Result
	SubmitSend(r *vqkernel.NetSendRequest) vqkernel.Result
	ReleaseBuffer(req *vqkernel.NetRecvRequest, idx int)
	CancelRecv(k *vqkernel.Kernel, req *vqkernel.NetRecvRequest)
	ProcessRecvCompletions(k *vqkernel.Kernel)
	ProcessSendCompletions(k *vqkernel.Kernel)
}

// Dispatcher implements the Op-routing half of vqkernel.Platform. Embed
// it in a concrete platform (e.g. simplatform.Platform) that supplies
// WaitForInterrupt and Abort; the concrete platform calls SetKernel once
// after constructing its vqkernel.Kernel (the two are built in sequence,
// Platform first, so Dispatcher cannot take the kernel at construction).
type Dispatcher struct {
	Entropy EntropyDriver
	Block   BlockDriver
	Net     NetDriver

	kernel *vqkernel.Kernel
}

// SetKernel binds the kernel this dispatcher routes completions and
// cancellations into. Must be called once before the first Tick.
func (d *Dispatcher) SetKernel(k *vqkernel.Kernel) { d.kernel = k }

// Submit routes each submission to the driver matching its Op, and
// resolves (or silently drops) each forwarded cancellation according to
// whether the concrete request implements vqkernel.Cancellable: only
// NetRecv does, so only NetRecv cancellations actually reach a driver.
// A driver submission that fails completes the item at once: NoSpace
// (no free descriptor) is reported to the caller as Busy, any other
// non-Ok result as itself. The callback fires on the next Tick and the
// item returns to Dead, free to be submitted again.
func (d *Dispatcher) Submit(submissions []*vqkernel.Work, cancellations []*vqkernel.Work) {
	for _, w := range submissions {
		d.submitOne(w)
	}
	for _, w := range cancellations {
		c, ok := asCancellable(w)
		if !ok {
			// RNG, block and net-send cancellations are silently ignored:
			// the request runs to completion and reports its real result.
			continue
		}
		nr, ok := c.(*vqkernel.NetRecvRequest)
		if !ok {
			panic(fmt.Sprintf("platform: %s implements Cancellable but has no cancellation route wired", w.Op))
		}
		d.Net.CancelRecv(d.kernel, nr)
	}
}

// asCancellable recovers the concrete request addressed by w and
// reports whether it implements vqkernel.Cancellable. Timer requests
// never reach a platform (Kernel.Tick resolves their cancellation
// synchronously against the heap, before anything is forwarded), so
// NetRecvRequest is currently the only concrete type this can return
// true for.
func asCancellable(w *vqkernel.Work) (vqkernel.Cancellable, bool) {
	switch w.Op {
	case vqkernel.OpRngRead:
		c, ok := any(asRngRequest(w)).(vqkernel.Cancellable)
		return c, ok
	case vqkernel.OpBlockRead, vqkernel.OpBlockWrite, vqkernel.OpBlockFlush:
		c, ok := any(asBlockRequest(w)).(vqkernel.Cancellable)
		return c, ok
	case vqkernel.OpNetRecv:
		c, ok := any(asNetRecvRequest(w)).(vqkernel.Cancellable)
		return c, ok
	case vqkernel.OpNetSend:
		c, ok := any(asNetSendRequest(w)).(vqkernel.Cancellable)
		return c, ok
	default:
		return nil, false
	}
}

func (d *Dispatcher) submitOne(w *vqkernel.Work) {
	var result vqkernel.Result
	switch w.Op {
	case vqkernel.OpRngRead:
		result = d.Entropy.Submit(asRngRequest(w))
	case vqkernel.OpBlockRead, vqkernel.OpBlockWrite, vqkernel.OpBlockFlush:
		result = d.Block.Submit(asBlockRequest(w))
	case vqkernel.OpNetRecv:
		result = d.Net.SubmitRecv(asNetRecvRequest(w))
	case vqkernel.OpNetSend:
		result = d.Net.SubmitSend(asNetSendRequest(w))
	default:
		panic(fmt.Sprintf("platform: unexpected op %s in submit path", w.Op))
	}
	if result == vqkernel.ResultOk {
		d.kernel.MarkLive(w)
		return
	}
	if result == vqkernel.ResultNoSpace {
		result = vqkernel.ResultBusy
	}
	d.kernel.Complete(w, result)
}

// The kernel core only ever hands the platform a bare *vqkernel.Work;
// Work.Ctx is the caller's own payload, not a way back to the
// specialized request. Every request type embeds Work as its first
// field, so the pointer a queue stores is also, bit-for-bit, the
// address of the owning RngRequest/BlockRequest/NetRecvRequest/
// NetSendRequest (guaranteed by the language spec for a struct's first
// field) — the same "recover the container from the embedded member"
// idiom C callback APIs call container_of. w.Op picks the right
// concrete type before any of these run, so the cast is always to the
// type that actually allocated w.
func asRngRequest(w *vqkernel.Work) *vqkernel.RngRequest {
	return (*vqkernel.RngRequest)(unsafe.Pointer(w))
}

func asBlockRequest(w *vqkernel.Work) *vqkernel.BlockRequest {
	return (*vqkernel.BlockRequest)(unsafe.Pointer(w))
}

func asNetRecvRequest(w *vqkernel.Work) *vqkernel.NetRecvRequest {
	return (*vqkernel.NetRecvRequest)(unsafe.Pointer(w))
}

func asNetSendRequest(w *vqkernel.Work) *vqkernel.NetSendRequest {
	return (*vqkernel.NetSendRequest)(unsafe.Pointer(w))
}

// Tick drains every driver's completions into the bound kernel. Called
// from the concrete platform's Tick implementation.
func (d *Dispatcher) Tick(k *vqkernel.Kernel) {
	d.Entropy.ProcessCompletions(k)
	d.Block.ProcessCompletions(k)
	d.Net.ProcessRecvCompletions(k)
	d.Net.ProcessSendCompletions(k)
}

// ReleaseNetBuffer forwards to the network driver.
func (d *Dispatcher) ReleaseNetBuffer(req *vqkernel.NetRecvRequest, idx int) {
	d.Net.ReleaseBuffer(req, idx)
}

// WaitForInterrupt and Abort below are deliberately trivial: a real
// platform (simplatform.Platform) embeds Dispatcher and shadows both
// with its own implementation backed by the IRQ ring and an eventfd.
// They exist so a bare *Dispatcher alone still satisfies
// vqkernel.Platform, which is convenient for dispatch-only unit tests.

// WaitForInterrupt returns immediately, reporting no elapsed time.
func (d *Dispatcher) WaitForInterrupt(timeoutMs int64) (nowMs int64) { return 0 }

// Abort is a no-op.
func (d *Dispatcher) Abort() {}
