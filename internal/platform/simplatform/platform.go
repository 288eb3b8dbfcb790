// Package simplatform is the hosted stand-in for real VirtIO-MMIO
// hardware: anonymous-mmap'd register windows (MMIORegion), simulated
// devices running as goroutines that service those windows' avail
// rings (device.go), and an epoll/eventfd-backed interrupt path
// (interrupt.go) in place of a real IRQ line. It wires exactly the
// same internal/drivers code a bare-metal platform would use, against
// hardware this module cannot actually run on.
package simplatform

import (
	"fmt"
	"time"

	"github.com/vqkernel/vqkernel"
	"github.com/vqkernel/vqkernel/internal/drivers/block"
	"github.com/vqkernel/vqkernel/internal/drivers/entropy"
	"github.com/vqkernel/vqkernel/internal/drivers/netdev"
	"github.com/vqkernel/vqkernel/internal/interfaces"
	"github.com/vqkernel/vqkernel/internal/platform"
	"github.com/vqkernel/vqkernel/internal/uapi"
)

// Platform embeds the op-routing Dispatcher and supplies the two
// methods it leaves trivial: WaitForInterrupt (backed by a real
// epoll_wait over the three devices' eventfds) and Abort (tears down
// every transport and stops the device goroutines).
type Platform struct {
	platform.Dispatcher

	irqCtl *interruptController
	start  time.Time

	entropyMMIO *MMIORegion
	blockMMIO   *MMIORegion
	netMMIO     *MMIORegion

	entropySrc *interruptSource
	blockSrc   *interruptSource
	netSrc     *interruptSource

	entropyDrv *entropy.Driver
	blockDrv   *block.Driver
	netDrv     *netdev.Driver

	stop    chan struct{}
	stopped bool
}

// New brings up all three simulated VirtIO devices (entropy, block
// backed by store, network in loopback mode), constructs a Kernel
// bound to the returned Platform, and starts each device's service
// goroutine. Callers drive the kernel themselves, with their own
// WaitForInterrupt/Tick loop (as cmd/vqkerneld does).
func New(store interfaces.BlockStore) (*Platform, *vqkernel.Kernel, error) {
	irqCtl, err := newInterruptController()
	if err != nil {
		return nil, nil, err
	}

	p := &Platform{irqCtl: irqCtl, start: time.Now(), stop: make(chan struct{})}

	if p.entropyMMIO, err = NewMMIORegion(uapi.DeviceIDEntropy); err != nil {
		return nil, nil, err
	}
	if p.blockMMIO, err = NewMMIORegion(uapi.DeviceIDBlock); err != nil {
		return nil, nil, err
	}
	if p.netMMIO, err = NewMMIORegion(uapi.DeviceIDNetwork); err != nil {
		return nil, nil, err
	}

	if p.entropySrc, err = irqCtl.addSource("entropy"); err != nil {
		return nil, nil, err
	}
	if p.blockSrc, err = irqCtl.addSource("block"); err != nil {
		return nil, nil, err
	}
	if p.netSrc, err = irqCtl.addSource("network"); err != nil {
		return nil, nil, err
	}

	// The Kernel needs a fully constructed Platform to be built, but the
	// drivers need the Kernel's Metrics instance; SetKernel below closes
	// that loop, the same two-phase pattern Dispatcher documents for
	// cancellation routing.
	k := vqkernel.NewKernel(p)

	if p.entropyDrv, err = entropy.New(p.entropyMMIO, uapi.QueueSize, k.Metrics()); err != nil {
		return nil, nil, fmt.Errorf("simplatform: bring up entropy device: %w", err)
	}
	if p.blockDrv, err = block.New(p.blockMMIO, uapi.QueueSize, k.Metrics()); err != nil {
		return nil, nil, fmt.Errorf("simplatform: bring up block device: %w", err)
	}
	if p.netDrv, err = netdev.New(p.netMMIO, uapi.QueueSize, uapi.QueueSize, k.Metrics()); err != nil {
		return nil, nil, fmt.Errorf("simplatform: bring up network device: %w", err)
	}

	p.Dispatcher.Entropy = p.entropyDrv
	p.Dispatcher.Block = p.blockDrv
	p.Dispatcher.Net = p.netDrv
	p.Dispatcher.SetKernel(k)

	go runEntropyDevice(p.stop, p.entropyMMIO, p.entropySrc, p.entropyDrv.Device())
	go runBlockDevice(p.stop, p.blockMMIO, p.blockSrc, p.blockDrv.Device(), store)
	go runNetworkDevice(p.stop, p.netMMIO, p.netSrc, p.netDrv.RXDevice(), p.netDrv.TXDevice())

	return p, k, nil
}

// EntropyDriver exposes the entropy driver directly for CSPRNG
// bootstrap callers that need PollOnce before the event loop is
// running.
func (p *Platform) EntropyDriver() *entropy.Driver { return p.entropyDrv }

// WaitForInterrupt blocks on the shared epoll set until some device
// signals completion or timeoutMs elapses, then reports elapsed
// wall-clock time since Platform construction for use as Tick's nowMs.
func (p *Platform) WaitForInterrupt(timeoutMs int64) (nowMs int64) {
	p.irqCtl.wait(timeoutMs)
	return time.Since(p.start).Milliseconds()
}

// Tick drains each device's IRQ ring (the hosted stand-in for an ISR
// handing a device pointer to the foreground loop) before delegating to
// the embedded Dispatcher's completion processing. The ring's contents
// aren't otherwise consulted: every driver's ProcessCompletions is an
// idempotent drain-to-empty of its own used ring, so precisely which
// device rang is only needed to prove the ring itself is exercised
// under real goroutine concurrency, not to route the call.
func (p *Platform) Tick(k *vqkernel.Kernel) {
	p.entropySrc.drain()
	p.blockSrc.drain()
	p.netSrc.drain()
	p.Dispatcher.Tick(k)
}

// Abort stops every device goroutine and marks each transport FAILED.
// Idempotent.
func (p *Platform) Abort() {
	if p.stopped {
		return
	}
	p.stopped = true
	close(p.stop)
	p.entropyDrv.Shutdown()
	p.blockDrv.Shutdown()
	p.netDrv.Shutdown()
	_ = p.irqCtl.close()
	_ = p.entropyMMIO.Close()
	_ = p.blockMMIO.Close()
	_ = p.netMMIO.Close()
}
