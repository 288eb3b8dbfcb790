package simplatform

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/vqkernel/vqkernel/internal/irqring"
)

// interruptSource bundles one device's IRQ hand-off ring with the
// eventfd its simulated completion goroutine signals after enqueuing,
// so WaitForInterrupt can block in epoll_wait instead of spinning.
type interruptSource struct {
	name    string
	ring    *irqring.Ring
	eventFD int
}

// interruptController multiplexes several devices' eventfds through a
// single epoll instance, mirroring how a real platform's single IRQ line
// (or MSI-X vector set) wakes one WaitForInterrupt call regardless of
// which device asserted it.
type interruptController struct {
	epollFD int
	sources []*interruptSource
}

func newInterruptController() (*interruptController, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, fmt.Errorf("simplatform: epoll_create1: %w", err)
	}
	return &interruptController{epollFD: epfd}, nil
}

// addSource registers a new device's IRQ ring, creating its eventfd and
// adding it to the epoll set.
func (c *interruptController) addSource(name string) (*interruptSource, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("simplatform: eventfd: %w", err)
	}
	src := &interruptSource{name: name, ring: &irqring.Ring{}, eventFD: fd}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(c.epollFD, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("simplatform: epoll_ctl add %s: %w", name, err)
	}
	c.sources = append(c.sources, src)
	return src, nil
}

// notify is called by a device's completion goroutine after it has
// finished writing to the used ring and raising the MMIO interrupt
// status bit, the hosted analogue of asserting the IRQ line. It hands a
// device pointer off through the IRQ ring exactly as a real ISR would,
// then pokes the eventfd so a blocked WaitForInterrupt wakes promptly;
// the ring, not the eventfd, is the thing Tick actually drains.
func (s *interruptSource) notify() {
	s.ring.Enqueue(1)
	var buf [8]byte
	buf[0] = 1
	_, _ = unix.Write(s.eventFD, buf[:])
}

// drain empties everything enqueued by notify since the last drain
// call, returning how many entries it found. Tick calls this once per
// device per pass.
func (s *interruptSource) drain() int {
	return len(s.ring.DequeueBounded(s.ring.Snapshot()))
}

// wait blocks until some device's eventfd is readable or timeoutMs
// elapses, draining every signaled eventfd before returning so a
// coalesced burst of notifications only wakes this call once.
func (c *interruptController) wait(timeoutMs int64) {
	if timeoutMs < 0 {
		timeoutMs = 0
	}
	events := make([]unix.EpollEvent, len(c.sources)+1)
	n, err := unix.EpollWait(c.epollFD, events, int(timeoutMs))
	if err != nil || n == 0 {
		return
	}
	var drain [8]byte
	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		_, _ = unix.Read(fd, drain[:])
	}
}

func (c *interruptController) close() error {
	for _, s := range c.sources {
		unix.Close(s.eventFD)
	}
	return unix.Close(c.epollFD)
}
