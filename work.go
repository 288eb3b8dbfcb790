// Package vqkernel implements the cooperative work-queue kernel: a
// single-threaded core (Kernel) that multiplexes submitted work items
// against a timer heap and a platform-supplied set of VirtIO devices,
// driven entirely by explicit Tick calls rather than its own goroutine.
package vqkernel

import (
	"github.com/vqkernel/vqkernel/internal/queue"
	"github.com/vqkernel/vqkernel/internal/timerheap"
)

// Op identifies which device or facility a Work item targets.
type Op uint8

const (
	OpTimer Op = iota
	OpRngRead
	OpBlockRead
	OpBlockWrite
	OpBlockFlush
	OpNetRecv
	OpNetSend
)

func (o Op) String() string {
	switch o {
	case OpTimer:
		return "timer"
	case OpRngRead:
		return "rng-read"
	case OpBlockRead:
		return "block-read"
	case OpBlockWrite:
		return "block-write"
	case OpBlockFlush:
		return "block-flush"
	case OpNetRecv:
		return "net-recv"
	case OpNetSend:
		return "net-send"
	default:
		return "unknown"
	}
}

// State is a Work item's position in the kernel's state machine. See
// Kernel.Submit and Kernel.Cancel for the legal transitions.
type State uint8

const (
	StateDead State = iota
	StateSubmitRequested
	StateLive
	StateReady
	StateCancelRequested
)

func (s State) String() string {
	switch s {
	case StateDead:
		return "dead"
	case StateSubmitRequested:
		return "submit-requested"
	case StateLive:
		return "live"
	case StateReady:
		return "ready"
	case StateCancelRequested:
		return "cancel-requested"
	default:
		return "unknown"
	}
}

// Flags modify how a Work item is re-armed after it completes.
type Flags uint8

// FlagStanding marks a work item as persistent: on a successful
// completion (Result == ResultOk) it is returned to StateLive instead of
// StateDead, and its callback is expected to have prepared it (e.g.
// refilled a receive buffer) for the next round.
const FlagStanding Flags = 1 << 0

// Work is the common header embedded in every request type the kernel
// tracks: TimerRequest, RngRequest, BlockRequest, NetRecvRequest and
// NetSendRequest. It carries exactly one intrusive link, reused across
// the submit, cancel and ready queues since an item is only ever a
// member of one of them at a time.
type Work struct {
	Op       Op
	Ctx      any
	Callback func(*Work)
	Result   Result

	state         State
	flags         Flags
	link          queue.Node[Work]
	submittedAtMs int64

	// timer is non-nil only when Op == OpTimer, letting the kernel reach
	// the owning TimerRequest's heap node from a bare *Work without a
	// type switch on every submit/cancel call.
	timer *TimerRequest
}

// State returns the work item's current position in the state machine.
func (w *Work) State() State { return w.state }

// IsStanding reports whether the item is re-armed after a successful
// completion rather than retired to StateDead.
func (w *Work) IsStanding() bool { return w.flags&FlagStanding != 0 }

// InitWork resets w to StateDead and binds its op, context, callback and
// flags. Every specialized request's own Init method calls this first.
func InitWork(w *Work, op Op, ctx any, callback func(*Work), flags Flags) {
	w.Op = op
	w.Ctx = ctx
	w.Callback = callback
	w.Result = ResultOk
	w.state = StateDead
	w.flags = flags
	w.timer = nil
	w.link.Init(w)
}

// Cancellable marks the request types for which Kernel.Cancel's request
// is actually honored by the owning driver rather than silently carried
// through to natural completion. Implemented by *TimerRequest and
// *NetRecvRequest only; RNG, block and net-send requests run to
// completion regardless of a cancel request (see Kernel.Cancel).
type Cancellable interface {
	cancellable()
}

// TimerRequest is a one-shot or standing deadline. The kernel owns its
// heap node directly: timers never touch the platform's submit path.
type TimerRequest struct {
	Work
	DeadlineMs int64

	heapNode timerheap.Node[TimerRequest]
}

func (t *TimerRequest) cancellable() {}

// InitTimer prepares t to fire at deadlineMs (an absolute kernel clock
// value, comparable to the nowMs passed to Kernel.Tick).
func InitTimer(t *TimerRequest, deadlineMs int64, ctx any, callback func(*Work), flags Flags) {
	InitWork(&t.Work, OpTimer, ctx, callback, flags)
	t.DeadlineMs = deadlineMs
	t.heapNode.Init(t)
	t.Work.timer = t
}

// RngRequest asks the entropy device for Requested bytes into Buffer.
// Completed is filled in by the driver with the byte count the device
// reported, which may be less than Requested even on an Ok Result.
type RngRequest struct {
	Work
	Buffer    []byte
	Requested int
	Completed int

	DescIdx int // descriptor-chain head, driver-private bookkeeping
}

// InitRng prepares an entropy read of len(buf) bytes into buf.
func InitRng(r *RngRequest, buf []byte, ctx any, callback func(*Work), flags Flags) {
	InitWork(&r.Work, OpRngRead, ctx, callback, flags)
	r.Buffer = buf
	r.Requested = len(buf)
	r.Completed = 0
}

// BlockOp distinguishes a BlockRequest's direction.
type BlockOp uint8

const (
	BlockOpRead BlockOp = iota
	BlockOpWrite
	BlockOpFlush
)

// BlockSegment is one contiguous extent of a (possibly scatter-gather)
// block request.
type BlockSegment struct {
	Sector           uint64
	Buffer           []byte
	CompletedSectors uint32
}

// BlockRequest is a read, write or flush against the block device.
// Segments longer than the device's max transfer are split by the
// caller; the driver processes Segments in order within one request.
type BlockRequest struct {
	Work
	BlockOp  BlockOp
	Segments []BlockSegment

	DescHeads []int // head of the request's single descriptor chain, driver-private
}

// InitBlock prepares a block request of the given direction over segs.
func InitBlock(b *BlockRequest, op BlockOp, segs []BlockSegment, ctx any, callback func(*Work), flags Flags) {
	blockVQOp := OpBlockRead
	switch op {
	case BlockOpWrite:
		blockVQOp = OpBlockWrite
	case BlockOpFlush:
		blockVQOp = OpBlockFlush
	}
	InitWork(&b.Work, blockVQOp, ctx, callback, flags)
	b.BlockOp = op
	b.Segments = segs
}

// RecvBuffer is one slot of a NetRecvRequest's standing ring: a buffer
// the driver keeps posted to the device until the request is cancelled.
type RecvBuffer struct {
	Buffer       []byte
	PacketLength int // filled in by the driver on completion
}

// NetRecvRequest is always standing: it posts len(Ring) buffers to the
// device's receive queue and the callback is invoked once per packet
// that arrives, with LastFilled identifying which Ring slot to read and
// then hand back via Kernel.ReleaseNetBuffer.
type NetRecvRequest struct {
	Work
	Ring       []RecvBuffer
	LastFilled int

	DescHeads []int // persistent descriptor-chain head per Ring slot
}

func (n *NetRecvRequest) cancellable() {}

// InitNetRecv prepares a standing receive over the given ring of
// buffers. Flags is forced to include FlagStanding: a net-recv request
// that is not standing would be posted once and never refilled.
func InitNetRecv(n *NetRecvRequest, ring []RecvBuffer, ctx any, callback func(*Work), flags Flags) {
	InitWork(&n.Work, OpNetRecv, ctx, callback, flags|FlagStanding)
	n.Ring = ring
	n.LastFilled = -1
	n.DescHeads = make([]int, len(ring))
	for i := range n.DescHeads {
		n.DescHeads[i] = -1
	}
}

// NetSendRequest transmits Packets in order. Cancellation is not
// honored: per the asymmetry Cancellable documents, a send always runs
// to completion.
type NetSendRequest struct {
	Work
	Packets [][]byte
	Sent    int

	DescIdx int
}

// InitNetSend prepares a transmit of the given packets, in order.
func InitNetSend(n *NetSendRequest, packets [][]byte, ctx any, callback func(*Work), flags Flags) {
	InitWork(&n.Work, OpNetSend, ctx, callback, flags)
	n.Packets = packets
	n.Sent = 0
}
