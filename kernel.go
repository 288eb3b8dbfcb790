package vqkernel

import (
	"fmt"

	"github.com/vqkernel/vqkernel/internal/queue"
	"github.com/vqkernel/vqkernel/internal/timerheap"
)

// transition is one entry of the debug history ring; purely diagnostic,
// never consulted by the kernel's own logic.
type transition struct {
	op       Op
	from, to State
}

// Kernel is the single-threaded work-queue core. It is not safe for
// concurrent use: every method is expected to be called from the one
// goroutine that also drives the platform's event loop. Per the
// "replace the singleton with an explicit handle" design note, nothing
// in this package is global; callers construct and thread a *Kernel
// explicitly, which also makes running more than one independent
// kernel instance in a test process trivial.
type Kernel struct {
	submitQ queue.FIFO[Work]
	cancelQ queue.LIFO[Work]
	readyQ  queue.LIFO[Work]
	timers  timerheap.Heap[TimerRequest]

	nowMs    int64
	platform Platform
	metrics  *Metrics

	history    [DebugHistoryDepth]transition
	historyPos int
	historyLen int
}

// NewKernel constructs a kernel driving the given platform. platform may
// be nil for unit tests that only exercise timer/submit/cancel
// bookkeeping and never reach step 3/6 of Tick (device submission and
// completion).
func NewKernel(platform Platform) *Kernel {
	return &Kernel{platform: platform, metrics: newMetrics()}
}

// Metrics returns the kernel's counters. Never nil.
func (k *Kernel) Metrics() *Metrics { return k.metrics }

// Now returns the clock value as of the most recent Tick.
func (k *Kernel) Now() int64 { return k.nowMs }

func (k *Kernel) setState(w *Work, to State) {
	from := w.state
	w.state = to
	if DebugHistoryDepth == 0 {
		return
	}
	k.history[k.historyPos] = transition{op: w.Op, from: from, to: to}
	k.historyPos = (k.historyPos + 1) % DebugHistoryDepth
	if k.historyLen < DebugHistoryDepth {
		k.historyLen++
	}
}

// History returns the most recent state transitions, oldest first. Only
// for diagnostics; capacity is DebugHistoryDepth.
func (k *Kernel) History() []string {
	out := make([]string, 0, k.historyLen)
	start := k.historyPos - k.historyLen
	for i := 0; i < k.historyLen; i++ {
		idx := (start + i + DebugHistoryDepth) % DebugHistoryDepth
		t := k.history[idx]
		out = append(out, fmt.Sprintf("%s: %s -> %s", t.op, t.from, t.to))
	}
	return out
}

// Submit enqueues w for processing. Returns Invalid if w or its
// callback is nil, Busy if w is already in flight (anything but
// StateDead). Timers are promoted straight to StateLive: the kernel
// owns the timer heap directly and never hands a timer to the platform.
func (k *Kernel) Submit(w *Work) Result {
	if w == nil || w.Callback == nil {
		return ResultInvalid
	}
	if w.state != StateDead {
		return ResultBusy
	}
	w.Result = ResultOk
	w.submittedAtMs = k.nowMs
	k.metrics.recordSubmit()
	k.setState(w, StateSubmitRequested)

	if w.timer != nil {
		k.timers.Insert(&w.timer.heapNode, w.timer.DeadlineMs)
		k.setState(w, StateLive)
		return ResultOk
	}

	k.submitQ.PushBack(&w.link)
	return ResultOk
}

// Cancel requests cancellation of w. Null, Dead or Ready items return
// Invalid. A SubmitRequested item returns Ok and nothing is recorded:
// the item goes on to Live as if no cancel had been asked. A Live item is
// marked CancelRequested and queued for forwarding to the platform; the
// request is honored at the kernel level only for timers (handled
// synchronously in Tick), and at the driver level only for NetRecv. RNG,
// block and NetSend requests still run to completion and report their
// real result, per Cancellable's asymmetry.
func (k *Kernel) Cancel(w *Work) Result {
	if w == nil {
		return ResultInvalid
	}
	switch w.state {
	case StateDead, StateReady:
		return ResultInvalid
	case StateSubmitRequested:
		return ResultOk
	case StateLive:
		k.setState(w, StateCancelRequested)
		k.cancelQ.Push(&w.link)
		return ResultOk
	default:
		return ResultInvalid
	}
}

// Complete is called by driver code (via the platform's Tick) to move a
// Live or CancelRequested item to Ready. result is recorded before the
// state transition, so any observer of the Ready state also observes
// the final result.
func (k *Kernel) Complete(w *Work, result Result) {
	switch w.state {
	case StateLive, StateCancelRequested:
	case StateSubmitRequested:
		// A submission that never reached Live (e.g. the platform had no
		// free descriptor for it) completes straight from
		// SubmitRequested, per the same "record result before state
		// write" invariant.
	default:
		panic(fmt.Sprintf("vqkernel: Complete called on %s work in state %s", w.Op, w.state))
	}
	w.Result = result
	k.recordCompletion(w)
	k.setState(w, StateReady)
	k.readyQ.Push(&w.link)
}

// MarkLive transitions w from SubmitRequested to Live. Called by
// platform code once a submission has actually been handed to a
// device's virtqueue (i.e. driver.Submit returned Ok), matching the
// "tick/platform" edge in the state-machine summary. Calling it on a
// Work not in SubmitRequested is a no-op.
func (k *Kernel) MarkLive(w *Work) {
	if w.state != StateSubmitRequested {
		return
	}
	k.setState(w, StateLive)
}

func (k *Kernel) recordCompletion(w *Work) {
	latency := k.nowMs - w.submittedAtMs
	if latency < 0 {
		latency = 0
	}
	k.metrics.recordComplete(w.Op, w.Result, latency)
}

// ReleaseNetBuffer returns ring slot idx of req to the device so it can
// be reposted. Out-of-range idx is a no-op; there is no platform to
// forward to if the kernel was constructed without one.
func (k *Kernel) ReleaseNetBuffer(req *NetRecvRequest, idx int) {
	if req == nil || idx < 0 || idx >= len(req.Ring) {
		return
	}
	if k.platform != nil {
		k.platform.ReleaseNetBuffer(req, idx)
	}
}

// NextDelay reports how long, in milliseconds, until the nearest armed
// timer expires, relative to the clock value of the last Tick. ok is
// false if no timer is armed, in which case the caller should fall back
// to its own idle ceiling (see MaxWaitMs) before calling Tick again.
func (k *Kernel) NextDelay() (ms int64, ok bool) {
	min := k.timers.PeekMin()
	if min == nil {
		return 0, false
	}
	d := min.Deadline() - k.nowMs
	if d < 0 {
		d = 0
	}
	return d, true
}

// Tick advances the kernel's clock to nowMs and runs one full pass:
// expire due timers, let the platform drain completions, run ready
// callbacks, resolve timer cancellations, and forward the tick's
// submissions and remaining cancellations to the platform. Work
// submitted or cancelled by a callback invoked in this Tick is not seen
// until the following Tick.
func (k *Kernel) Tick(nowMs int64) {
	k.nowMs = nowMs

	for {
		min := k.timers.PeekMin()
		if min == nil || min.Deadline() > k.nowMs {
			break
		}
		k.timers.ExtractMin()
		tr := min.Item()
		tr.Work.Result = ResultOk
		k.recordCompletion(&tr.Work)
		k.setState(&tr.Work, StateReady)
		k.readyQ.Push(&tr.Work.link)
	}

	if k.platform != nil {
		k.platform.Tick(k)
	}

	// Snapshot the submit queue's current tail before running any
	// callback: a callback may itself call Submit, which pushes onto
	// k.submitQ, and per the ordering guarantee that new item must not be
	// forwarded to the platform until the following tick. Draining only
	// up to this boundary below leaves such pushes queued.
	submitBoundary := k.submitQ.Tail()

	for _, node := range k.readyQ.Drain() {
		w := node.Item()
		next := StateDead
		if w.IsStanding() && w.Result == ResultOk {
			next = StateLive
		}
		k.setState(w, next)
		w.Callback(w)
	}

	var forwardCancel []*Work
	for _, node := range k.cancelQ.Drain() {
		w := node.Item()
		if w.timer != nil {
			k.timers.Delete(&w.timer.heapNode)
			w.Result = ResultCancelled
			k.recordCompletion(w)
			k.setState(w, StateReady)
			k.readyQ.Push(&w.link)
		} else {
			forwardCancel = append(forwardCancel, w)
		}
	}

	var submissions []*Work
	for _, node := range k.submitQ.DrainUpTo(submitBoundary) {
		submissions = append(submissions, node.Item())
	}

	if k.platform != nil && (len(submissions) > 0 || len(forwardCancel) > 0) {
		k.platform.Submit(submissions, forwardCancel)
	}
}
