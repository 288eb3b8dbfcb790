package vqkernel

import "sync/atomic"

// Metrics is the kernel's counter block. All fields are safe for
// concurrent read; writes only ever happen from the kernel's own
// goroutine (Tick and Submit/Cancel), mirroring the single-writer
// discipline internal/irqring relies on.
type Metrics struct {
	submitted atomic.Uint64
	completed [7]atomic.Uint64 // indexed by Op
	cancelled atomic.Uint64
	ioErrors  atomic.Uint64

	droppedInterrupts     atomic.Uint64
	descriptorExhaustions atomic.Uint64

	latencyBuckets [len(latencyBoundsMs) + 1]atomic.Uint64
}

// latencyBoundsMs are the upper edges (inclusive) of the completion-
// latency histogram, in milliseconds; the last bucket catches
// everything above the highest named edge.
var latencyBoundsMs = [...]int64{1, 5, 10, 50, 100, 500, 1000}

func newMetrics() *Metrics { return &Metrics{} }

func (m *Metrics) recordSubmit() { m.submitted.Add(1) }

func (m *Metrics) recordComplete(op Op, result Result, latencyMs int64) {
	m.completed[op].Add(1)
	if result == ResultIoError {
		m.ioErrors.Add(1)
	}
	if result == ResultCancelled {
		m.cancelled.Add(1)
	}
	for i, edge := range latencyBoundsMs {
		if latencyMs <= edge {
			m.latencyBuckets[i].Add(1)
			return
		}
	}
	m.latencyBuckets[len(m.latencyBuckets)-1].Add(1)
}

// RecordDroppedInterrupt counts one interrupt hand-off lost to a full
// ring (see internal/irqring). The hosted simplatform does not call it;
// its rings keep their own count in irqring.Ring.Dropped.
func (m *Metrics) RecordDroppedInterrupt() { m.droppedInterrupts.Add(1) }

// RecordDescriptorExhaustion is called by driver code when a request
// cannot be submitted because its virtqueue has no free descriptors.
func (m *Metrics) RecordDescriptorExhaustion() { m.descriptorExhaustions.Add(1) }

// Snapshot is a point-in-time copy of every counter, safe to read after
// the kernel has moved on.
type Snapshot struct {
	Submitted             uint64
	CompletedByOp         map[Op]uint64
	Cancelled             uint64
	IoErrors              uint64
	DroppedInterrupts     uint64
	DescriptorExhaustions uint64
	LatencyHistogramMs    map[int64]uint64 // edge -> count, last key is "above highest edge"
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		CompletedByOp:         make(map[Op]uint64, len(m.completed)),
		LatencyHistogramMs:    make(map[int64]uint64, len(m.latencyBuckets)),
		Submitted:             m.submitted.Load(),
		Cancelled:             m.cancelled.Load(),
		IoErrors:              m.ioErrors.Load(),
		DroppedInterrupts:     m.droppedInterrupts.Load(),
		DescriptorExhaustions: m.descriptorExhaustions.Load(),
	}
	for op := range m.completed {
		s.CompletedByOp[Op(op)] = m.completed[op].Load()
	}
	for i, edge := range latencyBoundsMs {
		s.LatencyHistogramMs[edge] = m.latencyBuckets[i].Load()
	}
	s.LatencyHistogramMs[-1] = m.latencyBuckets[len(m.latencyBuckets)-1].Load()
	return s
}
