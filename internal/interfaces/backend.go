// Package interfaces holds the small internal-only interfaces shared
// across the platform and driver packages, kept separate from the root
// package to avoid circular imports.
package interfaces

// BlockStore is the sector-addressed storage a simulated virtio-blk
// device reads from and writes to. internal/platform/simplatform.MemStore
// and internal/platform/hostedio.FileStore both implement it, so the
// simulator's block device loop can be pointed at either without caring
// which one is backing it.
type BlockStore interface {
	SizeSectors() uint64
	ReadSector(sector uint64, buf []byte) error
	WriteSector(sector uint64, buf []byte) error
	Flush() error
}

// Logger is a minimal Printf-style logging interface, kept separate so
// tests can swap in a no-op or recording implementation. No driver or
// platform package in this module takes one.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Observer describes a per-operation metrics sink that the platform
// layer could report to without importing the root package. Nothing in
// this module implements or calls it; vqkernel.Metrics is fed through
// its own Record* methods instead.
type Observer interface {
	ObserveComplete(op string, latencyNs uint64, success bool)
	ObserveDroppedInterrupt()
	ObserveDescriptorExhaustion()
}
