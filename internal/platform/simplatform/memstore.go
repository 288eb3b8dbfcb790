package simplatform

import (
	"fmt"
	"sync"

	"github.com/vqkernel/vqkernel/internal/interfaces"
)

var _ interfaces.BlockStore = (*MemStore)(nil)

// shardSize is the size of each locked region (64KB). This gives good
// parallelism for 4K random I/O while keeping lock overhead reasonable;
// a 256MB device has 4096 shards.
const shardSize = 64 * 1024

const sectorSize = 512

// MemStore is a RAM-backed virtio-blk backing store, sector-addressed
// and sharded-locked so reads and writes from unrelated sectors never
// contend.
type MemStore struct {
	data   []byte
	size   int64
	shards []sync.RWMutex
}

// NewMemStore allocates a memory store of the given size in bytes,
// rounded down to a whole number of sectors.
func NewMemStore(size int64) *MemStore {
	size -= size % sectorSize
	numShards := (size + shardSize - 1) / shardSize
	if numShards == 0 {
		numShards = 1
	}
	return &MemStore{
		data:   make([]byte, size),
		size:   size,
		shards: make([]sync.RWMutex, numShards),
	}
}

func (m *MemStore) shardRange(off, length int64) (start, end int) {
	start = int(off / shardSize)
	end = int((off + length - 1) / shardSize)
	if end >= len(m.shards) {
		end = len(m.shards) - 1
	}
	return start, end
}

// SizeSectors reports the store's capacity in 512-byte sectors.
func (m *MemStore) SizeSectors() uint64 { return uint64(m.size) / sectorSize }

// ReadSector fills buf (exactly one sector) from sector.
func (m *MemStore) ReadSector(sector uint64, buf []byte) error {
	off := int64(sector) * sectorSize
	if off+int64(len(buf)) > m.size {
		return fmt.Errorf("simplatform: read sector %d out of range (store size %d sectors)", sector, m.SizeSectors())
	}
	start, end := m.shardRange(off, int64(len(buf)))
	for i := start; i <= end; i++ {
		m.shards[i].RLock()
	}
	copy(buf, m.data[off:off+int64(len(buf))])
	for i := start; i <= end; i++ {
		m.shards[i].RUnlock()
	}
	return nil
}

// WriteSector writes buf (exactly one sector) to sector.
func (m *MemStore) WriteSector(sector uint64, buf []byte) error {
	off := int64(sector) * sectorSize
	if off+int64(len(buf)) > m.size {
		return fmt.Errorf("simplatform: write sector %d out of range (store size %d sectors)", sector, m.SizeSectors())
	}
	start, end := m.shardRange(off, int64(len(buf)))
	for i := start; i <= end; i++ {
		m.shards[i].Lock()
	}
	copy(m.data[off:off+int64(len(buf))], buf)
	for i := start; i <= end; i++ {
		m.shards[i].Unlock()
	}
	return nil
}

// Flush is a no-op: the memory store has no write-back cache to drain.
func (m *MemStore) Flush() error { return nil }
