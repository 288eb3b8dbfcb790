// Package hostedio implements an io_uring-backed, file-backed block
// store for the hosted simulator's virtio-blk device: the host-side
// analogue of a real device's DMA to a backing disk. Grounded on the
// teacher's own io_uring usage pattern (PrepareIOCmd/FlushSubmissions/
// WaitForCompletion batching in internal/uring), one layer further down
// the stack: this package drives giouring directly for plain file I/O
// rather than ublk's URING_CMD control-command framing, which has no
// analogue here.
package hostedio

import (
	"fmt"
	"os"
	"sync"
	"unsafe"

	"github.com/pawelgaczynski/giouring"

	"github.com/vqkernel/vqkernel/internal/interfaces"
)

// ptrOf returns the address of buf's backing array for handing to the
// kernel via a raw SQE; buf must not be moved by the GC while the
// operation is in flight, which holds here since submitAndWait blocks
// until completion before returning.
func ptrOf(buf []byte) unsafe.Pointer {
	if len(buf) == 0 {
		return nil
	}
	return unsafe.Pointer(&buf[0])
}

const sectorSize = 512

// FileStore is a BlockStore backed by a regular file and a single
// io_uring instance. One goroutine submits and waits on the ring at a
// time; calls are serialized by mu rather than run concurrently, since
// the simulator's block device loop is itself single-threaded per
// queue.
type FileStore struct {
	file *os.File
	size int64

	mu   sync.Mutex
	ring *giouring.Ring
}

// Open creates or truncates path to sizeBytes (rounded down to a whole
// number of sectors) and prepares an io_uring instance over its fd.
func Open(path string, sizeBytes int64, queueDepth uint32) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("hostedio: open %s: %w", path, err)
	}
	sizeBytes -= sizeBytes % sectorSize
	if err := f.Truncate(sizeBytes); err != nil {
		f.Close()
		return nil, fmt.Errorf("hostedio: truncate %s: %w", path, err)
	}

	ring, err := giouring.CreateRing(queueDepth)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("hostedio: create ring: %w", err)
	}

	return &FileStore{file: f, size: sizeBytes, ring: ring}, nil
}

// Close drains the ring and closes the backing file.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring.QueueExit()
	return s.file.Close()
}

// SizeSectors reports the store's capacity in 512-byte sectors.
func (s *FileStore) SizeSectors() uint64 { return uint64(s.size) / sectorSize }

func (s *FileStore) submitAndWait(prep func(sqe *giouring.SubmissionQueueEntry)) (int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqe := s.ring.GetSQE()
	if sqe == nil {
		return 0, fmt.Errorf("hostedio: submission queue full")
	}
	prep(sqe)
	sqe.UserData = 1

	if _, err := s.ring.SubmitAndWait(1); err != nil {
		return 0, fmt.Errorf("hostedio: submit: %w", err)
	}
	cqe, err := s.ring.WaitCQE()
	if err != nil {
		return 0, fmt.Errorf("hostedio: wait cqe: %w", err)
	}
	res := cqe.Res
	s.ring.CQESeen(cqe)
	if res < 0 {
		return res, fmt.Errorf("hostedio: io error, res=%d", res)
	}
	return res, nil
}

// ReadSector reads exactly one sector via io_uring.
func (s *FileStore) ReadSector(sector uint64, buf []byte) error {
	off := sector * sectorSize
	if off+uint64(len(buf)) > uint64(s.size) {
		return fmt.Errorf("hostedio: read sector %d out of range", sector)
	}
	_, err := s.submitAndWait(func(sqe *giouring.SubmissionQueueEntry) {
		sqe.PrepRead(int32(s.file.Fd()), uintptr(ptrOf(buf)), uint32(len(buf)), off)
	})
	return err
}

// WriteSector writes exactly one sector via io_uring.
func (s *FileStore) WriteSector(sector uint64, buf []byte) error {
	off := sector * sectorSize
	if off+uint64(len(buf)) > uint64(s.size) {
		return fmt.Errorf("hostedio: write sector %d out of range", sector)
	}
	_, err := s.submitAndWait(func(sqe *giouring.SubmissionQueueEntry) {
		sqe.PrepWrite(int32(s.file.Fd()), uintptr(ptrOf(buf)), uint32(len(buf)), off)
	})
	return err
}

// Flush issues an fsync via io_uring.
func (s *FileStore) Flush() error {
	_, err := s.submitAndWait(func(sqe *giouring.SubmissionQueueEntry) {
		sqe.PrepFsync(int32(s.file.Fd()), 0)
	})
	return err
}

var _ interfaces.BlockStore = (*FileStore)(nil)
