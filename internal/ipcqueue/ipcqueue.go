// Package ipcqueue implements the chunked, futex-mediated completion ring
// that delivers kernel-produced completion records to one user thread
// without a per-completion system call, and carries submissions in the
// reverse direction.
package ipcqueue

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/corekernel/corekernel/internal/abi"
	"github.com/corekernel/corekernel/internal/constants"
	"github.com/corekernel/corekernel/internal/kerr"
	"github.com/corekernel/corekernel/internal/kmetrics"
)

// Config sizes a Queue's backing memory at creation time.
type Config struct {
	NumCQChunks int
	NumSQChunks int
	ChunkSize   int
}

// DefaultConfig returns the kernel's default queue geometry.
func DefaultConfig() Config {
	return Config{
		NumCQChunks: constants.DefaultIpcQueueCQChunks,
		NumSQChunks: constants.DefaultIpcQueueSQChunks,
		ChunkSize:   constants.DefaultIpcQueueChunkSize,
	}
}

// Queue owns one mmap'd backing region holding the header, the completion
// chunk pool, and the submission chunk pool. The producer (kernel) side
// writes completions through EnqueueCompletion and drains submissions
// through ProcessSubmissions; the Consumer type in consumer.go emulates
// the other end of the same bytes.
type Queue struct {
	mem []byte

	numCQChunks int
	numSQChunks int
	chunkSize   int
	chunkStride int // abi.ChunkControlSize + chunkSize

	cqMu       sync.Mutex // the "CQ serialising lock" of the completion protocol
	cqCurrent  int        // global chunk index currently held, -1 if none
	cqProgress uint32     // producer's write cursor within cqCurrent

	// cqTail is the global index of the last chunk in the CQ chain, kept
	// so SupplyCQChunk can append in O(1) instead of walking next_word
	// from cq_first (whose header field is only meaningful for the very
	// first chunk a producer ever adopts).
	cqTail int64

	sqCursor  uint32 // kernel's read cursor within the current SQ chunk
	sqCurrent int
	sqTail    int64 // global index of the last chunk in the SQ chain; see cqTail

	observer kmetrics.Observer
}

// New mmaps a fresh backing region and links each pool's chunks into a
// single finite chain (chunk i's next is chunk i+1; the last chunk in
// each pool has no next). A producer that outruns its pool blocks in
// waitPresent until SupplyCQChunk (called by a Consumer as it finishes
// with a chunk, or by a caller supplying fresh capacity) extends the
// chain — chunks are never reused before the chain has grown past them,
// so a producer can never overwrite a record the consumer hasn't read.
func New(cfg Config, observer kmetrics.Observer) (*Queue, error) {
	q, err := newUnlinked(cfg, observer)
	if err != nil {
		return nil, err
	}
	for i := 0; i < cfg.NumCQChunks-1; i++ {
		q.setChunkNext(i, i+1, true)
	}
	for i := cfg.NumCQChunks; i < cfg.NumCQChunks+cfg.NumSQChunks-1; i++ {
		q.setChunkNext(i, i+1, true)
	}
	q.setChunkPresent(8, 0, true)                // header.cq_first -> chunk 0
	q.setChunkPresent(12, cfg.NumCQChunks, true) // header.sq_first -> first SQ chunk
	q.cqTail = int64(cfg.NumCQChunks - 1)
	q.sqTail = int64(cfg.NumCQChunks + cfg.NumSQChunks - 1)
	return q, nil
}

// NewWithCQReserve is like New but only the first (cfg.NumCQChunks -
// reserve) CQ chunks are linked into the initial chain; the remaining
// reserve chunks stay unlinked until a caller hands them to
// SupplyCQChunk, exercising the chunk-available blocking path without
// resetting a chunk that still holds unread data.
func NewWithCQReserve(cfg Config, reserve int, observer kmetrics.Observer) (*Queue, error) {
	q, err := newUnlinked(cfg, observer)
	if err != nil {
		return nil, err
	}
	linked := cfg.NumCQChunks - reserve
	for i := 0; i < linked-1; i++ {
		q.setChunkNext(i, i+1, true)
	}
	for i := cfg.NumCQChunks; i < cfg.NumCQChunks+cfg.NumSQChunks-1; i++ {
		q.setChunkNext(i, i+1, true)
	}
	q.setChunkPresent(8, 0, true)
	q.setChunkPresent(12, cfg.NumCQChunks, true)
	q.cqTail = int64(linked - 1)
	q.sqTail = int64(cfg.NumCQChunks + cfg.NumSQChunks - 1)
	return q, nil
}

func newUnlinked(cfg Config, observer kmetrics.Observer) (*Queue, error) {
	if cfg.NumCQChunks <= 0 || cfg.NumSQChunks <= 0 || cfg.ChunkSize <= abi.ChunkControlSize {
		return nil, kerr.NewError("queue_create", kerr.KindIllegalArgument, "invalid queue geometry")
	}
	if observer == nil {
		observer = kmetrics.NoOpObserver{}
	}

	stride := abi.ChunkControlSize + cfg.ChunkSize
	total := abi.HeaderSize + (cfg.NumCQChunks+cfg.NumSQChunks)*stride

	mem, err := unix.Mmap(-1, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, kerr.WrapError("queue_create", err)
	}

	q := &Queue{
		mem:         mem,
		numCQChunks: cfg.NumCQChunks,
		numSQChunks: cfg.NumSQChunks,
		chunkSize:   cfg.ChunkSize,
		chunkStride: stride,
		cqCurrent:   -1,
		sqCurrent:   -1,
		observer:    observer,
	}
	return q, nil
}

// Close unmaps the queue's backing memory.
func (q *Queue) Close() error {
	return unix.Munmap(q.mem)
}

// Bytes exposes the raw backing memory, as a second process view of the
// same shared mapping would see it.
func (q *Queue) Bytes() []byte { return q.mem }

func (q *Queue) chunkOffset(globalIdx int) int {
	return abi.HeaderSize + globalIdx*q.chunkStride
}

func (q *Queue) wordAddr(byteOffset int) *uint32 {
	return (*uint32)(unsafe.Pointer(&q.mem[byteOffset]))
}

func (q *Queue) setChunkNext(globalIdx, targetIdx int, present bool) {
	off := q.chunkOffset(globalIdx)
	atomic.StoreUint32(q.wordAddr(off), abi.EncodeChunkRef(uint32(targetIdx), present))
}

func (q *Queue) setChunkPresent(headerFieldOffset, targetIdx int, present bool) {
	atomic.StoreUint32(q.wordAddr(headerFieldOffset), abi.EncodeChunkRef(uint32(targetIdx), present))
}

// waitPresent blocks until the chunk reference at addr has its present
// bit set, parking on a futex rather than spinning. notifyBit, when
// non-zero, is raised in kernel_notify before the final re-check and
// sleep, per the completion protocol's step 2.
func (q *Queue) waitPresent(addr *uint32, notifyBit uint32) (index uint32) {
	for {
		cur := atomic.LoadUint32(addr)
		if idx, present := abi.DecodeChunkRef(cur); present {
			return idx
		}
		if notifyBit != 0 {
			q.orKernelNotify(notifyBit)
		}
		cur = atomic.LoadUint32(addr)
		if idx, present := abi.DecodeChunkRef(cur); present {
			q.andKernelNotify(^notifyBit)
			return idx
		}
		_, _, errno := unix.Syscall(unix.SYS_FUTEX, uintptr(unsafe.Pointer(addr)), unix.FUTEX_WAIT, uintptr(cur))
		_ = errno // EAGAIN/EINTR both just mean re-check the loop condition
	}
}

func (q *Queue) kernelNotifyAddr() *uint32 { return q.wordAddr(0) }
func (q *Queue) userNotifyAddr() *uint32   { return q.wordAddr(4) }

// orBit atomically sets bit in *addr and reports whether it transitioned
// from clear to set (the edge the futex-wake protocols key off of).
func orBit(addr *uint32, bit uint32) (raised bool) {
	for {
		old := atomic.LoadUint32(addr)
		if old&bit != 0 {
			return false
		}
		if atomic.CompareAndSwapUint32(addr, old, old|bit) {
			return true
		}
	}
}

func andBit(addr *uint32, mask uint32) {
	for {
		old := atomic.LoadUint32(addr)
		if atomic.CompareAndSwapUint32(addr, old, old&mask) {
			return
		}
	}
}

func futexWake(addr *uint32) {
	unix.Syscall(unix.SYS_FUTEX, uintptr(unsafe.Pointer(addr)), unix.FUTEX_WAKE, ^uintptr(0))
}

func (q *Queue) orKernelNotify(bit uint32) { orBit(q.kernelNotifyAddr(), bit) }
func (q *Queue) andKernelNotify(mask uint32) { andBit(q.kernelNotifyAddr(), mask) }

// raiseUserNotify sets the cq_progress bit edge-triggered: it only wakes
// waiters on the transition from clear to set, matching invariant Q2.
func (q *Queue) raiseUserNotify() {
	addr := q.userNotifyAddr()
	if orBit(addr, abi.UserNotifyCQProgress) {
		futexWake(addr)
	}
}

// EnqueueCompletion writes one completion record {context, payload} and
// implements the six-step write protocol, including chunk rollover.
func (q *Queue) EnqueueCompletion(ctx uint64, payload []byte) error {
	total := abi.AlignUp8(abi.ElementHeaderSize + len(payload))
	if total > q.chunkSize {
		return kerr.NewError("ipc_enqueue", kerr.KindBufferTooSmall, "record exceeds chunk_size")
	}

	q.cqMu.Lock()
	defer q.cqMu.Unlock()

	if q.cqCurrent == -1 {
		idx := q.waitPresent(q.wordAddr(8), abi.KernelNotifySupplyCQ)
		q.cqCurrent = int(idx)
		q.cqProgress = 0
	}

	if int(q.cqProgress)+total > q.chunkSize {
		q.publishDone(q.cqCurrent, q.cqProgress)
		nextAddr := q.wordAddr(q.chunkOffset(q.cqCurrent))
		idx := q.waitPresent(nextAddr, abi.KernelNotifySupplyCQ)
		q.cqCurrent = int(idx)
		q.cqProgress = 0
	}

	chunkBase := q.chunkOffset(q.cqCurrent) + abi.ChunkControlSize
	recOff := chunkBase + int(q.cqProgress)
	abi.PutElementHeader(q.mem[recOff:recOff+abi.ElementHeaderSize], abi.ElementHeader{
		Length:  uint32(len(payload)),
		Opcode:  0,
		Context: ctx,
	})
	copy(q.mem[recOff+abi.ElementHeaderSize:], payload)

	newProgress := q.cqProgress + uint32(total)
	progressAddr := q.wordAddr(q.chunkOffset(q.cqCurrent) + 4)
	atomic.StoreUint32(progressAddr, abi.EncodeProgress(newProgress, false, false))
	q.cqProgress = newProgress

	q.raiseUserNotify()
	q.observer.ObserveIpcCompletion(uint64(len(payload)), 0)
	return nil
}

// publishDone marks chunk as exhausted at the given progress, release-
// ordered, and raises the user wakeup edge if it was not already raised.
func (q *Queue) publishDone(chunkIdx int, progress uint32) {
	progressAddr := q.wordAddr(q.chunkOffset(chunkIdx) + 4)
	atomic.StoreUint32(progressAddr, abi.EncodeProgress(progress, false, true))
	q.raiseUserNotify()
}

func (q *Queue) String() string {
	return fmt.Sprintf("ipcqueue{cq=%d sq=%d chunk=%d}", q.numCQChunks, q.numSQChunks, q.chunkSize)
}
