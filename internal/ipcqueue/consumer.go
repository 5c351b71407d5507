package ipcqueue

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/corekernel/corekernel/internal/abi"
)

// Completion is one record read off the completion ring by a Consumer.
type Completion struct {
	Context uint64
	Payload []byte
}

// Consumer emulates the userspace side of a Queue: it reads the same
// mmap'd bytes the producer wrote and never takes the producer's lock,
// matching invariant Q1 (a consumer never observes a torn record).
type Consumer struct {
	q         *Queue
	cqCurrent int
	cqCursor  uint32
}

// NewConsumer attaches a Consumer to queue's current cq_first chunk.
func NewConsumer(q *Queue) *Consumer {
	idx, _ := abi.DecodeChunkRef(atomic.LoadUint32(q.wordAddr(8)))
	return &Consumer{q: q, cqCurrent: int(idx)}
}

// WaitCompletions blocks until user_notify.cq_progress is raised, clears
// it (edge-triggered), and drains every record now visible, following
// next_word across chunk boundaries as needed.
func (c *Consumer) WaitCompletions() []Completion {
	addr := c.q.userNotifyAddr()
	for {
		old := atomic.LoadUint32(addr)
		if old&abi.UserNotifyCQProgress != 0 {
			break
		}
		unix.Syscall(unix.SYS_FUTEX, uintptr(unsafe.Pointer(addr)), unix.FUTEX_WAIT, uintptr(old))
	}
	c.clearCQProgressBit()
	return c.drain()
}

func (c *Consumer) clearCQProgressBit() {
	addr := c.q.userNotifyAddr()
	for {
		old := atomic.LoadUint32(addr)
		if atomic.CompareAndSwapUint32(addr, old, old&^abi.UserNotifyCQProgress) {
			return
		}
	}
}

// drain reads every record in [cqCursor, progress) of the current chunk,
// crossing into the successor chunk whenever the current one is marked
// done, until progress no longer exceeds the read cursor.
func (c *Consumer) drain() []Completion {
	var out []Completion
	for {
		progressWord := atomic.LoadUint32(c.q.wordAddr(c.q.chunkOffset(c.cqCurrent) + 4))
		progress, _, done := abi.DecodeProgress(progressWord)

		chunkBase := c.q.chunkOffset(c.cqCurrent) + abi.ChunkControlSize
		for c.cqCursor < progress {
			hdr := abi.GetElementHeader(c.q.mem[chunkBase+int(c.cqCursor) : chunkBase+int(c.cqCursor)+abi.ElementHeaderSize])
			payloadOff := chunkBase + int(c.cqCursor) + abi.ElementHeaderSize
			payload := append([]byte(nil), c.q.mem[payloadOff:payloadOff+int(hdr.Length)]...)
			out = append(out, Completion{Context: hdr.Context, Payload: payload})
			c.cqCursor += uint32(abi.AlignUp8(abi.ElementHeaderSize + int(hdr.Length)))
		}

		if !done {
			return out
		}

		finished := c.cqCurrent
		nextWord := atomic.LoadUint32(c.q.wordAddr(c.q.chunkOffset(c.cqCurrent)))
		nextIdx, present := abi.DecodeChunkRef(nextWord)
		if present {
			c.cqCurrent = int(nextIdx)
			c.cqCursor = 0
		}
		// finished has now been fully read; hand it back to the pool by
		// appending it to whatever chain gap currently exists (the tail
		// the producer is blocked on, if any). Since this only happens
		// after every byte in [0, progress) has been consumed, the
		// producer can never be given a chunk it might still overwrite
		// unread data in.
		c.q.SupplyCQChunk(finished)
		if !present {
			return out
		}
	}
}

// SupplyCQChunk resets chunkIdx (it must already be fully drained or
// never used) and appends it to the CQ chain via the queue's cqTail
// index, waking a producer blocked in waitPresent on the prior tail's
// next_word. Appending by tracked tail rather than walking from
// cq_first is necessary because the header's cq_first field is only
// meaningful for a producer's very first chunk acquisition; every
// rollover afterward follows a chunk's own next_word instead, so
// cq_first is never updated again.
func (q *Queue) SupplyCQChunk(chunkIdx int) {
	off := q.chunkOffset(chunkIdx)
	atomic.StoreUint32(q.wordAddr(off), 0)
	atomic.StoreUint32(q.wordAddr(off+4), 0)

	oldTail := int(atomic.SwapInt64(&q.cqTail, int64(chunkIdx)))
	tailAddr := q.wordAddr(q.chunkOffset(oldTail))
	atomic.StoreUint32(tailAddr, abi.EncodeChunkRef(uint32(chunkIdx), true))
	futexWake(tailAddr)
}
