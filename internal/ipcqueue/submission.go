package ipcqueue

import (
	"sync/atomic"

	"github.com/corekernel/corekernel/internal/abi"
)

// Dispatch handles one submission record pulled off the SQ; it mirrors
// submit_from_sq(opcode, memory, offset, length, context) from the
// submission read protocol.
type Dispatch func(opcode uint32, payload []byte, context uint64)

// ProcessSubmissions implements the kernel side of the submission read
// protocol's three steps: clear kernel_notify.sq_progress, parse every
// record newly visible in the current SQ chunk, and relink any chunk
// marked done back onto the supply chain via user_notify.sq_supply.
func (q *Queue) ProcessSubmissions(dispatch Dispatch) {
	addr := q.kernelNotifyAddr()
	for {
		old := atomic.LoadUint32(addr)
		if old&abi.KernelNotifySQProgress == 0 {
			return
		}
		if atomic.CompareAndSwapUint32(addr, old, old&^abi.KernelNotifySQProgress) {
			break
		}
	}

	if q.sqCurrent == -1 {
		idx, present := abi.DecodeChunkRef(atomic.LoadUint32(q.wordAddr(12)))
		if !present {
			return
		}
		q.sqCurrent = int(idx)
		q.sqCursor = 0
	}

	for {
		progressWord := atomic.LoadUint32(q.wordAddr(q.chunkOffset(q.sqCurrent) + 4))
		progress, _, done := abi.DecodeProgress(progressWord)

		chunkBase := q.chunkOffset(q.sqCurrent) + abi.ChunkControlSize
		for q.sqCursor < progress {
			hdr := abi.GetElementHeader(q.mem[chunkBase+int(q.sqCursor) : chunkBase+int(q.sqCursor)+abi.ElementHeaderSize])
			payloadOff := chunkBase + int(q.sqCursor) + abi.ElementHeaderSize
			dispatch(hdr.Opcode, q.mem[payloadOff:payloadOff+int(hdr.Length)], hdr.Context)
			q.sqCursor += uint32(abi.AlignUp8(abi.ElementHeaderSize + int(hdr.Length)))
		}

		if !done {
			return
		}

		nextWord := atomic.LoadUint32(q.wordAddr(q.chunkOffset(q.sqCurrent)))
		nextIdx, present := abi.DecodeChunkRef(nextWord)

		q.relinkSQChunk(q.sqCurrent)

		if !present {
			q.sqCurrent = -1
			return
		}
		q.sqCurrent = int(nextIdx)
		q.sqCursor = 0
	}
}

// relinkSQChunk zeroes the processed chunk, appends it to the SQ chain
// via the tracked sqTail index (see cqTail's doc comment for why
// sq_first can't be walked directly), and raises user_notify.sq_supply
// edge-triggered so the user side knows a chunk is available to refill.
func (q *Queue) relinkSQChunk(idx int) {
	off := q.chunkOffset(idx)
	atomic.StoreUint32(q.wordAddr(off), 0)
	atomic.StoreUint32(q.wordAddr(off+4), 0)

	oldTail := int(atomic.SwapInt64(&q.sqTail, int64(idx)))
	atomic.StoreUint32(q.wordAddr(q.chunkOffset(oldTail)), abi.EncodeChunkRef(uint32(idx), true))

	userNotify := q.userNotifyAddr()
	if orBit(userNotify, abi.UserNotifySupplySQChunks) {
		futexWake(userNotify)
	}
}

// Submitter emulates the user side writing into the submission ring: it
// tracks its own write cursor, independent of the kernel's read cursor
// in Queue.sqCurrent/sqCursor, since the two sides advance at different
// rates across the same shared chunks.
type Submitter struct {
	q       *Queue
	current int
}

// NewSubmitter attaches a Submitter to queue's current sq_first chunk.
func NewSubmitter(q *Queue) *Submitter {
	idx, _ := abi.DecodeChunkRef(atomic.LoadUint32(q.wordAddr(12)))
	return &Submitter{q: q, current: int(idx)}
}

// Submit writes one submission record and raises kernel_notify.sq_progress
// edge-triggered, as the user side would before the kernel's next drain.
func (s *Submitter) Submit(opcode uint32, ctx uint64, payload []byte) error {
	q := s.q
	total := abi.AlignUp8(abi.ElementHeaderSize + len(payload))
	if total > q.chunkSize {
		return errTooLargeForChunk
	}
	if s.current == -1 {
		idx, present := abi.DecodeChunkRef(atomic.LoadUint32(q.wordAddr(12)))
		if !present {
			return errNoSQChunk
		}
		s.current = int(idx)
	}

	progressAddr := q.wordAddr(q.chunkOffset(s.current) + 4)
	progress, _, _ := abi.DecodeProgress(atomic.LoadUint32(progressAddr))
	if int(progress)+total > q.chunkSize {
		// Current chunk is full: mark it done and roll over to its
		// successor, mirroring the completion side's chunk rollover.
		atomic.StoreUint32(progressAddr, abi.EncodeProgress(progress, false, true))
		nextWord := atomic.LoadUint32(q.wordAddr(q.chunkOffset(s.current)))
		nextIdx, present := abi.DecodeChunkRef(nextWord)
		if !present {
			return errNoSQChunk
		}
		s.current = int(nextIdx)
		progressAddr = q.wordAddr(q.chunkOffset(s.current) + 4)
		progress, _, _ = abi.DecodeProgress(atomic.LoadUint32(progressAddr))
		if int(progress)+total > q.chunkSize {
			return errChunkFull
		}
	}

	chunkBase := q.chunkOffset(s.current) + abi.ChunkControlSize
	recOff := chunkBase + int(progress)
	abi.PutElementHeader(q.mem[recOff:recOff+abi.ElementHeaderSize], abi.ElementHeader{
		Length: uint32(len(payload)), Opcode: opcode, Context: ctx,
	})
	copy(q.mem[recOff+abi.ElementHeaderSize:], payload)

	atomic.StoreUint32(progressAddr, abi.EncodeProgress(progress+uint32(total), false, false))
	q.orKernelNotify(abi.KernelNotifySQProgress)
	return nil
}
